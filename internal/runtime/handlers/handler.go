// Package handlers resolves and invokes business handlers for decoded
// packets.
package handlers

import (
	"context"
	"database/sql"
)

// Handler is the capability every resolved handler instance must have.
type Handler interface {
	SetClientIP(ip string)
}

// Base can be embedded to satisfy Handler.
type Base struct {
	clientIP string
}

func (b *Base) SetClientIP(ip string) { b.clientIP = ip }

func (b *Base) ClientIP() string { return b.clientIP }

// TxBeginner opens transactions. *sql.DB, *sql.Conn and pool.Pool satisfy it.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Collector is implemented by dependencies that must be released
// explicitly once the handler call finishes.
type Collector interface {
	Collect()
}

// Keywords describe how a handler method is invoked.
type Keywords struct {
	Extra           map[string]any
	OpenTransaction bool
	Database        TxBeginner
	TxOptions       *sql.TxOptions
}

// Container resolves handler instances and their invocation keywords.
type Container interface {
	Keywords(ctx context.Context, handler, method string) (Keywords, error)
	Get(ctx context.Context, handler, traceID, spanID string, extra map[string]any) (any, error)
}

type ctxKey int

const (
	txKey ctxKey = iota
	connectionKey
	traceKey
)

// WithTx stores the active transaction in ctx.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey, tx)
}

// Tx returns the transaction opened for the current handler call, if any.
func Tx(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok && tx != nil
}

func WithConnectionID(ctx context.Context, id uint64) context.Context {
	return context.WithValue(ctx, connectionKey, id)
}

// ConnectionID returns the id of the connection the request arrived on.
func ConnectionID(ctx context.Context) uint64 {
	id, _ := ctx.Value(connectionKey).(uint64)
	return id
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey, traceID)
}

func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey).(string)
	return id
}
