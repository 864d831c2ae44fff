// Package pool manages database connection pools and hands out connections
// that are released after each handler call.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

var ErrNotInitialized = errors.New("pool: not initialized")

// Config describes one database pool.
type Config struct {
	Name            string
	Driver          string
	DSN             string
	Partition       int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Pool wraps a *sql.DB that is opened lazily by Init.
type Pool struct {
	cfg Config

	mu   sync.RWMutex
	db   *sql.DB
	errs []string
}

func New(cfg Config) *Pool {
	return &Pool{cfg: cfg}
}

// NewWithDB wraps an already opened database.
func NewWithDB(name string, db *sql.DB) *Pool {
	return &Pool{cfg: Config{Name: name}, db: db}
}

func (p *Pool) Name() string   { return p.cfg.Name }
func (p *Pool) Partition() int { return p.cfg.Partition }

// Init opens and pings the database. Failures are kept for Errors.
func (p *Pool) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		return nil
	}
	db, err := sql.Open(p.cfg.Driver, p.cfg.DSN)
	if err != nil {
		return p.fail(err)
	}
	if p.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(p.cfg.MaxOpenConns)
	}
	if p.cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(p.cfg.MaxIdleConns)
	}
	if p.cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return p.fail(err)
	}
	p.db = db
	return nil
}

func (p *Pool) fail(err error) error {
	err = fmt.Errorf("pool %s: %w", p.cfg.Name, err)
	p.errs = append(p.errs, err.Error())
	return err
}

// Errors returns the messages of every failed Init.
func (p *Pool) Errors() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.errs...)
}

// DB returns the underlying database, or nil before Init.
func (p *Pool) DB() *sql.DB {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.db
}

func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	db := p.DB()
	if db == nil {
		return nil, ErrNotInitialized
	}
	return db.BeginTx(ctx, opts)
}

// Acquire reserves a single connection. Collect returns it to the pool.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	db := p.DB()
	if db == nil {
		return nil, ErrNotInitialized
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn}, nil
}

func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// Conn is a pooled connection held for one handler call.
type Conn struct {
	*sql.Conn
	once sync.Once
}

// Collect releases the connection. Later calls do nothing.
func (c *Conn) Collect() {
	c.once.Do(func() {
		_ = c.Conn.Close()
	})
}
