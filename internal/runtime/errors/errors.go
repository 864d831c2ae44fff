package errors

import (
	sterrors "errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	ErrServiceRequired    = sterrors.New("tcpflow: service is required")
	ErrConfigRequired     = sterrors.New("tcpflow: config is required")
	ErrLoggerRequired     = sterrors.New("tcpflow: logger is required")
	ErrListenerRequired   = sterrors.New("tcpflow: event listener is required")
	ErrUnknownEvent       = sterrors.New("tcpflow: event kind is not supported")
	ErrHandlerRequired    = sterrors.New("tcpflow: handler method is required")
	ErrHandlerNameNeeded  = sterrors.New("tcpflow: handler name is required")
	ErrMessageTypeNeeded  = sterrors.New("tcpflow: message type is required")
	ErrMessagePointer     = sterrors.New("tcpflow: message type must be a pointer")
	ErrRouteConflict      = sterrors.New("tcpflow: route already registered")
	ErrNoRoute            = sterrors.New("tcpflow: protocol number is error")
	ErrHandlerContract    = sterrors.New("tcpflow: handler does not implement the handler contract")
	ErrInvalidPacket      = sterrors.New("tcpflow: data is error")
	ErrConnectionNotFound = sterrors.New("tcpflow: connection does not exist")
	ErrDatabaseRequired   = sterrors.New("tcpflow: transaction requested without a database")
	ErrContainerRequired  = sterrors.New("tcpflow: container is required")
	ErrUnknownHandler     = sterrors.New("tcpflow: handler is not registered")
	ErrPipeNotConfigured  = sterrors.New("tcpflow: pipe is not configured")
)

// ConnectionFatal marks protocol level failures after which the connection
// cannot be trusted anymore and must be closed.
type ConnectionFatal struct {
	Err error
}

func (e *ConnectionFatal) Error() string {
	return "connection fatal: " + e.Err.Error()
}

func (e *ConnectionFatal) Unwrap() error { return e.Err }

// NewConnectionFatal wraps err (with a stack trace) as a ConnectionFatal.
func NewConnectionFatal(err error) error {
	if err == nil {
		return nil
	}
	return &ConnectionFatal{Err: pkgerrors.WithStack(err)}
}

// ConnectionFatalf formats a ConnectionFatal around a sentinel.
func ConnectionFatalf(sentinel error, format string, args ...any) error {
	return NewConnectionFatal(fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...))
}

// BusinessError is an expected domain failure raised by handler code.
type BusinessError struct {
	Code    int
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error { return e.Err }

// NewBusinessError returns a BusinessError carrying a stack trace.
func NewBusinessError(code int, message string) error {
	return &BusinessError{Code: code, Message: message, Err: pkgerrors.New(message)}
}

// ConfigurationError reports invalid setup: bad config, unknown event kinds,
// conflicting routes.
type ConfigurationError struct {
	Err error
}

func (e ConfigurationError) Error() string {
	return "tcpflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigurationError) Unwrap() error { return e.Err }

// NewConfigurationError returns nil for a nil err.
func NewConfigurationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigurationError{Err: err}
}

// IsConnectionFatal reports whether err carries a ConnectionFatal.
func IsConnectionFatal(err error) bool {
	var target *ConnectionFatal
	return sterrors.As(err, &target)
}

// AsBusinessError extracts a BusinessError from err.
func AsBusinessError(err error) (*BusinessError, bool) {
	var target *BusinessError
	if sterrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var target ConfigurationError
	return sterrors.As(err, &target)
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// Trace renders err followed by the first stack recorded in its chain.
func Trace(err error) string {
	if err == nil {
		return ""
	}
	for e := err; e != nil; e = sterrors.Unwrap(e) {
		if st, ok := e.(stackTracer); ok {
			return fmt.Sprintf("%s%+v", err.Error(), st.StackTrace())
		}
	}
	return err.Error()
}
