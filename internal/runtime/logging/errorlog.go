package logging

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	errspkg "github.com/drblury/tcpflow/internal/runtime/errors"
)

// Location is the file:line a log entry was written from.
type Location string

// Here returns the location of its caller.
func Here() Location {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return "unknown"
	}
	return Location(fmt.Sprintf("%s:%d", filepath.Base(file), line))
}

// ErrorLog writes the three error log flavours the request pipeline needs:
// unexpected exceptions, expected business failures, and plain error lines.
type ErrorLog struct {
	logger ServiceLogger
}

func NewErrorLog(logger ServiceLogger) *ErrorLog {
	if logger == nil {
		logger = NopLogger()
	}
	return &ErrorLog{logger: logger}
}

// WriteExceptionLog logs an unexpected error together with its stack.
func (l *ErrorLog) WriteExceptionLog(loc Location, err error, traceID string) {
	l.logger.Error("exception", err, l.fields(loc, err, traceID, true))
}

// WriteBusinessErrorLog logs an expected domain error.
func (l *ErrorLog) WriteBusinessErrorLog(loc Location, err error, traceID string) {
	fields := l.fields(loc, err, traceID, false)
	var busi *errspkg.BusinessError
	if errors.As(err, &busi) {
		fields["code"] = busi.Code
	}
	l.logger.Info("business exception", fields)
}

// WriteErrorLog logs a message that is not backed by an error value.
func (l *ErrorLog) WriteErrorLog(loc Location, message string) {
	l.logger.Error(message, nil, LogFields{"loc": string(loc)})
}

func (l *ErrorLog) fields(loc Location, err error, traceID string, withTrace bool) LogFields {
	fields := LogFields{"loc": string(loc)}
	if traceID != "" {
		fields["trace_id"] = traceID
	}
	if err != nil {
		fields["message"] = err.Error()
		if withTrace {
			fields["trace"] = errspkg.Trace(err)
		}
	}
	return fields
}
