// Package logtest provides a ServiceLogger that records entries for
// assertions in tests.
package logtest

import (
	"sync"

	loggingpkg "github.com/drblury/tcpflow/internal/runtime/logging"
)

// Entry is one recorded log line.
type Entry struct {
	Level  string
	Msg    string
	Err    error
	Fields loggingpkg.LogFields
}

// Recorder implements loggingpkg.ServiceLogger.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	base    loggingpkg.LogFields
}

func New() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) With(fields loggingpkg.LogFields) loggingpkg.ServiceLogger {
	return &Recorder{mu: r.mu, entries: r.entries, base: merge(r.base, fields)}
}

func (r *Recorder) Debug(msg string, fields loggingpkg.LogFields) { r.add("debug", msg, nil, fields) }
func (r *Recorder) Info(msg string, fields loggingpkg.LogFields)  { r.add("info", msg, nil, fields) }
func (r *Recorder) Trace(msg string, fields loggingpkg.LogFields) { r.add("trace", msg, nil, fields) }
func (r *Recorder) Error(msg string, err error, fields loggingpkg.LogFields) {
	r.add("error", msg, err, fields)
}

// Entries returns a copy of everything logged so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Find returns the first entry with the given message.
func (r *Recorder) Find(msg string) (Entry, bool) {
	for _, e := range r.Entries() {
		if e.Msg == msg {
			return e, true
		}
	}
	return Entry{}, false
}

func (r *Recorder) add(level, msg string, err error, fields loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Err: err, Fields: merge(r.base, fields)})
}

func merge(a, b loggingpkg.LogFields) loggingpkg.LogFields {
	out := make(loggingpkg.LogFields, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
