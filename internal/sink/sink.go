// Package sink forwards classified records to the external recording service.
//
// A Handle is constructed once at startup and passed by value to every
// connection goroutine. Copying a Handle is the clone operation: all copies
// share the same underlying transport, and every transport in this package is
// safe for concurrent use without external locking. Delivery is best-effort;
// callers are expected to discard the error returned by Log.
package sink

import (
	"errors"

	"github.com/coffersTech/logrelay/internal/model"
	"github.com/coffersTech/logrelay/internal/session"
)

var (
	// ErrQueueFull is returned when a buffered transport drops a record.
	ErrQueueFull = errors.New("sink: queue full, record dropped")
	// ErrClosed is returned by Log after Close.
	ErrClosed = errors.New("sink: closed")
)

// TextLog is the payload logged against an entity.
type TextLog struct {
	Message string
	Level   model.Level
}

// Sink is a transport for text logs.
type Sink interface {
	// Log records text under the entity name. It must not block on the network.
	Log(entity string, text TextLog) error
	// Close flushes what the transport still holds and releases it.
	Close() error
}

// Handle binds a Sink to one recording session.
type Handle struct {
	session session.Session
	sink    Sink
}

// NewHandle returns a handle forwarding to s on behalf of sess.
func NewHandle(sess session.Session, s Sink) Handle {
	return Handle{session: sess, sink: s}
}

// Session returns the recording session this handle is bound to.
func (h Handle) Session() session.Session {
	return h.session
}

// Log forwards one record.
func (h Handle) Log(entity string, text TextLog) error {
	if h.sink == nil {
		return ErrClosed
	}
	return h.sink.Log(entity, text)
}

// LogRecord forwards r.
func (h Handle) LogRecord(r model.LogRecord) error {
	return h.Log(r.Source, TextLog{Message: r.Message, Level: r.Level})
}

// Close closes the underlying transport. It affects every copy of the handle.
func (h Handle) Close() error {
	if h.sink == nil {
		return nil
	}
	return h.sink.Close()
}

// wireRecord is the JSON form shared by the network transports.
type wireRecord struct {
	Timestamp int64       `json:"timestamp"`
	Entity    string      `json:"entity"`
	Level     model.Level `json:"level"`
	Message   string      `json:"message"`
	SessionID string      `json:"session_id"`
}
