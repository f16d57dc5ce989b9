package transport

import (
	"errors"
)

var (
	// ErrTimeout is returned by Receive when no line arrives within the
	// configured window. The link may still be usable after resynchronizing.
	ErrTimeout = errors.New("timed out waiting for reply")

	// ErrClosed is wrapped in a ConnectionError after Close.
	ErrClosed = errors.New("connection closed")
)

// ConnectionError reports a fault of the underlying port. The connection
// is closed when one is returned and must be reopened.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return "connection " + e.Op + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }
