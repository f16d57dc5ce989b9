package trace

import "time"

// Event is a single line seen on the wire, or a port fault.
type Event struct {
	Timestamp time.Time

	// Seq numbers the events of one recording, starting at 1. It is
	// assigned by the Recorder.
	Seq uint64

	// SessionID identifies the transport session (UUID).
	SessionID string
	Direction Direction

	// Port is the serial device name, if known.
	Port string

	// Line is the raw text including its terminator.
	Line string

	// Error is set for read/write faults.
	Error string
}

// Direction is the side that produced a line.
type Direction uint8

const (
	DirectionIn Direction = iota
	DirectionOut
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	}
	return "UNKNOWN"
}

// Logger receives trace events. Implementations must be safe for
// concurrent use and should not block the connection.
type Logger interface {
	Log(Event)
}

// Func adapts a function to a Logger.
type Func func(Event)

func (fn Func) Log(e Event) { fn(e) }

// Discard drops every event.
var Discard Logger = Func(func(Event) {})

// Tee sends each event to every non-nil logger in order.
func Tee(loggers ...Logger) Logger {
	var ls []Logger
	for _, l := range loggers {
		if l != nil {
			ls = append(ls, l)
		}
	}
	return Func(func(e Event) {
		for _, l := range ls {
			l.Log(e)
		}
	})
}
