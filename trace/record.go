package trace

import (
	"time"
)

// magic starts every trace file, followed by one CBOR array per event.
const magic = "ztrace1\n"

type record struct {
	_ struct{} `cbor:",toarray"`

	Seq     uint64
	Time    int64
	Session string
	Dir     Direction
	Port    string
	Line    string
	Err     string
}

func toRecord(e Event) record {
	return record{
		Seq:     e.Seq,
		Time:    e.Timestamp.UnixNano(),
		Session: e.SessionID,
		Dir:     e.Direction,
		Port:    e.Port,
		Line:    e.Line,
		Err:     e.Error,
	}
}

func (r record) event() Event {
	return Event{
		Timestamp: time.Unix(0, r.Time).UTC(),
		Seq:       r.Seq,
		SessionID: r.Session,
		Direction: r.Dir,
		Port:      r.Port,
		Line:      r.Line,
		Error:     r.Err,
	}
}
