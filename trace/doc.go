// Package trace captures every line exchanged with a stage controller.
//
// It is separate from operational logging: a trace is a complete record of
// the wire traffic of one or more sessions, for comparing against the
// vendor protocol manual. Trace files start with a short header followed by
// one CBOR array per event.
//
//	rec, _ := trace.Create("stage.ztrace")
//	conn := transport.NewConn(port, transport.WithTrace(trace.Tee(rec, trace.Slog(slog.Default()))))
package trace
