package trace

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

var errClosed = errors.New("trace closed")

// Recorder writes events to a trace stream. Each event is flushed as it is
// logged, so a trace survives a crash up to the last line.
type Recorder struct {
	mx  sync.Mutex
	w   io.Writer
	buf *bufio.Writer
	enc *cbor.Encoder
	seq uint64
	err error
}

// NewRecorder starts a trace stream on w.
func NewRecorder(w io.Writer) (*Recorder, error) {
	r := newRecorder(w)
	if _, err := r.buf.WriteString(magic); err != nil {
		return nil, err
	}
	if err := r.buf.Flush(); err != nil {
		return nil, err
	}
	return r, nil
}

func newRecorder(w io.Writer) *Recorder {
	buf := bufio.NewWriter(w)
	return &Recorder{w: w, buf: buf, enc: cbor.NewEncoder(buf)}
}

// Create opens path for appending events, starting a new trace file if it
// is missing or empty.
func Create(path string) (*Recorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() > 0 {
		return newRecorder(f), nil
	}
	r, err := NewRecorder(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// Log writes e with the next sequence number. Write errors stop the
// recording and are reported by Err and Close.
func (r *Recorder) Log(e Event) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.err != nil {
		return
	}
	r.seq++
	e.Seq = r.seq
	if err := r.enc.Encode(toRecord(e)); err != nil {
		r.err = err
		return
	}
	r.err = r.buf.Flush()
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.err == errClosed {
		return nil
	}
	return r.err
}

// Close stops the recording and closes the underlying writer if it is an
// io.Closer. Later Log calls are ignored.
func (r *Recorder) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.err == errClosed {
		return nil
	}
	err := r.err
	r.err = errClosed
	if c, ok := r.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
