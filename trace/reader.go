package trace

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
)

// Reader decodes a trace stream written by a Recorder.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader checks the trace header of r.
func NewReader(r io.Reader) (*Reader, error) {
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read trace header: %w", err)
	}
	if string(head) != magic {
		return nil, errors.New("not a trace file")
	}
	return &Reader{dec: cbor.NewDecoder(r)}, nil
}

// Next returns the next event, or io.EOF at the end of the stream.
func (r *Reader) Next() (Event, error) {
	var rec record
	if err := r.dec.Decode(&rec); err != nil {
		return Event{}, err
	}
	return rec.event(), nil
}

// ReadAll decodes every event from r.
func ReadAll(r io.Reader) ([]Event, error) {
	tr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	var events []Event
	for {
		e, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, fmt.Errorf("event %d: %w", len(events)+1, err)
		}
		events = append(events, e)
	}
}

// ReadFile decodes every event stored in the trace file at path.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadAll(f)
}
