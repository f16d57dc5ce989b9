package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mastercactapus/zstage/trace"
)

const (
	// DefaultTimeout bounds Receive when the context has no deadline.
	DefaultTimeout = time.Second

	maxLineLength = 4096
	lineBuffer    = 64
)

// Conn is a line oriented connection to a stage controller.
//
// A single read loop owns the reading side of the port; lines are kept
// with their terminator so framing can be verified by the caller.
type Conn struct {
	rw io.ReadWriter

	timeout time.Duration
	port    string
	session string
	trace   trace.Logger
	log     *slog.Logger

	lines   chan string
	closeCh chan struct{}
	doneCh  chan struct{}

	closeOnce sync.Once
	closeErr  error

	mx sync.Mutex

	errMx sync.Mutex
	err   error
}

// Option configures a Conn.
type Option func(*Conn)

// WithTimeout sets the default receive window.
func WithTimeout(d time.Duration) Option { return func(c *Conn) { c.timeout = d } }

// WithTrace reports every line sent and received to l.
func WithTrace(l trace.Logger) Option { return func(c *Conn) { c.trace = l } }

// WithPortName records the device name in trace events.
func WithPortName(name string) Option { return func(c *Conn) { c.port = name } }

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option { return func(c *Conn) { c.log = l } }

// NewConn creates a new Conn using the provided ReadWriter for data.
func NewConn(rw io.ReadWriter, opts ...Option) *Conn {
	c := &Conn{
		rw:      rw,
		timeout: DefaultTimeout,
		session: uuid.New().String(),
		trace:   trace.Discard,
		log:     slog.Default(),
		lines:   make(chan string, lineBuffer),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

// SessionID identifies this connection in trace output.
func (c *Conn) SessionID() string { return c.session }

// Timeout returns the default receive window.
func (c *Conn) Timeout() time.Duration { return c.timeout }

func splitLinesKeepN(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		// hand out the partial line, framing is checked by the decoder
		return len(data), data, nil
	}
	return 0, nil, nil
}

func (c *Conn) readLoop() {
	defer close(c.doneCh)

	scan := bufio.NewScanner(c.rw)
	scan.Buffer(make([]byte, 0, 256), maxLineLength)
	scan.Split(splitLinesKeepN)
	for scan.Scan() {
		line := scan.Text()
		c.record(trace.DirectionIn, line, nil)
		select {
		case c.lines <- line:
		case <-c.closeCh:
			return
		}
	}

	err := scan.Err()
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	select {
	case <-c.closeCh:
		// closed on purpose
		return
	default:
	}
	c.log.Error("ERROR: read from port", "port", c.port, "err", err)
	c.record(trace.DirectionIn, "", err)
	c.fail(&ConnectionError{Op: "read", Err: err})
}

func (c *Conn) record(dir trace.Direction, line string, err error) {
	e := trace.Event{
		Timestamp: time.Now(),
		SessionID: c.session,
		Direction: dir,
		Port:      c.port,
		Line:      line,
	}
	if err != nil {
		e.Error = err.Error()
	}
	c.trace.Log(e)
}

// fail records the first fatal error and closes the port.
func (c *Conn) fail(err error) {
	c.errMx.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errMx.Unlock()
	c.Close()
}

func (c *Conn) fault(op string) error {
	c.errMx.Lock()
	defer c.errMx.Unlock()
	if c.err != nil {
		return c.err
	}
	return &ConnectionError{Op: op, Err: ErrClosed}
}

// Open reports whether the connection is still usable.
func (c *Conn) Open() bool {
	select {
	case <-c.closeCh:
		return false
	default:
		return true
	}
}

// Send writes raw to the port, appending the line terminator if missing.
func (c *Conn) Send(raw string) error {
	if !c.Open() {
		return c.fault("send")
	}
	if !strings.HasSuffix(raw, "\n") {
		raw += "\n"
	}

	c.mx.Lock()
	_, err := io.WriteString(c.rw, raw)
	c.mx.Unlock()

	c.record(trace.DirectionOut, raw, err)
	if err != nil {
		c.log.Error("ERROR: write to port", "port", c.port, "err", err)
		cerr := &ConnectionError{Op: "send", Err: err}
		c.fail(cerr)
		return cerr
	}
	return nil
}

// Receive blocks for the next line. The wait is bounded by the context
// deadline, or by the default timeout when the context has none.
func (c *Conn) Receive(ctx context.Context) (string, error) {
	// buffered lines are served even after the port faulted
	select {
	case line := <-c.lines:
		return line, nil
	default:
	}
	if !c.Open() {
		return "", c.fault("receive")
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case line := <-c.lines:
		return line, nil
	case <-c.doneCh:
		select {
		case line := <-c.lines:
			return line, nil
		default:
		}
		return "", c.fault("receive")
	case <-c.closeCh:
		return "", c.fault("receive")
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", ctx.Err()
	}
}

// Flush discards buffered lines and the port's pending input, if the
// port supports it.
func (c *Conn) Flush() error {
	if f, ok := c.rw.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return &ConnectionError{Op: "flush", Err: err}
		}
	}
	for {
		select {
		case <-c.lines:
		default:
			return nil
		}
	}
}

// Close will stop the read loop and close the
// underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		if closer, ok := c.rw.(io.Closer); ok {
			c.closeErr = closer.Close()
		}
	})
	return c.closeErr
}
