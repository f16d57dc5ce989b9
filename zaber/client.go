package zaber

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mastercactapus/zstage/transport"
)

// Transport is a line oriented connection to one or more devices.
type Transport interface {
	Send(raw string) error
	Receive(ctx context.Context) (string, error)
	Flush() error
	Close() error
}

// Client sends commands and correlates replies. Only one command is in
// flight at a time.
type Client struct {
	conn Transport
	log  *slog.Logger
	opts EncodeOptions

	useIDs bool
	nextID int

	obsMx    sync.RWMutex
	observer func(Message)

	mx         sync.Mutex
	needResync bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithChecksum appends a checksum to every command.
func WithChecksum() ClientOption { return func(c *Client) { c.opts.Checksum = true } }

// WithMessageIDs tags every command with a message ID, cycling through 0-99.
func WithMessageIDs() ClientOption { return func(c *Client) { c.useIDs = true } }

// WithObserver sets the handler for alerts and info messages.
func WithObserver(fn func(Message)) ClientOption { return func(c *Client) { c.observer = fn } }

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) ClientOption { return func(c *Client) { c.log = l } }

// NewClient creates a Client using conn for I/O.
func NewClient(conn Transport, opts ...ClientOption) *Client {
	c := &Client{
		conn: conn,
		log:  slog.Default(),
		opts: EncodeOptions{Strict32: true},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetObserver replaces the handler for alerts and info messages. The
// handler is called from the goroutine reading the line and must not block.
func (c *Client) SetObserver(fn func(Message)) {
	c.obsMx.Lock()
	c.observer = fn
	c.obsMx.Unlock()
}

func (c *Client) notify(m Message) {
	c.obsMx.RLock()
	fn := c.observer
	c.obsMx.RUnlock()
	if fn == nil {
		c.log.Debug("unhandled message", "msg", fmt.Sprint(m))
		return
	}
	fn(m)
}

// Close closes the underlying transport.
func (c *Client) Close() error { return c.conn.Close() }

// Do sends cmd and waits for the matching reply.
//
// A rejected command returns the reply along with a *StageError. On timeout
// the client resynchronizes with the device before returning.
func (c *Client) Do(ctx context.Context, cmd Command) (*Reply, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if c.needResync {
		if err := c.resync(ctx, cmd.Device); err != nil {
			return nil, err
		}
	}

	r, err := c.do(ctx, cmd)
	switch {
	case errors.Is(err, transport.ErrTimeout):
		c.log.Warn("reply timeout, resynchronizing", "cmd", cmd.String())
		if rerr := c.resync(ctx, cmd.Device); rerr != nil {
			c.log.Error("ERROR: resynchronize", "device", cmd.Device, "err", rerr)
		}
		return nil, fmt.Errorf("await reply to %q: %w", cmd.String(), err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the reply may still arrive; clean up before the next command
		c.needResync = true
		return nil, err
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		c.needResync = true
	}
	return r, err
}

func (c *Client) takeID() int {
	id := c.nextID
	c.nextID = (c.nextID + 1) % (MaxMessageID + 1)
	return id
}

// DoLine parses a raw command line and sends it.
func (c *Client) DoLine(ctx context.Context, line string) (*Reply, error) {
	cmd, err := ParseCommand(line)
	if err != nil {
		return nil, err
	}
	return c.Do(ctx, cmd)
}

func (c *Client) do(ctx context.Context, cmd Command) (*Reply, error) {
	if c.useIDs && !cmd.HasID {
		cmd = cmd.WithID(c.takeID())
	}
	line, err := cmd.Encode(c.opts)
	if err != nil {
		return nil, err
	}
	if err := c.conn.Send(line); err != nil {
		return nil, err
	}

	for {
		raw, err := c.conn.Receive(ctx)
		if err != nil {
			return nil, err
		}
		msg, err := Decode(raw)
		if err != nil {
			c.log.Error("ERROR: decode reply", "cmd", cmd.String(), "err", err)
			return nil, err
		}
		r, ok := msg.(*Reply)
		if !ok {
			c.notify(msg)
			continue
		}
		if !matches(cmd, r) {
			c.log.Warn("dropped unmatched reply", "cmd", cmd.String(), "reply", r.String())
			continue
		}
		if r.Flag == FlagRejected {
			return r, ReplyError(cmd, r)
		}
		return r, nil
	}
}

func matches(cmd Command, r *Reply) bool {
	if cmd.Device != 0 && r.Device != cmd.Device {
		return false
	}
	if r.Axis != cmd.Axis {
		return false
	}
	if cmd.HasID != r.HasID {
		return false
	}
	return !cmd.HasID || cmd.ID == r.ID
}

// resync discards pending input and waits for a status reply so the next
// exchange starts clean. The status query always carries a message ID, so
// late replies to earlier commands are dropped rather than taken for its
// answer. It runs even if ctx was cancelled.
func (c *Client) resync(ctx context.Context, device int) error {
	c.needResync = true
	ctx = context.WithoutCancel(ctx)
	if err := c.conn.Flush(); err != nil {
		return err
	}
	if _, err := c.do(ctx, NewCommand(device, 0, "").WithID(c.takeID())); err != nil {
		var serr *StageError
		if !errors.As(err, &serr) {
			return fmt.Errorf("resynchronize: %w", err)
		}
	}
	c.needResync = false
	return nil
}

// Listen reads unsolicited messages while no command is in flight,
// passing alerts and info messages to the observer. It returns when ctx is
// done or the transport fails.
func (c *Client) Listen(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.poll(ctx, interval)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil, errors.Is(err, transport.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		default:
			var perr *ProtocolError
			if errors.As(err, &perr) {
				c.log.Error("ERROR: decode message", "err", err)
				continue
			}
			return err
		}
	}
}

func (c *Client) poll(ctx context.Context, interval time.Duration) error {
	c.mx.Lock()
	defer c.mx.Unlock()

	pctx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()
	raw, err := c.conn.Receive(pctx)
	if err != nil {
		return err
	}
	msg, err := Decode(raw)
	if err != nil {
		return err
	}
	if r, ok := msg.(*Reply); ok {
		c.log.Warn("dropped unmatched reply", "reply", r.String())
		return nil
	}
	c.notify(msg)
	return nil
}
