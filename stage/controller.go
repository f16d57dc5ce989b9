package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mastercactapus/zstage/transport"
	"github.com/mastercactapus/zstage/zaber"
)

// DefaultPollInterval is the status polling period of WaitIdle.
const DefaultPollInterval = 20 * time.Millisecond

// Requester sends a command and returns the matching reply.
type Requester interface {
	Do(ctx context.Context, cmd zaber.Command) (*zaber.Reply, error)
}

// Controller tracks the axes of one device and issues motion commands.
type Controller struct {
	req    Requester
	device int
	poll   time.Duration
	log    *slog.Logger

	mx     sync.Mutex
	axes   map[int]AxisState
	states chan StateChange
}

// Option configures a Controller.
type Option func(*Controller)

// WithPollInterval sets the status polling period of WaitIdle.
func WithPollInterval(d time.Duration) Option { return func(c *Controller) { c.poll = d } }

// WithLogger sets the operational logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.log = l } }

// NewController creates a Controller for the given device axes. Every
// axis starts out uninitialized.
func NewController(req Requester, device int, axes []int, opts ...Option) *Controller {
	c := &Controller{
		req:    req,
		device: device,
		poll:   DefaultPollInterval,
		log:    slog.Default(),
		axes:   make(map[int]AxisState, len(axes)),
		states: make(chan StateChange, 16),
	}
	for _, a := range axes {
		c.axes[a] = Uninitialized
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Device returns the device address.
func (c *Controller) Device() int { return c.device }

// Axes returns the axis numbers in ascending order.
func (c *Controller) Axes() []int {
	c.mx.Lock()
	defer c.mx.Unlock()
	res := make([]int, 0, len(c.axes))
	for a := range c.axes {
		res = append(res, a)
	}
	sort.Ints(res)
	return res
}

// States returns a channel of state changes. Changes are dropped when
// nobody is reading.
func (c *Controller) States() <-chan StateChange { return c.states }

// State returns the current state of axis.
func (c *Controller) State(axis int) AxisState {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.axes[axis]
}

// targets returns the axes a command on axis applies to; axis 0 addresses
// the whole device.
func (c *Controller) targets(axis int) ([]int, error) {
	if axis == 0 {
		return c.Axes(), nil
	}
	c.mx.Lock()
	_, ok := c.axes[axis]
	c.mx.Unlock()
	if !ok {
		return nil, &AxisError{Axis: axis, Unknown: true}
	}
	return []int{axis}, nil
}

func (c *Controller) setState(axis int, s AxisState) {
	c.mx.Lock()
	from, ok := c.axes[axis]
	if !ok || from == s {
		c.mx.Unlock()
		return
	}
	c.axes[axis] = s
	c.mx.Unlock()

	c.log.Debug("axis state", "device", c.device, "axis", axis, "from", from.String(), "to", s.String())
	select {
	case c.states <- StateChange{Device: c.device, Axis: axis, From: from, To: s}:
	default:
	}
}

// transition moves every target in one of the from states to s.
func (c *Controller) transition(axes []int, s AxisState, from ...AxisState) {
	for _, a := range axes {
		cur := c.State(a)
		for _, f := range from {
			if cur == f {
				c.setState(a, s)
				break
			}
		}
	}
}

// observe applies a reported device status to the targets: IDLE completes
// homing and moves.
func (c *Controller) observe(axes []int, st zaber.Status) {
	if st == zaber.StatusIdle {
		c.transition(axes, Idle, Homing, Moving)
	}
}

func (c *Controller) send(ctx context.Context, axes []int, cmd zaber.Command, tolerate ...zaber.Warning) (*zaber.Reply, error) {
	r, err := c.req.Do(ctx, cmd)
	if err != nil {
		return r, err
	}
	c.observe(axes, r.Status)
	if err := zaber.CheckWarnings(cmd, r, tolerate...); err != nil {
		return r, err
	}
	return r, nil
}

// query is send for idempotent commands: retried once after a timeout.
func (c *Controller) query(ctx context.Context, axes []int, cmd zaber.Command, tolerate ...zaber.Warning) (*zaber.Reply, error) {
	r, err := c.send(ctx, axes, cmd, tolerate...)
	if errors.Is(err, transport.ErrTimeout) {
		c.log.Warn("query timed out, retrying", "cmd", cmd.String())
		r, err = c.send(ctx, axes, cmd, tolerate...)
	}
	return r, err
}

// Home homes axis, or every axis for axis 0, and returns once the
// targets are idle and referenced.
func (c *Controller) Home(ctx context.Context, axis int) error {
	if err := c.StartHome(ctx, axis); err != nil {
		return err
	}
	axes, err := c.targets(axis)
	if err != nil {
		return err
	}
	for _, a := range axes {
		if c.State(a) != Idle {
			return c.WaitIdle(ctx, axis)
		}
	}
	return nil
}

// StartHome starts the homing sequence of axis, or of every axis for axis
// 0, without waiting for it to finish. Busy targets are left in Homing.
func (c *Controller) StartHome(ctx context.Context, axis int) error {
	axes, err := c.targets(axis)
	if err != nil {
		return err
	}
	r, err := c.send(ctx, axes, zaber.NewCommand(c.device, axis, "home"), zaber.WarnNoReference, zaber.WarnNotHomed)
	if err != nil {
		return err
	}
	if r.Status == zaber.StatusBusy {
		for _, a := range axes {
			c.setState(a, Homing)
		}
	} else {
		for _, a := range axes {
			c.setState(a, Idle)
		}
	}
	return nil
}

func (c *Controller) move(ctx context.Context, axis int, kw string, v int64) error {
	if axis == 0 {
		return &AxisError{Op: kw}
	}
	axes, err := c.targets(axis)
	if err != nil {
		return err
	}
	if s := c.State(axis); !s.Referenced() {
		return &NotHomedError{Axis: axis, State: s}
	}
	_, err = c.send(ctx, axes, zaber.NewCommand(c.device, axis, kw, zaber.Int(v)))
	if err != nil {
		return err
	}
	c.setState(axis, Moving)
	return nil
}

// MoveAbsolute starts a move of axis to position, in device units.
func (c *Controller) MoveAbsolute(ctx context.Context, axis int, position int64) error {
	return c.move(ctx, axis, "move abs", position)
}

// MoveRelative starts a move of axis by delta, in device units.
func (c *Controller) MoveRelative(ctx context.Context, axis int, delta int64) error {
	return c.move(ctx, axis, "move rel", delta)
}

// Stop decelerates axis, or every axis for axis 0, to a halt. It is
// allowed in every state.
func (c *Controller) Stop(ctx context.Context, axis int) error {
	axes, err := c.targets(axis)
	if err != nil {
		return err
	}
	cmd := zaber.NewCommand(c.device, axis, "stop")
	r, err := c.req.Do(ctx, cmd)
	if err != nil {
		return err
	}

	// interrupted homing leaves no reference
	var rest []int
	for _, a := range axes {
		if c.State(a) == Homing {
			c.setState(a, Uninitialized)
			continue
		}
		rest = append(rest, a)
	}
	c.observe(rest, r.Status)
	return zaber.CheckWarnings(cmd, r, zaber.NoteCommandInterrupted, zaber.WarnNoReference, zaber.WarnNotHomed)
}

// Status queries the motion status of axis, or of the device for axis 0.
func (c *Controller) Status(ctx context.Context, axis int) (zaber.Status, error) {
	axes, err := c.targets(axis)
	if err != nil {
		return "", err
	}
	r, err := c.query(ctx, axes, zaber.NewCommand(c.device, axis, ""), zaber.WarnNoReference, zaber.WarnNotHomed)
	if err != nil {
		return "", err
	}
	return r.Status, nil
}

// Position returns the current position of axis, in device units.
func (c *Controller) Position(ctx context.Context, axis int) (int64, error) {
	if axis == 0 {
		return 0, &AxisError{Op: "get pos"}
	}
	axes, err := c.targets(axis)
	if err != nil {
		return 0, err
	}
	r, err := c.query(ctx, axes, zaber.NewCommand(c.device, axis, "get pos"), zaber.WarnNoReference, zaber.WarnNotHomed)
	if err != nil {
		return 0, err
	}
	return r.Int()
}

// Positions returns the position of every axis, as reported by a
// device scope query.
func (c *Controller) Positions(ctx context.Context) ([]int64, error) {
	r, err := c.query(ctx, c.Axes(), zaber.NewCommand(c.device, 0, "get pos"), zaber.WarnNoReference, zaber.WarnNotHomed)
	if err != nil {
		return nil, err
	}
	return r.Ints()
}

// Get reads a setting. Axis 0 returns one value per axis for axis scope
// settings.
func (c *Controller) Get(ctx context.Context, axis int, setting string) (*zaber.Reply, error) {
	axes, err := c.targets(axis)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, axes, zaber.NewCommand(c.device, axis, "get", zaber.Word(setting)), zaber.WarnNoReference, zaber.WarnNotHomed)
}

// Set writes a setting.
func (c *Controller) Set(ctx context.Context, axis int, setting string, v zaber.Param) error {
	axes, err := c.targets(axis)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, axes, zaber.NewCommand(c.device, axis, "set", zaber.Word(setting), v), zaber.WarnNoReference, zaber.WarnNotHomed)
	return err
}

// WaitIdle polls Status until axis reports IDLE.
func (c *Controller) WaitIdle(ctx context.Context, axis int) error {
	t := time.NewTicker(c.poll)
	defer t.Stop()
	for {
		st, err := c.Status(ctx, axis)
		if err != nil {
			return err
		}
		if st == zaber.StatusIdle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Sync reads the warning flags of every axis. Axes reporting neither WR
// nor WH keep their reference from a previous session and become IDLE.
func (c *Controller) Sync(ctx context.Context) (map[int]zaber.Warnings, error) {
	res := make(map[int]zaber.Warnings)
	for _, a := range c.Axes() {
		cmd := zaber.NewCommand(c.device, a, "warnings")
		r, err := c.req.Do(ctx, cmd)
		if errors.Is(err, transport.ErrTimeout) {
			r, err = c.req.Do(ctx, cmd)
		}
		if err != nil {
			return res, fmt.Errorf("read warnings of axis %d: %w", a, err)
		}
		ws, err := zaber.ParseWarnings(r.Data)
		if err != nil {
			return res, fmt.Errorf("read warnings of axis %d: %w", a, err)
		}
		res[a] = ws
		if ws.Has(zaber.WarnNoReference) || ws.Has(zaber.WarnNotHomed) {
			c.setState(a, Uninitialized)
			continue
		}
		if r.Status == zaber.StatusBusy {
			c.transition([]int{a}, Moving, Uninitialized)
		} else {
			c.transition([]int{a}, Idle, Uninitialized)
		}
	}
	return res, nil
}

// HandleMessage applies unsolicited messages from the device; it is meant
// to be installed as the client observer.
func (c *Controller) HandleMessage(m zaber.Message) {
	a, ok := m.(*zaber.Alert)
	if !ok || a.Device != c.device {
		return
	}
	axes, err := c.targets(a.Axis)
	if err != nil {
		return
	}
	if !a.Warnings.Severe().Empty() {
		c.log.Warn("device alert", "device", a.Device, "axis", a.Axis, "warnings", a.Warnings.String())
	}
	c.observe(axes, a.Status)
}
