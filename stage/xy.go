package stage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mastercactapus/zstage/coord"
	"github.com/mastercactapus/zstage/zaber"
)

const (
	AxisX = 1
	AxisY = 2

	MinSpeed = 0.01
	MaxSpeed = 750.0

	// DefaultMaxSpeed is applied by Startup when none is configured.
	DefaultMaxSpeed = 100.0
)

// Profile describes a stage model.
type Profile struct {
	DeviceID int64
	Name     string
	Travel   coord.Limits
}

// XADR130 is the Zaber X-ADR130B100B XY microscope stage.
var XADR130 = Profile{
	DeviceID: 50998,
	Name:     "X-ADR130B100B-SAE53D12",
	Travel:   coord.Limits{Max: coord.Point{X: 130, Y: 100}},
}

var profiles = map[int64]Profile{
	XADR130.DeviceID: XADR130,
}

// LookupProfile returns the profile for a device.id value.
func LookupProfile(id int64) (Profile, bool) {
	p, ok := profiles[id]
	return p, ok
}

// XYConfig configures an XY stage.
type XYConfig struct {
	// Limits restricts travel, in mm. The zero value allows the full travel.
	Limits coord.Limits
	// Region further restricts targets to a keep-in polygon.
	Region *coord.Region
	// MaxSpeed is applied by Startup, in mm/s; 0 selects DefaultMaxSpeed.
	MaxSpeed float64
}

// XY drives the two axes of an XY stage in millimetres.
type XY struct {
	*Controller

	profile Profile
	limits  coord.Limits
	region  *coord.Region
	speed   float64
	log     *slog.Logger
}

// NewXY creates an XY stage on top of ctrl, which must manage axes 1 and 2.
func NewXY(ctrl *Controller, profile Profile, cfg XYConfig) (*XY, error) {
	l := cfg.Limits
	if l == (coord.Limits{}) {
		l = profile.Travel
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("limits: %w", err)
	}
	if !l.Within(profile.Travel) {
		return nil, fmt.Errorf("limits %v outside %s travel %v", l, profile.Name, profile.Travel)
	}
	speed := cfg.MaxSpeed
	if speed == 0 {
		speed = DefaultMaxSpeed
	}
	if err := checkSpeed("maxspeed", speed); err != nil {
		return nil, err
	}
	for _, a := range []int{AxisX, AxisY} {
		if _, err := ctrl.targets(a); err != nil {
			return nil, err
		}
	}
	return &XY{
		Controller: ctrl,
		profile:    profile,
		limits:     l,
		region:     cfg.Region,
		speed:      speed,
		log:        ctrl.log,
	}, nil
}

// Limits returns the travel limits in mm.
func (s *XY) Limits() coord.Limits { return s.limits }

// Profile returns the stage model.
func (s *XY) Profile() Profile { return s.profile }

// Discover broadcasts a device.id query and returns the address and ID of
// the first device to answer.
func Discover(ctx context.Context, req Requester) (device int, id int64, err error) {
	r, err := req.Do(ctx, zaber.NewCommand(0, 0, "get", zaber.Word("device.id")))
	if err != nil {
		return 0, 0, err
	}
	id, err = r.Int()
	if err != nil {
		return 0, 0, err
	}
	return r.Device, id, nil
}

// Identify checks that the device is the expected model.
func (s *XY) Identify(ctx context.Context) (string, error) {
	r, err := s.Get(ctx, 0, "device.id")
	if err != nil {
		return "", err
	}
	id, err := r.Int()
	if err != nil {
		return "", err
	}
	p, ok := LookupProfile(id)
	if !ok || id != s.profile.DeviceID {
		return "", fmt.Errorf("device id %d not recognised", id)
	}
	return p.Name, nil
}

func (s *XY) check(p coord.Point) error {
	if p.X < s.limits.Min.X || p.X > s.limits.Max.X {
		return &LimitError{Name: "x", Value: p.X, Min: s.limits.Min.X, Max: s.limits.Max.X}
	}
	if p.Y < s.limits.Min.Y || p.Y > s.limits.Max.Y {
		return &LimitError{Name: "y", Value: p.Y, Min: s.limits.Min.Y, Max: s.limits.Max.Y}
	}
	if s.region != nil && !s.region.Contains(p) {
		return &LimitError{Target: &p}
	}
	return nil
}

// MoveMM moves to (x, y) in mm, or by (x, y) when relative is set. Targets
// outside the limits fail with a *LimitError before anything is sent. With
// block set, MoveMM returns once both axes are idle.
func (s *XY) MoveMM(ctx context.Context, x, y float64, relative, block bool) error {
	for _, a := range []int{AxisX, AxisY} {
		if st := s.State(a); !st.Referenced() {
			return &NotHomedError{Axis: a, State: st}
		}
	}

	target := coord.Point{X: x, Y: y}
	var cur coord.Point
	if relative {
		var err error
		cur, err = s.PositionMM(ctx)
		if err != nil {
			return err
		}
		target = cur.Add(target)
	}
	if err := s.check(target); err != nil {
		return err
	}
	s.log.Debug("move", "x", target.X, "y", target.Y, "relative", relative)

	if relative {
		if err := s.MoveRelative(ctx, AxisX, MMToUnits(target.X)-MMToUnits(cur.X)); err != nil {
			return err
		}
		if err := s.MoveRelative(ctx, AxisY, MMToUnits(target.Y)-MMToUnits(cur.Y)); err != nil {
			return err
		}
	} else {
		if err := s.MoveAbsolute(ctx, AxisX, MMToUnits(target.X)); err != nil {
			return err
		}
		if err := s.MoveAbsolute(ctx, AxisY, MMToUnits(target.Y)); err != nil {
			return err
		}
	}
	if !block {
		return nil
	}
	return s.WaitIdle(ctx, 0)
}

// PositionMM returns the current position in mm.
func (s *XY) PositionMM(ctx context.Context) (coord.Point, error) {
	v, err := s.Positions(ctx)
	if err != nil {
		return coord.Point{}, err
	}
	if len(v) != 2 {
		return coord.Point{}, fmt.Errorf("expected 2 positions, got %d", len(v))
	}
	return coord.Point{X: UnitsToMM(v[0]), Y: UnitsToMM(v[1])}, nil
}

// MaxSpeed returns the maximum speed of both axes in mm/s.
func (s *XY) MaxSpeed(ctx context.Context) (x, y float64, err error) {
	r, err := s.Get(ctx, 0, "maxspeed")
	if err != nil {
		return 0, 0, err
	}
	v, err := r.Ints()
	if err != nil {
		return 0, 0, err
	}
	if len(v) != 2 {
		return 0, 0, fmt.Errorf("expected 2 speeds, got %d", len(v))
	}
	return UnitsToSpeed(v[0]), UnitsToSpeed(v[1]), nil
}

func checkSpeed(name string, v float64) error {
	if v < MinSpeed || v > MaxSpeed {
		return &LimitError{Name: name, Value: v, Min: MinSpeed, Max: MaxSpeed}
	}
	return nil
}

// SetMaxSpeed sets the maximum speed of both axes in mm/s and verifies
// the values by reading them back.
func (s *XY) SetMaxSpeed(ctx context.Context, x, y float64) error {
	if err := checkSpeed("x maxspeed", x); err != nil {
		return err
	}
	if err := checkSpeed("y maxspeed", y); err != nil {
		return err
	}
	if err := s.Set(ctx, AxisX, "maxspeed", zaber.Int(SpeedToUnits(x))); err != nil {
		return err
	}
	if err := s.Set(ctx, AxisY, "maxspeed", zaber.Int(SpeedToUnits(y))); err != nil {
		return err
	}
	gx, gy, err := s.MaxSpeed(ctx)
	if err != nil {
		return err
	}
	if UnitsToSpeed(SpeedToUnits(x)) != gx || UnitsToSpeed(SpeedToUnits(y)) != gy {
		return fmt.Errorf("maxspeed read back (%g, %g), expected (%g, %g)", gx, gy, x, y)
	}
	return nil
}

// Startup brings the stage to a known state: it checks the model, homes
// the axes if they lost their reference, reads the position and applies
// the configured maximum speed.
func (s *XY) Startup(ctx context.Context) (coord.Point, error) {
	name, err := s.Identify(ctx)
	if err != nil {
		return coord.Point{}, err
	}
	s.log.Info("stage identified", "device", s.device, "name", name)

	if _, err := s.Status(ctx, 0); err != nil {
		return coord.Point{}, err
	}
	if _, err := s.Sync(ctx); err != nil {
		return coord.Point{}, err
	}
	if !s.State(AxisX).Referenced() || !s.State(AxisY).Referenced() {
		s.log.Info("homing", "device", s.device)
		if err := s.Home(ctx, 0); err != nil {
			return coord.Point{}, err
		}
		warn, err := s.Sync(ctx)
		if err != nil {
			return coord.Point{}, err
		}
		for a, ws := range warn {
			if sev := ws.Severe(); !sev.Empty() {
				return coord.Point{}, fmt.Errorf("axis %d reports %s after homing", a, sev)
			}
		}
	}

	pos, err := s.PositionMM(ctx)
	if err != nil {
		return coord.Point{}, err
	}
	if err := s.SetMaxSpeed(ctx, s.speed, s.speed); err != nil {
		return coord.Point{}, err
	}
	s.log.Info("stage ready", "x", pos.X, "y", pos.Y, "maxspeed", s.speed)
	return pos, nil
}
