package stage

import (
	"fmt"

	"github.com/mastercactapus/zstage/coord"
)

// NotHomedError is returned for a motion command on an axis that has no
// reference position. Nothing is sent to the device.
type NotHomedError struct {
	Axis  int
	State AxisState
}

func (e *NotHomedError) Error() string {
	return fmt.Sprintf("axis %d not homed (%s)", e.Axis, e.State)
}

// LimitError is returned when a target lies outside the configured limits.
// Nothing is sent to the device.
type LimitError struct {
	Name  string
	Value float64
	Min   float64
	Max   float64

	// Target is set when the point is outside the keep-in region.
	Target *coord.Point
}

func (e *LimitError) Error() string {
	if e.Target != nil {
		return fmt.Sprintf("target (%g, %g) outside keep-in region", e.Target.X, e.Target.Y)
	}
	return fmt.Sprintf("%s %g outside limits %g to %g", e.Name, e.Value, e.Min, e.Max)
}

// AxisError is returned for an axis the controller does not manage, or
// for axis 0 where a single axis is required. Nothing is sent to the device.
type AxisError struct {
	Axis int
	// Unknown is set when the axis is not managed by the controller.
	Unknown bool
	Op      string
}

func (e *AxisError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("unknown axis %d", e.Axis)
	}
	return fmt.Sprintf("%s: axis required", e.Op)
}
