package stage

// AxisState is the controller's view of an axis.
type AxisState int

const (
	Uninitialized AxisState = iota
	Homing
	Idle
	Moving
)

func (s AxisState) String() string {
	switch s {
	case Uninitialized:
		return "UNINITIALIZED"
	case Homing:
		return "HOMING"
	case Idle:
		return "IDLE"
	case Moving:
		return "MOVING"
	}
	return "UNKNOWN"
}

// Referenced reports whether motion commands are allowed.
func (s AxisState) Referenced() bool { return s == Idle || s == Moving }

// MarshalText encodes the state name, for JSON output.
func (s AxisState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// StateChange is published whenever an axis changes state.
type StateChange struct {
	Device int       `json:"device"`
	Axis   int       `json:"axis"`
	From   AxisState `json:"from"`
	To     AxisState `json:"to"`
}
