package zaber

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Warning is a two letter warning flag reported by a device.
type Warning string

// NoWarning is the wire form of an empty warning flag.
const NoWarning = "--"

// Faults: the axis is unable to operate until the fault is cleared.
const (
	WarnCriticalSystemError Warning = "FF"
	WarnDriverDisabled      Warning = "FD"
	WarnEncoderError        Warning = "FQ"
	WarnStalled             Warning = "FS"
	WarnExcessiveTwist      Warning = "FT"
	WarnStreamBounds        Warning = "FB"
	WarnPathDeviation       Warning = "FP"
	WarnLimitError          Warning = "FE"
)

// Warnings: the device may not behave as expected.
const (
	WarnNotHomed            Warning = "WH"
	WarnNoReference         Warning = "WR"
	WarnUnexpectedLimit     Warning = "WL"
	WarnVoltageOutOfRange   Warning = "WV"
	WarnTemperatureHigh     Warning = "WT"
	WarnDisplacedStationary Warning = "WM"
)

// Notes: informational, never an error.
const (
	NoteManualControl        Warning = "NC"
	NoteCommandInterrupted   Warning = "NI"
	NoteStreamDiscontinuity  Warning = "ND"
	NoteSettingUpdatePending Warning = "NU"
)

var warningText = map[Warning]string{
	WarnCriticalSystemError: "critical system error",
	WarnDriverDisabled:      "driver disabled",
	WarnEncoderError:        "encoder error",
	WarnStalled:             "stalled and stopped",
	WarnExcessiveTwist:      "excessive twist",
	WarnStreamBounds:        "stream bounds error",
	WarnPathDeviation:       "interpolated path deviation",
	WarnLimitError:          "limit error",

	WarnNotHomed:            "device not homed",
	WarnNoReference:         "no reference position",
	WarnUnexpectedLimit:     "unexpected limit trigger",
	WarnVoltageOutOfRange:   "voltage out of range",
	WarnTemperatureHigh:     "system temperature high",
	WarnDisplacedStationary: "displaced when stationary",

	NoteManualControl:        "manual control",
	NoteCommandInterrupted:   "command interrupted",
	NoteStreamDiscontinuity:  "stream discontinuity",
	NoteSettingUpdatePending: "setting update pending",
}

// Valid reports whether w is syntactically a warning flag.
func (w Warning) Valid() bool {
	return len(w) == 2 && w[0] >= 'A' && w[0] <= 'Z' && w[1] >= 'A' && w[1] <= 'Z'
}

func (w Warning) IsFault() bool   { return len(w) == 2 && w[0] == 'F' }
func (w Warning) IsWarning() bool { return len(w) == 2 && w[0] == 'W' }
func (w Warning) IsNote() bool    { return len(w) == 2 && w[0] == 'N' }

// Description returns the vendor description, or "" for unknown codes.
func (w Warning) Description() string { return warningText[w] }

func (w Warning) String() string {
	if d := warningText[w]; d != "" {
		return string(w) + " (" + d + ")"
	}
	return string(w)
}

// rank orders flags by severity: faults, then warnings, then notes.
func (w Warning) rank() int {
	switch {
	case w.IsFault():
		return 0
	case w.IsWarning():
		return 1
	case w.IsNote():
		return 2
	}
	return 3
}

// Warnings is a set of active warning flags, most severe first.
type Warnings []Warning

// NewWarnings builds a normalized set from flags.
func NewWarnings(flags ...Warning) Warnings {
	if len(flags) == 0 {
		return nil
	}
	seen := make(map[Warning]bool, len(flags))
	res := make(Warnings, 0, len(flags))
	for _, w := range flags {
		if seen[w] {
			continue
		}
		seen[w] = true
		res = append(res, w)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].rank() != res[j].rank() {
			return res[i].rank() < res[j].rank()
		}
		return res[i] < res[j]
	})
	return res
}

func (ws Warnings) Empty() bool { return len(ws) == 0 }

func (ws Warnings) Has(w Warning) bool {
	for _, v := range ws {
		if v == w {
			return true
		}
	}
	return false
}

// Top returns the most severe flag, or "" when empty.
func (ws Warnings) Top() Warning {
	if len(ws) == 0 {
		return ""
	}
	return ws[0]
}

// Without returns the set minus the given flags.
func (ws Warnings) Without(flags ...Warning) Warnings {
	var res Warnings
	for _, w := range ws {
		drop := false
		for _, f := range flags {
			if w == f {
				drop = true
				break
			}
		}
		if !drop {
			res = append(res, w)
		}
	}
	return res
}

// Severe returns the faults and warnings in the set, skipping notes.
func (ws Warnings) Severe() Warnings {
	var res Warnings
	for _, w := range ws {
		if !w.IsNote() {
			res = append(res, w)
		}
	}
	return res
}

// Flag returns the reply flag field for the set.
func (ws Warnings) Flag() string {
	if len(ws) == 0 {
		return NoWarning
	}
	return string(ws[0])
}

func (ws Warnings) String() string {
	if len(ws) == 0 {
		return NoWarning
	}
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = string(w)
	}
	return strings.Join(parts, " ")
}

func parseFlag(s string) (Warnings, bool) {
	if s == NoWarning {
		return nil, true
	}
	w := Warning(s)
	if !w.Valid() {
		return nil, false
	}
	return Warnings{w}, true
}

// ParseWarnings decodes the data of a `warnings` reply: a two digit count
// followed by that many flags, e.g. "02 FS WR".
func ParseWarnings(data string) (Warnings, error) {
	fields := strings.Fields(data)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty warnings data")
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, fmt.Errorf("invalid warnings count %q", fields[0])
	}
	if n != len(fields)-1 {
		return nil, fmt.Errorf("warnings count %d does not match %d flags", n, len(fields)-1)
	}
	flags := make([]Warning, 0, n)
	for _, f := range fields[1:] {
		w := Warning(f)
		if !w.Valid() {
			return nil, fmt.Errorf("invalid warning flag %q", f)
		}
		flags = append(flags, w)
	}
	return NewWarnings(flags...), nil
}

// FormatWarnings is the inverse of ParseWarnings.
func FormatWarnings(ws Warnings) string {
	if len(ws) == 0 {
		return "00"
	}
	return fmt.Sprintf("%02d %s", len(ws), ws.String())
}
