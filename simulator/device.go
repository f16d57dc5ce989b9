// Package simulator emulates a Zaber multi-axis device speaking the ASCII
// protocol, for tests and for running without hardware.
package simulator

import (
	"strings"
	"sync"

	"github.com/mastercactapus/zstage/zaber"
)

// Config describes the simulated device.
type Config struct {
	Device   int
	DeviceID int64
	// Travel is the maximum position of each axis, in data units.
	Travel []int64
	// BusyPolls is how many status replies a move or home stays BUSY.
	BusyPolls int
	// Referenced starts the axes homed.
	Referenced bool
	// Alerts sends an alert when an axis finishes moving.
	Alerts bool
}

// XADR130 returns the configuration of an X-ADR130B100B stage at address 1.
func XADR130() Config {
	return Config{
		Device:    1,
		DeviceID:  50998,
		Travel:    []int64{130000000, 100000000},
		BusyPolls: 2,
	}
}

const defaultMaxSpeed = 153600000

type axis struct {
	pos      int64
	target   int64
	busy     int
	homing   bool
	homed    bool
	maxspeed int64
	warnings zaber.Warnings
}

// Device is a simulated device. It is safe for concurrent use.
type Device struct {
	cfg Config

	mx       sync.Mutex
	axes     []*axis
	received []string
	drop     int
	omitCR   int
}

// New creates a simulated device.
func New(cfg Config) *Device {
	if cfg.Device == 0 {
		cfg.Device = 1
	}
	d := &Device{cfg: cfg}
	for range cfg.Travel {
		a := &axis{maxspeed: defaultMaxSpeed, homed: cfg.Referenced}
		if !cfg.Referenced {
			a.warnings = zaber.Warnings{zaber.WarnNoReference}
		}
		d.axes = append(d.axes, a)
	}
	return d
}

// DropReplies makes the device ignore the next n commands.
func (d *Device) DropReplies(n int) {
	d.mx.Lock()
	d.drop += n
	d.mx.Unlock()
}

// OmitCR sends the next n replies terminated by "\n" only.
func (d *Device) OmitCR(n int) {
	d.mx.Lock()
	d.omitCR += n
	d.mx.Unlock()
}

// SetWarning raises a warning flag on an axis (1-based).
func (d *Device) SetWarning(axisNum int, w zaber.Warning) {
	d.mx.Lock()
	defer d.mx.Unlock()
	a := d.axes[axisNum-1]
	a.warnings = zaber.NewWarnings(append(a.warnings, w)...)
}

// Position returns the position of an axis (1-based).
func (d *Device) Position(axisNum int) int64 {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.axes[axisNum-1].pos
}

// Received returns every command line the device has seen.
func (d *Device) Received() []string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return append([]string(nil), d.received...)
}

// Handle processes one command line and returns the lines the device
// sends in response.
func (d *Device) Handle(line string) []string {
	d.mx.Lock()
	defer d.mx.Unlock()

	d.received = append(d.received, strings.TrimRight(line, "\r\n"))
	cmd, err := zaber.ParseCommand(line)
	if err != nil {
		// devices ignore lines they cannot parse
		return nil
	}
	if cmd.Device != 0 && cmd.Device != d.cfg.Device {
		return nil
	}
	if d.drop > 0 {
		d.drop--
		return nil
	}

	checksum := strings.Contains(line, ":")
	var out []string
	r := d.exec(cmd, func(a *zaber.Alert) { out = append(out, a.Encode(checksum)) })
	r.Device = d.cfg.Device
	r.Axis = cmd.Axis
	r.HasID = cmd.HasID
	r.ID = cmd.ID
	reply := r.Encode(checksum)
	if d.omitCR > 0 {
		d.omitCR--
		reply = strings.TrimSuffix(reply, "\r\n") + "\n"
	}
	return append(out, reply)
}

// selected returns the axes addressed by a command.
func (d *Device) selected(axisNum int) []*axis {
	if axisNum == 0 {
		return d.axes
	}
	if axisNum > len(d.axes) {
		return nil
	}
	return d.axes[axisNum-1 : axisNum]
}

func status(axes []*axis) zaber.Status {
	for _, a := range axes {
		if a.busy > 0 {
			return zaber.StatusBusy
		}
	}
	return zaber.StatusIdle
}

func warnings(axes []*axis) zaber.Warnings {
	var ws []zaber.Warning
	for _, a := range axes {
		ws = append(ws, a.warnings...)
	}
	return zaber.NewWarnings(ws...)
}

func ok(axes []*axis, data string) *zaber.Reply {
	return &zaber.Reply{Flag: zaber.FlagOK, Status: status(axes), Warnings: warnings(axes), Data: data}
}

func rejected(axes []*axis, reason string) *zaber.Reply {
	return &zaber.Reply{Flag: zaber.FlagRejected, Status: status(axes), Warnings: warnings(axes), Data: reason}
}

// tick advances every busy axis by one poll.
func (d *Device) tick(alert func(*zaber.Alert)) {
	for i, a := range d.axes {
		if a.busy == 0 {
			continue
		}
		a.busy--
		if a.busy > 0 {
			continue
		}
		a.pos = a.target
		if a.homing {
			a.homing = false
			a.homed = true
			a.warnings = a.warnings.Without(zaber.WarnNoReference, zaber.WarnNotHomed)
		}
		if d.cfg.Alerts {
			alert(&zaber.Alert{Device: d.cfg.Device, Axis: i + 1, Status: zaber.StatusIdle, Warnings: a.warnings})
		}
	}
}

func (d *Device) busyPolls() int {
	if d.cfg.BusyPolls > 0 {
		return d.cfg.BusyPolls
	}
	return 1
}

func (d *Device) exec(cmd zaber.Command, alert func(*zaber.Alert)) *zaber.Reply {
	axes := d.selected(cmd.Axis)
	if axes == nil {
		return rejected(d.axes, "BADAXIS")
	}

	kw := cmd.Keyword
	if strings.HasPrefix(kw, "get ") {
		return d.get(strings.TrimPrefix(kw, "get "), axes)
	}
	if strings.HasPrefix(kw, "set ") {
		return d.set(strings.TrimPrefix(kw, "set "), cmd.Params, axes)
	}

	switch kw {
	case "":
		d.tick(alert)
		return ok(axes, "0")
	case "home":
		for _, a := range axes {
			a.target = 0
			a.busy = d.busyPolls()
			a.homing = true
		}
		return ok(axes, "0")
	case "move abs", "move rel":
		return d.move(cmd, axes)
	case "stop":
		interrupted := false
		for _, a := range axes {
			if a.busy > 0 {
				interrupted = true
				a.target = a.pos
				a.busy = 1
				a.homing = false
			}
		}
		r := ok(axes, "0")
		if interrupted {
			r.Warnings = zaber.NewWarnings(append(r.Warnings, zaber.NoteCommandInterrupted)...)
		}
		return r
	case "warnings", "warnings clear":
		r := ok(axes, zaber.FormatWarnings(warnings(axes)))
		if cmd.Keyword == "warnings clear" {
			for _, a := range axes {
				a.warnings = a.warnings.Severe()
			}
		}
		return r
	}
	return rejected(axes, "BADCOMMAND")
}

func (d *Device) move(cmd zaber.Command, axes []*axis) *zaber.Reply {
	if cmd.Axis == 0 {
		return rejected(axes, "BADAXIS")
	}
	a := axes[0]
	if len(cmd.Params) != 1 || cmd.Params[0].Kind != zaber.ParamInt {
		return rejected(axes, "BADDATA")
	}
	if !a.homed {
		return rejected(axes, "BADDATA")
	}
	if !a.warnings.Severe().Empty() {
		return rejected(axes, "STATUSBUSY")
	}
	target := cmd.Params[0].Int
	if cmd.Keyword == "move rel" {
		target += a.pos
	}
	if target < 0 || target > d.cfg.Travel[cmd.Axis-1] {
		return rejected(axes, "BADDATA")
	}
	a.target = target
	a.busy = d.busyPolls()
	return ok(axes, "0")
}

func (d *Device) get(setting string, axes []*axis) *zaber.Reply {
	var vals []int64
	switch setting {
	case "device.id":
		vals = []int64{d.cfg.DeviceID}
	case "pos":
		for _, a := range axes {
			vals = append(vals, a.pos)
		}
	case "maxspeed":
		for _, a := range axes {
			vals = append(vals, a.maxspeed)
		}
	default:
		return rejected(axes, "BADCOMMAND")
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = zaber.Int(v).String()
	}
	return ok(axes, strings.Join(parts, " "))
}

func (d *Device) set(setting string, params []zaber.Param, axes []*axis) *zaber.Reply {
	if setting != "maxspeed" {
		return rejected(axes, "BADCOMMAND")
	}
	if len(params) != 1 {
		return rejected(axes, "BADDATA")
	}
	v := params[0]
	var speed int64
	switch v.Kind {
	case zaber.ParamInt:
		speed = v.Int
	case zaber.ParamFloat:
		speed = int64(v.Float)
	default:
		return rejected(axes, "BADDATA")
	}
	if speed <= 0 {
		return rejected(axes, "BADDATA")
	}
	for _, a := range axes {
		a.maxspeed = speed
	}
	return ok(axes, "0")
}
