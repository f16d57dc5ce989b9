package zaber

import (
	"fmt"
	"strconv"
	"strings"
)

// ReplyFlag tells whether a command was accepted.
type ReplyFlag string

const (
	FlagOK       ReplyFlag = "OK"
	FlagRejected ReplyFlag = "RJ"
)

// Status is the motion status of a device or axis.
type Status string

const (
	StatusIdle Status = "IDLE"
	StatusBusy Status = "BUSY"
)

// Message is a line sent by a device: a Reply, an Alert or an Info.
type Message interface {
	// Address returns the device and axis the message came from.
	Address() (device, axis int)
	// Encode returns the wire form, including the terminator.
	Encode(checksum bool) string
}

// Reply is the direct answer to a command.
type Reply struct {
	Device int
	Axis   int

	HasID bool
	ID    int

	Flag     ReplyFlag
	Status   Status
	Warnings Warnings

	// Data is the response data; "0" when a command returns nothing.
	Data string
}

// Alert is an unsolicited message, typically sent when an axis stops.
type Alert struct {
	Device   int
	Axis     int
	Status   Status
	Warnings Warnings
	Data     string
}

// Info carries free text, such as help output or an echo.
type Info struct {
	Device int
	Axis   int
	Text   string
}

func (r *Reply) Address() (int, int) { return r.Device, r.Axis }
func (a *Alert) Address() (int, int) { return a.Device, a.Axis }
func (i *Info) Address() (int, int)  { return i.Device, i.Axis }

func (r *Reply) OK() bool   { return r.Flag == FlagOK }
func (r *Reply) Idle() bool { return r.Status == StatusIdle }

// Ints parses the data as a space separated list of integers.
func (r *Reply) Ints() ([]int64, error) {
	fields := strings.Fields(r.Data)
	if len(fields) == 0 {
		return nil, fmt.Errorf("reply has no data")
	}
	res := make([]int64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reply data %q: %w", r.Data, err)
		}
		res[i] = v
	}
	return res, nil
}

// Int parses the data as a single integer.
func (r *Reply) Int() (int64, error) {
	v, err := r.Ints()
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("expected 1 value in reply data %q, got %d", r.Data, len(v))
	}
	return v[0], nil
}

// Floats parses the data as a space separated list of decimals.
func (r *Reply) Floats() ([]float64, error) {
	fields := strings.Fields(r.Data)
	if len(fields) == 0 {
		return nil, fmt.Errorf("reply has no data")
	}
	res := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse reply data %q: %w", r.Data, err)
		}
		res[i] = v
	}
	return res, nil
}

// Float parses the data as a single decimal.
func (r *Reply) Float() (float64, error) {
	v, err := r.Floats()
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("expected 1 value in reply data %q, got %d", r.Data, len(v))
	}
	return v[0], nil
}

func finish(start byte, body string, checksum bool) string {
	if checksum {
		return string(start) + body + formatChecksum(body) + "\r\n"
	}
	return string(start) + body + "\r\n"
}

func (r *Reply) Encode(checksum bool) string {
	data := r.Data
	if data == "" {
		data = "0"
	}
	var id string
	if r.HasID {
		id = strconv.Itoa(r.ID) + " "
	}
	body := fmt.Sprintf("%02d %d %s%s %s %s %s", r.Device, r.Axis, id, r.Flag, r.Status, r.Warnings.Flag(), data)
	return finish('@', body, checksum)
}

func (a *Alert) Encode(checksum bool) string {
	body := fmt.Sprintf("%02d %d %s %s", a.Device, a.Axis, a.Status, a.Warnings.Flag())
	if a.Data != "" {
		body += " " + a.Data
	}
	return finish('!', body, checksum)
}

func (i *Info) Encode(checksum bool) string {
	body := fmt.Sprintf("%02d %d", i.Device, i.Axis)
	if i.Text != "" {
		body += " " + i.Text
	}
	return finish('#', body, checksum)
}

func (r *Reply) String() string { return strings.TrimSuffix(r.Encode(false), "\r\n") }
func (a *Alert) String() string { return strings.TrimSuffix(a.Encode(false), "\r\n") }
func (i *Info) String() string  { return strings.TrimSuffix(i.Encode(false), "\r\n") }
