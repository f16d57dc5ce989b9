package zaber

import (
	"fmt"
	"strconv"
	"strings"
)

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

// Decode parses a single line received from a device. The line must
// include its "\r\n" terminator.
func Decode(line string) (Message, error) {
	if !strings.HasSuffix(line, "\r\n") {
		return nil, protocolErr(line, "missing terminator")
	}
	body := strings.TrimSuffix(line, "\r\n")
	if len(body) < 2 {
		return nil, protocolErr(line, "message too short")
	}
	start, body := body[0], body[1:]

	// a trailing ":XX" is a checksum
	if n := len(body); n >= 3 && body[n-3] == ':' && isHex(body[n-2]) && isHex(body[n-1]) {
		if !verifyChecksum(body[:n-3], body[n-2:]) {
			return nil, protocolErr(line, "bad checksum")
		}
		body = body[:n-3]
	}

	fields := strings.Fields(body)
	if len(fields) < 2 {
		return nil, protocolErr(line, "missing address")
	}
	dev, axis, err := parseAddress(fields[0], fields[1])
	if err != nil {
		return nil, protocolErr(line, "%s", err.Error())
	}
	fields = fields[2:]

	switch start {
	case '@':
		return decodeReply(line, dev, axis, fields)
	case '!':
		return decodeAlert(line, dev, axis, fields)
	case '#':
		return &Info{Device: dev, Axis: axis, Text: strings.Join(fields, " ")}, nil
	}
	return nil, protocolErr(line, "unknown message type %q", start)
}

func parseAddress(d, a string) (int, int, error) {
	if !isDigits(d) {
		return 0, 0, fmt.Errorf("invalid device %q", d)
	}
	if !isDigits(a) {
		return 0, 0, fmt.Errorf("invalid axis %q", a)
	}
	dev, _ := strconv.Atoi(d)
	axis, _ := strconv.Atoi(a)
	if dev > MaxDevice {
		return 0, 0, fmt.Errorf("device %d out of range", dev)
	}
	if axis > MaxAxis {
		return 0, 0, fmt.Errorf("axis %d out of range", axis)
	}
	return dev, axis, nil
}

func decodeReply(line string, dev, axis int, fields []string) (*Reply, error) {
	r := &Reply{Device: dev, Axis: axis}
	if len(fields) > 0 && isDigits(fields[0]) {
		id, _ := strconv.Atoi(fields[0])
		if id > MaxMessageID {
			return nil, protocolErr(line, "message id out of range")
		}
		r.HasID = true
		r.ID = id
		fields = fields[1:]
	}
	if len(fields) < 4 {
		return nil, protocolErr(line, "reply has %d fields, expected at least 4", len(fields))
	}

	switch ReplyFlag(fields[0]) {
	case FlagOK, FlagRejected:
		r.Flag = ReplyFlag(fields[0])
	default:
		return nil, protocolErr(line, "invalid reply flag %q", fields[0])
	}
	st, ok := parseStatus(fields[1])
	if !ok {
		return nil, protocolErr(line, "invalid status %q", fields[1])
	}
	r.Status = st
	ws, ok := parseFlag(fields[2])
	if !ok {
		return nil, protocolErr(line, "invalid warning flag %q", fields[2])
	}
	r.Warnings = ws
	r.Data = strings.Join(fields[3:], " ")
	return r, nil
}

func decodeAlert(line string, dev, axis int, fields []string) (*Alert, error) {
	if len(fields) < 2 {
		return nil, protocolErr(line, "alert has %d fields, expected at least 2", len(fields))
	}
	st, ok := parseStatus(fields[0])
	if !ok {
		return nil, protocolErr(line, "invalid status %q", fields[0])
	}
	ws, ok := parseFlag(fields[1])
	if !ok {
		return nil, protocolErr(line, "invalid warning flag %q", fields[1])
	}
	return &Alert{
		Device:   dev,
		Axis:     axis,
		Status:   st,
		Warnings: ws,
		Data:     strings.Join(fields[2:], " "),
	}, nil
}

func parseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusIdle, StatusBusy:
		return Status(s), true
	}
	return "", false
}
