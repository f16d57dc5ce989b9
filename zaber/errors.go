package zaber

import (
	"fmt"
	"strings"
)

// EncodingError is returned when a command cannot be represented on the wire.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return "encode command: " + e.Reason
	}
	return fmt.Sprintf("encode command: %s: %s", e.Field, e.Reason)
}

func encodingErr(field, format string, args ...interface{}) *EncodingError {
	return &EncodingError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ProtocolError is returned for a line that does not decode to a valid
// message.
type ProtocolError struct {
	Line   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s (line %q)", e.Reason, e.Line)
}

func protocolErr(line, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

// StageError reports a command the device rejected, or a reply carrying an
// active fault or warning flag.
type StageError struct {
	Device  int
	Axis    int
	Command string

	Flag     ReplyFlag
	Status   Status
	Warnings Warnings

	// Reason is the reply data of a rejected command, e.g. BADDATA.
	Reason string
}

// Rejected reports whether the device answered RJ.
func (e *StageError) Rejected() bool { return e.Flag == FlagRejected }

// Code returns the vendor code: the rejection reason, or the most severe
// warning flag.
func (e *StageError) Code() string {
	if e.Rejected() {
		return e.Reason
	}
	return string(e.Warnings.Top())
}

func (e *StageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "device %d axis %d", e.Device, e.Axis)
	if e.Command != "" {
		fmt.Fprintf(&b, " %q", e.Command)
	}
	if e.Rejected() {
		b.WriteString(": rejected")
		if e.Reason != "" {
			b.WriteString(": " + e.Reason)
		}
		return b.String()
	}
	b.WriteString(": warning")
	for _, w := range e.Warnings {
		b.WriteString(" " + w.String())
	}
	return b.String()
}

// ReplyError builds the StageError for a rejected reply.
func ReplyError(cmd Command, r *Reply) *StageError {
	return &StageError{
		Device:   r.Device,
		Axis:     r.Axis,
		Command:  cmd.Keyword,
		Flag:     r.Flag,
		Status:   r.Status,
		Warnings: r.Warnings,
		Reason:   r.Data,
	}
}

// CheckWarnings returns a StageError when the reply carries a fault or
// warning flag not listed in tolerate. Notes never fail.
func CheckWarnings(cmd Command, r *Reply, tolerate ...Warning) error {
	active := r.Warnings.Severe().Without(tolerate...)
	if active.Empty() {
		return nil
	}
	return &StageError{
		Device:   r.Device,
		Axis:     r.Axis,
		Command:  cmd.Keyword,
		Flag:     r.Flag,
		Status:   r.Status,
		Warnings: active,
	}
}
