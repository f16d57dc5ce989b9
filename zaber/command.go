package zaber

import (
	"math"
	"strconv"
	"strings"
)

const (
	// MaxDevice is the highest device address; 0 addresses every device.
	MaxDevice = 99
	// MaxAxis is the highest axis number; 0 addresses the device itself.
	MaxAxis = 9
	// MaxMessageID is the highest message ID.
	MaxMessageID = 99

	floatPrecision = 6
)

// ParamKind identifies the type of a command parameter.
type ParamKind int

const (
	ParamInt ParamKind = iota
	ParamFloat
	ParamWord
)

// Param is a single command parameter.
type Param struct {
	Kind  ParamKind
	Int   int64
	Float float64
	Word  string
}

// Int returns an integer parameter.
func Int(v int64) Param { return Param{Kind: ParamInt, Int: v} }

// Float returns a decimal parameter.
func Float(v float64) Param { return Param{Kind: ParamFloat, Float: v} }

// Word returns a text parameter, e.g. a setting name.
func Word(s string) Param { return Param{Kind: ParamWord, Word: s} }

func (p Param) String() string {
	switch p.Kind {
	case ParamInt:
		return strconv.FormatInt(p.Int, 10)
	case ParamFloat:
		return formatFloat(p.Float, floatPrecision)
	}
	return p.Word
}

func (p Param) validate(strict32 bool) error {
	switch p.Kind {
	case ParamInt:
		if strict32 && (p.Int < math.MinInt32 || p.Int > math.MaxInt32) {
			return encodingErr("param", "%d outside device range", p.Int)
		}
	case ParamFloat:
		if math.IsNaN(p.Float) || math.IsInf(p.Float, 0) {
			return encodingErr("param", "%v is not finite", p.Float)
		}
		if strict32 && (p.Float < math.MinInt32 || p.Float > math.MaxInt32) {
			return encodingErr("param", "%v outside device range", p.Float)
		}
	case ParamWord:
		if p.Word == "" {
			return encodingErr("param", "empty word")
		}
		for i := 0; i < len(p.Word); i++ {
			if !isWordChar(p.Word[i]) {
				return encodingErr("param", "invalid character %q in %q", p.Word[i], p.Word)
			}
		}
	default:
		return encodingErr("param", "unknown kind %d", p.Kind)
	}
	return nil
}

func isWordChar(c byte) bool {
	if c <= ' ' || c > '~' {
		return false
	}
	switch c {
	case '/', '@', '#', '!', ':', '\\':
		return false
	}
	return true
}

func isKeywordChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '.' || c == '_'
}

// Command is a single request addressed to a device, or one of its axes.
type Command struct {
	Device int
	Axis   int

	HasID bool
	ID    int

	// Keyword is the command text, e.g. "move abs". Empty is a status query.
	Keyword string
	Params  []Param
}

// NewCommand creates a Command without a message ID.
func NewCommand(device, axis int, keyword string, params ...Param) Command {
	return Command{Device: device, Axis: axis, Keyword: keyword, Params: params}
}

// WithID returns a copy of c carrying the message ID.
func (c Command) WithID(id int) Command {
	c.HasID = true
	c.ID = id
	return c
}

// EncodeOptions controls command encoding.
type EncodeOptions struct {
	// Checksum appends the LRC to the line.
	Checksum bool
	// Strict32 limits numeric parameters to the firmware's signed 32-bit
	// data range.
	Strict32 bool
}

func (c Command) validate(strict32 bool) error {
	if c.Device < 0 || c.Device > MaxDevice {
		return encodingErr("device", "%d out of range 0-%d", c.Device, MaxDevice)
	}
	if c.Axis < 0 || c.Axis > MaxAxis {
		return encodingErr("axis", "%d out of range 0-%d", c.Axis, MaxAxis)
	}
	if c.HasID && (c.ID < 0 || c.ID > MaxMessageID) {
		return encodingErr("id", "%d out of range 0-%d", c.ID, MaxMessageID)
	}
	if c.Keyword != "" {
		for _, tok := range strings.Split(c.Keyword, " ") {
			if tok == "" {
				return encodingErr("keyword", "bad spacing in %q", c.Keyword)
			}
			if isNumber(tok) {
				return encodingErr("keyword", "numeric token %q", tok)
			}
			for i := 0; i < len(tok); i++ {
				if !isKeywordChar(tok[i]) {
					return encodingErr("keyword", "invalid character %q in %q", tok[i], c.Keyword)
				}
			}
		}
	} else if len(c.Params) > 0 {
		return encodingErr("keyword", "parameters without keyword")
	}
	for _, p := range c.Params {
		if err := p.validate(strict32); err != nil {
			return err
		}
	}
	return nil
}

func (c Command) body() string {
	var b strings.Builder
	if c.Device < 10 {
		b.WriteByte('0')
	}
	b.WriteString(strconv.Itoa(c.Device))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(c.Axis))
	if c.HasID {
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(c.ID))
	}
	if c.Keyword != "" {
		b.WriteByte(' ')
		b.WriteString(c.Keyword)
	}
	for _, p := range c.Params {
		b.WriteByte(' ')
		b.WriteString(p.String())
	}
	return b.String()
}

// Encode returns the wire form of c, including the trailing newline.
func (c Command) Encode(opts EncodeOptions) (string, error) {
	if err := c.validate(opts.Strict32); err != nil {
		return "", err
	}
	body := c.body()
	if opts.Checksum {
		return "/" + body + formatChecksum(body) + "\n", nil
	}
	return "/" + body + "\n", nil
}

// String returns the command line without terminator or checksum.
func (c Command) String() string { return "/" + c.body() }

// ParseCommand decodes a command line as a device would. A leading '/' and
// the terminator are optional; a checksum, if present, must match.
func ParseCommand(line string) (Command, error) {
	var c Command
	s := strings.TrimSpace(line)
	s = strings.TrimPrefix(s, "/")
	if i := strings.LastIndexByte(s, ':'); i >= 0 {
		if !verifyChecksum(s[:i], s[i+1:]) {
			return c, protocolErr(line, "bad checksum")
		}
		s = s[:i]
	}

	fields := strings.Fields(s)
	nums := make([]int, 0, 3)
	for len(fields) > 0 && len(nums) < 3 && isDigits(fields[0]) {
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			return c, protocolErr(line, "invalid address %q", fields[0])
		}
		nums = append(nums, n)
		fields = fields[1:]
	}
	switch len(nums) {
	case 3:
		c.HasID = true
		c.ID = nums[2]
		fallthrough
	case 2:
		c.Axis = nums[1]
		fallthrough
	case 1:
		c.Device = nums[0]
	}

	var kw []string
	for len(fields) > 0 && !isNumber(fields[0]) {
		kw = append(kw, fields[0])
		fields = fields[1:]
	}
	c.Keyword = strings.Join(kw, " ")

	for _, f := range fields {
		c.Params = append(c.Params, parseParam(f))
	}
	if err := c.validate(false); err != nil {
		return c, protocolErr(line, "%s", err.Error())
	}
	return c, nil
}

func parseParam(s string) Param {
	if isNumber(s) {
		if !strings.Contains(s, ".") {
			if v, err := strconv.ParseInt(s, 10, 64); err == nil {
				return Int(v)
			}
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(v)
		}
	}
	return Word(s)
}
