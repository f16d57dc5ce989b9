package transport

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

const (
	// DefaultBaud is the factory baud rate of Zaber ASCII devices.
	DefaultBaud = 115200

	defaultPollInterval = 100 * time.Millisecond
)

// PortConfig describes a serial device. Zaber devices use 8N1.
type PortConfig struct {
	Name string
	Baud int

	// PollInterval is the read timeout of the OS port, used so Close can
	// stop the read loop. It is not the reply timeout.
	PollInterval time.Duration
}

// Open opens the named serial port and returns a Conn reading from it.
func Open(cfg PortConfig, opts ...Option) (*Conn, error) {
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}

	p, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Name,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.PollInterval,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, &ConnectionError{Op: "open " + cfg.Name, Err: err}
	}

	opts = append([]Option{WithPortName(cfg.Name)}, opts...)
	return NewConn(&serialPort{port: p}, opts...), nil
}

// serialPort hides read timeouts of the OS port from the read loop.
type serialPort struct {
	port   *serial.Port
	closed atomic.Bool
}

func (p *serialPort) Read(b []byte) (int, error) {
	for {
		n, err := p.port.Read(b)
		if n > 0 {
			return n, nil
		}
		if p.closed.Load() {
			return 0, io.EOF
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
	}
}

func (p *serialPort) Write(b []byte) (int, error) { return p.port.Write(b) }
func (p *serialPort) Flush() error                { return p.port.Flush() }

func (p *serialPort) Close() error {
	p.closed.Store(true)
	return p.port.Close()
}
