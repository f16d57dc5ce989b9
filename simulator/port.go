package simulator

import (
	"bufio"
	"io"
	"sync"
)

// Port is the host side of a connection to a simulated device. It
// implements io.ReadWriteCloser and can be handed to transport.NewConn.
type Port struct {
	r *io.PipeReader // device output
	w *io.PipeWriter // device input

	closeOnce sync.Once
	done      chan struct{}
}

// Open starts serving d and returns the host side of the link.
func (d *Device) Open() *Port {
	hostR, devW := io.Pipe()
	devR, hostW := io.Pipe()
	p := &Port{r: hostR, w: hostW, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		defer devW.Close()
		scan := bufio.NewScanner(devR)
		for scan.Scan() {
			for _, line := range d.Handle(scan.Text()) {
				if _, err := io.WriteString(devW, line); err != nil {
					return
				}
			}
		}
	}()
	return p
}

func (p *Port) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *Port) Write(b []byte) (int, error) { return p.w.Write(b) }

// Close shuts down the link and waits for the device loop to exit.
func (p *Port) Close() error {
	p.closeOnce.Do(func() {
		p.w.Close()
		p.r.Close()
		<-p.done
	})
	return nil
}
