// Package spjs reaches a serial port shared by a Serial Port JSON Server
// (SPJS) over its websocket API.
package spjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// DataFrame carries serial data read from a port.
type DataFrame struct {
	Port string `json:"P"`
	Data string `json:"D"`
}

// ErrorMessage is sent by the server when a command fails.
type ErrorMessage struct {
	Error string
}

// CmdStatus reports the queue state of a sent command.
type CmdStatus struct {
	Cmd        string
	QueueCount int    `json:"QCnt"`
	Data       string `json:"D"`
	ID         string `json:"Id"`
}

// JSON is the payload of a sendjson command.
type JSON struct {
	Port string `json:"P"`
	Data []Data
}

// Data is one write in a sendjson command.
type Data struct {
	Data string `json:"D"`
	ID   string `json:"Id"`
}

func parseMessage(data []byte) (val interface{}, err error) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	check := func(fieldName string, v interface{}) bool {
		if msg[fieldName] == nil {
			return false
		}
		val = v
		err = json.Unmarshal(data, val)
		return true
	}
	if check("Error", &ErrorMessage{}) {
		return
	}
	if check("Cmd", &CmdStatus{}) {
		return
	}
	if check("D", &DataFrame{}) {
		return
	}
	return nil, errors.New("unknown message: " + string(data))
}

// Port is a serial port behind an SPJS server. It implements
// io.ReadWriteCloser and can be handed to transport.NewConn.
type Port struct {
	ws   *websocket.Conn
	name string
	log  *slog.Logger

	r *io.PipeReader
	w *io.PipeWriter

	wMx    sync.Mutex
	lastID int64

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the SPJS websocket at url and opens the named port.
func Dial(ctx context.Context, url, name string, baud int, logger *slog.Logger) (*Port, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", url, err)
	}
	r, w := io.Pipe()
	p := &Port{
		ws:   ws,
		name: name,
		log:  logger,
		r:    r,
		w:    w,
		done: make(chan struct{}),
	}
	if err := p.writeText(fmt.Sprintf("open %s %d default", name, baud)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	go p.readLoop()
	return p, nil
}

func (p *Port) writeText(s string) error {
	p.wMx.Lock()
	defer p.wMx.Unlock()
	return p.ws.WriteMessage(websocket.TextMessage, []byte(s))
}

func (p *Port) readLoop() {
	defer close(p.done)
	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			p.w.CloseWithError(err)
			return
		}
		if !bytes.HasPrefix(data, []byte("{")) {
			// ignore echo messages
			continue
		}
		val, err := parseMessage(data)
		if err != nil {
			p.log.Debug("spjs message ignored", "err", err)
			continue
		}
		switch m := val.(type) {
		case *ErrorMessage:
			p.log.Error("ERROR: spjs", "port", p.name, "err", m.Error)
		case *DataFrame:
			if m.Port != p.name {
				continue
			}
			if _, err := io.WriteString(p.w, m.Data); err != nil {
				return
			}
		}
	}
}

func (p *Port) Read(b []byte) (int, error) { return p.r.Read(b) }

// Write sends b to the port as a single sendjson command.
func (p *Port) Write(b []byte) (int, error) {
	id := atomic.AddInt64(&p.lastID, 1)
	data, err := json.Marshal(JSON{
		Port: p.name,
		Data: []Data{{Data: string(b), ID: "zs_" + strconv.FormatInt(id, 36)}},
	})
	if err != nil {
		return 0, err
	}
	if err := p.writeText("sendjson " + string(data)); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close releases the port on the server and closes the websocket.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.writeText("close " + p.name)
		err = p.ws.Close()
		p.r.Close()
		<-p.done
	})
	return err
}
