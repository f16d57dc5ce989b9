package zaber

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/zstage/transport"
)

// scriptTransport answers each sent line with whatever respond returns.
type scriptTransport struct {
	mx      sync.Mutex
	sent    []string
	pending []string
	flushed int
	closed  bool

	respond func(line string) []string
}

func (s *scriptTransport) Send(raw string) error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return &transport.ConnectionError{Op: "send", Err: transport.ErrClosed}
	}
	s.sent = append(s.sent, raw)
	if s.respond != nil {
		s.pending = append(s.pending, s.respond(raw)...)
	}
	return nil
}

func (s *scriptTransport) Receive(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if len(s.pending) == 0 {
		return "", transport.ErrTimeout
	}
	line := s.pending[0]
	s.pending = s.pending[1:]
	return line, nil
}

func (s *scriptTransport) Flush() error {
	s.mx.Lock()
	s.flushed++
	s.pending = nil
	s.mx.Unlock()
	return nil
}

func (s *scriptTransport) Close() error {
	s.mx.Lock()
	s.closed = true
	s.mx.Unlock()
	return nil
}

func (s *scriptTransport) push(lines ...string) {
	s.mx.Lock()
	s.pending = append(s.pending, lines...)
	s.mx.Unlock()
}

func (s *scriptTransport) Sent() []string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]string(nil), s.sent...)
}

// echoIdle replies OK IDLE to every command, echoing the address and ID.
func echoIdle(data string) func(string) []string {
	return func(line string) []string {
		c, err := ParseCommand(line)
		if err != nil {
			return nil
		}
		r := &Reply{Device: c.Device, Axis: c.Axis, HasID: c.HasID, ID: c.ID, Flag: FlagOK, Status: StatusIdle, Data: data}
		return []string{r.Encode(strings.Contains(line, ":"))}
	}
}

func TestClient_Do(t *testing.T) {
	tr := &scriptTransport{respond: echoIdle("65000000")}
	c := NewClient(tr)

	r, err := c.Do(context.Background(), NewCommand(1, 1, "get pos"))
	require.NoError(t, err)
	v, err := r.Int()
	require.NoError(t, err)
	assert.EqualValues(t, 65000000, v)
	assert.Equal(t, []string{"/01 1 get pos\n"}, tr.Sent())
}

func TestClient_DoChecksumAndIDs(t *testing.T) {
	tr := &scriptTransport{respond: echoIdle("0")}
	c := NewClient(tr, WithChecksum(), WithMessageIDs())

	for i := 0; i < 101; i++ {
		_, err := c.Do(context.Background(), NewCommand(1, 0, "get pos"))
		require.NoError(t, err)
	}
	sent := tr.Sent()
	assert.Equal(t, "/01 0 0 get pos:2D\n", sent[0])
	assert.True(t, strings.HasPrefix(sent[99], "/01 0 99 get pos:"))
	assert.True(t, strings.HasPrefix(sent[100], "/01 0 0 get pos:"))
}

func TestClient_DoRejected(t *testing.T) {
	tr := &scriptTransport{respond: func(string) []string {
		return []string{"@01 1 RJ IDLE -- BADDATA\r\n"}
	}}
	c := NewClient(tr)

	r, err := c.Do(context.Background(), NewCommand(1, 1, "move abs", Int(-1)))
	require.NotNil(t, r)
	var serr *StageError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Rejected())
	assert.Equal(t, "BADDATA", serr.Code())
	assert.Equal(t, "move abs", serr.Command)
}

func TestClient_DoRoutesAlerts(t *testing.T) {
	var got []Message
	tr := &scriptTransport{respond: func(string) []string {
		return []string{
			"!01 2 IDLE --\r\n",
			"@01 2 OK IDLE -- 0\r\n",
			"#01 1 stray text\r\n",
			"@01 1 OK BUSY -- 0\r\n",
		}
	}}
	c := NewClient(tr, WithObserver(func(m Message) { got = append(got, m) }))

	r, err := c.Do(context.Background(), NewCommand(1, 1, "move abs", Int(5)))
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, r.Status)
	require.Len(t, got, 2)
	assert.IsType(t, &Alert{}, got[0])
	assert.IsType(t, &Info{}, got[1])
}

func TestClient_DoMissingTerminator(t *testing.T) {
	tr := &scriptTransport{respond: func(string) []string {
		return []string{"@01 1 OK IDLE -- 0"}
	}}
	c := NewClient(tr)

	_, err := c.Do(context.Background(), NewCommand(1, 1, ""))
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)

	// the next request resynchronizes first
	tr.respond = echoIdle("0")
	_, err = c.Do(context.Background(), NewCommand(1, 1, "get pos"))
	require.NoError(t, err)
	assert.Equal(t, []string{"/01 1\n", "/01 0 0\n", "/01 1 get pos\n"}, tr.Sent())
	assert.Equal(t, 1, tr.flushed)
}

func TestClient_TimeoutResync(t *testing.T) {
	var drop bool
	tr := &scriptTransport{}
	tr.respond = func(line string) []string {
		if drop {
			drop = false
			return nil
		}
		return echoIdle("0")(line)
	}
	c := NewClient(tr)

	drop = true
	_, err := c.Do(context.Background(), NewCommand(1, 1, "get pos"))
	assert.True(t, errors.Is(err, transport.ErrTimeout), "got %v", err)
	assert.Equal(t, 1, tr.flushed)

	r, err := c.Do(context.Background(), NewCommand(1, 0, ""))
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, r.Status)
	assert.Equal(t, []string{"/01 1 get pos\n", "/01 0 0\n", "/01 0\n"}, tr.Sent())
}

func TestClient_ResyncFailsThenRetries(t *testing.T) {
	tr := &scriptTransport{}
	c := NewClient(tr)

	_, err := c.Do(context.Background(), NewCommand(1, 1, "get pos"))
	assert.True(t, errors.Is(err, transport.ErrTimeout))

	tr.respond = echoIdle("7")
	r, err := c.Do(context.Background(), NewCommand(1, 1, "get pos"))
	require.NoError(t, err)
	assert.Equal(t, "7", r.Data)
	assert.Equal(t, []string{"/01 1 get pos\n", "/01 0 0\n", "/01 0 1\n", "/01 1 get pos\n"}, tr.Sent())
}

func TestClient_LateReplyDuringResync(t *testing.T) {
	var n int
	tr := &scriptTransport{}
	tr.respond = func(line string) []string {
		n++
		switch n {
		case 1:
			return nil
		case 2:
			// the timed out reply shows up right after the resync query
			return append([]string{"@01 0 OK IDLE -- 65000000 50000000\r\n"}, echoIdle("0")(line)...)
		}
		return echoIdle("1000 2000")(line)
	}
	c := NewClient(tr)

	_, err := c.Do(context.Background(), NewCommand(1, 0, "get pos"))
	require.ErrorIs(t, err, transport.ErrTimeout)

	r, err := c.Do(context.Background(), NewCommand(1, 0, "get pos"))
	require.NoError(t, err)
	v, err := r.Ints()
	require.NoError(t, err)
	assert.Equal(t, []int64{1000, 2000}, v)
	assert.Equal(t, []string{"/01 0 get pos\n", "/01 0 0\n", "/01 0 get pos\n"}, tr.Sent())
}

func TestClient_CanceledResyncs(t *testing.T) {
	tr := &scriptTransport{respond: echoIdle("9")}
	c := NewClient(tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Do(ctx, NewCommand(1, 1, "get pos"))
	require.ErrorIs(t, err, context.Canceled)

	// the unread reply must not answer the next command
	tr.respond = echoIdle("5")
	r, err := c.Do(context.Background(), NewCommand(1, 1, "get pos"))
	require.NoError(t, err)
	assert.Equal(t, "5", r.Data)
	assert.Equal(t, []string{"/01 1 get pos\n", "/01 0 0\n", "/01 1 get pos\n"}, tr.Sent())
	assert.Equal(t, 1, tr.flushed)
}

func TestClient_DropsLateReply(t *testing.T) {
	tr := &scriptTransport{respond: func(line string) []string {
		return append([]string{"@01 2 OK IDLE -- 99\r\n"}, echoIdle("1")(line)...)
	}}
	c := NewClient(tr)

	r, err := c.Do(context.Background(), NewCommand(1, 1, "get pos"))
	require.NoError(t, err)
	assert.Equal(t, "1", r.Data)
}

func TestClient_DoLine(t *testing.T) {
	tr := &scriptTransport{respond: echoIdle("50998")}
	c := NewClient(tr)

	r, err := c.DoLine(context.Background(), "/1 0 get device.id")
	require.NoError(t, err)
	assert.Equal(t, "50998", r.Data)

	_, err = c.DoLine(context.Background(), "/1 0 get pos:00")
	assert.Error(t, err)
}

func TestClient_Listen(t *testing.T) {
	tr := &scriptTransport{}
	alerts := make(chan Message, 4)
	c := NewClient(tr, WithObserver(func(m Message) { alerts <- m }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Listen(ctx, time.Millisecond) }()

	tr.push("!01 1 IDLE --\r\n")
	select {
	case m := <-alerts:
		assert.Equal(t, &Alert{Device: 1, Axis: 1, Status: StatusIdle}, m)
	case <-time.After(time.Second):
		t.Fatal("no alert delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("listen did not return")
	}
}
