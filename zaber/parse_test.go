package zaber

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Reply(t *testing.T) {
	msg, err := Decode("@01 0 OK IDLE -- 0\r\n")
	require.NoError(t, err)
	r, ok := msg.(*Reply)
	require.True(t, ok)
	assert.Equal(t, &Reply{Device: 1, Flag: FlagOK, Status: StatusIdle, Data: "0"}, r)

	msg, err = Decode("@01 1 12 RJ BUSY WR BADDATA\r\n")
	require.NoError(t, err)
	r = msg.(*Reply)
	assert.True(t, r.HasID)
	assert.Equal(t, 12, r.ID)
	assert.Equal(t, 1, r.Axis)
	assert.Equal(t, FlagRejected, r.Flag)
	assert.Equal(t, StatusBusy, r.Status)
	assert.Equal(t, Warnings{WarnNoReference}, r.Warnings)
	assert.Equal(t, "BADDATA", r.Data)

	msg, err = Decode("@01 0 OK IDLE -- 65000000 50000000\r\n")
	require.NoError(t, err)
	v, err := msg.(*Reply).Ints()
	require.NoError(t, err)
	assert.Equal(t, []int64{65000000, 50000000}, v)
	_, err = msg.(*Reply).Int()
	assert.Error(t, err)

	msg, err = Decode("@01 0 OK IDLE -- 0:8D\r\n")
	require.NoError(t, err)
	assert.Equal(t, "0", msg.(*Reply).Data)
}

func TestDecode_AlertInfo(t *testing.T) {
	msg, err := Decode("!01 1 IDLE --\r\n")
	require.NoError(t, err)
	assert.Equal(t, &Alert{Device: 1, Axis: 1, Status: StatusIdle}, msg)

	msg, err = Decode("!01 2 IDLE FS\r\n")
	require.NoError(t, err)
	assert.Equal(t, Warnings{WarnStalled}, msg.(*Alert).Warnings)

	msg, err = Decode("#01 0 COMMAND USAGE\r\n")
	require.NoError(t, err)
	assert.Equal(t, &Info{Device: 1, Text: "COMMAND USAGE"}, msg)
}

func TestDecode_Errors(t *testing.T) {
	bad := []string{
		"@01 0 OK IDLE -- 0",
		"@01 0 OK IDLE -- 0\n",
		"\r\n",
		"$01 0 OK IDLE -- 0\r\n",
		"@01 0 OK IDLE --\r\n",
		"@01 0 OK\r\n",
		"@01 0 YES IDLE -- 0\r\n",
		"@01 0 OK SLEEPY -- 0\r\n",
		"@01 0 OK IDLE w1 0\r\n",
		"@xx 0 OK IDLE -- 0\r\n",
		"@01 0 OK IDLE -- 0:8E\r\n",
		"!01 1 IDLE\r\n",
	}
	for _, line := range bad {
		_, err := Decode(line)
		var perr *ProtocolError
		assert.True(t, errors.As(err, &perr), "line %q: got %v", line, err)
	}
}

func TestMessage_RoundTrip(t *testing.T) {
	msgs := []Message{
		&Reply{Device: 1, Axis: 1, Flag: FlagOK, Status: StatusBusy, Warnings: Warnings{WarnNoReference}, Data: "0"},
		&Reply{Device: 1, HasID: true, ID: 42, Flag: FlagRejected, Status: StatusIdle, Data: "BADCOMMAND"},
		&Reply{Device: 99, Axis: 9, Flag: FlagOK, Status: StatusIdle, Warnings: Warnings{NoteCommandInterrupted}, Data: "1 2"},
		&Alert{Device: 1, Axis: 2, Status: StatusIdle, Warnings: Warnings{WarnLimitError}},
		&Info{Device: 1, Text: "hello world"},
	}
	for _, checksum := range []bool{false, true} {
		for _, m := range msgs {
			line := m.Encode(checksum)
			d, err := Decode(line)
			require.NoError(t, err, line)
			assert.Equal(t, m, d, line)
		}
	}
}
