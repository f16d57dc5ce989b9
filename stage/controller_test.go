package stage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/zstage/transport"
	"github.com/mastercactapus/zstage/zaber"
)

type mockRequester struct {
	mock.Mock
}

func (m *mockRequester) Do(ctx context.Context, cmd zaber.Command) (*zaber.Reply, error) {
	args := m.Called(ctx, cmd)
	r, _ := args.Get(0).(*zaber.Reply)
	return r, args.Error(1)
}

func okReply(axis int, st zaber.Status, data string, ws ...zaber.Warning) *zaber.Reply {
	return &zaber.Reply{Device: 1, Axis: axis, Flag: zaber.FlagOK, Status: st, Warnings: zaber.NewWarnings(ws...), Data: data}
}

func TestController_NotHomed(t *testing.T) {
	req := new(mockRequester)
	c := NewController(req, 1, []int{1, 2})

	err := c.MoveAbsolute(context.Background(), 1, 1000)
	var nerr *NotHomedError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, 1, nerr.Axis)
	assert.Equal(t, Uninitialized, nerr.State)

	req.AssertNotCalled(t, "Do", mock.Anything, mock.Anything)
}

func TestController_HomeMoveStatus(t *testing.T) {
	ctx := context.Background()
	req := new(mockRequester)
	c := NewController(req, 1, []int{1, 2})

	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "home")).
		Return(okReply(1, zaber.StatusBusy, "0", zaber.WarnNoReference), nil).Once()
	require.NoError(t, c.StartHome(ctx, 1))
	assert.Equal(t, Homing, c.State(1))
	assert.Equal(t, Uninitialized, c.State(2))

	// still homing
	err := c.MoveRelative(ctx, 1, 10)
	var nerr *NotHomedError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, Homing, nerr.State)

	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "")).
		Return(okReply(1, zaber.StatusIdle, "0"), nil).Once()
	st, err := c.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, zaber.StatusIdle, st)
	assert.Equal(t, Idle, c.State(1))

	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "move abs", zaber.Int(65000000))).
		Return(okReply(1, zaber.StatusBusy, "0"), nil).Once()
	require.NoError(t, c.MoveAbsolute(ctx, 1, 65000000))
	assert.Equal(t, Moving, c.State(1))

	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "get pos")).
		Return(okReply(1, zaber.StatusIdle, "65000000"), nil).Once()
	pos, err := c.Position(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 65000000, pos)
	assert.Equal(t, Idle, c.State(1))

	req.AssertExpectations(t)

	var changes []StateChange
	for len(c.States()) > 0 {
		changes = append(changes, <-c.States())
	}
	assert.Equal(t, []StateChange{
		{Device: 1, Axis: 1, From: Uninitialized, To: Homing},
		{Device: 1, Axis: 1, From: Homing, To: Idle},
		{Device: 1, Axis: 1, From: Idle, To: Moving},
		{Device: 1, Axis: 1, From: Moving, To: Idle},
	}, changes)
}

func TestController_HomeWaits(t *testing.T) {
	req := new(mockRequester)
	c := NewController(req, 1, []int{1, 2}, WithPollInterval(time.Millisecond))

	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "home")).
		Return(okReply(1, zaber.StatusBusy, "0", zaber.WarnNoReference), nil).Once()
	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "")).
		Return(okReply(1, zaber.StatusBusy, "0", zaber.WarnNoReference), nil).Twice()
	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "")).
		Return(okReply(1, zaber.StatusIdle, "0"), nil).Once()

	require.NoError(t, c.Home(context.Background(), 1))
	assert.Equal(t, Idle, c.State(1))
	assert.Equal(t, Uninitialized, c.State(2))
	req.AssertExpectations(t)
	req.AssertNumberOfCalls(t, "Do", 4)
}

func TestController_HomeIdleReply(t *testing.T) {
	req := new(mockRequester)
	c := NewController(req, 1, []int{1, 2})

	req.On("Do", mock.Anything, zaber.NewCommand(1, 0, "home")).
		Return(okReply(0, zaber.StatusIdle, "0"), nil)
	require.NoError(t, c.Home(context.Background(), 0))
	assert.Equal(t, Idle, c.State(1))
	assert.Equal(t, Idle, c.State(2))
}

func TestController_FaultFlag(t *testing.T) {
	req := new(mockRequester)
	c := NewController(req, 1, []int{1})

	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "home")).
		Return(okReply(1, zaber.StatusIdle, "0", zaber.WarnStalled), nil)
	err := c.Home(context.Background(), 1)
	var serr *zaber.StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "FS", serr.Code())
	assert.Equal(t, Uninitialized, c.State(1))
}

func TestController_Rejected(t *testing.T) {
	req := new(mockRequester)
	c := NewController(req, 1, []int{1})

	rj := &zaber.Reply{Device: 1, Axis: 1, Flag: zaber.FlagRejected, Status: zaber.StatusIdle, Data: "BADDATA"}
	cmd := zaber.NewCommand(1, 1, "home")
	req.On("Do", mock.Anything, cmd).Return(rj, zaber.ReplyError(cmd, rj))

	err := c.Home(context.Background(), 1)
	var serr *zaber.StageError
	require.ErrorAs(t, err, &serr)
	assert.True(t, serr.Rejected())
	assert.Equal(t, "BADDATA", serr.Code())
}

func TestController_StopStates(t *testing.T) {
	ctx := context.Background()
	req := new(mockRequester)
	c := NewController(req, 1, []int{1, 2})

	// never homed stays uninitialized
	req.On("Do", mock.Anything, zaber.NewCommand(1, 2, "stop")).
		Return(okReply(2, zaber.StatusIdle, "0"), nil).Once()
	require.NoError(t, c.Stop(ctx, 2))
	assert.Equal(t, Uninitialized, c.State(2))

	c.setState(1, Moving)
	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "stop")).
		Return(okReply(1, zaber.StatusBusy, "0", zaber.NoteCommandInterrupted), nil).Once()
	require.NoError(t, c.Stop(ctx, 1))
	assert.Equal(t, Moving, c.State(1))

	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "stop")).
		Return(okReply(1, zaber.StatusIdle, "0"), nil).Once()
	require.NoError(t, c.Stop(ctx, 1))
	assert.Equal(t, Idle, c.State(1))

	// interrupted homing loses the reference
	c.setState(2, Homing)
	req.On("Do", mock.Anything, zaber.NewCommand(1, 2, "stop")).
		Return(okReply(2, zaber.StatusIdle, "0", zaber.NoteCommandInterrupted, zaber.WarnNoReference), nil).Once()
	require.NoError(t, c.Stop(ctx, 2))
	assert.Equal(t, Uninitialized, c.State(2))

	c.setState(1, Moving)
	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "stop")).
		Return(okReply(1, zaber.StatusIdle, "0", zaber.WarnStalled), nil).Once()
	err := c.Stop(ctx, 1)
	var serr *zaber.StageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "FS", serr.Code())
	assert.Equal(t, Idle, c.State(1))

	req.AssertExpectations(t)
}

func TestController_QueryRetry(t *testing.T) {
	ctx := context.Background()
	req := new(mockRequester)
	c := NewController(req, 1, []int{1})

	status := zaber.NewCommand(1, 1, "")
	req.On("Do", mock.Anything, status).Return(nil, transport.ErrTimeout).Once()
	req.On("Do", mock.Anything, status).Return(okReply(1, zaber.StatusIdle, "0"), nil).Once()
	st, err := c.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, zaber.StatusIdle, st)

	c.setState(1, Idle)
	move := zaber.NewCommand(1, 1, "move rel", zaber.Int(5))
	req.On("Do", mock.Anything, move).Return(nil, transport.ErrTimeout).Once()
	err = c.MoveRelative(ctx, 1, 5)
	assert.True(t, errors.Is(err, transport.ErrTimeout))
	assert.Equal(t, Idle, c.State(1))

	req.AssertExpectations(t)
	req.AssertNumberOfCalls(t, "Do", 3)
}

func TestController_Sync(t *testing.T) {
	req := new(mockRequester)
	c := NewController(req, 1, []int{1, 2})

	req.On("Do", mock.Anything, zaber.NewCommand(1, 1, "warnings")).
		Return(okReply(1, zaber.StatusIdle, "00"), nil)
	req.On("Do", mock.Anything, zaber.NewCommand(1, 2, "warnings")).
		Return(okReply(2, zaber.StatusIdle, "01 WR", zaber.WarnNoReference), nil)

	ws, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, ws[1].Empty())
	assert.Equal(t, zaber.Warnings{zaber.WarnNoReference}, ws[2])
	assert.Equal(t, Idle, c.State(1))
	assert.Equal(t, Uninitialized, c.State(2))
}

func TestController_HandleMessage(t *testing.T) {
	c := NewController(new(mockRequester), 1, []int{1, 2})
	c.setState(1, Moving)
	c.setState(2, Homing)

	c.HandleMessage(&zaber.Alert{Device: 2, Axis: 1, Status: zaber.StatusIdle})
	assert.Equal(t, Moving, c.State(1))

	c.HandleMessage(&zaber.Info{Device: 1, Axis: 1, Text: "x"})
	assert.Equal(t, Moving, c.State(1))

	c.HandleMessage(&zaber.Alert{Device: 1, Axis: 1, Status: zaber.StatusIdle})
	assert.Equal(t, Idle, c.State(1))
	assert.Equal(t, Homing, c.State(2))

	c.HandleMessage(&zaber.Alert{Device: 1, Axis: 0, Status: zaber.StatusIdle})
	assert.Equal(t, Idle, c.State(2))
}

func TestController_UnknownAxis(t *testing.T) {
	c := NewController(new(mockRequester), 1, []int{1, 2})
	var aerr *AxisError
	require.ErrorAs(t, c.Home(context.Background(), 3), &aerr)
	assert.True(t, aerr.Unknown)
	assert.Equal(t, 3, aerr.Axis)

	_, err := c.Position(context.Background(), 0)
	require.ErrorAs(t, err, &aerr)
	assert.False(t, aerr.Unknown)

	require.ErrorAs(t, c.MoveAbsolute(context.Background(), 0, 10), &aerr)
	assert.Equal(t, "move abs: axis required", aerr.Error())
}

func TestController_Settings(t *testing.T) {
	ctx := context.Background()
	req := new(mockRequester)
	c := NewController(req, 1, []int{1, 2})

	req.On("Do", mock.Anything, zaber.NewCommand(1, 2, "set", zaber.Word("maxspeed"), zaber.Int(163840))).
		Return(okReply(2, zaber.StatusIdle, "0", zaber.WarnNoReference), nil).Once()
	require.NoError(t, c.Set(ctx, 2, "maxspeed", zaber.Int(163840)))

	req.On("Do", mock.Anything, zaber.NewCommand(1, 0, "get", zaber.Word("maxspeed"))).
		Return(okReply(0, zaber.StatusIdle, "163840 163840"), nil).Once()
	r, err := c.Get(ctx, 0, "maxspeed")
	require.NoError(t, err)
	v, err := r.Ints()
	require.NoError(t, err)
	assert.Equal(t, []int64{163840, 163840}, v)

	req.On("Do", mock.Anything, zaber.NewCommand(1, 0, "get pos")).
		Return(okReply(0, zaber.StatusIdle, "65000000 50000000"), nil).Once()
	pos, err := c.Positions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{65000000, 50000000}, pos)

	req.AssertExpectations(t)
}
