package engine

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempo/internal/arg"
	"tempo/internal/storage"
	"tempo/internal/task"
	logx "tempo/pkg/logx"
)

func newEngine(t *testing.T, cfg Config) *Service {
	t.Helper()
	s := New(cfg, logx.Nop())
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("run %s did not finish", h.RunID())
	}
}

func TestMainSuccessCarriesReturn(t *testing.T) {
	s := newEngine(t, Config{})
	h, err := s.Dispatch(context.Background(), Job{
		Task:  "a",
		RunID: "1",
		Mode:  task.Main,
		Func: func(_ context.Context, p arg.Values) (any, error) {
			return "hello " + p.String("who"), nil
		},
		Params: arg.Params{"who": arg.Value{V: "world"}},
	})
	require.NoError(t, err)
	assert.False(t, h.Alive())

	recs := s.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, storage.ActionSuccess, recs[0].Action)
	assert.Equal(t, "1", recs[0].RunID)
	assert.Equal(t, "hello world", recs[0].Return)
	assert.Empty(t, s.Drain())
}

func TestOutcomes(t *testing.T) {
	cases := []struct {
		name string
		fn   task.Func
		want storage.Action
	}{
		{"fail", func(context.Context, arg.Values) (any, error) { return nil, errors.New("boom") }, storage.ActionFail},
		{"inaction", func(context.Context, arg.Values) (any, error) { return nil, task.ErrInaction }, storage.ActionInaction},
		{"terminated", func(context.Context, arg.Values) (any, error) { return nil, task.ErrTerminated }, storage.ActionTerminate},
		{"panic", func(context.Context, arg.Values) (any, error) { panic("bad") }, storage.ActionFail},
	}
	s := newEngine(t, Config{})
	for _, tc := range cases {
		_, err := s.Dispatch(context.Background(), Job{Task: tc.name, RunID: "1", Mode: task.Main, Func: tc.fn})
		require.NoError(t, err, tc.name)
		recs := s.Drain()
		require.Len(t, recs, 1, tc.name)
		assert.Equal(t, tc.want, recs[0].Action, tc.name)
	}
}

func TestPrerunFailure(t *testing.T) {
	s := newEngine(t, Config{})
	_, err := s.Dispatch(context.Background(), Job{
		Task:   "a",
		RunID:  "1",
		Mode:   task.Main,
		Func:   func(context.Context, arg.Values) (any, error) { return nil, nil },
		Params: arg.Params{"x": arg.FuncArg{Fn: func(context.Context) (any, error) { return nil, errors.New("no value") }}},
	})
	var pe *PrerunError
	require.ErrorAs(t, err, &pe)
	recs := s.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, storage.ActionFail, recs[0].Action)
	assert.Contains(t, recs[0].ExcText, "no value")
}

func TestThreadTerminationIsCooperative(t *testing.T) {
	s := newEngine(t, Config{})
	started := make(chan struct{})
	h, err := s.Dispatch(context.Background(), Job{
		Task:  "t",
		RunID: "1",
		Mode:  task.Thread,
		Func: func(ctx context.Context, _ arg.Values) (any, error) {
			close(started)
			flag := arg.FlagFrom(ctx)
			<-flag.Done()
			assert.NoError(t, ctx.Err())
			return nil, nil
		},
	})
	require.NoError(t, err)
	<-started
	assert.True(t, h.Alive())
	h.Terminate("timeout")
	waitDone(t, h)

	recs := s.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, storage.ActionTerminate, recs[0].Action)
	assert.Equal(t, "timeout", recs[0].Message)
}

func TestAsyncTerminationCancels(t *testing.T) {
	s := newEngine(t, Config{})
	started := make(chan struct{})
	h, err := s.Dispatch(context.Background(), Job{
		Task:  "a",
		RunID: "7",
		Mode:  task.Async,
		Func: func(ctx context.Context, _ arg.Values) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.NoError(t, err)
	<-started
	h.Terminate("end condition")
	waitDone(t, h)
	recs := s.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, storage.ActionTerminate, recs[0].Action)
	assert.Equal(t, "7", recs[0].RunID)
}

func TestControlErrors(t *testing.T) {
	var got error
	s := newEngine(t, Config{OnControl: func(err error) { got = err }})
	_, err := s.Dispatch(context.Background(), Job{
		Task:  "stopper",
		RunID: "1",
		Mode:  task.Main,
		Func:  func(context.Context, arg.Values) (any, error) { return nil, task.ErrSchedulerExit },
	})
	require.NoError(t, err)
	assert.ErrorIs(t, got, task.ErrSchedulerExit)
	recs := s.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, storage.ActionSuccess, recs[0].Action)
}

func TestProcessSlots(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	s := newEngine(t, Config{MaxProcessCount: 1})
	assert.Equal(t, 1, s.FreeProcessSlots())

	h, err := s.Dispatch(context.Background(), Job{Task: "p", RunID: "1", Mode: task.Process, Command: &task.Command{Path: "sleep", Args: []string{"30"}}})
	require.NoError(t, err)
	assert.Equal(t, 0, s.FreeProcessSlots())

	_, err = s.Dispatch(context.Background(), Job{Task: "p", RunID: "2", Mode: task.Process, Command: &task.Command{Path: "sleep", Args: []string{"30"}}})
	assert.ErrorIs(t, err, ErrNoSlot)

	h.Terminate("shutdown")
	waitDone(t, h)
	recs := s.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, storage.ActionTerminate, recs[0].Action)

	require.Eventually(t, func() bool { return s.FreeProcessSlots() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestProcessOutputIsReturn(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	s := newEngine(t, Config{})
	h, err := s.Dispatch(context.Background(), Job{
		Task:    "p",
		RunID:   "1",
		Mode:    task.Process,
		Command: &task.Command{Path: "echo"},
		Params:  arg.Params{"n": arg.Value{V: 3}},
	})
	require.NoError(t, err)
	waitDone(t, h)
	recs := s.Drain()
	require.Len(t, recs, 1)
	assert.Equal(t, storage.ActionSuccess, recs[0].Action)
	assert.Equal(t, "--n=3", recs[0].Return)
}

func TestDecodeOutput(t *testing.T) {
	assert.Nil(t, decodeOutput([]byte("  \n")))
	assert.Equal(t, float64(42), decodeOutput([]byte("42\n")))
	assert.Equal(t, map[string]any{"ok": true}, decodeOutput([]byte(`{"ok":true}`)))
	assert.Equal(t, "plain text", decodeOutput([]byte("plain text\n")))
}

func TestDispatchAfterStop(t *testing.T) {
	s := New(Config{}, logx.Nop())
	_, err := s.Dispatch(context.Background(), Job{Task: "a", RunID: "1", Mode: task.Thread, Func: func(context.Context, arg.Values) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestWaitAndSnapshot(t *testing.T) {
	s := newEngine(t, Config{HistorySize: 2})
	release := make(chan struct{})
	for _, id := range []string{"1", "2", "3"} {
		_, err := s.Dispatch(context.Background(), Job{Task: "m", RunID: id, Mode: task.Thread, Func: func(context.Context, arg.Values) (any, error) {
			<-release
			return nil, nil
		}})
		require.NoError(t, err)
	}
	assert.Len(t, s.Snapshot().Live, 3)
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Wait(ctx))
	assert.Len(t, s.Drain(), 3)
	snap := s.Snapshot()
	assert.Empty(t, snap.Live)
	assert.Len(t, snap.History, 2)
}
