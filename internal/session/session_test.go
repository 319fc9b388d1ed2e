package session

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempo/internal/arg"
	"tempo/internal/cond"
	"tempo/internal/config"
	"tempo/internal/task"
	logx "tempo/pkg/logx"
)

func noop(context.Context, arg.Values) (any, error) { return nil, nil }

func newSession(t *testing.T, mut func(*Config)) *Session {
	t.Helper()
	cfg := DefaultConfig()
	if mut != nil {
		mut(&cfg)
	}
	s, err := New(cfg, nil, logx.Nop(), nil)
	require.NoError(t, err)
	return s
}

func TestAddDefaults(t *testing.T) {
	s := newSession(t, func(c *Config) {
		c.TaskPriority = 3
		c.Multilaunch = true
	})

	fn, err := s.Add(&task.Task{Name: " a ", Func: noop})
	require.NoError(t, err)
	assert.Equal(t, "a", fn.Name)
	assert.Equal(t, task.Async, fn.Execution)
	assert.Equal(t, 3, fn.Priority)
	assert.True(t, fn.Multilaunch)
	assert.NotNil(t, fn.RunID)
	assert.Equal(t, cond.False, fn.Start)
	assert.Equal(t, cond.False, fn.End)

	cmd, err := s.Add(&task.Task{Name: "b", Command: &task.Command{Path: "true"}})
	require.NoError(t, err)
	assert.Equal(t, task.Process, cmd.Execution)
}

func TestAddProcessDefaultFallsBackForFuncs(t *testing.T) {
	s := newSession(t, func(c *Config) { c.TaskExecution = task.Process })
	fn, err := s.Add(&task.Task{Name: "a", Func: noop})
	require.NoError(t, err)
	assert.Equal(t, task.Thread, fn.Execution)
}

func TestAddOnExists(t *testing.T) {
	cases := []struct {
		policy OnExists
		names  []string
		err    bool
	}{
		{ExistsRaise, []string{"a"}, true},
		{ExistsIgnore, []string{"a"}, false},
		{ExistsReplace, []string{"a"}, false},
		{ExistsRename, []string{"a", "a - 1"}, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			s := newSession(t, func(c *Config) { c.TaskPreExist = tc.policy })
			first, err := s.Add(&task.Task{Name: "a", Func: noop})
			require.NoError(t, err)

			second := &task.Task{Name: "a", Func: noop}
			got, err := s.Add(second)
			if tc.err {
				require.ErrorIs(t, err, ErrTaskExists)
			} else {
				require.NoError(t, err)
			}

			var names []string
			for _, x := range s.Tasks() {
				names = append(names, x.Name)
			}
			assert.Equal(t, tc.names, names)

			switch tc.policy {
			case ExistsIgnore:
				assert.Same(t, first, got)
			case ExistsReplace:
				cur, _ := s.Get("a")
				assert.Same(t, second, cur)
			}
		})
	}
}

func TestAddInvalid(t *testing.T) {
	s := newSession(t, nil)
	_, err := s.Add(&task.Task{Name: "x"})
	assert.Error(t, err)
	_, err = s.Add(&task.Task{Name: "", Func: noop})
	assert.Error(t, err)
	assert.Empty(t, s.Tasks())
}

func TestInitHookFailureUnregisters(t *testing.T) {
	s := newSession(t, nil)
	var seen []string
	s.OnTaskInit(func(t *task.Task) error {
		seen = append(seen, t.Name)
		if t.Name == "bad" {
			return errors.New("nope")
		}
		return nil
	})
	_, err := s.Add(&task.Task{Name: "good", Func: noop})
	require.NoError(t, err)
	_, err = s.Add(&task.Task{Name: "bad", Func: noop})
	require.Error(t, err)

	assert.Equal(t, []string{"good", "bad"}, seen)
	_, ok := s.Get("bad")
	assert.False(t, ok)
}

func TestTasksPriorityOrder(t *testing.T) {
	s := newSession(t, nil)
	for _, tc := range []struct {
		name string
		prio int
	}{{"low", 1}, {"high", 5}, {"mid", 3}, {"high2", 5}} {
		_, err := s.Add(&task.Task{Name: tc.name, Func: noop, Priority: tc.prio})
		require.NoError(t, err)
	}
	var names []string
	for _, x := range s.Tasks() {
		names = append(names, x.Name)
	}
	assert.Equal(t, []string{"high", "high2", "mid", "low"}, names)

	assert.True(t, s.Remove("mid"))
	assert.False(t, s.Remove("mid"))
	assert.Len(t, s.Tasks(), 3)
}

func TestParams(t *testing.T) {
	s := newSession(t, nil)
	s.SetParam("env", "prod")
	s.SetParam("token", arg.Private{V: "secret"})
	s.SetParam("prev", arg.Return{Task: "a"})

	v, ok := s.Param("env")
	require.True(t, ok)
	assert.Equal(t, "prod", v)

	v, ok = s.Param("token")
	require.True(t, ok)
	assert.Equal(t, "secret", v)

	v, ok = s.Param("prev")
	require.True(t, ok)
	assert.Equal(t, arg.Return{Task: "a"}, v)

	_, ok = s.Param("missing")
	assert.False(t, ok)
	assert.True(t, s.HasParam("env"))

	s.SetReturn("a", 42)
	r, ok := s.Return("a")
	require.True(t, ok)
	assert.Equal(t, 42, r)
}

func TestEnvClockAndCycles(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	loc := time.FixedZone("UTC+2", 2*3600)
	s := newSession(t, func(c *Config) {
		c.TimeFunc = func() time.Time { return at }
		c.Location = loc
	})
	assert.Equal(t, 14, s.Now().Hour())
	assert.Equal(t, loc, s.Parser().Location)

	s.MarkStarted(at)
	assert.Equal(t, at, s.SchedulerStarted())
	s.AddCycle()
	s.AddCycle()
	assert.Equal(t, 2, s.Cycles())
	s.ResetCycles()
	assert.Zero(t, s.Cycles())

	_, err := s.Add(&task.Task{Name: "a", Func: noop})
	require.NoError(t, err)
	view, ok := s.Task("a")
	require.True(t, ok)
	assert.Equal(t, "a", view.Name())
	_, ok = s.Task("b")
	assert.False(t, ok)
}

func TestControlRequests(t *testing.T) {
	s := newSession(t, nil)
	assert.NoError(t, s.TakeRequest())

	s.Restart()
	assert.ErrorIs(t, s.TakeRequest(), task.ErrSchedulerRestart)
	assert.NoError(t, s.TakeRequest())

	s.ShutDown()
	s.Restart()
	assert.ErrorIs(t, s.TakeRequest(), task.ErrSchedulerExit)
}

func TestApplyQueuesConfig(t *testing.T) {
	s := newSession(t, nil)
	_, ok := s.TakePending()
	assert.False(t, ok)

	before := s.Config().MaxProcessCount
	next := s.Config()
	next.MaxProcessCount = before + 1
	require.NoError(t, s.Apply(next))
	assert.Equal(t, before, s.Config().MaxProcessCount)

	got, ok := s.TakePending()
	require.True(t, ok)
	s.Commit(got)
	assert.Equal(t, before+1, s.Config().MaxProcessCount)

	bad := s.Config()
	bad.TaskPreExist = "explode"
	assert.Error(t, s.Apply(bad))
}

func TestCheckUnknownTasks(t *testing.T) {
	s := newSession(t, nil)
	_, err := s.Add(&task.Task{Name: "a", Func: noop, Start: s.mustCond(t, "after task 'b'")})
	require.NoError(t, err)

	err = s.Check()
	var unknown *cond.UnknownTaskError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "b", unknown.Name)

	_, err = s.Add(&task.Task{Name: "b", Func: noop})
	require.NoError(t, err)
	assert.NoError(t, s.Check())
}

func TestConfigFrom(t *testing.T) {
	no := false
	fc := config.Session{
		TaskExecution:    "thread",
		CycleSleep:       "0s",
		Timeout:          "2 minutes",
		SilenceCondCheck: &no,
		Timezone:         "UTC",
		ShutCond:         "scheduler has run more than 3 cycles",
		FuncRunID:        "uuid",
	}
	c, err := ConfigFrom(fc, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, task.Thread, c.TaskExecution)
	assert.Zero(t, c.CycleSleep)
	assert.Equal(t, 2*time.Minute, c.Timeout)
	assert.False(t, c.SilenceCondCheck)
	assert.True(t, c.SilenceTaskPrerun)
	assert.Equal(t, time.UTC, c.Location)
	assert.NotEqual(t, cond.False, c.ShutCond)

	_, err = ConfigFrom(config.Session{TaskExecution: "fork"}, DefaultConfig(), nil)
	assert.Error(t, err)
	_, err = ConfigFrom(config.Session{ShutCond: "((("}, DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestDefaultMaxProcessCount(t *testing.T) {
	s := newSession(t, func(c *Config) { c.MaxProcessCount = 0 })
	assert.Equal(t, runtime.NumCPU(), s.Config().MaxProcessCount)
	assert.Equal(t, runtime.NumCPU(), DefaultConfig().MaxProcessCount)

	c, err := ConfigFrom(config.Session{}, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), c.MaxProcessCount)

	c, err = ConfigFrom(config.Session{MaxProcessCount: 3}, DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, c.MaxProcessCount)
}

func TestConfigLive(t *testing.T) {
	cur := DefaultConfig()
	cur.Location = time.UTC
	next := DefaultConfig()
	next.CycleSleep = time.Second
	next.MaxProcessCount = 2
	next.SilenceCondCheck = false
	next.TaskExecution = task.Main
	next.Location = time.Local

	got := cur.Live(next)
	assert.Equal(t, time.Second, got.CycleSleep)
	assert.Equal(t, 2, got.MaxProcessCount)
	assert.False(t, got.SilenceCondCheck)
	assert.Equal(t, task.Async, got.TaskExecution)
	assert.Equal(t, time.UTC, got.Location)
}

func TestLoadProject(t *testing.T) {
	p, err := config.Decode("tempo.yaml", []byte(`
params:
  env: prod
tasks:
  - name: backup
    command: ./backup.sh
    args: [--full]
    start_cond: daily between 02:00 and 04:00
    timeout: 5 minutes
    params:
      target: /srv
`))
	require.NoError(t, err)

	s := newSession(t, nil)
	require.NoError(t, s.LoadProject(p))

	v, ok := s.Param("env")
	require.True(t, ok)
	assert.Equal(t, "prod", v)

	bk, ok := s.Get("backup")
	require.True(t, ok)
	assert.Equal(t, task.Process, bk.Execution)
	assert.Equal(t, []string{"--full"}, bk.Command.Args)
	assert.Equal(t, 5*time.Minute, bk.Timeout)
	assert.NotNil(t, bk.Period())
	assert.Equal(t, arg.Value{V: "/srv"}, bk.Params["target"])
}

func (s *Session) mustCond(t *testing.T, v string) cond.Condition {
	t.Helper()
	c, err := s.Cond(v)
	require.NoError(t, err)
	return c
}
