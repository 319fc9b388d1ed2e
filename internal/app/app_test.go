package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempo/internal/config"
	"tempo/internal/session"
	"tempo/internal/storage"
	"tempo/internal/task/scheduler"
)

func writeProject(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tempo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestAppRunsProject(t *testing.T) {
	dir := t.TempDir()
	path := writeProject(t, `
session:
  cycle_sleep: 0s
  shut_cond: scheduler has run more than 2 cycles
storage:
  driver: sqlite
  path: `+filepath.Join(dir, "tempo.db")+`
logging:
  level: error
tasks:
  - name: hello
    command: sh
    args: ["-c", "echo 1"]
    on_startup: true
`)
	a, err := NewApp(path)
	require.NoError(t, err)

	ready := 0
	a.OnReady(func() { ready++ })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, a.Run(ctx, false))
	assert.Equal(t, 1, ready)

	recs, err := a.repo.Filter(ctx, storage.Query{TaskName: "hello"})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, storage.ActionRun, recs[0].Action)
	assert.Equal(t, storage.ActionSuccess, recs[1].Action)

	st := a.Status()
	assert.Equal(t, scheduler.StateStopped, st.Scheduler.State)
	assert.Zero(t, st.EventsDropped)
	require.NoError(t, a.Stop(ctx, ReasonFor(nil, false)))
}

func TestNewAppRejectsBadProject(t *testing.T) {
	_, err := NewApp(writeProject(t, "session:\n  nope: 1\n"))
	assert.Error(t, err)

	_, err = NewApp(writeProject(t, "storage:\n  driver: sqlite\n"))
	assert.ErrorContains(t, err, "storage.path")

	_, err = NewApp(writeProject(t, "tasks:\n  - name: a\n    command: x\n    start_cond: '(('\n"))
	assert.Error(t, err)
}

func TestReloadAppliesLiveFields(t *testing.T) {
	path := writeProject(t, "session:\n  cycle_sleep: 1s\n")
	a, err := NewApp(path)
	require.NoError(t, err)
	defer a.Stop(context.Background(), StopAppStop)

	prev := a.cfgm.Get()
	next := *prev
	next.Session.CycleSleep = "5ms"
	next.Session.Timezone = "UTC"
	next.Params = map[string]any{"region": "eu"}
	a.reload(context.Background(), prev, &next)

	cfg, ok := a.sess.TakePending()
	require.True(t, ok)
	assert.Equal(t, 5*time.Millisecond, cfg.CycleSleep)
	assert.Equal(t, a.sess.Config().Location, cfg.Location)
	v, ok := a.sess.Param("region")
	require.True(t, ok)
	assert.Equal(t, "eu", v)
}

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		in      config.StorageConfig
		driver  string
		wantErr bool
	}{
		{config.StorageConfig{}, "memory", false},
		{config.StorageConfig{Driver: "JSONL", Path: "/tmp/x"}, "file", false},
		{config.StorageConfig{Driver: "file"}, "", true},
		{config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "2s"}, "sqlite", false},
		{config.StorageConfig{Driver: "sqlite", Path: "x.db", BusyTimeout: "later"}, "", true},
		{config.StorageConfig{Driver: "redis"}, "", true},
	}
	for _, c := range cases {
		got, err := mapStorageConfig(&config.Project{Storage: c.in})
		if c.wantErr {
			assert.Error(t, err, "%+v", c.in)
			continue
		}
		require.NoError(t, err, "%+v", c.in)
		assert.Equal(t, c.driver, got.Driver)
	}
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, StopSignal, ReasonFor(errors.New("x"), true))
	assert.Equal(t, StopRestart, ReasonFor(&scheduler.RestartError{Mode: session.RestartReplace}, false))
	assert.Equal(t, StopFatalError, ReasonFor(errors.New("x"), false))
	assert.Equal(t, StopShutCond, ReasonFor(nil, false))
}

func TestUnitConditionsParse(t *testing.T) {
	s, err := Check(&config.Project{Tasks: []config.TaskDecl{{
		Name:      "restart-nginx",
		Command:   "systemctl",
		Args:      []string{"restart", "nginx"},
		StartCond: "unit 'nginx' is failed",
	}}})
	require.NoError(t, err)
	got, ok := s.Get("restart-nginx")
	require.True(t, ok)
	assert.Equal(t, "unit 'nginx' is failed", got.Start.String())

	_, err = UnitCondition(nil, "nginx", "sleepy")
	assert.Error(t, err)
}
