package tempo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tempo/internal/cond"
	"tempo/internal/storage"
)

func TestAppRunsDeclaredTasks(t *testing.T) {
	at := time.Date(2024, 3, 4, 7, 30, 0, 0, time.UTC)
	cfg := DefaultConfig()
	cfg.CycleSleep = 0
	app, err := New(
		WithConfig(cfg),
		WithClock(func() time.Time { return at }),
		WithLocation(time.UTC),
		WithShutCond(cond.CyclesMoreThan(3)),
	)
	require.NoError(t, err)

	_, err = app.Task("fetch", "daily after 07:00", func(context.Context, Values) (any, error) {
		return 5, nil
	}, WithExecution(Main), WithPriority(2))
	require.NoError(t, err)

	var got any
	_, err = app.Task("report", "after task 'fetch'", func(_ context.Context, v Values) (any, error) {
		got = v["n"]
		return nil, nil
	}, WithExecution(Main), WithAccepts("n"))
	require.NoError(t, err)
	app.SetParam("n", 11)

	_, err = app.Task("bad", "((", nil)
	require.Error(t, err)

	require.NoError(t, app.Run(context.Background()))

	recs, err := app.Repo().Filter(context.Background(), storage.Query{Actions: []storage.Action{storage.ActionSuccess}})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "fetch", recs[0].TaskName)
	assert.Equal(t, "report", recs[1].TaskName)
	assert.Equal(t, 11, got)

	ret, ok := app.Return("fetch")
	require.True(t, ok)
	assert.Equal(t, 5, ret)
	assert.GreaterOrEqual(t, app.Snapshot().Cycles, 3)
}
