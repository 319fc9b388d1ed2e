package task

import (
	"context"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"

	"tempo/internal/arg"
	"tempo/internal/storage"
)

func noop(context.Context, arg.Values) (any, error) { return nil, nil }

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		task Task
		ok   bool
	}{
		{"no name", Task{Func: noop}, false},
		{"no body", Task{Name: "a"}, false},
		{"func", Task{Name: "a", Func: noop}, true},
		{"process func", Task{Name: "a", Execution: Process, Func: noop}, false},
		{"process command", Task{Name: "a", Execution: Process, Command: &Command{Path: "true"}}, true},
		{"bad execution", Task{Name: "a", Execution: "fiber", Func: noop}, false},
		{"command in thread", Task{Name: "a", Execution: Thread, Command: &Command{Path: "true"}}, false},
	}
	for _, tc := range cases {
		err := tc.task.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err=%v", tc.name, err)
		}
	}
}

func TestRunStackAndCache(t *testing.T) {
	tk := &Task{Name: "x", Multilaunch: true, MaxRuns: 3}
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"1", "2", "3"} {
		tk.Apply(storage.Record{TaskName: "x", Action: storage.ActionRun, RunID: id, Created: t0.Add(time.Duration(i) * time.Second)})
		tk.Push(&Run{ID: id, Start: t0.Add(time.Duration(i) * time.Second)})
	}
	if tk.Running() != 3 || tk.Cap(8) != 3 {
		t.Fatalf("running=%d cap=%d", tk.Running(), tk.Cap(8))
	}
	if tk.Status() != storage.ActionRun {
		t.Fatalf("status=%s", tk.Status())
	}

	end := t0.Add(time.Minute)
	r, ok := tk.Apply(storage.Record{TaskName: "x", Action: storage.ActionTerminate, RunID: "2", Created: end})
	if !ok || r.ID != "2" {
		t.Fatalf("popped %+v %v", r, ok)
	}
	if tk.Running() != 2 {
		t.Fatalf("running=%d", tk.Running())
	}
	if tk.Status() != storage.ActionTerminate || !tk.Last(storage.ActionTerminate).Equal(end) {
		t.Fatalf("status=%s last=%v", tk.Status(), tk.Last(storage.ActionTerminate))
	}
	if _, ok := tk.Apply(storage.Record{TaskName: "x", Action: storage.ActionSuccess, RunID: "nope", Created: end}); ok {
		t.Fatalf("unknown run id must not pop")
	}
}

func TestCap(t *testing.T) {
	if got := (&Task{}).Cap(5); got != 1 {
		t.Fatalf("single cap=%d", got)
	}
	if got := (&Task{Multilaunch: true}).Cap(5); got != 5 {
		t.Fatalf("multilaunch cap=%d", got)
	}
	if got := (&Task{Multilaunch: true}).Cap(0); got != math.MaxInt {
		t.Fatalf("multilaunch without limit cap=%d", got)
	}
	if got := (&Task{Multilaunch: true, MaxRuns: 10}).Cap(2); got != 2 {
		t.Fatalf("max runs above max_process_count cap=%d", got)
	}
	if got := (&Task{Multilaunch: true, MaxRuns: 2}).Cap(8); got != 2 {
		t.Fatalf("max runs below max_process_count cap=%d", got)
	}
	if got := (&Task{Multilaunch: true, MaxRuns: 4}).Cap(0); got != 4 {
		t.Fatalf("max runs without max_process_count cap=%d", got)
	}
}

func TestSortByPriorityExtremes(t *testing.T) {
	ts := []*Task{
		{Name: "min", Priority: math.MinInt},
		{Name: "zero"},
		{Name: "max", Priority: math.MaxInt},
		{Name: "zero2"},
	}
	SortByPriority(ts)
	var names []string
	for _, x := range ts {
		names = append(names, x.Name)
	}
	if want := []string{"max", "zero", "zero2", "min"}; !slices.Equal(names, want) {
		t.Fatalf("order=%v want %v", names, want)
	}
}

func TestLoadCache(t *testing.T) {
	repo := storage.NewMemory()
	ctx := context.Background()
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	recs := []storage.Record{
		{TaskName: "a", Action: storage.ActionRun, RunID: "1", Created: t0},
		{TaskName: "a", Action: storage.ActionFail, RunID: "1", Created: t0.Add(time.Second)},
		{TaskName: "a", Action: storage.ActionRun, RunID: "2", Created: t0.Add(2 * time.Second)},
		{TaskName: "a", Action: storage.ActionSuccess, RunID: "2", Created: t0.Add(3 * time.Second)},
		{TaskName: "b", Action: storage.ActionRun, RunID: "1", Created: t0.Add(4 * time.Second)},
	}
	for _, r := range recs {
		if err := repo.Add(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	tk := &Task{Name: "a"}
	if err := tk.LoadCache(ctx, repo); err != nil {
		t.Fatal(err)
	}
	if tk.Status() != storage.ActionSuccess {
		t.Fatalf("status=%s", tk.Status())
	}
	if !tk.Last(storage.ActionFail).Equal(t0.Add(time.Second)) {
		t.Fatalf("last fail=%v", tk.Last(storage.ActionFail))
	}
	if !tk.Last(storage.ActionCrash).IsZero() {
		t.Fatalf("crash should be unset")
	}
}

func TestSortByPriority(t *testing.T) {
	ts := []*Task{{Name: "a", Priority: 1}, {Name: "b", Priority: 5}, {Name: "c", Priority: 1}, {Name: "d", Priority: 5}}
	SortByPriority(ts)
	got := ""
	for _, tk := range ts {
		got += tk.Name
	}
	if got != "bdac" {
		t.Fatalf("order=%s", got)
	}
}

func TestRunIDs(t *testing.T) {
	gen := Counter()
	a, b := &Task{Name: "a"}, &Task{Name: "b"}
	if gen(a, nil) != "1" || gen(a, nil) != "2" || gen(b, nil) != "1" {
		t.Fatalf("counter not per task")
	}
	id := UUID()(a, nil)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("uuid %q: %v", id, err)
	}
	if _, err := RunIDByName("snowflake"); err == nil {
		t.Fatalf("expected error")
	}
}
