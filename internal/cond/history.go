package cond

import (
	"fmt"
	"time"

	"tempo/internal/period"
	"tempo/internal/storage"
)

// Kind selects the actions a History statement counts.
type Kind int

const (
	Started Kind = iota + 1
	Succeeded
	Failed
	Terminated
	Inacted
	Crashed
	Finished
)

var kindActions = map[Kind][]storage.Action{
	Started:    {storage.ActionRun},
	Succeeded:  {storage.ActionSuccess},
	Failed:     {storage.ActionFail},
	Terminated: {storage.ActionTerminate},
	Inacted:    {storage.ActionInaction},
	Crashed:    {storage.ActionCrash},
	Finished:   {storage.ActionSuccess, storage.ActionFail, storage.ActionTerminate, storage.ActionCrash},
}

var kindNames = map[Kind]string{
	Started:    "started",
	Succeeded:  "succeeded",
	Failed:     "failed",
	Terminated: "terminated",
	Inacted:    "inacted",
	Crashed:    "crashed",
	Finished:   "finished",
}

func (k Kind) Actions() []storage.Action { return kindActions[k] }
func (k Kind) String() string            { return kindNames[k] }

// History counts a task's records of some kind inside a period.
//
// Task "" means the task being evaluated; a nil Period means the task's own
// period.
type History struct {
	Kind   Kind
	Task   string
	Period period.Period
	Bounds Bounds
}

func TaskStarted(task string) History    { return History{Kind: Started, Task: task} }
func TaskSucceeded(task string) History  { return History{Kind: Succeeded, Task: task} }
func TaskFailed(task string) History     { return History{Kind: Failed, Task: task} }
func TaskTerminated(task string) History { return History{Kind: Terminated, Task: task} }
func TaskInacted(task string) History    { return History{Kind: Inacted, Task: task} }
func TaskCrashed(task string) History    { return History{Kind: Crashed, Task: task} }
func TaskFinished(task string) History   { return History{Kind: Finished, Task: task} }

func (h History) In(p period.Period) History { h.Period = p; return h }
func (h History) Eq(n int) History           { h.Bounds.Eq = intp(n); return h }
func (h History) Ne(n int) History           { h.Bounds.Ne = intp(n); return h }
func (h History) Lt(n int) History           { h.Bounds.Lt = intp(n); return h }
func (h History) Le(n int) History           { h.Bounds.Le = intp(n); return h }
func (h History) Gt(n int) History           { h.Bounds.Gt = intp(n); return h }
func (h History) Ge(n int) History           { h.Bounds.Ge = intp(n); return h }

func periodFor(p period.Period, view TaskView) period.Period {
	if p != nil {
		return p
	}
	if vp := view.Period(); vp != nil {
		return vp
	}
	return period.Always
}

// lastOf is the newest cached timestamp among actions.
func lastOf(view TaskView, actions []storage.Action) time.Time {
	var last time.Time
	for _, a := range actions {
		if t := view.Last(a); t.After(last) {
			last = t
		}
	}
	return last
}

func (h History) Observe(c *Context) (bool, error) {
	view, err := c.task(h.Task)
	if err != nil {
		return false, err
	}
	iv := periodFor(h.Period, view).Rollback(c.Env.Now())
	actions := h.Kind.Actions()

	if !c.Env.ForceStatusFromLogs() {
		if v, ok := fastPath(h.Bounds, lastOf(view, actions), iv); ok {
			return v, nil
		}
	}

	n, err := c.Env.Logs().Count(c.context(), storage.Query{
		TaskName: view.Name(),
		Actions:  actions,
		Since:    iv.Left,
		Until:    iv.Right,
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", h, err)
	}
	return h.Bounds.Check(n), nil
}

// fastPath answers "at least one" and "none" from the cached timestamp when
// it is not newer than the window end.
func fastPath(b Bounds, last time.Time, iv period.Interval) (bool, bool) {
	over, zero := b.anyOverZero(), b.equalZero()
	if !over && !zero {
		return false, false
	}
	if last.After(iv.Right) {
		return false, false
	}
	inside := !last.IsZero() && !last.Before(iv.Left)
	if over {
		return inside, true
	}
	return !inside, true
}

func (h History) String() string {
	s := fmt.Sprintf("task %s has %s", quote(h.Task), h.Kind)
	if h.Task == "" {
		s = "task has " + h.Kind.String()
	}
	if h.Period != nil {
		s += " in " + h.Period.String()
	}
	if !h.Bounds.Empty() {
		s += " " + h.Bounds.String()
	}
	return s
}

// TaskRunning counts live runs whose start lies in Period (any start when
// Period is nil).
type TaskRunning struct {
	Task   string
	Period period.Period
	Bounds Bounds
}

func (r TaskRunning) Observe(c *Context) (bool, error) {
	view, err := c.task(r.Task)
	if err != nil {
		return false, err
	}
	starts := view.RunStarts()
	n := len(starts)
	if r.Period != nil {
		iv := r.Period.Rollback(c.Env.Now())
		n = 0
		for _, s := range starts {
			if !s.Before(iv.Left) && !s.After(iv.Right) {
				n++
			}
		}
	}
	return r.Bounds.Check(n), nil
}

func (r TaskRunning) String() string {
	s := fmt.Sprintf("task %s is running", quote(r.Task))
	if !r.Bounds.Empty() {
		s += " " + r.Bounds.String()
	}
	return s
}
