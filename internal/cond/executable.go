package cond

import (
	"fmt"
	"time"

	"tempo/internal/period"
	"tempo/internal/storage"
)

// TaskExecutable holds when the task should run in the current occurrence
// of Period: now is inside Period (for periods with membership) and within
// the occurrence the task has not succeeded, inacted or been terminated, and
// has failed at most Retries times.
type TaskExecutable struct {
	Task    string
	Period  period.Period
	Retries int
}

func (e TaskExecutable) parts() []Condition {
	p := e.Period
	if p == nil {
		p = period.Always
	}
	out := make([]Condition, 0, 5)
	if period.HasMembership(p) {
		out = append(out, IsPeriod{Period: p})
	}
	out = append(out,
		TaskSucceeded(e.Task).In(p).Eq(0),
		TaskInacted(e.Task).In(p).Eq(0),
		TaskFailed(e.Task).In(p).Le(e.Retries),
		TaskTerminated(e.Task).In(p).Eq(0),
	)
	return out
}

func (e TaskExecutable) Observe(c *Context) (bool, error) {
	return AllOf{Subs: e.parts()}.Observe(c)
}

func (e TaskExecutable) String() string {
	s := "executable"
	if e.Period != nil {
		s += " " + e.Period.String()
	}
	if e.Retries != 0 {
		s += fmt.Sprintf(" retries %d", e.Retries)
	}
	return s
}

// Retry holds when the latest outcome of the task is a fail and the chain of
// consecutive fails is at most N long. N < 0 means unbounded.
type Retry struct {
	Task string
	N    int
}

func (r Retry) Observe(c *Context) (bool, error) {
	view, err := c.task(r.Task)
	if err != nil {
		return false, err
	}
	if !c.Env.ForceStatusFromLogs() && view.Status() != storage.ActionFail {
		return false, nil
	}

	q := storage.Query{TaskName: view.Name(), Desc: true}
	if r.N >= 0 {
		// One more than allowed is enough to decide.
		q.Limit = 2*(r.N+1) + 1
	}
	recs, err := c.Env.Logs().Filter(c.context(), q)
	if err != nil {
		return false, fmt.Errorf("%s: %w", r, err)
	}
	fails := 0
chain:
	for i, rec := range recs {
		switch rec.Action {
		case storage.ActionRun:
			if i == 0 {
				// still running
				return false, nil
			}
		case storage.ActionFail:
			fails++
			if r.N >= 0 && fails > r.N {
				return false, nil
			}
		default:
			break chain
		}
	}
	if fails == 0 {
		return false, nil
	}
	return true, nil
}

func (r Retry) String() string { return fmt.Sprintf("retry %d", r.N) }

// Depend holds when Parent has an action in Actions newer than the latest
// run of Task.
type Depend struct {
	Task    string
	Parent  string
	Actions []storage.Action
}

func DependSuccess(parent string) Depend {
	return Depend{Parent: parent, Actions: []storage.Action{storage.ActionSuccess}}
}

func DependFailure(parent string) Depend {
	return Depend{Parent: parent, Actions: []storage.Action{storage.ActionFail}}
}

func DependFinish(parent string) Depend {
	return Depend{Parent: parent, Actions: []storage.Action{storage.ActionSuccess, storage.ActionFail}}
}

func (d Depend) Observe(c *Context) (bool, error) {
	child, err := c.task(d.Task)
	if err != nil {
		return false, err
	}
	parent, err := c.task(d.Parent)
	if err != nil {
		return false, err
	}

	var parentLast, childLast time.Time
	if c.Env.ForceStatusFromLogs() {
		if parentLast, err = lastLogged(c, parent.Name(), d.Actions); err != nil {
			return false, err
		}
		if childLast, err = lastLogged(c, child.Name(), []storage.Action{storage.ActionRun}); err != nil {
			return false, err
		}
	} else {
		parentLast = lastOf(parent, d.Actions)
		childLast = child.Last(storage.ActionRun)
	}

	if parentLast.IsZero() {
		return false, nil
	}
	return childLast.IsZero() || parentLast.After(childLast), nil
}

func lastLogged(c *Context, task string, actions []storage.Action) (time.Time, error) {
	t, _, err := storage.MaxCreated(c.context(), c.Env.Logs(), storage.Query{TaskName: task, Actions: actions})
	return t, err
}

func (d Depend) String() string {
	what := "finished"
	if len(d.Actions) == 1 {
		what = string(d.Actions[0])
	}
	return fmt.Sprintf("after task %s %s", quote(d.Parent), what)
}
