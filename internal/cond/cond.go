package cond

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"tempo/internal/period"
	"tempo/internal/storage"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrNoTask      = errors.New("condition needs a task but none is bound")
)

// TaskView is the read-only face of a task that conditions observe.
type TaskView interface {
	Name() string
	// Last returns the cached timestamp of the latest record with action;
	// zero when there is none.
	Last(action storage.Action) time.Time
	// Status is the latest action, empty before the first run.
	Status() storage.Action
	// RunStarts lists the start times of live runs.
	RunStarts() []time.Time
	// Period is the task's own period, used by statements without one.
	Period() period.Period
}

// Env is everything a condition may observe.
type Env interface {
	Now() time.Time
	Task(name string) (TaskView, bool)
	Logs() storage.Repo
	ForceStatusFromLogs() bool
	Param(name string) (any, bool)
	SchedulerStarted() time.Time
	Cycles() int
}

// Context binds an observation to an Env and, optionally, to the task whose
// condition is being evaluated.
type Context struct {
	Ctx  context.Context
	Env  Env
	Task string
}

func (c *Context) context() context.Context {
	if c == nil || c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

func (c *Context) task(name string) (TaskView, error) {
	if name == "" {
		name = c.Task
	}
	if name == "" {
		return nil, ErrNoTask
	}
	v, ok := c.Env.Task(name)
	if !ok {
		return nil, &UnknownTaskError{Name: name}
	}
	return v, nil
}

// UnknownTaskError names the missing task; it matches ErrUnknownTask.
type UnknownTaskError struct{ Name string }

func (e *UnknownTaskError) Error() string { return "unknown task " + quote(e.Name) }
func (e *UnknownTaskError) Is(target error) bool {
	return target == ErrUnknownTask
}

// Condition is a boolean expression over the Env.
type Condition interface {
	Observe(c *Context) (bool, error)
	String() string
}

// Const is a condition with a fixed value.
type Const bool

const (
	True  Const = true
	False Const = false
)

func (v Const) Observe(*Context) (bool, error) { return bool(v), nil }
func (v Const) String() string {
	if v {
		return "true"
	}
	return "false"
}

// AllOf holds when every sub-condition holds.
type AllOf struct{ Subs []Condition }

// AnyOf holds when at least one sub-condition holds.
type AnyOf struct{ Subs []Condition }

// NotOf inverts its sub-condition.
type NotOf struct{ Sub Condition }

// All combines conditions with AND; nested AllOf values are merged.
func All(subs ...Condition) Condition {
	flat := make([]Condition, 0, len(subs))
	for _, s := range subs {
		if v, ok := s.(AllOf); ok {
			flat = append(flat, v.Subs...)
			continue
		}
		flat = append(flat, s)
	}
	switch len(flat) {
	case 0:
		return True
	case 1:
		return flat[0]
	}
	return AllOf{Subs: flat}
}

// Any combines conditions with OR; nested AnyOf values are merged.
func Any(subs ...Condition) Condition {
	flat := make([]Condition, 0, len(subs))
	for _, s := range subs {
		if v, ok := s.(AnyOf); ok {
			flat = append(flat, v.Subs...)
			continue
		}
		flat = append(flat, s)
	}
	switch len(flat) {
	case 0:
		return False
	case 1:
		return flat[0]
	}
	return AnyOf{Subs: flat}
}

// Not negates c; a double negation cancels.
func Not(c Condition) Condition {
	switch v := c.(type) {
	case NotOf:
		return v.Sub
	case Const:
		return !v
	}
	return NotOf{Sub: c}
}

func (a AllOf) Observe(c *Context) (bool, error) {
	for _, s := range a.Subs {
		ok, err := s.Observe(c)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (a AnyOf) Observe(c *Context) (bool, error) {
	for _, s := range a.Subs {
		ok, err := s.Observe(c)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (n NotOf) Observe(c *Context) (bool, error) {
	ok, err := n.Sub.Observe(c)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

func (a AllOf) String() string { return join(a.Subs, " & ") }
func (a AnyOf) String() string { return join(a.Subs, " | ") }
func (n NotOf) String() string { return "~" + n.Sub.String() }

func join(subs []Condition, sep string) string {
	parts := make([]string, len(subs))
	for i, s := range subs {
		parts[i] = s.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func quote(s string) string { return "'" + s + "'" }

// Equal reports structural equality. User functions compare by name.
func Equal(a, b Condition) bool {
	switch x := a.(type) {
	case AllOf:
		y, ok := b.(AllOf)
		return ok && equalSubs(x.Subs, y.Subs)
	case AnyOf:
		y, ok := b.(AnyOf)
		return ok && equalSubs(x.Subs, y.Subs)
	case NotOf:
		y, ok := b.(NotOf)
		return ok && Equal(x.Sub, y.Sub)
	case Func:
		y, ok := b.(Func)
		return ok && x.Name == y.Name
	}
	return reflect.DeepEqual(a, b)
}

func equalSubs(a, b []Condition) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// PeriodOf extracts the period a start condition schedules in; nil when the
// condition carries none.
func PeriodOf(c Condition) period.Period {
	switch v := c.(type) {
	case TaskExecutable:
		return v.Period
	case IsPeriod:
		return v.Period
	case AllOf:
		var ps []period.Period
		for _, s := range v.Subs {
			if p := PeriodOf(s); p != nil {
				ps = append(ps, p)
			}
		}
		if len(ps) == 0 {
			return nil
		}
		return period.All(ps...)
	case AnyOf:
		ps := make([]period.Period, 0, len(v.Subs))
		for _, s := range v.Subs {
			p := PeriodOf(s)
			if p == nil {
				return nil
			}
			ps = append(ps, p)
		}
		return period.Any(ps...)
	}
	return nil
}
