package cond

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"tempo/internal/period"
)

// IsPeriod holds when now is inside Period.
type IsPeriod struct{ Period period.Period }

// NewIsPeriod rejects periods without membership (deltas).
func NewIsPeriod(p period.Period) (IsPeriod, error) {
	if !period.HasMembership(p) {
		return IsPeriod{}, fmt.Errorf("%s cannot be used as a time condition: it has no membership", p)
	}
	return IsPeriod{Period: p}, nil
}

func (i IsPeriod) Observe(c *Context) (bool, error) {
	return period.Contains(i.Period, c.Env.Now())
}

func (i IsPeriod) String() string { return i.Period.String() }

// SchedulerStarted holds when the scheduler started inside the rollback of
// Period.
type SchedulerStarted struct{ Period period.Period }

func (s SchedulerStarted) Observe(c *Context) (bool, error) {
	started := c.Env.SchedulerStarted()
	if started.IsZero() {
		return false, nil
	}
	p := s.Period
	if p == nil {
		p = period.Always
	}
	iv := p.Rollback(c.Env.Now())
	return !started.Before(iv.Left) && !started.After(iv.Right), nil
}

func (s SchedulerStarted) String() string {
	if s.Period == nil {
		return "scheduler started"
	}
	return "scheduler started " + s.Period.String()
}

// SchedulerCycles compares the number of completed scheduler cycles.
type SchedulerCycles struct{ Bounds Bounds }

func (s SchedulerCycles) Observe(c *Context) (bool, error) {
	return s.Bounds.Check(c.Env.Cycles()), nil
}

func (s SchedulerCycles) String() string { return "scheduler cycles " + s.Bounds.String() }

// CyclesMoreThan is shorthand for SchedulerCycles{Gt: n}.
func CyclesMoreThan(n int) SchedulerCycles {
	return SchedulerCycles{Bounds: Bounds{Gt: intp(n)}}
}

// ParamExists holds when every key is a session parameter and every KV pair
// matches.
type ParamExists struct {
	Keys []string
	KV   map[string]any
}

func (p ParamExists) Observe(c *Context) (bool, error) {
	for _, k := range p.Keys {
		if _, ok := c.Env.Param(k); !ok {
			return false, nil
		}
	}
	for k, want := range p.KV {
		got, ok := c.Env.Param(k)
		if !ok || !reflect.DeepEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}

func (p ParamExists) String() string {
	keys := append([]string(nil), p.Keys...)
	for k := range p.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("param %s exists", strings.Join(keys, ","))
}

// IsEnv holds when the session parameter "env" equals Env.
func IsEnv(env string) ParamExists {
	return ParamExists{KV: map[string]any{"env": env}}
}

// Func wraps a user predicate. Name identifies it for equality and display.
type Func struct {
	Name string
	Fn   func(c *Context) (bool, error)
}

func (f Func) Observe(c *Context) (bool, error) {
	if f.Fn == nil {
		return false, fmt.Errorf("condition %q has no function", f.Name)
	}
	return f.Fn(c)
}

func (f Func) String() string { return f.Name }
