package period

import (
	"fmt"
	"time"
)

// MinTime and MaxTime bound every interval produced by this package.
// Both fit in int64 nanoseconds so storage drivers can compare them.
var (
	MinTime = time.Unix(0, 0).UTC()
	MaxTime = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)
)

// Interval is a concrete window [Left, Right).
type Interval struct {
	Left  time.Time
	Right time.Time
}

// Contains reports whether t lies in [Left, Right).
func (i Interval) Contains(t time.Time) bool {
	return !t.Before(i.Left) && t.Before(i.Right)
}

// Overlaps reports whether two intervals share at least one moment.
func (i Interval) Overlaps(o Interval) bool {
	return i.Left.Before(o.Right) && o.Left.Before(i.Right)
}

// IsNever reports whether the interval is the sentinel for "no occurrence".
func (i Interval) IsNever() bool {
	return (i.Left.Equal(MinTime) && i.Right.Equal(MinTime)) || (i.Left.Equal(MaxTime) && i.Right.Equal(MaxTime))
}

func (i Interval) Duration() time.Duration { return i.Right.Sub(i.Left) }

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Left.Format(time.RFC3339), i.Right.Format(time.RFC3339))
}

var (
	neverBack    = Interval{Left: MinTime, Right: MinTime}
	neverForward = Interval{Left: MaxTime, Right: MaxTime}
)

// Period is the common contract of every time period.
type Period interface {
	// Rollback returns the current or most recent occurrence; Right <= t.
	Rollback(t time.Time) Interval
	// Rollforward returns the current or next occurrence; Left >= t.
	Rollforward(t time.Time) Interval
	String() string
}

// Membership is implemented by periods that can answer "is t inside".
type Membership interface {
	Contains(t time.Time) bool
}

// Boundaries is implemented by periods that can find their next edges.
type Boundaries interface {
	NextStart(t time.Time) time.Time
	NextEnd(t time.Time) time.Time
}

// HasMembership reports whether p (and every component of a composite)
// answers membership.
func HasMembership(p Period) bool {
	switch v := p.(type) {
	case nil:
		return false
	case AllOf:
		return allMembers(v.Periods)
	case AnyOf:
		return allMembers(v.Periods)
	}
	_, ok := p.(Membership)
	return ok
}

func allMembers(ps []Period) bool {
	for _, p := range ps {
		if !HasMembership(p) {
			return false
		}
	}
	return true
}

// Contains checks membership, returning an error for relative periods.
func Contains(p Period, t time.Time) (bool, error) {
	if !HasMembership(p) {
		return false, fmt.Errorf("period %s has no membership", describe(p))
	}
	return p.(Membership).Contains(t), nil
}

func describe(p Period) string {
	if p == nil {
		return "<nil>"
	}
	return p.String()
}

// ---- Always / Never ----

type always struct{}

// Always contains every moment.
var Always Period = always{}

func (always) Contains(time.Time) bool { return true }
func (always) Rollback(t time.Time) Interval {
	return Interval{Left: MinTime, Right: t}
}
func (always) Rollforward(t time.Time) Interval {
	return Interval{Left: t, Right: MaxTime}
}
func (always) String() string { return "always" }

type never struct{}

// Never contains no moment.
var Never Period = never{}

func (never) Contains(time.Time) bool        { return false }
func (never) Rollback(time.Time) Interval    { return neverBack }
func (never) Rollforward(time.Time) Interval { return neverForward }
func (never) String() string                 { return "never" }

// ---- Static ----

// Static is a fixed absolute window [Start, End).
type Static struct {
	Start time.Time
	End   time.Time
}

func (s Static) Contains(t time.Time) bool {
	return Interval{Left: s.Start, Right: s.End}.Contains(t)
}

func (s Static) Rollback(t time.Time) Interval {
	switch {
	case t.Before(s.Start):
		return neverBack
	case t.Before(s.End):
		return Interval{Left: s.Start, Right: t}
	default:
		return Interval{Left: s.Start, Right: s.End}
	}
}

func (s Static) Rollforward(t time.Time) Interval {
	switch {
	case t.Before(s.Start):
		return Interval{Left: s.Start, Right: s.End}
	case t.Before(s.End):
		return Interval{Left: t, Right: s.End}
	default:
		return neverForward
	}
}

func (s Static) NextStart(t time.Time) time.Time {
	if t.Before(s.Start) {
		return s.Start
	}
	return MaxTime
}

func (s Static) NextEnd(t time.Time) time.Time {
	if t.Before(s.End) {
		return s.End
	}
	return MaxTime
}

func (s Static) String() string {
	return fmt.Sprintf("static %s", Interval{Left: s.Start, Right: s.End})
}

// ---- Deltas ----

// TimeDelta is the relative window [t-Past, t] backwards and [t, t+Future]
// forwards.
type TimeDelta struct {
	Past   time.Duration
	Future time.Duration
}

func (d TimeDelta) Rollback(t time.Time) Interval {
	return Interval{Left: t.Add(-d.Past), Right: t}
}

func (d TimeDelta) Rollforward(t time.Time) Interval {
	return Interval{Left: t, Right: t.Add(d.Future)}
}

func (d TimeDelta) String() string {
	if d.Future > 0 {
		return fmt.Sprintf("past %s future %s", d.Past, d.Future)
	}
	return fmt.Sprintf("past %s", d.Past)
}

// TimeSpanDelta covers "between Near and Far ago" backwards and "between
// Near and Far from now" forwards. Far <= 0 means unbounded.
type TimeSpanDelta struct {
	Near time.Duration
	Far  time.Duration
}

func (d TimeSpanDelta) Rollback(t time.Time) Interval {
	left := MinTime
	if d.Far > 0 {
		left = t.Add(-d.Far)
	}
	return Interval{Left: left, Right: t.Add(-d.Near)}
}

func (d TimeSpanDelta) Rollforward(t time.Time) Interval {
	right := MaxTime
	if d.Far > 0 {
		right = t.Add(d.Far)
	}
	return Interval{Left: t.Add(d.Near), Right: right}
}

func (d TimeSpanDelta) String() string {
	return fmt.Sprintf("span %s..%s", d.Near, d.Far)
}
