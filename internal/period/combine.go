package period

import (
	"strings"
	"time"
)

// maxSteps bounds the search for a common occurrence.
const maxSteps = 1000

// AllOf is the intersection of its periods.
type AllOf struct{ Periods []Period }

// AnyOf is the union of its periods.
type AnyOf struct{ Periods []Period }

// All intersects periods, flattening nested intersections.
func All(periods ...Period) Period {
	flat := make([]Period, 0, len(periods))
	for _, p := range periods {
		if v, ok := p.(AllOf); ok {
			flat = append(flat, v.Periods...)
			continue
		}
		flat = append(flat, p)
	}
	switch len(flat) {
	case 0:
		return Always
	case 1:
		return flat[0]
	}
	return AllOf{Periods: flat}
}

// Any unions periods, flattening nested unions.
func Any(periods ...Period) Period {
	flat := make([]Period, 0, len(periods))
	for _, p := range periods {
		if v, ok := p.(AnyOf); ok {
			flat = append(flat, v.Periods...)
			continue
		}
		flat = append(flat, p)
	}
	switch len(flat) {
	case 0:
		return Never
	case 1:
		return flat[0]
	}
	return AnyOf{Periods: flat}
}

func (a AllOf) Contains(t time.Time) bool {
	for _, p := range a.Periods {
		m, ok := p.(Membership)
		if !ok || !m.Contains(t) {
			return false
		}
	}
	return true
}

func bounds(ivs []Interval) (left, right time.Time) {
	left, right = ivs[0].Left, ivs[0].Right
	for _, iv := range ivs[1:] {
		if iv.Left.After(left) {
			left = iv.Left
		}
		if iv.Right.Before(right) {
			right = iv.Right
		}
	}
	return left, right
}

func (a AllOf) Rollback(t time.Time) Interval {
	cur := t
	for iter := 0; iter < maxSteps; iter++ {
		ivs := make([]Interval, len(a.Periods))
		for i, p := range a.Periods {
			ivs[i] = p.Rollback(cur)
		}
		left, right := bounds(ivs)
		if !left.After(right) {
			return Interval{Left: left, Right: right}
		}
		// No common moment after the earliest right edge.
		if !right.Before(cur) || !right.After(MinTime) {
			return neverBack
		}
		cur = right
	}
	return neverBack
}

func (a AllOf) Rollforward(t time.Time) Interval {
	cur := t
	for iter := 0; iter < maxSteps; iter++ {
		ivs := make([]Interval, len(a.Periods))
		for i, p := range a.Periods {
			ivs[i] = p.Rollforward(cur)
		}
		left, right := bounds(ivs)
		if !left.After(right) {
			return Interval{Left: left, Right: right}
		}
		if !left.After(cur) || !left.Before(MaxTime) {
			return neverForward
		}
		cur = left
	}
	return neverForward
}

func (a AllOf) String() string { return joinPeriods(a.Periods, " & ") }

func (a AnyOf) Contains(t time.Time) bool {
	for _, p := range a.Periods {
		if m, ok := p.(Membership); ok && m.Contains(t) {
			return true
		}
	}
	return false
}

// Rollback picks the component occurrence ending latest and merges every
// component occurrence that touches it.
func (a AnyOf) Rollback(t time.Time) Interval {
	var best Interval
	found := false
	for _, p := range a.Periods {
		iv := p.Rollback(t)
		if iv.IsNever() {
			continue
		}
		if !found || iv.Right.After(best.Right) || (iv.Right.Equal(best.Right) && iv.Left.Before(best.Left)) {
			best, found = iv, true
		}
	}
	if !found {
		return neverBack
	}
	for iter := 0; iter < maxSteps; iter++ {
		extended := false
		for _, p := range a.Periods {
			iv := p.Rollback(best.Left)
			if iv.IsNever() {
				continue
			}
			if iv.Left.Before(best.Left) && !iv.Right.Before(best.Left) {
				best.Left = iv.Left
				extended = true
			}
		}
		if !extended {
			break
		}
	}
	return best
}

// Rollforward picks the component occurrence starting earliest and merges
// every component occurrence that touches it.
func (a AnyOf) Rollforward(t time.Time) Interval {
	var best Interval
	found := false
	for _, p := range a.Periods {
		iv := p.Rollforward(t)
		if iv.IsNever() {
			continue
		}
		if !found || iv.Left.Before(best.Left) || (iv.Left.Equal(best.Left) && iv.Right.After(best.Right)) {
			best, found = iv, true
		}
	}
	if !found {
		return neverForward
	}
	for iter := 0; iter < maxSteps; iter++ {
		extended := false
		for _, p := range a.Periods {
			iv := p.Rollforward(best.Right)
			if iv.IsNever() {
				continue
			}
			if iv.Right.After(best.Right) && !iv.Left.After(best.Right) {
				best.Right = iv.Right
				extended = true
			}
		}
		if !extended {
			break
		}
	}
	return best
}

func (a AnyOf) String() string { return joinPeriods(a.Periods, " | ") }

func joinPeriods(ps []Period, sep string) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = describe(p)
	}
	return "(" + strings.Join(parts, sep) + ")"
}
