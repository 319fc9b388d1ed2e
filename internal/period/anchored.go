package period

import (
	"fmt"
	"strings"
	"time"
)

// Scope is the natural cycle an anchored interval repeats in.
type Scope int

const (
	Minute Scope = iota + 1
	Hour
	Day
	Week
	Month
	Year
)

const (
	dayLen = 24 * time.Hour
	// Months are addressed through fixed 31-day slots and clamped to the
	// real month length when resolved.
	monthLen = 31 * dayLen
)

var scopeNames = map[Scope]string{
	Minute: "minute",
	Hour:   "hour",
	Day:    "day",
	Week:   "week",
	Month:  "month",
	Year:   "year",
}

func (s Scope) String() string {
	if n, ok := scopeNames[s]; ok {
		return n
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// ParseScope maps "minute".."year" (and "daily"-style adverbs) to a Scope.
func ParseScope(v string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "minute", "minutely":
		return Minute, nil
	case "hour", "hourly":
		return Hour, nil
	case "day", "daily":
		return Day, nil
	case "week", "weekly":
		return Week, nil
	case "month", "monthly":
		return Month, nil
	case "year", "yearly":
		return Year, nil
	}
	return 0, fmt.Errorf("unknown time scope %q", v)
}

// Len returns the (virtual) length of one cycle.
func (s Scope) Len() time.Duration {
	switch s {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return dayLen
	case Week:
		return 7 * dayLen
	case Month:
		return monthLen
	case Year:
		return 12 * monthLen
	}
	return 0
}

func weekday(t time.Time) int { return (int(t.Weekday()) + 6) % 7 }

func daysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// start returns the beginning of the cycle containing t, shifted by n cycles.
func (s Scope) start(t time.Time, n int) time.Time {
	y, mo, d := t.Date()
	h, mi, _ := t.Clock()
	loc := t.Location()
	switch s {
	case Minute:
		return time.Date(y, mo, d, h, mi+n, 0, 0, loc)
	case Hour:
		return time.Date(y, mo, d, h+n, 0, 0, 0, loc)
	case Day:
		return time.Date(y, mo, d+n, 0, 0, 0, 0, loc)
	case Week:
		return time.Date(y, mo, d-weekday(t)+7*n, 0, 0, 0, 0, loc)
	case Month:
		return time.Date(y, mo+time.Month(n), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y+n, 1, 1, 0, 0, 0, 0, loc)
	}
}

// offset reduces t to its wall-clock offset within its cycle.
func (s Scope) offset(t time.Time) time.Duration {
	_, mo, d := t.Date()
	h, mi, sec := t.Clock()
	ns := time.Duration(t.Nanosecond())
	clock := time.Duration(h)*time.Hour + time.Duration(mi)*time.Minute + time.Duration(sec)*time.Second + ns
	switch s {
	case Minute:
		return time.Duration(sec)*time.Second + ns
	case Hour:
		return time.Duration(mi)*time.Minute + time.Duration(sec)*time.Second + ns
	case Day:
		return clock
	case Week:
		return time.Duration(weekday(t))*dayLen + clock
	case Month:
		return time.Duration(d-1)*dayLen + clock
	default:
		return time.Duration(mo-1)*monthLen + time.Duration(d-1)*dayLen + clock
	}
}

// at resolves an offset against a cycle start; time.Date normalizes the
// nanosecond overflow so wall-clock offsets survive DST changes.
func (s Scope) at(start time.Time, off time.Duration) time.Time {
	y, mo, d := start.Date()
	h, mi, _ := start.Clock()
	loc := start.Location()
	switch s {
	case Minute:
		return time.Date(y, mo, d, h, mi, 0, int(off), loc)
	case Hour:
		return time.Date(y, mo, d, h, 0, 0, int(off), loc)
	case Day, Week:
		return time.Date(y, mo, d, 0, 0, 0, int(off), loc)
	case Month:
		return monthAt(y, mo, off, loc)
	default:
		slot := int(off / monthLen)
		return monthAt(y, time.Month(1+slot), off%monthLen, loc)
	}
}

func monthAt(y int, mo time.Month, off time.Duration, loc *time.Location) time.Time {
	days := int(off / dayLen)
	if days >= daysIn(y, mo) {
		return time.Date(y, mo+1, 1, 0, 0, 0, 0, loc)
	}
	return time.Date(y, mo, 1+days, 0, 0, 0, int(off%dayLen), loc)
}

// Anchored is a period expressed as two offsets within a Scope.
//
// Start < End is the plain case; Start > End wraps over the cycle boundary;
// Start == End is a full cycle whose boundary is Start.
type Anchored struct {
	Scope Scope
	Start time.Duration
	End   time.Duration
}

func (a Anchored) Contains(t time.Time) bool {
	off := a.Scope.offset(t)
	switch {
	case a.Start == a.End:
		return true
	case a.Start < a.End:
		return off >= a.Start && off < a.End
	default:
		return off >= a.Start || off < a.End
	}
}

// occurrence returns the interval that begins in the cycle n steps from t's.
func (a Anchored) occurrence(t time.Time, n int) Interval {
	base := a.Scope.start(t, n)
	left := a.Scope.at(base, a.Start)
	var right time.Time
	if a.Start < a.End {
		right = a.Scope.at(base, a.End)
	} else {
		right = a.Scope.at(a.Scope.start(t, n+1), a.End)
	}
	return Interval{Left: left, Right: right}
}

// occurrences lists non-empty occurrences around t, ordered by Left.
func (a Anchored) occurrences(t time.Time) []Interval {
	out := make([]Interval, 0, 5)
	for n := -2; n <= 2; n++ {
		iv := a.occurrence(t, n)
		if iv.Left.Before(iv.Right) {
			out = append(out, iv)
		}
	}
	return out
}

func (a Anchored) Rollback(t time.Time) Interval {
	occ := a.occurrences(t)
	for i := len(occ) - 1; i >= 0; i-- {
		iv := occ[i]
		if iv.Left.After(t) {
			continue
		}
		if t.Before(iv.Right) {
			return Interval{Left: iv.Left, Right: t}
		}
		return iv
	}
	return neverBack
}

func (a Anchored) Rollforward(t time.Time) Interval {
	for _, iv := range a.occurrences(t) {
		if !iv.Right.After(t) {
			continue
		}
		if !iv.Left.After(t) {
			return Interval{Left: t, Right: iv.Right}
		}
		return iv
	}
	return neverForward
}

// NextStart returns the first occurrence start strictly after t.
func (a Anchored) NextStart(t time.Time) time.Time {
	for _, iv := range a.occurrences(t) {
		if iv.Left.After(t) {
			return iv.Left
		}
	}
	return MaxTime
}

// NextEnd returns the first occurrence end strictly after t.
func (a Anchored) NextEnd(t time.Time) time.Time {
	for _, iv := range a.occurrences(t) {
		if iv.Right.After(t) {
			return iv.Right
		}
	}
	return MaxTime
}

func (a Anchored) String() string {
	if a.Start == a.End && a.Start == 0 {
		return "time of " + a.Scope.String()
	}
	return fmt.Sprintf("time of %s [%s, %s)", a.Scope, formatOffset(a.Start), formatOffset(a.End))
}

func formatOffset(d time.Duration) string {
	days := d / dayLen
	rem := d % dayLen
	h := rem / time.Hour
	m := (rem % time.Hour) / time.Minute
	s := (rem % time.Minute) / time.Second
	if days > 0 {
		return fmt.Sprintf("%dd%02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// ---- Constructors ----

// Full is the whole cycle, starting at the scope boundary.
func (s Scope) Full() Anchored { return Anchored{Scope: s} }

// Between is [start, end). An end naming a whole unit ("Fri", "15th", "Mar")
// includes that unit; clock times are exact.
func (s Scope) Between(start, end string) (Anchored, error) {
	a, err := s.parseAnchor(start)
	if err != nil {
		return Anchored{}, err
	}
	e, err := s.endOffset(end)
	if err != nil {
		return Anchored{}, err
	}
	if a.off >= s.Len() {
		return Anchored{}, fmt.Errorf("start %q is outside the %s", start, s)
	}
	return Anchored{Scope: s, Start: a.off, End: e}, nil
}

// After runs from start to the end of the cycle.
func (s Scope) After(start string) (Anchored, error) {
	a, err := s.parseAnchor(start)
	if err != nil {
		return Anchored{}, err
	}
	if a.off >= s.Len() {
		return Anchored{}, fmt.Errorf("start %q is outside the %s", start, s)
	}
	if a.off == 0 {
		return s.Full(), nil
	}
	return Anchored{Scope: s, Start: a.off, End: s.Len()}, nil
}

// Before runs from the start of the cycle to end.
func (s Scope) Before(end string) (Anchored, error) {
	e, err := s.endOffset(end)
	if err != nil {
		return Anchored{}, err
	}
	if e == 0 {
		return Anchored{}, fmt.Errorf("interval before %q is empty", end)
	}
	return Anchored{Scope: s, Start: 0, End: e}, nil
}

// On covers the whole unit named by v ("Monday", "10:00" is one minute).
func (s Scope) On(v string) (Anchored, error) {
	a, err := s.parseAnchor(v)
	if err != nil {
		return Anchored{}, err
	}
	end := a.off + a.unit
	if end > s.Len() {
		return Anchored{}, fmt.Errorf("%q is outside the %s", v, s)
	}
	return Anchored{Scope: s, Start: a.off, End: end}, nil
}

// Starting is a full cycle whose boundary is v.
func (s Scope) Starting(v string) (Anchored, error) {
	a, err := s.parseAnchor(v)
	if err != nil {
		return Anchored{}, err
	}
	if a.off >= s.Len() {
		return Anchored{}, fmt.Errorf("%q is outside the %s", v, s)
	}
	return Anchored{Scope: s, Start: a.off, End: a.off}, nil
}

func (s Scope) endOffset(v string) (time.Duration, error) {
	a, err := s.parseAnchor(v)
	if err != nil {
		return 0, err
	}
	e := a.off
	if a.whole {
		e += a.unit
	}
	if e > s.Len() {
		return 0, fmt.Errorf("end %q is outside the %s", v, s)
	}
	return e, nil
}

// Must panics on constructor errors; for package-level declarations.
func Must(a Anchored, err error) Anchored {
	if err != nil {
		panic(err)
	}
	return a
}
