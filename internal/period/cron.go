package period

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Cron periods are minute-granular: a minute belongs to the period when the
// schedule fires at its start. Each firing is its own one-minute occurrence,
// except that a minute field of plain ranges ("0-5") joins consecutive
// firings into one window.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var cronLookback = []time.Duration{
	time.Hour,
	dayLen,
	8 * dayLen,
	32 * dayLen,
	367 * dayLen,
	4 * 366 * dayLen,
}

const (
	maxCronBlock   = 24 * 60
	maxCronMatches = 1 << 16
)

// Cron is a period backed by a crontab expression.
type Cron struct {
	Expr     string
	Location *time.Location

	sched  cron.Schedule
	window bool
}

// ParseCron parses a five-field crontab expression or a descriptor such as
// "@daily". loc anchors the schedule; nil keeps each timestamp's own zone.
func ParseCron(expr string, loc *time.Location) (*Cron, error) {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "@every") {
		return nil, fmt.Errorf("cron %q: @every has no fixed occurrences", expr)
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cron %q: %w", expr, err)
	}
	return &Cron{Expr: expr, Location: loc, sched: sched, window: rangedMinutes(expr)}, nil
}

// rangedMinutes reports whether the minute field is made of plain ranges
// such as "0-5" or "0-5,30-35". Wildcards, steps and single minutes fire in
// separate occurrences.
func rangedMinutes(expr string) bool {
	if strings.HasPrefix(expr, "@") {
		return false
	}
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return false
	}
	f := fields[0]
	return strings.Contains(f, "-") && !strings.ContainsAny(f, "*/?")
}

func (c *Cron) in(t time.Time) time.Time {
	if c.Location != nil {
		return t.In(c.Location)
	}
	return t
}

func minuteOf(t time.Time) time.Time {
	y, mo, d := t.Date()
	h, mi, _ := t.Clock()
	return time.Date(y, mo, d, h, mi, 0, 0, t.Location())
}

func (c *Cron) matches(m time.Time) bool {
	return c.sched.Next(m.Add(-time.Second)).Equal(m)
}

func (c *Cron) blockStart(m time.Time) time.Time {
	if !c.window {
		return m
	}
	for iter := 0; iter < maxCronBlock; iter++ {
		prev := m.Add(-time.Minute)
		if !c.matches(prev) {
			break
		}
		m = prev
	}
	return m
}

// blockEnd returns the first non-firing minute at or after m.
func (c *Cron) blockEnd(m time.Time) time.Time {
	if !c.window {
		if c.matches(m) {
			return m.Add(time.Minute)
		}
		return m
	}
	for iter := 0; iter < maxCronBlock; iter++ {
		if !c.matches(m) {
			break
		}
		m = m.Add(time.Minute)
	}
	return m
}

func (c *Cron) lastMatch(t time.Time) (time.Time, bool) {
	for _, w := range cronLookback {
		var last time.Time
		found := false
		n := c.sched.Next(t.Add(-w).Add(-time.Second))
		for i := 0; i < maxCronMatches && !n.IsZero() && n.Before(t); i++ {
			last, found = n, true
			n = c.sched.Next(n)
		}
		if found {
			return last, true
		}
	}
	return time.Time{}, false
}

func (c *Cron) Contains(t time.Time) bool {
	return c.matches(minuteOf(c.in(t)))
}

func (c *Cron) Rollback(t time.Time) Interval {
	t = c.in(t)
	m := minuteOf(t)
	if c.matches(m) {
		return Interval{Left: c.blockStart(m), Right: t}
	}
	last, ok := c.lastMatch(t)
	if !ok {
		return neverBack
	}
	return Interval{Left: c.blockStart(last), Right: last.Add(time.Minute)}
}

func (c *Cron) Rollforward(t time.Time) Interval {
	t = c.in(t)
	m := minuteOf(t)
	if c.matches(m) {
		return Interval{Left: t, Right: c.blockEnd(m)}
	}
	n := c.sched.Next(t)
	if n.IsZero() {
		return neverForward
	}
	return Interval{Left: n, Right: c.blockEnd(n)}
}

func (c *Cron) NextStart(t time.Time) time.Time {
	t = c.in(t)
	m := minuteOf(t)
	from := t
	if c.matches(m) {
		from = c.blockEnd(m).Add(-time.Second)
	}
	n := c.sched.Next(from)
	if n.IsZero() {
		return MaxTime
	}
	return n
}

func (c *Cron) NextEnd(t time.Time) time.Time {
	t = c.in(t)
	m := minuteOf(t)
	if c.matches(m) {
		return c.blockEnd(m)
	}
	n := c.sched.Next(t)
	if n.IsZero() {
		return MaxTime
	}
	return c.blockEnd(n)
}

func (c *Cron) String() string { return "cron " + c.Expr }
