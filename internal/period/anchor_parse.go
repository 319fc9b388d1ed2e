package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// anchor is a parsed position inside a scope. unit is the length of the
// smallest element named; whole is set when that element is a named unit
// (weekday, ordinal day, month) rather than a clock reading.
type anchor struct {
	off   time.Duration
	unit  time.Duration
	whole bool
}

var weekdays = map[string]int{
	"mon": 0, "monday": 0,
	"tue": 1, "tues": 1, "tuesday": 1,
	"wed": 2, "wednesday": 2,
	"thu": 3, "thur": 3, "thurs": 3, "thursday": 3,
	"fri": 4, "friday": 4,
	"sat": 5, "saturday": 5,
	"sun": 6, "sunday": 6,
}

var months = map[string]int{
	"jan": 0, "january": 0,
	"feb": 1, "february": 1,
	"mar": 2, "march": 2,
	"apr": 3, "april": 3,
	"may": 4,
	"jun": 5, "june": 5,
	"jul": 6, "july": 6,
	"aug": 7, "august": 7,
	"sep": 8, "sept": 8, "september": 8,
	"oct": 9, "october": 9,
	"nov": 10, "november": 10,
	"dec": 11, "december": 11,
}

func (s Scope) parseAnchor(raw string) (anchor, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return anchor{}, fmt.Errorf("empty %s anchor", s)
	}
	var (
		a   anchor
		err error
	)
	switch s {
	case Minute:
		a, err = parseSeconds(v)
	case Hour:
		a, err = parseMinuteClock(v)
	case Day:
		a, err = parseClock(v)
	case Week:
		a, err = parseWeekAnchor(v)
	case Month:
		a, err = parseMonthAnchor(v)
	case Year:
		a, err = parseYearAnchor(v)
	default:
		err = fmt.Errorf("unknown scope")
	}
	if err != nil {
		return anchor{}, fmt.Errorf("invalid %s anchor %q: %w", s, raw, err)
	}
	if a.off > s.Len() {
		return anchor{}, fmt.Errorf("invalid %s anchor %q: outside the cycle", s, raw)
	}
	return a, nil
}

func atoiRange(v string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d is outside %d..%d", n, lo, hi)
	}
	return n, nil
}

// parseSeconds reads "SS" within a minute.
func parseSeconds(v string) (anchor, error) {
	n, err := atoiRange(v, 0, 60)
	if err != nil {
		return anchor{}, err
	}
	return anchor{off: time.Duration(n) * time.Second, unit: time.Second}, nil
}

// parseMinuteClock reads "MM" or "MM:SS" within an hour.
func parseMinuteClock(v string) (anchor, error) {
	parts := strings.Split(v, ":")
	if len(parts) > 2 {
		return anchor{}, fmt.Errorf("expected MM or MM:SS")
	}
	mm, err := atoiRange(parts[0], 0, 60)
	if err != nil {
		return anchor{}, err
	}
	a := anchor{off: time.Duration(mm) * time.Minute, unit: time.Minute}
	if len(parts) == 2 {
		ss, err := atoiRange(parts[1], 0, 59)
		if err != nil {
			return anchor{}, err
		}
		a.off += time.Duration(ss) * time.Second
		a.unit = time.Second
	}
	if a.off > time.Hour {
		return anchor{}, fmt.Errorf("past the end of the hour")
	}
	return a, nil
}

// parseClock reads "HH", "HH:MM" or "HH:MM:SS" within a day; "24:00" is the
// end of the day.
func parseClock(v string) (anchor, error) {
	parts := strings.Split(v, ":")
	if len(parts) > 3 {
		return anchor{}, fmt.Errorf("expected HH:MM[:SS]")
	}
	hh, err := atoiRange(parts[0], 0, 24)
	if err != nil {
		return anchor{}, err
	}
	a := anchor{off: time.Duration(hh) * time.Hour, unit: time.Hour}
	if len(parts) >= 2 {
		mm, err := atoiRange(parts[1], 0, 59)
		if err != nil {
			return anchor{}, err
		}
		a.off += time.Duration(mm) * time.Minute
		a.unit = time.Minute
	}
	if len(parts) == 3 {
		ss, err := atoiRange(parts[2], 0, 59)
		if err != nil {
			return anchor{}, err
		}
		a.off += time.Duration(ss) * time.Second
		a.unit = time.Second
	}
	if a.off > dayLen {
		return anchor{}, fmt.Errorf("past the end of the day")
	}
	return a, nil
}

// withClock adds an optional trailing clock reading to a named-unit anchor.
func withClock(base anchor, rest []string) (anchor, error) {
	if len(rest) == 0 {
		return base, nil
	}
	if len(rest) > 1 {
		return anchor{}, fmt.Errorf("unexpected %q", strings.Join(rest[1:], " "))
	}
	c, err := parseClock(rest[0])
	if err != nil {
		return anchor{}, err
	}
	return anchor{off: base.off + c.off, unit: c.unit}, nil
}

// parseWeekAnchor reads "Mon" or "Monday 10:00".
func parseWeekAnchor(v string) (anchor, error) {
	f := strings.Fields(v)
	d, ok := weekdays[strings.ToLower(f[0])]
	if !ok {
		return anchor{}, fmt.Errorf("unknown weekday %q", f[0])
	}
	return withClock(anchor{off: time.Duration(d) * dayLen, unit: dayLen, whole: true}, f[1:])
}

// parseOrdinal reads "1st", "2nd", "3rd", "15th" or a bare day number.
func parseOrdinal(v string) (int, error) {
	low := strings.ToLower(v)
	for _, suf := range []string{"st", "nd", "rd", "th"} {
		if strings.HasSuffix(low, suf) {
			low = strings.TrimSuffix(low, suf)
			break
		}
	}
	return atoiRange(low, 1, 31)
}

// parseMonthAnchor reads "15th" or "1st 10:00".
func parseMonthAnchor(v string) (anchor, error) {
	f := strings.Fields(v)
	d, err := parseOrdinal(f[0])
	if err != nil {
		return anchor{}, err
	}
	return withClock(anchor{off: time.Duration(d-1) * dayLen, unit: dayLen, whole: true}, f[1:])
}

// parseYearAnchor reads "Jan", "Mar 15th" or "Mar 15th 10:00".
func parseYearAnchor(v string) (anchor, error) {
	f := strings.Fields(v)
	m, ok := months[strings.ToLower(f[0])]
	if !ok {
		return anchor{}, fmt.Errorf("unknown month %q", f[0])
	}
	base := anchor{off: time.Duration(m) * monthLen, unit: monthLen, whole: true}
	if len(f) == 1 {
		return base, nil
	}
	d, err := parseOrdinal(f[1])
	if err != nil {
		return anchor{}, err
	}
	base.off += time.Duration(d-1) * dayLen
	base.unit = dayLen
	return withClock(base, f[2:])
}
