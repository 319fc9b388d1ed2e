package period

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reWordPart = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)?\s*(milliseconds?|ms|seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w)\b`)
)

var wordUnits = map[string]time.Duration{
	"ms": time.Millisecond, "millisecond": time.Millisecond,
	"s": time.Second, "sec": time.Second, "second": time.Second,
	"m": time.Minute, "min": time.Minute, "minute": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hour": time.Hour,
	"d": dayLen, "day": dayLen,
	"w": 7 * dayLen, "week": 7 * dayLen,
}

// ParseDuration accepts Go durations ("1h30m"), HH:MM ("02:30") and word
// forms ("10 minutes", "1 hour 30 minutes", "2 days", "hour").
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("duration required")
	}
	if reHHMM.MatchString(s) {
		return parseHHMMDuration(s)
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("duration %q must not be negative", raw)
		}
		return d, nil
	}
	d, err := parseWords(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (use '10 minutes', '1h30m' or HH:MM)", raw)
	}
	return d, nil
}

func parseWords(s string) (time.Duration, error) {
	low := strings.ToLower(s)
	low = strings.ReplaceAll(low, ",", " ")
	low = strings.ReplaceAll(low, " and ", " ")
	matches := reWordPart.FindAllStringSubmatchIndex(low, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no units")
	}
	var (
		total time.Duration
		pos   int
	)
	for _, m := range matches {
		if strings.TrimSpace(low[pos:m[0]]) != "" {
			return 0, fmt.Errorf("unexpected %q", low[pos:m[0]])
		}
		pos = m[1]
		n := 1.0
		if m[2] >= 0 {
			v, err := strconv.ParseFloat(low[m[2]:m[3]], 64)
			if err != nil {
				return 0, err
			}
			n = v
		}
		unit := strings.TrimSuffix(low[m[4]:m[5]], "s")
		if unit == "" || unit == "m" && low[m[4]:m[5]] == "ms" {
			unit = low[m[4]:m[5]]
		}
		base, ok := wordUnits[unit]
		if !ok {
			return 0, fmt.Errorf("unknown unit %q", low[m[4]:m[5]])
		}
		total += time.Duration(n * float64(base))
	}
	if strings.TrimSpace(low[pos:]) != "" {
		return 0, fmt.Errorf("unexpected %q", low[pos:])
	}
	return total, nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
