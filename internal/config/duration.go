package config

import (
	"fmt"
	"strings"
	"time"

	"tempo/internal/period"
)

// ParseDurationField parses a Go or word duration. Empty is 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := period.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	return d, nil
}

// ParseDurationOrDefault returns def when raw is empty.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseDurationField(path, raw)
}

// LoadLocation accepts IANA names, "local", "utc" and fixed offsets such as
// "+12:00" or "UTC-05:30". Empty is time.Local.
func LoadLocation(raw string) (*time.Location, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "", "local":
		return time.Local, nil
	case "utc", "z":
		return time.UTC, nil
	}
	off := strings.TrimPrefix(strings.TrimPrefix(s, "UTC"), "utc")
	if off != "" && (off[0] == '+' || off[0] == '-') {
		t, err := time.Parse("-07:00", normalizeOffset(off))
		if err != nil {
			return nil, fmt.Errorf("invalid offset %q", raw)
		}
		_, secs := t.Zone()
		return time.FixedZone("UTC"+off, secs), nil
	}
	return time.LoadLocation(s)
}

// normalizeOffset turns "+12", "+1200" and "+12:00" into "+12:00".
func normalizeOffset(off string) string {
	sign, rest := off[:1], strings.ReplaceAll(off[1:], ":", "")
	switch len(rest) {
	case 1:
		rest = "0" + rest + "00"
	case 2:
		rest += "00"
	case 3:
		rest = "0" + rest
	}
	if len(rest) != 4 {
		return off
	}
	return sign + rest[:2] + ":" + rest[2:]
}
