package cond

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"tempo/internal/period"
)

var (
	reQuoted = regexp.MustCompile(`'([^']+)'`)
	reAnd    = regexp.MustCompile(`(?i)\s+and\s+`)
)

const (
	anchorMods = `starting|between|after|before|on`
	comparison = `(?:(?P<cmp>more than|less than|at least|at most|exactly)\s+)?(?P<n>\d+)`
)

func (p *Parser) builtinPatterns() []pattern {
	return []pattern{
		mustLeaf(`(?:always\s+)?true`, func(map[string]string) (Condition, error) { return True, nil }),
		mustLeaf(`(?:always\s+)?false`, func(map[string]string) (Condition, error) { return False, nil }),

		mustLeaf(`every\s+(?P<d>.+)`, func(g map[string]string) (Condition, error) {
			d, err := period.ParseDuration(g["d"])
			if err != nil {
				return nil, err
			}
			return TaskExecutable{Period: period.TimeDelta{Past: d}}, nil
		}),
		mustLeaf(`past\s+(?P<d>.+)`, func(g map[string]string) (Condition, error) {
			d, err := period.ParseDuration(g["d"])
			if err != nil {
				return nil, err
			}
			return SchedulerStarted{Period: period.TimeDelta{Past: d}}, nil
		}),

		mustLeaf(`(?P<freq>minutely|hourly|daily|weekly|monthly|yearly)(?:\s+(?P<mod>`+anchorMods+`)\s+(?P<rest>.+))?`,
			func(g map[string]string) (Condition, error) {
				scope, err := period.ParseScope(g["freq"])
				if err != nil {
					return nil, err
				}
				p, err := anchored(scope, g["mod"], g["rest"])
				if err != nil {
					return nil, err
				}
				return TaskExecutable{Period: p}, nil
			}),

		mustLeaf(`time\s+of\s+(?P<scope>minute|hour|day|week|month|year)\s+(?P<mod>`+anchorMods+`)\s+(?P<rest>.+)`,
			func(g map[string]string) (Condition, error) {
				scope, err := period.ParseScope(g["scope"])
				if err != nil {
					return nil, err
				}
				p, err := anchored(scope, g["mod"], g["rest"])
				if err != nil {
					return nil, err
				}
				return IsPeriod{Period: p}, nil
			}),

		mustLeaf(`cron\s+(?P<expr>.+)`, func(g map[string]string) (Condition, error) {
			c, err := period.ParseCron(g["expr"], p.Location)
			if err != nil {
				return nil, err
			}
			return TaskExecutable{Period: c}, nil
		}),

		mustLeaf(`task\s+'(?P<task>[^']+)'\s+is\s+running`, func(g map[string]string) (Condition, error) {
			return TaskRunning{Task: g["task"]}, nil
		}),

		mustLeaf(`task\s+'(?P<task>[^']+)'\s+has\s+(?P<kind>started|succeeded|failed|terminated|finished|inacted|crashed)`+
			`(?:\s+`+comparison+`(?:\s+times?)?)?(?:\s+(?P<span>.+))?`,
			func(g map[string]string) (Condition, error) {
				h := History{Task: g["task"], Kind: parseKind(g["kind"])}
				if g["span"] != "" {
					sp, err := parseSpan(g["span"])
					if err != nil {
						return nil, err
					}
					h.Period = sp
				}
				if g["n"] != "" {
					b, err := parseBounds(g["cmp"], g["n"])
					if err != nil {
						return nil, err
					}
					h.Bounds = b
				}
				return h, nil
			}),

		mustLeaf(`after\s+tasks?\s+(?P<list>'[^']+'(?:\s*(?:,|and)\s*'[^']+')*)(?:\s+(?P<what>succeeded|failed|finished))?`,
			func(g map[string]string) (Condition, error) {
				var subs []Condition
				for _, m := range reQuoted.FindAllStringSubmatch(g["list"], -1) {
					switch strings.ToLower(g["what"]) {
					case "failed":
						subs = append(subs, DependFailure(m[1]))
					case "finished":
						subs = append(subs, DependFinish(m[1]))
					default:
						subs = append(subs, DependSuccess(m[1]))
					}
				}
				return All(subs...), nil
			}),

		mustLeaf(`env\s+'(?P<env>[^']+)'`, func(g map[string]string) (Condition, error) {
			return IsEnv(g["env"]), nil
		}),
		mustLeaf(`param\s+(?P<list>'[^']+'(?:\s*(?:,|and)\s*'[^']+')*)\s+exists?`, func(g map[string]string) (Condition, error) {
			var keys []string
			for _, m := range reQuoted.FindAllStringSubmatch(g["list"], -1) {
				keys = append(keys, m[1])
			}
			return ParamExists{Keys: keys}, nil
		}),

		mustLeaf(`scheduler\s+has\s+run\s+over\s+(?P<d>.+)`, func(g map[string]string) (Condition, error) {
			d, err := period.ParseDuration(g["d"])
			if err != nil {
				return nil, err
			}
			return Not(SchedulerStarted{Period: period.TimeDelta{Past: d}}), nil
		}),
		mustLeaf(`scheduler\s+has\s+run\s+`+comparison+`\s+cycles?`, func(g map[string]string) (Condition, error) {
			b, err := parseBounds(g["cmp"], g["n"])
			if err != nil {
				return nil, err
			}
			return SchedulerCycles{Bounds: b}, nil
		}),
		mustLeaf(`scheduler\s+started\s+(?P<span>.+)`, func(g map[string]string) (Condition, error) {
			sp, err := parseSpan(g["span"])
			if err != nil {
				return nil, err
			}
			return SchedulerStarted{Period: sp}, nil
		}),
	}
}

func parseKind(v string) Kind {
	for k, name := range kindNames {
		if strings.EqualFold(name, v) {
			return k
		}
	}
	return 0
}

func parseBounds(cmp, n string) (Bounds, error) {
	v, err := strconv.Atoi(n)
	if err != nil {
		return Bounds{}, err
	}
	switch strings.ToLower(strings.Join(strings.Fields(cmp), " ")) {
	case "more than":
		return Bounds{Gt: intp(v)}, nil
	case "less than":
		return Bounds{Lt: intp(v)}, nil
	case "at least":
		return Bounds{Ge: intp(v)}, nil
	case "at most":
		return Bounds{Le: intp(v)}, nil
	case "", "exactly":
		return Bounds{Eq: intp(v)}, nil
	}
	return Bounds{}, fmt.Errorf("unknown comparison %q", cmp)
}

// anchored builds "<mod> <rest>" within scope; an empty mod is the full cycle.
func anchored(scope period.Scope, mod, rest string) (period.Period, error) {
	switch strings.ToLower(mod) {
	case "":
		return scope.Full(), nil
	case "between":
		parts := reAnd.Split(rest, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("expected 'between <start> and <end>'")
		}
		return scope.Between(parts[0], parts[1])
	case "after":
		return scope.After(rest)
	case "before":
		return scope.Before(rest)
	case "on":
		return scope.On(rest)
	case "starting":
		return scope.Starting(rest)
	}
	return nil, fmt.Errorf("unknown modifier %q", mod)
}

var (
	reThis     = regexp.MustCompile(`(?i)^this\s+(minute|hour|day|week|month|year)$`)
	rePast     = regexp.MustCompile(`(?i)^(?:in\s+)?past\s+(.+)$`)
	reTimeOf   = regexp.MustCompile(`(?i)^(?:time\s+of\s+)?(minute|hour|day|week|month|year|minutely|hourly|daily|weekly|monthly|yearly)\s+(` + anchorMods + `)\s+(.+)$`)
	reTodayMod = regexp.MustCompile(`(?i)^(?:today\s+)?(` + anchorMods + `)\s+(.+)$`)
)

// parseSpan reads the time-span suffix of history sentences: "today",
// "this week", "past 2 hours", "between 10:00 and 11:00",
// "time of week on Monday".
func parseSpan(s string) (period.Period, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "today") {
		return period.Day.Full(), nil
	}
	if m := reThis.FindStringSubmatch(s); m != nil {
		scope, err := period.ParseScope(m[1])
		if err != nil {
			return nil, err
		}
		return scope.Full(), nil
	}
	if m := rePast.FindStringSubmatch(s); m != nil {
		d, err := period.ParseDuration(m[1])
		if err != nil {
			return nil, err
		}
		return period.TimeDelta{Past: d}, nil
	}
	if m := reTimeOf.FindStringSubmatch(s); m != nil {
		scope, err := period.ParseScope(m[1])
		if err != nil {
			return nil, err
		}
		return anchored(scope, m[2], m[3])
	}
	if m := reTodayMod.FindStringSubmatch(s); m != nil {
		return anchored(period.Day, m[1], m[2])
	}
	return nil, fmt.Errorf("unknown time span %q", s)
}
