package app

import (
	"context"
	"fmt"
	"strings"

	"tempo/internal/cond"
	"tempo/pkg/systemdmanager"
)

// unitPattern adds "unit '<name>' is <state>" to the condition language.
const unitPattern = `unit\s+'(?P<unit>[^']+)'\s+is\s+(?P<state>active|inactive|failed|enabled|disabled|missing)`

func registerUnitConditions(p *cond.Parser, units *systemdmanager.Manager) error {
	return p.Register(unitPattern, func(g map[string]string) (cond.Condition, error) {
		return UnitCondition(units, g["unit"], strings.ToLower(g["state"]))
	})
}

// UnitCondition is true while the systemd unit is in state. State is one of
// active, inactive, failed, enabled, disabled or missing.
func UnitCondition(units *systemdmanager.Manager, unit, state string) (cond.Condition, error) {
	var match func(systemdmanager.State) bool
	switch state {
	case "active", "inactive", "failed":
		match = func(s systemdmanager.State) bool { return s.Found() && s.Active == state }
	case "enabled":
		match = func(s systemdmanager.State) bool { return s.Found() && s.Enabled }
	case "disabled":
		match = func(s systemdmanager.State) bool { return s.Found() && !s.Enabled }
	case "missing":
		match = func(s systemdmanager.State) bool { return !s.Found() }
	default:
		return nil, fmt.Errorf("unknown unit state %q", state)
	}
	return cond.Func{
		Name: fmt.Sprintf("unit '%s' is %s", unit, state),
		Fn: func(c *cond.Context) (bool, error) {
			ctx := c.Ctx
			if ctx == nil {
				ctx = context.Background()
			}
			st, err := units.State(ctx, unit)
			if err != nil {
				return false, err
			}
			return match(st), nil
		},
	}, nil
}
