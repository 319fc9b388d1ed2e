package session

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"tempo/internal/cond"
	"tempo/internal/config"
	"tempo/internal/task"
)

// OnExists decides what Add does when the name is taken.
type OnExists string

const (
	ExistsRaise   OnExists = "raise"
	ExistsReplace OnExists = "replace"
	ExistsIgnore  OnExists = "ignore"
	ExistsRename  OnExists = "rename"
)

// Restarting selects what a restart request does.
type Restarting string

const (
	// RestartReplace returns a *RestartError so the caller can re-exec the
	// binary in place.
	RestartReplace Restarting = "replace"
	// RestartRelaunch returns a *RestartError so the caller can start a new
	// process and exit.
	RestartRelaunch Restarting = "relaunch"
	// RestartFresh re-enters startup with caches reloaded from the logs and
	// the cycle counter reset.
	RestartFresh Restarting = "fresh"
	// RestartRecall re-enters startup keeping in-memory state.
	RestartRecall Restarting = "recall"
)

// Config holds the session options.
type Config struct {
	TaskExecution       task.Execution
	TaskPriority        int
	TaskPreExist        OnExists
	ForceStatusFromLogs bool
	SilenceTaskPrerun   bool
	SilenceTaskLogging  bool
	SilenceCondCheck    bool
	// CycleSleep is the pause between cycles; 0 does not sleep.
	CycleSleep time.Duration
	// MaxProcessCount caps live runs of a multilaunch task and concurrent
	// child processes; 0 uses the number of CPUs.
	MaxProcessCount int
	InstantShutdown bool
	// Timeout is the default per-run timeout; 0 disables it.
	Timeout    time.Duration
	ShutCond   cond.Condition
	Restarting Restarting
	// TimeFunc is the clock; nil uses time.Now.
	TimeFunc func() time.Time
	// Location anchors periods; nil uses time.Local.
	Location    *time.Location
	RunID       task.RunIDFunc
	Multilaunch bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TaskExecution:      task.Async,
		TaskPreExist:       ExistsRaise,
		SilenceTaskPrerun:  true,
		SilenceTaskLogging: true,
		SilenceCondCheck:   true,
		CycleSleep:         100 * time.Millisecond,
		MaxProcessCount:    runtime.NumCPU(),
		Timeout:            30 * time.Minute,
		Restarting:         RestartReplace,
		Location:           time.Local,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TaskExecution == "" {
		c.TaskExecution = def.TaskExecution
	}
	if c.TaskPreExist == "" {
		c.TaskPreExist = def.TaskPreExist
	}
	if c.Restarting == "" {
		c.Restarting = def.Restarting
	}
	if c.Location == nil {
		c.Location = def.Location
	}
	if c.MaxProcessCount == 0 {
		c.MaxProcessCount = def.MaxProcessCount
	}
	if c.TimeFunc == nil {
		c.TimeFunc = time.Now
	}
	if c.ShutCond == nil {
		c.ShutCond = cond.False
	}
	if c.RunID == nil {
		c.RunID = task.Counter()
	}
	return c
}

func (c Config) validate() error {
	if _, err := task.ParseExecution(string(c.TaskExecution)); err != nil {
		return fmt.Errorf("task_execution: %w", err)
	}
	switch c.TaskPreExist {
	case ExistsRaise, ExistsReplace, ExistsIgnore, ExistsRename:
	default:
		return fmt.Errorf("task_pre_exist: unknown policy %q", c.TaskPreExist)
	}
	switch c.Restarting {
	case RestartReplace, RestartRelaunch, RestartFresh, RestartRecall:
	default:
		return fmt.Errorf("restarting: unknown mode %q", c.Restarting)
	}
	if c.CycleSleep < 0 || c.Timeout < 0 {
		return fmt.Errorf("cycle_sleep and timeout must be >= 0")
	}
	if c.MaxProcessCount < 0 {
		return fmt.Errorf("max_process_count must be >= 0")
	}
	return nil
}

// ConfigFrom converts file options, parsing shut_cond with p. Options absent
// from the file keep the values in base.
func ConfigFrom(fc config.Session, base Config, p *cond.Parser) (Config, error) {
	c := base
	if fc.TaskExecution != "" {
		e, err := task.ParseExecution(fc.TaskExecution)
		if err != nil {
			return c, fmt.Errorf("task_execution: %w", err)
		}
		c.TaskExecution = e
	}
	if fc.TaskPriority != 0 {
		c.TaskPriority = fc.TaskPriority
	}
	if fc.TaskPreExist != "" {
		c.TaskPreExist = OnExists(strings.ToLower(fc.TaskPreExist))
	}
	c.ForceStatusFromLogs = fc.ForceStatusFromLogs
	setBool(&c.SilenceTaskPrerun, fc.SilenceTaskPrerun)
	setBool(&c.SilenceTaskLogging, fc.SilenceTaskLogging)
	setBool(&c.SilenceCondCheck, fc.SilenceCondCheck)

	var err error
	if c.CycleSleep, err = config.ParseDurationOrDefault("cycle_sleep", fc.CycleSleep, c.CycleSleep); err != nil {
		return c, err
	}
	if c.Timeout, err = config.ParseDurationOrDefault("timeout", fc.Timeout, c.Timeout); err != nil {
		return c, err
	}
	if fc.MaxProcessCount > 0 {
		c.MaxProcessCount = fc.MaxProcessCount
	}
	c.InstantShutdown = fc.InstantShutdown
	c.Multilaunch = fc.Multilaunch
	if fc.Restarting != "" {
		c.Restarting = Restarting(strings.ToLower(fc.Restarting))
	}
	if fc.Timezone != "" {
		if c.Location, err = config.LoadLocation(fc.Timezone); err != nil {
			return c, fmt.Errorf("timezone: %w", err)
		}
	}
	if fc.FuncRunID != "" {
		if c.RunID, err = task.RunIDByName(fc.FuncRunID); err != nil {
			return c, fmt.Errorf("func_run_id: %w", err)
		}
	}
	if fc.ShutCond != "" {
		if p == nil {
			p = cond.NewParser(c.Location)
		}
		if c.ShutCond, err = p.Parse(fc.ShutCond); err != nil {
			return c, fmt.Errorf("shut_cond: %w", err)
		}
	}
	c = c.withDefaults()
	return c, c.validate()
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// Live returns c with the fields of next that may change while the
// scheduler runs. Clock, location, run ids, task defaults and shut_cond
// stay as they are.
func (c Config) Live(next Config) Config {
	c.CycleSleep = next.CycleSleep
	c.SilenceTaskPrerun = next.SilenceTaskPrerun
	c.SilenceTaskLogging = next.SilenceTaskLogging
	c.SilenceCondCheck = next.SilenceCondCheck
	c.ForceStatusFromLogs = next.ForceStatusFromLogs
	c.InstantShutdown = next.InstantShutdown
	c.Timeout = next.Timeout
	c.MaxProcessCount = next.MaxProcessCount
	return c
}
