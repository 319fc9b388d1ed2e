package config

import (
	"fmt"
	"strings"
)

// Project is the file a tempo deployment runs from.
//
// Example (YAML):
//
//	session:
//	  cycle_sleep: 100ms
//	  timezone: Europe/Helsinki
//	storage: { driver: sqlite, path: ./tempo.db }
//	tasks:
//	  - name: backup
//	    command: ./backup.sh
//	    start_cond: daily between 02:00 and 04:00
type Project struct {
	Session Session        `json:"session"`
	Storage StorageConfig  `json:"storage"`
	Logging LoggingConfig  `json:"logging"`
	Status  StatusConfig   `json:"status"`
	Params  map[string]any `json:"params,omitempty"`
	Tasks   []TaskDecl     `json:"tasks,omitempty"`
}

// Session mirrors the session options. Durations accept Go syntax ("100ms")
// or words ("10 minutes").
//
// Defaults (when fields are omitted):
//   - task_execution: async
//   - task_pre_exist: raise
//   - cycle_sleep: 100ms ("0s" disables sleeping)
//   - timeout: 30 minutes
//   - restarting: replace
//   - silence_*: true
//   - func_run_id: counter
type Session struct {
	TaskExecution       string `json:"task_execution,omitempty"`
	TaskPriority        int    `json:"task_priority,omitempty"`
	TaskPreExist        string `json:"task_pre_exist,omitempty"`
	ForceStatusFromLogs bool   `json:"force_status_from_logs,omitempty"`
	SilenceTaskPrerun   *bool  `json:"silence_task_prerun,omitempty"`
	SilenceTaskLogging  *bool  `json:"silence_task_logging,omitempty"`
	SilenceCondCheck    *bool  `json:"silence_cond_check,omitempty"`
	CycleSleep          string `json:"cycle_sleep,omitempty"`
	MaxProcessCount     int    `json:"max_process_count,omitempty"`
	InstantShutdown     bool   `json:"instant_shutdown,omitempty"`
	Timeout             string `json:"timeout,omitempty"`
	ShutCond            string `json:"shut_cond,omitempty"`
	Restarting          string `json:"restarting,omitempty"`
	Timezone            string `json:"timezone,omitempty"`
	FuncRunID           string `json:"func_run_id,omitempty"`
	Multilaunch         bool   `json:"multilaunch,omitempty"`
}

// TaskDecl declares a command task.
type TaskDecl struct {
	Name        string         `json:"name"`
	Command     string         `json:"command"`
	Args        []string       `json:"args,omitempty"`
	Dir         string         `json:"dir,omitempty"`
	Env         []string       `json:"env,omitempty"`
	StartCond   string         `json:"start_cond,omitempty"`
	EndCond     string         `json:"end_cond,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	Timeout     string         `json:"timeout,omitempty"`
	Multilaunch bool           `json:"multilaunch,omitempty"`
	MaxRuns     int            `json:"max_runs,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	OnStartup   bool           `json:"on_startup,omitempty"`
	OnShutdown  bool           `json:"on_shutdown,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// StorageConfig selects the log repository.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./tempo.db" }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string       `json:"level,omitempty"`
	Console bool         `json:"console"`
	File    LoggingFile  `json:"file"`
	Alert   LoggingAlert `json:"alert"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingAlert mirrors records at or above MinLevel to stderr, throttled.
type LoggingAlert struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StatusConfig controls the optional HTTP status server (/healthz, /status
// and pprof).
//
// Security:
//   - Prefer binding to localhost (default).
//   - A non-loopback Addr needs Token or AllowInsecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// Validate checks what can be checked without a session.
func (p *Project) Validate() error {
	if _, err := ParseDurationField("session.cycle_sleep", p.Session.CycleSleep); err != nil {
		return err
	}
	if _, err := ParseDurationField("session.timeout", p.Session.Timeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", p.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := LoadLocation(p.Session.Timezone); err != nil {
		return fmt.Errorf("session.timezone: %w", err)
	}
	if p.Session.MaxProcessCount < 0 {
		return fmt.Errorf("session.max_process_count must be >= 0")
	}
	seen := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return fmt.Errorf("tasks[%d]: name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("tasks[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("tasks[%d] %q: command is required", i, name)
		}
		if _, err := ParseDurationField(fmt.Sprintf("tasks[%d].timeout", i), t.Timeout); err != nil {
			return err
		}
	}
	return nil
}
