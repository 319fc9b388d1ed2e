package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrClosed        = errors.New("log repository closed")
	ErrInvalidRecord = errors.New("invalid log record")
)

// Action is the event a record describes.
type Action string

const (
	ActionRun       Action = "run"
	ActionSuccess   Action = "success"
	ActionFail      Action = "fail"
	ActionTerminate Action = "terminate"
	ActionInaction  Action = "inaction"
	ActionCrash     Action = "crash"
)

// Actions lists every action in declaration order.
var Actions = []Action{ActionRun, ActionSuccess, ActionFail, ActionTerminate, ActionInaction, ActionCrash}

// Terminal reports whether the action closes a run.
func (a Action) Terminal() bool {
	switch a {
	case ActionSuccess, ActionFail, ActionTerminate, ActionInaction, ActionCrash:
		return true
	}
	return false
}

func ParseAction(v string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(v)))
	if slices.Contains(Actions, a) {
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", v)
}

// Record is one task event.
type Record struct {
	TaskName string        `json:"task_name"`
	Action   Action        `json:"action"`
	Created  time.Time     `json:"created"`
	RunID    string        `json:"run_id,omitempty"`
	Start    time.Time     `json:"start,omitzero"`
	End      time.Time     `json:"end,omitzero"`
	Runtime  time.Duration `json:"runtime,omitzero"`
	ExcText  string        `json:"exc_text,omitempty"`
	Message  string        `json:"message,omitempty"`
	Return   any           `json:"__return__,omitempty"`
}

func (r Record) Validate() error {
	if strings.TrimSpace(r.TaskName) == "" {
		return fmt.Errorf("%w: task_name required", ErrInvalidRecord)
	}
	if !slices.Contains(Actions, r.Action) {
		return fmt.Errorf("%w: action %q", ErrInvalidRecord, r.Action)
	}
	if r.Created.IsZero() {
		return fmt.Errorf("%w: created required", ErrInvalidRecord)
	}
	return nil
}

// Query filters records. Zero fields do not filter; Since and Until are
// inclusive bounds on Created.
type Query struct {
	TaskName string
	Actions  []Action
	RunID    string
	Since    time.Time
	Until    time.Time
	// Limit caps the result after ordering; 0 means no cap.
	Limit int
	// Desc orders newest first.
	Desc bool
}

func (q Query) Match(r Record) bool {
	if q.TaskName != "" && r.TaskName != q.TaskName {
		return false
	}
	if len(q.Actions) > 0 && !slices.Contains(q.Actions, r.Action) {
		return false
	}
	if q.RunID != "" && r.RunID != q.RunID {
		return false
	}
	if !q.Since.IsZero() && r.Created.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && r.Created.After(q.Until) {
		return false
	}
	return true
}

// Repo is the append-only log repository.
type Repo interface {
	Add(ctx context.Context, r Record) error
	// Filter returns matching records ordered by Created (then insertion).
	Filter(ctx context.Context, q Query) ([]Record, error)
	Count(ctx context.Context, q Query) (int, error)
	Close() error
}

// First returns the oldest matching record.
func First(ctx context.Context, repo Repo, q Query) (Record, bool, error) {
	q.Desc, q.Limit = false, 1
	return one(ctx, repo, q)
}

// Last returns the newest matching record.
func Last(ctx context.Context, repo Repo, q Query) (Record, bool, error) {
	q.Desc, q.Limit = true, 1
	return one(ctx, repo, q)
}

func one(ctx context.Context, repo Repo, q Query) (Record, bool, error) {
	recs, err := repo.Filter(ctx, q)
	if err != nil || len(recs) == 0 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}

// MinCreated is the earliest Created among matching records.
func MinCreated(ctx context.Context, repo Repo, q Query) (time.Time, bool, error) {
	r, ok, err := First(ctx, repo, q)
	return r.Created, ok, err
}

// MaxCreated is the latest Created among matching records.
func MaxCreated(ctx context.Context, repo Repo, q Query) (time.Time, bool, error) {
	r, ok, err := Last(ctx, repo, q)
	return r.Created, ok, err
}

// Dangling returns run records that have no terminal record with the same
// run id, oldest first.
func Dangling(ctx context.Context, repo Repo, taskName string) ([]Record, error) {
	recs, err := repo.Filter(ctx, Query{TaskName: taskName})
	if err != nil {
		return nil, err
	}
	open := make(map[string]int)
	var runs []Record
	for _, r := range recs {
		switch {
		case r.Action == ActionRun:
			open[r.TaskName+"\x00"+r.RunID] = len(runs)
			runs = append(runs, r)
		case r.Action.Terminal():
			delete(open, r.TaskName+"\x00"+r.RunID)
		}
	}
	out := make([]Record, 0, len(open))
	for i, r := range runs {
		if idx, ok := open[r.TaskName+"\x00"+r.RunID]; ok && idx == i {
			out = append(out, r)
		}
	}
	return out, nil
}

// Config configures the repository.
//
// Driver values:
//   - "memory" (or empty): in-process only
//   - "file": JSON Lines at Path
//   - "sqlite": SQLite database at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
