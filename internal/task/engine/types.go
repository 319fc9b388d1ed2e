package engine

import (
	"sync"
	"time"

	"tempo/internal/arg"
	"tempo/internal/runtime/supervisor"
	"tempo/internal/storage"
	"tempo/internal/task"
)

// Config controls the engine.
type Config struct {
	// MaxProcessCount caps concurrent child processes; <= 0 is unbounded.
	MaxProcessCount int
	// HistorySize bounds the finished-run history kept for diagnostics.
	HistorySize int
	// Clock stamps records; defaults to time.Now.
	Clock func() time.Time
	// OnControl receives task.ErrSchedulerExit or task.ErrSchedulerRestart
	// when a body returns one of them.
	OnControl func(err error)
}

// Job is one dispatch handed to the engine. Params must already be staged.
type Job struct {
	Task    string
	RunID   string
	Mode    task.Execution
	Func    task.Func
	Command *task.Command
	Params  arg.Params
	Start   time.Time
}

// HistoryItem is a finished run.
type HistoryItem struct {
	Task     string         `json:"task"`
	RunID    string         `json:"run_id"`
	Mode     task.Execution `json:"mode"`
	Action   storage.Action `json:"action"`
	Started  time.Time      `json:"started"`
	Duration time.Duration  `json:"duration"`
	Error    string         `json:"error,omitempty"`
}

// LiveRun describes a run in flight.
type LiveRun struct {
	Task       string         `json:"task"`
	RunID      string         `json:"run_id"`
	Mode       task.Execution `json:"mode"`
	Started    time.Time      `json:"started"`
	Terminated bool           `json:"terminated"`
}

// Snapshot is a lightweight view for diagnostics.
type Snapshot struct {
	Running      bool                `json:"running"`
	Live         []LiveRun           `json:"live"`
	Queued       int                 `json:"queued"`
	ProcessUsed  int                 `json:"process_used"`
	ProcessLimit int                 `json:"process_limit"`
	History      []HistoryItem       `json:"history"`
	Supervisor   supervisor.Snapshot `json:"supervisor"`
}

// logQueue carries terminal records from workers to the scheduler.
type logQueue struct {
	mu   sync.Mutex
	recs []storage.Record
}

func (q *logQueue) push(r storage.Record) {
	q.mu.Lock()
	q.recs = append(q.recs, r)
	q.mu.Unlock()
}

func (q *logQueue) drain() []storage.Record {
	q.mu.Lock()
	out := q.recs
	q.recs = nil
	q.mu.Unlock()
	return out
}

func (q *logQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.recs)
}
