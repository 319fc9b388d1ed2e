package scheduler

import (
	"time"

	"tempo/internal/storage"
	"tempo/internal/task"
	"tempo/internal/task/engine"
)

// TaskInfo is a task as seen at the end of the last cycle.
type TaskInfo struct {
	Name        string         `json:"name"`
	Execution   task.Execution `json:"execution"`
	Priority    int            `json:"priority"`
	Status      storage.Action `json:"status,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	Running     int            `json:"running"`
	Runnable    bool           `json:"runnable"`
	Start       string         `json:"start_cond"`
	LastRun     time.Time      `json:"last_run,omitzero"`
	LastSuccess time.Time      `json:"last_success,omitzero"`
	LastFail    time.Time      `json:"last_fail,omitzero"`
}

type Snapshot struct {
	State   State           `json:"state"`
	Started time.Time       `json:"started,omitzero"`
	Cycles  int             `json:"cycles"`
	Tasks   []TaskInfo      `json:"tasks"`
	Engine  engine.Snapshot `json:"engine"`
}

// Snapshot returns the task view captured at the end of the last cycle and
// the live engine state. It is safe to call from any goroutine.
func (sc *Scheduler) Snapshot() Snapshot {
	sc.smu.Lock()
	snap := sc.snap
	snap.State = sc.state
	snap.Tasks = append([]TaskInfo(nil), sc.snap.Tasks...)
	sc.smu.Unlock()
	snap.Engine = sc.eng.Snapshot()
	return snap
}

// publishSnapshot captures task state; called by the Run goroutine only.
func (sc *Scheduler) publishSnapshot() {
	tasks := sc.s.Tasks()
	infos := make([]TaskInfo, 0, len(tasks))

	sc.smu.Lock()
	defer sc.smu.Unlock()
	for _, t := range tasks {
		infos = append(infos, TaskInfo{
			Name:        t.Name,
			Execution:   t.Execution,
			Priority:    t.Priority,
			Status:      t.Status(),
			Disabled:    t.Disabled,
			Running:     t.Running(),
			Runnable:    sc.runnable[t.Name],
			Start:       t.Start.String(),
			LastRun:     t.Last(storage.ActionRun),
			LastSuccess: t.Last(storage.ActionSuccess),
			LastFail:    t.Last(storage.ActionFail),
		})
	}
	sc.snap = Snapshot{
		Started: sc.s.SchedulerStarted(),
		Cycles:  sc.s.Cycles(),
		Tasks:   infos,
	}
}
