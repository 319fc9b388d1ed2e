// Package scheduler runs a session's condition-driven loop.
//
// Each cycle drains the records workers queued, checks shut_cond, then walks
// the tasks in priority order: runnable tasks are dispatched through the
// engine, others have their live runs checked against end_cond and timeouts.
// The loop is single-goroutine; workers only report through the engine's
// record queue.
package scheduler
