package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"tempo/internal/arg"
	"tempo/internal/runtime/supervisor"
	"tempo/internal/storage"
	"tempo/internal/task"
	logx "tempo/pkg/logx"
)

// Service executes dispatched runs and queues their terminal records for
// the scheduler to drain.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	sup   *supervisor.Supervisor
	queue logQueue
	procs slots

	live map[*Handle]struct{}

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{cfg: cfg, log: log, live: map[*Handle]struct{}{}}
	s.procs.setLimit(cfg.MaxProcessCount)
	return s
}

// Apply updates runtime-safe settings.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = s.cfg.HistorySize
	}
	if cfg.Clock == nil {
		cfg.Clock = s.cfg.Clock
	}
	if cfg.OnControl == nil {
		cfg.OnControl = s.cfg.OnControl
	}
	s.cfg = cfg
	s.mu.Unlock()
	s.procs.setLimit(cfg.MaxProcessCount)
}

// Start prepares the worker supervisor. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log.With(logx.String("comp", "workers"))))
	s.log.Debug("task engine started", logx.Int("max_process_count", s.cfg.MaxProcessCount))
}

// Stop cancels worker contexts and waits for workers to exit or ctx to end.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	for _, h := range s.handles() {
		h.Terminate("engine stopped")
	}
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("task engine stop incomplete", logx.Any("err", err))
		return
	}
	s.log.Debug("task engine stopped")
}

// FreeProcessSlots is the number of free process slots; -1 when unbounded.
func (s *Service) FreeProcessSlots() int { return s.procs.free() }

// Dispatch starts a run. Main runs execute before Dispatch returns; their
// prerun failures are returned as *PrerunError. Other modes return as soon as
// the worker is started.
func (s *Service) Dispatch(ctx context.Context, j Job) (*Handle, error) {
	if j.Func == nil && j.Command == nil {
		return nil, fmt.Errorf("task %q: %w", j.Task, task.ErrNoBody)
	}
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	if sup == nil && j.Mode != task.Main {
		return nil, ErrStopped
	}
	if j.Start.IsZero() {
		j.Start = s.now()
	}

	h := newHandle(j)
	s.track(h)

	switch j.Mode {
	case task.Main, "":
		return h, s.runFunc(arg.WithFlag(ctx, h.flag), h, j)
	case task.Process:
		if j.Command == nil {
			s.untrack(h)
			return nil, fmt.Errorf("task %q: %w", j.Task, task.ErrNeedsCommand)
		}
		if !s.procs.tryAcquire() {
			s.untrack(h)
			return nil, ErrNoSlot
		}
		sup.Go(workerName(j), func(c context.Context) error {
			defer s.procs.release()
			s.runProcess(c, h, j)
			return nil
		})
	case task.Async:
		sup.Go(workerName(j), func(c context.Context) error {
			c, cancel := context.WithCancel(c)
			defer cancel()
			h.mu.Lock()
			h.cancel = cancel
			h.mu.Unlock()
			if t, _ := h.Terminated(); t {
				cancel()
			}
			_ = s.runFunc(c, h, j)
			return nil
		})
	case task.Thread:
		sup.Go(workerName(j), func(c context.Context) error {
			_ = s.runFunc(arg.WithFlag(context.WithoutCancel(c), h.flag), h, j)
			return nil
		})
	default:
		s.untrack(h)
		return nil, fmt.Errorf("task %q: unknown execution %q", j.Task, j.Mode)
	}
	return h, nil
}

func workerName(j Job) string { return "run." + j.Task + "." + j.RunID }

// Drain returns and clears the queued terminal records.
func (s *Service) Drain() []storage.Record { return s.queue.drain() }

// Wait blocks until every live run has queued its terminal record, or ctx
// ends.
func (s *Service) Wait(ctx context.Context) error {
	for _, h := range s.handles() {
		select {
		case <-h.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Live lists runs in flight.
func (s *Service) Live() []LiveRun {
	hs := s.handles()
	out := make([]LiveRun, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.live())
	}
	return out
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()

	used, limit := s.procs.stats()
	s.hmu.Lock()
	hist := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()

	snap := Snapshot{
		Running:      sup != nil,
		Live:         s.Live(),
		Queued:       s.queue.len(),
		ProcessUsed:  used,
		ProcessLimit: limit,
		History:      hist,
	}
	if sup != nil {
		snap.Supervisor = sup.Snapshot()
	}
	return snap
}

func (s *Service) now() time.Time {
	s.mu.Lock()
	clock := s.cfg.Clock
	s.mu.Unlock()
	return clock()
}

func (s *Service) control(err error) {
	s.mu.Lock()
	fn := s.cfg.OnControl
	s.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (s *Service) track(h *Handle) {
	s.mu.Lock()
	s.live[h] = struct{}{}
	s.mu.Unlock()
}

func (s *Service) untrack(h *Handle) {
	s.mu.Lock()
	delete(s.live, h)
	s.mu.Unlock()
}

// handles returns live handles ordered by start.
func (s *Service) handles() []*Handle {
	s.mu.Lock()
	out := make([]*Handle, 0, len(s.live))
	for h := range s.live {
		out = append(out, h)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b *Handle) int { return a.start.Compare(b.start) })
	return out
}

func (s *Service) remember(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()
	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}
