package engine

import "sync"

// slots is a counting semaphore for child processes. The limit can change
// at runtime; lowering it never revokes held slots. A limit <= 0 is unbounded.
type slots struct {
	mu    sync.Mutex
	limit int
	used  int
}

func (s *slots) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.used >= s.limit {
		return false
	}
	s.used++
	return true
}

func (s *slots) release() {
	s.mu.Lock()
	if s.used > 0 {
		s.used--
	}
	s.mu.Unlock()
}

func (s *slots) setLimit(n int) {
	s.mu.Lock()
	s.limit = n
	s.mu.Unlock()
}

// free reports the number of free slots; -1 when unbounded.
func (s *slots) free() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit <= 0 {
		return -1
	}
	return max(s.limit-s.used, 0)
}

func (s *slots) stats() (used, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used, s.limit
}
