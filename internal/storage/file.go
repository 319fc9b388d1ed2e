package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "tempo/pkg/logx"
)

// fileRepo is a dependency-free persistent backend.
//
// Records are appended to a JSON Lines file and mirrored in memory; the file
// is replayed on open so history survives restarts.
type fileRepo struct {
	log logx.Logger

	mu   sync.Mutex
	file *os.File
	mem  *Memory
}

func openFile(cfg Config, log logx.Logger) (Repo, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	mem := NewMemory()
	skipped, err := replayRecords(path, mem)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped unreadable log records", logx.String("path", path), logx.Int("count", skipped))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileRepo{log: log, file: f, mem: mem}, nil
}

func replayRecords(path string, mem *Memory) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	skipped := 0
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for s.Scan() {
		line := s.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(line, &r); err != nil || r.Validate() != nil {
			skipped++
			continue
		}
		mem.appendLocked(r)
	}
	return skipped, s.Err()
}

func (s *fileRepo) Add(ctx context.Context, r Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.file).Encode(r); err != nil {
		return err
	}
	return s.mem.Add(ctx, r)
}

func (s *fileRepo) Filter(ctx context.Context, q Query) ([]Record, error) {
	return s.mem.Filter(ctx, q)
}

func (s *fileRepo) Count(ctx context.Context, q Query) (int, error) {
	return s.mem.Count(ctx, q)
}

func (s *fileRepo) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.file != nil {
		err = s.file.Close()
		s.file = nil
	}
	_ = s.mem.Close()
	return err
}
