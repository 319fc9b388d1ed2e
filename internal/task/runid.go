package task

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tempo/internal/arg"
)

// RunIDFunc produces the id shared by a run record and its terminal record.
type RunIDFunc func(t *Task, params arg.Params) string

// Counter returns a generator of per-task increasing integers.
func Counter() RunIDFunc {
	var (
		mu  sync.Mutex
		seq = map[string]uint64{}
	)
	return func(t *Task, _ arg.Params) string {
		mu.Lock()
		defer mu.Unlock()
		seq[t.Name]++
		return strconv.FormatUint(seq[t.Name], 10)
	}
}

// UUID returns random v4 ids.
func UUID() RunIDFunc {
	return func(*Task, arg.Params) string { return uuid.New().String() }
}

// RunIDByName maps a configured generator name to a generator.
func RunIDByName(name string) (RunIDFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "counter", "increment":
		return Counter(), nil
	case "uuid":
		return UUID(), nil
	}
	return nil, fmt.Errorf("unknown run id generator %q", name)
}
