package session

import (
	"fmt"

	"tempo/internal/arg"
	"tempo/internal/config"
	"tempo/internal/task"
)

// LoadProject sets the project's parameters and registers its command
// tasks. Options are not touched; see ConfigFrom.
func (s *Session) LoadProject(p *config.Project) error {
	if p == nil {
		return nil
	}
	for name, v := range p.Params {
		s.SetParam(name, v)
	}
	for _, d := range p.Tasks {
		t, err := s.TaskFromDecl(d)
		if err != nil {
			return err
		}
		if _, err := s.Add(t); err != nil {
			return err
		}
	}
	return nil
}

// TaskFromDecl builds a process task from a file declaration, parsing its
// conditions with the session parser.
func (s *Session) TaskFromDecl(d config.TaskDecl) (*task.Task, error) {
	t := &task.Task{
		Name: d.Name,
		Command: &task.Command{
			Path: d.Command,
			Args: d.Args,
			Dir:  d.Dir,
			Env:  d.Env,
		},
		Execution:   task.Process,
		Priority:    d.Priority,
		Multilaunch: d.Multilaunch,
		MaxRuns:     d.MaxRuns,
		Disabled:    d.Disabled,
		OnStartup:   d.OnStartup,
		OnShutdown:  d.OnShutdown,
	}
	var err error
	if d.StartCond != "" {
		if t.Start, err = s.Cond(d.StartCond); err != nil {
			return nil, fmt.Errorf("task %q start_cond: %w", d.Name, err)
		}
	}
	if d.EndCond != "" {
		if t.End, err = s.Cond(d.EndCond); err != nil {
			return nil, fmt.Errorf("task %q end_cond: %w", d.Name, err)
		}
	}
	if t.Timeout, err = config.ParseDurationOrDefault("timeout", d.Timeout, 0); err != nil {
		return nil, fmt.Errorf("task %q: %w", d.Name, err)
	}
	if len(d.Params) > 0 {
		t.Params = make(arg.Params, len(d.Params))
		for k, v := range d.Params {
			t.Params[k] = arg.Value{V: v}
		}
	}
	return t, nil
}
