// Package arg implements task arguments: values resolved at dispatch time.
//
// Stage runs in the scheduler just before hand-off and produces an argument
// that is safe to pass to the worker; Value runs in the worker.
package arg

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrMissingParam   = errors.New("missing parameter")
	ErrMissingReturn  = errors.New("task has no return value")
	ErrProcessStaging = errors.New("argument cannot cross a process boundary")
)

// Magic parameter names bound to dispatch-time handles.
const (
	MagicTask      = "_task_"
	MagicSession   = "_session_"
	MagicTerminate = "_thread_terminate_"
)

// Env is what staging may read from the scheduler side.
type Env interface {
	Param(name string) (Argument, bool)
	Return(task string) (any, bool)
	TaskHandle() any
	SessionHandle() any
	// Process reports whether the staged value crosses a process boundary.
	Process() bool
}

type Argument interface {
	Stage(env Env) (Argument, error)
	Value(ctx context.Context) (any, error)
}

// ---- Value ----

// Value is a literal.
type Value struct{ V any }

func (v Value) Stage(Env) (Argument, error)        { return v, nil }
func (v Value) Value(context.Context) (any, error) { return v.V, nil }
func (v Value) String() string                     { return fmt.Sprint(v.V) }

// Private is a literal that never prints.
type Private struct{ V any }

func (p Private) Stage(Env) (Argument, error)        { return p, nil }
func (p Private) Value(context.Context) (any, error) { return p.V, nil }
func (p Private) String() string                     { return "*****" }
func (p Private) GoString() string                   { return "arg.Private{*****}" }

// ---- Arg ----

// Arg refers to a session parameter by name.
type Arg struct{ Name string }

func (a Arg) Stage(env Env) (Argument, error) {
	v, ok := env.Param(a.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingParam, a.Name)
	}
	if inner, ok := v.(Arg); ok && inner.Name == a.Name {
		return nil, fmt.Errorf("parameter %q refers to itself", a.Name)
	}
	return v.Stage(env)
}

func (a Arg) Value(context.Context) (any, error) {
	return nil, fmt.Errorf("parameter %q was not staged", a.Name)
}

// ---- FuncArg ----

// FuncArg calls Fn for its value. In process execution Fn runs while
// staging; otherwise it runs in the worker.
type FuncArg struct {
	Fn func(ctx context.Context) (any, error)
}

func (f FuncArg) Stage(env Env) (Argument, error) {
	if f.Fn == nil {
		return nil, errors.New("func argument has no function")
	}
	if env.Process() {
		v, err := f.Fn(context.Background())
		if err != nil {
			return nil, err
		}
		return Value{V: v}, nil
	}
	return f, nil
}

func (f FuncArg) Value(ctx context.Context) (any, error) { return f.Fn(ctx) }

// ---- Return ----

// Return is the latest return value of another task.
type Return struct {
	Task       string
	Default    any
	HasDefault bool
}

// ReturnOr is a Return with a default for tasks that have not returned.
func ReturnOr(task string, def any) Return {
	return Return{Task: task, Default: def, HasDefault: true}
}

func (r Return) Stage(env Env) (Argument, error) {
	if v, ok := env.Return(r.Task); ok {
		return Value{V: v}, nil
	}
	if r.HasDefault {
		return Value{V: r.Default}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrMissingReturn, r.Task)
}

func (r Return) Value(context.Context) (any, error) {
	return nil, fmt.Errorf("return of %q was not staged", r.Task)
}

// ---- Handles ----

// TaskHandle resolves to the dispatching task.
type TaskHandle struct{}

func (TaskHandle) Stage(env Env) (Argument, error) {
	if env.Process() {
		return nil, fmt.Errorf("%w: task handle", ErrProcessStaging)
	}
	return Value{V: env.TaskHandle()}, nil
}

func (TaskHandle) Value(context.Context) (any, error) {
	return nil, errors.New("task handle was not staged")
}

// SessionHandle resolves to the session.
type SessionHandle struct{}

func (SessionHandle) Stage(env Env) (Argument, error) {
	if env.Process() {
		return nil, fmt.Errorf("%w: session handle", ErrProcessStaging)
	}
	return Value{V: env.SessionHandle()}, nil
}

func (SessionHandle) Value(context.Context) (any, error) {
	return nil, errors.New("session handle was not staged")
}

// TerminationFlag resolves, in the worker, to the run's *Flag.
type TerminationFlag struct{}

func (f TerminationFlag) Stage(env Env) (Argument, error) {
	if env.Process() {
		return nil, fmt.Errorf("%w: termination flag", ErrProcessStaging)
	}
	return f, nil
}

func (TerminationFlag) Value(ctx context.Context) (any, error) { return FlagFrom(ctx), nil }

// ---- Flag ----

// Flag is a one-shot cooperative termination signal.
type Flag struct {
	once sync.Once
	ch   chan struct{}
}

func NewFlag() *Flag { return &Flag{ch: make(chan struct{})} }

func (f *Flag) Set() { f.once.Do(func() { close(f.ch) }) }

func (f *Flag) IsSet() bool {
	select {
	case <-f.ch:
		return true
	default:
		return false
	}
}

func (f *Flag) Done() <-chan struct{} { return f.ch }

type flagKey struct{}

// WithFlag binds f to ctx for TerminationFlag arguments.
func WithFlag(ctx context.Context, f *Flag) context.Context {
	return context.WithValue(ctx, flagKey{}, f)
}

// FlagFrom returns the flag bound to ctx, or a flag that is never set.
func FlagFrom(ctx context.Context) *Flag {
	if f, ok := ctx.Value(flagKey{}).(*Flag); ok && f != nil {
		return f
	}
	return NewFlag()
}

// ---- Params ----

// Params maps names to arguments.
type Params map[string]Argument

// Resolve builds the parameters forwarded to a task body. Without accepts,
// only the task's own parameters are forwarded. With accepts, each name is
// taken from the task parameters, then the session parameters, then the
// magic names.
func Resolve(accepts []string, task Params, session func(string) bool) (Params, error) {
	if accepts == nil {
		out := make(Params, len(task))
		for k, v := range task {
			out[k] = v
		}
		return out, nil
	}
	out := make(Params, len(accepts))
	for _, name := range accepts {
		if v, ok := task[name]; ok {
			out[name] = v
			continue
		}
		if session != nil && session(name) {
			out[name] = Arg{Name: name}
			continue
		}
		switch name {
		case MagicTask:
			out[name] = TaskHandle{}
		case MagicSession:
			out[name] = SessionHandle{}
		case MagicTerminate:
			out[name] = TerminationFlag{}
		default:
			return nil, fmt.Errorf("%w: %q", ErrMissingParam, name)
		}
	}
	return out, nil
}

// Stage stages every parameter; errors name the failing parameter.
func (p Params) Stage(env Env) (Params, error) {
	out := make(Params, len(p))
	for _, name := range p.Names() {
		staged, err := p[name].Stage(env)
		if err != nil {
			return nil, fmt.Errorf("staging %q: %w", name, err)
		}
		out[name] = staged
	}
	return out, nil
}

// Values materializes staged parameters in the worker.
func (p Params) Values(ctx context.Context) (Values, error) {
	out := make(Values, len(p))
	for _, name := range p.Names() {
		v, err := p[name].Value(ctx)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// Names returns the parameter names in sorted order.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Values are materialized parameters handed to task bodies.
type Values map[string]any

func (v Values) Get(name string) (any, bool) {
	x, ok := v[name]
	return x, ok
}

func (v Values) String(name string) string {
	x, ok := v[name]
	if !ok || x == nil {
		return ""
	}
	if s, ok := x.(string); ok {
		return s
	}
	return fmt.Sprint(x)
}

func (v Values) Int(name string) (int, bool) {
	switch x := v[name].(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case float64:
		return int(x), true
	}
	return 0, false
}

func (v Values) Bool(name string) bool {
	b, _ := v[name].(bool)
	return b
}

func (v Values) Duration(name string) (time.Duration, bool) {
	switch x := v[name].(type) {
	case time.Duration:
		return x, true
	case string:
		d, err := time.ParseDuration(x)
		return d, err == nil
	}
	return 0, false
}

// Flag returns the termination flag bound under MagicTerminate, if any.
func (v Values) Flag() *Flag {
	f, _ := v[MagicTerminate].(*Flag)
	return f
}

// CommandArgs renders values as --name=value flags, sorted by name. Magic
// names are skipped.
func (v Values) CommandArgs() []string {
	names := make([]string, 0, len(v))
	for k := range v {
		if strings.HasPrefix(k, "_") && strings.HasSuffix(k, "_") {
			continue
		}
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, k := range names {
		out = append(out, fmt.Sprintf("--%s=%v", k, v[k]))
	}
	return out
}
