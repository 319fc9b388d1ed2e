package cond

import "slices"

// TaskRefs lists the task names c refers to explicitly, in first-seen
// order. Statements bound to the evaluating task contribute nothing.
func TaskRefs(c Condition) []string {
	var out []string
	add := func(names ...string) {
		for _, n := range names {
			if n != "" && !slices.Contains(out, n) {
				out = append(out, n)
			}
		}
	}
	var walk func(Condition)
	walk = func(c Condition) {
		switch v := c.(type) {
		case AllOf:
			for _, s := range v.Subs {
				walk(s)
			}
		case AnyOf:
			for _, s := range v.Subs {
				walk(s)
			}
		case NotOf:
			walk(v.Sub)
		case History:
			add(v.Task)
		case TaskRunning:
			add(v.Task)
		case TaskExecutable:
			add(v.Task)
		case Retry:
			add(v.Task)
		case Depend:
			add(v.Task, v.Parent)
		}
	}
	if c != nil {
		walk(c)
	}
	return out
}
