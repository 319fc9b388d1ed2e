package config

import (
	"reflect"
	"slices"

	logx "tempo/pkg/logx"
)

// Summarize lists the sections that differ between two projects and log
// fields describing the new values. Parameter values are never logged.
func Summarize(oldP, newP *Project) ([]string, []logx.Field) {
	if oldP == nil {
		oldP = &Project{}
	}
	if newP == nil {
		newP = &Project{}
	}
	changed := make([]string, 0, 5)
	fields := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldP.Session, newP.Session) {
		changed = append(changed, "session")
		s := newP.Session
		fields = append(fields,
			logx.String("session.cycle_sleep", s.CycleSleep),
			logx.String("session.timeout", s.Timeout),
			logx.Int("session.max_process_count", s.MaxProcessCount),
			logx.Bool("session.instant_shutdown", s.InstantShutdown),
			logx.Bool("session.force_status_from_logs", s.ForceStatusFromLogs),
		)
	}
	if oldP.Storage != newP.Storage {
		changed = append(changed, "storage")
		fields = append(fields, logx.String("storage.driver", newP.Storage.Driver))
	}
	if oldP.Logging != newP.Logging {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newP.Logging.Level),
			logx.Bool("logging.file", newP.Logging.File.Enabled),
			logx.Bool("logging.alert", newP.Logging.Alert.Enabled),
		)
	}
	if oldP.Status != newP.Status {
		changed = append(changed, "status")
		fields = append(fields,
			logx.Bool("status.enabled", newP.Status.Enabled),
			logx.String("status.addr", newP.Status.Addr),
			logx.Bool("status.token_set", newP.Status.Token != ""),
		)
	}
	if !reflect.DeepEqual(oldP.Params, newP.Params) {
		changed = append(changed, "params")
		fields = append(fields, logx.Int("params.count", len(newP.Params)))
	}
	if added, removed, edited := diffTasks(oldP.Tasks, newP.Tasks); len(added)+len(removed)+len(edited) > 0 {
		changed = append(changed, "tasks")
		fields = append(fields,
			logx.Any("tasks.added", added),
			logx.Any("tasks.removed", removed),
			logx.Any("tasks.changed", edited),
		)
	}
	return changed, fields
}

func diffTasks(oldT, newT []TaskDecl) (added, removed, edited []string) {
	byName := make(map[string]TaskDecl, len(oldT))
	for _, t := range oldT {
		byName[t.Name] = t
	}
	for _, t := range newT {
		prev, ok := byName[t.Name]
		switch {
		case !ok:
			added = append(added, t.Name)
		case !reflect.DeepEqual(prev, t):
			edited = append(edited, t.Name)
		}
		delete(byName, t.Name)
	}
	for name := range byName {
		removed = append(removed, name)
	}
	slices.Sort(removed)
	return added, removed, edited
}
