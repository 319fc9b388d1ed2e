//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
)

type dbusQuerier struct{ conn *dbus.Conn }

func dialSystem(ctx context.Context) (querier, error) {
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &dbusQuerier{conn: conn}, nil
}

func (d *dbusQuerier) state(ctx context.Context, unit string) (State, error) {
	props, err := d.conn.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		if isNoSuchUnitErr(err) {
			return State{Active: "unknown", Sub: "not-found", Load: "not-found"}, nil
		}
		return State{}, fmt.Errorf("failed to get status for %s: %w", unit, err)
	}
	st := State{
		Active: stringProperty(props, "ActiveState"),
		Sub:    stringProperty(props, "SubState"),
		Load:   stringProperty(props, "LoadState"),
	}
	if !st.Found() {
		return State{Active: "unknown", Sub: "not-found", Load: "not-found"}, nil
	}

	files, err := d.conn.ListUnitFilesByPatternsContext(ctx, nil, []string{unit})
	if err != nil {
		return State{}, fmt.Errorf("failed to list unit files for %s: %w", unit, err)
	}
	for _, f := range files {
		if f.Path == unit || strings.HasSuffix(f.Path, "/"+unit) {
			st.Enabled = f.Type == "enabled"
			break
		}
	}
	return st, nil
}

func (d *dbusQuerier) close() { d.conn.Close() }

func stringProperty(props map[string]any, key string) string {
	v, _ := props[key].(string)
	return v
}

func isNoSuchUnitErr(err error) bool {
	if err == nil {
		return false
	}
	es := err.Error()
	// systemd returns org.freedesktop.systemd1.NoSuchUnit for missing units.
	return strings.Contains(es, "NoSuchUnit") || strings.Contains(es, "not-found")
}
