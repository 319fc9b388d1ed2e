package app

import (
	"fmt"
	"strings"
	"time"

	"tempo/internal/config"
	"tempo/internal/observability/status"
	"tempo/internal/storage"
	logx "tempo/pkg/logx"
)

func mapStorageConfig(p *config.Project) (storage.Config, error) {
	if p == nil {
		return storage.Config{}, nil
	}
	sc := p.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory", "none":
		return storage.Config{Driver: "memory"}, nil
	case "file", "jsonl":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=%s", driver)
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLoggingConfig(p *config.Project) logx.Config {
	l := p.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Alert: logx.AlertConfig{
			Enabled:    l.Alert.Enabled,
			MinLevel:   l.Alert.MinLevel,
			RatePerSec: l.Alert.RatePerSec,
		},
	}
}

func mapStatusConfig(p *config.Project) status.Config {
	s := p.Status
	return status.Config{
		Enabled:       s.Enabled,
		Addr:          s.Addr,
		Token:         s.Token,
		AllowInsecure: s.AllowInsecure,
		Pprof:         s.Pprof,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}
