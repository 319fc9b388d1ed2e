package app

import (
	"tempo/internal/config"
	"tempo/internal/session"
	"tempo/internal/storage"
	logx "tempo/pkg/logx"
	"tempo/pkg/systemdmanager"
)

// Check builds the project's session against an in-memory repository and
// verifies that every condition references a declared task.
func Check(p *config.Project) (*session.Session, error) {
	if _, err := mapStorageConfig(p); err != nil {
		return nil, err
	}
	cfg, err := session.ConfigFrom(p.Session, session.DefaultConfig(), nil)
	if err != nil {
		return nil, err
	}
	s, err := session.New(cfg, storage.NewMemory(), logx.Nop(), nil)
	if err != nil {
		return nil, err
	}
	units := systemdmanager.New(-1)
	defer units.Close()
	if err := registerUnitConditions(s.Parser(), units); err != nil {
		return nil, err
	}
	if err := s.LoadProject(p); err != nil {
		return nil, err
	}
	return s, s.Check()
}

// OpenRepo opens the log repository p declares.
func OpenRepo(p *config.Project, log logx.Logger) (storage.Repo, error) {
	sc, err := mapStorageConfig(p)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}
