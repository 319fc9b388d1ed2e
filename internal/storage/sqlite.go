package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tempo/internal/storage/migrations"
	logx "tempo/pkg/logx"
)

// sqliteRepo stores timestamps as unix nanoseconds so range filters stay
// numeric.
type sqliteRepo struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Repo, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteRepo{db: db, log: log}
	if err := st.migrate(context.Background(), migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return st, nil
}

func (s *sqliteRepo) migrate(ctx context.Context, fsys fs.FS) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	var upFiles []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			upFiles = append(upFiles, e.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations(version) VALUES(?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		s.log.Debug("storage migration applied", logx.String("file", name))
	}
	return nil
}

func (s *sqliteRepo) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteRepo) Add(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if err := r.Validate(); err != nil {
		return err
	}
	var ret any
	if r.Return != nil {
		b, err := json.Marshal(r.Return)
		if err != nil {
			return fmt.Errorf("encoding return value: %w", err)
		}
		ret = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO log_records(task_name, action, created, run_id, start_at, end_at, runtime_ns, exc_text, message, return_json)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.TaskName, string(r.Action), r.Created.UnixNano(), nullStr(r.RunID),
		nullTime(r.Start), nullTime(r.End), int64(r.Runtime), nullStr(r.ExcText), nullStr(r.Message), ret,
	)
	return err
}

func (q Query) where() (string, []any) {
	var (
		conds []string
		args  []any
	)
	if q.TaskName != "" {
		conds = append(conds, "task_name = ?")
		args = append(args, q.TaskName)
	}
	if len(q.Actions) > 0 {
		ph := make([]string, len(q.Actions))
		for i, a := range q.Actions {
			ph[i] = "?"
			args = append(args, string(a))
		}
		conds = append(conds, "action IN ("+strings.Join(ph, ",")+")")
	}
	if q.RunID != "" {
		conds = append(conds, "run_id = ?")
		args = append(args, q.RunID)
	}
	if !q.Since.IsZero() {
		conds = append(conds, "created >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if !q.Until.IsZero() {
		conds = append(conds, "created <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *sqliteRepo) Filter(ctx context.Context, q Query) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	where, args := q.where()
	order := " ORDER BY created ASC, id ASC"
	if q.Desc {
		order = " ORDER BY created DESC, id DESC"
	}
	limit := ""
	if q.Limit > 0 {
		limit = fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_name, action, created, run_id, start_at, end_at, runtime_ns, exc_text, message, return_json
		 FROM log_records`+where+order+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			r                        Record
			action                   string
			created                  int64
			runID, exc, msg, retJSON sql.NullString
			start, end, runtime      sql.NullInt64
		)
		if err := rows.Scan(&r.TaskName, &action, &created, &runID, &start, &end, &runtime, &exc, &msg, &retJSON); err != nil {
			return nil, err
		}
		r.Action = Action(action)
		r.Created = time.Unix(0, created)
		r.RunID = runID.String
		if start.Valid {
			r.Start = time.Unix(0, start.Int64)
		}
		if end.Valid {
			r.End = time.Unix(0, end.Int64)
		}
		r.Runtime = time.Duration(runtime.Int64)
		r.ExcText = exc.String
		r.Message = msg.String
		if retJSON.Valid && retJSON.String != "" {
			if err := json.Unmarshal([]byte(retJSON.String), &r.Return); err != nil {
				s.log.Debug("undecodable return value", logx.String("task", r.TaskName), logx.Err(err))
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteRepo) Count(ctx context.Context, q Query) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	where, args := q.where()
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM log_records"+where, args...).Scan(&n); err != nil {
		return 0, err
	}
	if q.Limit > 0 && n > q.Limit {
		n = q.Limit
	}
	return n, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixNano()
}
