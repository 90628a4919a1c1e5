// Package sqlite provides the durable SQLite-backed store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arealink/arealink/internal/store"
)

// Store is a SQLite implementation of store.Store.
type Store struct {
	db *sql.DB
}

// Config contains configuration for the SQLite store.
type Config struct {
	// Path is the filesystem path to the SQLite database file.
	// Default: ~/.local/share/arealink/state.db
	Path string

	// MaxOpenConns sets the maximum number of open connections.
	// For SQLite, this should typically be low to avoid lock contention.
	MaxOpenConns int
}

// Open creates a SQLite store, running migrations as needed.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfg.Path = filepath.Join(homeDir, ".local", "share", "arealink", "state.db")
	}

	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// WAL mode for better concurrency and durability.
	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		connStr += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS areas (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		user_id TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		area_id TEXT NOT NULL,
		service_action TEXT NOT NULL,
		options TEXT,
		data TEXT
	);

	CREATE TABLE IF NOT EXISTS reactions (
		id TEXT PRIMARY KEY,
		area_id TEXT NOT NULL,
		service_reaction TEXT NOT NULL,
		options TEXT,
		data TEXT
	);

	CREATE TABLE IF NOT EXISTS job_names (
		job_id TEXT PRIMARY KEY,
		job_name TEXT NOT NULL,
		add_opts TEXT,
		canceled INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_actions_area ON actions(area_id);
	CREATE INDEX IF NOT EXISTS idx_reactions_area ON reactions(area_id);
	CREATE INDEX IF NOT EXISTS idx_job_names_name ON job_names(job_name);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func encodeJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return m, nil
}

func (s *Store) Action(ctx context.Context, id string) (*store.Action, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, area_id, service_action, options, data FROM actions WHERE id = ?`, id)

	var a store.Action
	var options, data sql.NullString
	err := row.Scan(&a.ID, &a.AreaID, &a.ServiceAction, &options, &data)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}

	if a.Options, err = decodeJSON(options); err != nil {
		return nil, err
	}
	if a.Data, err = decodeJSON(data); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) Area(ctx context.Context, id string) (*store.Area, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, user_id, enabled FROM areas WHERE id = ?`, id)

	var a store.Area
	var enabled int
	err := row.Scan(&a.ID, &a.Name, &a.UserID, &enabled)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get area: %w", err)
	}
	a.Enabled = enabled != 0

	if a.Reactions, err = s.reactionsByArea(ctx, a.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) AreaByAction(ctx context.Context, actionID string) (*store.Area, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT ar.id, ar.name, ar.user_id, ar.enabled
	FROM areas ar JOIN actions ac ON ac.area_id = ar.id
	WHERE ac.id = ?`, actionID)

	var a store.Area
	var enabled int
	err := row.Scan(&a.ID, &a.Name, &a.UserID, &enabled)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get area by action: %w", err)
	}
	a.Enabled = enabled != 0

	if a.Reactions, err = s.reactionsByArea(ctx, a.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) reactionsByArea(ctx context.Context, areaID string) ([]store.Reaction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, area_id, service_reaction, options, data FROM reactions WHERE area_id = ?`, areaID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reactions: %w", err)
	}
	defer rows.Close()

	var reactions []store.Reaction
	for rows.Next() {
		var r store.Reaction
		var options, data sql.NullString
		if err := rows.Scan(&r.ID, &r.AreaID, &r.ServiceReaction, &options, &data); err != nil {
			return nil, fmt.Errorf("failed to scan reaction: %w", err)
		}
		if r.Options, err = decodeJSON(options); err != nil {
			return nil, err
		}
		if r.Data, err = decodeJSON(data); err != nil {
			return nil, err
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

func (s *Store) Reaction(ctx context.Context, id string) (*store.Reaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, area_id, service_reaction, options, data FROM reactions WHERE id = ?`, id)

	var r store.Reaction
	var options, data sql.NullString
	err := row.Scan(&r.ID, &r.AreaID, &r.ServiceReaction, &options, &data)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reaction: %w", err)
	}

	if r.Options, err = decodeJSON(options); err != nil {
		return nil, err
	}
	if r.Data, err = decodeJSON(data); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) PutArea(ctx context.Context, area *store.Area) error {
	enabled := 0
	if area.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO areas (id, name, user_id, enabled) VALUES (?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		user_id = excluded.user_id,
		enabled = excluded.enabled`,
		area.ID, area.Name, area.UserID, enabled)
	if err != nil {
		return fmt.Errorf("failed to save area: %w", err)
	}
	return nil
}

func (s *Store) PutAction(ctx context.Context, action *store.Action) error {
	options, err := encodeJSON(action.Options)
	if err != nil {
		return err
	}
	data, err := encodeJSON(action.Data)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO actions (id, area_id, service_action, options, data) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		area_id = excluded.area_id,
		service_action = excluded.service_action,
		options = excluded.options,
		data = excluded.data`,
		action.ID, action.AreaID, action.ServiceAction, options, data)
	if err != nil {
		return fmt.Errorf("failed to save action: %w", err)
	}
	return nil
}

func (s *Store) PutReaction(ctx context.Context, reaction *store.Reaction) error {
	options, err := encodeJSON(reaction.Options)
	if err != nil {
		return err
	}
	data, err := encodeJSON(reaction.Data)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
	INSERT INTO reactions (id, area_id, service_reaction, options, data) VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		area_id = excluded.area_id,
		service_reaction = excluded.service_reaction,
		options = excluded.options,
		data = excluded.data`,
		reaction.ID, reaction.AreaID, reaction.ServiceReaction, options, data)
	if err != nil {
		return fmt.Errorf("failed to save reaction: %w", err)
	}
	return nil
}

func (s *Store) DeleteAction(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete action: %w", err)
	}
	return nil
}

func (s *Store) DeleteReaction(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reactions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete reaction: %w", err)
	}
	return nil
}

func (s *Store) SetAreaEnabled(ctx context.Context, id string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE areas SET enabled = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("failed to update area: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) User(ctx context.Context, id string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, email FROM users WHERE id = ?`, id)

	var u store.User
	err := row.Scan(&u.ID, &u.Email)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) PutUser(ctx context.Context, user *store.User) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO users (id, email) VALUES (?, ?)
	ON CONFLICT(id) DO UPDATE SET email = excluded.email`,
		user.ID, user.Email)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) ActiveByName(ctx context.Context, name string) (*store.JobName, error) {
	row := s.db.QueryRowContext(ctx, `
	SELECT job_id, job_name, add_opts, canceled FROM job_names
	WHERE job_name = ? AND canceled = 0
	ORDER BY created_at DESC LIMIT 1`, name)
	return scanJobName(row)
}

func (s *Store) ByJobID(ctx context.Context, jobID string) (*store.JobName, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, job_name, add_opts, canceled FROM job_names WHERE job_id = ?`, jobID)
	return scanJobName(row)
}

func scanJobName(row *sql.Row) (*store.JobName, error) {
	var jn store.JobName
	var addOpts sql.NullString
	var canceled int
	err := row.Scan(&jn.JobID, &jn.JobName, &addOpts, &canceled)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job name: %w", err)
	}
	jn.Canceled = canceled != 0

	if addOpts.Valid && addOpts.String != "" {
		var opts store.AddOpts
		if err := json.Unmarshal([]byte(addOpts.String), &opts); err != nil {
			return nil, fmt.Errorf("failed to parse add_opts: %w", err)
		}
		jn.AddOpts = &opts
	}
	return &jn, nil
}

func (s *Store) Insert(ctx context.Context, row *store.JobName) error {
	var addOpts sql.NullString
	if row.AddOpts != nil {
		data, err := json.Marshal(row.AddOpts)
		if err != nil {
			return fmt.Errorf("failed to marshal add_opts: %w", err)
		}
		addOpts = sql.NullString{String: string(data), Valid: true}
	}

	canceled := 0
	if row.Canceled {
		canceled = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_names (job_id, job_name, add_opts, canceled) VALUES (?, ?, ?, ?)`,
		row.JobID, row.JobName, addOpts, canceled)
	if err != nil {
		return fmt.Errorf("failed to insert job name: %w", err)
	}
	return nil
}

func (s *Store) MarkCanceled(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_names SET canceled = 1 WHERE job_id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("failed to cancel job name: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_names WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("failed to delete job name: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
