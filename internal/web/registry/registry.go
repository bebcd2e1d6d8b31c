// Package registry persists the web server's sprite records in SQLite.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the registry's view of a sprite's agent session.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusOffline Status = "offline"
)

// ErrNotFound indicates no sprite with the given ID exists.
var ErrNotFound = errors.New("registry: sprite not found")

// Sprite is one registered sandbox the web UI can open a session against.
type Sprite struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CWD          string    `json:"cwd"`
	Repo         string    `json:"repo,omitempty"`
	Branch       string    `json:"branch,omitempty"`
	URL          string    `json:"url,omitempty"`
	Status       Status    `json:"status"`
	LastActivity time.Time `json:"lastActivity"`
}

// Store is a SQLite-backed sprite registry.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sprites (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	cwd           TEXT NOT NULL,
	repo          TEXT NOT NULL DEFAULT '',
	branch        TEXT NOT NULL DEFAULT '',
	url           TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'idle',
	last_activity TIMESTAMP NOT NULL
);
`

// Open opens (creating if necessary) the registry database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("registry: create data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	// modernc.org/sqlite serializes writers; one connection avoids
	// SQLITE_BUSY churn under concurrent handlers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create inserts a sprite, assigning a fresh UUID when ID is empty, and
// returns the stored record.
func (s *Store) Create(ctx context.Context, sp Sprite) (Sprite, error) {
	if sp.ID == "" {
		sp.ID = uuid.NewString()
	}
	if sp.Status == "" {
		sp.Status = StatusIdle
	}
	if sp.LastActivity.IsZero() {
		sp.LastActivity = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sprites (id, name, cwd, repo, branch, url, status, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sp.ID, sp.Name, sp.CWD, sp.Repo, sp.Branch, sp.URL, string(sp.Status), sp.LastActivity)
	if err != nil {
		return Sprite{}, fmt.Errorf("registry: insert sprite: %w", err)
	}
	return sp, nil
}

// Get returns the sprite with the given ID or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Sprite, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, cwd, repo, branch, url, status, last_activity
		FROM sprites WHERE id = ?`, id)
	sp, err := scanSprite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Sprite{}, ErrNotFound
	}
	if err != nil {
		return Sprite{}, fmt.Errorf("registry: get sprite: %w", err)
	}
	return sp, nil
}

// List returns all sprites ordered by most recent activity.
func (s *Store) List(ctx context.Context) ([]Sprite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, cwd, repo, branch, url, status, last_activity
		FROM sprites ORDER BY last_activity DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("registry: list sprites: %w", err)
	}
	defer rows.Close()
	sprites := []Sprite{}
	for rows.Next() {
		sp, err := scanSprite(rows)
		if err != nil {
			return nil, fmt.Errorf("registry: list sprites: %w", err)
		}
		sprites = append(sprites, sp)
	}
	return sprites, rows.Err()
}

// Delete removes the sprite with the given ID or returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sprites WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("registry: delete sprite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: delete sprite: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStatus updates a sprite's status and refreshes its activity timestamp.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sprites SET status = ?, last_activity = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("registry: set status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("registry: set status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSprite(row rowScanner) (Sprite, error) {
	var sp Sprite
	var status string
	if err := row.Scan(&sp.ID, &sp.Name, &sp.CWD, &sp.Repo, &sp.Branch, &sp.URL, &status, &sp.LastActivity); err != nil {
		return Sprite{}, err
	}
	sp.Status = Status(status)
	return sp, nil
}
