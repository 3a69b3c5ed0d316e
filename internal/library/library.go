// Package library persists saved clip metadata in a local SQLite
// database so clips survive restarts and can be listed, looked up, and
// annotated with share links.
package library

import (
	"context"
	"database/sql"
	"log/slog"
	"math/bits"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "modernc.org/sqlite"

	apperrors "github.com/rewinddvr/rewind/internal/errors"
)

const idLength = 12

// Hamming distance at or below which two perceptual hashes are treated
// as the same capture.
const duplicateDistance = 6

const schema = `
CREATE TABLE IF NOT EXISTS clips (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	app        TEXT NOT NULL DEFAULT '',
	path       TEXT NOT NULL,
	duration   REAL NOT NULL,
	size       INTEGER NOT NULL DEFAULT 0,
	phash      INTEGER NOT NULL DEFAULT 0,
	share_url  TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_clips_created ON clips(created_at DESC);
`

// Clip is one saved recording.
type Clip struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	App       string        `json:"app"`
	Path      string        `json:"path"`
	Duration  time.Duration `json:"duration"`
	Size      int64         `json:"size"`
	PHash     uint64        `json:"-"`
	ShareURL  string        `json:"share_url,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store is the SQLite-backed clip library.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the library database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLibrary, "open library database")
	}
	// The driver serializes access itself; a single connection avoids
	// SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeLibrary, "apply library schema")
	}
	slog.Info("clip library opened", "path", path)
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert records a new clip, assigning it an ID.
func (s *Store) Insert(ctx context.Context, c *Clip) error {
	id, err := gonanoid.New(idLength)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeLibrary, "generate clip id")
	}
	c.ID = id
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clips (id, name, app, path, duration, size, phash, share_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.App, c.Path, c.Duration.Seconds(), c.Size,
		int64(c.PHash), c.ShareURL, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeLibrary, "insert clip")
	}
	return nil
}

// Get returns one clip by ID, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Clip, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, app, path, duration, size, phash, share_url, created_at
		 FROM clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLibrary, "load clip")
	}
	return c, nil
}

// List returns all clips, newest first.
func (s *Store) List(ctx context.Context) ([]Clip, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, app, path, duration, size, phash, share_url, created_at
		 FROM clips ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLibrary, "list clips")
	}
	defer rows.Close()

	var clips []Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeLibrary, "scan clip row")
		}
		clips = append(clips, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeLibrary, "iterate clips")
	}
	return clips, nil
}

// SetShareURL stores the public link returned by the share server.
func (s *Store) SetShareURL(ctx context.Context, id, url string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE clips SET share_url = ? WHERE id = ?`, url, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeLibrary, "update share url")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.Newf(apperrors.CodeLibrary, "clip %s not found", id)
	}
	return nil
}

// Delete removes a clip record. The file on disk is the caller's
// responsibility.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM clips WHERE id = ?`, id); err != nil {
		return apperrors.Wrap(err, apperrors.CodeLibrary, "delete clip")
	}
	return nil
}

// FindNearDuplicate returns the stored clip whose poster-frame hash is
// within duplicateDistance of hash, or nil when none is close enough.
// A zero hash matches nothing; it means hashing was skipped.
func (s *Store) FindNearDuplicate(ctx context.Context, hash uint64) (*Clip, error) {
	if hash == 0 {
		return nil, nil
	}
	clips, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range clips {
		if clips[i].PHash == 0 {
			continue
		}
		if bits.OnesCount64(clips[i].PHash^hash) <= duplicateDistance {
			return &clips[i], nil
		}
	}
	return nil, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClip(r rowScanner) (*Clip, error) {
	var (
		c       Clip
		seconds float64
		phash   int64
		created string
	)
	if err := r.Scan(&c.ID, &c.Name, &c.App, &c.Path, &seconds, &c.Size,
		&phash, &c.ShareURL, &created); err != nil {
		return nil, err
	}
	c.Duration = time.Duration(seconds * float64(time.Second))
	c.PHash = uint64(phash)
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = t
	return &c, nil
}
