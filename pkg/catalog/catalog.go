// Package catalog keeps every track the server has seen in SQLite so idle
// listeners can be served a random pick by genre, year or bitrate.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zachfi/shouter/pkg/playlist"
)

// ErrNoMatch is returned when a query selects no track.
var ErrNoMatch = errors.New("no matching track")

// Query narrows Random. Zero fields match everything.
type Query struct {
	Genre   string
	Year    string
	Bitrate int
}

// Catalog is a SQLite track store.
type Catalog struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path. ":memory:" is accepted for a
// throwaway catalog.
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, err
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS tracks (
		path       TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		artist     TEXT NOT NULL DEFAULT '',
		album      TEXT NOT NULL DEFAULT '',
		genre      TEXT NOT NULL DEFAULT '',
		year       TEXT NOT NULL DEFAULT '',
		track_no   TEXT NOT NULL DEFAULT '',
		duration   INTEGER NOT NULL DEFAULT 0,
		bitrate    INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS tracks_genre ON tracks (genre COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS tracks_year ON tracks (year)`,
		`CREATE INDEX IF NOT EXISTS tracks_bitrate ON tracks (bitrate)`,
	} {
		if _, err := db.Exec(idx); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &Catalog{db: db}, nil
}

// Upsert stores playable tracks, replacing earlier rows for the same path.
func (c *Catalog) Upsert(ctx context.Context, tracks ...playlist.Track) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tracks (path, title, artist, album, genre, year, track_no, duration, bitrate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title=excluded.title,
			artist=excluded.artist,
			album=excluded.album,
			genre=excluded.genre,
			year=excluded.year,
			track_no=excluded.track_no,
			duration=excluded.duration,
			bitrate=excluded.bitrate,
			updated_at=excluded.updated_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, t := range tracks {
		if !t.Playable() || t.Path == "" {
			continue
		}
		_, err := stmt.ExecContext(ctx, t.Path, t.Title, t.Artist, t.Album, t.Genre, t.Year, t.TrackNo,
			int64(t.Duration/time.Second), t.Bitrate, now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", t.Path, err)
		}
	}

	return tx.Commit()
}

const columns = `path, title, artist, album, genre, year, track_no, duration, bitrate`

func scanTrack(row interface{ Scan(...any) error }) (playlist.Track, error) {
	var (
		t    playlist.Track
		secs int64
	)
	err := row.Scan(&t.Path, &t.Title, &t.Artist, &t.Album, &t.Genre, &t.Year, &t.TrackNo, &secs, &t.Bitrate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return playlist.Track{}, ErrNoMatch
		}
		return playlist.Track{}, err
	}
	t.Duration = time.Duration(secs) * time.Second
	t.QueueIndex = playlist.NoQueue
	return t, nil
}

// Random returns a random track matching q.
func (c *Catalog) Random(ctx context.Context, q Query) (playlist.Track, error) {
	var (
		where []string
		args  []any
	)
	if q.Genre != "" {
		where = append(where, "genre = ? COLLATE NOCASE")
		args = append(args, q.Genre)
	}
	if q.Year != "" {
		where = append(where, "year = ?")
		args = append(args, q.Year)
	}
	if q.Bitrate > 0 {
		where = append(where, "bitrate = ?")
		args = append(args, q.Bitrate)
	}

	query := `SELECT ` + columns + ` FROM tracks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY RANDOM() LIMIT 1`

	c.mu.Lock()
	defer c.mu.Unlock()
	return scanTrack(c.db.QueryRowContext(ctx, query, args...))
}

// Lookup returns the stored track for path.
func (c *Catalog) Lookup(ctx context.Context, path string) (playlist.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return scanTrack(c.db.QueryRowContext(ctx, `SELECT `+columns+` FROM tracks WHERE path = ?`, path))
}

// Count returns how many tracks are stored.
func (c *Catalog) Count(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&n)
	return n, err
}

// Close closes the database.
func (c *Catalog) Close() error {
	return c.db.Close()
}
