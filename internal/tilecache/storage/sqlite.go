package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const createTilesTable = `
CREATE TABLE IF NOT EXISTS tiles (
    tileset      TEXT NOT NULL,
    grid         TEXT NOT NULL,
    z            INTEGER NOT NULL,
    x            INTEGER NOT NULL,
    y            INTEGER NOT NULL,
    data         BLOB NOT NULL,
    content_type TEXT,
    mtime        INTEGER NOT NULL,
    PRIMARY KEY (tileset, grid, z, x, y)
)`

// SQLiteCache stores tiles as rows of a single SQLite table.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLite is the Factory for the "sqlite3" cache type.
func OpenSQLite(_ context.Context, opts Options) (Cache, error) {
	if opts.DBFile == "" {
		return nil, errors.New("sqlite3 cache requires a <dbfile>")
	}
	return NewSQLiteCache(opts.DBFile)
}

// NewSQLiteCache opens the database at dbPath and creates the tiles table.
func NewSQLiteCache(dbPath string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createTilesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tiles table: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Get retrieves a tile row.
func (s *SQLiteCache) Get(ctx context.Context, k Key) (*Tile, error) {
	var (
		t           Tile
		contentType sql.NullString
		mtime       int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, content_type, mtime FROM tiles
		WHERE tileset = ? AND grid = ? AND z = ? AND x = ? AND y = ?`,
		k.Tileset, k.Grid, k.Z, k.X, k.Y,
	).Scan(&t.Data, &contentType, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tile: %w", err)
	}
	t.ContentType = contentType.String
	t.Mtime = time.Unix(mtime, 0).UTC()
	return &t, nil
}

// Set inserts or replaces a tile row.
func (s *SQLiteCache) Set(ctx context.Context, k Key, t *Tile) error {
	mtime := t.Mtime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tiles (tileset, grid, z, x, y, data, content_type, mtime)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.Tileset, k.Grid, k.Z, k.X, k.Y, t.Data, t.ContentType, mtime.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert tile: %w", err)
	}
	return nil
}

// Delete removes a tile row.
func (s *SQLiteCache) Delete(ctx context.Context, k Key) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM tiles WHERE tileset = ? AND grid = ? AND z = ? AND x = ? AND y = ?`,
		k.Tileset, k.Grid, k.Z, k.X, k.Y,
	)
	if err != nil {
		return fmt.Errorf("delete tile: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteCache) Close() error {
	return s.db.Close()
}
