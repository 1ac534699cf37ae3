// Package storage defines the tile cache backends a tileset can be stored in,
// along with a registry that opens them by type name.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when a tile is not cached.
var ErrNotFound = errors.New("tile not found")

// Key addresses a single tile.
type Key struct {
	Tileset string
	Grid    string
	Z, X, Y int
	Ext     string
}

// Path returns the slash-separated relative path used by file-like backends.
func (k Key) Path() string {
	return fmt.Sprintf("%s/%s/%02d/%d/%d.%s", k.Tileset, k.Grid, k.Z, k.X, k.Y, k.Ext)
}

// Tile is a cached tile image and its metadata.
type Tile struct {
	Data        []byte
	ContentType string
	Mtime       time.Time
}

// Cache is the interface that all tile storage backends implement.
type Cache interface {
	// Get returns the tile stored under k, or ErrNotFound.
	Get(ctx context.Context, k Key) (*Tile, error)

	// Set stores t under k, replacing any previous tile.
	Set(ctx context.Context, k Key, t *Tile) error

	// Delete removes the tile stored under k. Deleting a missing tile is not
	// an error.
	Delete(ctx context.Context, k Key) error

	// Close releases the backend's resources.
	Close() error
}

// Options carries the backend settings parsed from a <cache> element.
// Each backend reads the fields relevant to it.
type Options struct {
	Name string

	// disk
	Base string

	// sqlite3
	DBFile string

	// s3
	Bucket    string
	Region    string
	Endpoint  string
	Prefix    string
	AccessKey string
	SecretKey string
	PathStyle bool

	// memory
	MaxEntries int

	// Compression is applied to tile blobs before they reach the backend:
	// "", "none", "zstd" or "lz4".
	Compression string
}
