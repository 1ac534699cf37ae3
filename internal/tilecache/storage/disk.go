package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// metaSuffix names the sidecar that holds a tile's metadata.
const metaSuffix = ".meta"

// tileMeta is the CBOR sidecar written next to every disk tile.
type tileMeta struct {
	ContentType string `cbor:"1,keyasint,omitempty"`
	Mtime       int64  `cbor:"2,keyasint"`
	Size        int    `cbor:"3,keyasint"`
}

var metaEncMode cbor.EncMode

func init() {
	var err error
	metaEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("storage: cbor encoder initialization failed: " + err.Error())
	}
}

// DiskCache stores each tile as a file below a base directory.
type DiskCache struct {
	base string
}

// OpenDisk is the Factory for the "disk" cache type.
func OpenDisk(_ context.Context, opts Options) (Cache, error) {
	if opts.Base == "" {
		return nil, errors.New("disk cache requires a <base> directory")
	}
	if err := os.MkdirAll(opts.Base, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &DiskCache{base: opts.Base}, nil
}

func (d *DiskCache) path(k Key) string {
	return filepath.Join(d.base, filepath.FromSlash(k.Path()))
}

// Get reads a tile and its sidecar. A tile without a sidecar takes its
// mtime from the file system.
func (d *DiskCache) Get(_ context.Context, k Key) (*Tile, error) {
	p := d.path(k)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read tile: %w", err)
	}

	t := &Tile{Data: data}
	raw, err := os.ReadFile(p + metaSuffix)
	switch {
	case err == nil:
		var meta tileMeta
		if err := cbor.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode tile metadata: %w", err)
		}
		t.ContentType = meta.ContentType
		t.Mtime = time.Unix(meta.Mtime, 0).UTC()
	case errors.Is(err, fs.ErrNotExist):
		info, statErr := os.Stat(p)
		if statErr != nil {
			return nil, fmt.Errorf("stat tile: %w", statErr)
		}
		t.Mtime = info.ModTime().UTC()
	default:
		return nil, fmt.Errorf("read tile metadata: %w", err)
	}
	return t, nil
}

// Set writes the tile and its sidecar through temporary files.
func (d *DiskCache) Set(_ context.Context, k Key, t *Tile) error {
	p := d.path(k)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create tile directory: %w", err)
	}

	mtime := t.Mtime
	if mtime.IsZero() {
		mtime = time.Now()
	}
	raw, err := metaEncMode.Marshal(tileMeta{
		ContentType: t.ContentType,
		Mtime:       mtime.Unix(),
		Size:        len(t.Data),
	})
	if err != nil {
		return fmt.Errorf("encode tile metadata: %w", err)
	}

	if err := writeFileAtomic(p, t.Data); err != nil {
		return fmt.Errorf("write tile: %w", err)
	}
	if err := writeFileAtomic(p+metaSuffix, raw); err != nil {
		return fmt.Errorf("write tile metadata: %w", err)
	}
	return nil
}

// Delete removes the tile and its sidecar.
func (d *DiskCache) Delete(_ context.Context, k Key) error {
	p := d.path(k)
	for _, name := range []string{p, p + metaSuffix} {
		if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// Close is a no-op for disk caches.
func (d *DiskCache) Close() error {
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
