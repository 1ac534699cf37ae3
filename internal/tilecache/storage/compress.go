package storage

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names accepted in <compression>.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
	CompressionLZ4  = "lz4"
)

// Blob header tags. Stored as the first byte of every compressed blob.
const (
	tagNone byte = 0
	tagLZ4  byte = 1
	tagZstd byte = 2
)

var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("storage: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("storage: zstd decoder initialization failed: " + err.Error())
	}
}

// Compressed wraps a Cache so tile data is compressed before it is stored.
// Blobs that would not shrink are stored raw with a "none" tag.
type Compressed struct {
	inner Cache
	tag   byte
}

// NewCompressed wraps inner with the named compression algorithm.
func NewCompressed(inner Cache, algorithm string) (*Compressed, error) {
	var tag byte
	switch algorithm {
	case CompressionZstd:
		tag = tagZstd
	case CompressionLZ4:
		tag = tagLZ4
	case CompressionNone, "":
		tag = tagNone
	default:
		return nil, fmt.Errorf("unknown compression %q", algorithm)
	}
	return &Compressed{inner: inner, tag: tag}, nil
}

// Get reads and decompresses the tile stored under k.
func (c *Compressed) Get(ctx context.Context, k Key) (*Tile, error) {
	t, err := c.inner.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	data, err := decodeBlob(t.Data)
	if err != nil {
		return nil, fmt.Errorf("decode tile %s: %w", k.Path(), err)
	}
	t.Data = data
	return t, nil
}

// Set compresses t and stores it under k.
func (c *Compressed) Set(ctx context.Context, k Key, t *Tile) error {
	blob, err := encodeBlob(t.Data, c.tag)
	if err != nil {
		return fmt.Errorf("encode tile %s: %w", k.Path(), err)
	}
	stored := *t
	stored.Data = blob
	return c.inner.Set(ctx, k, &stored)
}

// Delete removes the tile stored under k.
func (c *Compressed) Delete(ctx context.Context, k Key) error {
	return c.inner.Delete(ctx, k)
}

// Close closes the wrapped cache.
func (c *Compressed) Close() error {
	return c.inner.Close()
}

// encodeBlob lays out a blob as: tag byte, uvarint uncompressed size, payload.
func encodeBlob(data []byte, tag byte) ([]byte, error) {
	payload, err := compress(data, tag)
	if errors.Is(err, errIncompressible) {
		tag, payload = tagNone, data
	} else if err != nil {
		return nil, err
	}

	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = tag
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	return append(header[:1+n], payload...), nil
}

func decodeBlob(blob []byte) ([]byte, error) {
	if len(blob) < 2 {
		return nil, fmt.Errorf("blob too short (%d bytes)", len(blob))
	}
	size, n := binary.Uvarint(blob[1:])
	if n <= 0 {
		return nil, errors.New("invalid blob size header")
	}
	payload := blob[1+n:]

	switch blob[0] {
	case tagNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("uncompressed blob: size %d does not match expected %d", len(payload), size)
		}
		return payload, nil
	case tagLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return out, nil
	case tagZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", blob[0])
	}
}

func compress(data []byte, tag byte) ([]byte, error) {
	switch tag {
	case tagNone:
		return data, nil
	case tagLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	case tagZstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return nil, errIncompressible
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", tag)
	}
}
