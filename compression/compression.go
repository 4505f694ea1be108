// Package compression implements the SquashFS CompressionAction contract:
// a small capability object, one per codec, that knows how to decompress
// a block, compress a block, and serialize/parse its own options region.
//
// There is deliberately no process-wide registry (see kind.Kind, which
// carries the active Action as a field rather than looking one up by
// global id) — every call site receives the codec it needs explicitly,
// which keeps the whole package safe to use from multiple goroutines at
// once: every Action implementation here is stateless and immutable.
package compression

import (
	"encoding/binary"
	"fmt"
)

// ID is the on-disk u16 compressor tag stored in the superblock.
type ID uint16

const (
	Gzip ID = 1
	Lzma ID = 2 // legacy, v1-v3 only; decompress-only per spec §6.4
	Lzo  ID = 3
	Xz   ID = 4
	Lz4  ID = 5
	Zstd ID = 6
)

func (id ID) String() string {
	switch id {
	case Gzip:
		return "gzip"
	case Lzma:
		return "lzma"
	case Lzo:
		return "lzo"
	case Xz:
		return "xz"
	case Lz4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("compressor(%d)", uint16(id))
	}
}

// InvalidCompressorError is returned when an id has no Action registered
// for this build.
type InvalidCompressorError struct {
	ID ID
}

func (e *InvalidCompressorError) Error() string {
	return fmt.Sprintf("compression: unsupported compressor id %d (%s)", uint16(e.ID), e.ID)
}

// CorruptedDataError wraps a lower-level codec failure with the id that
// produced it, so callers can report which compressor choked.
type CorruptedDataError struct {
	ID  ID
	Err error
}

func (e *CorruptedDataError) Error() string {
	return fmt.Sprintf("compression: corrupted %s stream: %v", e.ID, e.Err)
}

func (e *CorruptedDataError) Unwrap() error { return e.Err }

// Config carries the knobs a Writer applies when asking an Action to
// compress a block; each codec interprets only the fields it cares
// about. A zero Config requests that codec's default behavior.
type Config struct {
	// Level is the generic "compression level" knob: gzip 1-9, zstd
	// 1-22, lzo algorithm+level packed by the lzo backend itself.
	Level int
	// WindowSize is the gzip-specific deflate window size, 8-15.
	WindowSize int
	// Strategy is the gzip-specific strategy bitmask.
	Strategy uint16
	// DictSize is the xz dictionary size in bytes.
	DictSize uint32
	// Filters is the xz BCJ filter chain selector bitmask.
	Filters XzFilter
	// Lz4HC selects LZ4 high-compression mode over the fast mode.
	Lz4HC bool
}

// Action is the CompressionAction contract from spec.md §4.2. One
// immutable instance exists per codec; Kind holds a reference to the
// active instance so every on-disk operation threads it through
// explicitly instead of looking it up by a global id.
type Action interface {
	ID() ID

	// Decompress returns the decompressed form of bytes.
	// Returns InvalidCompressorError if this Action does not in fact
	// implement id (defensive — callers should already have picked the
	// right Action), and CorruptedDataError if the stream is malformed.
	Decompress(bytes []byte, id ID) ([]byte, error)

	// Compress returns the compressed form of bytes under cfg. The
	// caller (the block/fragment packer) compares len(result) against
	// len(bytes) and falls back to storing the raw block when
	// compression does not strictly reduce size.
	Compress(bytes []byte, cfg Config, blockSize uint32) ([]byte, error)

	// Options returns the bytes written into the compression-options
	// region for this codec under cfg, or nil if the codec emits none
	// (lz4 and zstd without custom level, for instance, may still emit
	// an options block per spec — each backend decides).
	Options(cfg Config, blockSize uint32) []byte

	// ParseOptions parses a previously-written options region. Readers
	// must call this before decompressing anything else (spec §4.2
	// invariant): the options region is itself compressed under the
	// very codec it configures.
	ParseOptions(b []byte) (Config, error)
}

// ByID returns the built-in Action for id, or an error if unsupported.
func ByID(id ID) (Action, error) {
	switch id {
	case Gzip:
		return GzipAction, nil
	case Xz:
		return XzAction, nil
	case Lzma:
		return LzmaAction, nil
	case Lzo:
		return LzoAction, nil
	case Lz4:
		return Lz4Action, nil
	case Zstd:
		return ZstdAction, nil
	default:
		return nil, &InvalidCompressorError{ID: id}
	}
}

func readUint32LE(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func putUint32LE(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
