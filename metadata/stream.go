// Package metadata implements the compressed metadata block stream
// that backs inode and directory storage: a sequence of independently
// compressed blocks, each at most 8 KiB of decompressed payload,
// addressed by (block start offset on disk, byte offset within that
// block's decompressed payload).
package metadata

import (
	"fmt"
	"io"

	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/kind"
)

// MaxBlockSize is the maximum decompressed payload size of a single
// metadata block.
const MaxBlockSize = 8192

// uncompressedFlag is the top bit of the 16-bit length header: when
// set, the block that follows is stored raw.
const uncompressedFlag = 0x8000
const lengthMask = 0x7fff

// Ref addresses a byte within the metadata stream: the on-disk offset
// of the block it starts in, relative to the start of the stream
// (i.e. relative to inode/directory table start), plus a byte offset
// into that block's decompressed payload. This is exactly the shape
// of an inode reference split in two, per spec §4.4.
type Ref struct {
	Block  uint32
	Offset uint16
}

// Reader decompresses a metadata stream on demand and caches each
// decompressed block by its disk offset, since many inode references
// point back into a block another reference already pulled in.
type Reader struct {
	ra    io.ReaderAt
	base  int64 // disk offset of the stream start
	limit int64 // disk offset one past the stream end
	kind  kind.Kind

	cache map[uint32][]byte
}

// NewReader returns a Reader over the metadata stream starting at
// base and ending before limit (both absolute offsets into the
// filesystem image).
func NewReader(ra io.ReaderAt, base, limit int64, k kind.Kind) *Reader {
	return &Reader{ra: ra, base: base, limit: limit, kind: k, cache: map[uint32][]byte{}}
}

// block decompresses (or returns from cache) the block starting at
// disk offset base+relBlock, returning its decompressed payload.
func (r *Reader) block(relBlock uint32) ([]byte, error) {
	if payload, ok := r.cache[relBlock]; ok {
		return payload, nil
	}
	abs := r.base + int64(relBlock)
	if abs < r.base || abs >= r.limit {
		return nil, fmt.Errorf("metadata: block offset %d out of stream bounds", relBlock)
	}
	var hdr [2]byte
	if _, err := r.ra.ReadAt(hdr[:], abs); err != nil {
		return nil, fmt.Errorf("metadata: reading block header at %d: %w", abs, err)
	}
	raw := r.kind.MetadataOrder().Uint16(hdr[:])
	size := raw & lengthMask
	compressed := raw&uncompressedFlag == 0

	buf := make([]byte, size)
	if _, err := r.ra.ReadAt(buf, abs+2); err != nil {
		return nil, fmt.Errorf("metadata: reading block body at %d: %w", abs+2, err)
	}

	var payload []byte
	if compressed {
		out, err := r.kind.Compressor().Decompress(buf, r.kind.Compressor().ID())
		if err != nil {
			return nil, fmt.Errorf("metadata: decompressing block at %d: %w", abs, err)
		}
		payload = out
	} else {
		payload = buf
	}
	if len(payload) > MaxBlockSize {
		return nil, fmt.Errorf("metadata: block at %d decompresses to %d bytes, exceeds %d limit", abs, len(payload), MaxBlockSize)
	}
	r.cache[relBlock] = payload
	return payload, nil
}

// ReadAt reads exactly len(p) bytes starting at ref, following into
// successive blocks as needed, mirroring the way directory entries
// and inode bodies can straddle a block boundary.
func (r *Reader) ReadAt(ref Ref, p []byte) error {
	c := r.Cursor(ref)
	return c.Read(p)
}

// Cursor walks forward through a metadata stream one read at a time,
// tracking its own block/offset position across block boundaries.
// Inode and directory decoders use a Cursor rather than repeated
// ReadAt calls because their variable-length tails (symlink targets,
// block size lists, directory index entries) need to know exactly
// where they ended up to hand that position on as the next field's
// start.
type Cursor struct {
	r      *Reader
	block  uint32
	offset int
}

// Cursor returns a new Cursor positioned at ref.
func (r *Reader) Cursor(ref Ref) *Cursor {
	return &Cursor{r: r, block: ref.Block, offset: int(ref.Offset)}
}

// Ref returns the Cursor's current position.
func (c *Cursor) Ref() Ref {
	return Ref{Block: c.block, Offset: uint16(c.offset)}
}

// Read fills p from the current position and advances the cursor,
// following into successive physical blocks as needed.
func (c *Cursor) Read(p []byte) error {
	n := 0
	for n < len(p) {
		payload, err := c.r.block(c.block)
		if err != nil {
			return err
		}
		if c.offset > len(payload) {
			return fmt.Errorf("metadata: offset %d beyond block payload length %d", c.offset, len(payload))
		}
		avail := len(payload) - c.offset
		want := len(p) - n
		take := avail
		if take > want {
			take = want
		}
		copy(p[n:n+take], payload[c.offset:c.offset+take])
		n += take
		c.offset += take
		if n == len(p) {
			return nil
		}
		// Spill into the next physical block: its on-disk start is
		// this block's start plus its 2-byte header plus its
		// on-disk body length, which means re-reading the header we
		// already consumed. Track that explicitly rather than
		// guessing the next relative offset blind.
		nextBlock, err := c.r.nextBlockOffset(c.block)
		if err != nil {
			return err
		}
		c.block = nextBlock
		c.offset = 0
	}
	return nil
}

func (r *Reader) nextBlockOffset(relBlock uint32) (uint32, error) {
	abs := r.base + int64(relBlock)
	var hdr [2]byte
	if _, err := r.ra.ReadAt(hdr[:], abs); err != nil {
		return 0, fmt.Errorf("metadata: reading block header at %d: %w", abs, err)
	}
	raw := r.kind.MetadataOrder().Uint16(hdr[:])
	size := raw & lengthMask
	return relBlock + 2 + uint32(size), nil
}

// Writer accumulates metadata payload bytes and flushes them into
// compressed (or raw, if that's smaller) blocks of at most
// MaxBlockSize, recording the start offset of each block it writes so
// callers can hand out Refs pointing at whatever they just wrote.
type Writer struct {
	kind kind.Kind
	w    io.Writer

	pending    []byte
	writtenLen int64 // bytes written to w so far, i.e. the next block's relative offset
}

// NewWriter returns a Writer that appends compressed blocks to w.
func NewWriter(w io.Writer, k kind.Kind) *Writer {
	return &Writer{kind: k, w: w}
}

// Tell returns a Ref pointing at the next byte that would be written,
// i.e. the position a caller should record before calling Write if it
// wants to address the bytes about to be appended.
func (mw *Writer) Tell() Ref {
	return Ref{Block: uint32(mw.writtenLen), Offset: uint16(len(mw.pending))}
}

// Write appends p to the pending block, flushing full blocks to the
// underlying writer as MaxBlockSize is crossed.
func (mw *Writer) Write(p []byte) (Ref, error) {
	ref := mw.Tell()
	for len(p) > 0 {
		room := MaxBlockSize - len(mw.pending)
		take := room
		if take > len(p) {
			take = len(p)
		}
		mw.pending = append(mw.pending, p[:take]...)
		p = p[take:]
		if len(mw.pending) == MaxBlockSize {
			if err := mw.flush(); err != nil {
				return ref, err
			}
		}
	}
	return ref, nil
}

// Flush forces out any partially filled pending block. Callers must
// call it once after their last Write.
func (mw *Writer) Flush() error {
	if len(mw.pending) == 0 {
		return nil
	}
	return mw.flush()
}

func (mw *Writer) flush() error {
	payload := mw.pending
	mw.pending = nil

	compressed, err := mw.kind.Compressor().Compress(payload, compression.Config{}, uint32(len(payload)))
	body := payload
	header := uint16(len(payload)) | uncompressedFlag
	if err == nil && len(compressed) < len(payload) {
		body = compressed
		header = uint16(len(compressed))
	}

	var hdr [2]byte
	mw.kind.MetadataOrder().PutUint16(hdr[:], header)
	if _, err := mw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("metadata: writing block header: %w", err)
	}
	if _, err := mw.w.Write(body); err != nil {
		return fmt.Errorf("metadata: writing block body: %w", err)
	}
	mw.writtenLen += 2 + int64(len(body))
	return nil
}
