// Package table implements the indexed-metadata-table shape shared by
// the id table, the fragment table, and the export table: an array of
// fixed-size records, itself stored as a sequence of compressed
// metadata blocks, whose starting disk offsets are recorded in a
// second-level index of plain 64-bit pointers written right after the
// table's own metadata blocks.
package table

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/metadata"
)

// entriesPerBlock returns how many recordSize-byte records fit in one
// 8 KiB metadata block.
func entriesPerBlock(recordSize int) int {
	return metadata.MaxBlockSize / recordSize
}

// ReadIndex reads the n-entry array of absolute block-start u64
// pointers at indexOffset, the second-level index every indexed table
// ends with.
func ReadIndex(ra io.ReaderAt, indexOffset int64, n int, order binary.ByteOrder) ([]int64, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, 8*n)
	if _, err := ra.ReadAt(buf, indexOffset); err != nil {
		return nil, fmt.Errorf("table: reading index at %d: %w", indexOffset, err)
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(order.Uint64(buf[i*8 : i*8+8]))
	}
	return out, nil
}

// ReadRecords reads a full indexed table: count fixed-size records,
// stored across the metadata blocks whose start offsets are listed in
// the index at indexOffset. decode is called once per record with its
// recordSize-byte slice.
func ReadRecords(ra io.ReaderAt, k kind.Kind, indexOffset int64, count int, recordSize int, decode func(i int, b []byte) error) error {
	if count == 0 {
		return nil
	}
	perBlock := entriesPerBlock(recordSize)
	blockCount := (count + perBlock - 1) / perBlock

	blockOffsets, err := ReadIndex(ra, indexOffset, blockCount, k.SuperblockOrder())
	if err != nil {
		return err
	}

	rec := 0
	for bi, off := range blockOffsets {
		limit := indexOffset
		if bi+1 < len(blockOffsets) {
			limit = blockOffsets[bi+1]
		}
		r := metadata.NewReader(ra, off, limit, k)
		inBlock := perBlock
		if rec+inBlock > count {
			inBlock = count - rec
		}
		for i := 0; i < inBlock; i++ {
			b := make([]byte, recordSize)
			if err := r.ReadAt(metadata.Ref{Block: 0, Offset: uint16(i * recordSize)}, b); err != nil {
				return fmt.Errorf("table: reading record %d: %w", rec, err)
			}
			if err := decode(rec, b); err != nil {
				return err
			}
			rec++
		}
	}
	return nil
}

// Writer accumulates fixed-size records and flushes them through a
// metadata.Writer, recording each underlying metadata block's start
// offset so the final index array can be written once the caller
// knows where this table's data region ended (and thus where the
// index itself goes).
type Writer struct {
	k          kind.Kind
	recordSize int
	perBlock   int

	mw           *metadata.Writer
	blockStarts  []int64
	inBlock      int
	base         int64 // disk offset the data region begins at
}

// NewWriter returns a Writer that appends through w, whose first
// byte will land at absolute offset base.
func NewWriter(w io.Writer, k kind.Kind, recordSize int, base int64) *Writer {
	return &Writer{
		k:          k,
		recordSize: recordSize,
		perBlock:   entriesPerBlock(recordSize),
		mw:         metadata.NewWriter(w, k),
		base:       base,
	}
}

// Append writes one record.
func (tw *Writer) Append(b []byte) error {
	if len(b) != tw.recordSize {
		return fmt.Errorf("table: record is %d bytes, want %d", len(b), tw.recordSize)
	}
	if tw.inBlock == 0 {
		tw.blockStarts = append(tw.blockStarts, tw.base+int64(tw.mw.Tell().Block))
	}
	if _, err := tw.mw.Write(b); err != nil {
		return err
	}
	tw.inBlock++
	if tw.inBlock == tw.perBlock {
		if err := tw.mw.Flush(); err != nil {
			return err
		}
		tw.inBlock = 0
	}
	return nil
}

// FlushTrailing flushes any partial trailing block. Callers must call
// this before asking the underlying writer's current position, since
// that position is what the index array's own offset will be.
func (tw *Writer) FlushTrailing() error {
	if tw.inBlock == 0 {
		return nil
	}
	if err := tw.mw.Flush(); err != nil {
		return err
	}
	tw.inBlock = 0
	return nil
}

// IndexBytes returns the second-level index array: one absolute u64
// pointer per metadata block this table's records were written into.
// Call only after FlushTrailing.
func (tw *Writer) IndexBytes() []byte {
	idx := make([]byte, 8*len(tw.blockStarts))
	for i, off := range tw.blockStarts {
		tw.k.SuperblockOrder().PutUint64(idx[i*8:i*8+8], uint64(off))
	}
	return idx
}
