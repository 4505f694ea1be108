// Package directory decodes and encodes directory listings: runs of
// up to 256 entries sharing one 12-byte header, stored back to back in
// the metadata stream at the offset an inode's basic/extended
// directory body points to.
package directory

import (
	"encoding/binary"
	"fmt"

	"github.com/go-squashfs/squashfs/inode"
	"github.com/go-squashfs/squashfs/metadata"
)

// MaxEntriesPerHeader is the largest run of entries one header can
// cover; mksquashfs starts a new header whenever a run would exceed
// this, or whenever the entries stop sharing the same starting
// metadata block.
const MaxEntriesPerHeader = 256

const headerSize = 12
const entryFixedSize = 8

// Entry is one decoded directory entry: a name plus enough of the
// referenced inode's identity to resolve it without a second read.
type Entry struct {
	Name       string
	InodeType  inode.Type // basic type only: directory/file/symlink/device/fifo/socket
	InodeRef   metadata.Ref
	InodeIndex uint32 // absolute inode number, not delta-encoded
}

// header is the on-disk 12-byte directory header: count-1, the
// metadata block this run's entries' inode refs start in, and the
// inode number the first entry's delta is relative to.
type header struct {
	count      uint32
	startBlock uint32
	inode      uint32
}

// Decode reads the full entry list for one directory, starting at
// ref and continuing until size decompressed bytes have been
// consumed, per the basic/extended directory body's FileSize field
// (which per spec §4.5 is 3 bytes larger than the actual byte count,
// to account for the historical off-by-3 in mksquashfs).
func Decode(r *metadata.Reader, ref metadata.Ref, size uint32, order binary.ByteOrder) ([]Entry, error) {
	if size < 3 {
		return nil, nil
	}
	remaining := int(size) - 3
	cur := r.Cursor(ref)

	var entries []Entry
	for remaining > 0 {
		var hb [headerSize]byte
		if err := cur.Read(hb[:]); err != nil {
			return nil, fmt.Errorf("directory: reading header: %w", err)
		}
		remaining -= headerSize
		h := header{
			count:      order.Uint32(hb[0:4]) + 1,
			startBlock: order.Uint32(hb[4:8]),
			inode:      order.Uint32(hb[8:12]),
		}

		for i := uint32(0); i < h.count; i++ {
			var eb [entryFixedSize]byte
			if err := cur.Read(eb[:]); err != nil {
				return nil, fmt.Errorf("directory: reading entry: %w", err)
			}
			remaining -= entryFixedSize
			offset := order.Uint16(eb[0:2])
			inodeDelta := int16(order.Uint16(eb[2:4]))
			entryType := inode.Type(order.Uint16(eb[4:6]))
			nameSize := int(order.Uint16(eb[6:8])) + 1

			name := make([]byte, nameSize)
			if err := cur.Read(name); err != nil {
				return nil, fmt.Errorf("directory: reading entry name: %w", err)
			}
			remaining -= nameSize

			if err := validName(string(name)); err != nil {
				return nil, err
			}

			entries = append(entries, Entry{
				Name:       string(name),
				InodeType:  entryType,
				InodeRef:   metadata.Ref{Block: h.startBlock, Offset: offset},
				InodeIndex: uint32(int64(h.inode) + int64(inodeDelta)),
			})
		}
	}
	return entries, nil
}

// Encode serializes entries back into directory-listing bytes,
// grouping consecutive entries sharing the same InodeRef.Block into
// runs of at most MaxEntriesPerHeader, mirroring mksquashfs's own
// packing rule. It returns the encoded bytes and the FileSize value
// (byte count + 3) an inode body should record for this listing.
func Encode(order binary.ByteOrder, entries []Entry) ([]byte, uint32, error) {
	var out []byte
	i := 0
	for i < len(entries) {
		block := entries[i].InodeRef.Block
		baseInode := entries[i].InodeIndex
		j := i
		for j < len(entries) && j-i < MaxEntriesPerHeader && entries[j].InodeRef.Block == block {
			j++
		}
		run := entries[i:j]

		hb := make([]byte, headerSize)
		order.PutUint32(hb[0:4], uint32(len(run)-1))
		order.PutUint32(hb[4:8], block)
		order.PutUint32(hb[8:12], baseInode)
		out = append(out, hb...)

		for _, e := range run {
			delta := int64(e.InodeIndex) - int64(baseInode)
			if delta < -32768 || delta > 32767 {
				return nil, 0, fmt.Errorf("directory: inode delta %d out of int16 range for %q", delta, e.Name)
			}
			eb := make([]byte, entryFixedSize)
			order.PutUint16(eb[0:2], e.InodeRef.Offset)
			order.PutUint16(eb[2:4], uint16(int16(delta)))
			order.PutUint16(eb[4:6], uint16(e.InodeType))
			if err := validName(e.Name); err != nil {
				return nil, 0, err
			}
			if len(e.Name) > 255 {
				return nil, 0, &ErrCorruptedDirectory{Name: e.Name, Reason: fmt.Sprintf("name longer than 255 bytes (%d)", len(e.Name))}
			}
			order.PutUint16(eb[6:8], uint16(len(e.Name)-1))
			out = append(out, eb...)
			out = append(out, []byte(e.Name)...)
		}
		i = j
	}
	return out, uint32(len(out)) + 3, nil
}

// Index is a per-directory lookup index: the decoded form of an
// ExtendedDirectoryBody's DirectoryIndexEntry array, letting a reader
// binary-search for the metadata block covering a target name instead
// of decoding the whole listing from the start.
type Index []IndexEntry

type IndexEntry struct {
	ByteOffset int    // offset into the uncompressed listing this entry's run starts at
	StartBlock uint32 // metadata block the run's entries' inode refs point into
	FirstName  string // first name in the run, for binary search
}

// Build constructs an Index over entries, taking a snapshot every
// time the entries' inode refs move into a new metadata block, which
// is also where Encode starts a new header.
func Build(entries []Entry) Index {
	var idx Index
	var lastBlock uint32
	first := true
	offset := 0
	run := 0
	for _, e := range entries {
		newBlock := first || e.InodeRef.Block != lastBlock
		if newBlock {
			idx = append(idx, IndexEntry{ByteOffset: offset, StartBlock: e.InodeRef.Block, FirstName: e.Name})
			lastBlock = e.InodeRef.Block
			first = false
		}
		if newBlock || run == MaxEntriesPerHeader {
			offset += headerSize
			run = 0
		}
		run++
		offset += entryFixedSize + len(e.Name)
	}
	return idx
}
