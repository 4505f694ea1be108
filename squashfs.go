// Package squashfs reads and writes SquashFS 4.0 filesystem images:
// the read-only, block-compressed format used for Linux root
// filesystems, snap/AppImage payloads, and firmware images.
package squashfs

import (
	"fmt"
	"math"

	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/kind"
)

const (
	superblockMagicLE = 0x73717368
	superblockSize    = 96
	defaultBlockSize  = 131072
	defaultBlockLog   = 17

	// minBlockSize and maxBlockSize bound block_size per §4.4: 4 KiB
	// and 1 MiB are the smallest and largest values mksquashfs will
	// ever write, and the only range this package accepts on read.
	minBlockSize = 4096
	maxBlockSize = 1 << 20
)

// Flags is the superblock's bitmask of filesystem-wide toggles.
type Flags uint16

const (
	FlagUncompressedInodes     Flags = 0x1
	FlagUncompressedData       Flags = 0x2
	FlagCheck                  Flags = 0x4
	FlagUncompressedFragments  Flags = 0x8
	FlagNoFragments            Flags = 0x10
	FlagAlwaysFragment         Flags = 0x20
	FlagDuplicates             Flags = 0x40
	FlagExportable             Flags = 0x80
	FlagUncompressedXattrs     Flags = 0x100
	FlagNoXattrs               Flags = 0x200
	FlagCompressorOptions      Flags = 0x400
	FlagUncompressedIDs        Flags = 0x800
)

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

// Superblock is the 96-byte header that opens every image.
type Superblock struct {
	InodeCount          uint32
	ModTime             uint32
	BlockSize           uint32
	FragmentCount       uint32
	Compression         compression.ID
	BlockLog            uint16
	Flags               Flags
	IDCount             uint16
	VersionMajor        uint16
	VersionMinor        uint16
	RootInodeRef        uint64
	BytesUsed           uint64
	IDTableStart        uint64
	XattrTableStart     uint64
	InodeTableStart     uint64
	DirectoryTableStart uint64
	FragmentTableStart  uint64
	ExportTableStart    uint64
}

const noTable uint64 = 0xffffffffffffffff

// DecodeSuperblock parses the 96-byte superblock region, validating
// the magic, the version, and that BlockLog actually matches
// BlockSize (both fields are redundant on disk; mismatched values
// indicate a corrupt or foreign image).
func DecodeSuperblock(k kind.Kind, b []byte) (Superblock, error) {
	if len(b) != superblockSize {
		return Superblock{}, fmt.Errorf("squashfs: superblock must be %d bytes, got %d", superblockSize, len(b))
	}
	order := k.SuperblockOrder()
	magic := order.Uint32(b[0:4])
	if kind.Magic(magic) != k.Magic() {
		return Superblock{}, &ErrBadMagic{Got: magic, Want: uint32(k.Magic())}
	}

	sb := Superblock{
		InodeCount:          order.Uint32(b[4:8]),
		ModTime:             order.Uint32(b[8:12]),
		BlockSize:           order.Uint32(b[12:16]),
		FragmentCount:       order.Uint32(b[16:20]),
		Compression:         compression.ID(order.Uint16(b[20:22])),
		BlockLog:            order.Uint16(b[22:24]),
		Flags:               Flags(order.Uint16(b[24:26])),
		IDCount:             order.Uint16(b[26:28]),
		VersionMajor:        order.Uint16(b[28:30]),
		VersionMinor:        order.Uint16(b[30:32]),
		RootInodeRef:        order.Uint64(b[32:40]),
		BytesUsed:           order.Uint64(b[40:48]),
		IDTableStart:        order.Uint64(b[48:56]),
		XattrTableStart:     order.Uint64(b[56:64]),
		InodeTableStart:     order.Uint64(b[64:72]),
		DirectoryTableStart: order.Uint64(b[72:80]),
		FragmentTableStart:  order.Uint64(b[80:88]),
		ExportTableStart:    order.Uint64(b[88:96]),
	}

	wantLog := uint16(math.Log2(float64(sb.BlockSize)))
	if sb.BlockSize == 0 || 1<<wantLog != sb.BlockSize || sb.BlockSize < minBlockSize || sb.BlockSize > maxBlockSize {
		return Superblock{}, &ErrInvalidBlockSize{BlockSize: sb.BlockSize}
	}
	if sb.BlockLog != wantLog {
		return Superblock{}, &ErrInvalidBlockLog{BlockSize: sb.BlockSize, BlockLog: sb.BlockLog}
	}
	major, minor := k.Version()
	if sb.VersionMajor != major || sb.VersionMinor != minor {
		return Superblock{}, &ErrUnsupportedVersion{Major: sb.VersionMajor, Minor: sb.VersionMinor, WantMajor: major, WantMinor: minor}
	}
	if err := sb.validateTableOffsets(); err != nil {
		return Superblock{}, err
	}
	return sb, nil
}

// validateTableOffsets checks every table start recorded in sb lies
// within bytes_used and that the tables which are present appear in
// their on-disk order: inode table, directory table, then whichever
// of fragment/export/id/xattr tables exist, per §3.1 and §4.4 step 2.
// A table start of noTable means that table is absent and is skipped.
func (sb Superblock) validateTableOffsets() error {
	type entry struct {
		name  string
		start uint64
	}
	ordered := []entry{
		{"inode table", sb.InodeTableStart},
		{"directory table", sb.DirectoryTableStart},
		{"fragment table", sb.FragmentTableStart},
		{"export table", sb.ExportTableStart},
		{"id table", sb.IDTableStart},
		{"xattr table", sb.XattrTableStart},
	}
	prev := uint64(0)
	for _, e := range ordered {
		if e.start == noTable {
			continue
		}
		if e.start >= sb.BytesUsed {
			return &ErrInvalidOffset{Table: e.name, Got: e.start, Limit: sb.BytesUsed}
		}
		if e.start < prev {
			return &ErrInvalidOffset{Table: e.name, Got: e.start, Limit: prev}
		}
		prev = e.start
	}
	return nil
}

// EncodeSuperblock serializes sb into a 96-byte region.
func EncodeSuperblock(k kind.Kind, sb Superblock) []byte {
	order := k.SuperblockOrder()
	b := make([]byte, superblockSize)
	order.PutUint32(b[0:4], uint32(k.Magic()))
	order.PutUint32(b[4:8], sb.InodeCount)
	order.PutUint32(b[8:12], sb.ModTime)
	order.PutUint32(b[12:16], sb.BlockSize)
	order.PutUint32(b[16:20], sb.FragmentCount)
	order.PutUint16(b[20:22], uint16(sb.Compression))
	order.PutUint16(b[22:24], sb.BlockLog)
	order.PutUint16(b[24:26], uint16(sb.Flags))
	order.PutUint16(b[26:28], sb.IDCount)
	major, minor := k.Version()
	order.PutUint16(b[28:30], major)
	order.PutUint16(b[30:32], minor)
	order.PutUint64(b[32:40], sb.RootInodeRef)
	order.PutUint64(b[40:48], sb.BytesUsed)
	order.PutUint64(b[48:56], sb.IDTableStart)
	order.PutUint64(b[56:64], sb.XattrTableStart)
	order.PutUint64(b[64:72], sb.InodeTableStart)
	order.PutUint64(b[72:80], sb.DirectoryTableStart)
	order.PutUint64(b[80:88], sb.FragmentTableStart)
	order.PutUint64(b[88:96], sb.ExportTableStart)
	return b
}

// InodeRef splits a 64-bit inode reference into the metadata block it
// starts in and the byte offset within that block, per spec §4.4.
type InodeRef uint64

func (r InodeRef) Block() uint32  { return uint32(r >> 16) }
func (r InodeRef) Offset() uint16 { return uint16(r & 0xffff) }

// NewInodeRef packs a (block, offset) pair into the 64-bit on-disk
// form.
func NewInodeRef(block uint32, offset uint16) InodeRef {
	return InodeRef(uint64(block)<<16 | uint64(offset))
}

// blockLogFor returns the block-log field for a power-of-two block
// size.
func blockLogFor(blockSize uint32) uint16 {
	return uint16(math.Log2(float64(blockSize)))
}
