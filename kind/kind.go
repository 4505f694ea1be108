// Package kind describes a SquashFS on-disk dialect: the magic bytes,
// the three independent endianness choices a dialect can make, the
// format version, and the compression backend active for an image.
// Nothing here is global — a Kind value is threaded explicitly through
// every reader and writer call, so two images of different dialects
// can be open in the same process at once.
package kind

import (
	"encoding/binary"
	"fmt"

	"github.com/go-squashfs/squashfs/bitio"
	"github.com/go-squashfs/squashfs/compression"
)

// Magic is the 4-byte value that opens every SquashFS superblock.
type Magic uint32

const (
	MagicLittle Magic = 0x73717368 // "hsqs" read little-endian
	MagicBig    Magic = 0x73717368 // "sqsh" read big-endian: the same value as MagicLittle, stored in big-endian superblock order
)

// Kind is an immutable dialect descriptor.
type Kind struct {
	magic Magic

	// superblockBig selects the byte order of the superblock's own
	// fixed fields.
	superblockBig bool
	// dataBig selects the byte order of integers embedded in inode and
	// directory bodies. The id, fragment, and export tables and their
	// index pointers use the superblock byte order.
	dataBig bool
	// metaBig selects the byte order of the 16-bit metadata-block
	// length header.
	metaBig bool

	versionMajor uint16
	versionMinor uint16

	compressor compression.Action
}

// LE_V4_0 is the mainline Linux kernel / mksquashfs dialect: all
// little-endian, SquashFS 4.0, gzip by default.
var LE_V4_0 = Kind{
	magic:         MagicLittle,
	superblockBig: false,
	dataBig:       false,
	metaBig:       false,
	versionMajor:  4,
	versionMinor:  0,
	compressor:    compression.GzipAction,
}

// BE_V4_0 is the all-big-endian SquashFS 4.0 dialect seen on some
// network-attached-storage firmware.
var BE_V4_0 = Kind{
	magic:         MagicBig,
	superblockBig: true,
	dataBig:       true,
	metaBig:       true,
	versionMajor:  4,
	versionMinor:  0,
	compressor:    compression.GzipAction,
}

// AVM_BE_V4_0 is the AVM Fritz!Box dialect: a big-endian superblock
// and metadata-block headers, but little-endian data-block and inode
// integers — the one shipping mixed-endian dialect this package knows
// about.
var AVM_BE_V4_0 = Kind{
	magic:         MagicBig,
	superblockBig: true,
	dataBig:       false,
	metaBig:       true,
	versionMajor:  4,
	versionMinor:  0,
	compressor:    compression.GzipAction,
}

// New returns a Kind seeded from base with its CompressionAction
// replaced; base's endianness and magic are preserved.
func New(base Kind, action compression.Action) Kind {
	k := base
	k.compressor = action
	return k
}

// FromTarget resolves a dialect by name, for CLI collaborators that
// accept a --kind flag. Recognized names: "le" (default), "be",
// "avm_be".
func FromTarget(name string) (Kind, error) {
	switch name {
	case "", "le", "le_v4_0":
		return LE_V4_0, nil
	case "be", "be_v4_0":
		return BE_V4_0, nil
	case "avm_be", "avm_be_v4_0":
		return AVM_BE_V4_0, nil
	default:
		return Kind{}, fmt.Errorf("kind: unknown dialect %q", name)
	}
}

// WithMagic returns a copy of k with its magic replaced.
func (k Kind) WithMagic(m Magic) Kind { k.magic = m; return k }

// WithSuperblockEndian returns a copy of k with its superblock byte
// order replaced.
func (k Kind) WithSuperblockEndian(big bool) Kind { k.superblockBig = big; return k }

// WithDataEndian returns a copy of k with its data-integer byte order
// replaced.
func (k Kind) WithDataEndian(big bool) Kind { k.dataBig = big; return k }

// WithMetadataEndian returns a copy of k with its metadata-length byte
// order replaced.
func (k Kind) WithMetadataEndian(big bool) Kind { k.metaBig = big; return k }

// WithAllEndian returns a copy of k with all three endian selectors
// set to the same value.
func (k Kind) WithAllEndian(big bool) Kind {
	k.superblockBig, k.dataBig, k.metaBig = big, big, big
	return k
}

// WithVersion returns a copy of k with its version fields replaced.
func (k Kind) WithVersion(major, minor uint16) Kind {
	k.versionMajor, k.versionMinor = major, minor
	return k
}

// WithCompressor returns a copy of k with its active Action replaced.
func (k Kind) WithCompressor(action compression.Action) Kind {
	k.compressor = action
	return k
}

func (k Kind) Magic() Magic                    { return k.magic }
func (k Kind) Version() (major, minor uint16)  { return k.versionMajor, k.versionMinor }
func (k Kind) Compressor() compression.Action  { return k.compressor }

// SuperblockOrder, DataOrder, and MetadataOrder return the
// binary.ByteOrder each of the three independent endian selectors
// resolves to.
func (k Kind) SuperblockOrder() binary.ByteOrder { return bitio.Order(k.superblockBig) }
func (k Kind) DataOrder() binary.ByteOrder       { return bitio.Order(k.dataBig) }
func (k Kind) MetadataOrder() binary.ByteOrder   { return bitio.Order(k.metaBig) }

// MagicBytes returns the 4 on-disk magic bytes in superblock byte
// order, ready to compare against a raw image prefix.
func (k Kind) MagicBytes() [4]byte {
	var b [4]byte
	k.SuperblockOrder().PutUint32(b[:], uint32(k.magic))
	return b
}

// DetectMagic reports which known Magic (if any) the first 4 bytes of
// an image represent, trying both byte orders since the magic itself
// is what tells a reader which order to use next.
func DetectMagic(b []byte) (magic Magic, big bool, ok bool) {
	if len(b) < 4 {
		return 0, false, false
	}
	if binary.LittleEndian.Uint32(b) == uint32(MagicLittle) {
		return MagicLittle, false, true
	}
	if binary.BigEndian.Uint32(b) == uint32(MagicBig) {
		return MagicBig, true, true
	}
	return 0, false, false
}
