// Package inode decodes and encodes the 14 SquashFS inode bodies: the
// basic/extended pairing of directory, regular file, symlink, block
// device, char device, fifo, and socket. Every body is read from (or
// written to) the same compressed metadata stream that backs
// directory listings, via a metadata.Cursor so a variable-length tail
// (a symlink target, a file's block-size list, an extended
// directory's index array) can be decoded without knowing its length
// in advance.
package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/go-squashfs/squashfs/metadata"
)

// Type is the on-disk u16 inode type tag.
type Type uint16

const (
	BasicDirectory     Type = 1
	BasicFile          Type = 2
	BasicSymlink       Type = 3
	BasicBlockDevice   Type = 4
	BasicCharDevice    Type = 5
	BasicFIFO          Type = 6
	BasicSocket        Type = 7
	ExtendedDirectory  Type = 8
	ExtendedFile       Type = 9
	ExtendedSymlink    Type = 10
	ExtendedBlockDevice Type = 11
	ExtendedCharDevice  Type = 12
	ExtendedFIFO        Type = 13
	ExtendedSocket      Type = 14
)

// NoFragment is the fragmentBlockIndex sentinel meaning "this file has
// no fragment tail".
const NoFragment uint32 = 0xffffffff

// HeaderSize is the fixed 16-byte header every inode carries ahead of
// its type-specific body.
const HeaderSize = 16

// Header is the common prefix of every inode.
type Header struct {
	Type        Type
	Permissions uint16
	UIDIndex    uint16
	GIDIndex    uint16
	ModTime     uint32
	Number      uint32
}

// DecodeHeader parses a 16-byte inode header.
func DecodeHeader(order binary.ByteOrder, b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, &ErrCorruptedInode{Reason: fmt.Sprintf("header must be %d bytes, got %d", HeaderSize, len(b))}
	}
	return Header{
		Type:        Type(order.Uint16(b[0:2])),
		Permissions: order.Uint16(b[2:4]),
		UIDIndex:    order.Uint16(b[4:6]),
		GIDIndex:    order.Uint16(b[6:8]),
		ModTime:     order.Uint32(b[8:12]),
		Number:      order.Uint32(b[12:16]),
	}, nil
}

// Encode serializes h into a 16-byte header.
func (h Header) Encode(order binary.ByteOrder) []byte {
	b := make([]byte, HeaderSize)
	order.PutUint16(b[0:2], uint16(h.Type))
	order.PutUint16(b[2:4], h.Permissions)
	order.PutUint16(b[4:6], h.UIDIndex)
	order.PutUint16(b[6:8], h.GIDIndex)
	order.PutUint32(b[8:12], h.ModTime)
	order.PutUint32(b[12:16], h.Number)
	return b
}

// BlockData describes one entry of a regular file's block-size list:
// the on-disk size of a single data block, and whether that block is
// stored compressed. A size of 0 is a sparse hole.
type BlockData struct {
	Size       uint32
	Compressed bool
}

// blockCompressedBit is set on disk when the block is NOT compressed —
// the historical inverse convention spec.md §3.3 calls out.
const blockCompressedBit = 1 << 24

func decodeBlockData(order binary.ByteOrder, b []byte) BlockData {
	raw := order.Uint32(b)
	return BlockData{
		Size:       raw &^ blockCompressedBit,
		Compressed: raw&blockCompressedBit == 0,
	}
}

func encodeBlockData(order binary.ByteOrder, b []byte, bd BlockData) {
	raw := bd.Size
	if !bd.Compressed {
		raw |= blockCompressedBit
	}
	order.PutUint32(b, raw)
}

// Body is implemented by each of the 14 type-specific inode payloads.
type Body interface {
	Type() Type
}

type BasicDirectoryBody struct {
	StartBlock        uint32
	Links             uint32
	FileSize          uint16
	Offset            uint16
	ParentInodeNumber uint32
}

func (BasicDirectoryBody) Type() Type { return BasicDirectory }

type DirectoryIndexEntry struct {
	Index      uint32 // byte offset into the uncompressed directory listing
	StartBlock uint32 // metadata block this index entry's run starts in
	Name       string // first name in the indexed run
}

type ExtendedDirectoryBody struct {
	Links             uint32
	FileSize          uint32
	StartBlock        uint32
	ParentInodeNumber uint32
	Offset            uint16
	Index             []DirectoryIndexEntry
	XattrIndex        uint32
}

func (ExtendedDirectoryBody) Type() Type { return ExtendedDirectory }

type BasicFileBody struct {
	BlockStart         uint32
	FragmentBlockIndex uint32
	FragmentOffset     uint32
	FileSize           uint32
	BlockSizes         []BlockData
}

func (BasicFileBody) Type() Type { return BasicFile }

func (b BasicFileBody) HasFragment() bool { return b.FragmentBlockIndex != NoFragment }

type ExtendedFileBody struct {
	BlockStart         uint64
	FileSize           uint64
	Sparse             uint64
	Links              uint32
	FragmentBlockIndex uint32
	FragmentOffset     uint32
	XattrIndex         uint32
	BlockSizes         []BlockData
}

func (ExtendedFileBody) Type() Type { return ExtendedFile }

func (b ExtendedFileBody) HasFragment() bool { return b.FragmentBlockIndex != NoFragment }

type BasicSymlinkBody struct {
	Links  uint32
	Target string
}

func (BasicSymlinkBody) Type() Type { return BasicSymlink }

type ExtendedSymlinkBody struct {
	Links      uint32
	Target     string
	XattrIndex uint32
}

func (ExtendedSymlinkBody) Type() Type { return ExtendedSymlink }

type BasicDeviceBody struct {
	Links  uint32
	DevNum uint32
	Kind   Type // BasicBlockDevice or BasicCharDevice
}

func (b BasicDeviceBody) Type() Type { return b.Kind }

type ExtendedDeviceBody struct {
	Links      uint32
	DevNum     uint32
	XattrIndex uint32
	Kind       Type // ExtendedBlockDevice or ExtendedCharDevice
}

func (b ExtendedDeviceBody) Type() Type { return b.Kind }

type BasicIPCBody struct {
	Links uint32
	Kind  Type // BasicFIFO or BasicSocket
}

func (b BasicIPCBody) Type() Type { return b.Kind }

type ExtendedIPCBody struct {
	Links      uint32
	XattrIndex uint32
	Kind       Type // ExtendedFIFO or ExtendedSocket
}

func (b ExtendedIPCBody) Type() Type { return b.Kind }

// DecodeBody reads typ's body from cur, which must be positioned
// immediately after the inode's 16-byte header. blockSize is the
// filesystem's configured data block size, needed to compute how many
// block-size entries a file body's tail carries.
func DecodeBody(cur *metadata.Cursor, order binary.ByteOrder, typ Type, blockSize uint32) (Body, error) {
	switch typ {
	case BasicDirectory:
		var b [16]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		return BasicDirectoryBody{
			StartBlock:        order.Uint32(b[0:4]),
			Links:             order.Uint32(b[4:8]),
			FileSize:          order.Uint16(b[8:10]),
			Offset:            order.Uint16(b[10:12]),
			ParentInodeNumber: order.Uint32(b[12:16]),
		}, nil

	case ExtendedDirectory:
		var b [24]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		indexCount := order.Uint16(b[16:18])
		eb := ExtendedDirectoryBody{
			Links:             order.Uint32(b[0:4]),
			FileSize:          order.Uint32(b[4:8]),
			StartBlock:        order.Uint32(b[8:12]),
			ParentInodeNumber: order.Uint32(b[12:16]),
			Offset:            order.Uint16(b[18:20]),
			XattrIndex:        order.Uint32(b[20:24]),
		}
		for i := uint16(0); i < indexCount; i++ {
			var fixed [12]byte
			if err := cur.Read(fixed[:]); err != nil {
				return nil, err
			}
			nameSize := order.Uint32(fixed[8:12]) + 1
			name := make([]byte, nameSize)
			if err := cur.Read(name); err != nil {
				return nil, err
			}
			eb.Index = append(eb.Index, DirectoryIndexEntry{
				Index:      order.Uint32(fixed[0:4]),
				StartBlock: order.Uint32(fixed[4:8]),
				Name:       string(name),
			})
		}
		return eb, nil

	case BasicFile:
		var b [16]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		fb := BasicFileBody{
			BlockStart:         order.Uint32(b[0:4]),
			FragmentBlockIndex: order.Uint32(b[4:8]),
			FragmentOffset:     order.Uint32(b[8:12]),
			FileSize:           order.Uint32(b[12:16]),
		}
		n := blockCount(uint64(fb.FileSize), fb.HasFragment(), blockSize)
		sizes, err := decodeBlockSizes(cur, order, n)
		if err != nil {
			return nil, err
		}
		fb.BlockSizes = sizes
		return fb, nil

	case ExtendedFile:
		var b [40]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		fb := ExtendedFileBody{
			BlockStart:         order.Uint64(b[0:8]),
			FileSize:           order.Uint64(b[8:16]),
			Sparse:             order.Uint64(b[16:24]),
			Links:              order.Uint32(b[24:28]),
			FragmentBlockIndex: order.Uint32(b[28:32]),
			FragmentOffset:     order.Uint32(b[32:36]),
			XattrIndex:         order.Uint32(b[36:40]),
		}
		n := blockCount(fb.FileSize, fb.HasFragment(), blockSize)
		sizes, err := decodeBlockSizes(cur, order, n)
		if err != nil {
			return nil, err
		}
		fb.BlockSizes = sizes
		return fb, nil

	case BasicSymlink:
		var b [8]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		target, err := readTarget(cur, order.Uint32(b[4:8]))
		if err != nil {
			return nil, err
		}
		return BasicSymlinkBody{Links: order.Uint32(b[0:4]), Target: target}, nil

	case ExtendedSymlink:
		var b [8]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		target, err := readTarget(cur, order.Uint32(b[4:8]))
		if err != nil {
			return nil, err
		}
		var xattr [4]byte
		if err := cur.Read(xattr[:]); err != nil {
			return nil, err
		}
		return ExtendedSymlinkBody{Links: order.Uint32(b[0:4]), Target: target, XattrIndex: order.Uint32(xattr[:])}, nil

	case BasicBlockDevice, BasicCharDevice:
		var b [8]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		return BasicDeviceBody{Links: order.Uint32(b[0:4]), DevNum: order.Uint32(b[4:8]), Kind: typ}, nil

	case ExtendedBlockDevice, ExtendedCharDevice:
		var b [12]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		return ExtendedDeviceBody{
			Links:      order.Uint32(b[0:4]),
			DevNum:     order.Uint32(b[4:8]),
			XattrIndex: order.Uint32(b[8:12]),
			Kind:       typ,
		}, nil

	case BasicFIFO, BasicSocket:
		var b [4]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		return BasicIPCBody{Links: order.Uint32(b[:]), Kind: typ}, nil

	case ExtendedFIFO, ExtendedSocket:
		var b [8]byte
		if err := cur.Read(b[:]); err != nil {
			return nil, err
		}
		return ExtendedIPCBody{Links: order.Uint32(b[0:4]), XattrIndex: order.Uint32(b[4:8]), Kind: typ}, nil

	default:
		return nil, &ErrCorruptedInode{Reason: fmt.Sprintf("unknown type %d", typ)}
	}
}

func readTarget(cur *metadata.Cursor, size uint32) (string, error) {
	b := make([]byte, size)
	if err := cur.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// blockCount returns how many block-size entries a file body's tail
// carries: one per full data block, plus one for a partial last block
// when the file has no fragment; a tail stored in a fragment has none.
func blockCount(fileSize uint64, hasFragment bool, blockSize uint32) int {
	if blockSize == 0 {
		return 0
	}
	full := fileSize / uint64(blockSize)
	rem := fileSize % uint64(blockSize)
	if rem != 0 && !hasFragment {
		full++
	}
	return int(full)
}

func decodeBlockSizes(cur *metadata.Cursor, order binary.ByteOrder, n int) ([]BlockData, error) {
	if n == 0 {
		return nil, nil
	}
	out := make([]BlockData, n)
	buf := make([]byte, 4*n)
	if err := cur.Read(buf); err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		out[i] = decodeBlockData(order, buf[i*4:i*4+4])
	}
	return out, nil
}

// EncodeBlockSizes serializes a block-size list in the on-disk
// inverted-compressed-bit convention.
func EncodeBlockSizes(order binary.ByteOrder, sizes []BlockData) []byte {
	b := make([]byte, 4*len(sizes))
	for i, bd := range sizes {
		encodeBlockData(order, b[i*4:i*4+4], bd)
	}
	return b
}

// EncodeBody serializes body's type-specific tail (not including the
// 16-byte Header, which callers write separately via Header.Encode).
func EncodeBody(order binary.ByteOrder, body Body) ([]byte, error) {
	switch b := body.(type) {
	case BasicDirectoryBody:
		out := make([]byte, 16)
		order.PutUint32(out[0:4], b.StartBlock)
		order.PutUint32(out[4:8], b.Links)
		order.PutUint16(out[8:10], b.FileSize)
		order.PutUint16(out[10:12], b.Offset)
		order.PutUint32(out[12:16], b.ParentInodeNumber)
		return out, nil

	case ExtendedDirectoryBody:
		out := make([]byte, 24)
		order.PutUint32(out[0:4], b.Links)
		order.PutUint32(out[4:8], b.FileSize)
		order.PutUint32(out[8:12], b.StartBlock)
		order.PutUint32(out[12:16], b.ParentInodeNumber)
		order.PutUint16(out[16:18], uint16(len(b.Index)))
		order.PutUint16(out[18:20], b.Offset)
		order.PutUint32(out[20:24], b.XattrIndex)
		for _, e := range b.Index {
			fixed := make([]byte, 12)
			order.PutUint32(fixed[0:4], e.Index)
			order.PutUint32(fixed[4:8], e.StartBlock)
			order.PutUint32(fixed[8:12], uint32(len(e.Name))-1)
			out = append(out, fixed...)
			out = append(out, []byte(e.Name)...)
		}
		return out, nil

	case BasicFileBody:
		out := make([]byte, 16)
		order.PutUint32(out[0:4], b.BlockStart)
		order.PutUint32(out[4:8], b.FragmentBlockIndex)
		order.PutUint32(out[8:12], b.FragmentOffset)
		order.PutUint32(out[12:16], b.FileSize)
		return append(out, EncodeBlockSizes(order, b.BlockSizes)...), nil

	case ExtendedFileBody:
		out := make([]byte, 40)
		order.PutUint64(out[0:8], b.BlockStart)
		order.PutUint64(out[8:16], b.FileSize)
		order.PutUint64(out[16:24], b.Sparse)
		order.PutUint32(out[24:28], b.Links)
		order.PutUint32(out[28:32], b.FragmentBlockIndex)
		order.PutUint32(out[32:36], b.FragmentOffset)
		order.PutUint32(out[36:40], b.XattrIndex)
		return append(out, EncodeBlockSizes(order, b.BlockSizes)...), nil

	case BasicSymlinkBody:
		out := make([]byte, 8)
		order.PutUint32(out[0:4], b.Links)
		order.PutUint32(out[4:8], uint32(len(b.Target)))
		return append(out, []byte(b.Target)...), nil

	case ExtendedSymlinkBody:
		out := make([]byte, 8)
		order.PutUint32(out[0:4], b.Links)
		order.PutUint32(out[4:8], uint32(len(b.Target)))
		out = append(out, []byte(b.Target)...)
		tail := make([]byte, 4)
		order.PutUint32(tail, b.XattrIndex)
		return append(out, tail...), nil

	case BasicDeviceBody:
		out := make([]byte, 8)
		order.PutUint32(out[0:4], b.Links)
		order.PutUint32(out[4:8], b.DevNum)
		return out, nil

	case ExtendedDeviceBody:
		out := make([]byte, 12)
		order.PutUint32(out[0:4], b.Links)
		order.PutUint32(out[4:8], b.DevNum)
		order.PutUint32(out[8:12], b.XattrIndex)
		return out, nil

	case BasicIPCBody:
		out := make([]byte, 4)
		order.PutUint32(out, b.Links)
		return out, nil

	case ExtendedIPCBody:
		out := make([]byte, 8)
		order.PutUint32(out[0:4], b.Links)
		order.PutUint32(out[4:8], b.XattrIndex)
		return out, nil

	default:
		return nil, fmt.Errorf("inode: unknown body type %T", body)
	}
}
