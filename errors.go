package squashfs

import "fmt"

// ErrBadMagic is returned when an image's first 4 bytes don't match
// the Kind the caller asked to parse with.
type ErrBadMagic struct {
	Got, Want uint32
}

func (e *ErrBadMagic) Error() string {
	return fmt.Sprintf("squashfs: bad magic %#08x, expected %#08x", e.Got, e.Want)
}

// ErrUnsupportedCompressor is returned when a superblock names a
// compressor id this build has no Action for.
type ErrUnsupportedCompressor struct {
	ID uint16
}

func (e *ErrUnsupportedCompressor) Error() string {
	return fmt.Sprintf("squashfs: unsupported compressor id %d", e.ID)
}

// ErrInvalidBlockSize is returned when a superblock's block_size is
// not a power of two or falls outside the [4 KiB, 1 MiB] range §4.4
// requires.
type ErrInvalidBlockSize struct {
	BlockSize uint32
}

func (e *ErrInvalidBlockSize) Error() string {
	return fmt.Sprintf("squashfs: invalid block size %d", e.BlockSize)
}

// ErrInvalidBlockLog is returned when a superblock's block_log field
// does not match its (otherwise valid) block_size.
type ErrInvalidBlockLog struct {
	BlockSize uint32
	BlockLog  uint16
}

func (e *ErrInvalidBlockLog) Error() string {
	return fmt.Sprintf("squashfs: block log %d does not match block size %d", e.BlockLog, e.BlockSize)
}

// ErrUnsupportedVersion is returned when a superblock's version
// doesn't match the dialect it was parsed with.
type ErrUnsupportedVersion struct {
	Major, Minor         uint16
	WantMajor, WantMinor uint16
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("squashfs: image is version %d.%d, this package reads %d.%d", e.Major, e.Minor, e.WantMajor, e.WantMinor)
}

// ErrInvalidOffset is returned when a superblock's table offsets fall
// outside bytes_used or are not in the on-disk ordering §3.1 and
// §4.4 step 2 require: inode table, directory table, then whichever
// of the fragment/export/id/xattr tables are present.
type ErrInvalidOffset struct {
	Table string
	Got   uint64
	Limit uint64
}

func (e *ErrInvalidOffset) Error() string {
	return fmt.Sprintf("squashfs: %s offset %d is out of range (limit %d)", e.Table, e.Got, e.Limit)
}

// ErrInvalidCompressionOption is returned when the compressor-options
// metadata block fails to parse under the superblock's own
// compressor.
type ErrInvalidCompressionOption struct {
	Compressor string
	Err        error
}

func (e *ErrInvalidCompressionOption) Error() string {
	return fmt.Sprintf("squashfs: invalid %s compressor options: %v", e.Compressor, e.Err)
}

func (e *ErrInvalidCompressionOption) Unwrap() error { return e.Err }

// ErrNotADirectory is returned when a path operation expects a
// directory node and finds a leaf.
type ErrNotADirectory struct {
	Path string
}

func (e *ErrNotADirectory) Error() string {
	return fmt.Sprintf("squashfs: %q is not a directory", e.Path)
}

// ErrNotFound is returned when a path does not resolve to any node.
type ErrNotFound struct {
	Path string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("squashfs: %q not found", e.Path)
}

// ErrCycle is returned when directory traversal would revisit an
// inode already on the current path, which a well-formed image never
// does but a hostile or corrupt one might try.
type ErrCycle struct {
	Path string
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("squashfs: cycle detected at %q", e.Path)
}

// ErrTruncated is returned when a read runs past the end of the image
// or past a table's declared bounds.
type ErrTruncated struct {
	Context string
}

func (e *ErrTruncated) Error() string {
	return fmt.Sprintf("squashfs: truncated image while reading %s", e.Context)
}
