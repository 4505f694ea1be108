package squashfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/directory"
	"github.com/go-squashfs/squashfs/inode"
	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/metadata"
	"github.com/go-squashfs/squashfs/table"
	"github.com/go-squashfs/squashfs/tree"
)

// MaxAutoOffsetScan bounds how far Open will scan forward looking for
// a magic number when AutoOffset is set, so a non-squashfs file
// doesn't make Open spend unbounded time reading garbage.
const MaxAutoOffsetScan = 32 << 20

// OpenOptions configures Open.
type OpenOptions struct {
	// Offset is the byte offset into ra the superblock starts at.
	// Ignored if AutoOffset is set.
	Offset int64
	// AutoOffset makes Open scan forward from byte 0 for a magic
	// number, up to MaxAutoOffsetScan bytes, instead of trusting
	// Offset. Appended-image formats (some router firmware, some
	// snap-like payloads) prepend an arbitrary header before the
	// squashfs image.
	AutoOffset bool
	// Kind is the dialect to parse with. If nil, Open picks LE_V4_0 or
	// BE_V4_0 according to what DetectMagic finds in the first 4 bytes
	// of the superblock.
	Kind *kind.Kind
}

// fragmentEntry is one decoded record of the fragment table.
type fragmentEntry struct {
	Start      uint64
	Size       uint32
	Compressed bool
}

// Reader is an opened, parsed SquashFS image. It is safe for
// concurrent use by multiple goroutines once Open returns.
type Reader struct {
	ra   io.ReaderAt
	size int64
	base int64
	kind kind.Kind
	sb   Superblock

	ids       []uint32
	fragments []fragmentEntry

	root *tree.Node
	// byInode maps an inode number to the tree Node it decoded into,
	// for symlink/export-table lookups and cycle detection.
	byInode map[uint32]*tree.Node

	inodes *metadata.Reader
	dirs   *metadata.Reader

	// compressorOptions holds the raw bytes of the compression-options
	// region, if any, once ParseOptions has accepted them. Nothing in
	// this package reads them back; decompression never needs them:
	// every codec here is self-describing on the wire.
	compressorOptions []byte
}

// Open parses the superblock at opts.Offset (or a scanned offset, if
// opts.AutoOffset is set) and walks the whole directory tree eagerly;
// file contents are read lazily from ra on demand.
func Open(ra io.ReaderAt, size int64, opts OpenOptions) (*Reader, error) {
	base := opts.Offset
	if opts.AutoOffset {
		off, err := scanForMagic(ra, size)
		if err != nil {
			return nil, err
		}
		base = off
	}

	var hdr [superblockSize]byte
	if _, err := ra.ReadAt(hdr[:], base); err != nil {
		return nil, fmt.Errorf("squashfs: reading superblock at %d: %w", base, err)
	}

	k, err := resolveKind(opts.Kind, hdr[:])
	if err != nil {
		return nil, err
	}

	sb, err := DecodeSuperblock(k, hdr[:])
	if err != nil {
		return nil, err
	}
	action, err := compression.ByID(sb.Compression)
	if err != nil {
		return nil, &ErrUnsupportedCompressor{ID: uint16(sb.Compression)}
	}
	k = kind.New(k, action)

	var compressorOptions []byte
	if sb.Flags.has(FlagCompressorOptions) {
		// Compressor options occupy one metadata block immediately
		// after the superblock. Decompression never needs them (every
		// codec here is self-describing on the wire); the raw bytes are
		// kept in the Reader's unexported compressorOptions field,
		// which no method exposes. §4.2 requires
		// parsing them before anything else is decompressed, so a
		// malformed options region is rejected up front rather than
		// surfacing later as an unrelated decompression failure.
		optsReader := metadata.NewReader(ra, base+superblockSize, base+int64(sb.InodeTableStart), k)
		raw := make([]byte, compressorOptionsSize(sb.Compression))
		if err := optsReader.ReadAt(metadata.Ref{}, raw); err != nil {
			return nil, &ErrInvalidCompressionOption{Compressor: sb.Compression.String(), Err: err}
		}
		if _, err := action.ParseOptions(raw); err != nil {
			return nil, &ErrInvalidCompressionOption{Compressor: sb.Compression.String(), Err: err}
		}
		compressorOptions = raw
	}

	r := &Reader{
		ra: ra, size: size, base: base, kind: k, sb: sb,
		byInode:           map[uint32]*tree.Node{},
		compressorOptions: compressorOptions,
	}

	// Table offsets, and the block pointers in each table's index, are
	// relative to the superblock, so read the tables through a view of
	// ra that starts at base.
	tables := io.NewSectionReader(ra, base, size-base)
	if sb.IDCount > 0 && sb.IDTableStart != noTable {
		ids, err := readIDTable(tables, k, int64(sb.IDTableStart), int(sb.IDCount))
		if err != nil {
			return nil, err
		}
		r.ids = ids
	}
	if sb.FragmentCount > 0 && sb.FragmentTableStart != noTable {
		frags, err := readFragmentTable(tables, k, int64(sb.FragmentTableStart), int(sb.FragmentCount))
		if err != nil {
			return nil, err
		}
		r.fragments = frags
	}

	r.inodes = metadata.NewReader(ra, base+int64(sb.InodeTableStart), base+int64(sb.DirectoryTableStart), k)
	dirLimit := base + int64(sb.FragmentTableStart)
	if sb.FragmentTableStart == noTable || sb.FragmentTableStart < sb.DirectoryTableStart {
		dirLimit = base + int64(sb.BytesUsed)
	}
	r.dirs = metadata.NewReader(ra, base+int64(sb.DirectoryTableStart), dirLimit, k)

	rootRef := InodeRef(sb.RootInodeRef)
	root, err := r.decodeDirectory("", rootRef, nil, map[uint32]bool{})
	if err != nil {
		return nil, fmt.Errorf("squashfs: building tree: %w", err)
	}
	r.root = root
	return r, nil
}

// compressorOptionsSize returns how many bytes each codec's
// compression-options region occupies on disk, matching the sizes
// each Action's own ParseOptions enforces.
func compressorOptionsSize(id compression.ID) int {
	switch id {
	case compression.Gzip, compression.Xz, compression.Lz4:
		return 8
	case compression.Zstd:
		return 4
	default: // Lzo, Lzma carry no options region
		return 0
	}
}

func resolveKind(want *kind.Kind, hdr []byte) (kind.Kind, error) {
	if want != nil {
		return *want, nil
	}
	_, big, ok := kind.DetectMagic(hdr)
	if !ok {
		return kind.Kind{}, fmt.Errorf("squashfs: no recognized magic at image start")
	}
	if big {
		return kind.BE_V4_0, nil
	}
	return kind.LE_V4_0, nil
}

func scanForMagic(ra io.ReaderAt, size int64) (int64, error) {
	limit := size
	if limit > MaxAutoOffsetScan {
		limit = MaxAutoOffsetScan
	}
	buf := make([]byte, 4)
	for off := int64(0); off+4 <= limit; off++ {
		if _, err := ra.ReadAt(buf, off); err != nil {
			return 0, err
		}
		if _, _, ok := kind.DetectMagic(buf); ok {
			return off, nil
		}
	}
	return 0, fmt.Errorf("squashfs: no magic found in first %d bytes", limit)
}

func readIDTable(ra io.ReaderAt, k kind.Kind, offset int64, count int) ([]uint32, error) {
	out := make([]uint32, count)
	err := table.ReadRecords(ra, k, offset, count, 4, func(i int, b []byte) error {
		out[i] = k.SuperblockOrder().Uint32(b)
		return nil
	})
	return out, err
}

func readFragmentTable(ra io.ReaderAt, k kind.Kind, offset int64, count int) ([]fragmentEntry, error) {
	out := make([]fragmentEntry, count)
	err := table.ReadRecords(ra, k, offset, count, 16, func(i int, b []byte) error {
		order := k.SuperblockOrder()
		raw := order.Uint32(b[8:12])
		out[i] = fragmentEntry{
			Start:      order.Uint64(b[0:8]),
			Size:       raw &^ (1 << 24),
			Compressed: raw&(1<<24) == 0,
		}
		return nil
	})
	return out, err
}

// decodeDirectory reads the inode at ref, which must be a directory,
// recursively decoding its children into a tree.Node.
func (r *Reader) decodeDirectory(name string, ref InodeRef, parent *tree.Node, onPath map[uint32]bool) (*tree.Node, error) {
	hdr, body, err := r.readInode(ref)
	if err != nil {
		return nil, err
	}
	if onPath[hdr.Number] {
		return nil, &ErrCycle{Path: name}
	}
	onPath[hdr.Number] = true
	defer delete(onPath, hdr.Number)

	var startBlock, fileSize uint32
	var offset uint16
	switch b := body.(type) {
	case inode.BasicDirectoryBody:
		startBlock, fileSize, offset = b.StartBlock, uint32(b.FileSize), b.Offset
	case inode.ExtendedDirectoryBody:
		startBlock, fileSize, offset = b.StartBlock, b.FileSize, b.Offset
	default:
		return nil, &ErrNotADirectory{Path: name}
	}

	node := &tree.Node{
		Name:     name,
		Kind:     tree.Dir,
		Mode:     os.FileMode(hdr.Permissions) | os.ModeDir,
		ModTime:  time.Unix(int64(hdr.ModTime), 0),
		Parent:   parent,
		Children: map[string]*tree.Node{},
	}
	r.setOwnership(node, hdr)
	r.byInode[hdr.Number] = node

	entries, err := directory.Decode(r.dirs, metadata.Ref{Block: startBlock, Offset: offset}, fileSize, r.kind.DataOrder())
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		childRef := NewInodeRef(e.InodeRef.Block, e.InodeRef.Offset)
		child, err := r.decodeChild(e.Name, e.InodeType, childRef, node, onPath)
		if err != nil {
			return nil, err
		}
		node.Children[e.Name] = child
	}
	return node, nil
}

func (r *Reader) decodeChild(name string, typ inode.Type, ref InodeRef, parent *tree.Node, onPath map[uint32]bool) (*tree.Node, error) {
	switch typ {
	case inode.BasicDirectory, inode.ExtendedDirectory:
		return r.decodeDirectory(name, ref, parent, onPath)
	}

	hdr, body, err := r.readInode(ref)
	if err != nil {
		return nil, err
	}
	node := &tree.Node{
		Name:    name,
		Mode:    os.FileMode(hdr.Permissions),
		ModTime: time.Unix(int64(hdr.ModTime), 0),
		Parent:  parent,
	}
	r.setOwnership(node, hdr)
	r.byInode[hdr.Number] = node

	switch b := body.(type) {
	case inode.BasicFileBody, inode.ExtendedFileBody:
		node.Kind = tree.File
		node.Reader = func() (tree.ReadAtCloser, int64, error) {
			data, err := r.readFileBody(b)
			if err != nil {
				return nil, 0, err
			}
			return readAtCloser{data}, int64(len(data)), nil
		}
	case inode.BasicSymlinkBody:
		node.Kind = tree.Symlink
		node.LinkTarget = b.Target
	case inode.ExtendedSymlinkBody:
		node.Kind = tree.Symlink
		node.LinkTarget = b.Target
	case inode.BasicDeviceBody:
		node.Kind = devKind(b.Kind)
		node.DevMajor, node.DevMinor = splitDevNum(b.DevNum)
	case inode.ExtendedDeviceBody:
		node.Kind = devKind(b.Kind)
		node.DevMajor, node.DevMinor = splitDevNum(b.DevNum)
	case inode.BasicIPCBody:
		node.Kind = ipcKind(b.Kind)
	case inode.ExtendedIPCBody:
		node.Kind = ipcKind(b.Kind)
	default:
		return nil, fmt.Errorf("squashfs: unhandled inode body %T", body)
	}
	return node, nil
}

func devKind(t inode.Type) tree.Kind {
	if t == inode.BasicBlockDevice || t == inode.ExtendedBlockDevice {
		return tree.BlockDevice
	}
	return tree.CharDevice
}

func ipcKind(t inode.Type) tree.Kind {
	if t == inode.BasicFIFO || t == inode.ExtendedFIFO {
		return tree.FIFO
	}
	return tree.Socket
}

func splitDevNum(raw uint32) (major, minor uint32) {
	major = (raw >> 8) & 0xfff
	minor = (raw & 0xff) | ((raw >> 12) & 0xfff00)
	return
}

func (r *Reader) readInode(ref InodeRef) (inode.Header, inode.Body, error) {
	cur := r.inodes.Cursor(metadata.Ref{Block: ref.Block(), Offset: ref.Offset()})
	var hb [inode.HeaderSize]byte
	if err := cur.Read(hb[:]); err != nil {
		return inode.Header{}, nil, err
	}
	hdr, err := inode.DecodeHeader(r.kind.DataOrder(), hb[:])
	if err != nil {
		return inode.Header{}, nil, err
	}
	body, err := inode.DecodeBody(cur, r.kind.DataOrder(), hdr.Type, r.sb.BlockSize)
	if err != nil {
		return inode.Header{}, nil, err
	}
	return hdr, body, nil
}

func (r *Reader) setOwnership(n *tree.Node, hdr inode.Header) {
	if int(hdr.UIDIndex) < len(r.ids) {
		n.UID = r.ids[hdr.UIDIndex]
	}
	if int(hdr.GIDIndex) < len(r.ids) {
		n.GID = r.ids[hdr.GIDIndex]
	}
}

// readFileBody reassembles a regular file's content: its full data
// blocks in order, followed by its fragment tail if it has one.
func (r *Reader) readFileBody(body inode.Body) ([]byte, error) {
	var blockStart int64
	var fileSize int64
	var blockSizes []inode.BlockData
	var fragIndex, fragOffset uint32
	hasFragment := false

	switch b := body.(type) {
	case inode.BasicFileBody:
		blockStart, fileSize, blockSizes = int64(b.BlockStart), int64(b.FileSize), b.BlockSizes
		fragIndex, fragOffset, hasFragment = b.FragmentBlockIndex, b.FragmentOffset, b.HasFragment()
	case inode.ExtendedFileBody:
		blockStart, fileSize, blockSizes = int64(b.BlockStart), int64(b.FileSize), b.BlockSizes
		fragIndex, fragOffset, hasFragment = b.FragmentBlockIndex, b.FragmentOffset, b.HasFragment()
	default:
		return nil, fmt.Errorf("squashfs: %T is not a file body", body)
	}

	out := make([]byte, 0, fileSize)
	off := r.base + blockStart
	for _, bd := range blockSizes {
		if bd.Size == 0 {
			// Sparse hole: fill with zeros for one block's worth.
			n := int64(r.sb.BlockSize)
			if remaining := fileSize - int64(len(out)); remaining < n {
				n = remaining
			}
			out = append(out, make([]byte, n)...)
			continue
		}
		raw := make([]byte, bd.Size)
		if _, err := r.ra.ReadAt(raw, off); err != nil {
			return nil, fmt.Errorf("squashfs: reading data block at %d: %w", off, err)
		}
		off += int64(bd.Size)
		if bd.Compressed {
			dec, err := r.kind.Compressor().Decompress(raw, r.sb.Compression)
			if err != nil {
				return nil, err
			}
			out = append(out, dec...)
		} else {
			out = append(out, raw...)
		}
	}

	if hasFragment && int(fragIndex) < len(r.fragments) {
		fe := r.fragments[fragIndex]
		raw := make([]byte, fe.Size)
		if _, err := r.ra.ReadAt(raw, r.base+int64(fe.Start)); err != nil {
			return nil, fmt.Errorf("squashfs: reading fragment block: %w", err)
		}
		block := raw
		if fe.Compressed {
			dec, err := r.kind.Compressor().Decompress(raw, r.sb.Compression)
			if err != nil {
				return nil, err
			}
			block = dec
		}
		remaining := fileSize - int64(len(out))
		if int64(fragOffset)+remaining > int64(len(block)) {
			return nil, fmt.Errorf("squashfs: fragment tail out of bounds")
		}
		out = append(out, block[fragOffset:int64(fragOffset)+remaining]...)
	}

	if int64(len(out)) != fileSize {
		return nil, &ErrTruncated{Context: fmt.Sprintf("file data (got %d bytes, want %d)", len(out), fileSize)}
	}
	return out, nil
}

type readAtCloser struct{ data []byte }

func (r readAtCloser) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	return n, nil
}
func (r readAtCloser) Close() error { return nil }

// Root returns the tree.Node for the image's root directory.
func (r *Reader) Root() *tree.Node { return r.root }

// Superblock returns the parsed superblock.
func (r *Reader) Superblock() Superblock { return r.sb }

// Lookup resolves p against the image root.
func (r *Reader) Lookup(p string) *tree.Node { return r.root.Lookup(p) }

// ReadFile returns the full contents of the regular file at p.
func (r *Reader) ReadFile(p string) ([]byte, error) {
	n := r.Lookup(p)
	if n == nil {
		return nil, &ErrNotFound{Path: p}
	}
	if n.Kind != tree.File {
		return nil, &tree.ErrNotAFile{Path: p}
	}
	rc, size, err := n.Reader()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	buf := make([]byte, size)
	if _, err := rc.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// ExtractAll writes every file, directory, and symlink under the
// image root to destDir, using a bounded worker pool so large images
// extract with real parallelism instead of one file at a time.
func (r *Reader) ExtractAll(destDir string, workers int) error {
	if workers <= 0 {
		workers = 4
	}

	type job struct {
		path string
		n    *tree.Node
	}
	jobs := make(chan job, 64)
	done := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	worker := func() {
		defer wg.Done()
		for j := range jobs {
			if err := r.extractOne(destDir, j.path, j.n); err != nil {
				errs <- err
				return
			}
		}
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	walkErr := r.root.Walk(func(p string, n *tree.Node) error {
		if p == "" {
			return os.MkdirAll(destDir, 0755)
		}
		if n.Kind == tree.Dir {
			return os.MkdirAll(filepath.Join(destDir, p), 0755)
		}
		select {
		case jobs <- job{path: p, n: n}:
			return nil
		case <-done:
			// Every worker has exited (at least one failed) before the
			// walk finished sending; stop producing jobs nobody will
			// ever read instead of blocking forever.
			return nil
		}
	})
	close(jobs)
	<-done
	close(errs)

	if walkErr != nil {
		return walkErr
	}
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) extractOne(destDir, p string, n *tree.Node) error {
	full := filepath.Join(destDir, p)
	switch n.Kind {
	case tree.File:
		rc, size, err := n.Reader()
		if err != nil {
			return err
		}
		defer rc.Close()
		buf := make([]byte, size)
		if _, err := rc.ReadAt(buf, 0); err != nil && err != io.EOF {
			return err
		}
		return os.WriteFile(full, buf, n.Mode.Perm())
	case tree.Symlink:
		return os.Symlink(n.LinkTarget, full)
	default:
		// Device/fifo/socket nodes need privileges most extraction
		// contexts don't have; record nothing rather than fail the
		// whole extraction.
		return nil
	}
}
