package squashfs

import (
	"bytes"
	"io"
	"time"

	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/directory"
	"github.com/go-squashfs/squashfs/inode"
	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/metadata"
	"github.com/go-squashfs/squashfs/table"
	"github.com/go-squashfs/squashfs/tree"
	"github.com/zeebo/blake3"
)

// WriterOptions configures Pack.
type WriterOptions struct {
	Kind                 kind.Kind
	BlockSize            uint32
	CompressorCfg        compression.Config
	NoCompressionOptions bool // omit the compressor options metadata block entirely
	NoFragments          bool
	NoDuplicates         bool // set to disable the blake3 content-dedup pass
	Exportable           bool
	PadTo                int64 // pad the final image up to a multiple of this many bytes, 0 disables
	ModTimeDefault       time.Time
}

// DefaultWriterOptions returns the mksquashfs-equivalent defaults: LE
// v4.0, gzip, 128 KiB blocks, fragments and dedup both on.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		Kind:      kind.LE_V4_0,
		BlockSize: defaultBlockSize,
	}
}

// Pack serializes root into a complete SquashFS image written to w
// and returns the image length, including any PadTo padding. It
// writes a superblock placeholder at offset 0, appends every later
// region in order through w.WriteAt, rewrites the final superblock at
// offset 0, and then writes the trailing padding, if any.
func Pack(w io.WriterAt, root *tree.Node, opts WriterOptions) (int64, error) {
	k := opts.Kind
	if opts.BlockSize == 0 {
		opts.BlockSize = defaultBlockSize
	}
	action := k.Compressor()
	if action == nil {
		action = compression.GzipAction
		k = kind.New(k, action)
	}

	cw := &countingWriterAt{w: w}

	// 1. Superblock placeholder.
	if _, err := cw.WriteAt(make([]byte, superblockSize), 0); err != nil {
		return 0, err
	}
	cw.pos = superblockSize

	// 2. Compressor options block, if the codec emits one.
	sb := Superblock{BlockSize: opts.BlockSize, BlockLog: blockLogFor(opts.BlockSize), Compression: action.ID()}
	var optBytes []byte
	if !opts.NoCompressionOptions {
		optBytes = action.Options(opts.CompressorCfg, opts.BlockSize)
	}
	if optBytes != nil {
		sb.Flags |= FlagCompressorOptions
		mw := metadata.NewWriter(cw, k)
		if _, err := mw.Write(optBytes); err != nil {
			return 0, err
		}
		if err := mw.Flush(); err != nil {
			return 0, err
		}
	}

	p := &packer{cw: cw, k: k, opts: opts, sb: &sb, ids: map[uint32]uint16{}}
	if !opts.NoDuplicates {
		p.hashes = map[[32]byte]fileLocation{}
	}

	// 3. File data blocks + fragments, depth-first.
	if err := cw.padAlign4(); err != nil {
		return 0, err
	}
	var inodeNumber uint32 = 1
	nodeOrder := []*tree.Node{}
	if err := root.Walk(func(_ string, n *tree.Node) error {
		nodeOrder = append(nodeOrder, n)
		return nil
	}); err != nil {
		return 0, err
	}
	numbers := map[*tree.Node]uint32{}
	for _, n := range nodeOrder {
		numbers[n] = inodeNumber
		inodeNumber++
	}
	sb.InodeCount = inodeNumber - 1

	locations := map[*tree.Node]fileLocation{}
	for _, n := range nodeOrder {
		if n.Kind != tree.File {
			continue
		}
		loc, err := p.packFile(n)
		if err != nil {
			return 0, err
		}
		locations[n] = loc
	}
	if err := p.flushFragment(); err != nil {
		return 0, err
	}

	// 4. Inode table, bottom-up so directories can record their
	// children's already-assigned inode refs; directories need to be
	// serialized after all their children (files and subdirectories)
	// have inode refs, so we process nodeOrder in reverse.
	inodeRefs := map[*tree.Node]InodeRef{}
	inodeWriter := metadata.NewWriter(cw, k)
	inodeTableStart := cw.pos

	// Directories need their children's refs before their listings
	// (and so their FileSize) can be built. Process deepest-first.
	reversed := make([]*tree.Node, len(nodeOrder))
	for i, n := range nodeOrder {
		reversed[len(nodeOrder)-1-i] = n
	}

	// The directory table's output must land after the inode table,
	// so buffer it separately and append it once the inode table is
	// fully flushed.
	var dirBuf bytes.Buffer
	dirWriter := metadata.NewWriter(&dirBuf, k)
	// reversed is child-before-parent for every node (directory or
	// leaf), since nodeOrder itself is parent-before-child: a single
	// pass over it suffices to have every child's inode ref ready by
	// the time its parent directory's listing gets built.
	for _, n := range reversed {
		if n.Kind != tree.Dir {
			hdr := inode.Header{
				Permissions: uint16(n.Mode.Perm()),
				UIDIndex:    p.idIndex(n.UID),
				GIDIndex:    p.idIndex(n.GID),
				ModTime:     uint32(n.ModTime.Unix()),
				Number:      numbers[n],
			}
			var bodyBytes []byte
			var err error
			switch n.Kind {
			case tree.File:
				loc := locations[n]
				hdr.Type = inode.BasicFile
				bodyBytes, err = inode.EncodeBody(k.DataOrder(), inode.BasicFileBody{
					BlockStart:         uint32(loc.blockStart),
					FragmentBlockIndex: loc.fragmentIndex,
					FragmentOffset:     loc.fragmentOffset,
					FileSize:           uint32(loc.size),
					BlockSizes:         loc.blockSizes,
				})
			case tree.Symlink:
				hdr.Type = inode.BasicSymlink
				bodyBytes, err = inode.EncodeBody(k.DataOrder(), inode.BasicSymlinkBody{Links: 1, Target: n.LinkTarget})
			case tree.BlockDevice, tree.CharDevice:
				if n.Kind == tree.BlockDevice {
					hdr.Type = inode.BasicBlockDevice
				} else {
					hdr.Type = inode.BasicCharDevice
				}
				bodyBytes, err = inode.EncodeBody(k.DataOrder(), inode.BasicDeviceBody{Links: 1, DevNum: joinDevNum(n.DevMajor, n.DevMinor), Kind: hdr.Type})
			case tree.FIFO, tree.Socket:
				if n.Kind == tree.FIFO {
					hdr.Type = inode.BasicFIFO
				} else {
					hdr.Type = inode.BasicSocket
				}
				bodyBytes, err = inode.EncodeBody(k.DataOrder(), inode.BasicIPCBody{Links: 1, Kind: hdr.Type})
			}
			if err != nil {
				return 0, err
			}
			iref, err := writeInode(inodeWriter, k, hdr, bodyBytes)
			if err != nil {
				return 0, err
			}
			inodeRefs[n] = iref
			continue
		}

		children := n.SortedChildren()
		entries := make([]directory.Entry, 0, len(children))
		for _, c := range children {
			ref := inodeRefs[c]
			entries = append(entries, directory.Entry{
				Name:       c.Name,
				InodeType:  basicTypeOf(c),
				InodeRef:   metadata.Ref{Block: ref.Block(), Offset: ref.Offset()},
				InodeIndex: numbers[c],
			})
		}
		enc, fileSize, err := directory.Encode(k.DataOrder(), entries)
		if err != nil {
			return 0, err
		}
		ref, err := dirWriter.Write(enc)
		if err != nil {
			return 0, err
		}

		hdr := inode.Header{
			Type:        inode.BasicDirectory,
			Permissions: uint16(n.Mode.Perm()),
			UIDIndex:    p.idIndex(n.UID),
			GIDIndex:    p.idIndex(n.GID),
			ModTime:     uint32(n.ModTime.Unix()),
			Number:      numbers[n],
		}
		parentNum := numbers[n]
		if n.Parent != nil {
			parentNum = numbers[n.Parent]
		}
		body := inode.BasicDirectoryBody{
			StartBlock:        ref.Block,
			Links:             uint32(len(children)) + 2,
			FileSize:          uint16(fileSize),
			Offset:            ref.Offset,
			ParentInodeNumber: parentNum,
		}
		bodyBytes, err := inode.EncodeBody(k.DataOrder(), body)
		if err != nil {
			return 0, err
		}
		iref, err := writeInode(inodeWriter, k, hdr, bodyBytes)
		if err != nil {
			return 0, err
		}
		inodeRefs[n] = iref
	}

	if err := inodeWriter.Flush(); err != nil {
		return 0, err
	}
	sb.InodeTableStart = uint64(inodeTableStart)

	if err := dirWriter.Flush(); err != nil {
		return 0, err
	}

	// 5. Directory table: append the buffered directory listings now
	// that every directory's inode has a ref. No patching is needed:
	// the StartBlock recorded in each directory inode above is
	// relative to the start of dirBuf, which is exactly where
	// DirectoryTableStart now points.
	sb.DirectoryTableStart = uint64(cw.pos)
	if _, err := cw.WriteAt(dirBuf.Bytes(), cw.pos); err != nil {
		return 0, err
	}
	cw.pos += int64(dirBuf.Len())

	rootRef := inodeRefs[root]
	sb.RootInodeRef = uint64(rootRef)

	// 6. Fragment table.
	sb.FragmentTableStart = noTable
	if len(p.fragmentTable) > 0 {
		start, err := writeFragmentTable(cw, k, p.fragmentTable)
		if err != nil {
			return 0, err
		}
		sb.FragmentTableStart = uint64(start)
	}
	sb.FragmentCount = uint32(len(p.fragmentTable))

	// 7. Export table (inode number -> inode ref), only if requested.
	sb.ExportTableStart = noTable
	if opts.Exportable {
		sb.Flags |= FlagExportable
		order := make([]InodeRef, inodeNumber-1)
		for n, num := range numbers {
			order[num-1] = inodeRefs[n]
		}
		start, err := writeExportTable(cw, k, order)
		if err != nil {
			return 0, err
		}
		sb.ExportTableStart = uint64(start)
	}

	// 8. ID table.
	sb.IDTableStart = noTable
	if len(p.idList) > 0 {
		start, err := writeIDTable(cw, k, p.idList)
		if err != nil {
			return 0, err
		}
		sb.IDTableStart = uint64(start)
	}
	sb.IDCount = uint16(len(p.idList))
	sb.XattrTableStart = noTable

	sb.BytesUsed = uint64(cw.pos)
	sb.ModTime = uint32(time.Now().Unix())
	if !opts.ModTimeDefault.IsZero() {
		sb.ModTime = uint32(opts.ModTimeDefault.Unix())
	}

	// 9. Final superblock rewrite.
	if _, err := cw.WriteAt(EncodeSuperblock(k, sb), 0); err != nil {
		return 0, err
	}

	total := cw.pos
	if opts.PadTo > 0 {
		rem := total % opts.PadTo
		if rem != 0 {
			pad := opts.PadTo - rem
			if _, err := cw.WriteAt(make([]byte, pad), total); err != nil {
				return 0, err
			}
			total += pad
		}
	}
	return total, nil
}

func writeInode(mw *metadata.Writer, k kind.Kind, hdr inode.Header, body []byte) (InodeRef, error) {
	ref, err := mw.Write(append(hdr.Encode(k.DataOrder()), body...))
	if err != nil {
		return 0, err
	}
	return NewInodeRef(ref.Block, ref.Offset), nil
}

func basicTypeOf(n *tree.Node) inode.Type {
	switch n.Kind {
	case tree.Dir:
		return inode.BasicDirectory
	case tree.File:
		return inode.BasicFile
	case tree.Symlink:
		return inode.BasicSymlink
	case tree.BlockDevice:
		return inode.BasicBlockDevice
	case tree.CharDevice:
		return inode.BasicCharDevice
	case tree.FIFO:
		return inode.BasicFIFO
	default:
		return inode.BasicSocket
	}
}

func joinDevNum(major, minor uint32) uint32 {
	return (major&0xfff)<<8 | (minor & 0xff) | ((minor & 0xfff00) << 12)
}

// fileLocation records where a packed file's blocks and fragment tail
// ended up.
type fileLocation struct {
	blockStart    int64
	size          int64
	blockSizes    []inode.BlockData
	fragmentIndex uint32
	fragmentOffset uint32
}

// packer holds the state threaded through the data-block packing
// pass: the dedup hash table, the in-progress fragment accumulator,
// and the id-allocation table.
type packer struct {
	cw   *countingWriterAt
	k    kind.Kind
	opts WriterOptions
	sb   *Superblock

	hashes map[[32]byte]fileLocation

	fragmentBuf   []byte
	fragmentTable []fragmentTableEntry

	ids    map[uint32]uint16
	idList []uint32
}

type fragmentTableEntry struct {
	start      int64
	size       uint32
	compressed bool
}

func (p *packer) idIndex(id uint32) uint16 {
	if i, ok := p.ids[id]; ok {
		return i
	}
	i := uint16(len(p.idList))
	p.idList = append(p.idList, id)
	p.ids[id] = i
	return i
}

// packFile writes n's data blocks and queues its tail into the
// fragment accumulator. When dedup is enabled, it first hashes the
// whole file and, on a hit against a previously packed file with
// identical content, returns that file's fileLocation verbatim
// without writing any bytes at all — squashfs's on-disk format
// dedups whole files (a contiguous block run plus one fragment tail),
// not individual blocks, since a file's BlockStart only makes sense
// as the start of one contiguous run.
func (p *packer) packFile(n *tree.Node) (fileLocation, error) {
	var key [32]byte
	if p.hashes != nil {
		h, err := p.hashFile(n)
		if err != nil {
			return fileLocation{}, err
		}
		key = h
		if loc, ok := p.hashes[key]; ok {
			return loc, nil
		}
	}

	rc, size, err := n.Reader()
	if err != nil {
		return fileLocation{}, err
	}
	defer rc.Close()

	blockSize := int64(p.opts.BlockSize)
	loc := fileLocation{size: size, fragmentIndex: inode.NoFragment}
	buf := make([]byte, blockSize)

	remaining := size
	firstBlockOffset := p.cw.pos
	loc.blockStart = firstBlockOffset
	var off int64

	for remaining > 0 {
		n := blockSize
		isLast := remaining <= blockSize
		if isLast {
			n = remaining
		}
		chunk := buf[:n]
		if _, err := rc.ReadAt(chunk, off); err != nil && err != io.EOF {
			return fileLocation{}, err
		}
		off += n
		remaining -= n

		if isLast && !p.opts.NoFragments && n < blockSize {
			fidx, foff, err := p.addFragment(chunk)
			if err != nil {
				return fileLocation{}, err
			}
			loc.fragmentIndex, loc.fragmentOffset = fidx, foff
			break
		}

		bd, err := p.writeDataBlock(chunk)
		if err != nil {
			return fileLocation{}, err
		}
		loc.blockSizes = append(loc.blockSizes, bd)
	}
	if len(loc.blockSizes) == 0 {
		loc.blockStart = 0
	}
	if p.hashes != nil {
		p.hashes[key] = loc
	}
	return loc, nil
}

// hashFile returns the blake3 digest of n's full content, read
// through a fresh handle so it never disturbs the actual packing pass
// that follows.
func (p *packer) hashFile(n *tree.Node) ([32]byte, error) {
	rc, size, err := n.Reader()
	if err != nil {
		return [32]byte{}, err
	}
	defer rc.Close()

	h := blake3.New()
	buf := make([]byte, p.opts.BlockSize)
	var off int64
	for off < size {
		want := int64(len(buf))
		if remaining := size - off; remaining < want {
			want = remaining
		}
		chunk := buf[:want]
		if _, err := rc.ReadAt(chunk, off); err != nil && err != io.EOF {
			return [32]byte{}, err
		}
		h.Write(chunk)
		off += want
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

func (p *packer) writeDataBlock(chunk []byte) (inode.BlockData, error) {
	compressed, err := p.k.Compressor().Compress(chunk, p.opts.CompressorCfg, p.opts.BlockSize)
	bd := inode.BlockData{Size: uint32(len(chunk)), Compressed: false}
	body := chunk
	if err == nil && len(compressed) < len(chunk) {
		bd = inode.BlockData{Size: uint32(len(compressed)), Compressed: true}
		body = compressed
	}
	if _, err := p.cw.WriteAt(body, p.cw.pos); err != nil {
		return inode.BlockData{}, err
	}
	p.cw.pos += int64(len(body))
	return bd, nil
}

// addFragment appends chunk to the in-progress fragment block,
// flushing it first if chunk would not fit.
func (p *packer) addFragment(chunk []byte) (index uint32, offset uint32, err error) {
	if len(p.fragmentBuf)+len(chunk) > int(p.opts.BlockSize) {
		if err := p.flushFragment(); err != nil {
			return 0, 0, err
		}
	}
	offset = uint32(len(p.fragmentBuf))
	p.fragmentBuf = append(p.fragmentBuf, chunk...)
	return uint32(len(p.fragmentTable)), offset, nil
}

func (p *packer) flushFragment() error {
	if len(p.fragmentBuf) == 0 {
		return nil
	}
	chunk := p.fragmentBuf
	p.fragmentBuf = nil

	compressed, err := p.k.Compressor().Compress(chunk, p.opts.CompressorCfg, p.opts.BlockSize)
	entry := fragmentTableEntry{start: p.cw.pos, size: uint32(len(chunk)), compressed: false}
	body := chunk
	if err == nil && len(compressed) < len(chunk) {
		entry.compressed = true
		entry.size = uint32(len(compressed))
		body = compressed
	}
	if _, err := p.cw.WriteAt(body, p.cw.pos); err != nil {
		return err
	}
	p.cw.pos += int64(len(body))
	p.fragmentTable = append(p.fragmentTable, entry)
	return nil
}

func finishTable(cw *countingWriterAt, tw *table.Writer) (int64, error) {
	if err := tw.FlushTrailing(); err != nil {
		return 0, err
	}
	indexOffset := cw.pos
	if _, err := cw.Write(tw.IndexBytes()); err != nil {
		return 0, err
	}
	return indexOffset, nil
}

func writeFragmentTable(cw *countingWriterAt, k kind.Kind, entries []fragmentTableEntry) (int64, error) {
	tw := table.NewWriter(cw, k, 16, cw.pos)
	for _, e := range entries {
		b := make([]byte, 16)
		order := k.SuperblockOrder()
		order.PutUint64(b[0:8], uint64(e.start))
		raw := e.size
		if !e.compressed {
			raw |= 1 << 24
		}
		order.PutUint32(b[8:12], raw)
		if err := tw.Append(b); err != nil {
			return 0, err
		}
	}
	return finishTable(cw, tw)
}

func writeIDTable(cw *countingWriterAt, k kind.Kind, ids []uint32) (int64, error) {
	tw := table.NewWriter(cw, k, 4, cw.pos)
	for _, id := range ids {
		b := make([]byte, 4)
		k.SuperblockOrder().PutUint32(b, id)
		if err := tw.Append(b); err != nil {
			return 0, err
		}
	}
	return finishTable(cw, tw)
}

func writeExportTable(cw *countingWriterAt, k kind.Kind, refs []InodeRef) (int64, error) {
	tw := table.NewWriter(cw, k, 8, cw.pos)
	for _, r := range refs {
		b := make([]byte, 8)
		k.SuperblockOrder().PutUint64(b, uint64(r))
		if err := tw.Append(b); err != nil {
			return 0, err
		}
	}
	return finishTable(cw, tw)
}

// countingWriterAt wraps an io.WriterAt and tracks the furthest
// offset written, so Pack's sequential-append stages can keep asking
// "where am I" without threading a separate length value everywhere.
type countingWriterAt struct {
	w   io.WriterAt
	pos int64
}

func (c *countingWriterAt) Write(p []byte) (int, error) {
	n, err := c.w.WriteAt(p, c.pos)
	c.pos += int64(n)
	return n, err
}

// WriteAt delegates directly without touching pos: callers that write
// at an explicit offset (the superblock placeholder and its final
// rewrite, both always at offset 0) are responsible for their own
// pos bookkeeping, since "furthest offset written" and "offset to
// write at next" are different questions once random-access rewrites
// are involved.
func (c *countingWriterAt) WriteAt(p []byte, off int64) (int, error) {
	return c.w.WriteAt(p, off)
}

// padAlign4 pads the stream up to the next 4-byte boundary, the
// alignment the data block and fragment regions must start on.
func (c *countingWriterAt) padAlign4() error {
	if rem := c.pos % 4; rem != 0 {
		if _, err := c.Write(make([]byte, 4-rem)); err != nil {
			return err
		}
	}
	return nil
}

