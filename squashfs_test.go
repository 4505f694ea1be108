package squashfs_test

import (
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/go-squashfs/squashfs"
	"github.com/go-squashfs/squashfs/tree"
)

func Test(t *testing.T) { TestingT(t) }

type squashfsSuite struct{}

var _ = Suite(&squashfsSuite{})

// memImage is a growable in-memory buffer satisfying both
// io.WriterAt (for Pack) and io.ReaderAt (for Open).
type memImage struct {
	buf []byte
}

func (m *memImage) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[off:end], p)
	return len(p), nil
}

func (m *memImage) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, nil
	}
	n := copy(p, m.buf[off:])
	return n, nil
}

func fileNode(content string, mtime time.Time) *tree.Node {
	data := []byte(content)
	return &tree.Node{
		Kind:    tree.File,
		Mode:    0644,
		ModTime: mtime,
		Reader: func() (tree.ReadAtCloser, int64, error) {
			return memReadAtCloser{data}, int64(len(data)), nil
		},
	}
}

type memReadAtCloser struct{ data []byte }

func (m memReadAtCloser) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, nil
	}
	return copy(p, m.data[off:]), nil
}
func (m memReadAtCloser) Close() error { return nil }

func (s *squashfsSuite) TestEmptyFilesystemRoundTrip(c *C) {
	root := tree.NewRoot()
	img := &memImage{}

	opts := squashfs.DefaultWriterOptions()
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)
	c.Assert(n, Not(Equals), int64(0))

	r, err := squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, IsNil)
	c.Check(r.Root().Kind, Equals, tree.Dir)
	c.Check(len(r.Root().Children), Equals, 0)
}

func (s *squashfsSuite) TestSmallFileRoundTrip(c *C) {
	now := time.Now().Truncate(time.Second)
	root := tree.NewRoot()
	c.Assert(root.Insert("hello.txt", fileNode("hello, squashfs", now)), IsNil)

	img := &memImage{}
	opts := squashfs.DefaultWriterOptions()
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)

	r, err := squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, IsNil)

	got, err := r.ReadFile("hello.txt")
	c.Assert(err, IsNil)
	c.Check(string(got), Equals, "hello, squashfs")
}

func (s *squashfsSuite) TestNestedDirectoriesRoundTrip(c *C) {
	root := tree.NewRoot()
	c.Assert(root.Insert("a/b/c.txt", fileNode("deep", time.Now())), IsNil)

	img := &memImage{}
	opts := squashfs.DefaultWriterOptions()
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)

	r, err := squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, IsNil)

	got, err := r.ReadFile("a/b/c.txt")
	c.Assert(err, IsNil)
	c.Check(string(got), Equals, "deep")
}

func (s *squashfsSuite) TestSymlinkRoundTrip(c *C) {
	root := tree.NewRoot()
	c.Assert(root.Insert("link", &tree.Node{Kind: tree.Symlink, Mode: 0777, LinkTarget: "target"}), IsNil)

	img := &memImage{}
	opts := squashfs.DefaultWriterOptions()
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)

	r, err := squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, IsNil)

	link := r.Lookup("link")
	c.Assert(link, NotNil)
	c.Check(link.Kind, Equals, tree.Symlink)
	c.Check(link.LinkTarget, Equals, "target")
}

func (s *squashfsSuite) TestDecodeSuperblockRejectsNonPowerOfTwoBlockSize(c *C) {
	root := tree.NewRoot()
	img := &memImage{}
	opts := squashfs.DefaultWriterOptions()
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)

	// block_size lives at bytes [12:16); overwrite with 100000 little
	// endian, which is not a power of two.
	img.buf[12], img.buf[13], img.buf[14], img.buf[15] = 0xa0, 0x86, 0x01, 0x00

	_, err = squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, ErrorMatches, ".*invalid block size.*")
	var want *squashfs.ErrInvalidBlockSize
	c.Assert(err, FitsTypeOf, want)
}

func (s *squashfsSuite) TestDecodeSuperblockRejectsOutOfRangeBlockSize(c *C) {
	root := tree.NewRoot()
	img := &memImage{}
	opts := squashfs.DefaultWriterOptions()
	opts.BlockSize = 2048
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)

	_, err = squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, ErrorMatches, ".*invalid block size.*")
	var want *squashfs.ErrInvalidBlockSize
	c.Assert(err, FitsTypeOf, want)
}

func (s *squashfsSuite) TestOpenRejectsOutOfRangeTableOffset(c *C) {
	root := tree.NewRoot()
	c.Assert(root.Insert("a", fileNode("hi", time.Now())), IsNil)

	img := &memImage{}
	opts := squashfs.DefaultWriterOptions()
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)

	// inode_table_start lives at bytes [64:72); push it past bytes_used
	// without colliding with the noTable sentinel (all-ones).
	for i := 64; i < 72; i++ {
		img.buf[i] = 0xfe
	}

	_, err = squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, NotNil)
	var want *squashfs.ErrInvalidOffset
	c.Assert(err, FitsTypeOf, want)
}

func (s *squashfsSuite) TestOpenRejectsInvalidCompressorOptions(c *C) {
	root := tree.NewRoot()
	img := &memImage{}
	opts := squashfs.DefaultWriterOptions()
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)

	// The gzip options block is an uncompressed metadata block right
	// after the superblock: a 2-byte header at [96:98), then the 8-byte
	// payload. Zero its level field, which gzip's ParseOptions rejects.
	img.buf[98], img.buf[99], img.buf[100], img.buf[101] = 0, 0, 0, 0

	_, err = squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, NotNil)
	var want *squashfs.ErrInvalidCompressionOption
	c.Assert(err, FitsTypeOf, want)
}

func (s *squashfsSuite) TestLargeFileCrossesBlockBoundary(c *C) {
	opts := squashfs.DefaultWriterOptions()
	content := make([]byte, int(opts.BlockSize)*2+17)
	for i := range content {
		content[i] = byte(i % 256)
	}
	root := tree.NewRoot()
	c.Assert(root.Insert("big.bin", fileNode(string(content), time.Now())), IsNil)

	img := &memImage{}
	n, err := squashfs.Pack(img, root, opts)
	c.Assert(err, IsNil)

	r, err := squashfs.Open(img, n, squashfs.OpenOptions{})
	c.Assert(err, IsNil)

	got, err := r.ReadFile("big.bin")
	c.Assert(err, IsNil)
	c.Check(got, DeepEquals, content)
}
