package directory_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/directory"
	"github.com/go-squashfs/squashfs/inode"
	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/metadata"
)

func Test(t *testing.T) { TestingT(t) }

type directorySuite struct{}

var _ = Suite(&directorySuite{})

func (s *directorySuite) TestEncodeDecodeRoundTrip(c *C) {
	entries := []directory.Entry{
		{Name: "bin", InodeType: inode.BasicDirectory, InodeRef: metadata.Ref{Block: 0, Offset: 0}, InodeIndex: 2},
		{Name: "etc", InodeType: inode.BasicDirectory, InodeRef: metadata.Ref{Block: 0, Offset: 16}, InodeIndex: 3},
		{Name: "passwd", InodeType: inode.BasicFile, InodeRef: metadata.Ref{Block: 0, Offset: 32}, InodeIndex: 1},
	}

	order := binary.LittleEndian
	enc, fileSize, err := directory.Encode(order, entries)
	c.Assert(err, IsNil)
	c.Check(fileSize, Equals, uint32(len(enc))+3)

	k := kind.New(kind.LE_V4_0, compression.GzipAction)
	var buf bytes.Buffer
	mw := metadata.NewWriter(&buf, k)
	ref, err := mw.Write(enc)
	c.Assert(err, IsNil)
	c.Assert(mw.Flush(), IsNil)

	r := metadata.NewReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()), k)
	got, err := directory.Decode(r, ref, fileSize, order)
	c.Assert(err, IsNil)
	c.Assert(got, HasLen, len(entries))
	for i, e := range entries {
		c.Check(got[i].Name, Equals, e.Name)
		c.Check(got[i].InodeType, Equals, e.InodeType)
		c.Check(got[i].InodeIndex, Equals, e.InodeIndex)
		c.Check(got[i].InodeRef, Equals, e.InodeRef)
	}
}

func (s *directorySuite) TestBuildIndex(c *C) {
	entries := []directory.Entry{
		{Name: "a", InodeRef: metadata.Ref{Block: 0}},
		{Name: "b", InodeRef: metadata.Ref{Block: 0}},
		{Name: "c", InodeRef: metadata.Ref{Block: 42}},
	}
	idx := directory.Build(entries)
	c.Assert(idx, HasLen, 2)
	c.Check(idx[0].FirstName, Equals, "a")
	c.Check(idx[1].FirstName, Equals, "c")
	c.Check(idx[1].StartBlock, Equals, uint32(42))
}
