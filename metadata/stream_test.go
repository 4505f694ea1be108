package metadata_test

import (
	"bytes"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/metadata"
)

func Test(t *testing.T) { TestingT(t) }

type streamSuite struct{}

var _ = Suite(&streamSuite{})

func (s *streamSuite) TestWriteReadSingleBlock(c *C) {
	k := kind.New(kind.LE_V4_0, compression.GzipAction)
	var buf bytes.Buffer
	mw := metadata.NewWriter(&buf, k)

	ref, err := mw.Write([]byte("hello"))
	c.Assert(err, IsNil)
	c.Check(ref, Equals, metadata.Ref{Block: 0, Offset: 0})
	c.Assert(mw.Flush(), IsNil)

	r := metadata.NewReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()), k)
	got := make([]byte, 5)
	c.Assert(r.ReadAt(ref, got), IsNil)
	c.Check(string(got), Equals, "hello")
}

func (s *streamSuite) TestWriteSpansTwoEntries(c *C) {
	k := kind.New(kind.LE_V4_0, compression.GzipAction)
	var buf bytes.Buffer
	mw := metadata.NewWriter(&buf, k)

	ref1, err := mw.Write([]byte("abc"))
	c.Assert(err, IsNil)
	ref2, err := mw.Write([]byte("defgh"))
	c.Assert(err, IsNil)
	c.Check(ref2, Equals, metadata.Ref{Block: 0, Offset: 3})
	c.Assert(mw.Flush(), IsNil)

	r := metadata.NewReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()), k)
	got := make([]byte, 8)
	c.Assert(r.ReadAt(ref1, got), IsNil)
	c.Check(string(got), Equals, "abcdefgh")
}

func (s *streamSuite) TestReadSpansBlockBoundary(c *C) {
	k := kind.New(kind.LE_V4_0, compression.GzipAction)
	var buf bytes.Buffer
	mw := metadata.NewWriter(&buf, k)

	first := bytes.Repeat([]byte{0xAB}, metadata.MaxBlockSize-2)
	_, err := mw.Write(first)
	c.Assert(err, IsNil)
	tailRef, err := mw.Write([]byte{1, 2, 3, 4})
	c.Assert(err, IsNil)
	c.Assert(mw.Flush(), IsNil)

	r := metadata.NewReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()), k)
	got := make([]byte, 4)
	c.Assert(r.ReadAt(tailRef, got), IsNil)
	c.Check(got, DeepEquals, []byte{1, 2, 3, 4})
}

func (s *streamSuite) TestCursorAdvancesAcrossReads(c *C) {
	k := kind.New(kind.LE_V4_0, compression.GzipAction)
	var buf bytes.Buffer
	mw := metadata.NewWriter(&buf, k)
	ref, err := mw.Write([]byte("0123456789"))
	c.Assert(err, IsNil)
	c.Assert(mw.Flush(), IsNil)

	r := metadata.NewReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()), k)
	cur := r.Cursor(ref)
	a := make([]byte, 3)
	b := make([]byte, 7)
	c.Assert(cur.Read(a), IsNil)
	c.Assert(cur.Read(b), IsNil)
	c.Check(string(a), Equals, "012")
	c.Check(string(b), Equals, "3456789")
}
