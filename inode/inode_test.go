package inode_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/inode"
	"github.com/go-squashfs/squashfs/kind"
	"github.com/go-squashfs/squashfs/metadata"
)

func Test(t *testing.T) { TestingT(t) }

type inodeSuite struct{}

var _ = Suite(&inodeSuite{})

func (s *inodeSuite) TestHeaderRoundTrip(c *C) {
	h := inode.Header{
		Type:        inode.BasicFile,
		Permissions: 0644,
		UIDIndex:    1,
		GIDIndex:    2,
		ModTime:     1700000000,
		Number:      7,
	}
	got, err := inode.DecodeHeader(binary.LittleEndian, h.Encode(binary.LittleEndian))
	c.Assert(err, IsNil)
	c.Check(got, Equals, h)
}

func (s *inodeSuite) TestDecodeHeaderRejectsWrongSize(c *C) {
	_, err := inode.DecodeHeader(binary.LittleEndian, make([]byte, 4))
	c.Assert(err, NotNil)
}

func (s *inodeSuite) roundTripBody(c *C, order binary.ByteOrder, typ inode.Type, body inode.Body, blockSize uint32) inode.Body {
	enc, err := inode.EncodeBody(order, body)
	c.Assert(err, IsNil)

	k := kind.New(kind.LE_V4_0, compression.GzipAction)
	var buf bytes.Buffer
	mw := metadata.NewWriter(&buf, k)
	ref, err := mw.Write(enc)
	c.Assert(err, IsNil)
	c.Assert(mw.Flush(), IsNil)

	r := metadata.NewReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()), k)
	cur := r.Cursor(ref)
	got, err := inode.DecodeBody(cur, order, typ, blockSize)
	c.Assert(err, IsNil)
	return got
}

func (s *inodeSuite) TestBasicDirectoryRoundTrip(c *C) {
	body := inode.BasicDirectoryBody{StartBlock: 4, Links: 2, FileSize: 12, Offset: 8, ParentInodeNumber: 1}
	got := s.roundTripBody(c, binary.LittleEndian, inode.BasicDirectory, body, 131072)
	c.Check(got, Equals, inode.Body(body))
}

func (s *inodeSuite) TestBasicFileWithoutFragmentRoundTrip(c *C) {
	body := inode.BasicFileBody{
		BlockStart:         0,
		FragmentBlockIndex: inode.NoFragment,
		FragmentOffset:     0,
		FileSize:           131072*2 + 100,
		BlockSizes: []inode.BlockData{
			{Size: 131072, Compressed: true},
			{Size: 131072, Compressed: false},
			{Size: 100, Compressed: true},
		},
	}
	got := s.roundTripBody(c, binary.LittleEndian, inode.BasicFile, body, 131072)
	fb, ok := got.(inode.BasicFileBody)
	c.Assert(ok, Equals, true)
	c.Check(fb.FileSize, Equals, body.FileSize)
	c.Check(fb.BlockSizes, DeepEquals, body.BlockSizes)
	c.Check(fb.HasFragment(), Equals, false)
}

func (s *inodeSuite) TestBasicFileWithFragmentHasNoTrailingBlockSizeEntry(c *C) {
	body := inode.BasicFileBody{
		BlockStart:         0,
		FragmentBlockIndex: 0,
		FragmentOffset:     0,
		FileSize:           50,
	}
	got := s.roundTripBody(c, binary.LittleEndian, inode.BasicFile, body, 131072)
	fb := got.(inode.BasicFileBody)
	c.Check(fb.HasFragment(), Equals, true)
	c.Check(fb.BlockSizes, HasLen, 0)
}

func (s *inodeSuite) TestBasicSymlinkRoundTrip(c *C) {
	body := inode.BasicSymlinkBody{Links: 1, Target: "../etc/passwd"}
	got := s.roundTripBody(c, binary.LittleEndian, inode.BasicSymlink, body, 131072)
	c.Check(got, Equals, inode.Body(body))
}

func (s *inodeSuite) TestBasicDeviceKeepsCharVsBlockDistinction(c *C) {
	block := inode.BasicDeviceBody{Links: 1, DevNum: 0x0801, Kind: inode.BasicBlockDevice}
	got := s.roundTripBody(c, binary.BigEndian, inode.BasicBlockDevice, block, 131072)
	c.Check(got.Type(), Equals, inode.BasicBlockDevice)

	char := inode.BasicDeviceBody{Links: 1, DevNum: 0x0501, Kind: inode.BasicCharDevice}
	got = s.roundTripBody(c, binary.BigEndian, inode.BasicCharDevice, char, 131072)
	c.Check(got.Type(), Equals, inode.BasicCharDevice)
}

func (s *inodeSuite) TestExtendedIPCKeepsFifoVsSocketDistinction(c *C) {
	fifo := inode.ExtendedIPCBody{Links: 1, XattrIndex: 3, Kind: inode.ExtendedFIFO}
	got := s.roundTripBody(c, binary.LittleEndian, inode.ExtendedFIFO, fifo, 131072)
	c.Check(got.Type(), Equals, inode.ExtendedFIFO)

	sock := inode.ExtendedIPCBody{Links: 1, XattrIndex: 3, Kind: inode.ExtendedSocket}
	got = s.roundTripBody(c, binary.LittleEndian, inode.ExtendedSocket, sock, 131072)
	c.Check(got.Type(), Equals, inode.ExtendedSocket)
}

func (s *inodeSuite) TestExtendedDirectoryIndexRoundTrip(c *C) {
	body := inode.ExtendedDirectoryBody{
		Links:             2,
		FileSize:          300,
		StartBlock:        0,
		ParentInodeNumber: 1,
		Offset:            42,
		XattrIndex:        0xffffffff,
		Index: []inode.DirectoryIndexEntry{
			{Index: 0, StartBlock: 0, Name: "aaa"},
			{Index: 256, StartBlock: 64, Name: "zzzzzz"},
		},
	}
	got := s.roundTripBody(c, binary.LittleEndian, inode.ExtendedDirectory, body, 131072)
	eb := got.(inode.ExtendedDirectoryBody)
	c.Check(eb.FileSize, Equals, body.FileSize)
	c.Check(eb.Offset, Equals, body.Offset)
	c.Assert(eb.Index, HasLen, 2)
	c.Check(eb.Index[0].Name, Equals, "aaa")
	c.Check(eb.Index[1].Name, Equals, "zzzzzz")
	c.Check(eb.Index[1].StartBlock, Equals, uint32(64))
}

func (s *inodeSuite) TestDecodeBodyRejectsUnknownType(c *C) {
	k := kind.New(kind.LE_V4_0, compression.GzipAction)
	var buf bytes.Buffer
	mw := metadata.NewWriter(&buf, k)
	ref, err := mw.Write(make([]byte, 16))
	c.Assert(err, IsNil)
	c.Assert(mw.Flush(), IsNil)

	r := metadata.NewReader(bytes.NewReader(buf.Bytes()), 0, int64(buf.Len()), k)
	_, err = inode.DecodeBody(r.Cursor(ref), binary.LittleEndian, inode.Type(99), 131072)
	c.Assert(err, ErrorMatches, "inode: corrupted inode: unknown type 99")
	var want *inode.ErrCorruptedInode
	c.Assert(err, FitsTypeOf, want)
}
