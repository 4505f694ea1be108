package bitio_test

import (
	"encoding/binary"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/go-squashfs/squashfs/bitio"
)

func Test(t *testing.T) { TestingT(t) }

type bitioSuite struct{}

var _ = Suite(&bitioSuite{})

func (s *bitioSuite) TestRoundTripLittleEndian(c *C) {
	b := make([]byte, 8)
	bitio.PutUint64(binary.LittleEndian, b, 0x0102030405060708)
	v, err := bitio.ReadUint64(binary.LittleEndian, b)
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint64(0x0102030405060708))
}

func (s *bitioSuite) TestRoundTripBigEndian(c *C) {
	b := make([]byte, 4)
	bitio.PutUint32(binary.BigEndian, b, 0xdeadbeef)
	v, err := bitio.ReadUint32(binary.BigEndian, b)
	c.Assert(err, IsNil)
	c.Check(v, Equals, uint32(0xdeadbeef))
}

func (s *bitioSuite) TestShortBuffer(c *C) {
	_, err := bitio.ReadUint32(binary.LittleEndian, []byte{1, 2})
	c.Assert(err, ErrorMatches, "bitio: reading uint32 needs 4 bytes, got 2")
}

func (s *bitioSuite) TestOrder(c *C) {
	c.Check(bitio.Order(false), Equals, binary.ByteOrder(binary.LittleEndian))
	c.Check(bitio.Order(true), Equals, binary.ByteOrder(binary.BigEndian))
}
