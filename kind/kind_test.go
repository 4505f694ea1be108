package kind_test

import (
	"encoding/binary"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/go-squashfs/squashfs/compression"
	"github.com/go-squashfs/squashfs/kind"
)

func Test(t *testing.T) { TestingT(t) }

type kindSuite struct{}

var _ = Suite(&kindSuite{})

func (s *kindSuite) TestLEDefaults(c *C) {
	k := kind.LE_V4_0
	c.Check(k.Magic(), Equals, kind.MagicLittle)
	c.Check(k.SuperblockOrder(), Equals, binary.ByteOrder(binary.LittleEndian))
	c.Check(k.DataOrder(), Equals, binary.ByteOrder(binary.LittleEndian))
	c.Check(k.MetadataOrder(), Equals, binary.ByteOrder(binary.LittleEndian))
	major, minor := k.Version()
	c.Check(major, Equals, uint16(4))
	c.Check(minor, Equals, uint16(0))
}

func (s *kindSuite) TestAVMMixedEndian(c *C) {
	k := kind.AVM_BE_V4_0
	c.Check(k.SuperblockOrder(), Equals, binary.ByteOrder(binary.BigEndian))
	c.Check(k.DataOrder(), Equals, binary.ByteOrder(binary.LittleEndian))
	c.Check(k.MetadataOrder(), Equals, binary.ByteOrder(binary.BigEndian))
}

func (s *kindSuite) TestWithersReturnCopies(c *C) {
	base := kind.LE_V4_0
	derived := base.WithAllEndian(true).WithVersion(4, 1)
	c.Check(base.SuperblockOrder(), Equals, binary.ByteOrder(binary.LittleEndian))
	c.Check(derived.SuperblockOrder(), Equals, binary.ByteOrder(binary.BigEndian))
	major, minor := derived.Version()
	c.Check(major, Equals, uint16(4))
	c.Check(minor, Equals, uint16(1))
}

func (s *kindSuite) TestNewReplacesCompressorOnly(c *C) {
	k := kind.New(kind.BE_V4_0, compression.XzAction)
	c.Check(k.Compressor(), Equals, compression.XzAction)
	c.Check(k.Magic(), Equals, kind.MagicBig)
}

func (s *kindSuite) TestFromTarget(c *C) {
	k, err := kind.FromTarget("be")
	c.Assert(err, IsNil)
	c.Check(k.Magic(), Equals, kind.MagicBig)

	_, err = kind.FromTarget("nope")
	c.Assert(err, ErrorMatches, `kind: unknown dialect "nope"`)
}

func (s *kindSuite) TestDetectMagic(c *C) {
	le := make([]byte, 4)
	binary.LittleEndian.PutUint32(le, uint32(kind.MagicLittle))
	m, big, ok := kind.DetectMagic(le)
	c.Check(ok, Equals, true)
	c.Check(big, Equals, false)
	c.Check(m, Equals, kind.MagicLittle)

	be := make([]byte, 4)
	binary.BigEndian.PutUint32(be, uint32(kind.MagicBig))
	m, big, ok = kind.DetectMagic(be)
	c.Check(ok, Equals, true)
	c.Check(big, Equals, true)
	c.Check(m, Equals, kind.MagicBig)

	_, _, ok = kind.DetectMagic([]byte{1, 2})
	c.Check(ok, Equals, false)
}

func (s *kindSuite) TestMagicBytesRoundTrip(c *C) {
	k := kind.BE_V4_0
	b := k.MagicBytes()
	m, big, ok := kind.DetectMagic(b[:])
	c.Assert(ok, Equals, true)
	c.Check(big, Equals, true)
	c.Check(m, Equals, kind.MagicBig)
}
