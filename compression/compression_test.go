package compression_test

import (
	"testing"

	. "gopkg.in/check.v1"

	"github.com/go-squashfs/squashfs/compression"
)

func Test(t *testing.T) { TestingT(t) }

type compressionSuite struct{}

var _ = Suite(&compressionSuite{})

var allCodecs = []compression.ID{
	compression.Gzip,
	compression.Xz,
	compression.Lz4,
	compression.Zstd,
}

func (s *compressionSuite) TestRoundTrip(c *C) {
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	for _, id := range allCodecs {
		action, err := compression.ByID(id)
		c.Assert(err, IsNil, Commentf("codec %s", id))

		compressed, err := action.Compress(payload, compression.Config{}, uint32(len(payload)))
		c.Assert(err, IsNil, Commentf("codec %s", id))

		decompressed, err := action.Decompress(compressed, id)
		c.Assert(err, IsNil, Commentf("codec %s", id))
		c.Check(decompressed, DeepEquals, payload, Commentf("codec %s", id))
	}
}

func (s *compressionSuite) TestOptionsRoundTrip(c *C) {
	action, err := compression.ByID(compression.Gzip)
	c.Assert(err, IsNil)

	opts := action.Options(compression.Config{Level: 6, WindowSize: 12}, 131072)
	c.Assert(opts, HasLen, 8)

	cfg, err := action.ParseOptions(opts)
	c.Assert(err, IsNil)
	c.Check(cfg.Level, Equals, 6)
	c.Check(cfg.WindowSize, Equals, 12)
}

func (s *compressionSuite) TestUnsupportedID(c *C) {
	_, err := compression.ByID(compression.ID(99))
	c.Assert(err, ErrorMatches, "compression: unsupported compressor id 99.*")
}

func (s *compressionSuite) TestLzmaWriteUnsupported(c *C) {
	_, err := compression.LzmaAction.Compress([]byte("x"), compression.Config{}, 0)
	c.Assert(err, ErrorMatches, "compression: lzma write support.*")
}
