package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// gzipAction implements the squashfs "gzip" compressor, which on the
// wire is a raw zlib-framed deflate stream (no gzip envelope) — the
// kernel module and mksquashfs both call zlib_inflate/zlib_deflate
// directly. We use klauspost/compress/zlib rather than stdlib
// compress/zlib to stay on the same compression stack as the zstd
// backend below.
type gzipAction struct{}

// GzipAction is the shared, immutable gzip Action instance.
var GzipAction Action = gzipAction{}

// GzipStrategy mirrors the squashfs gzip compression-options strategy
// bitmask.
type GzipStrategy uint16

const (
	GzipStrategyDefault GzipStrategy = 0x1
	GzipStrategyFiltered GzipStrategy = 0x2
	GzipStrategyHuffman GzipStrategy = 0x4
	GzipStrategyRLE      GzipStrategy = 0x8
	GzipStrategyFixed    GzipStrategy = 0x10
)

func (gzipAction) ID() ID { return Gzip }

func (gzipAction) Decompress(in []byte, id ID) ([]byte, error) {
	if id != Gzip {
		return nil, &InvalidCompressorError{ID: id}
	}
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, &CorruptedDataError{ID: Gzip, Err: err}
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &CorruptedDataError{ID: Gzip, Err: err}
	}
	return out, nil
}

func (gzipAction) Compress(in []byte, cfg Config, _ uint32) ([]byte, error) {
	level := cfg.Level
	if level == 0 {
		level = 9
	}
	if level < 1 || level > 9 {
		return nil, fmt.Errorf("compression: gzip level %d out of range [1,9]", level)
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gzipAction) Options(cfg Config, _ uint32) []byte {
	level := cfg.Level
	if level == 0 {
		level = 9
	}
	windowSize := cfg.WindowSize
	if windowSize == 0 {
		windowSize = 15
	}
	strategy := cfg.Strategy
	if strategy == 0 {
		strategy = uint16(GzipStrategyDefault)
	}
	b := make([]byte, 8)
	putUint32LE(b[0:4], uint32(level))
	b[4] = byte(windowSize)
	b[5] = byte(windowSize >> 8)
	b[6] = byte(strategy)
	b[7] = byte(strategy >> 8)
	return b
}

func (gzipAction) ParseOptions(b []byte) (Config, error) {
	if len(b) != 8 {
		return Config{}, fmt.Errorf("compression: gzip options must be 8 bytes, got %d", len(b))
	}
	level := int(readUint32LE(b[0:4]))
	windowSize := int(b[4]) | int(b[5])<<8
	strategy := uint16(b[6]) | uint16(b[7])<<8
	if level < 1 || level > 9 {
		return Config{}, fmt.Errorf("compression: invalid gzip options level %d", level)
	}
	if windowSize < 8 || windowSize > 15 {
		return Config{}, fmt.Errorf("compression: invalid gzip options window size %d", windowSize)
	}
	return Config{Level: level, WindowSize: windowSize, Strategy: strategy}, nil
}
