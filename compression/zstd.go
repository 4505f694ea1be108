package compression

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

const (
	zstdMinLevel = 1
	zstdMaxLevel = 22
	zstdDefault  = 15
)

type zstdAction struct{}

// ZstdAction is the shared, immutable zstd Action instance.
var ZstdAction Action = zstdAction{}

func (zstdAction) ID() ID { return Zstd }

func (zstdAction) Decompress(in []byte, id ID) ([]byte, error) {
	if id != Zstd {
		return nil, &InvalidCompressorError{ID: id}
	}
	d, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	out, err := d.DecodeAll(in, nil)
	if err != nil {
		return nil, &CorruptedDataError{ID: Zstd, Err: err}
	}
	return out, nil
}

func (zstdAction) Compress(in []byte, cfg Config, _ uint32) ([]byte, error) {
	level := cfg.Level
	if level == 0 {
		level = zstdDefault
	}
	if level < zstdMinLevel || level > zstdMaxLevel {
		return nil, fmt.Errorf("compression: zstd level %d out of range [%d,%d]", level, zstdMinLevel, zstdMaxLevel)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstdLevelFor(level)))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(in, make([]byte, 0, len(in))), nil
}

// zstdLevelFor maps the 1-22 squashfs-options scale onto klauspost's
// four coarse encoder presets.
func zstdLevelFor(level int) zstd.EncoderLevel {
	switch {
	case level <= 3:
		return zstd.SpeedFastest
	case level <= 9:
		return zstd.SpeedDefault
	case level <= 15:
		return zstd.SpeedBetterCompression
	default:
		return zstd.SpeedBestCompression
	}
}

func (zstdAction) Options(cfg Config, _ uint32) []byte {
	level := cfg.Level
	if level == 0 {
		level = zstdDefault
	}
	b := make([]byte, 4)
	putUint32LE(b, uint32(level))
	return b
}

func (zstdAction) ParseOptions(b []byte) (Config, error) {
	if len(b) != 4 {
		return Config{}, fmt.Errorf("compression: zstd options must be 4 bytes, got %d", len(b))
	}
	level := int(readUint32LE(b))
	if level < zstdMinLevel || level > zstdMaxLevel {
		return Config{}, fmt.Errorf("compression: invalid zstd options level %d", level)
	}
	return Config{Level: level}, nil
}
