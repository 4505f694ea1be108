package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

type lz4Flag uint32

const lz4HighCompression lz4Flag = 0x1

const lz4Version1 uint32 = 1

type lz4Action struct{}

// Lz4Action is the shared, immutable lz4 Action instance.
var Lz4Action Action = lz4Action{}

func (lz4Action) ID() ID { return Lz4 }

func (lz4Action) Decompress(in []byte, id ID) ([]byte, error) {
	if id != Lz4 {
		return nil, &InvalidCompressorError{ID: id}
	}
	r := lz4.NewReader(bytes.NewReader(in))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &CorruptedDataError{ID: Lz4, Err: err}
	}
	return out, nil
}

func (lz4Action) Compress(in []byte, cfg Config, _ uint32) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	opts := []lz4.Option{}
	if cfg.Lz4HC {
		opts = append(opts, lz4.CompressionLevelOption(lz4.Level9))
	} else {
		opts = append(opts, lz4.CompressionLevelOption(lz4.Fast))
	}
	if err := w.Apply(opts...); err != nil {
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

// Options returns the 8-byte squashfs lz4 options region: a version
// word (always 1) followed by a flags word whose only defined bit
// selects high-compression mode.
func (lz4Action) Options(cfg Config, _ uint32) []byte {
	b := make([]byte, 8)
	putUint32LE(b[0:4], lz4Version1)
	var flags lz4Flag
	if cfg.Lz4HC {
		flags |= lz4HighCompression
	}
	putUint32LE(b[4:8], uint32(flags))
	return b
}

func (lz4Action) ParseOptions(b []byte) (Config, error) {
	if len(b) != 8 {
		return Config{}, fmt.Errorf("compression: lz4 options must be 8 bytes, got %d", len(b))
	}
	version := readUint32LE(b[0:4])
	if version != lz4Version1 {
		return Config{}, fmt.Errorf("compression: unsupported lz4 options version %d", version)
	}
	flags := lz4Flag(readUint32LE(b[4:8]))
	return Config{Lz4HC: flags&lz4HighCompression != 0}, nil
}
