package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// XzFilter is the BCJ filter-chain selector bitmask stored in the xz
// compression-options region.
type XzFilter uint32

const (
	XzFilterX86      XzFilter = 0x1
	XzFilterPowerPC  XzFilter = 0x2
	XzFilterIA64     XzFilter = 0x4
	XzFilterArm      XzFilter = 0x8
	XzFilterArmThumb XzFilter = 0x10
	XzFilterSparc    XzFilter = 0x20
	XzFilterArm64    XzFilter = 0x40
)

type xzAction struct{}

// XzAction is the shared, immutable xz Action instance.
var XzAction Action = xzAction{}

func (xzAction) ID() ID { return Xz }

func (xzAction) Decompress(in []byte, id ID) ([]byte, error) {
	if id != Xz {
		return nil, &InvalidCompressorError{ID: id}
	}
	r, err := xz.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, &CorruptedDataError{ID: Xz, Err: err}
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &CorruptedDataError{ID: Xz, Err: err}
	}
	return out, nil
}

func (xzAction) Compress(in []byte, cfg Config, _ uint32) ([]byte, error) {
	var buf bytes.Buffer
	wc := xz.WriterConfig{}
	if cfg.DictSize > 0 {
		wc.DictCap = int(cfg.DictSize)
	}
	w, err := wc.NewWriter(&buf)
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

func (xzAction) Options(cfg Config, _ uint32) []byte {
	dict := cfg.DictSize
	if dict == 0 {
		dict = 1 << 20 // 1 MiB default dictionary, matches mksquashfs default
	}
	b := make([]byte, 8)
	putUint32LE(b[0:4], dict)
	putUint32LE(b[4:8], uint32(cfg.Filters))
	return b
}

func (xzAction) ParseOptions(b []byte) (Config, error) {
	if len(b) != 8 {
		return Config{}, fmt.Errorf("compression: xz options must be 8 bytes, got %d", len(b))
	}
	return Config{
		DictSize: readUint32LE(b[0:4]),
		Filters:  XzFilter(readUint32LE(b[4:8])),
	}, nil
}

// lzmaAction implements the legacy (v1-v3) lzma compressor. Per spec
// §6.4 it is read-only: Compress always returns an error so the block
// packer falls back to storing the block raw.
type lzmaAction struct{}

// LzmaAction is the shared, immutable legacy lzma Action instance.
var LzmaAction Action = lzmaAction{}

func (lzmaAction) ID() ID { return Lzma }

func (lzmaAction) Decompress(in []byte, id ID) ([]byte, error) {
	if id != Lzma {
		return nil, &InvalidCompressorError{ID: id}
	}
	r, err := lzma.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, &CorruptedDataError{ID: Lzma, Err: err}
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &CorruptedDataError{ID: Lzma, Err: err}
	}
	return out, nil
}

func (lzmaAction) Compress(_ []byte, _ Config, _ uint32) ([]byte, error) {
	return nil, fmt.Errorf("compression: lzma write support is not implemented (legacy v1-v3 codec, read-only per spec)")
}

func (lzmaAction) Options(_ Config, _ uint32) []byte { return nil }

func (lzmaAction) ParseOptions(b []byte) (Config, error) {
	if len(b) != 0 {
		return Config{}, fmt.Errorf("compression: lzma has no options, got %d bytes", len(b))
	}
	return Config{}, nil
}
