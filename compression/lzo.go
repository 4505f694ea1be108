package compression

import (
	"bytes"
	"fmt"

	"github.com/rasky/go-lzo"
)

// lzoAction implements the lzo1x codec with the pure-Go
// github.com/rasky/go-lzo package. Decompress accepts any lzo1x
// stream; Compress always uses that package's Compress1X, so Config's
// Level field is unused here.
type lzoAction struct{}

// LzoAction is the shared, immutable lzo Action instance.
var LzoAction Action = lzoAction{}

func (lzoAction) ID() ID { return Lzo }

func (lzoAction) Decompress(in []byte, id ID) ([]byte, error) {
	if id != Lzo {
		return nil, &InvalidCompressorError{ID: id}
	}
	out, err := lzo.Decompress1X(bytes.NewReader(in), len(in), 0)
	if err != nil {
		return nil, &CorruptedDataError{ID: Lzo, Err: err}
	}
	return out, nil
}

func (lzoAction) Compress(in []byte, _ Config, _ uint32) ([]byte, error) {
	return lzo.Compress1X(in), nil
}

func (lzoAction) Options(_ Config, _ uint32) []byte { return nil }

func (lzoAction) ParseOptions(b []byte) (Config, error) {
	if len(b) != 0 {
		return Config{}, fmt.Errorf("compression: lzo has no options, got %d bytes", len(b))
	}
	return Config{}, nil
}
