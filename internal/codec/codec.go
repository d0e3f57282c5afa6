// Package codec compresses content blobs at rest. Every encoded blob starts
// with a one-byte header naming its algorithm, so blobs written under one
// setting stay readable after the setting changes.
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/pierrec/lz4/v4"
)

// Algorithm names accepted in configuration.
const (
	None   = "none"
	LZ4    = "lz4"
	Brotli = "brotli"
)

const (
	tagNone   byte = 0
	tagLZ4    byte = 1
	tagBrotli byte = 2
)

// Codec encodes and decodes stored blobs.
type Codec interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// New returns the codec for algorithm. An empty name selects None.
func New(algorithm string) (Codec, error) {
	switch algorithm {
	case "", None:
		return Nop{}, nil
	case LZ4:
		return LZ4Codec{}, nil
	case Brotli:
		return BrotliCodec{Quality: brotli.DefaultCompression}, nil
	default:
		return nil, fmt.Errorf("codec: unknown algorithm %q", algorithm)
	}
}

// Nop stores blobs uncompressed.
type Nop struct{}

func (Nop) Encode(data []byte) ([]byte, error) {
	return withTag(tagNone, data), nil
}

func (Nop) Decode(data []byte) ([]byte, error) {
	return decode(data)
}

// LZ4Codec favours speed; suited to frequent editor saves.
type LZ4Codec struct{}

func (LZ4Codec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tagLZ4)
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("codec: lz4 write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (LZ4Codec) Decode(data []byte) ([]byte, error) {
	return decode(data)
}

// BrotliCodec favours ratio.
type BrotliCodec struct {
	Quality int
}

func (c BrotliCodec) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(tagBrotli)
	w := brotli.NewWriterLevel(&buf, c.Quality)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("codec: brotli write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("codec: brotli close: %w", err)
	}
	return buf.Bytes(), nil
}

func (BrotliCodec) Decode(data []byte) ([]byte, error) {
	return decode(data)
}

func withTag(tag byte, data []byte) []byte {
	out := make([]byte, 0, len(data)+1)
	out = append(out, tag)
	return append(out, data...)
}

// decode dispatches on the header byte regardless of the receiving codec.
func decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("codec: empty blob")
	}
	body := data[1:]
	switch data[0] {
	case tagNone:
		return append([]byte(nil), body...), nil
	case tagLZ4:
		return readAll(lz4.NewReader(bytes.NewReader(body)), "lz4")
	case tagBrotli:
		return readAll(brotli.NewReader(bytes.NewReader(body)), "brotli")
	default:
		return nil, fmt.Errorf("codec: unknown header byte %d", data[0])
	}
}

func readAll(r io.Reader, name string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("codec: %s read: %w", name, err)
	}
	return out, nil
}
