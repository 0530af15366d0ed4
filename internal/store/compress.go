package store

import (
	"context"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Stored values carry a one-byte header naming their encoding. Values written
// before compression was enabled start with a printable byte and are returned
// unchanged.
const (
	tagRaw  byte = 0x00
	tagZstd byte = 0x01
)

// Shared coders; both are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// CompressedStore zstd-compresses values before handing them to the wrapped
// store. Size limits apply to the compressed bytes, so large snapshots with
// embedded images fit where they otherwise would not.
type CompressedStore struct {
	inner Store
}

// NewCompressedStore wraps inner.
func NewCompressedStore(inner Store) *CompressedStore {
	return &CompressedStore{inner: inner}
}

func (s *CompressedStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decode(data)
}

func (s *CompressedStore) Set(ctx context.Context, key string, value []byte) error {
	return s.inner.Set(ctx, key, encode(value))
}

func (s *CompressedStore) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *CompressedStore) Close() error {
	return s.inner.Close()
}

func encode(value []byte) []byte {
	compressed := zstdEncoder.EncodeAll(value, []byte{tagZstd})
	if len(compressed) >= len(value)+1 {
		return append([]byte{tagRaw}, value...)
	}
	return compressed
}

func decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	switch data[0] {
	case tagRaw:
		return data[1:], nil
	case tagZstd:
		out, err := zstdDecoder.DecodeAll(data[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	}
	return data, nil
}
