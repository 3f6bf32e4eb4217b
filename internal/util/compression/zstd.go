// Package compression packs large text fields for storage inside JSON documents.
package compression

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var (
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	initOnce    sync.Once
	initErr     error
	maxDecoded  = uint64(16 << 20)
	base64Codec = base64.StdEncoding
)

// EncodeAll and DecodeAll are safe for concurrent use on a shared coder.
func coders() (*zstd.Encoder, *zstd.Decoder, error) {
	initOnce.Do(func() {
		encoder, initErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if initErr != nil {
			return
		}
		decoder, initErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded))
	})
	return encoder, decoder, initErr
}

func Compress(data []byte) ([]byte, error) {
	enc, _, err := coders()
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	return enc.EncodeAll(data, nil), nil
}

func Decompress(data []byte) ([]byte, error) {
	_, dec, err := coders()
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Pack compresses data and encodes it as base64 text.
func Pack(data []byte) (string, error) {
	compressed, err := Compress(data)
	if err != nil {
		return "", err
	}
	return base64Codec.EncodeToString(compressed), nil
}

func Unpack(s string) ([]byte, error) {
	compressed, err := base64Codec.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return Decompress(compressed)
}
