package mapping

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/dreamware/mapsync/internal/wire"
)

// Tag is either stream's compression tag.
type Tag interface {
	wire.DepthCompression | wire.RGBCompression
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use, so one of
// each serves every connection.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("mapping: zstd encoder initialization failed: " + err.Error())
	}
	// DecodeAll stops at the destination's capacity, which callers set to
	// the calibrated frame size.
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecodeAllCapLimit(true))
	if err != nil {
		panic("mapping: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress encodes one frame payload. When the chosen algorithm does not
// make the payload smaller, the payload is sent verbatim; a receiver
// recognises this because the payload length equals the uncompressed size.
// The result never exceeds len(data).
func Compress[T Tag](data []byte, tag T) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch uint8(tag) {
	case 0:
		return data, nil
	case 1:
		out, err = compressLZ4(data)
	case 2:
		out = zstdEncoder.EncodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", tag)
	}
	if err != nil {
		return nil, err
	}
	if out == nil || len(out) >= len(data) {
		return data, nil
	}
	return out, nil
}

// Decompress decodes a payload produced by Compress into exactly size
// bytes.
func Decompress[T Tag](payload []byte, tag T, size int) ([]byte, error) {
	if len(payload) == size {
		return payload, nil
	}
	if len(payload) > size {
		return nil, fmt.Errorf("%s payload of %d bytes exceeds frame size %d", tag, len(payload), size)
	}

	switch uint8(tag) {
	case 0:
		return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d", len(payload), size)
	case 1:
		return decompressLZ4(payload, size)
	case 2:
		return decompressZstd(payload, size)
	default:
		return nil, fmt.Errorf("unsupported compression: %s", tag)
	}
}

// compressLZ4 returns nil when the block is incompressible.
func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return dst[:n], nil
}

func decompressLZ4(payload []byte, size int) ([]byte, error) {
	dst := make([]byte, size)
	n, err := lz4.UncompressBlock(payload, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
	}
	return dst, nil
}

func decompressZstd(payload []byte, size int) ([]byte, error) {
	dst, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(dst) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(dst), size)
	}
	return dst, nil
}
