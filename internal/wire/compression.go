package wire

import "fmt"

// DepthCompression identifies how depth payloads are compressed.
// Values are protocol constants stored in a one-byte segment.
type DepthCompression uint8

const (
	DepthCompressionNone DepthCompression = 0
	DepthCompressionLZ4  DepthCompression = 1
	DepthCompressionZstd DepthCompression = 2
)

// String returns the tag's name.
func (c DepthCompression) String() string {
	return compressionName(uint8(c))
}

// RGBCompression identifies how colour payloads are compressed.
// Values are protocol constants stored in a one-byte segment.
type RGBCompression uint8

const (
	RGBCompressionNone RGBCompression = 0
	RGBCompressionLZ4  RGBCompression = 1
	RGBCompressionZstd RGBCompression = 2
)

// String returns the tag's name.
func (c RGBCompression) String() string {
	return compressionName(uint8(c))
}

// ParseDepthCompression parses "none", "lz4" or "zstd".
func ParseDepthCompression(name string) (DepthCompression, error) {
	tag, err := parseCompression(name)
	return DepthCompression(tag), err
}

// ParseRGBCompression parses "none", "lz4" or "zstd".
func ParseRGBCompression(name string) (RGBCompression, error) {
	tag, err := parseCompression(name)
	return RGBCompression(tag), err
}

func compressionName(tag uint8) string {
	switch tag {
	case 0:
		return "none"
	case 1:
		return "lz4"
	case 2:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

func parseCompression(name string) (uint8, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "lz4":
		return 1, nil
	case "zstd":
		return 2, nil
	default:
		return 0, fmt.Errorf("unknown compression type: %q", name)
	}
}
