package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Payload sizes of the fixed width scalar encodings
const (
	Int32Size = 4
	Int64Size = 8
	FloatSize = 4
	BoolSize  = 1
)

// EncodeInt32 encodes v as 4 little-endian bytes
func EncodeInt32(v int32) []byte {
	b := make([]byte, Int32Size)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

// DecodeInt32 decodes a payload produced by EncodeInt32
func DecodeInt32(b []byte) (int32, error) {
	if len(b) != Int32Size {
		return 0, fmt.Errorf("int32 payload must be %d bytes, got %d", Int32Size, len(b))
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

// EncodeInt64 encodes v as 8 little-endian bytes
func EncodeInt64(v int64) []byte {
	b := make([]byte, Int64Size)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeInt64 decodes a payload produced by EncodeInt64
func DecodeInt64(b []byte) (int64, error) {
	if len(b) != Int64Size {
		return 0, fmt.Errorf("int64 payload must be %d bytes, got %d", Int64Size, len(b))
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// EncodeFloat encodes v as its IEEE 754 bits in 4 little-endian bytes
func EncodeFloat(v float32) []byte {
	b := make([]byte, FloatSize)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return b
}

// DecodeFloat decodes a payload produced by EncodeFloat
func DecodeFloat(b []byte) (float32, error) {
	if len(b) != FloatSize {
		return 0, fmt.Errorf("float payload must be %d bytes, got %d", FloatSize, len(b))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b)), nil
}

// EncodeBool encodes v as a single byte
func EncodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// DecodeBool decodes a payload produced by EncodeBool. Any non-zero byte is true.
func DecodeBool(b []byte) (bool, error) {
	if len(b) != BoolSize {
		return false, fmt.Errorf("bool payload must be %d byte, got %d", BoolSize, len(b))
	}
	return b[0] != 0, nil
}
