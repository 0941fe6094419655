package types

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// MaxArraySize is the element count arrays are normally sized for
	MaxArraySize = 2048
	// AbsMaxArraySize is the hard upper bound on array element count
	AbsMaxArraySize = 4096

	arrayHeaderSize = 4
)

// FloatArraySize returns the payload size in bytes of a float array with n elements
func FloatArraySize(n int) int {
	return arrayHeaderSize + FloatSize*n
}

// Int16ArraySize returns the payload size in bytes of an int16 array with n elements
func Int16ArraySize(n int) int {
	return arrayHeaderSize + 2*n
}

// FloatArray is a length-prefixed float32 array laid out directly in its wire
// payload: a uint32 little-endian element count followed by the elements.
type FloatArray struct {
	buf []byte
}

// NewFloatArray lays out an n element array in buf, which must hold at least
// FloatArraySize(n) bytes. Elements keep whatever bytes buf already contains.
func NewFloatArray(buf []byte, n int) (*FloatArray, error) {
	if n < 0 || n > AbsMaxArraySize {
		return nil, fmt.Errorf("float array length %d out of range [0, %d]", n, AbsMaxArraySize)
	}
	size := FloatArraySize(n)
	if len(buf) < size {
		return nil, fmt.Errorf("float array of %d elements needs %d bytes, buffer has %d", n, size, len(buf))
	}
	buf = buf[:size]
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return &FloatArray{buf: buf}, nil
}

// FloatArrayFromBytes wraps a received payload without copying it
func FloatArrayFromBytes(b []byte) (*FloatArray, error) {
	if len(b) < arrayHeaderSize {
		return nil, fmt.Errorf("float array payload too short: %d bytes", len(b))
	}
	n := int(binary.LittleEndian.Uint32(b))
	if n > AbsMaxArraySize || len(b) != FloatArraySize(n) {
		return nil, fmt.Errorf("float array payload of %d bytes does not match length %d", len(b), n)
	}
	return &FloatArray{buf: b}, nil
}

func (a *FloatArray) Len() int {
	return int(binary.LittleEndian.Uint32(a.buf))
}

// At returns element i. Like slice indexing, it panics unless 0 <= i < Len().
func (a *FloatArray) At(i int) float32 {
	checkIndex(i, a.Len())
	off := arrayHeaderSize + FloatSize*i
	return math.Float32frombits(binary.LittleEndian.Uint32(a.buf[off:]))
}

// Set stores v at element i, with the same bounds contract as At
func (a *FloatArray) Set(i int, v float32) {
	checkIndex(i, a.Len())
	off := arrayHeaderSize + FloatSize*i
	binary.LittleEndian.PutUint32(a.buf[off:], math.Float32bits(v))
}

// Reset zeroes every element, keeping the length
func (a *FloatArray) Reset() {
	clear(a.buf[arrayHeaderSize:])
}

// Values returns a copy of the elements
func (a *FloatArray) Values() []float32 {
	out := make([]float32, a.Len())
	for i := range out {
		out[i] = a.At(i)
	}
	return out
}

// Bytes returns the wire payload backing the array
func (a *FloatArray) Bytes() []byte {
	return a.buf
}

// Int16Array is the int16 counterpart of FloatArray
type Int16Array struct {
	buf []byte
}

// NewInt16Array lays out an n element array in buf
func NewInt16Array(buf []byte, n int) (*Int16Array, error) {
	if n < 0 || n > AbsMaxArraySize {
		return nil, fmt.Errorf("int16 array length %d out of range [0, %d]", n, AbsMaxArraySize)
	}
	size := Int16ArraySize(n)
	if len(buf) < size {
		return nil, fmt.Errorf("int16 array of %d elements needs %d bytes, buffer has %d", n, size, len(buf))
	}
	buf = buf[:size]
	binary.LittleEndian.PutUint32(buf, uint32(n))
	return &Int16Array{buf: buf}, nil
}

// Int16ArrayFromBytes wraps a received payload without copying it
func Int16ArrayFromBytes(b []byte) (*Int16Array, error) {
	if len(b) < arrayHeaderSize {
		return nil, fmt.Errorf("int16 array payload too short: %d bytes", len(b))
	}
	n := int(binary.LittleEndian.Uint32(b))
	if n > AbsMaxArraySize || len(b) != Int16ArraySize(n) {
		return nil, fmt.Errorf("int16 array payload of %d bytes does not match length %d", len(b), n)
	}
	return &Int16Array{buf: b}, nil
}

func (a *Int16Array) Len() int {
	return int(binary.LittleEndian.Uint32(a.buf))
}

// At returns element i and panics unless 0 <= i < Len()
func (a *Int16Array) At(i int) int16 {
	checkIndex(i, a.Len())
	return int16(binary.LittleEndian.Uint16(a.buf[arrayHeaderSize+2*i:]))
}

// Set stores v at element i and panics unless 0 <= i < Len()
func (a *Int16Array) Set(i int, v int16) {
	checkIndex(i, a.Len())
	binary.LittleEndian.PutUint16(a.buf[arrayHeaderSize+2*i:], uint16(v))
}

func (a *Int16Array) Reset() {
	clear(a.buf[arrayHeaderSize:])
}

func (a *Int16Array) Values() []int16 {
	out := make([]int16, a.Len())
	for i := range out {
		out[i] = a.At(i)
	}
	return out
}

func (a *Int16Array) Bytes() []byte {
	return a.buf
}

func checkIndex(i, n int) {
	if i < 0 || i >= n {
		panic(fmt.Sprintf("array index %d out of range [0:%d]", i, n))
	}
}
