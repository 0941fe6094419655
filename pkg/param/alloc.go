package param

import (
	"fmt"

	"github.com/cuemby/pubparam/pkg/types"
)

// Allocator supplies the buffers the registry hands out for array payloads
// and exports. Hosts without a general purpose heap install pool backed
// functions with WithAllocator.
type Allocator struct {
	Alloc func(size int) []byte
	Free  func(b []byte)
}

// DefaultAllocator uses the Go heap
var DefaultAllocator = Allocator{
	Alloc: func(size int) []byte { return make([]byte, size) },
	Free:  func([]byte) {},
}

// AllocateFloatArray returns a zeroed float array with n elements
func (r *Registry) AllocateFloatArray(n int) (*types.FloatArray, error) {
	if n < 0 || n > types.AbsMaxArraySize {
		return nil, fmt.Errorf("%w: float array length %d", ErrInvalidArgument, n)
	}
	buf, err := r.allocate(types.FloatArraySize(n))
	if err != nil {
		return nil, err
	}
	a, err := types.NewFloatArray(buf, n)
	if err != nil {
		r.alloc.Free(buf)
		return nil, err
	}
	a.Reset()
	return a, nil
}

// FreeFloatArray returns a's buffer to the allocator
func (r *Registry) FreeFloatArray(a *types.FloatArray) {
	if a != nil {
		r.alloc.Free(a.Bytes())
	}
}

// AllocateInt16Array returns a zeroed int16 array with n elements
func (r *Registry) AllocateInt16Array(n int) (*types.Int16Array, error) {
	if n < 0 || n > types.AbsMaxArraySize {
		return nil, fmt.Errorf("%w: int16 array length %d", ErrInvalidArgument, n)
	}
	buf, err := r.allocate(types.Int16ArraySize(n))
	if err != nil {
		return nil, err
	}
	a, err := types.NewInt16Array(buf, n)
	if err != nil {
		r.alloc.Free(buf)
		return nil, err
	}
	a.Reset()
	return a, nil
}

func (r *Registry) FreeInt16Array(a *types.Int16Array) {
	if a != nil {
		r.alloc.Free(a.Bytes())
	}
}

// Free releases a buffer returned by ListJSON
func (r *Registry) Free(b []byte) {
	if b != nil {
		r.alloc.Free(b)
	}
}

func (r *Registry) allocate(size int) ([]byte, error) {
	buf := r.alloc.Alloc(size)
	if len(buf) < size {
		r.logger.Error().Int("bytes", size).Msg("allocation failed")
		if buf != nil {
			r.alloc.Free(buf)
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrAllocation, size)
	}
	return buf[:size], nil
}
