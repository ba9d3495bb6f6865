package gpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/google/uuid"
	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// Element is the set of fixed-size numeric types that can cross the
// host/device boundary.
type Element interface {
	~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// ByteView is a read-only byte span over a typed host slice. It records the
// element type and count it was built from so allocation never trusts a
// bare pointer and length.
type ByteView struct {
	data     []byte
	elemSize int
	count    int
	elemType string
}

// ViewOf views every element of s.
func ViewOf[T Element](s []T) ByteView {
	v, _ := ViewOfN(s, len(s))
	return v
}

// ViewOfN views the first count elements of s. Returns ErrSizeMismatch when
// count is negative or larger than len(s).
func ViewOfN[T Element](s []T, count int) (ByteView, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	elemType := fmt.Sprintf("%T", zero)
	if count < 0 || count > len(s) {
		return ByteView{}, fmt.Errorf("%w: view of %d %s elements over a slice of %d",
			ErrSizeMismatch, count, elemType, len(s))
	}
	v := ByteView{elemSize: size, count: count, elemType: elemType}
	if count > 0 {
		v.data = unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), count*size)
	}
	return v, nil
}

// Bytes is the viewed memory. Callers must not modify it.
func (v ByteView) Bytes() []byte { return v.data }

// Len is the byte length.
func (v ByteView) Len() int { return len(v.data) }

// Count is the number of elements.
func (v ByteView) Count() int { return v.count }

// ElementSize is the byte size of one element.
func (v ByteView) ElementSize() int { return v.elemSize }

// ElementType names the element type, e.g. "uint32".
func (v ByteView) ElementType() string { return v.elemType }

// Buffer is a fixed-length device-visible allocation. The storage mode is
// fixed at creation.
//
// Buffers track the last submission that may have written them. While that
// submission is pending the host may not read or write the buffer and other
// queues may not bind it. A Managed buffer written by the device also needs a
// resolved Synchronize before Read accepts it.
type Buffer struct {
	id       uuid.UUID
	ctx      *Context
	hb       hal.Buffer
	mode     StorageMode
	length   uint64
	elemType string

	mu sync.Mutex
	// writer is the latest submission binding the buffer writable.
	writer *CompletionToken
	// uses holds every queue's latest submission binding the buffer at all.
	uses useSet
	// generation counts writer submissions; a synchronize pass clears dirty
	// only if no writer was submitted after it.
	generation uint64
	dirty      bool
	released   bool
}

func (c *Context) newBuffer(hb hal.Buffer, elemType string) (*Buffer, error) {
	b := &Buffer{
		id:       uuid.New(),
		ctx:      c,
		hb:       hb,
		mode:     hb.StorageMode(),
		length:   hb.Length(),
		elemType: elemType,
	}
	c.stats.bytesAllocated.Add(int64(b.length))
	Logger().Debug("gpu buffer allocated", "buffer", b.id, "bytes", b.length, "mode", b.mode)
	return b, nil
}

// ID identifies the buffer in logs.
func (b *Buffer) ID() uuid.UUID { return b.id }

// Length is the byte length.
func (b *Buffer) Length() uint64 { return b.length }

// Mode is the storage mode.
func (b *Buffer) Mode() StorageMode { return b.mode }

// Contents is the raw host view with no hazard checks. For Managed buffers it
// is the host copy, which may be stale.
func (b *Buffer) Contents() []byte {
	return b.hb.Contents()
}

// DeviceContents exposes the device-resident copy when the backend can show
// it to the host (the software device can). ok is false otherwise.
func (b *Buffer) DeviceContents() (data []byte, ok bool) {
	if dc, ok := b.hb.(interface{ DeviceContents() []byte }); ok {
		return dc.DeviceContents(), true
	}
	return nil, false
}

// Write copies view into the buffer at byte offset. Managed buffers forward
// the changed range to the device.
func (b *Buffer) Write(view ByteView, offset uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return ErrReleased
	}
	if b.writer.pending() {
		return fmt.Errorf("%w: buffer %s", ErrBufferInFlight, b.id)
	}
	n := uint64(view.Len())
	if offset > b.length || n > b.length-offset {
		return fmt.Errorf("%w: write of %d bytes at %d into %d", ErrSizeMismatch, n, offset, b.length)
	}
	copy(b.hb.Contents()[offset:], view.Bytes())
	if b.mode == StorageManaged {
		if err := b.hb.DidModifyRange(offset, n); err != nil {
			return fmt.Errorf("buffer %s: %w", b.id, err)
		}
	}
	return nil
}

// Release frees the buffer once every submission using it, on any queue,
// has resolved.
func (b *Buffer) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	b.mu.Unlock()

	b.uses.whenIdle(b.ctx, b.hb.Release)
}

// Read copies count elements of type T out of the buffer's host view.
//
// It does not wait. Errors:
//   - ErrSizeMismatch: count*sizeof(T) exceeds the buffer length
//   - ErrBufferInFlight: a submission writing the buffer is still pending
//   - ErrNotSynchronized: a Managed buffer was written by the device and not
//     synchronized since
func Read[T Element](b *Buffer, count int) ([]T, error) {
	var zero T
	size := uint64(unsafe.Sizeof(zero))
	if count < 0 || uint64(count) > b.length/size {
		return nil, fmt.Errorf("%w: %d %T elements of %d bytes from a %d byte buffer",
			ErrSizeMismatch, count, zero, size, b.length)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, ErrReleased
	}
	if b.writer.pending() {
		return nil, fmt.Errorf("%w: buffer %s", ErrBufferInFlight, b.id)
	}
	if b.mode == StorageManaged && b.dirty {
		return nil, fmt.Errorf("%w: buffer %s", ErrNotSynchronized, b.id)
	}

	out := make([]T, count)
	if count > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(out))), uint64(count)*size)
		copy(dst, b.hb.Contents())
	}
	return out, nil
}
