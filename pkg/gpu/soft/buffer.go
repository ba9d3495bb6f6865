package soft

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// Buffer is a software allocation. Shared buffers have one backing store;
// Managed buffers have a host copy and a device copy.
type Buffer struct {
	dev    *Device
	mode   hal.StorageMode
	length uint64
	host   []byte
	device []byte

	// mu orders host/device copies made by DidModifyRange and synchronize
	// passes against each other.
	mu       sync.Mutex
	released atomic.Bool
}

var _ hal.Buffer = (*Buffer)(nil)

func (d *Device) newBuffer(length uint64, mode hal.StorageMode, data []byte) (*Buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("soft: unsupported storage mode %v", mode)
	}
	if length == 0 {
		return nil, fmt.Errorf("soft: zero-length buffer")
	}
	footprint := length
	if mode == hal.StorageManaged {
		footprint *= 2
	}
	if err := d.reserve(footprint); err != nil {
		return nil, err
	}
	b := &Buffer{dev: d, mode: mode, length: length, host: alloc(length)}
	if mode == hal.StorageManaged {
		b.device = alloc(length)
	} else {
		b.device = b.host
	}
	if data != nil {
		copy(b.host, data)
		if mode == hal.StorageManaged {
			copy(b.device, data)
		}
	}
	return b, nil
}

// alloc returns 8-byte aligned zeroed memory so typed views are safe.
func alloc(length uint64) []byte {
	words := make([]uint64, (length+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), length)
}

func (b *Buffer) Length() uint64 {
	return b.length
}

func (b *Buffer) StorageMode() hal.StorageMode {
	return b.mode
}

// Contents is the host copy.
func (b *Buffer) Contents() []byte {
	return b.host
}

// DeviceContents is the device-resident copy. For Shared buffers it is the
// same memory as Contents.
func (b *Buffer) DeviceContents() []byte {
	return b.device
}

// DidModifyRange pushes host changes in [offset, offset+length) to the
// device copy of a Managed buffer.
func (b *Buffer) DidModifyRange(offset, length uint64) error {
	if b.mode != hal.StorageManaged || offset >= b.length {
		return nil
	}
	end := min(offset+length, b.length)
	b.mu.Lock()
	copy(b.device[offset:end], b.host[offset:end])
	b.mu.Unlock()
	return nil
}

// synchronize copies the device copy over the host copy.
func (b *Buffer) synchronize() {
	if b.mode != hal.StorageManaged {
		return
	}
	b.mu.Lock()
	copy(b.host, b.device)
	b.mu.Unlock()
}

func (b *Buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	footprint := b.length
	if b.mode == hal.StorageManaged {
		footprint *= 2
	}
	b.dev.unreserve(footprint)
}
