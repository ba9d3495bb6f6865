//go:build darwin && cgo

// Package metal implements the compute device on Apple Metal.
//
// Kernel libraries are metallib blobs. Buffers are created with
// MTLResourceStorageModeShared or MTLResourceStorageModeManaged; Managed
// buffers are brought back to the host with a blit synchronizeResource pass.
package metal

/*
#cgo CFLAGS: -x objective-c -fobjc-arc
#cgo LDFLAGS: -framework Metal -framework Foundation

#include <stdlib.h>
#include "metal_bridge.h"
*/
import "C"

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// takeError converts a malloc'd C message into a Go error and frees it.
func takeError(sentinel error, msg *C.char) error {
	if msg == nil {
		return sentinel
	}
	defer C.free(unsafe.Pointer(msg))
	return fmt.Errorf("%w: %s", sentinel, C.GoString(msg))
}

// IsAvailable checks if Metal is available on this system.
func IsAvailable() bool {
	return bool(C.metal_is_available())
}

// Device represents a Metal GPU device.
type Device struct {
	ptr        C.MetalDevice
	name       string
	memory     uint64
	maxThreads uint32

	mu       sync.Mutex
	lost     atomic.Bool
	released bool
}

var _ hal.Device = (*Device)(nil)

// NewDevice opens the system default GPU.
func NewDevice() (*Device, error) {
	if !IsAvailable() {
		return nil, ErrMetalNotAvailable
	}

	var msg *C.char
	ptr := C.metal_create_device(&msg)
	if ptr == nil {
		return nil, takeError(ErrDeviceCreation, msg)
	}

	return &Device{
		ptr:        ptr,
		name:       C.GoString(C.metal_device_name(ptr)),
		memory:     uint64(C.metal_device_memory(ptr)),
		maxThreads: uint32(C.metal_device_max_threads(ptr)),
	}, nil
}

func (d *Device) Info() hal.DeviceInfo {
	return hal.DeviceInfo{
		Name:               d.name,
		Vendor:             "Apple",
		Backend:            BackendName,
		MemoryBytes:        d.memory,
		MaxThreadsPerGroup: d.maxThreads,
	}
}

func (d *Device) KernelFormat() hal.KernelFormat {
	return hal.FormatMetalLib
}

func (d *Device) usable() error {
	if d.lost.Load() {
		return hal.ErrDeviceLost
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return hal.ErrReleased
	}
	return nil
}

// Release frees the Metal device resources.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true
	C.metal_release(unsafe.Pointer(d.ptr))
	d.ptr = nil
}

type library struct {
	dev   *Device
	ptr   C.MetalLibrary
	names []string
	once  sync.Once
}

// NewLibrary loads a metallib blob.
func (d *Device) NewLibrary(blob []byte) (hal.Library, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty library", hal.ErrLoad)
	}
	data := C.CBytes(blob)
	defer C.free(data)

	var msg *C.char
	ptr := C.metal_new_library(d.ptr, data, C.ulong(len(blob)), &msg)
	if ptr == nil {
		return nil, takeError(hal.ErrLoad, msg)
	}

	lib := &library{dev: d, ptr: ptr}
	count := int(C.metal_library_function_count(ptr))
	for i := 0; i < count; i++ {
		name := C.metal_library_function_name(ptr, C.int(i))
		if name == nil {
			continue
		}
		lib.names = append(lib.names, C.GoString(name))
		C.free(unsafe.Pointer(name))
	}
	return lib, nil
}

func (l *library) FunctionNames() []string {
	return l.names
}

func (l *library) Function(name string) (hal.Function, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	ptr := C.metal_new_function(l.ptr, cname)
	if ptr == nil {
		return nil, fmt.Errorf("%w: %q", hal.ErrEntryNotFound, name)
	}
	return &function{lib: l, ptr: ptr, name: name}, nil
}

func (l *library) Release() {
	l.once.Do(func() { C.metal_release(unsafe.Pointer(l.ptr)) })
}

type function struct {
	lib  *library
	ptr  C.MetalFunction
	name string
}

func (f *function) Name() string {
	return f.name
}

type pipeline struct {
	dev        *Device
	ptr        C.MetalPipeline
	width      uint32
	maxThreads uint32
	once       sync.Once
}

// NewComputePipeline compiles fn and reads its execution width and thread
// limit.
func (d *Device) NewComputePipeline(fn hal.Function) (hal.Pipeline, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	f, ok := fn.(*function)
	if !ok || f.lib.dev != d {
		return nil, hal.ErrForeignResource
	}
	var msg *C.char
	ptr := C.metal_new_pipeline(d.ptr, f.ptr, &msg)
	if ptr == nil {
		return nil, takeError(hal.ErrPipelineBuild, msg)
	}
	return &pipeline{
		dev:        d,
		ptr:        ptr,
		width:      uint32(C.metal_pipeline_execution_width(ptr)),
		maxThreads: uint32(C.metal_pipeline_max_threads(ptr)),
	}, nil
}

func (p *pipeline) ThreadExecutionWidth() uint32 {
	return p.width
}

func (p *pipeline) MaxTotalThreadsPerThreadgroup() uint32 {
	return p.maxThreads
}

func (p *pipeline) Release() {
	p.once.Do(func() { C.metal_release(unsafe.Pointer(p.ptr)) })
}

// Buffer represents a Metal GPU buffer.
type Buffer struct {
	dev  *Device
	ptr  C.MetalBuffer
	size uint64
	mode hal.StorageMode
	once sync.Once
}

var _ hal.Buffer = (*Buffer)(nil)

func storageMode(mode hal.StorageMode) C.int {
	if mode == hal.StorageManaged {
		return C.METAL_STORAGE_MANAGED
	}
	return C.METAL_STORAGE_SHARED
}

func (d *Device) NewBuffer(length uint64, mode hal.StorageMode) (hal.Buffer, error) {
	return d.newBuffer(nil, length, mode)
}

func (d *Device) NewBufferWithBytes(data []byte, mode hal.StorageMode) (hal.Buffer, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: cannot create empty buffer", ErrBufferCreation)
	}
	return d.newBuffer(data, uint64(len(data)), mode)
}

func (d *Device) newBuffer(data []byte, length uint64, mode hal.StorageMode) (*Buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unsupported storage mode %v", ErrBufferCreation, mode)
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: cannot create empty buffer", ErrBufferCreation)
	}

	var src unsafe.Pointer
	if data != nil {
		src = C.CBytes(data)
		defer C.free(src)
	}
	var msg *C.char
	ptr := C.metal_new_buffer(d.ptr, src, C.ulong(length), storageMode(mode), &msg)
	if ptr == nil {
		return nil, takeError(hal.ErrOutOfMemory, msg)
	}
	return &Buffer{dev: d, ptr: ptr, size: length, mode: mode}, nil
}

func (b *Buffer) Length() uint64 {
	return b.size
}

func (b *Buffer) StorageMode() hal.StorageMode {
	return b.mode
}

// Contents returns the buffer's CPU-accessible memory.
func (b *Buffer) Contents() []byte {
	return unsafe.Slice((*byte)(C.metal_buffer_contents(b.ptr)), b.size)
}

func (b *Buffer) DidModifyRange(offset, length uint64) error {
	if b.mode != hal.StorageManaged || offset >= b.size {
		return nil
	}
	length = min(length, b.size-offset)
	C.metal_buffer_did_modify(b.ptr, C.ulong(offset), C.ulong(length))
	return nil
}

// Release frees the buffer resources.
func (b *Buffer) Release() {
	b.once.Do(func() { C.metal_release(unsafe.Pointer(b.ptr)) })
}

type queue struct {
	dev  *Device
	ptr  C.MetalQueue
	once sync.Once
}

func (d *Device) NewCommandQueue() (hal.CommandQueue, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	ptr := C.metal_new_queue(d.ptr)
	if ptr == nil {
		return nil, fmt.Errorf("metal: failed to create command queue")
	}
	return &queue{dev: d, ptr: ptr}, nil
}

func (q *queue) NewCommandBuffer() (hal.CommandBuffer, error) {
	if err := q.dev.usable(); err != nil {
		return nil, err
	}
	ptr := C.metal_new_command_buffer(q.ptr)
	if ptr == nil {
		return nil, fmt.Errorf("metal: failed to create command buffer")
	}
	return &commandBuffer{queue: q, ptr: ptr}, nil
}

func (q *queue) Release() {
	q.once.Do(func() { C.metal_release(unsafe.Pointer(q.ptr)) })
}

// commandBuffer encodes straight into an MTLCommandBuffer. Each dispatch
// gets its own compute encoder so Metal's hazard tracking orders them.
type commandBuffer struct {
	queue     *queue
	ptr       C.MetalCommandBuffer
	committed atomic.Bool

	waitOnce sync.Once
	err      error
}

func (cb *commandBuffer) DispatchThreads(p hal.Pipeline, bindings []hal.Binding, grid, group hal.Size) error {
	if cb.committed.Load() {
		return hal.ErrCommitted
	}
	pl, ok := p.(*pipeline)
	if !ok || pl.dev != cb.queue.dev {
		return hal.ErrForeignResource
	}
	if grid.IsZero() || group.IsZero() {
		return fmt.Errorf("metal: empty dispatch grid %v group %v", grid, group)
	}
	if group.Threads() > uint64(pl.maxThreads) {
		return fmt.Errorf("metal: group %v exceeds %d threads", group, pl.maxThreads)
	}

	n := len(bindings)
	buffers := make([]C.MetalBuffer, max(n, 1))
	offsets := make([]C.ulong, max(n, 1))
	indices := make([]C.uint, max(n, 1))
	for i, bd := range bindings {
		buf, ok := bd.Buffer.(*Buffer)
		if !ok || buf.dev != cb.queue.dev {
			return hal.ErrForeignResource
		}
		if bd.Offset >= buf.size {
			return fmt.Errorf("metal: invalid offset %d for a %d byte buffer", bd.Offset, buf.size)
		}
		buffers[i] = buf.ptr
		offsets[i] = C.ulong(bd.Offset)
		indices[i] = C.uint(bd.Index)
	}

	C.metal_encode_dispatch(cb.ptr, pl.ptr, &buffers[0], &offsets[0], &indices[0], C.int(n),
		C.ulong(grid.X), C.ulong(grid.Y), C.ulong(grid.Z),
		C.ulong(group.X), C.ulong(group.Y), C.ulong(group.Z))
	return nil
}

func (cb *commandBuffer) SynchronizeResource(b hal.Buffer) error {
	if cb.committed.Load() {
		return hal.ErrCommitted
	}
	buf, ok := b.(*Buffer)
	if !ok || buf.dev != cb.queue.dev {
		return hal.ErrForeignResource
	}
	C.metal_encode_synchronize(cb.ptr, buf.ptr)
	return nil
}

func (cb *commandBuffer) Commit() error {
	if cb.committed.Swap(true) {
		return hal.ErrCommitted
	}
	C.metal_commit(cb.ptr)
	return nil
}

// WaitUntilCompleted blocks until the GPU finished and releases the
// underlying command buffer.
func (cb *commandBuffer) WaitUntilCompleted() error {
	if !cb.committed.Load() {
		return hal.ErrNotCommitted
	}
	cb.waitOnce.Do(func() {
		var msg *C.char
		switch C.metal_wait(cb.ptr, &msg) {
		case C.METAL_WAIT_OK:
		case C.METAL_WAIT_DEVICE_LOST:
			cb.queue.dev.lost.Store(true)
			cb.err = takeError(hal.ErrDeviceLost, msg)
		case C.METAL_WAIT_OUT_OF_MEMORY:
			cb.err = takeError(hal.ErrOutOfMemory, msg)
		default:
			cb.err = takeError(ErrKernelExecution, msg)
		}
		C.metal_release(unsafe.Pointer(cb.ptr))
	})
	return cb.err
}
