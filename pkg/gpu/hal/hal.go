// Package hal defines the backend-neutral device interfaces implemented by
// the soft, Vulkan and Metal backends.
//
// The types here are deliberately thin: a Device hands out libraries,
// pipelines, buffers and queues, and a CommandBuffer records thread-granular
// dispatches plus the copy-back passes Managed buffers need before the host
// may read them. Ordering, buffer hazards and result decoding live one level
// up in package gpu.
package hal

import (
	"errors"
	"fmt"
)

// Errors shared by every backend. Package gpu re-exports these so callers can
// use errors.Is without importing hal.
var (
	ErrLoad            = errors.New("gpu: kernel library load failed")
	ErrEntryNotFound   = errors.New("gpu: kernel entry not found")
	ErrPipelineBuild   = errors.New("gpu: pipeline build failed")
	ErrDeviceLost      = errors.New("gpu: device lost")
	ErrOutOfMemory     = errors.New("gpu: out of GPU memory")
	ErrCommitted       = errors.New("gpu: command buffer already committed")
	ErrNotCommitted    = errors.New("gpu: command buffer not committed")
	ErrForeignResource = errors.New("gpu: resource belongs to another device")
	ErrReleased        = errors.New("gpu: resource released")
)

// StorageMode decides where a buffer's bytes live and who keeps them coherent.
type StorageMode int

const (
	// StorageShared buffers use one allocation visible to host and device.
	// Host reads after a dispatch completes need no further action.
	StorageShared StorageMode = iota
	// StorageManaged buffers keep a host copy and a device copy. Device writes
	// reach the host copy only after a synchronize pass resolves.
	StorageManaged
)

func (m StorageMode) String() string {
	switch m {
	case StorageShared:
		return "shared"
	case StorageManaged:
		return "managed"
	default:
		return fmt.Sprintf("StorageMode(%d)", int(m))
	}
}

// Valid reports whether m is a known storage mode.
func (m StorageMode) Valid() bool {
	return m == StorageShared || m == StorageManaged
}

// KernelFormat names the precompiled blob format a device consumes.
type KernelFormat string

const (
	FormatSPIRV    KernelFormat = "spirv"
	FormatMetalLib KernelFormat = "metallib"
)

// Size is a 3D extent. For grids it counts threads, not groups.
type Size struct {
	X, Y, Z uint32
}

// Threads returns X*Y*Z.
func (s Size) Threads() uint64 {
	return uint64(s.X) * uint64(s.Y) * uint64(s.Z)
}

// IsZero reports whether any dimension is zero.
func (s Size) IsZero() bool {
	return s.X == 0 || s.Y == 0 || s.Z == 0
}

func (s Size) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.X, s.Y, s.Z)
}

// GroupsFor returns how many groups of shape s cover grid, rounding up on
// every axis so partial edge groups are included.
func (s Size) GroupsFor(grid Size) Size {
	return Size{
		X: ceilDiv(grid.X, s.X),
		Y: ceilDiv(grid.Y, s.Y),
		Z: ceilDiv(grid.Z, s.Z),
	}
}

func ceilDiv(a, b uint32) uint32 {
	if b == 0 {
		return 0
	}
	return uint32((uint64(a) + uint64(b) - 1) / uint64(b))
}

// Binding attaches a buffer to a kernel argument slot.
type Binding struct {
	Index  uint32
	Buffer Buffer
	Offset uint64
}

// DeviceInfo describes a compute device.
type DeviceInfo struct {
	ID                 int
	Name               string
	Vendor             string
	Backend            string
	MemoryBytes        uint64
	MaxThreadsPerGroup uint32
}

// Device is a compute device. A process selects one and threads it through
// explicitly.
type Device interface {
	Info() DeviceInfo
	KernelFormat() KernelFormat
	NewLibrary(blob []byte) (Library, error)
	NewComputePipeline(fn Function) (Pipeline, error)
	NewBuffer(length uint64, mode StorageMode) (Buffer, error)
	NewBufferWithBytes(data []byte, mode StorageMode) (Buffer, error)
	NewCommandQueue() (CommandQueue, error)
	Release()
}

// Library is a loaded kernel library.
type Library interface {
	FunctionNames() []string
	Function(name string) (Function, error)
	Release()
}

// Function is one entry point of a Library.
type Function interface {
	Name() string
}

// Pipeline is a compiled compute pipeline for one Function.
type Pipeline interface {
	// ThreadExecutionWidth is the number of threads the hardware schedules
	// together (SIMD group, warp or subgroup).
	ThreadExecutionWidth() uint32
	// MaxTotalThreadsPerThreadgroup is the largest group this pipeline can
	// launch.
	MaxTotalThreadsPerThreadgroup() uint32
	Release()
}

// Buffer is a device-visible allocation.
type Buffer interface {
	Length() uint64
	StorageMode() StorageMode
	// Contents is the host view. For Managed buffers it is the host copy and
	// may be stale until a synchronize pass completes.
	Contents() []byte
	// DidModifyRange tells the device the host changed [offset, offset+length).
	// No-op for Shared buffers. A non-nil error means the device copy may
	// not reflect the write.
	DidModifyRange(offset, length uint64) error
	Release()
}

// CommandQueue hands out command buffers that complete in commit order.
type CommandQueue interface {
	NewCommandBuffer() (CommandBuffer, error)
	Release()
}

// CommandBuffer records work, is committed once and can be waited on.
type CommandBuffer interface {
	DispatchThreads(p Pipeline, bindings []Binding, grid, group Size) error
	SynchronizeResource(b Buffer) error
	Commit() error
	// WaitUntilCompleted blocks until the GPU finished this buffer and
	// returns the execution error, if any.
	WaitUntilCompleted() error
}
