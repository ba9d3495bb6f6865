// Package soft implements a software compute device.
//
// The device consumes SPIR-V libraries and runs each entry point through a
// Go implementation registered under the same name. It models the memory
// behaviour of discrete GPUs closely enough to exercise the host side of a
// dispatch layer: Managed buffers keep separate host and device copies that
// only meet through DidModifyRange (host to device) and a synchronize pass
// (device to host), and every queue completes its command buffers in commit
// order on its own goroutine.
//
// Example:
//
//	dev, err := soft.NewDevice(soft.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer dev.Release()
package soft

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// BackendName is reported in DeviceInfo.Backend.
const BackendName = "soft"

// Config configures a software device.
type Config struct {
	Name string
	// ExecutionWidth is the reported SIMD group width.
	ExecutionWidth uint32
	// MaxThreadsPerGroup caps every pipeline's group size.
	MaxThreadsPerGroup uint32
	// Workers is the number of goroutines executing thread groups.
	Workers int
	// MemoryLimit caps total live allocation in bytes. Zero means unlimited.
	MemoryLimit uint64
}

// DefaultConfig returns a device shaped like a common desktop GPU.
func DefaultConfig() Config {
	return Config{
		Name:               "Software Compute Device",
		ExecutionWidth:     32,
		MaxThreadsPerGroup: 1024,
		Workers:            runtime.GOMAXPROCS(0),
	}
}

// Device is a software compute device. Safe for concurrent use.
type Device struct {
	cfg Config

	mu      sync.RWMutex
	kernels map[string]Kernel

	allocated atomic.Uint64
	lost      atomic.Bool
	released  atomic.Bool
}

var _ hal.Device = (*Device)(nil)

// NewDevice creates a device with the built-in kernels registered.
func NewDevice(cfg Config) (*Device, error) {
	if cfg.ExecutionWidth == 0 || cfg.MaxThreadsPerGroup == 0 {
		return nil, fmt.Errorf("soft: execution width and max threads must be positive (got %d, %d)",
			cfg.ExecutionWidth, cfg.MaxThreadsPerGroup)
	}
	if cfg.ExecutionWidth > cfg.MaxThreadsPerGroup {
		return nil, fmt.Errorf("soft: execution width %d exceeds max threads per group %d",
			cfg.ExecutionWidth, cfg.MaxThreadsPerGroup)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Name == "" {
		cfg.Name = DefaultConfig().Name
	}
	d := &Device{cfg: cfg, kernels: make(map[string]Kernel)}
	for _, k := range builtinKernels() {
		d.kernels[k.Name] = k
	}
	return d, nil
}

// Config returns the device configuration.
func (d *Device) Config() Config {
	return d.cfg
}

// Info describes the device.
func (d *Device) Info() hal.DeviceInfo {
	return hal.DeviceInfo{
		Name:               d.cfg.Name,
		Vendor:             "gpudispatch",
		Backend:            BackendName,
		MemoryBytes:        d.cfg.MemoryLimit,
		MaxThreadsPerGroup: d.cfg.MaxThreadsPerGroup,
	}
}

// KernelFormat is always SPIR-V.
func (d *Device) KernelFormat() hal.KernelFormat {
	return hal.FormatSPIRV
}

// RegisterKernel adds or replaces the implementation run for an entry point
// name. Pipelines already built keep the previous implementation.
func (d *Device) RegisterKernel(k Kernel) error {
	if k.Name == "" || k.Run == nil {
		return fmt.Errorf("soft: kernel needs a name and a body")
	}
	d.mu.Lock()
	d.kernels[k.Name] = k
	d.mu.Unlock()
	return nil
}

func (d *Device) kernel(name string) (Kernel, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k, ok := d.kernels[name]
	return k, ok
}

// NewLibrary parses a SPIR-V blob.
func (d *Device) NewLibrary(blob []byte) (hal.Library, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	mod, err := hal.ParseSPIRV(blob)
	if err != nil {
		return nil, err
	}
	return &library{dev: d, module: mod}, nil
}

// NewComputePipeline binds fn to its Go implementation.
func (d *Device) NewComputePipeline(fn hal.Function) (hal.Pipeline, error) {
	if err := d.usable(); err != nil {
		return nil, fmt.Errorf("%w: %w", hal.ErrPipelineBuild, err)
	}
	f, ok := fn.(*function)
	if !ok || f.lib.dev != d {
		return nil, fmt.Errorf("%w: %w", hal.ErrPipelineBuild, hal.ErrForeignResource)
	}
	k, ok := d.kernel(f.entry.Name)
	if !ok {
		return nil, fmt.Errorf("%w: no implementation for entry %q on %s", hal.ErrPipelineBuild, f.entry.Name, d.cfg.Name)
	}
	maxThreads := d.cfg.MaxThreadsPerGroup
	if k.MaxThreadsPerGroup > 0 && k.MaxThreadsPerGroup < maxThreads {
		maxThreads = k.MaxThreadsPerGroup
	}
	width := d.cfg.ExecutionWidth
	if width > maxThreads {
		width = maxThreads
	}
	return &pipeline{dev: d, kernel: k, width: width, maxThreads: maxThreads}, nil
}

// NewBuffer allocates a zeroed buffer.
func (d *Device) NewBuffer(length uint64, mode hal.StorageMode) (hal.Buffer, error) {
	return d.newBuffer(length, mode, nil)
}

// NewBufferWithBytes allocates a buffer holding a copy of data.
func (d *Device) NewBufferWithBytes(data []byte, mode hal.StorageMode) (hal.Buffer, error) {
	return d.newBuffer(uint64(len(data)), mode, data)
}

// NewCommandQueue starts a queue worker.
func (d *Device) NewCommandQueue() (hal.CommandQueue, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	return newQueue(d), nil
}

// Lose marks the device as lost. Every later commit and every command still
// waiting to execute fails with hal.ErrDeviceLost.
func (d *Device) Lose() {
	d.lost.Store(true)
}

// Allocated is the number of bytes held by live buffers.
func (d *Device) Allocated() uint64 {
	return d.allocated.Load()
}

// Release marks the device unusable.
func (d *Device) Release() {
	d.released.Store(true)
}

func (d *Device) usable() error {
	if d.released.Load() {
		return hal.ErrReleased
	}
	if d.lost.Load() {
		return hal.ErrDeviceLost
	}
	return nil
}

func (d *Device) reserve(n uint64) error {
	if d.cfg.MemoryLimit == 0 {
		d.allocated.Add(n)
		return nil
	}
	for {
		cur := d.allocated.Load()
		if cur+n > d.cfg.MemoryLimit {
			return fmt.Errorf("%w: %d bytes requested, %d of %d in use", hal.ErrOutOfMemory, n, cur, d.cfg.MemoryLimit)
		}
		if d.allocated.CompareAndSwap(cur, cur+n) {
			return nil
		}
	}
}

func (d *Device) unreserve(n uint64) {
	d.allocated.Add(^(n - 1))
}
