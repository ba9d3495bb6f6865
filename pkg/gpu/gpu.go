// Package gpu is a small GPU compute dispatch layer.
//
// It loads precompiled kernel libraries, builds compute pipelines, allocates
// device-visible buffers, records and submits thread-granular dispatches, and
// reads results back to host memory once they are visible there.
//
// Architecture:
//   - A Context owns one Device for its whole life, plus the pipeline cache
//     and the default command queue. Nothing looks the device up globally.
//   - Buffers are either Shared (one allocation both sides see) or Managed
//     (host and device copies that meet only through a synchronize pass).
//   - Every submission returns a CompletionToken. Tokens of one queue resolve
//     in submission order. Waiting on a token is the only blocking call.
//   - The host may not read a buffer while a dispatch that writes it is in
//     flight, nor read a Managed buffer before synchronizing it.
//
// Example Usage:
//
//	ctx, err := gpu.Open(gpu.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	out, err := ctx.DotProduct(context.Background(),
//		[]uint32{3, 4, 1, 7, 10, 20},
//		[]uint32{2, 5, 6, 9, 5, 10})
//	// out == [6 20 6 63 50 200]
//
// Lower level, the same operation step by step:
//
//	p, err := ctx.Pipeline(blob, "dot_product")
//	grid, group, err := gpu.OneGroup(p, len(v))      // GridSizeError if too big
//	a, _ := ctx.AllocateFrom(gpu.ViewOf(v), gpu.StorageShared)
//	b, _ := ctx.AllocateFrom(gpu.ViewOf(w), gpu.StorageShared)
//	out, _ := ctx.Allocate(uint64(4*len(v)), gpu.StorageShared)
//	d, err := gpu.Record(p, gpu.Bind(a, b, out), grid, group)
//	q, err := ctx.Queue()
//	tok, err := q.Submit(d)
//	err = tok.Wait(context.Background())
//	result, err := gpu.Read[uint32](out, len(v))
//
// Supported Backends:
//
//  1. **Metal** (macOS): consumes metallib blobs through a cgo bridge.
//  2. **Vulkan** (Linux, Windows): consumes SPIR-V, loaded at runtime with
//     purego so no SDK is needed to build.
//  3. **Soft** (everywhere): a software device that runs the bundled kernels
//     in Go. Used as the fallback and by the tests.
//
// Errors:
//
// Load, entry lookup, pipeline build, grid sizing and read size problems are
// reported with the sentinels ErrLoad, ErrEntryNotFound, ErrPipelineBuild,
// ErrGridSize and ErrSizeMismatch. None are retried. Use errors.Is.
package gpu

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
	"github.com/orneryd/gpudispatch/pkg/gpu/metal"
	"github.com/orneryd/gpudispatch/pkg/gpu/soft"
	"github.com/orneryd/gpudispatch/pkg/gpu/vulkan"
)

// Errors
var (
	ErrLoad          = hal.ErrLoad
	ErrEntryNotFound = hal.ErrEntryNotFound
	ErrPipelineBuild = hal.ErrPipelineBuild
	ErrDeviceLost    = hal.ErrDeviceLost
	ErrOutOfMemory   = hal.ErrOutOfMemory
	ErrReleased      = hal.ErrReleased

	ErrGridSize          = errors.New("gpu: grid exceeds pipeline thread limit")
	ErrSizeMismatch      = errors.New("gpu: read exceeds buffer length")
	ErrGPUNotAvailable   = errors.New("gpu: no compatible GPU found")
	ErrInvalidDimensions = errors.New("gpu: invalid dimensions")
	ErrInvalidDispatch   = errors.New("gpu: invalid dispatch")
	ErrInvalidBuffer     = errors.New("gpu: invalid buffer")
	ErrBufferInFlight    = errors.New("gpu: buffer has a pending writer")
	ErrNotSynchronized   = errors.New("gpu: managed buffer not synchronized since last device write")
	ErrContextClosed     = errors.New("gpu: context closed")
)

// StorageMode re-exports hal.StorageMode.
type StorageMode = hal.StorageMode

const (
	StorageShared  = hal.StorageShared
	StorageManaged = hal.StorageManaged
)

// Size is a 3D extent; for grids it counts threads.
type Size = hal.Size

// Backend represents the GPU compute backend.
type Backend string

const (
	BackendAuto   Backend = "auto"   // platform default, then soft fallback
	BackendMetal  Backend = "metal"  // Apple
	BackendVulkan Backend = "vulkan" // Cross-platform compute
	BackendSoft   Backend = "soft"   // Software device
)

// ParseBackend maps a name to a Backend.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendMetal, BackendVulkan, BackendSoft:
		return b, nil
	default:
		return "", fmt.Errorf("gpu: unknown backend %q", s)
	}
}

// Config holds device selection options.
//
// Example:
//
//	config := gpu.DefaultConfig()
//	config.Backend = gpu.BackendVulkan
//	config.DeviceID = 1
//	config.FallbackOnError = false // fail instead of using the soft device
type Config struct {
	// Backend is tried first. BackendAuto picks the platform default.
	Backend Backend

	// DeviceID selects a specific GPU on multi-GPU systems.
	DeviceID int

	// FallbackOnError uses the software device when no GPU backend opens.
	FallbackOnError bool

	// CachePipelines keeps built pipelines and loaded libraries in the
	// Context, keyed by device, library digest and kernel name.
	CachePipelines bool

	// Soft configures the software device.
	Soft soft.Config
}

// DefaultConfig returns automatic backend selection with software fallback
// and pipeline caching on.
func DefaultConfig() *Config {
	return &Config{
		Backend:         BackendAuto,
		DeviceID:        0,
		FallbackOnError: true,
		CachePipelines:  true,
		Soft:            soft.DefaultConfig(),
	}
}

// DeviceInfo contains information about a compute device.
type DeviceInfo struct {
	ID           int
	Name         string
	Vendor       string
	Backend      Backend
	MemoryMB     int
	MaxWorkGroup int
	Available    bool
}

func deviceInfoFrom(info hal.DeviceInfo) DeviceInfo {
	return DeviceInfo{
		ID:           info.ID,
		Name:         info.Name,
		Vendor:       info.Vendor,
		Backend:      Backend(info.Backend),
		MemoryMB:     int(info.MemoryBytes / (1024 * 1024)),
		MaxWorkGroup: int(info.MaxThreadsPerGroup),
		Available:    true,
	}
}

// Stats tracks Context activity.
type Stats struct {
	LibrariesLoaded   int64
	PipelinesBuilt    int64
	PipelineCacheHits int64
	Dispatches        int64
	Synchronizations  int64
	BytesAllocated    int64
	DeviceLosses      int64
}

type statsCounters struct {
	librariesLoaded   atomic.Int64
	pipelinesBuilt    atomic.Int64
	pipelineCacheHits atomic.Int64
	dispatches        atomic.Int64
	synchronizations  atomic.Int64
	bytesAllocated    atomic.Int64
	deviceLosses      atomic.Int64
}

func (s *statsCounters) snapshot() Stats {
	return Stats{
		LibrariesLoaded:   s.librariesLoaded.Load(),
		PipelinesBuilt:    s.pipelinesBuilt.Load(),
		PipelineCacheHits: s.pipelineCacheHits.Load(),
		Dispatches:        s.dispatches.Load(),
		Synchronizations:  s.synchronizations.Load(),
		BytesAllocated:    s.bytesAllocated.Load(),
		DeviceLosses:      s.deviceLosses.Load(),
	}
}

// Open selects a device and returns a Context that owns it.
//
// Backends are tried in order: Preferred -> platform default (Metal on
// darwin, Vulkan elsewhere) -> soft when FallbackOnError is set.
func Open(config *Config) (*Context, error) {
	if config == nil {
		config = DefaultConfig()
	}
	dev, err := detectDevice(config)
	if err != nil {
		return nil, err
	}
	c := NewContext(dev, config)
	c.owned = true
	Logger().Info("gpu device selected",
		"backend", c.info.Backend, "device", c.info.Name, "max_threads", c.info.MaxWorkGroup)
	return c, nil
}

// detectDevice opens the first backend that works.
func detectDevice(config *Config) (hal.Device, error) {
	if config.Backend == BackendSoft {
		return soft.NewDevice(config.Soft)
	}

	var backends []Backend
	if config.Backend != "" && config.Backend != BackendAuto {
		backends = append(backends, config.Backend)
	}
	switch runtime.GOOS {
	case "darwin":
		backends = append(backends, BackendMetal)
	default:
		backends = append(backends, BackendVulkan)
	}

	var lastErr error
	for _, backend := range backends {
		dev, err := openBackend(backend, config.DeviceID)
		if err == nil {
			return dev, nil
		}
		Logger().Warn("gpu backend unavailable", "backend", backend, "error", err)
		lastErr = err
	}

	if config.FallbackOnError {
		Logger().Warn("gpu falling back to software device")
		return soft.NewDevice(config.Soft)
	}
	switch {
	case lastErr == nil:
		return nil, ErrGPUNotAvailable
	case errors.Is(lastErr, ErrGPUNotAvailable):
		return nil, lastErr
	default:
		return nil, fmt.Errorf("%w: %w", ErrGPUNotAvailable, lastErr)
	}
}

// openBackend opens one hardware backend.
func openBackend(backend Backend, deviceID int) (hal.Device, error) {
	switch backend {
	case BackendMetal:
		if runtime.GOOS != "darwin" || !metal.IsAvailable() {
			return nil, ErrGPUNotAvailable
		}
		return metal.NewDevice()
	case BackendVulkan:
		if !vulkan.IsAvailable() {
			return nil, ErrGPUNotAvailable
		}
		count := vulkan.DeviceCount()
		if count == 0 {
			return nil, ErrGPUNotAvailable
		}
		if err := checkDeviceIndex(deviceID, count); err != nil {
			return nil, err
		}
		return vulkan.NewDevice(deviceID)
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrGPUNotAvailable, backend)
	}
}

// checkDeviceIndex rejects a device index the backend does not have rather
// than silently picking another GPU.
func checkDeviceIndex(id, count int) error {
	if id < 0 || id >= count {
		return fmt.Errorf("%w: device %d out of range, found %d", ErrGPUNotAvailable, id, count)
	}
	return nil
}

// ListDevices probes every backend and describes what it finds. The
// software device is always listed last.
func ListDevices(config *Config) []DeviceInfo {
	if config == nil {
		config = DefaultConfig()
	}
	var out []DeviceInfo

	if dev, err := openBackend(BackendMetal, 0); err == nil {
		out = append(out, deviceInfoFrom(dev.Info()))
		dev.Release()
	} else {
		out = append(out, DeviceInfo{Backend: BackendMetal, Name: err.Error()})
	}

	if vulkan.IsAvailable() && vulkan.DeviceCount() > 0 {
		for id := 0; id < vulkan.DeviceCount(); id++ {
			dev, err := vulkan.NewDevice(id)
			if err != nil {
				out = append(out, DeviceInfo{ID: id, Backend: BackendVulkan, Name: err.Error()})
				continue
			}
			out = append(out, deviceInfoFrom(dev.Info()))
			dev.Release()
		}
	} else {
		out = append(out, DeviceInfo{Backend: BackendVulkan, Name: ErrGPUNotAvailable.Error()})
	}

	if dev, err := soft.NewDevice(config.Soft); err == nil {
		out = append(out, deviceInfoFrom(dev.Info()))
		dev.Release()
	} else {
		out = append(out, DeviceInfo{Backend: BackendSoft, Name: err.Error()})
	}
	return out
}
