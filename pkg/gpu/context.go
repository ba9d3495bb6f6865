package gpu

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
	"golang.org/x/crypto/blake2b"
)

type digest [blake2b.Size256]byte

func (d digest) String() string {
	return hex.EncodeToString(d[:8])
}

// pipelineKey identifies a cached pipeline. The device part keeps entries
// from two contexts on different devices apart if a cache is ever shared.
type pipelineKey struct {
	device  string
	library digest
	entry   string
}

// Context threads one device through every operation and owns the state
// that outlives a single operation: the library and pipeline caches and the
// default command queue.
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Context struct {
	device hal.Device
	info   DeviceInfo
	config *Config
	key    string
	owned  bool

	mu        sync.Mutex
	libraries map[digest]*KernelLibrary
	pipelines map[pipelineKey]*Pipeline
	queue     *CommandQueue
	closed    bool
	// holds counts deferred releases still waiting on submissions. An owned
	// device is released after Close only once it reaches zero.
	holds          int
	deviceReleased bool

	// inflight holds every queue's latest submission.
	inflight useSet

	stats statsCounters
}

// NewContext wraps an already opened device. The caller keeps ownership of
// dev: Close does not release it.
func NewContext(dev hal.Device, config *Config) *Context {
	if config == nil {
		config = DefaultConfig()
	}
	info := deviceInfoFrom(dev.Info())
	return &Context{
		device:    dev,
		info:      info,
		config:    config,
		key:       fmt.Sprintf("%s/%d/%s", info.Backend, info.ID, info.Name),
		libraries: make(map[digest]*KernelLibrary),
		pipelines: make(map[pipelineKey]*Pipeline),
	}
}

// Device describes the context's device.
func (c *Context) Device() DeviceInfo {
	return c.info
}

// KernelFormat is the blob format the device loads.
func (c *Context) KernelFormat() hal.KernelFormat {
	return c.device.KernelFormat()
}

// Stats returns a snapshot of the context counters.
func (c *Context) Stats() Stats {
	return c.stats.snapshot()
}

func (c *Context) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrContextClosed
	}
	return nil
}

// LoadLibrary parses a precompiled kernel library blob.
//
// Returns ErrLoad if the blob is not a valid library for the device. With
// pipeline caching on, loading the same bytes twice returns the same
// library. With it off the caller owns the library and must Release it.
func (c *Context) LoadLibrary(blob []byte) (*KernelLibrary, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	sum := digest(blake2b.Sum256(blob))

	if c.config.CachePipelines {
		c.mu.Lock()
		lib, ok := c.libraries[sum]
		c.mu.Unlock()
		if ok {
			return lib, nil
		}
	}

	hl, err := c.device.NewLibrary(blob)
	if err != nil {
		if !errors.Is(err, ErrLoad) {
			err = fmt.Errorf("%w: %w", ErrLoad, err)
		}
		return nil, err
	}
	lib := newKernelLibrary(c, hl, sum)
	c.stats.librariesLoaded.Add(1)
	Logger().Debug("gpu library loaded", "digest", sum.String(), "entries", lib.names)

	if c.config.CachePipelines {
		c.mu.Lock()
		if cached, ok := c.libraries[sum]; ok {
			c.mu.Unlock()
			hl.Release()
			return cached, nil
		}
		lib.cached.Store(true)
		c.libraries[sum] = lib
		c.mu.Unlock()
	}
	return lib, nil
}

// BuildPipeline compiles entry into a pipeline for the context's device and
// queries its execution width and thread limit. It never consults the cache.
// The pipeline keeps entry's library alive until it is released.
func (c *Context) BuildPipeline(entry *KernelEntry) (*Pipeline, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if entry == nil || entry.library.ctx != c {
		return nil, fmt.Errorf("%w: entry does not belong to this context", ErrPipelineBuild)
	}
	lib := entry.library
	if err := lib.retain(); err != nil {
		return nil, err
	}
	state, err := c.device.NewComputePipeline(entry.fn)
	if err != nil {
		lib.unref()
		if !errors.Is(err, ErrPipelineBuild) {
			err = fmt.Errorf("%w: %w", ErrPipelineBuild, err)
		}
		return nil, err
	}
	p := &Pipeline{
		ctx:            c,
		name:           entry.name,
		state:          state,
		library:        lib,
		executionWidth: state.ThreadExecutionWidth(),
		maxThreads:     state.MaxTotalThreadsPerThreadgroup(),
	}
	if p.executionWidth == 0 || p.maxThreads == 0 || p.executionWidth > p.maxThreads {
		state.Release()
		lib.unref()
		return nil, fmt.Errorf("%w: %s reports width %d and %d max threads",
			ErrPipelineBuild, entry.name, p.executionWidth, p.maxThreads)
	}
	c.stats.pipelinesBuilt.Add(1)
	Logger().Debug("gpu pipeline built",
		"entry", p.name, "execution_width", p.executionWidth, "max_threads", p.maxThreads)
	return p, nil
}

// Pipeline returns the pipeline for entry name of the library in blob,
// building it on first use.
//
// With CachePipelines off every call loads and builds afresh, and the
// returned pipeline owns its library: releasing the pipeline frees both.
func (c *Context) Pipeline(blob []byte, name string) (*Pipeline, error) {
	key := pipelineKey{device: c.key, library: blake2b.Sum256(blob), entry: name}

	if c.config.CachePipelines {
		c.mu.Lock()
		p, ok := c.pipelines[key]
		c.mu.Unlock()
		if ok {
			c.stats.pipelineCacheHits.Add(1)
			Logger().Debug("gpu pipeline cache hit", "entry", name, "library", key.library.String())
			return p, nil
		}
	}

	lib, err := c.LoadLibrary(blob)
	if err != nil {
		return nil, err
	}
	// The pipeline holds its own reference; an uncached library has no
	// other owner.
	defer lib.Release()
	entry, err := lib.Entry(name)
	if err != nil {
		return nil, err
	}
	p, err := c.BuildPipeline(entry)
	if err != nil {
		return nil, err
	}

	if c.config.CachePipelines {
		c.mu.Lock()
		if cached, ok := c.pipelines[key]; ok {
			c.mu.Unlock()
			p.release()
			return cached, nil
		}
		p.cached.Store(true)
		c.pipelines[key] = p
		c.mu.Unlock()
	}
	return p, nil
}

// InvalidatePipelines drops every cached library and pipeline. It runs
// automatically when the device reports loss.
//
// Dropped pipelines refuse new submissions at once. Their device objects are
// freed after the submissions already using them resolve.
func (c *Context) InvalidatePipelines() {
	c.mu.Lock()
	libs, pipes := c.libraries, c.pipelines
	c.libraries = make(map[digest]*KernelLibrary)
	c.pipelines = make(map[pipelineKey]*Pipeline)
	c.mu.Unlock()

	for _, p := range pipes {
		p.release()
	}
	for _, l := range libs {
		l.drop()
	}
}

func (c *Context) deviceLost(err error) {
	c.stats.deviceLosses.Add(1)
	Logger().Warn("gpu device lost, dropping cached pipelines", "device", c.info.Name, "error", err)
	c.InvalidatePipelines()
}

// NewCommandQueue creates an independent FIFO queue. There is no ordering
// between queues.
func (c *Context) NewCommandQueue() (*CommandQueue, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	q, err := c.device.NewCommandQueue()
	if err != nil {
		return nil, fmt.Errorf("gpu: create command queue: %w", err)
	}
	return newCommandQueue(c, q), nil
}

// Queue returns the context's default queue, creating it on first use.
func (c *Context) Queue() (*CommandQueue, error) {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q != nil {
		return q, nil
	}

	q, err := c.NewCommandQueue()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue != nil {
		q.Release()
		return c.queue, nil
	}
	c.queue = q
	return q, nil
}

// Allocate creates a zero-filled buffer of length bytes.
func (c *Context) Allocate(length uint64, mode StorageMode) (*Buffer, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkAllocation(length, mode); err != nil {
		return nil, err
	}
	hb, err := c.device.NewBuffer(length, mode)
	if err != nil {
		return nil, fmt.Errorf("gpu: allocate %d bytes (%s): %w", length, mode, err)
	}
	return c.newBuffer(hb, "")
}

// AllocateFrom creates a buffer holding a copy of view's bytes.
func (c *Context) AllocateFrom(view ByteView, mode StorageMode) (*Buffer, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if err := checkAllocation(uint64(view.Len()), mode); err != nil {
		return nil, err
	}
	hb, err := c.device.NewBufferWithBytes(view.Bytes(), mode)
	if err != nil {
		return nil, fmt.Errorf("gpu: allocate %d bytes (%s): %w", view.Len(), mode, err)
	}
	return c.newBuffer(hb, view.ElementType())
}

func checkAllocation(length uint64, mode StorageMode) error {
	if length == 0 {
		return fmt.Errorf("%w: zero length", ErrInvalidBuffer)
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: storage mode %v", ErrInvalidBuffer, mode)
	}
	return nil
}

func (c *Context) hold() {
	c.mu.Lock()
	c.holds++
	c.mu.Unlock()
}

func (c *Context) unhold() {
	c.mu.Lock()
	c.holds--
	release := c.holds == 0 && c.closed && c.owned && !c.deviceReleased
	if release {
		c.deviceReleased = true
	}
	c.mu.Unlock()
	if release {
		c.device.Release()
		Logger().Debug("gpu device released", "device", c.info.Name)
	}
}

// Close releases cached pipelines, libraries and the default queue. The
// device is released only if the context opened it.
//
// Close does not wait. Submitted work runs to completion, and what it uses
// is freed as it resolves; an owned device goes last. Buffers the caller
// still holds should be released before Close.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	q := c.queue
	c.queue = nil
	c.mu.Unlock()

	if q != nil {
		q.Release()
	}
	c.InvalidatePipelines()
	c.hold()
	c.inflight.whenIdle(c, c.unhold)
	return nil
}
