package gpu

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// KernelLibrary is a loaded, immutable set of named kernel entries.
//
// The device library lives until its owner lets go and every pipeline built
// from it is released. The owner is the Context for cached libraries and the
// caller otherwise.
type KernelLibrary struct {
	ctx    *Context
	lib    hal.Library
	digest digest
	names  []string
	cached atomic.Bool

	mu      sync.Mutex
	refs    int
	dropped bool
}

func newKernelLibrary(c *Context, hl hal.Library, sum digest) *KernelLibrary {
	return &KernelLibrary{ctx: c, lib: hl, digest: sum, names: hl.FunctionNames(), refs: 1}
}

// Names lists the entry points in the library.
func (l *KernelLibrary) Names() []string {
	return slices.Clone(l.names)
}

// Digest is a short hex prefix of the library's BLAKE2b-256 digest.
func (l *KernelLibrary) Digest() string {
	return l.digest.String()
}

// Entry looks up a kernel entry by name. Returns ErrEntryNotFound when the
// library has no such entry.
func (l *KernelLibrary) Entry(name string) (*KernelEntry, error) {
	l.mu.Lock()
	dropped := l.dropped
	l.mu.Unlock()
	if dropped {
		return nil, fmt.Errorf("%w: library %s", ErrReleased, l.Digest())
	}
	fn, err := l.lib.Function(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q in library %s (have %v)", ErrEntryNotFound, name, l.Digest(), l.names)
	}
	return &KernelEntry{library: l, fn: fn, name: name}, nil
}

// Release lets go of a library the caller owns, one returned by LoadLibrary
// with caching off. Pipelines already built from it keep working. Cached
// libraries belong to the Context and Release leaves them alone.
func (l *KernelLibrary) Release() {
	if l.cached.Load() {
		return
	}
	l.drop()
}

// drop gives up the owner's reference.
func (l *KernelLibrary) drop() {
	l.mu.Lock()
	if l.dropped {
		l.mu.Unlock()
		return
	}
	l.dropped = true
	l.mu.Unlock()
	l.unref()
}

// retain takes a reference for a pipeline. It fails once the owner has let
// go, since the device library may already be gone.
func (l *KernelLibrary) retain() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dropped {
		return fmt.Errorf("%w: library %s", ErrReleased, l.Digest())
	}
	l.refs++
	return nil
}

func (l *KernelLibrary) unref() {
	l.mu.Lock()
	l.refs--
	last := l.refs == 0
	l.mu.Unlock()
	if last {
		l.lib.Release()
		Logger().Debug("gpu library released", "digest", l.Digest())
	}
}

// KernelEntry is a named entry of a KernelLibrary.
type KernelEntry struct {
	library *KernelLibrary
	fn      hal.Function
	name    string
}

// Name is the entry point name.
func (e *KernelEntry) Name() string {
	return e.name
}

// Pipeline is a compiled compute pipeline for one kernel entry. Its limits
// are specific to the device and the kernel and are read-only.
type Pipeline struct {
	ctx            *Context
	name           string
	state          hal.Pipeline
	library        *KernelLibrary
	executionWidth uint32
	maxThreads     uint32
	cached         atomic.Bool

	// mu orders Submit against release so no submission is noted after
	// release has collected the pending ones.
	mu       sync.Mutex
	released bool
	uses     useSet
}

// Name is the kernel entry the pipeline runs.
func (p *Pipeline) Name() string {
	return p.name
}

// ExecutionWidth is the number of threads the hardware runs in lockstep
// (SIMD group, warp, subgroup).
func (p *Pipeline) ExecutionWidth() uint32 {
	return p.executionWidth
}

// MaxThreadsPerGroup is the largest number of threads one group of this
// pipeline may have.
func (p *Pipeline) MaxThreadsPerGroup() uint32 {
	return p.maxThreads
}

// Release frees a pipeline the caller owns, one returned by BuildPipeline or
// by Pipeline with caching off. Cached pipelines belong to the Context and
// Release leaves them alone.
func (p *Pipeline) Release() {
	if p.cached.Load() {
		return
	}
	p.release()
}

// release refuses further submissions and frees the device pipeline, and its
// hold on the library, once every submission using it has resolved.
func (p *Pipeline) release() {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return
	}
	p.released = true
	p.mu.Unlock()

	p.uses.whenIdle(p.ctx, func() {
		p.state.Release()
		p.library.unref()
	})
}
