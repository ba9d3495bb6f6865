package gpu

import (
	"fmt"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// Binding attaches a buffer to a kernel argument slot. ReadOnly bindings are
// not recorded as writers, so the host may read them as soon as earlier
// writers resolve.
type Binding struct {
	Index    uint32
	Buffer   *Buffer
	Offset   uint64
	ReadOnly bool
}

// Bind binds buffers to slots 0..n-1 at offset 0, all writable.
func Bind(buffers ...*Buffer) []Binding {
	out := make([]Binding, len(buffers))
	for i, b := range buffers {
		out[i] = Binding{Index: uint32(i), Buffer: b}
	}
	return out
}

// Dispatch is a recorded, not yet submitted, kernel launch.
type Dispatch struct {
	pipeline *Pipeline
	bindings []Binding
	grid     Size
	group    Size
}

// Pipeline is the pipeline the dispatch runs.
func (d *Dispatch) Pipeline() *Pipeline { return d.pipeline }

// Grid is the dispatch size in threads.
func (d *Dispatch) Grid() Size { return d.grid }

// Group is the thread group shape.
func (d *Dispatch) Group() Size { return d.group }

// GridSizeError reports a problem that does not fit the pipeline's thread
// limit. It unwraps to ErrGridSize.
type GridSizeError struct {
	Pipeline string
	// Threads is the requested thread count per group.
	Threads uint64
	Limit   uint32
	Grid    Size
	Group   Size
}

func (e *GridSizeError) Error() string {
	return fmt.Sprintf("gpu: %s: group %v needs %d threads, pipeline allows %d (grid %v)",
		e.Pipeline, e.Group, e.Threads, e.Limit, e.Grid)
}

func (e *GridSizeError) Unwrap() error { return ErrGridSize }

// Record validates and captures a dispatch of pipeline over grid threads in
// groups of shape group.
//
// Every dimension must be non-zero and the group may not exceed the
// pipeline's MaxThreadsPerGroup (GridSizeError). The grid counts threads; it
// need not be a multiple of group, kernels see partial edge groups.
func Record(pipeline *Pipeline, bindings []Binding, grid, group Size) (*Dispatch, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("%w: nil pipeline", ErrInvalidDispatch)
	}
	if grid.IsZero() || group.IsZero() {
		return nil, fmt.Errorf("%w: zero-sized grid %v or group %v", ErrInvalidDispatch, grid, group)
	}
	if threads := group.Threads(); threads > uint64(pipeline.maxThreads) {
		return nil, &GridSizeError{
			Pipeline: pipeline.name,
			Threads:  threads,
			Limit:    pipeline.maxThreads,
			Grid:     grid,
			Group:    group,
		}
	}

	seen := make(map[uint32]bool, len(bindings))
	for _, bd := range bindings {
		if bd.Buffer == nil {
			return nil, fmt.Errorf("%w: slot %d has no buffer", ErrInvalidDispatch, bd.Index)
		}
		if bd.Buffer.ctx != pipeline.ctx {
			return nil, fmt.Errorf("%w: buffer %s belongs to another context", ErrInvalidDispatch, bd.Buffer.id)
		}
		if seen[bd.Index] {
			return nil, fmt.Errorf("%w: slot %d bound twice", ErrInvalidDispatch, bd.Index)
		}
		seen[bd.Index] = true
		if bd.Offset >= bd.Buffer.length {
			return nil, fmt.Errorf("%w: offset %d past end of %d byte buffer", ErrInvalidDispatch, bd.Offset, bd.Buffer.length)
		}
	}

	return &Dispatch{
		pipeline: pipeline,
		bindings: append([]Binding(nil), bindings...),
		grid:     grid,
		group:    group,
	}, nil
}

// OneGroup sizes a 1D problem of n threads as a single group covering the
// whole grid: grid = group = (n,1,1).
//
// Problems larger than the pipeline's MaxThreadsPerGroup are rejected with a
// GridSizeError; they are never clipped or split.
func OneGroup(p *Pipeline, n int) (grid, group Size, err error) {
	if n <= 0 {
		return Size{}, Size{}, fmt.Errorf("%w: problem size %d", ErrInvalidDimensions, n)
	}
	grid = Size{X: uint32(n), Y: 1, Z: 1}
	if uint64(n) > uint64(p.maxThreads) {
		return Size{}, Size{}, &GridSizeError{
			Pipeline: p.name,
			Threads:  uint64(n),
			Limit:    p.maxThreads,
			Grid:     grid,
			Group:    grid,
		}
	}
	return grid, grid, nil
}

// SIMDGroups sizes an n x n problem as grid (n,n,1) in groups
// (w, floor(max/w), 1), with w the pipeline's execution width and max its
// thread limit. The group never exceeds the limit.
func SIMDGroups(p *Pipeline, n int) (grid, group Size, err error) {
	if n <= 0 {
		return Size{}, Size{}, fmt.Errorf("%w: problem order %d", ErrInvalidDimensions, n)
	}
	w := p.executionWidth
	h := p.maxThreads / w
	return Size{X: uint32(n), Y: uint32(n), Z: 1}, Size{X: w, Y: h, Z: 1}, nil
}

func (d *Dispatch) halBindings() []hal.Binding {
	out := make([]hal.Binding, len(d.bindings))
	for i, bd := range d.bindings {
		out[i] = hal.Binding{Index: bd.Index, Buffer: bd.Buffer.hb, Offset: bd.Offset}
	}
	return out
}
