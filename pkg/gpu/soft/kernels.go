package soft

import (
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
	"github.com/orneryd/gpudispatch/pkg/simd"
)

// Thread identifies one invocation of a kernel.
type Thread struct {
	// Position is the thread's position in the grid.
	Position hal.Size
	// Grid is the dispatch size in threads.
	Grid hal.Size
	// Group is the position of the thread's group.
	Group hal.Size
	// Local is the position within the group.
	Local hal.Size
}

// Args exposes the bound buffers, each starting at its binding offset.
type Args [][]byte

// Bytes returns the raw slot i, or nil when unbound.
func (a Args) Bytes(i int) []byte {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// Uint32 views slot i as []uint32.
func (a Args) Uint32(i int) []uint32 {
	return view[uint32](a.Bytes(i))
}

// Float32 views slot i as []float32.
func (a Args) Float32(i int) []float32 {
	return view[float32](a.Bytes(i))
}

func view[T uint32 | float32](b []byte) []T {
	n := len(b) / 4
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}

// Kernel is the Go implementation of a compute entry point. Run is called
// once per thread inside the grid and must not retain args.
type Kernel struct {
	Name string
	// Bindings is the number of buffer slots the kernel reads or writes.
	Bindings int
	// MaxThreadsPerGroup lowers the device limit for this kernel when set.
	MaxThreadsPerGroup uint32
	Run                func(t Thread, args Args)
}

func builtinKernels() []Kernel {
	return []Kernel{
		{Name: "dot_product", Bindings: 3, Run: dotProductKernel},
		{Name: "mul_matrices", Bindings: 3, Run: mulMatricesKernel},
		{Name: "assign", Bindings: 1, Run: assignKernel},
	}
}

// result[i] = a[i] * b[i]
func dotProductKernel(t Thread, args Args) {
	a, b, out := args.Uint32(0), args.Uint32(1), args.Uint32(2)
	i := t.Position.X
	if int(i) >= len(a) || int(i) >= len(b) || int(i) >= len(out) {
		return
	}
	out[i] = a[i] * b[i]
}

// product[row*n+col] = sum_k lhs[row*n+k] * rhs[k*n+col], n = grid width
func mulMatricesKernel(t Thread, args Args) {
	lhs, rhs, out := args.Float32(0), args.Float32(1), args.Float32(2)
	n := int(t.Grid.X)
	col, row := int(t.Position.X), int(t.Position.Y)
	base := row * n
	if base+n > len(lhs) || base+col >= len(out) {
		return
	}
	out[base+col] = simd.DotProductStrided(lhs[base:base+n], rhs, col, n)
}

// a[i] = i
func assignKernel(t Thread, args Args) {
	a := args.Uint32(0)
	i := t.Position.X
	if int(i) >= len(a) {
		return
	}
	a[i] = i
}
