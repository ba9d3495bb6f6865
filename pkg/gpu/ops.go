package gpu

import (
	"context"
	"fmt"

	"github.com/orneryd/gpudispatch/pkg/kernels"
	"github.com/orneryd/gpudispatch/pkg/matrix"
)

// FillLength is the element count of the fill buffer. Managed buffers on
// some devices want page-multiple sizes; 1024 and 2048 uint32s qualify.
const FillLength = 1024

// FillResult is what the host sees after Fill.
type FillResult struct {
	// Host is the host copy of the buffer after the operation.
	Host []uint32
	// Device is the device-resident copy, when the backend exposes it.
	Device []uint32
	// Synchronized reports whether a synchronize pass ran before Host was
	// taken. Without it Host may still hold the initial zeros.
	Synchronized bool
}

func (c *Context) kernelPipeline(library, entry string) (*Pipeline, error) {
	blob, err := kernels.Blob(c.device.KernelFormat(), library)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return c.Pipeline(blob, entry)
}

// run submits d on the default queue and waits for it.
func (c *Context) run(ctx context.Context, d *Dispatch) error {
	q, err := c.Queue()
	if err != nil {
		return err
	}
	tok, err := q.Submit(d)
	if err != nil {
		return err
	}
	return tok.Wait(ctx)
}

// DotProduct multiplies v and w element by element on the device:
// out[i] = v[i] * w[i], wrapping on overflow.
//
// The whole problem runs as one thread group, so len(v) may not exceed the
// pipeline's MaxThreadsPerGroup (GridSizeError).
//
// Example:
//
//	out, err := ctx.DotProduct(context.Background(),
//		[]uint32{3, 4, 1, 7, 10, 20},
//		[]uint32{2, 5, 6, 9, 5, 10})
//	// out == [6 20 6 63 50 200]
func (c *Context) DotProduct(ctx context.Context, v, w []uint32) ([]uint32, error) {
	if len(v) == 0 || len(v) != len(w) {
		return nil, fmt.Errorf("%w: vectors of length %d and %d", ErrInvalidDimensions, len(v), len(w))
	}
	p, err := c.kernelPipeline(kernels.DotProd, kernels.EntryDotProduct)
	if err != nil {
		return nil, err
	}
	defer p.Release()

	grid, group, err := OneGroup(p, len(v))
	if err != nil {
		return nil, err
	}

	a, err := c.AllocateFrom(ViewOf(v), StorageShared)
	if err != nil {
		return nil, err
	}
	defer a.Release()
	b, err := c.AllocateFrom(ViewOf(w), StorageShared)
	if err != nil {
		return nil, err
	}
	defer b.Release()
	out, err := c.Allocate(uint64(len(v))*4, StorageShared)
	if err != nil {
		return nil, err
	}
	defer out.Release()

	d, err := Record(p, []Binding{
		{Index: 0, Buffer: a, ReadOnly: true},
		{Index: 1, Buffer: b, ReadOnly: true},
		{Index: 2, Buffer: out},
	}, grid, group)
	if err != nil {
		return nil, err
	}
	if err := c.run(ctx, d); err != nil {
		return nil, err
	}
	return Read[uint32](out, len(v))
}

// MatrixProduct multiplies two square matrices of the same order on the
// device. The grid is (n,n,1) with one thread per output element, in groups
// of (ExecutionWidth, MaxThreadsPerGroup/ExecutionWidth, 1).
func (c *Context) MatrixProduct(ctx context.Context, a, b *matrix.Matrix[float32]) (*matrix.Matrix[float32], error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("%w: nil matrix", ErrInvalidDimensions)
	}
	if !a.IsSquare() || !b.IsSquare() || a.Rows != b.Rows || a.Len() != a.Rows*a.Cols || b.Len() != b.Rows*b.Cols {
		return nil, fmt.Errorf("%w: need square matrices of one order, got %dx%d and %dx%d",
			ErrInvalidDimensions, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	n := a.Rows

	p, err := c.kernelPipeline(kernels.MatrixProd, kernels.EntryMulMatrices)
	if err != nil {
		return nil, err
	}
	defer p.Release()

	grid, group, err := SIMDGroups(p, n)
	if err != nil {
		return nil, err
	}

	lhs, err := c.AllocateFrom(ViewOf(a.Entries), StorageShared)
	if err != nil {
		return nil, err
	}
	defer lhs.Release()
	rhs, err := c.AllocateFrom(ViewOf(b.Entries), StorageShared)
	if err != nil {
		return nil, err
	}
	defer rhs.Release()
	out, err := c.Allocate(a.SizeofEntries(), StorageShared)
	if err != nil {
		return nil, err
	}
	defer out.Release()

	d, err := Record(p, []Binding{
		{Index: 0, Buffer: lhs, ReadOnly: true},
		{Index: 1, Buffer: rhs, ReadOnly: true},
		{Index: 2, Buffer: out},
	}, grid, group)
	if err != nil {
		return nil, err
	}
	if err := c.run(ctx, d); err != nil {
		return nil, err
	}
	entries, err := Read[float32](out, n*n)
	if err != nil {
		return nil, err
	}
	return matrix.New(n, n, entries)
}

// Fill runs the assign kernel (a[i] = i) over a Managed buffer of length
// uint32s seeded with zeros, as a single thread group.
//
// With synchronize set, a copy-back pass is submitted after the dispatch and
// awaited, and Host equals the device copy. Without it Host is the raw host
// copy, which on devices with separate memories still holds zeros. length
// should be FillLength or 2048; other sizes are passed through unchecked.
func (c *Context) Fill(ctx context.Context, length int, synchronize bool) (*FillResult, error) {
	if length <= 0 {
		return nil, fmt.Errorf("%w: fill length %d", ErrInvalidDimensions, length)
	}
	p, err := c.kernelPipeline(kernels.MathCal, kernels.EntryAssign)
	if err != nil {
		return nil, err
	}
	defer p.Release()

	grid, group, err := OneGroup(p, length)
	if err != nil {
		return nil, err
	}

	seed := make([]uint32, length)
	buf, err := c.AllocateFrom(ViewOf(seed), StorageManaged)
	if err != nil {
		return nil, err
	}
	defer buf.Release()

	d, err := Record(p, Bind(buf), grid, group)
	if err != nil {
		return nil, err
	}
	if err := c.run(ctx, d); err != nil {
		return nil, err
	}

	res := &FillResult{Synchronized: synchronize}
	if synchronize {
		q, err := c.Queue()
		if err != nil {
			return nil, err
		}
		tok, err := q.Synchronize(buf)
		if err != nil {
			return nil, err
		}
		if err := tok.Wait(ctx); err != nil {
			return nil, err
		}
		if res.Host, err = Read[uint32](buf, length); err != nil {
			return nil, err
		}
	} else {
		res.Host = copyUint32s(buf.Contents(), length)
	}
	if dev, ok := buf.DeviceContents(); ok {
		res.Device = copyUint32s(dev, length)
	}
	return res, nil
}

func copyUint32s(b []byte, n int) []uint32 {
	out := make([]uint32, n)
	view, _ := ViewOfN(out, n)
	copy(view.Bytes(), b)
	return out
}
