package gpu

import (
	"context"
	"math/rand"
	"testing"

	"github.com/orneryd/gpudispatch/pkg/matrix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDotProduct(t *testing.T) {
	c, _ := newSoftContext(t)
	out, err := c.DotProduct(context.Background(),
		[]uint32{3, 4, 1, 7, 10, 20},
		[]uint32{2, 5, 6, 9, 5, 10})
	require.NoError(t, err)
	assert.Equal(t, []uint32{6, 20, 6, 63, 50, 200}, out)
}

func TestDotProductElementwise(t *testing.T) {
	c, _ := newSoftContext(t)
	rng := rand.New(rand.NewSource(7))

	for _, n := range []int{1, 31, 32, 33, 1000, 1024} {
		v := make([]uint32, n)
		w := make([]uint32, n)
		for i := range v {
			v[i] = rng.Uint32()
			w[i] = rng.Uint32()
		}
		out, err := c.DotProduct(context.Background(), v, w)
		require.NoError(t, err)
		require.Len(t, out, n)
		for i := range v {
			require.Equal(t, v[i]*w[i], out[i], "n=%d i=%d", n, i)
		}
	}

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.PipelinesBuilt, "the dot product pipeline is built once")
	assert.Equal(t, int64(5), stats.PipelineCacheHits)
	assert.Equal(t, int64(6), stats.Dispatches)
}

func TestDotProductErrors(t *testing.T) {
	c, _ := newSoftContext(t, func(cfg *Config) {
		cfg.Soft.ExecutionWidth = 4
		cfg.Soft.MaxThreadsPerGroup = 8
	})
	ctx := context.Background()

	_, err := c.DotProduct(ctx, []uint32{1, 2}, []uint32{1})
	assert.ErrorIs(t, err, ErrInvalidDimensions)
	_, err = c.DotProduct(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = c.DotProduct(ctx, make([]uint32, 8), make([]uint32, 8))
	assert.NoError(t, err)
	_, err = c.DotProduct(ctx, make([]uint32, 9), make([]uint32, 9))
	assert.ErrorIs(t, err, ErrGridSize, "one group must cover the problem")
}

func TestMatrixProductConstant(t *testing.T) {
	c, _ := newSoftContext(t)

	out, err := c.MatrixProduct(context.Background(), matrix.Filled[float32](4, 1), matrix.Filled[float32](4, 2))
	require.NoError(t, err)
	assert.Equal(t, 4, out.Rows)
	assert.Equal(t, 4, out.Cols)
	for _, v := range out.Entries {
		assert.Equal(t, float32(8), v)
	}
}

func TestMatrixProductOrders(t *testing.T) {
	c, _ := newSoftContext(t, func(cfg *Config) {
		cfg.Soft.ExecutionWidth = 8
		cfg.Soft.MaxThreadsPerGroup = 64
	})
	for _, n := range []int{1, 3, 8, 9, 50} {
		a := matrix.Filled[float32](n, 0.5)
		b := matrix.Filled[float32](n, 3)
		out, err := c.MatrixProduct(context.Background(), a, b)
		require.NoError(t, err)
		want := float32(0.5 * 3 * float64(n))
		for i, v := range out.Entries {
			require.InDelta(t, want, v, 1e-3, "n=%d entry %d", n, i)
		}
	}
}

func TestMatrixProductMatchesHost(t *testing.T) {
	c, _ := newSoftContext(t)
	rng := rand.New(rand.NewSource(3))
	const n = 37

	a := matrix.Zeros[float32](n, n)
	b := matrix.Zeros[float32](n, n)
	for i := range a.Entries {
		a.Entries[i] = rng.Float32()*2 - 1
		b.Entries[i] = rng.Float32()*2 - 1
	}
	got, err := c.MatrixProduct(context.Background(), a, b)
	require.NoError(t, err)
	want, err := matrix.Mul(a, b)
	require.NoError(t, err)
	assert.True(t, matrix.ApproxEqual(got, want, 1e-4))
}

func TestMatrixProductErrors(t *testing.T) {
	c, _ := newSoftContext(t)
	ctx := context.Background()

	rect := matrix.Zeros[float32](2, 3)
	_, err := c.MatrixProduct(ctx, rect, rect)
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = c.MatrixProduct(ctx, matrix.Filled[float32](2, 1), matrix.Filled[float32](3, 1))
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = c.MatrixProduct(ctx, nil, matrix.Filled[float32](2, 1))
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestFillSynchronized(t *testing.T) {
	c, _ := newSoftContext(t)
	res, err := c.Fill(context.Background(), FillLength, true)
	require.NoError(t, err)

	assert.True(t, res.Synchronized)
	require.Len(t, res.Host, FillLength)
	require.Len(t, res.Device, FillLength)
	assert.Equal(t, res.Device, res.Host, "after synchronize the host sees the device copy")
	for i, v := range res.Host {
		require.Equal(t, uint32(i), v)
	}
}

func TestFillWithoutSynchronize(t *testing.T) {
	c, _ := newSoftContext(t)
	res, err := c.Fill(context.Background(), FillLength, false)
	require.NoError(t, err)

	assert.False(t, res.Synchronized)
	require.Len(t, res.Device, FillLength)
	assert.Equal(t, uint32(FillLength-1), res.Device[FillLength-1])
	for _, v := range res.Host {
		require.Zero(t, v, "host copy is stale without a synchronize pass")
	}
}

func TestFillLimits(t *testing.T) {
	c, _ := newSoftContext(t, func(cfg *Config) {
		cfg.Soft.ExecutionWidth = 32
		cfg.Soft.MaxThreadsPerGroup = 512
	})
	_, err := c.Fill(context.Background(), FillLength, true)
	assert.ErrorIs(t, err, ErrGridSize)

	_, err = c.Fill(context.Background(), 0, true)
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	res, err := c.Fill(context.Background(), 512, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(511), res.Host[511])
}

func TestOpsAfterClose(t *testing.T) {
	c, _ := newSoftContext(t)
	require.NoError(t, c.Close())
	_, err := c.DotProduct(context.Background(), []uint32{1}, []uint32{1})
	assert.ErrorIs(t, err, ErrContextClosed)
}
