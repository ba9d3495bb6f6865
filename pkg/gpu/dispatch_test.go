package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOneGroup(t *testing.T) {
	c, _ := newSoftContext(t, func(cfg *Config) {
		cfg.Soft.ExecutionWidth = 8
		cfg.Soft.MaxThreadsPerGroup = 64
	})
	p, err := c.Pipeline(mathCalBlob(t), "dot_product")
	require.NoError(t, err)

	grid, group, err := OneGroup(p, 6)
	require.NoError(t, err)
	assert.Equal(t, Size{X: 6, Y: 1, Z: 1}, grid)
	assert.Equal(t, grid, group)

	_, _, err = OneGroup(p, 64)
	assert.NoError(t, err, "exactly the limit fits")

	_, _, err = OneGroup(p, 65)
	require.ErrorIs(t, err, ErrGridSize)
	var gse *GridSizeError
	require.True(t, errors.As(err, &gse))
	assert.Equal(t, "dot_product", gse.Pipeline)
	assert.Equal(t, uint64(65), gse.Threads)
	assert.Equal(t, uint32(64), gse.Limit)
	assert.Contains(t, gse.Error(), "pipeline allows 64")

	_, _, err = OneGroup(p, 0)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestSIMDGroups(t *testing.T) {
	tests := []struct {
		width, max uint32
		n          int
		wantGroup  Size
	}{
		{32, 1024, 4, Size{X: 32, Y: 32, Z: 1}},
		{16, 100, 4, Size{X: 16, Y: 6, Z: 1}},
		{4, 4, 9, Size{X: 4, Y: 1, Z: 1}},
	}
	for _, tt := range tests {
		c, _ := newSoftContext(t, func(cfg *Config) {
			cfg.Soft.ExecutionWidth = tt.width
			cfg.Soft.MaxThreadsPerGroup = tt.max
		})
		p, err := c.Pipeline(mathCalBlob(t), "mul_matrices")
		require.NoError(t, err)

		grid, group, err := SIMDGroups(p, tt.n)
		require.NoError(t, err)
		assert.Equal(t, Size{X: uint32(tt.n), Y: uint32(tt.n), Z: 1}, grid)
		assert.Equal(t, tt.wantGroup, group)
		assert.LessOrEqual(t, group.Threads(), uint64(tt.max))

		_, err = Record(p, nil, grid, group)
		assert.NoError(t, err)
	}

	c, _ := newSoftContext(t)
	p, err := c.Pipeline(mathCalBlob(t), "mul_matrices")
	require.NoError(t, err)
	_, _, err = SIMDGroups(p, 0)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestRecordValidation(t *testing.T) {
	c, _ := newSoftContext(t, func(cfg *Config) { cfg.Soft.MaxThreadsPerGroup = 64 })
	p, err := c.Pipeline(mathCalBlob(t), "dot_product")
	require.NoError(t, err)
	buf, err := c.Allocate(64, StorageShared)
	require.NoError(t, err)

	other, _ := newSoftContext(t)
	foreign, err := other.Allocate(64, StorageShared)
	require.NoError(t, err)

	one := Size{X: 1, Y: 1, Z: 1}
	tests := []struct {
		name     string
		pipeline *Pipeline
		bindings []Binding
		grid     Size
		group    Size
		want     error
	}{
		{"nil pipeline", nil, nil, one, one, ErrInvalidDispatch},
		{"zero grid", p, nil, Size{X: 0, Y: 1, Z: 1}, one, ErrInvalidDispatch},
		{"zero group", p, nil, one, Size{X: 1, Y: 1, Z: 0}, ErrInvalidDispatch},
		{"group over limit", p, nil, one, Size{X: 8, Y: 9, Z: 1}, ErrGridSize},
		{"nil buffer", p, []Binding{{Index: 0}}, one, one, ErrInvalidDispatch},
		{"slot twice", p, []Binding{{Index: 0, Buffer: buf}, {Index: 0, Buffer: buf}}, one, one, ErrInvalidDispatch},
		{"offset past end", p, []Binding{{Index: 0, Buffer: buf, Offset: 64}}, one, one, ErrInvalidDispatch},
		{"foreign buffer", p, []Binding{{Index: 0, Buffer: foreign}}, one, one, ErrInvalidDispatch},
		{"valid", p, Bind(buf, buf, buf), Size{X: 100, Y: 1, Z: 1}, Size{X: 64, Y: 1, Z: 1}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Record(tt.pipeline, tt.bindings, tt.grid, tt.group)
			if tt.want == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.grid, d.Grid())
				assert.Equal(t, tt.group, d.Group())
				assert.Same(t, p, d.Pipeline())
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBind(t *testing.T) {
	c, _ := newSoftContext(t)
	a, _ := c.Allocate(4, StorageShared)
	b, _ := c.Allocate(4, StorageShared)

	bs := Bind(a, b)
	require.Len(t, bs, 2)
	assert.Equal(t, Binding{Index: 0, Buffer: a}, bs[0])
	assert.Equal(t, Binding{Index: 1, Buffer: b}, bs[1])
}

func TestRecordCopiesBindings(t *testing.T) {
	c, _ := newSoftContext(t)
	p, err := c.Pipeline(mathCalBlob(t), "assign")
	require.NoError(t, err)
	a, _ := c.Allocate(4, StorageShared)
	b, _ := c.Allocate(4, StorageShared)

	bs := Bind(a)
	grid, group := oneThread()
	d, err := Record(p, bs, grid, group)
	require.NoError(t, err)
	bs[0].Buffer = b
	assert.Same(t, a, d.bindings[0].Buffer)
}
