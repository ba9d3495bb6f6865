package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m, err := New(2, 3, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, float32(6), m.At(1, 2))
	assert.False(t, m.IsSquare())
	assert.Equal(t, 6, m.Len())
	assert.Equal(t, uint64(24), m.SizeofEntries())

	_, err = New(2, 2, []float32{1, 2, 3})
	assert.ErrorIs(t, err, ErrDimensions)

	_, err = New[float32](0, 2, nil)
	assert.ErrorIs(t, err, ErrDimensions)
}

func TestFilled(t *testing.T) {
	m := Filled[uint32](3, 7)
	assert.True(t, m.IsSquare())
	assert.Equal(t, 9, m.Len())
	for _, v := range m.Entries {
		assert.Equal(t, uint32(7), v)
	}
	assert.Equal(t, uint64(36), m.SizeofEntries())
	assert.Equal(t, "Matrix[uint32](3x3)", m.String())
}

func TestRender(t *testing.T) {
	m, err := New(2, 3, []float32{1, 2.5, 3, 40, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, "  1 2.5   3\n 40   5   6\n", m.Render())

	sq := Filled[uint32](2, 8)
	assert.Equal(t, "8 8\n8 8\n", sq.Render())

	assert.Empty(t, Zeros[float32](0, 0).Render())
}

func TestMulConstant(t *testing.T) {
	a := Filled[float32](4, 1)
	b := Filled[float32](4, 2)

	out, err := Mul(a, b)
	require.NoError(t, err)
	for _, v := range out.Entries {
		assert.Equal(t, float32(8), v)
	}
}

func TestMulGeneral(t *testing.T) {
	a, err := New(2, 3, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := New(3, 2, []float32{7, 8, 9, 10, 11, 12})
	require.NoError(t, err)

	out, err := Mul(a, b)
	require.NoError(t, err)
	want, _ := New(2, 2, []float32{58, 64, 139, 154})
	assert.True(t, ApproxEqual(out, want, 1e-4), "got %v", out.Entries)

	_, err = Mul(a, a)
	assert.ErrorIs(t, err, ErrDimensions)
}

func TestApproxEqual(t *testing.T) {
	a := Filled[float32](2, 1)
	b := Filled[float32](2, 1.00001)
	assert.True(t, ApproxEqual(a, b, 1e-3))
	b.Set(1, 1, 2)
	assert.False(t, ApproxEqual(a, b, 1e-3))
	assert.False(t, ApproxEqual(a, Filled[float32](3, 1), 1e-3))
}
