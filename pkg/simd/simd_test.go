package simd

import (
	"math"
	"testing"
)

const epsilon = 1e-5

func approxEqual(a, b, eps float32) bool {
	return math.Abs(float64(a-b)) < float64(eps)
}

func TestDotProduct(t *testing.T) {
	tests := []struct {
		name     string
		a        []float32
		b        []float32
		expected float32
	}{
		{
			name:     "simple",
			a:        []float32{1, 2, 3},
			b:        []float32{4, 5, 6},
			expected: 32, // 1*4 + 2*5 + 3*6
		},
		{
			name:     "empty",
			a:        []float32{},
			b:        []float32{},
			expected: 0,
		},
		{
			name:     "length mismatch",
			a:        []float32{1, 2},
			b:        []float32{1},
			expected: 0,
		},
		{
			name:     "negative",
			a:        []float32{-1, -2, -3},
			b:        []float32{4, 5, 6},
			expected: -32,
		},
		{
			name:     "large vector (for SIMD)",
			a:        make([]float32, 259),
			b:        make([]float32, 259),
			expected: 259,
		},
	}

	for i := range tests[len(tests)-1].a {
		tests[len(tests)-1].a[i] = 1
		tests[len(tests)-1].b[i] = 1
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DotProduct(tt.a, tt.b)
			if !approxEqual(result, tt.expected, epsilon) {
				t.Errorf("DotProduct() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestDotProductStrided(t *testing.T) {
	// 3x3 row-major
	m := []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}
	row := []float32{1, 1, 1}

	tests := []struct {
		name     string
		a        []float32
		offset   int
		stride   int
		expected float32
	}{
		{"column 0", row, 0, 3, 12},
		{"column 2", row, 2, 3, 18},
		{"contiguous row 1", row, 3, 1, 15},
		{"weighted column 1", []float32{1, 0, 2}, 1, 3, 18},
		{"out of range", row, 1, 4, 0},
		{"zero stride", row, 0, 0, 0},
		{"negative offset", row, -1, 3, 0},
		{"empty", nil, 0, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DotProductStrided(tt.a, m, tt.offset, tt.stride)
			if !approxEqual(result, tt.expected, epsilon) {
				t.Errorf("DotProductStrided() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestDotProductStridedMatchesReference(t *testing.T) {
	const n = 37
	m := make([]float32, n*n)
	for i := range m {
		m[i] = float32(i%11) - 5
	}
	for row := 0; row < n; row += 9 {
		a := m[row*n : (row+1)*n]
		for col := 0; col < n; col += 7 {
			var want float32
			for k := 0; k < n; k++ {
				want += a[k] * m[k*n+col]
			}
			got := DotProductStrided(a, m, col, n)
			if !approxEqual(got, want, 1e-3) {
				t.Fatalf("row %d col %d: got %v, want %v", row, col, got, want)
			}
		}
	}
}

func TestInfo(t *testing.T) {
	info := Info()
	switch info.Implementation {
	case ImplGeneric, ImplAVX2, ImplNEON:
	default:
		t.Errorf("unexpected implementation %q", info.Implementation)
	}
	if info.Implementation != ImplGeneric && !info.Accelerated {
		t.Errorf("%s reported without acceleration", info.Implementation)
	}
}
