// Package matrix holds the host-side numeric container passed to and from
// compute dispatches.
package matrix

import (
	"errors"
	"fmt"
	"strings"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/simd"
)

// ErrDimensions is returned when shapes don't line up.
var ErrDimensions = errors.New("matrix: invalid dimensions")

// Number is the element constraint for matrices.
type Number interface {
	~int32 | ~uint32 | ~int64 | ~uint64 | ~float32 | ~float64
}

// Matrix is a dense row-major matrix. len(Entries) == Rows*Cols.
type Matrix[T Number] struct {
	Rows    int
	Cols    int
	Entries []T
}

// New wraps entries as a rows x cols matrix without copying.
func New[T Number](rows, cols int, entries []T) (*Matrix[T], error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrDimensions, rows, cols)
	}
	if len(entries) != rows*cols {
		return nil, fmt.Errorf("%w: %d entries for %dx%d", ErrDimensions, len(entries), rows, cols)
	}
	return &Matrix[T]{Rows: rows, Cols: cols, Entries: entries}, nil
}

// Zeros returns a rows x cols matrix of zeros.
func Zeros[T Number](rows, cols int) *Matrix[T] {
	return &Matrix[T]{Rows: rows, Cols: cols, Entries: make([]T, rows*cols)}
}

// Filled returns a square matrix of the given order with every entry v.
func Filled[T Number](order int, v T) *Matrix[T] {
	m := Zeros[T](order, order)
	for i := range m.Entries {
		m.Entries[i] = v
	}
	return m
}

// At returns the entry at (row, col).
func (m *Matrix[T]) At(row, col int) T {
	return m.Entries[row*m.Cols+col]
}

// Set stores v at (row, col).
func (m *Matrix[T]) Set(row, col int, v T) {
	m.Entries[row*m.Cols+col] = v
}

// IsSquare reports whether Rows == Cols.
func (m *Matrix[T]) IsSquare() bool {
	return m.Rows == m.Cols
}

// Len is the number of entries.
func (m *Matrix[T]) Len() int {
	return len(m.Entries)
}

// SizeofEntries is the byte size of the entry storage.
func (m *Matrix[T]) SizeofEntries() uint64 {
	var zero T
	return uint64(len(m.Entries)) * uint64(unsafe.Sizeof(zero))
}

func (m *Matrix[T]) String() string {
	return fmt.Sprintf("Matrix[%T](%dx%d)", *new(T), m.Rows, m.Cols)
}

// Render lays the entries out one row per line, right-aligned in columns.
func (m *Matrix[T]) Render() string {
	cells := make([]string, len(m.Entries))
	width := 0
	for i, v := range m.Entries {
		cells[i] = fmt.Sprint(v)
		width = max(width, len(cells[i]))
	}
	var sb strings.Builder
	for row := 0; row < m.Rows; row++ {
		for col := 0; col < m.Cols; col++ {
			if col > 0 {
				sb.WriteByte(' ')
			}
			fmt.Fprintf(&sb, "%*s", width, cells[row*m.Cols+col])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Mul is the host reference product of two float32 matrices.
func Mul(a, b *Matrix[float32]) (*Matrix[float32], error) {
	if a.Cols != b.Rows {
		return nil, fmt.Errorf("%w: %dx%d times %dx%d", ErrDimensions, a.Rows, a.Cols, b.Rows, b.Cols)
	}
	out := Zeros[float32](a.Rows, b.Cols)
	for row := 0; row < a.Rows; row++ {
		lhs := a.Entries[row*a.Cols : (row+1)*a.Cols]
		for col := 0; col < b.Cols; col++ {
			out.Entries[row*out.Cols+col] = simd.DotProductStrided(lhs, b.Entries, col, b.Cols)
		}
	}
	return out, nil
}

// ApproxEqual reports whether a and b have the same shape and every entry
// differs by at most tol.
func ApproxEqual(a, b *Matrix[float32], tol float32) bool {
	if a.Rows != b.Rows || a.Cols != b.Cols || len(a.Entries) != len(b.Entries) {
		return false
	}
	for i := range a.Entries {
		d := a.Entries[i] - b.Entries[i]
		if d > tol || d < -tol {
			return false
		}
	}
	return true
}
