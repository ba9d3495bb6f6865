// Package simd provides the float32 vector kernels the software device and
// the host reference product run on.
//
// Implementations are picked per platform:
//
//   - x86/amd64: unrolled loops the compiler vectorizes, AVX2+FMA detected
//     at runtime through golang.org/x/sys/cpu
//   - arm64: NEON via github.com/viterin/vek
//   - everything else, or builds tagged nosimd: vek's portable code paths
//
// # Supported Operations
//
//   - DotProduct: sum(a[i] * b[i])
//   - DotProductStrided: sum(a[i] * b[offset+i*stride]), a row against a
//     column of a row-major matrix
//
// # Usage
//
//	row := []float32{1, 2}
//	m := []float32{1, 2, 3, 4} // 2x2, row-major
//	v := simd.DotProductStrided(row, m, 1, 2) // 1*2 + 2*4 = 10
//
// All functions are safe for concurrent use.
package simd
