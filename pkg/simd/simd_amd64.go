//go:build amd64 && !nosimd

package simd

import "golang.org/x/sys/cpu"

// Unrolled loops the Go compiler can auto-vectorize with AVX2/SSE.

var hasAVX2 = cpu.X86.HasAVX2 && cpu.X86.HasFMA

func dotProduct(a, b []float32) float32 {
	n := len(a)
	b = b[:n]

	// 8-way unrolling for AVX2 (256-bit = 8 float32s)
	var s0, s1, s2, s3, s4, s5, s6, s7 float32
	i := 0
	for ; i <= n-8; i += 8 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
		s4 += a[i+4] * b[i+4]
		s5 += a[i+5] * b[i+5]
		s6 += a[i+6] * b[i+6]
		s7 += a[i+7] * b[i+7]
	}
	for ; i < n; i++ {
		s0 += a[i] * b[i]
	}
	return s0 + s1 + s2 + s3 + s4 + s5 + s6 + s7
}

func dotProductStrided(a, b []float32, offset, stride int) float32 {
	n := len(a)
	var s0, s1, s2, s3 float32
	j := offset
	i := 0
	for ; i <= n-4; i += 4 {
		s0 += a[i] * b[j]
		s1 += a[i+1] * b[j+stride]
		s2 += a[i+2] * b[j+2*stride]
		s3 += a[i+3] * b[j+3*stride]
		j += 4 * stride
	}
	for ; i < n; i++ {
		s0 += a[i] * b[j]
		j += stride
	}
	return s0 + s1 + s2 + s3
}

func runtimeInfo() RuntimeInfo {
	if hasAVX2 {
		return RuntimeInfo{
			Implementation: ImplAVX2,
			Features:       []string{"avx2", "fma", "auto-vectorized"},
			Accelerated:    true,
		}
	}
	return RuntimeInfo{
		Implementation: ImplGeneric,
		Features:       []string{"sse2"},
		Accelerated:    false,
	}
}
