package simd

// Implementation represents the active SIMD implementation
type Implementation string

const (
	// ImplGeneric indicates pure Go fallback (no SIMD)
	ImplGeneric Implementation = "generic"
	// ImplAVX2 indicates x86 AVX2+FMA SIMD
	ImplAVX2 Implementation = "avx2"
	// ImplNEON indicates ARM NEON SIMD
	ImplNEON Implementation = "neon"
)

// RuntimeInfo contains information about the active SIMD implementation
type RuntimeInfo struct {
	Implementation Implementation
	Features       []string
	Accelerated    bool
}

// DotProduct computes sum(a[i] * b[i]).
//
// Returns 0 if the vectors are empty or have different lengths.
func DotProduct(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return dotProduct(a, b)
}

// DotProductStrided computes sum(a[i] * b[offset+i*stride]) for i < len(a).
//
// With b a row-major n x n matrix, offset=col and stride=n walk column col.
// Returns 0 if a is empty, stride is not positive, or b is too short.
func DotProductStrided(a, b []float32, offset, stride int) float32 {
	if len(a) == 0 || stride <= 0 || offset < 0 {
		return 0
	}
	if last := offset + (len(a)-1)*stride; last >= len(b) {
		return 0
	}
	if stride == 1 {
		return dotProduct(a, b[offset:offset+len(a)])
	}
	return dotProductStrided(a, b, offset, stride)
}

// Info returns information about the active SIMD implementation.
func Info() RuntimeInfo {
	return runtimeInfo()
}
