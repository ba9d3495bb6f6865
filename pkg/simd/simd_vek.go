//go:build !amd64 || nosimd

package simd

import (
	"sync"

	"github.com/viterin/vek/vek32"
)

// vek32 ships NEON assembly on arm64 and tuned pure Go elsewhere. Strided
// access is gathered into a pooled scratch slice so the contiguous kernel can
// run on it.

var scratchPool = sync.Pool{
	New: func() any {
		s := make([]float32, 0, 256)
		return &s
	},
}

func dotProduct(a, b []float32) float32 {
	return vek32.Dot(a, b[:len(a)])
}

func dotProductStrided(a, b []float32, offset, stride int) float32 {
	sp := scratchPool.Get().(*[]float32)
	col := (*sp)[:0]
	for i, j := 0, offset; i < len(a); i, j = i+1, j+stride {
		col = append(col, b[j])
	}
	sum := vek32.Dot(a, col)
	*sp = col
	scratchPool.Put(sp)
	return sum
}

func runtimeInfo() RuntimeInfo {
	info := vek32.Info()
	impl := ImplGeneric
	if info.Acceleration && isARM64 {
		impl = ImplNEON
	}
	return RuntimeInfo{
		Implementation: impl,
		Features:       info.CPUFeatures,
		Accelerated:    info.Acceleration,
	}
}
