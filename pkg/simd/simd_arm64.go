//go:build arm64

package simd

const isARM64 = true
