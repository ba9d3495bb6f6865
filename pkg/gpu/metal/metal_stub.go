//go:build !darwin || !cgo

// Package metal implements the compute device on Apple Metal. Outside macOS,
// or without cgo, it reports Metal as unavailable.
package metal

import "github.com/orneryd/gpudispatch/pkg/gpu/hal"

// IsAvailable always returns false on this platform.
func IsAvailable() bool {
	return false
}

// NewDevice always fails on this platform.
func NewDevice() (hal.Device, error) {
	return nil, ErrMetalNotAvailable
}
