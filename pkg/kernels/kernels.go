// Package kernels bundles the precompiled compute kernel libraries.
//
// Each library is an opaque blob in the format a device consumes: SPIR-V for
// the soft and Vulkan devices, metallib for Metal. SPIR-V builds are always
// embedded (see scripts/gen_spirv.py). Metal builds are embedded only when
// compiled with -tags metallib after running scripts/build_metallib.sh.
package kernels

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// Library names.
const (
	MathCal    = "math_cal"
	DotProd    = "dotprod"
	MatrixProd = "matrixprod"
)

// Entry point names.
const (
	EntryDotProduct  = "dot_product"
	EntryMulMatrices = "mul_matrices"
	EntryAssign      = "assign"
)

// ErrNotBundled is returned when no blob exists for a library in a format.
var ErrNotBundled = errors.New("kernels: library not bundled for this format")

//go:embed spirv/*.spv
var spirvFS embed.FS

// metallibFS is populated by kernels_metallib.go.
var metallibFS fs.FS

var libraries = []string{MathCal, DotProd, MatrixProd}

// Names lists the bundled library names.
func Names() []string {
	return append([]string(nil), libraries...)
}

// Blob returns the library blob called name in the given format.
func Blob(format hal.KernelFormat, name string) ([]byte, error) {
	var (
		fsys fs.FS
		file string
	)
	switch format {
	case hal.FormatSPIRV:
		fsys, file = spirvFS, path.Join("spirv", name+".spv")
	case hal.FormatMetalLib:
		fsys, file = metallibFS, path.Join("metal", name+".metallib")
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrNotBundled, format)
	}
	if fsys == nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotBundled, name, format)
	}
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s)", ErrNotBundled, name, format)
	}
	return data, nil
}
