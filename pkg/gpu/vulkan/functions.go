//go:build darwin || freebsd || linux || windows

package vulkan

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// registerFunctions binds every entry of symbols against lib. A missing
// optional symbol leaves its function pointer nil.
func registerFunctions(lib uintptr) error {
	for _, s := range symbols {
		addr, err := lookup(lib, s.name)
		if err != nil || addr == 0 {
			if s.optional {
				continue
			}
			return fmt.Errorf("%w: missing symbol %s", ErrVulkanNotAvailable, s.name)
		}
		purego.RegisterFunc(s.fptr, addr)
	}
	return nil
}
