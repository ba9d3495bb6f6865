//go:build darwin || freebsd || linux

package vulkan

import (
	"fmt"
	"os"
	"runtime"

	"github.com/ebitengine/purego"
)

// libraryNames lists loader names in search order. VULKAN_LIBRARY, when set,
// is tried first.
func libraryNames() []string {
	var names []string
	if p := os.Getenv("VULKAN_LIBRARY"); p != "" {
		names = append(names, p)
	}
	switch runtime.GOOS {
	case "darwin":
		names = append(names,
			"libvulkan.1.dylib",
			"libvulkan.dylib",
			"libMoltenVK.dylib",
			"/usr/local/lib/libvulkan.1.dylib",
			"/opt/homebrew/lib/libvulkan.1.dylib",
		)
	default:
		names = append(names, "libvulkan.so.1", "libvulkan.so")
	}
	return names
}

// loadLibrary opens the Vulkan loader.
func loadLibrary() (uintptr, error) {
	var lastErr error
	for _, name := range libraryNames() {
		lib, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err == nil {
			return lib, nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("%w: %v", ErrVulkanNotAvailable, lastErr)
}

func lookup(lib uintptr, name string) (uintptr, error) {
	return purego.Dlsym(lib, name)
}
