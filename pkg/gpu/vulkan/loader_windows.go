//go:build windows

package vulkan

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// loadLibrary opens vulkan-1.dll, which ships with the GPU driver.
func loadLibrary() (uintptr, error) {
	names := []string{"vulkan-1.dll"}
	if p := os.Getenv("VULKAN_LIBRARY"); p != "" {
		names = append([]string{p}, names...)
	}
	var lastErr error
	for _, name := range names {
		h, err := windows.LoadLibrary(name)
		if err == nil {
			return uintptr(h), nil
		}
		lastErr = err
	}
	return 0, fmt.Errorf("%w: %v", ErrVulkanNotAvailable, lastErr)
}

func lookup(lib uintptr, name string) (uintptr, error) {
	return windows.GetProcAddress(windows.Handle(lib), name)
}
