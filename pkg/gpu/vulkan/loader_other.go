//go:build !(darwin || freebsd || linux || windows)

package vulkan

func loadLibrary() (uintptr, error) {
	return 0, ErrVulkanNotAvailable
}

func registerFunctions(uintptr) error {
	return ErrVulkanNotAvailable
}
