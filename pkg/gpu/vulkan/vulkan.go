// Package vulkan implements the compute device on Vulkan.
//
// This implementation uses purego for FFI to dynamically load the Vulkan
// loader, so building needs neither cgo nor the Vulkan SDK.
//
// Supported Platforms:
//   - Windows: Loads vulkan-1.dll (included with NVIDIA/AMD drivers)
//   - Linux: Loads libvulkan.so.1 (from the Vulkan SDK or mesa)
//   - macOS: Loads libvulkan.dylib (from MoltenVK or the Vulkan SDK)
//
// Kernel libraries are SPIR-V modules. Each GLCompute entry point becomes one
// pipeline; the workgroup size comes from specialization constants 0, 1 and 2
// so a pipeline can be launched with any group shape the device allows, and
// the grid extent is pushed as three uint32 push constants so kernels can
// discard threads past the edge.
//
// Memory model:
//   - Shared buffers live in HOST_VISIBLE|HOST_COHERENT memory.
//   - Managed buffers prefer HOST_VISIBLE|HOST_CACHED memory. Host writes
//     are flushed by DidModifyRange and device writes become visible to
//     the host only after a synchronize pass invalidates the mapping.
package vulkan

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// BackendName is reported in DeviceInfo.Backend.
const BackendName = "vulkan"

// Errors
var (
	ErrVulkanNotAvailable = errors.New("vulkan: Vulkan is not available (library not found)")
	ErrDeviceCreation     = errors.New("vulkan: failed to create Vulkan device")
	ErrBufferCreation     = errors.New("vulkan: failed to create buffer")
)

// initVulkan loads the Vulkan library once.
func initVulkan() error {
	vulkanMu.Lock()
	defer vulkanMu.Unlock()

	if vulkanLib != 0 {
		return nil
	}
	if vulkanErr != nil {
		return vulkanErr
	}

	lib, err := loadLibrary()
	if err != nil {
		vulkanErr = err
		return err
	}
	if err := registerFunctions(lib); err != nil {
		vulkanErr = err
		return err
	}
	vulkanLib = lib
	return nil
}

var (
	appName    = []byte("gpudispatch\x00")
	engineName = []byte("gpudispatch compute\x00")
)

// newInstance creates a Vulkan 1.1 instance.
func newInstance() (VkInstance, error) {
	appInfo := VkApplicationInfo{
		SType:              VK_STRUCTURE_TYPE_APPLICATION_INFO,
		PApplicationName:   uintptr(unsafe.Pointer(&appName[0])),
		ApplicationVersion: 0x00010000,
		PEngineName:        uintptr(unsafe.Pointer(&engineName[0])),
		EngineVersion:      0x00010000,
		ApiVersion:         VK_API_VERSION_1_1,
	}
	createInfo := VkInstanceCreateInfo{
		SType:            VK_STRUCTURE_TYPE_INSTANCE_CREATE_INFO,
		PApplicationInfo: &appInfo,
	}

	var instance VkInstance
	if result := vkCreateInstance(&createInfo, 0, &instance); result != VK_SUCCESS {
		return 0, fmt.Errorf("%w: failed to create instance (code %d)", ErrDeviceCreation, result)
	}
	return instance, nil
}

func physicalDevices(instance VkInstance) []VkPhysicalDevice {
	var count uint32
	if vkEnumeratePhysicalDevices(instance, &count, nil) != VK_SUCCESS || count == 0 {
		return nil
	}
	devices := make([]VkPhysicalDevice, count)
	if vkEnumeratePhysicalDevices(instance, &count, &devices[0]) < 0 {
		return nil
	}
	return devices[:count]
}

// IsAvailable checks if Vulkan is available on this system.
func IsAvailable() bool {
	return DeviceCount() > 0
}

// DeviceCount returns the number of Vulkan GPU devices.
func DeviceCount() int {
	if err := initVulkan(); err != nil {
		return 0
	}
	instance, err := newInstance()
	if err != nil {
		return 0
	}
	defer vkDestroyInstance(instance, 0)
	return len(physicalDevices(instance))
}

// vkError maps a failed VkResult onto the hal error set.
func vkError(op string, result VkResult) error {
	switch result {
	case VK_ERROR_DEVICE_LOST:
		return fmt.Errorf("%w: %s", hal.ErrDeviceLost, op)
	case VK_ERROR_OUT_OF_HOST_MEMORY, VK_ERROR_OUT_OF_DEVICE_MEMORY:
		return fmt.Errorf("%w: %s (code %d)", hal.ErrOutOfMemory, op, result)
	default:
		return fmt.Errorf("vulkan: %s failed (code %d)", op, result)
	}
}

// cString returns a NUL-terminated copy of s.
func cString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}
