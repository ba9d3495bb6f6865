package vulkan

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// defaultSubgroupSize is reported when the driver cannot be asked.
const defaultSubgroupSize = 32

// Device represents a Vulkan GPU device.
type Device struct {
	instance       VkInstance
	physicalDevice VkPhysicalDevice
	device         VkDevice
	computeQueue   VkQueue
	queueFamily    uint32
	id             int
	name           string
	vendorID       uint32
	memory         uint64
	subgroupSize   uint32
	limits         computeLimits
	memProps       VkPhysicalDeviceMemoryProperties

	// submitMu serializes vkQueueSubmit on computeQueue across hal queues.
	submitMu sync.Mutex

	mu       sync.Mutex
	lost     atomic.Bool
	released bool
}

var _ hal.Device = (*Device)(nil)

// findComputeQueueFamily finds a queue family that supports compute operations
func findComputeQueueFamily(physicalDevice VkPhysicalDevice) int32 {
	var queueFamilyCount uint32
	vkGetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, nil)
	if queueFamilyCount == 0 {
		return -1
	}

	queueFamilies := make([]VkQueueFamilyProperties, queueFamilyCount)
	vkGetPhysicalDeviceQueueFamilyProperties(physicalDevice, &queueFamilyCount, &queueFamilies[0])

	for i := uint32(0); i < queueFamilyCount; i++ {
		if queueFamilies[i].QueueFlags&VK_QUEUE_COMPUTE_BIT != 0 {
			return int32(i)
		}
	}
	return -1
}

// querySubgroupSize asks a Vulkan 1.1 driver for its subgroup width.
func querySubgroupSize(physicalDevice VkPhysicalDevice, apiVersion uint32) uint32 {
	if vkGetPhysicalDeviceProperties2 == nil || apiVersion < VK_API_VERSION_1_1 {
		return defaultSubgroupSize
	}
	subgroup := VkPhysicalDeviceSubgroupProperties{
		SType: VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_SUBGROUP_PROPERTIES,
	}
	props := VkPhysicalDeviceProperties2{
		SType: VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2,
		PNext: uintptr(unsafe.Pointer(&subgroup)),
	}
	vkGetPhysicalDeviceProperties2(physicalDevice, &props)
	if subgroup.SubgroupSize == 0 {
		return defaultSubgroupSize
	}
	return subgroup.SubgroupSize
}

// NewDevice opens physical device deviceID and creates a logical device with
// one compute queue.
func NewDevice(deviceID int) (*Device, error) {
	if err := initVulkan(); err != nil {
		return nil, ErrVulkanNotAvailable
	}

	instance, err := newInstance()
	if err != nil {
		return nil, err
	}

	devices := physicalDevices(instance)
	if deviceID < 0 || deviceID >= len(devices) {
		vkDestroyInstance(instance, 0)
		return nil, fmt.Errorf("%w: device %d of %d", ErrDeviceCreation, deviceID, len(devices))
	}
	physicalDevice := devices[deviceID]

	var properties VkPhysicalDeviceProperties
	vkGetPhysicalDeviceProperties(physicalDevice, &properties)

	deviceName := string(properties.DeviceName[:])
	for i, b := range properties.DeviceName {
		if b == 0 {
			deviceName = string(properties.DeviceName[:i])
			break
		}
	}

	d := &Device{
		instance:       instance,
		physicalDevice: physicalDevice,
		id:             deviceID,
		name:           deviceName,
		vendorID:       properties.VendorID,
		limits:         decodeLimits(&properties.Limits),
		subgroupSize:   querySubgroupSize(physicalDevice, properties.ApiVersion),
	}
	if d.subgroupSize > d.limits.MaxInvocations {
		d.subgroupSize = d.limits.MaxInvocations
	}

	vkGetPhysicalDeviceMemoryProperties(physicalDevice, &d.memProps)
	for i := uint32(0); i < d.memProps.MemoryHeapCount; i++ {
		if d.memProps.MemoryHeaps[i].Flags&VK_MEMORY_HEAP_DEVICE_LOCAL_BIT != 0 {
			d.memory = uint64(d.memProps.MemoryHeaps[i].Size)
			break
		}
	}

	computeFamily := findComputeQueueFamily(physicalDevice)
	if computeFamily < 0 {
		vkDestroyInstance(instance, 0)
		return nil, fmt.Errorf("%w: no compute queue family found", ErrDeviceCreation)
	}
	d.queueFamily = uint32(computeFamily)

	queuePriority := float32(1.0)
	queueCreateInfo := VkDeviceQueueCreateInfo{
		SType:            VK_STRUCTURE_TYPE_DEVICE_QUEUE_CREATE_INFO,
		QueueFamilyIndex: d.queueFamily,
		QueueCount:       1,
		PQueuePriorities: &queuePriority,
	}
	deviceCreateInfo := VkDeviceCreateInfo{
		SType:                VK_STRUCTURE_TYPE_DEVICE_CREATE_INFO,
		QueueCreateInfoCount: 1,
		PQueueCreateInfos:    &queueCreateInfo,
	}
	if result := vkCreateDevice(physicalDevice, &deviceCreateInfo, 0, &d.device); result != VK_SUCCESS {
		vkDestroyInstance(instance, 0)
		return nil, fmt.Errorf("%w: failed to create logical device (code %d)", ErrDeviceCreation, result)
	}
	vkGetDeviceQueue(d.device, d.queueFamily, 0, &d.computeQueue)

	return d, nil
}

// Info describes the device.
func (d *Device) Info() hal.DeviceInfo {
	return hal.DeviceInfo{
		ID:                 d.id,
		Name:               d.name,
		Vendor:             vendorName(d.vendorID),
		Backend:            BackendName,
		MemoryBytes:        d.memory,
		MaxThreadsPerGroup: d.limits.MaxInvocations,
	}
}

// KernelFormat is always SPIR-V.
func (d *Device) KernelFormat() hal.KernelFormat {
	return hal.FormatSPIRV
}

// usable reports ErrReleased or ErrDeviceLost.
func (d *Device) usable() error {
	if d.lost.Load() {
		return hal.ErrDeviceLost
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return hal.ErrReleased
	}
	return nil
}

// check records device loss and converts result into an error.
func (d *Device) check(op string, result VkResult) error {
	if result >= VK_SUCCESS {
		return nil
	}
	if result == VK_ERROR_DEVICE_LOST {
		d.lost.Store(true)
	}
	return vkError(op, result)
}

// Release waits for the device to go idle and frees it. Resources created
// from the device must be released first.
func (d *Device) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return
	}
	d.released = true

	if d.device != 0 {
		vkDeviceWaitIdle(d.device)
		vkDestroyDevice(d.device, 0)
	}
	if d.instance != 0 {
		vkDestroyInstance(d.instance, 0)
	}
	d.device = 0
	d.instance = 0
}

// vendorName maps PCI vendor IDs to names.
func vendorName(id uint32) string {
	switch id {
	case 0x10DE:
		return "NVIDIA"
	case 0x1002, 0x1022:
		return "AMD"
	case 0x8086:
		return "Intel"
	case 0x106B:
		return "Apple"
	case 0x13B5:
		return "ARM"
	case 0x5143:
		return "Qualcomm"
	case 0x10005:
		return "Mesa"
	default:
		return fmt.Sprintf("0x%04X", id)
	}
}
