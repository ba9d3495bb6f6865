package vulkan

import (
	"encoding/binary"
	"errors"
	"testing"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// Struct layouts must match the C ABI on 64-bit targets.
func TestStructLayout(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layouts checked on 64-bit targets only")
	}

	var props VkPhysicalDeviceProperties
	if got := unsafe.Offsetof(props.Limits); got != 296 {
		t.Errorf("Limits offset = %d, want 296", got)
	}
	if got := unsafe.Offsetof(props.SparseProperties); got != 800 {
		t.Errorf("SparseProperties offset = %d, want 800", got)
	}
	if got := unsafe.Sizeof(props); got != 824 {
		t.Errorf("VkPhysicalDeviceProperties size = %d, want 824", got)
	}

	var props2 VkPhysicalDeviceProperties2
	if got := unsafe.Offsetof(props2.Properties); got != 16 {
		t.Errorf("Properties2.Properties offset = %d, want 16", got)
	}
	var sub VkPhysicalDeviceSubgroupProperties
	if got := unsafe.Offsetof(sub.SubgroupSize); got != 16 {
		t.Errorf("SubgroupSize offset = %d, want 16", got)
	}

	var entry VkSpecializationMapEntry
	if got := unsafe.Sizeof(entry); got != 16 {
		t.Errorf("VkSpecializationMapEntry size = %d, want 16", got)
	}
	var bufInfo VkBufferCreateInfo
	if got := unsafe.Offsetof(bufInfo.Size); got != 24 {
		t.Errorf("VkBufferCreateInfo.Size offset = %d, want 24", got)
	}
	var mem VkPhysicalDeviceMemoryProperties
	if got := unsafe.Offsetof(mem.MemoryHeaps); got != 264 {
		t.Errorf("MemoryHeaps offset = %d, want 264", got)
	}
	if got := unsafe.Sizeof(mem); got != 520 {
		t.Errorf("VkPhysicalDeviceMemoryProperties size = %d, want 520", got)
	}
	var stage VkPipelineShaderStageCreateInfo
	if got := unsafe.Sizeof(stage); got != 48 {
		t.Errorf("VkPipelineShaderStageCreateInfo size = %d, want 48", got)
	}
}

func TestDecodeLimits(t *testing.T) {
	var raw [504]byte
	put := func(off int, v uint32) { binary.LittleEndian.PutUint32(raw[off:], v) }
	put(limitMaxPushConstantsSize, 128)
	put(limitMaxBoundDescriptorSets, 8)
	put(limitMaxComputeWorkGroupCount, 65535)
	put(limitMaxComputeWorkGroupCount+4, 65535)
	put(limitMaxComputeWorkGroupCount+8, 65535)
	put(limitMaxComputeWorkGroupInvocation, 1024)
	put(limitMaxComputeWorkGroupSize, 1024)
	put(limitMaxComputeWorkGroupSize+4, 1024)
	put(limitMaxComputeWorkGroupSize+8, 64)

	l := decodeLimits(&raw)
	if l.MaxPushConstantsSize != 128 || l.MaxBoundDescriptorSets != 8 {
		t.Fatalf("unexpected limits %+v", l)
	}
	if l.MaxInvocations != 1024 {
		t.Errorf("MaxInvocations = %d, want 1024", l.MaxInvocations)
	}
	if l.MaxGroupSize != (hal.Size{X: 1024, Y: 1024, Z: 64}) {
		t.Errorf("MaxGroupSize = %v", l.MaxGroupSize)
	}

	tests := []struct {
		group hal.Size
		fits  bool
	}{
		{hal.Size{X: 1024, Y: 1, Z: 1}, true},
		{hal.Size{X: 32, Y: 32, Z: 1}, true},
		{hal.Size{X: 32, Y: 33, Z: 1}, false},
		{hal.Size{X: 1, Y: 1, Z: 65}, false},
		{hal.Size{X: 2048, Y: 1, Z: 1}, false},
	}
	for _, tt := range tests {
		if got := l.fits(tt.group); got != tt.fits {
			t.Errorf("fits(%v) = %v, want %v", tt.group, got, tt.fits)
		}
	}
	if !l.fitsGroups(hal.Size{X: 65535, Y: 1, Z: 1}) || l.fitsGroups(hal.Size{X: 65536, Y: 1, Z: 1}) {
		t.Error("fitsGroups ignores the group count limit")
	}
}

func TestPickMemoryType(t *testing.T) {
	props := VkPhysicalDeviceMemoryProperties{MemoryTypeCount: 3}
	props.MemoryTypes[0].PropertyFlags = VK_MEMORY_PROPERTY_DEVICE_LOCAL_BIT
	props.MemoryTypes[1].PropertyFlags = VK_MEMORY_PROPERTY_HOST_VISIBLE_BIT | VK_MEMORY_PROPERTY_HOST_COHERENT_BIT
	props.MemoryTypes[2].PropertyFlags = VK_MEMORY_PROPERTY_HOST_VISIBLE_BIT | VK_MEMORY_PROPERTY_HOST_CACHED_BIT

	pick := func(mode hal.StorageMode, typeBits uint32) (uint32, bool) {
		for _, want := range memoryPreferences(mode) {
			if i, ok := pickMemoryType(&props, typeBits, want); ok {
				return i, true
			}
		}
		return 0, false
	}

	if i, ok := pick(hal.StorageShared, 0b111); !ok || i != 1 {
		t.Errorf("shared picked %d, %v; want 1", i, ok)
	}
	if i, ok := pick(hal.StorageManaged, 0b111); !ok || i != 2 {
		t.Errorf("managed picked %d, %v; want 2", i, ok)
	}
	if i, ok := pick(hal.StorageManaged, 0b011); !ok || i != 1 {
		t.Errorf("managed without cached memory picked %d, %v; want 1", i, ok)
	}
	if _, ok := pick(hal.StorageShared, 0b001); ok {
		t.Error("device-local only memory must not be picked for host access")
	}
}

func TestVkError(t *testing.T) {
	if err := vkError("submit", VK_ERROR_DEVICE_LOST); !errors.Is(err, hal.ErrDeviceLost) {
		t.Errorf("device lost maps to %v", err)
	}
	if err := vkError("allocate", VK_ERROR_OUT_OF_DEVICE_MEMORY); !errors.Is(err, hal.ErrOutOfMemory) {
		t.Errorf("out of device memory maps to %v", err)
	}
	if err := vkError("allocate", VK_ERROR_OUT_OF_HOST_MEMORY); !errors.Is(err, hal.ErrOutOfMemory) {
		t.Errorf("out of host memory maps to %v", err)
	}
	if err := vkError("create", VK_ERROR_INITIALIZATION_FAILED); errors.Is(err, hal.ErrDeviceLost) || err == nil {
		t.Errorf("initialization failure maps to %v", err)
	}
}

func TestVendorName(t *testing.T) {
	if got := vendorName(0x10DE); got != "NVIDIA" {
		t.Errorf("vendorName(0x10DE) = %q", got)
	}
	if got := vendorName(0xBEEF); got != "0xBEEF" {
		t.Errorf("vendorName(0xBEEF) = %q", got)
	}
}

func TestCString(t *testing.T) {
	b := cString("dot_product")
	if len(b) != len("dot_product")+1 || b[len(b)-1] != 0 {
		t.Errorf("cString = %q", b)
	}
}

func TestDeviceCountConsistent(t *testing.T) {
	count := DeviceCount()
	if IsAvailable() != (count > 0) {
		t.Errorf("IsAvailable() = %v with %d devices", IsAvailable(), count)
	}
}
