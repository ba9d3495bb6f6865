package vulkan

import (
	"encoding/binary"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// Byte offsets into VkPhysicalDeviceLimits.
const (
	limitMaxPushConstantsSize          = 32
	limitMaxBoundDescriptorSets        = 64
	limitMaxComputeWorkGroupCount      = 220
	limitMaxComputeWorkGroupInvocation = 232
	limitMaxComputeWorkGroupSize       = 236
)

// computeLimits is the compute slice of VkPhysicalDeviceLimits.
type computeLimits struct {
	MaxPushConstantsSize   uint32
	MaxBoundDescriptorSets uint32
	MaxGroupCount          hal.Size
	MaxInvocations         uint32
	MaxGroupSize           hal.Size
}

func decodeLimits(raw *[504]byte) computeLimits {
	u32 := func(off int) uint32 { return binary.LittleEndian.Uint32(raw[off:]) }
	size := func(off int) hal.Size {
		return hal.Size{X: u32(off), Y: u32(off + 4), Z: u32(off + 8)}
	}
	return computeLimits{
		MaxPushConstantsSize:   u32(limitMaxPushConstantsSize),
		MaxBoundDescriptorSets: u32(limitMaxBoundDescriptorSets),
		MaxGroupCount:          size(limitMaxComputeWorkGroupCount),
		MaxInvocations:         u32(limitMaxComputeWorkGroupInvocation),
		MaxGroupSize:           size(limitMaxComputeWorkGroupSize),
	}
}

// fits reports whether group is launchable under l.
func (l computeLimits) fits(group hal.Size) bool {
	return group.X <= l.MaxGroupSize.X && group.Y <= l.MaxGroupSize.Y && group.Z <= l.MaxGroupSize.Z &&
		group.Threads() <= uint64(l.MaxInvocations)
}

// fitsGroups reports whether a groups count is dispatchable under l.
func (l computeLimits) fitsGroups(groups hal.Size) bool {
	return groups.X <= l.MaxGroupCount.X && groups.Y <= l.MaxGroupCount.Y && groups.Z <= l.MaxGroupCount.Z
}

// pickMemoryType returns the first type allowed by typeBits that has every
// flag in want.
func pickMemoryType(props *VkPhysicalDeviceMemoryProperties, typeBits, want uint32) (uint32, bool) {
	for i := uint32(0); i < props.MemoryTypeCount && i < 32; i++ {
		if typeBits&(1<<i) != 0 && props.MemoryTypes[i].PropertyFlags&want == want {
			return i, true
		}
	}
	return 0, false
}

// memoryPreferences lists the property sets tried for a storage mode, best
// first.
func memoryPreferences(mode hal.StorageMode) []uint32 {
	coherent := uint32(VK_MEMORY_PROPERTY_HOST_VISIBLE_BIT | VK_MEMORY_PROPERTY_HOST_COHERENT_BIT)
	if mode == hal.StorageManaged {
		return []uint32{
			VK_MEMORY_PROPERTY_HOST_VISIBLE_BIT | VK_MEMORY_PROPERTY_HOST_CACHED_BIT,
			coherent,
		}
	}
	return []uint32{coherent}
}
