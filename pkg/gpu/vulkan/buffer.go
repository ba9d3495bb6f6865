package vulkan

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// Buffer represents a Vulkan memory buffer, persistently mapped.
type Buffer struct {
	device   *Device
	mode     hal.StorageMode
	buffer   VkBuffer
	memory   VkDeviceMemory
	size     uint64
	mapped   uintptr
	coherent bool

	mu       sync.Mutex
	released bool
}

var _ hal.Buffer = (*Buffer)(nil)

// NewBuffer creates a zero-filled buffer.
func (d *Device) NewBuffer(length uint64, mode hal.StorageMode) (hal.Buffer, error) {
	b, err := d.newBuffer(length, mode)
	if err != nil {
		return nil, err
	}
	clear(b.Contents())
	if err := b.DidModifyRange(0, length); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

// NewBufferWithBytes creates a buffer holding a copy of data.
func (d *Device) NewBufferWithBytes(data []byte, mode hal.StorageMode) (hal.Buffer, error) {
	b, err := d.newBuffer(uint64(len(data)), mode)
	if err != nil {
		return nil, err
	}
	copy(b.Contents(), data)
	if err := b.DidModifyRange(0, b.size); err != nil {
		b.Release()
		return nil, err
	}
	return b, nil
}

func (d *Device) newBuffer(length uint64, mode hal.StorageMode) (*Buffer, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unsupported storage mode %v", ErrBufferCreation, mode)
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: cannot create empty buffer", ErrBufferCreation)
	}

	bufferInfo := VkBufferCreateInfo{
		SType:       VK_STRUCTURE_TYPE_BUFFER_CREATE_INFO,
		Size:        VkDeviceSize(length),
		Usage:       VK_BUFFER_USAGE_STORAGE_BUFFER_BIT | VK_BUFFER_USAGE_TRANSFER_SRC_BIT | VK_BUFFER_USAGE_TRANSFER_DST_BIT,
		SharingMode: VK_SHARING_MODE_EXCLUSIVE,
	}
	var buffer VkBuffer
	if err := d.check("create buffer", vkCreateBuffer(d.device, &bufferInfo, 0, &buffer)); err != nil {
		return nil, err
	}

	var memReqs VkMemoryRequirements
	vkGetBufferMemoryRequirements(d.device, buffer, &memReqs)

	var (
		memTypeIndex uint32
		flags        uint32
		found        bool
	)
	for _, want := range memoryPreferences(mode) {
		if memTypeIndex, found = pickMemoryType(&d.memProps, memReqs.MemoryTypeBits, want); found {
			flags = d.memProps.MemoryTypes[memTypeIndex].PropertyFlags
			break
		}
	}
	if !found {
		vkDestroyBuffer(d.device, buffer, 0)
		return nil, fmt.Errorf("%w: no host-visible memory type for %s", ErrBufferCreation, mode)
	}

	allocInfo := VkMemoryAllocateInfo{
		SType:           VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_INFO,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memTypeIndex,
	}
	var memory VkDeviceMemory
	if err := d.check("allocate memory", vkAllocateMemory(d.device, &allocInfo, 0, &memory)); err != nil {
		vkDestroyBuffer(d.device, buffer, 0)
		return nil, err
	}
	if err := d.check("bind buffer memory", vkBindBufferMemory(d.device, buffer, memory, 0)); err != nil {
		vkFreeMemory(d.device, memory, 0)
		vkDestroyBuffer(d.device, buffer, 0)
		return nil, err
	}

	var mapped uintptr
	if err := d.check("map memory", vkMapMemory(d.device, memory, 0, VkDeviceSize(VK_WHOLE_SIZE), 0, &mapped)); err != nil {
		vkFreeMemory(d.device, memory, 0)
		vkDestroyBuffer(d.device, buffer, 0)
		return nil, err
	}

	return &Buffer{
		device:   d,
		mode:     mode,
		buffer:   buffer,
		memory:   memory,
		size:     length,
		mapped:   mapped,
		coherent: flags&VK_MEMORY_PROPERTY_HOST_COHERENT_BIT != 0,
	}, nil
}

func (b *Buffer) Length() uint64 {
	return b.size
}

func (b *Buffer) StorageMode() hal.StorageMode {
	return b.mode
}

// Contents is the mapped allocation.
func (b *Buffer) Contents() []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(b.mapped)), b.size)
}

// DidModifyRange flushes host writes for non-coherent memory. Flushes cover
// the whole allocation so they never violate nonCoherentAtomSize.
func (b *Buffer) DidModifyRange(offset, length uint64) error {
	if b.coherent || length == 0 || offset >= b.size {
		return nil
	}
	r := b.mappedRange()
	return b.device.check("flush mapped memory", vkFlushMappedMemoryRanges(b.device.device, 1, &r))
}

// invalidate makes device writes visible through the mapping.
func (b *Buffer) invalidate() error {
	if b.coherent {
		return nil
	}
	r := b.mappedRange()
	return b.device.check("invalidate mapped memory", vkInvalidateMappedMemoryRanges(b.device.device, 1, &r))
}

func (b *Buffer) mappedRange() VkMappedMemoryRange {
	return VkMappedMemoryRange{
		SType:  VK_STRUCTURE_TYPE_MAPPED_MEMORY_RANGE,
		Memory: b.memory,
		Size:   VkDeviceSize(VK_WHOLE_SIZE),
	}
}

// Release frees the buffer resources.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return
	}
	b.released = true

	device := b.device.device
	if b.mapped != 0 {
		vkUnmapMemory(device, b.memory)
	}
	if b.buffer != 0 {
		vkDestroyBuffer(device, b.buffer, 0)
	}
	if b.memory != 0 {
		vkFreeMemory(device, b.memory, 0)
	}
	b.buffer = 0
	b.memory = 0
	b.mapped = 0
}
