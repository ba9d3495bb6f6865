package vulkan

import (
	"sync"
)

// Vulkan constants
const (
	VK_SUCCESS                     = 0
	VK_NOT_READY                   = 1
	VK_TIMEOUT                     = 2
	VK_ERROR_OUT_OF_HOST_MEMORY    = -1
	VK_ERROR_OUT_OF_DEVICE_MEMORY  = -2
	VK_ERROR_INITIALIZATION_FAILED = -3
	VK_ERROR_DEVICE_LOST           = -4

	VK_STRUCTURE_TYPE_APPLICATION_INFO                    = 0
	VK_STRUCTURE_TYPE_INSTANCE_CREATE_INFO                = 1
	VK_STRUCTURE_TYPE_DEVICE_QUEUE_CREATE_INFO            = 2
	VK_STRUCTURE_TYPE_DEVICE_CREATE_INFO                  = 3
	VK_STRUCTURE_TYPE_SUBMIT_INFO                         = 4
	VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_INFO                = 5
	VK_STRUCTURE_TYPE_MAPPED_MEMORY_RANGE                 = 6
	VK_STRUCTURE_TYPE_FENCE_CREATE_INFO                   = 8
	VK_STRUCTURE_TYPE_BUFFER_CREATE_INFO                  = 12
	VK_STRUCTURE_TYPE_SHADER_MODULE_CREATE_INFO           = 16
	VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO   = 18
	VK_STRUCTURE_TYPE_COMPUTE_PIPELINE_CREATE_INFO        = 29
	VK_STRUCTURE_TYPE_PIPELINE_LAYOUT_CREATE_INFO         = 30
	VK_STRUCTURE_TYPE_DESCRIPTOR_SET_LAYOUT_CREATE_INFO   = 32
	VK_STRUCTURE_TYPE_DESCRIPTOR_POOL_CREATE_INFO         = 33
	VK_STRUCTURE_TYPE_DESCRIPTOR_SET_ALLOCATE_INFO        = 34
	VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET                = 35
	VK_STRUCTURE_TYPE_COMMAND_POOL_CREATE_INFO            = 39
	VK_STRUCTURE_TYPE_COMMAND_BUFFER_ALLOCATE_INFO        = 40
	VK_STRUCTURE_TYPE_COMMAND_BUFFER_BEGIN_INFO           = 42
	VK_STRUCTURE_TYPE_MEMORY_BARRIER                      = 46
	VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2        = 1000059001
	VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_SUBGROUP_PROPERTIES = 1000094000

	VK_API_VERSION_1_1 = uint32(0x00401000) // Version 1.1.0

	VK_QUEUE_COMPUTE_BIT = 0x00000002

	VK_BUFFER_USAGE_STORAGE_BUFFER_BIT = 0x00000020
	VK_BUFFER_USAGE_TRANSFER_SRC_BIT   = 0x00000001
	VK_BUFFER_USAGE_TRANSFER_DST_BIT   = 0x00000002

	VK_SHARING_MODE_EXCLUSIVE = 0

	VK_MEMORY_PROPERTY_DEVICE_LOCAL_BIT  = 0x00000001
	VK_MEMORY_PROPERTY_HOST_VISIBLE_BIT  = 0x00000002
	VK_MEMORY_PROPERTY_HOST_COHERENT_BIT = 0x00000004
	VK_MEMORY_PROPERTY_HOST_CACHED_BIT   = 0x00000008
	VK_MEMORY_HEAP_DEVICE_LOCAL_BIT      = 0x00000001

	VK_COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT = 0x00000002

	VK_SHADER_STAGE_COMPUTE_BIT = 0x00000020

	VK_DESCRIPTOR_TYPE_STORAGE_BUFFER = 7

	VK_COMMAND_BUFFER_LEVEL_PRIMARY = 0

	VK_COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT = 0x00000001

	VK_PIPELINE_BIND_POINT_COMPUTE = 1

	VK_PIPELINE_STAGE_TOP_OF_PIPE_BIT    = 0x00000001
	VK_PIPELINE_STAGE_COMPUTE_SHADER_BIT = 0x00000800
	VK_PIPELINE_STAGE_HOST_BIT           = 0x00004000

	VK_ACCESS_SHADER_READ_BIT  = 0x00000020
	VK_ACCESS_SHADER_WRITE_BIT = 0x00000040
	VK_ACCESS_HOST_READ_BIT    = 0x00002000
	VK_ACCESS_HOST_WRITE_BIT   = 0x00004000

	VK_WHOLE_SIZE = ^uint64(0)
)

// Vulkan handle types
type VkInstance uintptr
type VkPhysicalDevice uintptr
type VkDevice uintptr
type VkQueue uintptr
type VkBuffer uintptr
type VkDeviceMemory uintptr
type VkCommandPool uintptr
type VkShaderModule uintptr
type VkDescriptorSetLayout uintptr
type VkPipelineLayout uintptr
type VkPipeline uintptr
type VkDescriptorPool uintptr
type VkDescriptorSet uintptr
type VkCommandBuffer uintptr
type VkFence uintptr
type VkDeviceSize uint64
type VkResult int32

// VkApplicationInfo structure
type VkApplicationInfo struct {
	SType              uint32
	PNext              uintptr
	PApplicationName   uintptr
	ApplicationVersion uint32
	PEngineName        uintptr
	EngineVersion      uint32
	ApiVersion         uint32
}

// VkInstanceCreateInfo structure
type VkInstanceCreateInfo struct {
	SType                   uint32
	PNext                   uintptr
	Flags                   uint32
	PApplicationInfo        *VkApplicationInfo
	EnabledLayerCount       uint32
	PpEnabledLayerNames     uintptr
	EnabledExtensionCount   uint32
	PpEnabledExtensionNames uintptr
}

// VkPhysicalDeviceProperties structure. Limits is kept raw; see limits.go.
type VkPhysicalDeviceProperties struct {
	ApiVersion        uint32
	DriverVersion     uint32
	VendorID          uint32
	DeviceID          uint32
	DeviceType        uint32
	DeviceName        [256]byte
	PipelineCacheUUID [16]byte
	_                 [4]byte
	Limits            [504]byte
	SparseProperties  [20]byte
	_                 [4]byte
}

// VkPhysicalDeviceProperties2 structure
type VkPhysicalDeviceProperties2 struct {
	SType      uint32
	PNext      uintptr
	Properties VkPhysicalDeviceProperties
}

// VkPhysicalDeviceSubgroupProperties structure
type VkPhysicalDeviceSubgroupProperties struct {
	SType                     uint32
	PNext                     uintptr
	SubgroupSize              uint32
	SupportedStages           uint32
	SupportedOperations       uint32
	QuadOperationsInAllStages uint32
}

// VkPhysicalDeviceMemoryProperties structure
type VkPhysicalDeviceMemoryProperties struct {
	MemoryTypeCount uint32
	MemoryTypes     [32]VkMemoryType
	MemoryHeapCount uint32
	MemoryHeaps     [16]VkMemoryHeap
}

// VkMemoryType structure
type VkMemoryType struct {
	PropertyFlags uint32
	HeapIndex     uint32
}

// VkMemoryHeap structure
type VkMemoryHeap struct {
	Size  VkDeviceSize
	Flags uint32
}

// VkQueueFamilyProperties structure
type VkQueueFamilyProperties struct {
	QueueFlags                  uint32
	QueueCount                  uint32
	TimestampValidBits          uint32
	MinImageTransferGranularity [3]uint32
}

// VkDeviceQueueCreateInfo structure
type VkDeviceQueueCreateInfo struct {
	SType            uint32
	PNext            uintptr
	Flags            uint32
	QueueFamilyIndex uint32
	QueueCount       uint32
	PQueuePriorities *float32
}

// VkDeviceCreateInfo structure
type VkDeviceCreateInfo struct {
	SType                   uint32
	PNext                   uintptr
	Flags                   uint32
	QueueCreateInfoCount    uint32
	PQueueCreateInfos       *VkDeviceQueueCreateInfo
	EnabledLayerCount       uint32
	PpEnabledLayerNames     uintptr
	EnabledExtensionCount   uint32
	PpEnabledExtensionNames uintptr
	PEnabledFeatures        uintptr
}

// VkBufferCreateInfo structure
type VkBufferCreateInfo struct {
	SType                 uint32
	PNext                 uintptr
	Flags                 uint32
	Size                  VkDeviceSize
	Usage                 uint32
	SharingMode           uint32
	QueueFamilyIndexCount uint32
	PQueueFamilyIndices   *uint32
}

// VkMemoryRequirements structure
type VkMemoryRequirements struct {
	Size           VkDeviceSize
	Alignment      VkDeviceSize
	MemoryTypeBits uint32
}

// VkMemoryAllocateInfo structure
type VkMemoryAllocateInfo struct {
	SType           uint32
	PNext           uintptr
	AllocationSize  VkDeviceSize
	MemoryTypeIndex uint32
}

// VkMappedMemoryRange structure
type VkMappedMemoryRange struct {
	SType  uint32
	PNext  uintptr
	Memory VkDeviceMemory
	Offset VkDeviceSize
	Size   VkDeviceSize
}

// VkCommandPoolCreateInfo structure
type VkCommandPoolCreateInfo struct {
	SType            uint32
	PNext            uintptr
	Flags            uint32
	QueueFamilyIndex uint32
}

// VkShaderModuleCreateInfo structure
type VkShaderModuleCreateInfo struct {
	SType    uint32
	PNext    uintptr
	Flags    uint32
	CodeSize uintptr
	PCode    *uint32
}

// VkDescriptorSetLayoutBinding structure
type VkDescriptorSetLayoutBinding struct {
	Binding            uint32
	DescriptorType     uint32
	DescriptorCount    uint32
	StageFlags         uint32
	PImmutableSamplers uintptr
}

// VkDescriptorSetLayoutCreateInfo structure
type VkDescriptorSetLayoutCreateInfo struct {
	SType        uint32
	PNext        uintptr
	Flags        uint32
	BindingCount uint32
	PBindings    *VkDescriptorSetLayoutBinding
}

// VkPushConstantRange structure
type VkPushConstantRange struct {
	StageFlags uint32
	Offset     uint32
	Size       uint32
}

// VkPipelineLayoutCreateInfo structure
type VkPipelineLayoutCreateInfo struct {
	SType                  uint32
	PNext                  uintptr
	Flags                  uint32
	SetLayoutCount         uint32
	PSetLayouts            *VkDescriptorSetLayout
	PushConstantRangeCount uint32
	PPushConstantRanges    *VkPushConstantRange
}

// VkSpecializationMapEntry structure
type VkSpecializationMapEntry struct {
	ConstantID uint32
	Offset     uint32
	Size       uintptr
}

// VkSpecializationInfo structure
type VkSpecializationInfo struct {
	MapEntryCount uint32
	PMapEntries   *VkSpecializationMapEntry
	DataSize      uintptr
	PData         uintptr
}

// VkPipelineShaderStageCreateInfo structure
type VkPipelineShaderStageCreateInfo struct {
	SType               uint32
	PNext               uintptr
	Flags               uint32
	Stage               uint32
	Module              VkShaderModule
	PName               uintptr
	PSpecializationInfo *VkSpecializationInfo
}

// VkComputePipelineCreateInfo structure
type VkComputePipelineCreateInfo struct {
	SType              uint32
	PNext              uintptr
	Flags              uint32
	Stage              VkPipelineShaderStageCreateInfo
	Layout             VkPipelineLayout
	BasePipelineHandle VkPipeline
	BasePipelineIndex  int32
}

// VkDescriptorPoolSize structure
type VkDescriptorPoolSize struct {
	Type            uint32
	DescriptorCount uint32
}

// VkDescriptorPoolCreateInfo structure
type VkDescriptorPoolCreateInfo struct {
	SType         uint32
	PNext         uintptr
	Flags         uint32
	MaxSets       uint32
	PoolSizeCount uint32
	PPoolSizes    *VkDescriptorPoolSize
}

// VkDescriptorSetAllocateInfo structure
type VkDescriptorSetAllocateInfo struct {
	SType              uint32
	PNext              uintptr
	DescriptorPool     VkDescriptorPool
	DescriptorSetCount uint32
	PSetLayouts        *VkDescriptorSetLayout
}

// VkDescriptorBufferInfo structure
type VkDescriptorBufferInfo struct {
	Buffer VkBuffer
	Offset VkDeviceSize
	Range  VkDeviceSize
}

// VkWriteDescriptorSet structure
type VkWriteDescriptorSet struct {
	SType            uint32
	PNext            uintptr
	DstSet           VkDescriptorSet
	DstBinding       uint32
	DstArrayElement  uint32
	DescriptorCount  uint32
	DescriptorType   uint32
	PImageInfo       uintptr
	PBufferInfo      *VkDescriptorBufferInfo
	PTexelBufferView uintptr
}

// VkCommandBufferAllocateInfo structure
type VkCommandBufferAllocateInfo struct {
	SType              uint32
	PNext              uintptr
	CommandPool        VkCommandPool
	Level              uint32
	CommandBufferCount uint32
}

// VkCommandBufferBeginInfo structure
type VkCommandBufferBeginInfo struct {
	SType            uint32
	PNext            uintptr
	Flags            uint32
	PInheritanceInfo uintptr
}

// VkMemoryBarrier structure
type VkMemoryBarrier struct {
	SType         uint32
	PNext         uintptr
	SrcAccessMask uint32
	DstAccessMask uint32
}

// VkFenceCreateInfo structure
type VkFenceCreateInfo struct {
	SType uint32
	PNext uintptr
	Flags uint32
}

// VkSubmitInfo structure
type VkSubmitInfo struct {
	SType                uint32
	PNext                uintptr
	WaitSemaphoreCount   uint32
	PWaitSemaphores      uintptr
	PWaitDstStageMask    uintptr
	CommandBufferCount   uint32
	PCommandBuffers      *VkCommandBuffer
	SignalSemaphoreCount uint32
	PSignalSemaphores    uintptr
}

// Vulkan function pointers (set by registerFunctions)
var (
	vulkanLib uintptr
	vulkanMu  sync.Mutex
	vulkanErr error

	// Instance functions
	vkCreateInstance                         func(pCreateInfo *VkInstanceCreateInfo, pAllocator uintptr, pInstance *VkInstance) VkResult
	vkDestroyInstance                        func(instance VkInstance, pAllocator uintptr)
	vkEnumeratePhysicalDevices               func(instance VkInstance, pPhysicalDeviceCount *uint32, pPhysicalDevices *VkPhysicalDevice) VkResult
	vkGetPhysicalDeviceProperties            func(physicalDevice VkPhysicalDevice, pProperties *VkPhysicalDeviceProperties)
	vkGetPhysicalDeviceProperties2           func(physicalDevice VkPhysicalDevice, pProperties *VkPhysicalDeviceProperties2)
	vkGetPhysicalDeviceMemoryProperties      func(physicalDevice VkPhysicalDevice, pMemoryProperties *VkPhysicalDeviceMemoryProperties)
	vkGetPhysicalDeviceQueueFamilyProperties func(physicalDevice VkPhysicalDevice, pQueueFamilyPropertyCount *uint32, pQueueFamilyProperties *VkQueueFamilyProperties)
	vkCreateDevice                           func(physicalDevice VkPhysicalDevice, pCreateInfo *VkDeviceCreateInfo, pAllocator uintptr, pDevice *VkDevice) VkResult
	vkDestroyDevice                          func(device VkDevice, pAllocator uintptr)
	vkGetDeviceQueue                         func(device VkDevice, queueFamilyIndex uint32, queueIndex uint32, pQueue *VkQueue)
	vkDeviceWaitIdle                         func(device VkDevice) VkResult

	// Memory
	vkCreateBuffer                 func(device VkDevice, pCreateInfo *VkBufferCreateInfo, pAllocator uintptr, pBuffer *VkBuffer) VkResult
	vkDestroyBuffer                func(device VkDevice, buffer VkBuffer, pAllocator uintptr)
	vkGetBufferMemoryRequirements  func(device VkDevice, buffer VkBuffer, pMemoryRequirements *VkMemoryRequirements)
	vkAllocateMemory               func(device VkDevice, pAllocateInfo *VkMemoryAllocateInfo, pAllocator uintptr, pMemory *VkDeviceMemory) VkResult
	vkFreeMemory                   func(device VkDevice, memory VkDeviceMemory, pAllocator uintptr)
	vkBindBufferMemory             func(device VkDevice, buffer VkBuffer, memory VkDeviceMemory, memoryOffset VkDeviceSize) VkResult
	vkMapMemory                    func(device VkDevice, memory VkDeviceMemory, offset VkDeviceSize, size VkDeviceSize, flags uint32, ppData *uintptr) VkResult
	vkUnmapMemory                  func(device VkDevice, memory VkDeviceMemory)
	vkFlushMappedMemoryRanges      func(device VkDevice, memoryRangeCount uint32, pMemoryRanges *VkMappedMemoryRange) VkResult
	vkInvalidateMappedMemoryRanges func(device VkDevice, memoryRangeCount uint32, pMemoryRanges *VkMappedMemoryRange) VkResult

	// Pipelines
	vkCreateShaderModule         func(device VkDevice, pCreateInfo *VkShaderModuleCreateInfo, pAllocator uintptr, pShaderModule *VkShaderModule) VkResult
	vkDestroyShaderModule        func(device VkDevice, shaderModule VkShaderModule, pAllocator uintptr)
	vkCreateDescriptorSetLayout  func(device VkDevice, pCreateInfo *VkDescriptorSetLayoutCreateInfo, pAllocator uintptr, pSetLayout *VkDescriptorSetLayout) VkResult
	vkDestroyDescriptorSetLayout func(device VkDevice, descriptorSetLayout VkDescriptorSetLayout, pAllocator uintptr)
	vkCreatePipelineLayout       func(device VkDevice, pCreateInfo *VkPipelineLayoutCreateInfo, pAllocator uintptr, pPipelineLayout *VkPipelineLayout) VkResult
	vkDestroyPipelineLayout      func(device VkDevice, pipelineLayout VkPipelineLayout, pAllocator uintptr)
	vkCreateComputePipelines     func(device VkDevice, pipelineCache uintptr, createInfoCount uint32, pCreateInfos *VkComputePipelineCreateInfo, pAllocator uintptr, pPipelines *VkPipeline) VkResult
	vkDestroyPipeline            func(device VkDevice, pipeline VkPipeline, pAllocator uintptr)

	// Descriptors
	vkCreateDescriptorPool   func(device VkDevice, pCreateInfo *VkDescriptorPoolCreateInfo, pAllocator uintptr, pDescriptorPool *VkDescriptorPool) VkResult
	vkDestroyDescriptorPool  func(device VkDevice, descriptorPool VkDescriptorPool, pAllocator uintptr)
	vkAllocateDescriptorSets func(device VkDevice, pAllocateInfo *VkDescriptorSetAllocateInfo, pDescriptorSets *VkDescriptorSet) VkResult
	vkUpdateDescriptorSets   func(device VkDevice, descriptorWriteCount uint32, pDescriptorWrites *VkWriteDescriptorSet, descriptorCopyCount uint32, pDescriptorCopies uintptr)

	// Commands
	vkCreateCommandPool      func(device VkDevice, pCreateInfo *VkCommandPoolCreateInfo, pAllocator uintptr, pCommandPool *VkCommandPool) VkResult
	vkDestroyCommandPool     func(device VkDevice, commandPool VkCommandPool, pAllocator uintptr)
	vkAllocateCommandBuffers func(device VkDevice, pAllocateInfo *VkCommandBufferAllocateInfo, pCommandBuffers *VkCommandBuffer) VkResult
	vkFreeCommandBuffers     func(device VkDevice, commandPool VkCommandPool, commandBufferCount uint32, pCommandBuffers *VkCommandBuffer)
	vkBeginCommandBuffer     func(commandBuffer VkCommandBuffer, pBeginInfo *VkCommandBufferBeginInfo) VkResult
	vkEndCommandBuffer       func(commandBuffer VkCommandBuffer) VkResult
	vkCmdBindPipeline        func(commandBuffer VkCommandBuffer, pipelineBindPoint uint32, pipeline VkPipeline)
	vkCmdBindDescriptorSets  func(commandBuffer VkCommandBuffer, pipelineBindPoint uint32, layout VkPipelineLayout, firstSet uint32, descriptorSetCount uint32, pDescriptorSets *VkDescriptorSet, dynamicOffsetCount uint32, pDynamicOffsets uintptr)
	vkCmdPushConstants       func(commandBuffer VkCommandBuffer, layout VkPipelineLayout, stageFlags uint32, offset uint32, size uint32, pValues uintptr)
	vkCmdDispatch            func(commandBuffer VkCommandBuffer, groupCountX uint32, groupCountY uint32, groupCountZ uint32)
	vkCmdPipelineBarrier     func(commandBuffer VkCommandBuffer, srcStageMask uint32, dstStageMask uint32, dependencyFlags uint32, memoryBarrierCount uint32, pMemoryBarriers *VkMemoryBarrier, bufferMemoryBarrierCount uint32, pBufferMemoryBarriers uintptr, imageMemoryBarrierCount uint32, pImageMemoryBarriers uintptr)

	// Submission
	vkQueueSubmit   func(queue VkQueue, submitCount uint32, pSubmits *VkSubmitInfo, fence VkFence) VkResult
	vkCreateFence   func(device VkDevice, pCreateInfo *VkFenceCreateInfo, pAllocator uintptr, pFence *VkFence) VkResult
	vkDestroyFence  func(device VkDevice, fence VkFence, pAllocator uintptr)
	vkWaitForFences func(device VkDevice, fenceCount uint32, pFences *VkFence, waitAll uint32, timeout uint64) VkResult
)

// symbols maps every function pointer to its exported name. Entries marked
// optional may be absent from a Vulkan 1.0 loader.
var symbols = []struct {
	fptr     any
	name     string
	optional bool
}{
	{&vkCreateInstance, "vkCreateInstance", false},
	{&vkDestroyInstance, "vkDestroyInstance", false},
	{&vkEnumeratePhysicalDevices, "vkEnumeratePhysicalDevices", false},
	{&vkGetPhysicalDeviceProperties, "vkGetPhysicalDeviceProperties", false},
	{&vkGetPhysicalDeviceProperties2, "vkGetPhysicalDeviceProperties2", true},
	{&vkGetPhysicalDeviceMemoryProperties, "vkGetPhysicalDeviceMemoryProperties", false},
	{&vkGetPhysicalDeviceQueueFamilyProperties, "vkGetPhysicalDeviceQueueFamilyProperties", false},
	{&vkCreateDevice, "vkCreateDevice", false},
	{&vkDestroyDevice, "vkDestroyDevice", false},
	{&vkGetDeviceQueue, "vkGetDeviceQueue", false},
	{&vkDeviceWaitIdle, "vkDeviceWaitIdle", false},

	{&vkCreateBuffer, "vkCreateBuffer", false},
	{&vkDestroyBuffer, "vkDestroyBuffer", false},
	{&vkGetBufferMemoryRequirements, "vkGetBufferMemoryRequirements", false},
	{&vkAllocateMemory, "vkAllocateMemory", false},
	{&vkFreeMemory, "vkFreeMemory", false},
	{&vkBindBufferMemory, "vkBindBufferMemory", false},
	{&vkMapMemory, "vkMapMemory", false},
	{&vkUnmapMemory, "vkUnmapMemory", false},
	{&vkFlushMappedMemoryRanges, "vkFlushMappedMemoryRanges", false},
	{&vkInvalidateMappedMemoryRanges, "vkInvalidateMappedMemoryRanges", false},

	{&vkCreateShaderModule, "vkCreateShaderModule", false},
	{&vkDestroyShaderModule, "vkDestroyShaderModule", false},
	{&vkCreateDescriptorSetLayout, "vkCreateDescriptorSetLayout", false},
	{&vkDestroyDescriptorSetLayout, "vkDestroyDescriptorSetLayout", false},
	{&vkCreatePipelineLayout, "vkCreatePipelineLayout", false},
	{&vkDestroyPipelineLayout, "vkDestroyPipelineLayout", false},
	{&vkCreateComputePipelines, "vkCreateComputePipelines", false},
	{&vkDestroyPipeline, "vkDestroyPipeline", false},

	{&vkCreateDescriptorPool, "vkCreateDescriptorPool", false},
	{&vkDestroyDescriptorPool, "vkDestroyDescriptorPool", false},
	{&vkAllocateDescriptorSets, "vkAllocateDescriptorSets", false},
	{&vkUpdateDescriptorSets, "vkUpdateDescriptorSets", false},

	{&vkCreateCommandPool, "vkCreateCommandPool", false},
	{&vkDestroyCommandPool, "vkDestroyCommandPool", false},
	{&vkAllocateCommandBuffers, "vkAllocateCommandBuffers", false},
	{&vkFreeCommandBuffers, "vkFreeCommandBuffers", false},
	{&vkBeginCommandBuffer, "vkBeginCommandBuffer", false},
	{&vkEndCommandBuffer, "vkEndCommandBuffer", false},
	{&vkCmdBindPipeline, "vkCmdBindPipeline", false},
	{&vkCmdBindDescriptorSets, "vkCmdBindDescriptorSets", false},
	{&vkCmdPushConstants, "vkCmdPushConstants", false},
	{&vkCmdDispatch, "vkCmdDispatch", false},
	{&vkCmdPipelineBarrier, "vkCmdPipelineBarrier", false},

	{&vkQueueSubmit, "vkQueueSubmit", false},
	{&vkCreateFence, "vkCreateFence", false},
	{&vkDestroyFence, "vkDestroyFence", false},
	{&vkWaitForFences, "vkWaitForFences", false},
}
