package vulkan

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// queue runs committed command buffers one at a time on its own goroutine:
// record, submit with a fence, wait, post-process. Completion is therefore
// in commit order.
type queue struct {
	dev  *Device
	pool VkCommandPool

	mu      sync.Mutex
	cond    *sync.Cond
	pending []*commandBuffer
	closed  bool
	done    chan struct{}
}

// NewCommandQueue creates a queue with its own command pool.
func (d *Device) NewCommandQueue() (hal.CommandQueue, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	poolCreateInfo := VkCommandPoolCreateInfo{
		SType:            VK_STRUCTURE_TYPE_COMMAND_POOL_CREATE_INFO,
		Flags:            VK_COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT,
		QueueFamilyIndex: d.queueFamily,
	}
	q := &queue{dev: d, done: make(chan struct{})}
	if err := d.check("create command pool", vkCreateCommandPool(d.device, &poolCreateInfo, 0, &q.pool)); err != nil {
		return nil, err
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q, nil
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		cb := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		cb.finish(q.execute(cb))
	}
}

func (q *queue) submit(cb *commandBuffer) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return hal.ErrReleased
	}
	q.pending = append(q.pending, cb)
	q.cond.Signal()
	return nil
}

func (q *queue) NewCommandBuffer() (hal.CommandBuffer, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return nil, hal.ErrReleased
	}
	return &commandBuffer{queue: q, done: make(chan struct{})}, nil
}

// Release drains committed work, then destroys the command pool.
func (q *queue) Release() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()

	go func() {
		<-q.done
		vkDestroyCommandPool(q.dev.device, q.pool, 0)
	}()
}

// dispatchCmd is one recorded DispatchThreads call.
type dispatchCmd struct {
	pipeline *pipeline
	variant  VkPipeline
	buffers  []VkDescriptorBufferInfo
	grid     hal.Size
	groups   hal.Size
}

type commandBuffer struct {
	queue      *queue
	dispatches []dispatchCmd
	// syncs are Managed buffers to invalidate once the fence signals.
	syncs     []*Buffer
	committed atomic.Bool
	done      chan struct{}
	err       error
}

func (cb *commandBuffer) DispatchThreads(p hal.Pipeline, bindings []hal.Binding, grid, group hal.Size) error {
	if cb.committed.Load() {
		return hal.ErrCommitted
	}
	dev := cb.queue.dev
	pl, ok := p.(*pipeline)
	if !ok || pl.dev != dev {
		return hal.ErrForeignResource
	}
	if grid.IsZero() || group.IsZero() {
		return fmt.Errorf("vulkan: empty dispatch grid %v group %v", grid, group)
	}
	if group.Threads() > uint64(pl.maxThreads) || !dev.limits.fits(group) {
		return fmt.Errorf("vulkan: group %v exceeds device limits", group)
	}
	groups := group.GroupsFor(grid)
	if !dev.limits.fitsGroups(groups) {
		return fmt.Errorf("vulkan: %v groups exceed device limits", groups)
	}

	infos := make([]VkDescriptorBufferInfo, pl.bindings)
	for _, bd := range bindings {
		buf, ok := bd.Buffer.(*Buffer)
		if !ok || buf.device != dev {
			return hal.ErrForeignResource
		}
		if bd.Index >= pl.bindings {
			return fmt.Errorf("vulkan: %s has no buffer slot %d", pl.fn.entry.Name, bd.Index)
		}
		if bd.Offset >= buf.size {
			return fmt.Errorf("vulkan: invalid offset %d for a %d byte buffer", bd.Offset, buf.size)
		}
		infos[bd.Index] = VkDescriptorBufferInfo{
			Buffer: buf.buffer,
			Offset: VkDeviceSize(bd.Offset),
			Range:  VkDeviceSize(VK_WHOLE_SIZE),
		}
	}
	for i, info := range infos {
		if info.Buffer == 0 {
			return fmt.Errorf("vulkan: %s slot %d is unbound", pl.fn.entry.Name, i)
		}
	}

	vp, err := pl.variant(group)
	if err != nil {
		return err
	}
	cb.dispatches = append(cb.dispatches, dispatchCmd{
		pipeline: pl,
		variant:  vp,
		buffers:  infos,
		grid:     grid,
		groups:   groups,
	})
	return nil
}

// SynchronizeResource makes the device's writes to b visible to the host
// once the command buffer completes.
func (cb *commandBuffer) SynchronizeResource(b hal.Buffer) error {
	if cb.committed.Load() {
		return hal.ErrCommitted
	}
	buf, ok := b.(*Buffer)
	if !ok || buf.device != cb.queue.dev {
		return hal.ErrForeignResource
	}
	cb.syncs = append(cb.syncs, buf)
	return nil
}

func (cb *commandBuffer) Commit() error {
	if cb.committed.Swap(true) {
		return hal.ErrCommitted
	}
	if cb.queue.dev.lost.Load() {
		cb.finish(hal.ErrDeviceLost)
		return nil
	}
	if err := cb.queue.submit(cb); err != nil {
		cb.finish(err)
		return err
	}
	return nil
}

func (cb *commandBuffer) WaitUntilCompleted() error {
	if !cb.committed.Load() {
		return hal.ErrNotCommitted
	}
	<-cb.done
	return cb.err
}

func (cb *commandBuffer) finish(err error) {
	cb.err = err
	close(cb.done)
}

// execute records cb into a fresh VkCommandBuffer, submits it and waits on
// its fence.
func (q *queue) execute(cb *commandBuffer) error {
	d := q.dev
	if err := d.usable(); err != nil {
		return err
	}

	var pool VkDescriptorPool
	if len(cb.dispatches) > 0 {
		var err error
		if pool, err = q.descriptorPool(cb); err != nil {
			return err
		}
		defer vkDestroyDescriptorPool(d.device, pool, 0)
	}

	cmdAllocInfo := VkCommandBufferAllocateInfo{
		SType:              VK_STRUCTURE_TYPE_COMMAND_BUFFER_ALLOCATE_INFO,
		CommandPool:        q.pool,
		Level:              VK_COMMAND_BUFFER_LEVEL_PRIMARY,
		CommandBufferCount: 1,
	}
	var commandBuffer VkCommandBuffer
	if err := d.check("allocate command buffer", vkAllocateCommandBuffers(d.device, &cmdAllocInfo, &commandBuffer)); err != nil {
		return err
	}
	defer vkFreeCommandBuffers(d.device, q.pool, 1, &commandBuffer)

	beginInfo := VkCommandBufferBeginInfo{
		SType: VK_STRUCTURE_TYPE_COMMAND_BUFFER_BEGIN_INFO,
		Flags: VK_COMMAND_BUFFER_USAGE_ONE_TIME_SUBMIT_BIT,
	}
	if err := d.check("begin command buffer", vkBeginCommandBuffer(commandBuffer, &beginInfo)); err != nil {
		return err
	}

	// Host writes and earlier submissions happen before this one.
	barrier(commandBuffer,
		VK_PIPELINE_STAGE_HOST_BIT|VK_PIPELINE_STAGE_COMPUTE_SHADER_BIT, VK_PIPELINE_STAGE_COMPUTE_SHADER_BIT,
		VK_ACCESS_HOST_WRITE_BIT|VK_ACCESS_SHADER_WRITE_BIT, VK_ACCESS_SHADER_READ_BIT|VK_ACCESS_SHADER_WRITE_BIT)

	for i := range cb.dispatches {
		if err := q.record(commandBuffer, pool, &cb.dispatches[i]); err != nil {
			return err
		}
		barrier(commandBuffer,
			VK_PIPELINE_STAGE_COMPUTE_SHADER_BIT, VK_PIPELINE_STAGE_COMPUTE_SHADER_BIT,
			VK_ACCESS_SHADER_WRITE_BIT, VK_ACCESS_SHADER_READ_BIT|VK_ACCESS_SHADER_WRITE_BIT)
	}

	barrier(commandBuffer,
		VK_PIPELINE_STAGE_COMPUTE_SHADER_BIT, VK_PIPELINE_STAGE_HOST_BIT,
		VK_ACCESS_SHADER_WRITE_BIT, VK_ACCESS_HOST_READ_BIT)

	if err := d.check("end command buffer", vkEndCommandBuffer(commandBuffer)); err != nil {
		return err
	}

	fenceInfo := VkFenceCreateInfo{SType: VK_STRUCTURE_TYPE_FENCE_CREATE_INFO}
	var fence VkFence
	if err := d.check("create fence", vkCreateFence(d.device, &fenceInfo, 0, &fence)); err != nil {
		return err
	}
	defer vkDestroyFence(d.device, fence, 0)

	submitInfo := VkSubmitInfo{
		SType:              VK_STRUCTURE_TYPE_SUBMIT_INFO,
		CommandBufferCount: 1,
		PCommandBuffers:    &commandBuffer,
	}
	d.submitMu.Lock()
	result := vkQueueSubmit(d.computeQueue, 1, &submitInfo, fence)
	d.submitMu.Unlock()
	if err := d.check("submit to queue", result); err != nil {
		return err
	}

	if err := d.check("wait for fence", vkWaitForFences(d.device, 1, &fence, 1, ^uint64(0))); err != nil {
		return err
	}

	for _, b := range cb.syncs {
		if err := b.invalidate(); err != nil {
			return err
		}
	}
	return nil
}

// descriptorPool sizes a pool for every dispatch in cb.
func (q *queue) descriptorPool(cb *commandBuffer) (VkDescriptorPool, error) {
	var descriptors uint32
	for _, dc := range cb.dispatches {
		descriptors += uint32(len(dc.buffers))
	}
	poolSize := VkDescriptorPoolSize{
		Type:            VK_DESCRIPTOR_TYPE_STORAGE_BUFFER,
		DescriptorCount: max(descriptors, 1),
	}
	poolInfo := VkDescriptorPoolCreateInfo{
		SType:         VK_STRUCTURE_TYPE_DESCRIPTOR_POOL_CREATE_INFO,
		MaxSets:       uint32(len(cb.dispatches)),
		PoolSizeCount: 1,
		PPoolSizes:    &poolSize,
	}
	var pool VkDescriptorPool
	if err := q.dev.check("create descriptor pool", vkCreateDescriptorPool(q.dev.device, &poolInfo, 0, &pool)); err != nil {
		return 0, err
	}
	return pool, nil
}

func (q *queue) record(commandBuffer VkCommandBuffer, pool VkDescriptorPool, dc *dispatchCmd) error {
	d := q.dev
	pl := dc.pipeline

	allocInfo := VkDescriptorSetAllocateInfo{
		SType:              VK_STRUCTURE_TYPE_DESCRIPTOR_SET_ALLOCATE_INFO,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        &pl.descriptorLayout,
	}
	var descriptorSet VkDescriptorSet
	if err := d.check("allocate descriptor set", vkAllocateDescriptorSets(d.device, &allocInfo, &descriptorSet)); err != nil {
		return err
	}

	if len(dc.buffers) > 0 {
		writes := make([]VkWriteDescriptorSet, len(dc.buffers))
		for i := range dc.buffers {
			writes[i] = VkWriteDescriptorSet{
				SType:           VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET,
				DstSet:          descriptorSet,
				DstBinding:      uint32(i),
				DescriptorCount: 1,
				DescriptorType:  VK_DESCRIPTOR_TYPE_STORAGE_BUFFER,
				PBufferInfo:     &dc.buffers[i],
			}
		}
		vkUpdateDescriptorSets(d.device, uint32(len(writes)), &writes[0], 0, 0)
	}

	vkCmdBindPipeline(commandBuffer, VK_PIPELINE_BIND_POINT_COMPUTE, dc.variant)
	vkCmdBindDescriptorSets(commandBuffer, VK_PIPELINE_BIND_POINT_COMPUTE, pl.pipelineLayout, 0, 1, &descriptorSet, 0, 0)

	grid := [3]uint32{dc.grid.X, dc.grid.Y, dc.grid.Z}
	vkCmdPushConstants(commandBuffer, pl.pipelineLayout, VK_SHADER_STAGE_COMPUTE_BIT, 0, gridPushConstantSize,
		uintptr(unsafe.Pointer(&grid[0])))

	vkCmdDispatch(commandBuffer, dc.groups.X, dc.groups.Y, dc.groups.Z)
	return nil
}

func barrier(commandBuffer VkCommandBuffer, srcStage, dstStage, srcAccess, dstAccess uint32) {
	mb := VkMemoryBarrier{
		SType:         VK_STRUCTURE_TYPE_MEMORY_BARRIER,
		SrcAccessMask: srcAccess,
		DstAccessMask: dstAccess,
	}
	vkCmdPipelineBarrier(commandBuffer, srcStage, dstStage, 0, 1, &mb, 0, 0, 0, 0)
}
