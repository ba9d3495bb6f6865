package vulkan

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/orneryd/gpudispatch/pkg/gpu/hal"
)

// gridPushConstantSize is the {x, y, z} uint32 grid extent pushed to every
// dispatch.
const gridPushConstantSize = 12

type library struct {
	dev    *Device
	module *hal.SPIRVModule
	shader VkShaderModule

	mu       sync.Mutex
	released bool
}

// NewLibrary parses blob as SPIR-V and creates a shader module from it.
func (d *Device) NewLibrary(blob []byte) (hal.Library, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	module, err := hal.ParseSPIRV(blob)
	if err != nil {
		return nil, err
	}

	code := module.Words
	moduleInfo := VkShaderModuleCreateInfo{
		SType:    VK_STRUCTURE_TYPE_SHADER_MODULE_CREATE_INFO,
		CodeSize: uintptr(len(code) * 4),
		PCode:    &code[0],
	}
	var shader VkShaderModule
	result := vkCreateShaderModule(d.device, &moduleInfo, 0, &shader)
	runtime.KeepAlive(code)
	if err := d.check("create shader module", result); err != nil {
		return nil, fmt.Errorf("%w: %w", hal.ErrLoad, err)
	}
	return &library{dev: d, module: module, shader: shader}, nil
}

func (l *library) FunctionNames() []string {
	return l.module.Names()
}

func (l *library) Function(name string) (hal.Function, error) {
	e, ok := l.module.Entry(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", hal.ErrEntryNotFound, name)
	}
	return &function{lib: l, entry: e}, nil
}

func (l *library) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	vkDestroyShaderModule(l.dev.device, l.shader, 0)
}

type function struct {
	lib   *library
	entry hal.EntryPoint
}

func (f *function) Name() string {
	return f.entry.Name
}

// pipeline holds the layouts for one entry point and one VkPipeline per
// group shape it has been launched with.
type pipeline struct {
	dev      *Device
	fn       *function
	bindings uint32

	descriptorLayout VkDescriptorSetLayout
	pipelineLayout   VkPipelineLayout

	width      uint32
	maxThreads uint32
	// fixed is set when the module pins its workgroup size with LocalSize.
	fixed *hal.Size

	mu       sync.Mutex
	variants map[hal.Size]VkPipeline
	released bool
}

// NewComputePipeline creates the layouts for fn and compiles it once at the
// device's subgroup width to surface build errors early.
func (d *Device) NewComputePipeline(fn hal.Function) (hal.Pipeline, error) {
	if err := d.usable(); err != nil {
		return nil, err
	}
	f, ok := fn.(*function)
	if !ok || f.lib.dev != d {
		return nil, hal.ErrForeignResource
	}
	module := f.lib.module

	p := &pipeline{
		dev:        d,
		fn:         f,
		bindings:   module.Bindings,
		width:      d.subgroupSize,
		maxThreads: d.limits.MaxInvocations,
		variants:   make(map[hal.Size]VkPipeline),
	}
	if !module.SpecWorkgroupSize {
		ls := hal.Size{X: f.entry.LocalSize[0], Y: f.entry.LocalSize[1], Z: f.entry.LocalSize[2]}
		if ls.IsZero() {
			return nil, fmt.Errorf("%w: %s declares no workgroup size", hal.ErrPipelineBuild, f.entry.Name)
		}
		p.fixed = &ls
		p.maxThreads = uint32(min(ls.Threads(), uint64(p.maxThreads)))
		p.width = min(p.width, p.maxThreads)
	}

	if err := p.createLayouts(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", hal.ErrPipelineBuild, f.entry.Name, err)
	}
	probe := hal.Size{X: p.width, Y: 1, Z: 1}
	if p.fixed != nil {
		probe = *p.fixed
	}
	if _, err := p.variant(probe); err != nil {
		p.Release()
		return nil, fmt.Errorf("%w: %s: %w", hal.ErrPipelineBuild, f.entry.Name, err)
	}
	return p, nil
}

func (p *pipeline) createLayouts() error {
	d := p.dev
	bindings := make([]VkDescriptorSetLayoutBinding, max(p.bindings, 1))
	for i := range bindings {
		bindings[i] = VkDescriptorSetLayoutBinding{
			Binding:         uint32(i),
			DescriptorType:  VK_DESCRIPTOR_TYPE_STORAGE_BUFFER,
			DescriptorCount: 1,
			StageFlags:      VK_SHADER_STAGE_COMPUTE_BIT,
		}
	}
	layoutInfo := VkDescriptorSetLayoutCreateInfo{
		SType:        VK_STRUCTURE_TYPE_DESCRIPTOR_SET_LAYOUT_CREATE_INFO,
		BindingCount: p.bindings,
		PBindings:    &bindings[0],
	}
	if err := d.check("create descriptor set layout",
		vkCreateDescriptorSetLayout(d.device, &layoutInfo, 0, &p.descriptorLayout)); err != nil {
		return err
	}

	pushConstantRange := VkPushConstantRange{
		StageFlags: VK_SHADER_STAGE_COMPUTE_BIT,
		Size:       gridPushConstantSize,
	}
	pipelineLayoutInfo := VkPipelineLayoutCreateInfo{
		SType:                  VK_STRUCTURE_TYPE_PIPELINE_LAYOUT_CREATE_INFO,
		SetLayoutCount:         1,
		PSetLayouts:            &p.descriptorLayout,
		PushConstantRangeCount: 1,
		PPushConstantRanges:    &pushConstantRange,
	}
	if err := d.check("create pipeline layout",
		vkCreatePipelineLayout(d.device, &pipelineLayoutInfo, 0, &p.pipelineLayout)); err != nil {
		vkDestroyDescriptorSetLayout(d.device, p.descriptorLayout, 0)
		p.descriptorLayout = 0
		return err
	}
	return nil
}

// variant returns the VkPipeline compiled for group, building it on first
// use.
func (p *pipeline) variant(group hal.Size) (VkPipeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return 0, hal.ErrReleased
	}
	if vp, ok := p.variants[group]; ok {
		return vp, nil
	}
	if p.fixed != nil && group != *p.fixed {
		return 0, fmt.Errorf("vulkan: %s is compiled for group %v, got %v", p.fn.entry.Name, *p.fixed, group)
	}

	d := p.dev
	name := cString(p.fn.entry.Name)
	stage := VkPipelineShaderStageCreateInfo{
		SType:  VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO,
		Stage:  VK_SHADER_STAGE_COMPUTE_BIT,
		Module: p.fn.lib.shader,
		PName:  uintptr(unsafe.Pointer(&name[0])),
	}

	size := [3]uint32{group.X, group.Y, group.Z}
	entries := [3]VkSpecializationMapEntry{
		{ConstantID: 0, Offset: 0, Size: 4},
		{ConstantID: 1, Offset: 4, Size: 4},
		{ConstantID: 2, Offset: 8, Size: 4},
	}
	spec := VkSpecializationInfo{
		MapEntryCount: 3,
		PMapEntries:   &entries[0],
		DataSize:      unsafe.Sizeof(size),
		PData:         uintptr(unsafe.Pointer(&size[0])),
	}
	if p.fixed == nil {
		stage.PSpecializationInfo = &spec
	}

	pipelineInfo := VkComputePipelineCreateInfo{
		SType:  VK_STRUCTURE_TYPE_COMPUTE_PIPELINE_CREATE_INFO,
		Stage:  stage,
		Layout: p.pipelineLayout,
	}
	var vp VkPipeline
	result := vkCreateComputePipelines(d.device, 0, 1, &pipelineInfo, 0, &vp)
	runtime.KeepAlive(name)
	runtime.KeepAlive(&size)
	runtime.KeepAlive(&entries)
	if err := d.check("create compute pipeline", result); err != nil {
		return 0, err
	}
	p.variants[group] = vp
	return vp, nil
}

func (p *pipeline) ThreadExecutionWidth() uint32 {
	return p.width
}

func (p *pipeline) MaxTotalThreadsPerThreadgroup() uint32 {
	return p.maxThreads
}

func (p *pipeline) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	p.released = true

	device := p.dev.device
	for _, vp := range p.variants {
		vkDestroyPipeline(device, vp, 0)
	}
	p.variants = nil
	if p.pipelineLayout != 0 {
		vkDestroyPipelineLayout(device, p.pipelineLayout, 0)
	}
	if p.descriptorLayout != 0 {
		vkDestroyDescriptorSetLayout(device, p.descriptorLayout, 0)
	}
}
