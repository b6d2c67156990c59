package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief Holds a Vulkan pipeline, its layout, and the descriptor set
 * layouts synthesized from shader reflection. The bindless set layout is
 * shared and not owned here.
 */
type VulkanPipeline struct {
	/** @brief The internal pipeline handle. */
	Handle vk.Pipeline
	/** @brief The pipeline layout. */
	PipelineLayout vk.PipelineLayout
	// Set layouts this pipeline created (everything but the shared
	// bindless layout at set 0).
	ownedSetLayouts []vk.DescriptorSetLayout
}

type VulkanPipelineConfig struct {
	/** @brief The renderpass to associate with the pipeline. */
	Renderpass *VulkanRenderPass
	/** @brief The merged layout specification derived from reflection. */
	Spec *metadata.PipelineLayoutSpec
	/** @brief The shared global descriptor set layout, used for set 0. */
	BindlessLayout vk.DescriptorSetLayout
	/** @brief The shader stages of the pipeline. */
	Stages []vk.PipelineShaderStageCreateInfo
	/** @brief Fixed-function state baked into the pipeline. */
	State metadata.RenderState
	/** @brief The driver-level pipeline cache to build through. */
	Cache vk.PipelineCache
	/** @brief The stride of the vertex data, 0 for vertex pulling. */
	Stride uint32
	/** @brief Vertex attributes; empty for vertex pulling. */
	Attributes []vk.VertexInputAttributeDescription
	/** @brief The initial viewport configuration. */
	Viewport vk.Viewport
	/** @brief The initial scissor configuration. */
	Scissor vk.Rect2D
}

func stageFlags(stages metadata.StageFlag) vk.ShaderStageFlags {
	var flags vk.ShaderStageFlags
	if stages.Has(metadata.StageVertex) {
		flags |= vk.ShaderStageFlags(vk.ShaderStageVertexBit)
	}
	if stages.Has(metadata.StageFragment) {
		flags |= vk.ShaderStageFlags(vk.ShaderStageFragmentBit)
	}
	if stages.Has(metadata.StageCompute) {
		flags |= vk.ShaderStageFlags(vk.ShaderStageComputeBit)
	}
	return flags
}

func descriptorType(kind metadata.BindingKind) (vk.DescriptorType, bool) {
	switch kind {
	case metadata.BindingKindSampledImage:
		return vk.DescriptorTypeSampledImage, true
	case metadata.BindingKindSampler:
		return vk.DescriptorTypeSampler, true
	case metadata.BindingKindCombinedImageSampler:
		return vk.DescriptorTypeCombinedImageSampler, true
	case metadata.BindingKindStorageImage:
		return vk.DescriptorTypeStorageImage, true
	case metadata.BindingKindUniformBuffer:
		return vk.DescriptorTypeUniformBuffer, true
	case metadata.BindingKindStorageBuffer:
		return vk.DescriptorTypeStorageBuffer, true
	case metadata.BindingKindBufferReference:
		// The referenced struct is reached through a device address, but
		// the uniform block holding that address still needs a slot.
		return vk.DescriptorTypeUniformBuffer, true
	default:
		return 0, false
	}
}

// buildSetLayouts turns the merged spec into one descriptor set layout
// per set index, contiguous from 0. Set 0 always reuses the shared
// bindless layout; gaps get empty layouts.
func buildSetLayouts(context *VulkanContext, spec *metadata.PipelineLayoutSpec, bindlessLayout vk.DescriptorSetLayout) ([]vk.DescriptorSetLayout, []vk.DescriptorSetLayout, error) {
	device := context.Device.LogicalDevice

	maxSet := uint32(0)
	for _, set := range spec.Sets {
		if set.Set > maxSet {
			maxSet = set.Set
		}
	}

	layouts := make([]vk.DescriptorSetLayout, maxSet+1)
	var owned []vk.DescriptorSetLayout
	destroyOwned := func() {
		for _, layout := range owned {
			vk.DestroyDescriptorSetLayout(device, layout, context.Allocator)
		}
	}

	for setIndex := uint32(0); setIndex <= maxSet; setIndex++ {
		if setIndex == metadata.BindlessSet {
			layouts[setIndex] = bindlessLayout
			continue
		}

		var bindings []vk.DescriptorSetLayoutBinding
		if set := spec.Set(setIndex); set != nil {
			for _, b := range set.Bindings {
				dt, hasDescriptor := descriptorType(b.Kind)
				if !hasDescriptor {
					continue
				}
				count := b.Count
				if count == metadata.CountUnbounded {
					return nil, nil, fmt.Errorf("unbounded array outside the global set at (set=%d, binding=%d): %w",
						b.Set, b.Binding, core.ErrReservedBindingViolation)
				}
				bindings = append(bindings, vk.DescriptorSetLayoutBinding{
					Binding:         b.Binding,
					DescriptorType:  dt,
					DescriptorCount: count,
					StageFlags:      stageFlags(b.Stages),
				})
			}
		}

		var layout vk.DescriptorSetLayout
		layoutCreateInfo := vk.DescriptorSetLayoutCreateInfo{
			SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
			BindingCount: uint32(len(bindings)),
			PBindings:    bindings,
		}
		if err := lockPool.SafeCall(DescriptorManagement, func() error {
			if res := vk.CreateDescriptorSetLayout(device, &layoutCreateInfo, context.Allocator, &layout); !VulkanResultIsSuccess(res) {
				return fmt.Errorf("vkCreateDescriptorSetLayout failed with %s", VulkanResultString(res))
			}
			return nil
		}); err != nil {
			destroyOwned()
			return nil, nil, err
		}
		layouts[setIndex] = layout
		owned = append(owned, layout)
	}
	return layouts, owned, nil
}

func buildPipelineLayout(context *VulkanContext, spec *metadata.PipelineLayoutSpec, setLayouts []vk.DescriptorSetLayout) (vk.PipelineLayout, error) {
	var pushConstantRanges []vk.PushConstantRange
	for _, pc := range spec.PushConstants {
		pushConstantRanges = append(pushConstantRanges, vk.PushConstantRange{
			StageFlags: stageFlags(pc.Stages),
			Offset:     pc.Offset,
			Size:       pc.Size,
		})
	}

	layoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(setLayouts)),
		PSetLayouts:            setLayouts,
		PushConstantRangeCount: uint32(len(pushConstantRanges)),
		PPushConstantRanges:    pushConstantRanges,
	}

	var pipelineLayout vk.PipelineLayout
	if err := lockPool.SafeCall(PipelineManagement, func() error {
		if res := vk.CreatePipelineLayout(context.Device.LogicalDevice, &layoutCreateInfo, context.Allocator, &pipelineLayout); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreatePipelineLayout failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return pipelineLayout, nil
}

func NewGraphicsPipeline(context *VulkanContext, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	setLayouts, owned, err := buildSetLayouts(context, config.Spec, config.BindlessLayout)
	if err != nil {
		return nil, err
	}
	outPipeline := &VulkanPipeline{ownedSetLayouts: owned}

	pipelineLayout, err := buildPipelineLayout(context, config.Spec, setLayouts)
	if err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.PipelineLayout = pipelineLayout

	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		PViewports:    []vk.Viewport{config.Viewport},
		ScissorCount:  1,
		PScissors:     []vk.Rect2D{config.Scissor},
	}

	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		FrontFace:   vk.FrontFaceCounterClockwise,
	}
	if config.State.Wireframe {
		rasterizerCreateInfo.PolygonMode = vk.PolygonModeLine
	}
	switch config.State.CullMode {
	case metadata.FaceCullModeNone:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeNone)
	case metadata.FaceCullModeFront:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeFrontBit)
	case metadata.FaceCullModeFrontAndBack:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeFrontAndBack)
	default:
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeBackBit)
	}

	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
	}
	if config.State.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}
	if config.State.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	colorBlendAttachmentState := vk.PipelineColorBlendAttachmentState{
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
			vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
	}
	if config.State.Transparent {
		colorBlendAttachmentState.BlendEnable = vk.True
		colorBlendAttachmentState.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
		colorBlendAttachmentState.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		colorBlendAttachmentState.ColorBlendOp = vk.BlendOpAdd
		colorBlendAttachmentState.SrcAlphaBlendFactor = vk.BlendFactorOne
		colorBlendAttachmentState.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
		colorBlendAttachmentState.AlphaBlendOp = vk.BlendOpAdd
	}

	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: 1,
		PAttachments:    []vk.PipelineColorBlendAttachmentState{colorBlendAttachmentState},
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if config.Stride > 0 {
		bindingDescription := vk.VertexInputBindingDescription{
			Binding:   0,
			Stride:    config.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{bindingDescription}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(config.Attributes))
		vertexInputInfo.PVertexAttributeDescriptions = config.Attributes
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: vk.PrimitiveTopologyTriangleList,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(config.Stages)),
		PStages:             config.Stages,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              outPipeline.PipelineLayout,
		RenderPass:          config.Renderpass.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := lockPool.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			context.Device.LogicalDevice,
			config.Cache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pipelines)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateGraphicsPipelines failed with %s: %w", VulkanResultString(result), core.ErrBuildFailed)
		}
		return nil
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pipelines[0]

	core.LogDebug("Graphics pipeline created")
	return outPipeline, nil
}

func NewComputePipeline(context *VulkanContext, config *VulkanPipelineConfig) (*VulkanPipeline, error) {
	if len(config.Stages) != 1 {
		return nil, fmt.Errorf("compute pipeline requires exactly one stage, got %d", len(config.Stages))
	}

	setLayouts, owned, err := buildSetLayouts(context, config.Spec, config.BindlessLayout)
	if err != nil {
		return nil, err
	}
	outPipeline := &VulkanPipeline{ownedSetLayouts: owned}

	pipelineLayout, err := buildPipelineLayout(context, config.Spec, setLayouts)
	if err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.PipelineLayout = pipelineLayout

	pipelineCreateInfo := vk.ComputePipelineCreateInfo{
		SType:  vk.StructureTypeComputePipelineCreateInfo,
		Stage:  config.Stages[0],
		Layout: outPipeline.PipelineLayout,
	}

	pipelines := make([]vk.Pipeline, 1)
	if err := lockPool.SafeCall(PipelineManagement, func() error {
		result := vk.CreateComputePipelines(
			context.Device.LogicalDevice,
			config.Cache,
			1,
			[]vk.ComputePipelineCreateInfo{pipelineCreateInfo},
			context.Allocator,
			pipelines)
		if !VulkanResultIsSuccess(result) {
			return fmt.Errorf("vkCreateComputePipelines failed with %s: %w", VulkanResultString(result), core.ErrBuildFailed)
		}
		return nil
	}); err != nil {
		outPipeline.Destroy(context)
		return nil, err
	}
	outPipeline.Handle = pipelines[0]

	core.LogDebug("Compute pipeline created")
	return outPipeline, nil
}

func (pipeline *VulkanPipeline) Destroy(context *VulkanContext) error {
	return lockPool.SafeCall(PipelineManagement, func() error {
		if pipeline.Handle != vk.NullPipeline {
			vk.DestroyPipeline(context.Device.LogicalDevice, pipeline.Handle, context.Allocator)
			pipeline.Handle = vk.NullPipeline
		}
		if pipeline.PipelineLayout != vk.NullPipelineLayout {
			vk.DestroyPipelineLayout(context.Device.LogicalDevice, pipeline.PipelineLayout, context.Allocator)
			pipeline.PipelineLayout = vk.NullPipelineLayout
		}
		for _, layout := range pipeline.ownedSetLayouts {
			vk.DestroyDescriptorSetLayout(context.Device.LogicalDevice, layout, context.Allocator)
		}
		pipeline.ownedSetLayouts = nil
		return nil
	})
}

func (pipeline *VulkanPipeline) Bind(commandBuffer *VulkanCommandBuffer, bindPoint vk.PipelineBindPoint) error {
	return lockPool.SafeCall(CommandBufferManagement, func() error {
		vk.CmdBindPipeline(commandBuffer.Handle, bindPoint, pipeline.Handle)
		return nil
	})
}

/**
 * @brief The driver-level pipeline cache. Its serialized data is the
 * opaque backend blob persisted per pipeline key.
 */
type VulkanPipelineCache struct {
	Handle vk.PipelineCache
}

// NewVulkanPipelineCache creates a driver cache, primed with previously
// serialized data when available. Corrupt or foreign data falls back to
// an empty cache.
func NewVulkanPipelineCache(context *VulkanContext, initialData []byte) (*VulkanPipelineCache, error) {
	createInfo := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initialData) > 0 {
		createInfo.InitialDataSize = uint64(len(initialData))
		createInfo.PInitialData = unsafe.Pointer(&initialData[0])
	}

	var cache vk.PipelineCache
	res := vk.CreatePipelineCache(context.Device.LogicalDevice, &createInfo, context.Allocator, &cache)
	if !VulkanResultIsSuccess(res) && len(initialData) > 0 {
		core.LogWarn("priming pipeline cache failed with %s, creating empty", VulkanResultString(res))
		createInfo = vk.PipelineCacheCreateInfo{SType: vk.StructureTypePipelineCacheCreateInfo}
		res = vk.CreatePipelineCache(context.Device.LogicalDevice, &createInfo, context.Allocator, &cache)
	}
	if !VulkanResultIsSuccess(res) {
		return nil, fmt.Errorf("vkCreatePipelineCache failed with %s", VulkanResultString(res))
	}
	return &VulkanPipelineCache{Handle: cache}, nil
}

// Data serializes the driver cache for disk persistence.
func (pc *VulkanPipelineCache) Data(context *VulkanContext) ([]byte, error) {
	var size uint64
	if res := vk.GetPipelineCacheData(context.Device.LogicalDevice, pc.Handle, &size, nil); !VulkanResultIsSuccess(res) {
		return nil, fmt.Errorf("vkGetPipelineCacheData failed with %s", VulkanResultString(res))
	}
	if size == 0 {
		return nil, nil
	}
	data := make([]byte, size)
	if res := vk.GetPipelineCacheData(context.Device.LogicalDevice, pc.Handle, &size, unsafe.Pointer(&data[0])); !VulkanResultIsSuccess(res) {
		return nil, fmt.Errorf("vkGetPipelineCacheData failed with %s", VulkanResultString(res))
	}
	return data[:size], nil
}

func (pc *VulkanPipelineCache) Destroy(context *VulkanContext) {
	if pc.Handle != vk.NullPipelineCache {
		vk.DestroyPipelineCache(context.Device.LogicalDevice, pc.Handle, context.Allocator)
		pc.Handle = vk.NullPipelineCache
	}
}
