package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief A texture view plus the layout it is sampled in, as stored into
 * the global descriptor array.
 */
type TextureView struct {
	View   vk.ImageView
	Layout vk.ImageLayout
}

/**
 * @brief The single global descriptor set of the bindless convention:
 * binding 0 is a variable-count, partially-bound, update-after-bind array
 * of sampled images; binding 1 is the shared sampler. Slots are written
 * incrementally, one vkUpdateDescriptorSets call per registration, never
 * a full rewrite.
 */
type BindlessDescriptorSet struct {
	context *VulkanContext

	Layout vk.DescriptorSetLayout
	Pool   vk.DescriptorPool
	Set    vk.DescriptorSet

	maxSampledImages uint32
	maxSamplers      uint32
}

func NewBindlessDescriptorSet(context *VulkanContext, maxSampledImages, maxSamplers uint32) (*BindlessDescriptorSet, error) {
	bds := &BindlessDescriptorSet{
		context:          context,
		maxSampledImages: maxSampledImages,
		maxSamplers:      maxSamplers,
	}
	device := context.Device.LogicalDevice

	bindings := []vk.DescriptorSetLayoutBinding{
		{
			Binding:         metadata.BindlessTextureBinding,
			DescriptorType:  vk.DescriptorTypeSampledImage,
			DescriptorCount: maxSampledImages,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAllGraphics) | vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
		{
			Binding:         metadata.BindlessSamplerBinding,
			DescriptorType:  vk.DescriptorTypeSampler,
			DescriptorCount: maxSamplers,
			StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAllGraphics) | vk.ShaderStageFlags(vk.ShaderStageComputeBit),
		},
	}

	indexingFlags := vk.DescriptorBindingFlags(vk.DescriptorBindingVariableDescriptorCountBit) |
		vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit) |
		vk.DescriptorBindingFlags(vk.DescriptorBindingUpdateAfterBindBit)
	bindingFlags := vk.DescriptorSetLayoutBindingFlagsCreateInfo{
		SType:         vk.StructureTypeDescriptorSetLayoutBindingFlagsCreateInfo,
		BindingCount:  2,
		PBindingFlags: []vk.DescriptorBindingFlags{indexingFlags, vk.DescriptorBindingFlags(vk.DescriptorBindingPartiallyBoundBit)},
	}

	var layout vk.DescriptorSetLayout
	layoutCreateInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		Flags:        vk.DescriptorSetLayoutCreateFlags(vk.DescriptorSetLayoutCreateUpdateAfterBindPoolBit),
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
		PNext:        unsafe.Pointer(&bindingFlags),
	}
	if err := lockPool.SafeCall(DescriptorManagement, func() error {
		if res := vk.CreateDescriptorSetLayout(device, &layoutCreateInfo, context.Allocator, &layout); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateDescriptorSetLayout failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		return nil, err
	}
	bds.Layout = layout

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeSampledImage, DescriptorCount: maxSampledImages},
		{Type: vk.DescriptorTypeSampler, DescriptorCount: maxSamplers},
	}
	var pool vk.DescriptorPool
	poolCreateInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		Flags:         vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateUpdateAfterBindBit),
		MaxSets:       1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if err := lockPool.SafeCall(DescriptorManagement, func() error {
		if res := vk.CreateDescriptorPool(device, &poolCreateInfo, context.Allocator, &pool); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateDescriptorPool failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		bds.Destroy()
		return nil, err
	}
	bds.Pool = pool

	variableCounts := vk.DescriptorSetVariableDescriptorCountAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetVariableDescriptorCountAllocateInfo,
		DescriptorSetCount: 1,
		PDescriptorCounts:  []uint32{maxSampledImages},
	}
	var set vk.DescriptorSet
	allocateInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
		PNext:              unsafe.Pointer(&variableCounts),
	}
	if err := lockPool.SafeCall(DescriptorManagement, func() error {
		if res := vk.AllocateDescriptorSets(device, &allocateInfo, &set); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkAllocateDescriptorSets failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		bds.Destroy()
		return nil, err
	}
	bds.Set = set

	core.LogInfo("Bindless descriptor set created (%d sampled images, %d samplers)", maxSampledImages, maxSamplers)
	return bds, nil
}

// WriteSampledImage stores a texture view at the given array index.
func (bds *BindlessDescriptorSet) WriteSampledImage(index uint32, view any) error {
	texture, ok := view.(TextureView)
	if !ok {
		return fmt.Errorf("bindless write expects a TextureView, got %T: %w", view, core.ErrInvalidHandle)
	}
	if index >= bds.maxSampledImages {
		return fmt.Errorf("sampled image index %d beyond capacity %d: %w", index, bds.maxSampledImages, core.ErrCapacityExceeded)
	}

	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          bds.Set,
		DstBinding:      metadata.BindlessTextureBinding,
		DstArrayElement: index,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeSampledImage,
		PImageInfo: []vk.DescriptorImageInfo{{
			ImageView:   texture.View,
			ImageLayout: texture.Layout,
		}},
	}
	return bds.update(write)
}

// WriteSampler stores a sampler at the given array index.
func (bds *BindlessDescriptorSet) WriteSampler(index uint32, sampler any) error {
	handle, ok := sampler.(vk.Sampler)
	if !ok {
		return fmt.Errorf("bindless write expects a vk.Sampler, got %T: %w", sampler, core.ErrInvalidHandle)
	}
	if index >= bds.maxSamplers {
		return fmt.Errorf("sampler index %d beyond capacity %d: %w", index, bds.maxSamplers, core.ErrCapacityExceeded)
	}

	write := vk.WriteDescriptorSet{
		SType:           vk.StructureTypeWriteDescriptorSet,
		DstSet:          bds.Set,
		DstBinding:      metadata.BindlessSamplerBinding,
		DstArrayElement: index,
		DescriptorCount: 1,
		DescriptorType:  vk.DescriptorTypeSampler,
		PImageInfo: []vk.DescriptorImageInfo{{
			Sampler: handle,
		}},
	}
	return bds.update(write)
}

func (bds *BindlessDescriptorSet) update(write vk.WriteDescriptorSet) error {
	return lockPool.SafeCall(DescriptorManagement, func() error {
		vk.UpdateDescriptorSets(bds.context.Device.LogicalDevice, 1, []vk.WriteDescriptorSet{write}, 0, nil)
		return nil
	})
}

func (bds *BindlessDescriptorSet) Destroy() {
	device := bds.context.Device.LogicalDevice
	if bds.Pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(device, bds.Pool, bds.context.Allocator)
		bds.Pool = vk.NullDescriptorPool
		bds.Set = vk.NullDescriptorSet
	}
	if bds.Layout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(device, bds.Layout, bds.context.Allocator)
		bds.Layout = vk.NullDescriptorSetLayout
	}
}
