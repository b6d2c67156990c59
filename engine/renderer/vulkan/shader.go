package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief A shader module handle plus the stage create info pipelines
 * consume. Bytecode comes in as the raw bytes the shader system loaded.
 */
type VulkanShaderModule struct {
	Handle          vk.ShaderModule
	StageCreateInfo vk.PipelineShaderStageCreateInfo
}

func shaderStageBit(stage metadata.StageFlag) (vk.ShaderStageFlagBits, error) {
	switch stage {
	case metadata.StageVertex:
		return vk.ShaderStageVertexBit, nil
	case metadata.StageFragment:
		return vk.ShaderStageFragmentBit, nil
	case metadata.StageCompute:
		return vk.ShaderStageComputeBit, nil
	}
	return 0, fmt.Errorf("unsupported shader stage %#x", uint32(stage))
}

func NewShaderModule(context *VulkanContext, code []byte, stage metadata.StageFlag, entryPoint string) (*VulkanShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, fmt.Errorf("shader bytecode length %d is not a whole number of words", len(code))
	}
	stageBit, err := shaderStageBit(stage)
	if err != nil {
		return nil, err
	}

	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}

	var handle vk.ShaderModule
	if err := lockPool.SafeCall(ShaderManagement, func() error {
		if res := vk.CreateShaderModule(context.Device.LogicalDevice, &createInfo, context.Allocator, &handle); !VulkanResultIsSuccess(res) {
			return fmt.Errorf("vkCreateShaderModule failed with %s", VulkanResultString(res))
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return &VulkanShaderModule{
		Handle: handle,
		StageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stageBit,
			Module: handle,
			PName:  VulkanSafeString(entryPoint),
		},
	}, nil
}

func (sm *VulkanShaderModule) Destroy(context *VulkanContext) {
	if sm.Handle != vk.NullShaderModule {
		vk.DestroyShaderModule(context.Device.LogicalDevice, sm.Handle, context.Allocator)
		sm.Handle = vk.NullShaderModule
	}
}
