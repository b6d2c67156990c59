package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

func TestDescriptorTypeMapping(t *testing.T) {
	cases := []struct {
		kind metadata.BindingKind
		want vk.DescriptorType
	}{
		{metadata.BindingKindSampledImage, vk.DescriptorTypeSampledImage},
		{metadata.BindingKindSampler, vk.DescriptorTypeSampler},
		{metadata.BindingKindCombinedImageSampler, vk.DescriptorTypeCombinedImageSampler},
		{metadata.BindingKindStorageImage, vk.DescriptorTypeStorageImage},
		{metadata.BindingKindUniformBuffer, vk.DescriptorTypeUniformBuffer},
		{metadata.BindingKindStorageBuffer, vk.DescriptorTypeStorageBuffer},
		// A block holding device addresses is still a uniform buffer on
		// the descriptor side.
		{metadata.BindingKindBufferReference, vk.DescriptorTypeUniformBuffer},
	}
	for _, tc := range cases {
		dt, ok := descriptorType(tc.kind)
		assert.True(t, ok, "kind %s has no descriptor type", tc.kind)
		assert.Equal(t, tc.want, dt, "kind %s", tc.kind)
	}
}

func TestStageFlagsCombine(t *testing.T) {
	flags := stageFlags(metadata.StageVertex | metadata.StageFragment)
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit), flags)

	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageComputeBit), stageFlags(metadata.StageCompute))
}
