package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
	"github.com/spaghettifunk/vega/engine/renderer/spirv"
)

func vertexStage(bindings ...metadata.ReflectedBinding) *spirv.Reflection {
	for i := range bindings {
		bindings[i].Stages = metadata.StageVertex
	}
	return &spirv.Reflection{Stage: metadata.StageVertex, EntryPoint: "main", Bindings: bindings}
}

func fragmentStage(bindings ...metadata.ReflectedBinding) *spirv.Reflection {
	for i := range bindings {
		bindings[i].Stages = metadata.StageFragment
	}
	return &spirv.Reflection{Stage: metadata.StageFragment, EntryPoint: "main", Bindings: bindings}
}

func TestBuildSeedsBindlessSet(t *testing.T) {
	spec, err := Build([]*spirv.Reflection{
		vertexStage(),
		fragmentStage(),
	})
	require.NoError(t, err)

	set0 := spec.Set(metadata.BindlessSet)
	require.NotNil(t, set0)
	require.Len(t, set0.Bindings, 2)

	textures := set0.Bindings[0]
	assert.Equal(t, metadata.BindingKindSampledImage, textures.Kind)
	assert.Equal(t, metadata.CountUnbounded, textures.Count)
	assert.True(t, textures.Stages.Has(metadata.StageVertex))
	assert.True(t, textures.Stages.Has(metadata.StageFragment))

	sampler := set0.Bindings[1]
	assert.Equal(t, metadata.BindingKindSampler, sampler.Kind)
	assert.Equal(t, uint32(1), sampler.Count)
}

func TestBuildUnionsStages(t *testing.T) {
	globals := metadata.ReflectedBinding{
		Set: 1, Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1,
	}
	spec, err := Build([]*spirv.Reflection{
		vertexStage(globals),
		fragmentStage(globals),
	})
	require.NoError(t, err)

	set1 := spec.Set(1)
	require.NotNil(t, set1)
	require.Len(t, set1.Bindings, 1)
	assert.True(t, set1.Bindings[0].Stages.Has(metadata.StageVertex))
	assert.True(t, set1.Bindings[0].Stages.Has(metadata.StageFragment))
}

func TestBuildBindingConflict(t *testing.T) {
	_, err := Build([]*spirv.Reflection{
		vertexStage(metadata.ReflectedBinding{Set: 1, Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1}),
		fragmentStage(metadata.ReflectedBinding{Set: 1, Binding: 0, Kind: metadata.BindingKindStorageBuffer, Count: 1}),
	})
	require.ErrorIs(t, err, core.ErrBindingConflict)
}

func TestBuildCountConflict(t *testing.T) {
	_, err := Build([]*spirv.Reflection{
		vertexStage(metadata.ReflectedBinding{Set: 2, Binding: 3, Kind: metadata.BindingKindCombinedImageSampler, Count: 4}),
		fragmentStage(metadata.ReflectedBinding{Set: 2, Binding: 3, Kind: metadata.BindingKindCombinedImageSampler, Count: 8}),
	})
	require.ErrorIs(t, err, core.ErrBindingConflict)
}

func TestBuildReservedBindingViolation(t *testing.T) {
	_, err := Build([]*spirv.Reflection{
		fragmentStage(metadata.ReflectedBinding{
			Set:     metadata.BindlessSet,
			Binding: metadata.BindlessTextureBinding,
			Kind:    metadata.BindingKindUniformBuffer,
			Count:   1,
		}),
	})
	require.ErrorIs(t, err, core.ErrReservedBindingViolation)

	_, err = Build([]*spirv.Reflection{
		fragmentStage(metadata.ReflectedBinding{
			Set:     metadata.BindlessSet,
			Binding: metadata.BindlessSamplerBinding,
			Kind:    metadata.BindingKindSampler,
			Count:   2,
		}),
	})
	require.ErrorIs(t, err, core.ErrReservedBindingViolation)
}

func TestBuildConventionalDeclarationFoldsIn(t *testing.T) {
	spec, err := Build([]*spirv.Reflection{
		fragmentStage(
			metadata.ReflectedBinding{
				Set:     metadata.BindlessSet,
				Binding: metadata.BindlessTextureBinding,
				Kind:    metadata.BindingKindSampledImage,
				Count:   metadata.CountUnbounded,
			},
			metadata.ReflectedBinding{
				Set:     metadata.BindlessSet,
				Binding: metadata.BindlessSamplerBinding,
				Kind:    metadata.BindingKindSampler,
				Count:   1,
			},
		),
	})
	require.NoError(t, err)
	set0 := spec.Set(metadata.BindlessSet)
	require.NotNil(t, set0)
	assert.Len(t, set0.Bindings, 2)
}

func TestBuildPushConstantMismatch(t *testing.T) {
	vert := vertexStage()
	vert.PushConstants = []metadata.PushConstantRange{{Offset: 0, Size: 64, Stages: metadata.StageVertex}}
	frag := fragmentStage()
	frag.PushConstants = []metadata.PushConstantRange{{Offset: 0, Size: 80, Stages: metadata.StageFragment}}

	_, err := Build([]*spirv.Reflection{vert, frag})
	require.ErrorIs(t, err, core.ErrPushConstantMismatch)
}

func TestBuildPushConstantStageUnion(t *testing.T) {
	vert := vertexStage()
	vert.PushConstants = []metadata.PushConstantRange{{Offset: 0, Size: 64, Stages: metadata.StageVertex}}
	frag := fragmentStage()
	frag.PushConstants = []metadata.PushConstantRange{{Offset: 0, Size: 64, Stages: metadata.StageFragment}}

	spec, err := Build([]*spirv.Reflection{vert, frag})
	require.NoError(t, err)
	require.Len(t, spec.PushConstants, 1)
	pc := spec.PushConstants[0]
	assert.Equal(t, uint32(64), pc.Size)
	assert.True(t, pc.Stages.Has(metadata.StageVertex))
	assert.True(t, pc.Stages.Has(metadata.StageFragment))
}

func TestBuildShapeMismatchAcrossStages(t *testing.T) {
	vert := vertexStage()
	vert.Shapes = []metadata.BlockShape{{
		Name: "Camera", Size: 128,
		Fields: []metadata.BlockField{{Name: "view", Offset: 0, Size: 64}, {Name: "proj", Offset: 64, Size: 64}},
	}}
	frag := fragmentStage()
	frag.Shapes = []metadata.BlockShape{{
		Name: "Camera", Size: 64,
		Fields: []metadata.BlockField{{Name: "view", Offset: 0, Size: 64}},
	}}

	_, err := Build([]*spirv.Reflection{vert, frag})
	require.ErrorIs(t, err, core.ErrLayoutMismatch)
}

func TestBuildSpecHashStable(t *testing.T) {
	stage := func() []*spirv.Reflection {
		return []*spirv.Reflection{
			vertexStage(metadata.ReflectedBinding{Set: 1, Binding: 0, Kind: metadata.BindingKindUniformBuffer, Count: 1}),
		}
	}
	a, err := Build(stage())
	require.NoError(t, err)
	b, err := Build(stage())
	require.NoError(t, err)
	assert.Equal(t, a.Hash(), b.Hash())
	assert.True(t, a.Equal(b))
}
