package layout

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
	"github.com/spaghettifunk/vega/engine/renderer/spirv"
)

// Build merges the reflection of every stage of a pipeline into one
// consistent layout specification. It is the single source of truth
// reconciling what the shaders declare with what the host pipeline object
// requires; no hand-maintained duplicate layout may exist for the same
// pipeline.
//
// Merging unions bindings across stages by (set, binding). The kind and
// count at each key must be structurally equal across all declaring stages.
// The reserved bindless slots (set 0, bindings 0 and 1) may only appear in
// their exact conventional shape. Push constant ranges must be identical in
// offset and size across declaring stages. Buffer-reference struct shapes
// must agree by name across stages.
func Build(stages []*spirv.Reflection) (*metadata.PipelineLayoutSpec, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline layout requires at least one shader stage")
	}

	type key struct{ set, binding uint32 }
	merged := make(map[key]metadata.ReflectedBinding)
	allStages := metadata.StageFlag(0)

	for _, stage := range stages {
		allStages |= stage.Stage
		for _, b := range stage.Bindings {
			if b.Set == metadata.BindlessSet && (b.Binding == metadata.BindlessTextureBinding || b.Binding == metadata.BindlessSamplerBinding) {
				if !matchesBindlessConvention(b) {
					return nil, fmt.Errorf("stage %#x declares (set=%d, binding=%d) as %s x%d: %w",
						uint32(stage.Stage), b.Set, b.Binding, b.Kind, b.Count, core.ErrReservedBindingViolation)
				}
				// The conventional declaration is folded into the seeded
				// global set below.
				continue
			}
			k := key{b.Set, b.Binding}
			if prev, ok := merged[k]; ok {
				if !prev.StructurallyEqual(b) {
					return nil, fmt.Errorf("(set=%d, binding=%d): %s x%d vs %s x%d: %w",
						b.Set, b.Binding, prev.Kind, prev.Count, b.Kind, b.Count, core.ErrBindingConflict)
				}
				prev.Stages |= b.Stages
				merged[k] = prev
			} else {
				merged[k] = b
			}
		}
	}

	pushConstants, err := mergePushConstants(stages)
	if err != nil {
		return nil, err
	}
	shapes, err := mergeShapes(stages)
	if err != nil {
		return nil, err
	}

	spec := &metadata.PipelineLayoutSpec{
		PushConstants: pushConstants,
		Shapes:        shapes,
	}

	// The global bindless set is part of every pipeline layout, declared
	// or not: set 0 is always bound.
	bySet := map[uint32][]metadata.ReflectedBinding{
		metadata.BindlessSet: {
			{
				Set:     metadata.BindlessSet,
				Binding: metadata.BindlessTextureBinding,
				Kind:    metadata.BindingKindSampledImage,
				Count:   metadata.CountUnbounded,
				Stages:  allStages,
			},
			{
				Set:     metadata.BindlessSet,
				Binding: metadata.BindlessSamplerBinding,
				Kind:    metadata.BindingKindSampler,
				Count:   1,
				Stages:  allStages,
			},
		},
	}
	for _, b := range merged {
		bySet[b.Set] = append(bySet[b.Set], b)
	}

	setIndices := make([]uint32, 0, len(bySet))
	for set := range bySet {
		setIndices = append(setIndices, set)
	}
	sort.Slice(setIndices, func(i, j int) bool { return setIndices[i] < setIndices[j] })

	for _, set := range setIndices {
		bindings := bySet[set]
		sort.Slice(bindings, func(i, j int) bool { return bindings[i].Binding < bindings[j].Binding })
		for i := 1; i < len(bindings); i++ {
			if bindings[i].Binding == bindings[i-1].Binding {
				return nil, fmt.Errorf("(set=%d, binding=%d) declared twice: %w", set, bindings[i].Binding, core.ErrBindingConflict)
			}
		}
		spec.Sets = append(spec.Sets, metadata.SetLayout{Set: set, Bindings: bindings})
	}

	return spec, nil
}

func matchesBindlessConvention(b metadata.ReflectedBinding) bool {
	if b.Binding == metadata.BindlessTextureBinding {
		return b.Kind == metadata.BindingKindSampledImage && b.Count == metadata.CountUnbounded
	}
	return b.Kind == metadata.BindingKindSampler && b.Count == 1
}

// mergePushConstants unions ranges by stage mask. Every declaring stage
// must declare the identical offset and size.
func mergePushConstants(stages []*spirv.Reflection) ([]metadata.PushConstantRange, error) {
	var out []metadata.PushConstantRange
	for _, stage := range stages {
		for _, pc := range stage.PushConstants {
			matched := false
			for i := range out {
				if out[i].Offset == pc.Offset && out[i].Size == pc.Size {
					out[i].Stages |= pc.Stages
					matched = true
					break
				}
			}
			if matched {
				continue
			}
			if len(out) > 0 {
				prev := out[0]
				return nil, fmt.Errorf("push constants [%d,%d) vs [%d,%d): %w",
					prev.Offset, prev.Offset+prev.Size, pc.Offset, pc.Offset+pc.Size, core.ErrPushConstantMismatch)
			}
			out = append(out, pc)
		}
	}
	return out, nil
}

func mergeShapes(stages []*spirv.Reflection) ([]metadata.BlockShape, error) {
	byName := make(map[string]metadata.BlockShape)
	for _, stage := range stages {
		for _, shape := range stage.Shapes {
			if prev, ok := byName[shape.Name]; ok {
				if !prev.Equal(shape) {
					return nil, fmt.Errorf("buffer reference struct %q: %w", shape.Name, core.ErrLayoutMismatch)
				}
				continue
			}
			byName[shape.Name] = shape
		}
	}
	out := make([]metadata.BlockShape, 0, len(byName))
	for _, shape := range byName {
		out = append(out, shape)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
