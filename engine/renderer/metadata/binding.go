package metadata

import "fmt"

/** @brief The kind of resource a shader binding refers to. Compared structurally when merging stages. */
type BindingKind uint8

const (
	BindingKindSampledImage BindingKind = iota
	BindingKindSampler
	BindingKindCombinedImageSampler
	BindingKindStorageImage
	BindingKindUniformBuffer
	BindingKindStorageBuffer
	BindingKindBufferReference
)

func (k BindingKind) String() string {
	switch k {
	case BindingKindSampledImage:
		return "sampled_image"
	case BindingKindSampler:
		return "sampler"
	case BindingKindCombinedImageSampler:
		return "combined_image_sampler"
	case BindingKindStorageImage:
		return "storage_image"
	case BindingKindUniformBuffer:
		return "uniform_buffer"
	case BindingKindStorageBuffer:
		return "storage_buffer"
	case BindingKindBufferReference:
		return "buffer_reference"
	}
	return fmt.Sprintf("binding_kind(%d)", uint8(k))
}

/** @brief A bitset of the shader stages a binding or range is visible to. */
type StageFlag uint32

const (
	StageVertex StageFlag = 1 << iota
	StageFragment
	StageCompute
)

func (s StageFlag) Has(flag StageFlag) bool {
	return s&flag != 0
}

// CountUnbounded marks a runtime-sized descriptor array, i.e. the global
// texture table at the reserved binding.
const CountUnbounded = ^uint32(0)

// The bindless convention: one global descriptor set with the texture array
// at binding 0 and the shared sampler at binding 1. These may only ever be
// declared in the exact shape below; everything else at these slots is a
// reserved-binding violation.
const (
	BindlessSet            uint32 = 0
	BindlessTextureBinding uint32 = 0
	BindlessSamplerBinding uint32 = 1
)

/**
 * @brief A single descriptor binding extracted from compiled shader bytecode.
 * Immutable after analysis.
 */
type ReflectedBinding struct {
	/** @brief The descriptor set index. */
	Set uint32
	/** @brief The binding index within the set. */
	Binding uint32
	/** @brief The structural kind of the binding. */
	Kind BindingKind
	/** @brief The array count, or CountUnbounded for runtime arrays. */
	Count uint32
	/** @brief The stages declaring this binding. */
	Stages StageFlag
}

// StructurallyEqual reports whether two bindings agree in kind and count.
// Stage masks are not part of structural identity; they are unioned when
// stages merge.
func (b ReflectedBinding) StructurallyEqual(other ReflectedBinding) bool {
	return b.Set == other.Set && b.Binding == other.Binding &&
		b.Kind == other.Kind && b.Count == other.Count
}

/**
 * @brief A push constant range. All stages of one pipeline that declare push
 * constants must declare the identical range.
 */
type PushConstantRange struct {
	Offset uint32
	Size   uint32
	Stages StageFlag
}

/** @brief A single field of a buffer-reference struct. */
type BlockField struct {
	Name   string
	Offset uint32
	Size   uint32
}

/**
 * @brief The shape of a buffer-reference struct (e.g. Camera, Material) as
 * declared in shader source. Stages referring to the same named shape must
 * agree on it exactly.
 */
type BlockShape struct {
	Name   string
	Size   uint32
	Fields []BlockField
}

func (s BlockShape) Equal(other BlockShape) bool {
	if s.Name != other.Name || s.Size != other.Size || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}
