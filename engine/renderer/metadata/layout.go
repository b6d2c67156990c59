package metadata

import (
	"encoding/binary"
	"hash/fnv"
)

/** @brief The bindings of a single descriptor set, sorted by binding index. */
type SetLayout struct {
	Set      uint32
	Bindings []ReflectedBinding
}

/**
 * @brief The merged layout specification for one pipeline: every descriptor
 * set layout plus the push constant ranges, in canonical order. This is the
 * unit cached and compared for pipeline reuse; no hand-maintained duplicate
 * of it may exist for the same pipeline.
 */
type PipelineLayoutSpec struct {
	Sets          []SetLayout
	PushConstants []PushConstantRange
	// Shapes carries the buffer-reference struct shapes the stages agreed
	// on, for callers that validate resource blocks against shader layout.
	Shapes []BlockShape
}

// Hash returns a stable FNV-1a hash of the canonical spec encoding.
// Specs that compare Equal hash identically.
func (s *PipelineLayoutSpec) Hash() uint64 {
	h := fnv.New64a()
	var buf [4]byte
	word := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[:], v)
		h.Write(buf[:])
	}
	for _, set := range s.Sets {
		word(set.Set)
		for _, b := range set.Bindings {
			word(b.Binding)
			word(uint32(b.Kind))
			word(b.Count)
			word(uint32(b.Stages))
		}
	}
	for _, pc := range s.PushConstants {
		word(pc.Offset)
		word(pc.Size)
		word(uint32(pc.Stages))
	}
	return h.Sum64()
}

func (s *PipelineLayoutSpec) Equal(other *PipelineLayoutSpec) bool {
	if len(s.Sets) != len(other.Sets) || len(s.PushConstants) != len(other.PushConstants) {
		return false
	}
	for i, set := range s.Sets {
		o := other.Sets[i]
		if set.Set != o.Set || len(set.Bindings) != len(o.Bindings) {
			return false
		}
		for j, b := range set.Bindings {
			if b != o.Bindings[j] {
				return false
			}
		}
	}
	for i, pc := range s.PushConstants {
		if pc != other.PushConstants[i] {
			return false
		}
	}
	return true
}

// Set returns the layout for the given set index, or nil.
func (s *PipelineLayoutSpec) Set(set uint32) *SetLayout {
	for i := range s.Sets {
		if s.Sets[i].Set == set {
			return &s.Sets[i]
		}
	}
	return nil
}

// Shape returns the buffer-reference shape with the given name, or nil.
func (s *PipelineLayoutSpec) Shape(name string) *BlockShape {
	for i := range s.Shapes {
		if s.Shapes[i].Name == name {
			return &s.Shapes[i]
		}
	}
	return nil
}
