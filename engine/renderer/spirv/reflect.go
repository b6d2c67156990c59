package spirv

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief The reflection result for a single compiled shader stage.
 * Immutable after analysis; analysis never touches a live device.
 */
type Reflection struct {
	/** @brief The stage this module was compiled for. */
	Stage metadata.StageFlag
	/** @brief The entry point name, usually "main". */
	EntryPoint string
	/** @brief Descriptor bindings sorted by (set, binding). */
	Bindings []metadata.ReflectedBinding
	/** @brief Push constant ranges declared by this stage. */
	PushConstants []metadata.PushConstantRange
	/** @brief Buffer-reference struct shapes, sorted by name. */
	Shapes []metadata.BlockShape
}

type typeNode struct {
	op      uint16
	width   uint32
	elem    uint32
	count   uint32
	members []uint32
	storage uint32
	sampled uint32
}

type variable struct {
	id      uint32
	typeID  uint32
	storage uint32
}

type module struct {
	names         map[uint32]string
	memberNames   map[uint32]map[uint32]string
	sets          map[uint32]uint32
	bindings      map[uint32]uint32
	hasSet        map[uint32]bool
	hasBinding    map[uint32]bool
	bufferBlocks  map[uint32]bool
	memberOffsets map[uint32]map[uint32]uint32
	types         map[uint32]typeNode
	constants     map[uint32]uint32
	variables     []variable
	stage         metadata.StageFlag
	entryPoint    string
}

// Analyze extracts descriptor bindings, push constant ranges and
// buffer-reference struct shapes from a compiled SPIR-V blob. It validates
// nothing beyond what it needs: the blob is assumed to be valid output of
// the shader compiler collaborator.
func Analyze(code []byte) (*Reflection, error) {
	words, err := parseWords(code)
	if err != nil {
		return nil, err
	}

	mod := &module{
		names:         make(map[uint32]string),
		memberNames:   make(map[uint32]map[uint32]string),
		sets:          make(map[uint32]uint32),
		bindings:      make(map[uint32]uint32),
		hasSet:        make(map[uint32]bool),
		hasBinding:    make(map[uint32]bool),
		bufferBlocks:  make(map[uint32]bool),
		memberOffsets: make(map[uint32]map[uint32]uint32),
		types:         make(map[uint32]typeNode),
		constants:     make(map[uint32]uint32),
	}

	if err := instructions(words, mod.collect); err != nil {
		return nil, err
	}
	return mod.resolve()
}

func (m *module) collect(ins instruction) error {
	ops := ins.operands
	switch ins.opcode {
	case opEntryPoint:
		if len(ops) < 3 {
			return fmt.Errorf("truncated OpEntryPoint")
		}
		// Only the first entry point determines the stage; multi-entry
		// modules are not produced by the supported compiler.
		if m.stage == 0 {
			switch ops[0] {
			case execModelVertex:
				m.stage = metadata.StageVertex
			case execModelFragment:
				m.stage = metadata.StageFragment
			case execModelGLCompute:
				m.stage = metadata.StageCompute
			}
			m.entryPoint, _ = literalString(ops[2:])
		}
	case opName:
		name, _ := literalString(ops[1:])
		m.names[ops[0]] = name
	case opMemberName:
		if m.memberNames[ops[0]] == nil {
			m.memberNames[ops[0]] = make(map[uint32]string)
		}
		name, _ := literalString(ops[2:])
		m.memberNames[ops[0]][ops[1]] = name
	case opDecorate:
		if len(ops) < 2 {
			return fmt.Errorf("truncated OpDecorate")
		}
		switch ops[1] {
		case decorationDescriptorSet:
			m.sets[ops[0]] = ops[2]
			m.hasSet[ops[0]] = true
		case decorationBinding:
			m.bindings[ops[0]] = ops[2]
			m.hasBinding[ops[0]] = true
		case decorationBufferBlock:
			m.bufferBlocks[ops[0]] = true
		}
	case opMemberDecorate:
		if len(ops) >= 4 && ops[2] == decorationOffset {
			if m.memberOffsets[ops[0]] == nil {
				m.memberOffsets[ops[0]] = make(map[uint32]uint32)
			}
			m.memberOffsets[ops[0]][ops[1]] = ops[3]
		}
	case opTypeInt:
		m.types[ops[0]] = typeNode{op: opTypeInt, width: ops[1]}
	case opTypeFloat:
		m.types[ops[0]] = typeNode{op: opTypeFloat, width: ops[1]}
	case opTypeVector:
		m.types[ops[0]] = typeNode{op: opTypeVector, elem: ops[1], count: ops[2]}
	case opTypeMatrix:
		m.types[ops[0]] = typeNode{op: opTypeMatrix, elem: ops[1], count: ops[2]}
	case opTypeImage:
		m.types[ops[0]] = typeNode{op: opTypeImage, elem: ops[1], sampled: ops[6]}
	case opTypeSampler:
		m.types[ops[0]] = typeNode{op: opTypeSampler}
	case opTypeSampledImage:
		m.types[ops[0]] = typeNode{op: opTypeSampledImage, elem: ops[1]}
	case opTypeArray:
		m.types[ops[0]] = typeNode{op: opTypeArray, elem: ops[1], count: ops[2]}
	case opTypeRuntimeArray:
		m.types[ops[0]] = typeNode{op: opTypeRuntimeArray, elem: ops[1]}
	case opTypeStruct:
		m.types[ops[0]] = typeNode{op: opTypeStruct, members: append([]uint32(nil), ops[1:]...)}
	case opTypePointer:
		m.types[ops[0]] = typeNode{op: opTypePointer, storage: ops[1], elem: ops[2]}
	case opTypeForwardPointer:
		// Declared ahead of a recursive buffer-reference pointer; the real
		// OpTypePointer with the same id follows and overwrites this.
		if _, ok := m.types[ops[0]]; !ok {
			m.types[ops[0]] = typeNode{op: opTypePointer, storage: ops[1]}
		}
	case opConstant:
		if len(ops) >= 3 {
			m.constants[ops[1]] = ops[2]
		}
	case opVariable:
		m.variables = append(m.variables, variable{typeID: ops[0], id: ops[1], storage: ops[2]})
	}
	return nil
}

func (m *module) resolve() (*Reflection, error) {
	refl := &Reflection{
		Stage:      m.stage,
		EntryPoint: m.entryPoint,
	}

	shapes := make(map[string]metadata.BlockShape)

	for _, v := range m.variables {
		ptr, ok := m.types[v.typeID]
		if !ok || ptr.op != opTypePointer {
			continue
		}
		switch v.storage {
		case storageClassUniformConstant, storageClassUniform, storageClassStorageBuffer:
			b, err := m.resolveBinding(v, ptr.elem)
			if err != nil {
				return nil, err
			}
			refl.Bindings = append(refl.Bindings, b)
			if err := m.collectShapes(ptr.elem, shapes, make(map[uint32]bool)); err != nil {
				return nil, err
			}
		case storageClassPushConstant:
			pc, err := m.resolvePushConstants(ptr.elem)
			if err != nil {
				return nil, err
			}
			refl.PushConstants = append(refl.PushConstants, pc)
			if err := m.collectShapes(ptr.elem, shapes, make(map[uint32]bool)); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(refl.Bindings, func(i, j int) bool {
		a, b := refl.Bindings[i], refl.Bindings[j]
		if a.Set != b.Set {
			return a.Set < b.Set
		}
		return a.Binding < b.Binding
	})

	for _, s := range shapes {
		refl.Shapes = append(refl.Shapes, s)
	}
	sort.Slice(refl.Shapes, func(i, j int) bool { return refl.Shapes[i].Name < refl.Shapes[j].Name })

	return refl, nil
}

// resolveBinding maps one interface variable to a ReflectedBinding,
// peeling array wrappers to determine the descriptor count.
func (m *module) resolveBinding(v variable, typeID uint32) (metadata.ReflectedBinding, error) {
	count := uint32(1)
	t := m.types[typeID]

	switch t.op {
	case opTypeArray:
		length, ok := m.constants[t.count]
		if !ok {
			return metadata.ReflectedBinding{}, fmt.Errorf("array length of binding %q is not a literal constant", m.names[v.id])
		}
		count = length
		t = m.types[t.elem]
	case opTypeRuntimeArray:
		count = metadata.CountUnbounded
		t = m.types[t.elem]
	}

	var kind metadata.BindingKind
	switch {
	case t.op == opTypeSampledImage:
		kind = metadata.BindingKindCombinedImageSampler
	case t.op == opTypeImage && t.sampled == 2:
		kind = metadata.BindingKindStorageImage
	case t.op == opTypeImage:
		kind = metadata.BindingKindSampledImage
	case t.op == opTypeSampler:
		kind = metadata.BindingKindSampler
	case v.storage == storageClassStorageBuffer:
		kind = metadata.BindingKindStorageBuffer
	case v.storage == storageClassUniform && m.isBufferBlock(typeID):
		kind = metadata.BindingKindStorageBuffer
	case v.storage == storageClassUniform && m.holdsBufferReference(typeID):
		kind = metadata.BindingKindBufferReference
	default:
		kind = metadata.BindingKindUniformBuffer
	}

	return metadata.ReflectedBinding{
		Set:     m.sets[v.id],
		Binding: m.bindings[v.id],
		Kind:    kind,
		Count:   count,
		Stages:  m.stage,
	}, nil
}

func (m *module) isBufferBlock(typeID uint32) bool {
	t := m.types[typeID]
	if t.op == opTypeArray || t.op == opTypeRuntimeArray {
		typeID = t.elem
	}
	return m.bufferBlocks[typeID]
}

// holdsBufferReference reports whether a block struct contains at least one
// physical-storage-buffer pointer, i.e. a raw device address a shader
// dereferences directly.
func (m *module) holdsBufferReference(typeID uint32) bool {
	t := m.types[typeID]
	if t.op != opTypeStruct {
		return false
	}
	for _, member := range t.members {
		mt := m.types[member]
		if mt.op == opTypePointer && mt.storage == storageClassPhysicalStorageBuffer {
			return true
		}
	}
	return false
}

func (m *module) resolvePushConstants(structID uint32) (metadata.PushConstantRange, error) {
	t := m.types[structID]
	if t.op != opTypeStruct {
		return metadata.PushConstantRange{}, fmt.Errorf("push constant variable does not point at a struct")
	}
	offsets := m.memberOffsets[structID]

	lo := uint32(0)
	hi := uint32(0)
	for i, member := range t.members {
		off := offsets[uint32(i)]
		end := off + m.sizeOf(member, make(map[uint32]bool))
		if i == 0 || off < lo {
			lo = off
		}
		if end > hi {
			hi = end
		}
	}
	return metadata.PushConstantRange{
		Offset: lo,
		Size:   hi - lo,
		Stages: m.stage,
	}, nil
}

// collectShapes records the shape of every struct reachable from typeID
// through physical-storage-buffer pointers. A name bound to two different
// layouts in the same module is a reflection-time error, not a silent
// corruption at draw time.
func (m *module) collectShapes(typeID uint32, shapes map[string]metadata.BlockShape, visited map[uint32]bool) error {
	if visited[typeID] {
		return nil
	}
	visited[typeID] = true

	t := m.types[typeID]
	switch t.op {
	case opTypeStruct:
		for _, member := range t.members {
			if err := m.collectShapes(member, shapes, visited); err != nil {
				return err
			}
		}
	case opTypeArray, opTypeRuntimeArray:
		return m.collectShapes(t.elem, shapes, visited)
	case opTypePointer:
		if t.storage != storageClassPhysicalStorageBuffer || t.elem == 0 {
			return nil
		}
		pointee := m.types[t.elem]
		if pointee.op != opTypeStruct {
			return nil
		}
		shape := m.structShape(t.elem)
		if prev, ok := shapes[shape.Name]; ok {
			if !prev.Equal(shape) {
				return fmt.Errorf("buffer reference struct %q: %w", shape.Name, core.ErrLayoutMismatch)
			}
		} else if shape.Name != "" {
			shapes[shape.Name] = shape
		}
		return m.collectShapes(t.elem, shapes, visited)
	}
	return nil
}

func (m *module) structShape(structID uint32) metadata.BlockShape {
	t := m.types[structID]
	offsets := m.memberOffsets[structID]
	names := m.memberNames[structID]

	shape := metadata.BlockShape{Name: m.names[structID]}
	for i, member := range t.members {
		field := metadata.BlockField{
			Name:   names[uint32(i)],
			Offset: offsets[uint32(i)],
			Size:   m.sizeOf(member, make(map[uint32]bool)),
		}
		if field.Name == "" {
			field.Name = fmt.Sprintf("m%d", i)
		}
		if end := field.Offset + field.Size; end > shape.Size {
			shape.Size = end
		}
		shape.Fields = append(shape.Fields, field)
	}
	return shape
}

// sizeOf computes the byte size of a type as laid out in memory. Buffer
// reference pointers are 8 bytes; recursion through them is cut off so
// self-referential structs terminate.
func (m *module) sizeOf(typeID uint32, visited map[uint32]bool) uint32 {
	if visited[typeID] {
		return 8
	}
	visited[typeID] = true

	t := m.types[typeID]
	switch t.op {
	case opTypeInt, opTypeFloat:
		return t.width / 8
	case opTypeVector, opTypeMatrix:
		return m.sizeOf(t.elem, visited) * t.count
	case opTypeArray:
		return m.sizeOf(t.elem, visited) * m.constants[t.count]
	case opTypeStruct:
		offsets := m.memberOffsets[typeID]
		size := uint32(0)
		for i, member := range t.members {
			end := offsets[uint32(i)] + m.sizeOf(member, visited)
			if end > size {
				size = end
			}
		}
		return size
	case opTypePointer:
		return 8
	}
	return 0
}
