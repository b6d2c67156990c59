package spirv

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

// moduleBuilder assembles a minimal SPIR-V word stream for tests.
type moduleBuilder struct {
	words []uint32
	next  uint32
}

func newModuleBuilder() *moduleBuilder {
	b := &moduleBuilder{next: 1}
	b.words = append(b.words,
		MagicNumber,
		0x00010500, // version 1.5
		0,          // generator
		0,          // bound, patched in bytes()
		0,          // schema
	)
	return b
}

func (b *moduleBuilder) id() uint32 {
	id := b.next
	b.next++
	return id
}

func (b *moduleBuilder) ins(opcode uint16, operands ...uint32) {
	b.words = append(b.words, uint32(len(operands)+1)<<16|uint32(opcode))
	b.words = append(b.words, operands...)
}

// packString encodes a nul-terminated literal string as operand words.
func packString(s string) []uint32 {
	bytes := append([]byte(s), 0)
	for len(bytes)%4 != 0 {
		bytes = append(bytes, 0)
	}
	words := make([]uint32, len(bytes)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(bytes[i*4:])
	}
	return words
}

func (b *moduleBuilder) entryPoint(model uint32, target uint32, name string) {
	ops := []uint32{model, target}
	b.ins(opEntryPoint, append(ops, packString(name)...)...)
}

func (b *moduleBuilder) name(target uint32, name string) {
	b.ins(opName, append([]uint32{target}, packString(name)...)...)
}

func (b *moduleBuilder) memberName(target, member uint32, name string) {
	b.ins(opMemberName, append([]uint32{target, member}, packString(name)...)...)
}

func (b *moduleBuilder) decorate(target uint32, decoration uint32, extra ...uint32) {
	b.ins(opDecorate, append([]uint32{target, decoration}, extra...)...)
}

func (b *moduleBuilder) memberOffset(target, member, offset uint32) {
	b.ins(opMemberDecorate, target, member, decorationOffset, offset)
}

func (b *moduleBuilder) bytes() []byte {
	b.words[3] = b.next
	out := make([]byte, len(b.words)*4)
	for i, w := range b.words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// baseTypes installs float/vec4/mat4 and returns their ids.
func (b *moduleBuilder) baseTypes() (tFloat, tVec4, tMat4 uint32) {
	tFloat = b.id()
	tVec4 = b.id()
	tMat4 = b.id()
	b.ins(opTypeFloat, tFloat, 32)
	b.ins(opTypeVector, tVec4, tFloat, 4)
	b.ins(opTypeMatrix, tMat4, tVec4, 4)
	return
}

func TestAnalyzeRejectsBadMagic(t *testing.T) {
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, 0xdeadbeef)
	_, err := Analyze(code)
	assert.Error(t, err)

	_, err = Analyze([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestAnalyzeBindlessFragment(t *testing.T) {
	b := newModuleBuilder()
	main := b.id()
	b.entryPoint(execModelFragment, main, "main")

	tFloat, _, tMat4 := b.baseTypes()

	// Global texture table: runtime array of sampled images at (0, 0).
	tImage := b.id()
	b.ins(opTypeImage, tImage, tFloat, 1, 0, 0, 0, 1, 0)
	tTexArray := b.id()
	b.ins(opTypeRuntimeArray, tTexArray, tImage)
	tTexPtr := b.id()
	b.ins(opTypePointer, tTexPtr, storageClassUniformConstant, tTexArray)
	vTextures := b.id()
	b.ins(opVariable, tTexPtr, vTextures, storageClassUniformConstant)
	b.decorate(vTextures, decorationDescriptorSet, 0)
	b.decorate(vTextures, decorationBinding, 0)

	// Shared sampler at (0, 1).
	tSampler := b.id()
	b.ins(opTypeSampler, tSampler)
	tSamplerPtr := b.id()
	b.ins(opTypePointer, tSamplerPtr, storageClassUniformConstant, tSampler)
	vSampler := b.id()
	b.ins(opVariable, tSamplerPtr, vSampler, storageClassUniformConstant)
	b.decorate(vSampler, decorationDescriptorSet, 0)
	b.decorate(vSampler, decorationBinding, 1)

	// Camera buffer-reference struct: two mat4 fields.
	tCamera := b.id()
	b.name(tCamera, "Camera")
	b.memberName(tCamera, 0, "view")
	b.memberName(tCamera, 1, "proj")
	b.ins(opTypeStruct, tCamera, tMat4, tMat4)
	b.memberOffset(tCamera, 0, 0)
	b.memberOffset(tCamera, 1, 64)
	tCameraPtr := b.id()
	b.ins(opTypeForwardPointer, tCameraPtr, storageClassPhysicalStorageBuffer)
	b.ins(opTypePointer, tCameraPtr, storageClassPhysicalStorageBuffer, tCamera)

	// Globals uniform block at (1, 0) holding the camera device address.
	tGlobals := b.id()
	b.name(tGlobals, "Globals")
	b.memberName(tGlobals, 0, "camera")
	b.ins(opTypeStruct, tGlobals, tCameraPtr)
	b.memberOffset(tGlobals, 0, 0)
	b.decorate(tGlobals, decorationBlock)
	tGlobalsPtr := b.id()
	b.ins(opTypePointer, tGlobalsPtr, storageClassUniform, tGlobals)
	vGlobals := b.id()
	b.ins(opVariable, tGlobalsPtr, vGlobals, storageClassUniform)
	b.decorate(vGlobals, decorationDescriptorSet, 1)
	b.decorate(vGlobals, decorationBinding, 0)

	// Push constant block: one mat4.
	tPush := b.id()
	b.name(tPush, "PushConstants")
	b.memberName(tPush, 0, "model")
	b.ins(opTypeStruct, tPush, tMat4)
	b.memberOffset(tPush, 0, 0)
	tPushPtr := b.id()
	b.ins(opTypePointer, tPushPtr, storageClassPushConstant, tPush)
	vPush := b.id()
	b.ins(opVariable, tPushPtr, vPush, storageClassPushConstant)

	refl, err := Analyze(b.bytes())
	require.NoError(t, err)

	assert.Equal(t, metadata.StageFragment, refl.Stage)
	assert.Equal(t, "main", refl.EntryPoint)

	require.Len(t, refl.Bindings, 3)
	assert.Equal(t, metadata.ReflectedBinding{
		Set: 0, Binding: 0,
		Kind:   metadata.BindingKindSampledImage,
		Count:  metadata.CountUnbounded,
		Stages: metadata.StageFragment,
	}, refl.Bindings[0])
	assert.Equal(t, metadata.ReflectedBinding{
		Set: 0, Binding: 1,
		Kind:   metadata.BindingKindSampler,
		Count:  1,
		Stages: metadata.StageFragment,
	}, refl.Bindings[1])
	assert.Equal(t, metadata.ReflectedBinding{
		Set: 1, Binding: 0,
		Kind:   metadata.BindingKindBufferReference,
		Count:  1,
		Stages: metadata.StageFragment,
	}, refl.Bindings[2])

	require.Len(t, refl.PushConstants, 1)
	assert.Equal(t, metadata.PushConstantRange{
		Offset: 0, Size: 64, Stages: metadata.StageFragment,
	}, refl.PushConstants[0])

	require.Len(t, refl.Shapes, 1)
	shape := refl.Shapes[0]
	assert.Equal(t, "Camera", shape.Name)
	assert.Equal(t, uint32(128), shape.Size)
	require.Len(t, shape.Fields, 2)
	assert.Equal(t, metadata.BlockField{Name: "view", Offset: 0, Size: 64}, shape.Fields[0])
	assert.Equal(t, metadata.BlockField{Name: "proj", Offset: 64, Size: 64}, shape.Fields[1])
}

func TestAnalyzeBoundedArrayCount(t *testing.T) {
	b := newModuleBuilder()
	main := b.id()
	b.entryPoint(execModelVertex, main, "main")

	tFloat := b.id()
	b.ins(opTypeFloat, tFloat, 32)
	tUint := b.id()
	b.ins(opTypeInt, tUint, 32, 0)
	cFour := b.id()
	b.ins(opConstant, tUint, cFour, 4)

	tImage := b.id()
	b.ins(opTypeImage, tImage, tFloat, 1, 0, 0, 0, 1, 0)
	tArr := b.id()
	b.ins(opTypeArray, tArr, tImage, cFour)
	tPtr := b.id()
	b.ins(opTypePointer, tPtr, storageClassUniformConstant, tArr)
	v := b.id()
	b.ins(opVariable, tPtr, v, storageClassUniformConstant)
	b.decorate(v, decorationDescriptorSet, 2)
	b.decorate(v, decorationBinding, 3)

	refl, err := Analyze(b.bytes())
	require.NoError(t, err)
	require.Len(t, refl.Bindings, 1)
	assert.Equal(t, uint32(2), refl.Bindings[0].Set)
	assert.Equal(t, uint32(3), refl.Bindings[0].Binding)
	assert.Equal(t, uint32(4), refl.Bindings[0].Count)
	assert.Equal(t, metadata.StageVertex, refl.Bindings[0].Stages)
}

func TestAnalyzeStorageBuffer(t *testing.T) {
	b := newModuleBuilder()
	main := b.id()
	b.entryPoint(execModelGLCompute, main, "main")

	tFloat := b.id()
	b.ins(opTypeFloat, tFloat, 32)
	tStruct := b.id()
	b.ins(opTypeStruct, tStruct, tFloat)
	b.memberOffset(tStruct, 0, 0)
	b.decorate(tStruct, decorationBlock)
	tPtr := b.id()
	b.ins(opTypePointer, tPtr, storageClassStorageBuffer, tStruct)
	v := b.id()
	b.ins(opVariable, tPtr, v, storageClassStorageBuffer)
	b.decorate(v, decorationDescriptorSet, 0)
	b.decorate(v, decorationBinding, 2)

	refl, err := Analyze(b.bytes())
	require.NoError(t, err)
	require.Len(t, refl.Bindings, 1)
	assert.Equal(t, metadata.BindingKindStorageBuffer, refl.Bindings[0].Kind)
	assert.Equal(t, metadata.StageCompute, refl.Stage)
}

func TestAnalyzeShapeMismatchSameName(t *testing.T) {
	b := newModuleBuilder()
	main := b.id()
	b.entryPoint(execModelFragment, main, "main")

	_, tVec4, tMat4 := b.baseTypes()

	// Two distinct structs both named Camera, with different layouts.
	tCameraA := b.id()
	b.name(tCameraA, "Camera")
	b.memberName(tCameraA, 0, "view")
	b.ins(opTypeStruct, tCameraA, tMat4)
	b.memberOffset(tCameraA, 0, 0)
	tPtrA := b.id()
	b.ins(opTypePointer, tPtrA, storageClassPhysicalStorageBuffer, tCameraA)

	tCameraB := b.id()
	b.name(tCameraB, "Camera")
	b.memberName(tCameraB, 0, "position")
	b.ins(opTypeStruct, tCameraB, tVec4)
	b.memberOffset(tCameraB, 0, 0)
	tPtrB := b.id()
	b.ins(opTypePointer, tPtrB, storageClassPhysicalStorageBuffer, tCameraB)

	tGlobals := b.id()
	b.ins(opTypeStruct, tGlobals, tPtrA, tPtrB)
	b.memberOffset(tGlobals, 0, 0)
	b.memberOffset(tGlobals, 1, 8)
	b.decorate(tGlobals, decorationBlock)
	tGlobalsPtr := b.id()
	b.ins(opTypePointer, tGlobalsPtr, storageClassUniform, tGlobals)
	v := b.id()
	b.ins(opVariable, tGlobalsPtr, v, storageClassUniform)
	b.decorate(v, decorationDescriptorSet, 1)
	b.decorate(v, decorationBinding, 0)

	_, err := Analyze(b.bytes())
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrLayoutMismatch)
}
