package spirv

import (
	"encoding/binary"
	"fmt"
)

// MagicNumber is the first word of every SPIR-V module.
const MagicNumber = 0x07230203

// The subset of opcodes reflection cares about. Anything else is skipped.
const (
	opName               = 5
	opMemberName         = 6
	opEntryPoint         = 15
	opTypeInt            = 21
	opTypeFloat          = 22
	opTypeVector         = 23
	opTypeMatrix         = 24
	opTypeImage          = 25
	opTypeSampler        = 26
	opTypeSampledImage   = 27
	opTypeArray          = 28
	opTypeRuntimeArray   = 29
	opTypeStruct         = 30
	opTypePointer        = 32
	opTypeForwardPointer = 39
	opConstant           = 43
	opVariable           = 59
	opDecorate           = 71
	opMemberDecorate     = 72
)

// Storage classes.
const (
	storageClassUniformConstant       = 0
	storageClassUniform               = 2
	storageClassPushConstant          = 9
	storageClassStorageBuffer         = 12
	storageClassPhysicalStorageBuffer = 5349
)

// Decorations.
const (
	decorationBlock         = 2
	decorationBufferBlock   = 3
	decorationArrayStride   = 6
	decorationBinding       = 33
	decorationDescriptorSet = 34
	decorationOffset        = 35
)

// Execution models.
const (
	execModelVertex    = 0
	execModelFragment  = 4
	execModelGLCompute = 5
)

type instruction struct {
	opcode   uint16
	operands []uint32
}

// parseWords converts a bytecode blob into its word stream, validating only
// the magic number and word alignment. Full bytecode well-formedness is the
// compiler's responsibility, not ours.
func parseWords(code []byte) ([]uint32, error) {
	if len(code) < 20 || len(code)%4 != 0 {
		return nil, fmt.Errorf("bytecode length %d is not a valid SPIR-V module", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}
	if words[0] != MagicNumber {
		return nil, fmt.Errorf("bad SPIR-V magic number 0x%08x", words[0])
	}
	return words, nil
}

// instructions walks the instruction stream that begins after the 5-word
// header, invoking fn for each instruction.
func instructions(words []uint32, fn func(instruction) error) error {
	i := 5
	for i < len(words) {
		first := words[i]
		opcode := uint16(first & 0xFFFF)
		wordCount := int(first >> 16)
		if wordCount == 0 || i+wordCount > len(words) {
			return fmt.Errorf("malformed instruction at word %d", i)
		}
		if err := fn(instruction{opcode: opcode, operands: words[i+1 : i+wordCount]}); err != nil {
			return err
		}
		i += wordCount
	}
	return nil
}

// literalString decodes a nul-terminated UTF-8 string packed into words,
// returning the string and the number of words consumed.
func literalString(operands []uint32) (string, int) {
	var buf []byte
	for i, w := range operands {
		for shift := 0; shift < 32; shift += 8 {
			c := byte(w >> shift)
			if c == 0 {
				return string(buf), i + 1
			}
			buf = append(buf, c)
		}
	}
	return string(buf), len(operands)
}
