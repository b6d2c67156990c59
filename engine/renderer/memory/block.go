package memory

import (
	"fmt"
	"unsafe"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

// Blocks are aligned so any std430/scalar struct a shader dereferences
// through a buffer reference starts on a 16 byte boundary.
const blockAlignment = 16

/**
 * @brief A typed record living inside a Region, laid out to match a fixed
 * shader-visible struct shape. Shaders reach it through its device
 * address; the host mutates it in place through the region's mapped view.
 *
 * The block never outlives its region: a region reset bumps the region
 * generation and every operation on a stale block fails.
 */
type Block[T any] struct {
	region     *Region
	offset     uint64
	generation uint32
}

// AllocateBlock reserves room for value in the region and, when the
// region is host-visible, writes the initial contents. Device-local
// regions still hand out a valid block and address; their contents take
// the staged upload path instead of the mapped view. T must be a flat
// struct with an explicit GPU layout; it is copied byte for byte.
func AllocateBlock[T any](region *Region, value T) (*Block[T], error) {
	size := uint64(unsafe.Sizeof(value))
	offset, err := region.reserve(size, blockAlignment)
	if err != nil {
		return nil, err
	}
	block := &Block[T]{
		region:     region,
		offset:     offset,
		generation: region.Generation(),
	}
	if region.Mappable() {
		if err := block.Update(value); err != nil {
			return nil, err
		}
	}
	return block, nil
}

// Update writes value through the region's mapped host view. A command
// buffer recorded after Update returns sees the new contents; command
// buffers recorded before keep whatever was visible at record time.
func (b *Block[T]) Update(value T) error {
	if b.generation != b.region.Generation() {
		return fmt.Errorf("block at region %d offset %d outlived a region reset: %w",
			b.region.ID(), b.offset, core.ErrInvalidHandle)
	}
	if !b.region.Mappable() {
		return fmt.Errorf("region %d has no host mapping: %w", b.region.ID(), core.ErrRegionNotMappable)
	}
	size := unsafe.Sizeof(value)
	src := unsafe.Slice((*byte)(unsafe.Pointer(&value)), size)
	copy(b.region.host[b.offset:b.offset+uint64(size)], src)
	return nil
}

// Address returns the device address of the block. Stable across repeated
// calls for the lifetime of the block.
func (b *Block[T]) Address() (metadata.DeviceAddress, error) {
	if b.generation != b.region.Generation() {
		return 0, fmt.Errorf("block at region %d offset %d outlived a region reset: %w",
			b.region.ID(), b.offset, core.ErrInvalidHandle)
	}
	return b.region.Address() + metadata.DeviceAddress(b.offset), nil
}
