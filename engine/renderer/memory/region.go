package memory

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/math"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief An allocated, address-stable GPU memory range. Resource blocks
 * are carved out of a region with a bump allocator; the region owns the
 * backing storage and blocks hold a non-owning (offset, generation)
 * reference into it.
 *
 * A region never grows. Addresses handed out stay valid until the region
 * is reset or freed, so in-flight shader reads are never invalidated by
 * a reallocation.
 */
type Region struct {
	id         uint32
	address    metadata.DeviceAddress
	size       uint64
	host       []byte
	generation uint32
	used       uint64
	mu         sync.Mutex
}

// NewRegion wraps an already allocated device memory range. host is the
// mapped view of the range, or nil when the memory is not host-visible.
func NewRegion(id uint32, address metadata.DeviceAddress, size uint64, host []byte) (*Region, error) {
	if host != nil && uint64(len(host)) < size {
		return nil, fmt.Errorf("region %d: mapped view is %d bytes, expected at least %d", id, len(host), size)
	}
	return &Region{
		id:      id,
		address: address,
		size:    size,
		host:    host,
	}, nil
}

func (r *Region) ID() uint32 {
	return r.id
}

func (r *Region) Address() metadata.DeviceAddress {
	return r.address
}

func (r *Region) Size() uint64 {
	return r.size
}

func (r *Region) Generation() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}

func (r *Region) Remaining() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size - r.used
}

// Mappable reports whether updates can be written through a mapped host
// view. Non-mappable regions require a staged upload path.
func (r *Region) Mappable() bool {
	return r.host != nil
}

// Reset reclaims the whole region and bumps its generation, invalidating
// every block previously allocated from it. The caller must guarantee no
// in-flight frame still reads the old contents.
func (r *Region) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.used = 0
	r.generation++
}

// reserve bumps the allocation cursor, aligned up to align bytes.
func (r *Region) reserve(size, align uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	offset := math.AlignUp(r.used, align)
	if offset+size > r.size {
		return 0, fmt.Errorf("region %d: %d bytes requested, %d remaining: %w",
			r.id, size, r.size-r.used, core.ErrOutOfRegionSpace)
	}
	r.used = offset + size
	return offset, nil
}
