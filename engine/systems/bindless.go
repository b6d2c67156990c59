package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief A stable index into the global descriptor set. The generation
 * increments every time the index is recycled, so a stale slot kept by a
 * caller is rejected instead of silently aliasing a new resource.
 */
type BindlessSlot struct {
	Index      uint32
	Kind       metadata.BindingKind
	Generation uint32
}

/**
 * @brief The GPU-side sink for incremental descriptor writes. The renderer
 * backend provides the concrete implementation; each registration issues
 * exactly one write instead of rebuilding the whole set.
 */
type DescriptorWriter interface {
	WriteSampledImage(index uint32, view any) error
	WriteSampler(index uint32, sampler any) error
}

/**
 * @brief What resource owners see of the bindless table. Call sites hold
 * slots as opaque (index, generation) pairs and never assume a layout
 * beyond the reserved set 0 convention.
 */
type BindlessRegistry interface {
	RegisterTexture(view any) (BindlessSlot, error)
	RegisterSampler(sampler any) (BindlessSlot, error)
	Release(slot BindlessSlot) error
}

type BindlessSystemConfig struct {
	/** @brief Hard capacity of the global texture array. */
	MaxSampledImages uint32
	/** @brief Hard capacity of the sampler slots. */
	MaxSamplers uint32
}

/**
 * @brief The global bindless table. Hands out stable indices for texture
 * views and samplers, recycles them through a LIFO free list, and defers
 * recycling of released indices until the frame-fence epoch they were
 * released in has retired on the GPU.
 */
type BindlessSystem struct {
	config BindlessSystemConfig
	writer DescriptorWriter
	epochs *memory.EpochTracker

	mu       sync.Mutex
	images   slotPool
	samplers slotPool
}

type pendingRelease struct {
	index uint32
	epoch uint64
}

type slotPool struct {
	capacity    uint32
	next        uint32
	free        []uint32
	generations []uint32
	pending     []pendingRelease
	live        []bool
}

func NewBindlessSystem(config BindlessSystemConfig, writer DescriptorWriter, epochs *memory.EpochTracker) (*BindlessSystem, error) {
	if config.MaxSampledImages == 0 || config.MaxSamplers == 0 {
		return nil, fmt.Errorf("bindless system requires non-zero slot capacities")
	}
	if writer == nil {
		return nil, fmt.Errorf("bindless system requires a descriptor writer")
	}
	core.LogInfo("Bindless system created with %d texture slots, %d sampler slots",
		config.MaxSampledImages, config.MaxSamplers)
	return &BindlessSystem{
		config:   config,
		writer:   writer,
		epochs:   epochs,
		images:   newSlotPool(config.MaxSampledImages),
		samplers: newSlotPool(config.MaxSamplers),
	}, nil
}

func newSlotPool(capacity uint32) slotPool {
	return slotPool{
		capacity:    capacity,
		generations: make([]uint32, capacity),
		live:        make([]bool, capacity),
	}
}

// RegisterTexture places a texture view into the global array and returns
// its slot. The view flows straight through to the descriptor writer.
func (bs *BindlessSystem) RegisterTexture(view any) (BindlessSlot, error) {
	bs.mu.Lock()
	slot, err := bs.images.acquire(metadata.BindingKindSampledImage, bs.epochs.Retired())
	bs.mu.Unlock()
	if err != nil {
		return BindlessSlot{}, err
	}
	if err := bs.writer.WriteSampledImage(slot.Index, view); err != nil {
		bs.mu.Lock()
		bs.images.abandon(slot.Index)
		bs.mu.Unlock()
		return BindlessSlot{}, err
	}
	return slot, nil
}

// RegisterSampler places a sampler and returns its slot.
func (bs *BindlessSystem) RegisterSampler(sampler any) (BindlessSlot, error) {
	bs.mu.Lock()
	slot, err := bs.samplers.acquire(metadata.BindingKindSampler, bs.epochs.Retired())
	bs.mu.Unlock()
	if err != nil {
		return BindlessSlot{}, err
	}
	if err := bs.writer.WriteSampler(slot.Index, sampler); err != nil {
		bs.mu.Lock()
		bs.samplers.abandon(slot.Index)
		bs.mu.Unlock()
		return BindlessSlot{}, err
	}
	return slot, nil
}

// Release retires the slot. The index is not recycled until the epoch
// currently being recorded retires, since an in-flight command buffer may
// still read the descriptor.
func (bs *BindlessSystem) Release(slot BindlessSlot) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	pool := &bs.images
	if slot.Kind == metadata.BindingKindSampler {
		pool = &bs.samplers
	}
	return pool.release(slot, bs.epochs.Current())
}

// LiveCount returns the number of live slots of the given kind.
func (bs *BindlessSystem) LiveCount(kind metadata.BindingKind) uint32 {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	pool := &bs.images
	if kind == metadata.BindingKindSampler {
		pool = &bs.samplers
	}
	count := uint32(0)
	for _, l := range pool.live {
		if l {
			count++
		}
	}
	return count
}

func (bs *BindlessSystem) Shutdown() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.images = newSlotPool(bs.config.MaxSampledImages)
	bs.samplers = newSlotPool(bs.config.MaxSamplers)
	core.LogInfo("Bindless system shut down")
	return nil
}

func (sp *slotPool) acquire(kind metadata.BindingKind, retiredEpoch uint64) (BindlessSlot, error) {
	sp.sweep(retiredEpoch)

	var index uint32
	switch {
	case len(sp.free) > 0:
		// LIFO reuse keeps generation growth bounded to a few hot indices.
		index = sp.free[len(sp.free)-1]
		sp.free = sp.free[:len(sp.free)-1]
		sp.generations[index]++
	case sp.next < sp.capacity:
		index = sp.next
		sp.next++
	default:
		return BindlessSlot{}, fmt.Errorf("%s table is full at %d slots: %w", kind, sp.capacity, core.ErrCapacityExceeded)
	}
	sp.live[index] = true
	return BindlessSlot{Index: index, Kind: kind, Generation: sp.generations[index]}, nil
}

func (sp *slotPool) release(slot BindlessSlot, currentEpoch uint64) error {
	if slot.Index >= sp.capacity || !sp.live[slot.Index] || sp.generations[slot.Index] != slot.Generation {
		return fmt.Errorf("release of %s slot %d generation %d: %w", slot.Kind, slot.Index, slot.Generation, core.ErrInvalidHandle)
	}
	sp.live[slot.Index] = false
	sp.pending = append(sp.pending, pendingRelease{index: slot.Index, epoch: currentEpoch})
	return nil
}

// abandon returns an index straight to the free list after a failed
// descriptor write. Nothing on the GPU ever saw it.
func (sp *slotPool) abandon(index uint32) {
	sp.live[index] = false
	sp.generations[index]++
	sp.free = append(sp.free, index)
}

// sweep moves pending releases whose epoch has retired onto the free list.
func (sp *slotPool) sweep(retiredEpoch uint64) {
	kept := sp.pending[:0]
	for _, p := range sp.pending {
		if p.epoch <= retiredEpoch {
			sp.free = append(sp.free, p.index)
		} else {
			kept = append(kept, p)
		}
	}
	sp.pending = kept
}
