package systems

import (
	"container/list"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief Identifies one pipeline: the ordered shader modules, the merged
 * layout, and the fixed-function state. Two lookups with equal keys share
 * one pipeline.
 */
type PipelineKey struct {
	Shaders []uuid.UUID
	Layout  *metadata.PipelineLayoutSpec
	State   metadata.RenderState
}

// Hash returns a stable FNV-1a hash of the key.
func (k PipelineKey) Hash() uint64 {
	h := fnv.New64a()
	for _, id := range k.Shaders {
		h.Write(id[:])
	}
	var buf [8]byte
	if k.Layout != nil {
		binary.LittleEndian.PutUint64(buf[:], k.Layout.Hash())
		h.Write(buf[:])
	}
	binary.LittleEndian.PutUint32(buf[:4], k.State.Packed())
	h.Write(buf[:4])
	return h.Sum64()
}

// PipelineBuildFunc creates the backend pipeline object for a key and
// returns its handle plus an opaque backend blob for disk persistence. The
// blob may be nil when the backend has nothing worth persisting.
type PipelineBuildFunc[H any] func() (H, []byte, error)

type PipelineCacheConfig[H any] struct {
	/** @brief Pipelines kept before least-recently-used eviction kicks in. */
	MaxPipelines int
	/** @brief Invalidates persisted blobs across backend/driver changes. */
	BackendVersion string
	/**
	 * @brief Recreates a handle from a persisted backend blob without
	 * running the build function. Required for disk round-trips; nil
	 * disables warm restores.
	 */
	Restore func(blob []byte) (H, error)
	/** @brief Destroys an evicted pipeline once no frame references it. */
	Destroy func(handle H)
}

/**
 * @brief Memoizes built pipelines by key. Exactly one build runs per
 * unique key even under concurrent lookup; duplicate callers block on the
 * pending build and all receive the same handle. Eviction is LRU beyond
 * the configured size, deferred by frame-fence epoch when the evicted
 * pipeline may still be referenced by an in-flight command buffer.
 */
type PipelineCacheSystem[H any] struct {
	config PipelineCacheConfig[H]
	epochs *memory.EpochTracker

	mu      sync.Mutex
	entries map[uint64]*pipelineEntry[H]
	lru     *list.List // front = most recent, values are key hashes
	// Evicted but possibly still read by an in-flight frame.
	graveyard []evictedPipeline[H]
}

type pipelineEntry[H any] struct {
	handle H
	blob   []byte
	// warm entries came from disk and have no handle yet.
	warm bool
	// building is non-nil while the first caller runs the build; later
	// callers wait on it.
	building chan struct{}
	lruSlot  *list.Element
}

type evictedPipeline[H any] struct {
	handle H
	epoch  uint64
}

func NewPipelineCacheSystem[H any](config PipelineCacheConfig[H], epochs *memory.EpochTracker) (*PipelineCacheSystem[H], error) {
	if config.MaxPipelines <= 0 {
		return nil, fmt.Errorf("pipeline cache requires a positive size")
	}
	return &PipelineCacheSystem[H]{
		config:  config,
		epochs:  epochs,
		entries: make(map[uint64]*pipelineEntry[H]),
		lru:     list.New(),
	}, nil
}

// GetOrBuild returns the pipeline for key, building it through build at
// most once per unique key. Concurrent callers with the same key collapse
// onto one build. A warm entry loaded from disk is restored through the
// configured Restore function instead of build.
func (pc *PipelineCacheSystem[H]) GetOrBuild(key PipelineKey, build PipelineBuildFunc[H]) (H, error) {
	hash := key.Hash()

	for {
		pc.mu.Lock()
		entry, ok := pc.entries[hash]
		switch {
		case !ok:
			entry = &pipelineEntry[H]{building: make(chan struct{})}
			pc.entries[hash] = entry
			pc.mu.Unlock()
			return pc.runBuild(hash, entry, build)
		case entry.building != nil:
			// Another caller owns the build; wait for it to settle.
			done := entry.building
			pc.mu.Unlock()
			<-done
			pc.mu.Lock()
			settled, still := pc.entries[hash]
			if still && settled.building == nil && !settled.warm {
				pc.touchLocked(hash, settled)
				handle := settled.handle
				pc.mu.Unlock()
				return handle, nil
			}
			pc.mu.Unlock()
			// A failed build removed the entry; retry from scratch.
		case entry.warm:
			// First hit on a disk-loaded entry: restore it under the same
			// pending guard a build would use.
			entry.warm = false
			entry.building = make(chan struct{})
			pc.mu.Unlock()
			return pc.runRestore(hash, entry)
		default:
			pc.touchLocked(hash, entry)
			handle := entry.handle
			pc.mu.Unlock()
			return handle, nil
		}
	}
}

func (pc *PipelineCacheSystem[H]) runRestore(hash uint64, entry *pipelineEntry[H]) (H, error) {
	var zero H
	if pc.config.Restore == nil {
		pc.failBuild(hash, entry, fmt.Errorf("pipeline cache has no restore path: %w", core.ErrBuildFailed))
		return zero, core.ErrBuildFailed
	}
	handle, err := pc.config.Restore(entry.blob)
	if err != nil {
		pc.failBuild(hash, entry, fmt.Errorf("restoring persisted pipeline: %w", err))
		return zero, err
	}
	pc.finishBuild(hash, entry, handle, entry.blob)
	return handle, nil
}

func (pc *PipelineCacheSystem[H]) runBuild(hash uint64, entry *pipelineEntry[H], build PipelineBuildFunc[H]) (H, error) {
	handle, blob, err := build()
	if err != nil {
		pc.failBuild(hash, entry, err)
		var zero H
		return zero, fmt.Errorf("pipeline build: %w", err)
	}
	pc.finishBuild(hash, entry, handle, blob)
	return handle, nil
}

func (pc *PipelineCacheSystem[H]) finishBuild(hash uint64, entry *pipelineEntry[H], handle H, blob []byte) {
	pc.mu.Lock()
	entry.handle = handle
	entry.blob = blob
	close(entry.building)
	entry.building = nil
	pc.touchLocked(hash, entry)
	pc.evictLocked()
	pc.mu.Unlock()
}

func (pc *PipelineCacheSystem[H]) failBuild(hash uint64, entry *pipelineEntry[H], err error) {
	pc.mu.Lock()
	delete(pc.entries, hash)
	if entry.lruSlot != nil {
		pc.lru.Remove(entry.lruSlot)
		entry.lruSlot = nil
	}
	close(entry.building)
	pc.mu.Unlock()
	core.LogError("pipeline build failed: %v", err)
}

func (pc *PipelineCacheSystem[H]) touchLocked(hash uint64, entry *pipelineEntry[H]) {
	if entry.lruSlot != nil {
		pc.lru.MoveToFront(entry.lruSlot)
	} else {
		entry.lruSlot = pc.lru.PushFront(hash)
	}
}

// evictLocked drops least-recently-used entries beyond the cache size.
// Warm entries are dropped outright; built pipelines move to the
// graveyard until their epoch retires.
func (pc *PipelineCacheSystem[H]) evictLocked() {
	for pc.lru.Len() > pc.config.MaxPipelines {
		oldest := pc.lru.Back()
		if oldest == nil {
			return
		}
		hash := oldest.Value.(uint64)
		entry := pc.entries[hash]
		pc.lru.Remove(oldest)
		delete(pc.entries, hash)
		if entry == nil || entry.warm {
			continue
		}
		epoch := uint64(0)
		if pc.epochs != nil {
			epoch = pc.epochs.Current()
		}
		pc.graveyard = append(pc.graveyard, evictedPipeline[H]{handle: entry.handle, epoch: epoch})
	}
}

// CollectGarbage destroys evicted pipelines whose epoch has retired.
// The renderer calls this once per frame after its fence wait.
func (pc *PipelineCacheSystem[H]) CollectGarbage() {
	retired := uint64(^uint64(0))
	if pc.epochs != nil {
		retired = pc.epochs.Retired()
	}

	pc.mu.Lock()
	kept := pc.graveyard[:0]
	var destroy []H
	for _, g := range pc.graveyard {
		if g.epoch <= retired {
			destroy = append(destroy, g.handle)
		} else {
			kept = append(kept, g)
		}
	}
	pc.graveyard = kept
	pc.mu.Unlock()

	if pc.config.Destroy != nil {
		for _, handle := range destroy {
			pc.config.Destroy(handle)
		}
	}
}

// Len returns the number of cached (built or warm) pipelines.
func (pc *PipelineCacheSystem[H]) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.entries)
}

// PendingDestroy returns the number of evicted pipelines awaiting their
// epoch before destruction.
func (pc *PipelineCacheSystem[H]) PendingDestroy() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return len(pc.graveyard)
}

func (pc *PipelineCacheSystem[H]) Shutdown() error {
	pc.mu.Lock()
	var destroy []H
	for hash, entry := range pc.entries {
		if entry.building == nil && !entry.warm {
			destroy = append(destroy, entry.handle)
		}
		delete(pc.entries, hash)
	}
	for _, g := range pc.graveyard {
		destroy = append(destroy, g.handle)
	}
	pc.graveyard = nil
	pc.lru.Init()
	pc.mu.Unlock()

	if pc.config.Destroy != nil {
		for _, handle := range destroy {
			pc.config.Destroy(handle)
		}
	}
	return nil
}

// Disk format: magic, format version, backend version tag, then one
// (key hash, blob) record per persisted pipeline. Any mismatch in magic,
// version, or backend tag invalidates the whole file.
const (
	pipelineCacheMagic         = 0x56504943 // "VPIC"
	pipelineCacheFormatVersion = 1
)

// Save persists every entry that carries a backend blob.
func (pc *PipelineCacheSystem[H]) Save(path string) error {
	pc.mu.Lock()
	type record struct {
		hash uint64
		blob []byte
	}
	var records []record
	for hash, entry := range pc.entries {
		if entry.building == nil && len(entry.blob) > 0 {
			records = append(records, record{hash, entry.blob})
		}
	}
	pc.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating pipeline cache file: %w", err)
	}
	defer f.Close()

	w := func(v any) error { return binary.Write(f, binary.LittleEndian, v) }
	if err := w(uint32(pipelineCacheMagic)); err != nil {
		return err
	}
	if err := w(uint32(pipelineCacheFormatVersion)); err != nil {
		return err
	}
	tag := []byte(pc.config.BackendVersion)
	if err := w(uint32(len(tag))); err != nil {
		return err
	}
	if _, err := f.Write(tag); err != nil {
		return err
	}
	if err := w(uint32(len(records))); err != nil {
		return err
	}
	for _, r := range records {
		if err := w(r.hash); err != nil {
			return err
		}
		if err := w(uint32(len(r.blob))); err != nil {
			return err
		}
		if _, err := f.Write(r.blob); err != nil {
			return err
		}
	}
	core.LogDebug("Pipeline cache saved: %d pipelines to %s", len(records), path)
	return nil
}

// Load reads persisted records as warm entries. A missing file is not an
// error; a stale format or backend tag discards the file silently, since
// the cache is only ever an optimization.
func (pc *PipelineCacheSystem[H]) Load(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening pipeline cache file: %w", err)
	}
	defer f.Close()

	r := func(v any) error { return binary.Read(f, binary.LittleEndian, v) }
	var magic, version uint32
	if err := r(&magic); err != nil || magic != pipelineCacheMagic {
		core.LogWarn("Pipeline cache %s is not a cache file, ignoring", path)
		return nil
	}
	if err := r(&version); err != nil || version != pipelineCacheFormatVersion {
		core.LogWarn("Pipeline cache %s has format version %d, ignoring", path, version)
		return nil
	}
	var tagLen uint32
	if err := r(&tagLen); err != nil {
		return nil
	}
	tag := make([]byte, tagLen)
	if _, err := io.ReadFull(f, tag); err != nil {
		return nil
	}
	if string(tag) != pc.config.BackendVersion {
		core.LogInfo("Pipeline cache %s was built for backend %q, discarding", path, tag)
		return nil
	}

	var count uint32
	if err := r(&count); err != nil {
		return nil
	}
	loaded := 0
	pc.mu.Lock()
	defer pc.mu.Unlock()
	for i := uint32(0); i < count; i++ {
		var hash uint64
		var blobLen uint32
		if err := r(&hash); err != nil {
			break
		}
		if err := r(&blobLen); err != nil {
			break
		}
		blob := make([]byte, blobLen)
		if _, err := io.ReadFull(f, blob); err != nil {
			break
		}
		if _, exists := pc.entries[hash]; exists {
			continue
		}
		entry := &pipelineEntry[H]{blob: blob, warm: true}
		pc.entries[hash] = entry
		pc.touchLocked(hash, entry)
		loaded++
	}
	pc.evictLocked()
	core.LogDebug("Pipeline cache loaded: %d warm pipelines from %s", loaded, path)
	return nil
}
