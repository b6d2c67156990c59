package memory

import "sync"

/**
 * @brief Tracks frame-fence epochs. An epoch is begun when a frame starts
 * recording and retired when its fence signals; resources released during
 * an epoch may only be recycled once that epoch has retired, since a
 * prior frame's command buffer may still read them on the GPU.
 */
type EpochTracker struct {
	mu      sync.Mutex
	current uint64
	retired uint64
}

func NewEpochTracker() *EpochTracker {
	return &EpochTracker{}
}

// Begin opens a new epoch and returns its value. The returned epoch is
// attached to the frame's fence by the caller.
func (et *EpochTracker) Begin() uint64 {
	et.mu.Lock()
	defer et.mu.Unlock()
	et.current++
	return et.current
}

// Retire marks epoch and everything before it as complete on the GPU.
func (et *EpochTracker) Retire(epoch uint64) {
	et.mu.Lock()
	defer et.mu.Unlock()
	if epoch > et.retired {
		et.retired = epoch
	}
}

func (et *EpochTracker) Current() uint64 {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.current
}

func (et *EpochTracker) Retired() uint64 {
	et.mu.Lock()
	defer et.mu.Unlock()
	return et.retired
}

// IsRetired reports whether the GPU has finished every command buffer
// recorded during epoch.
func (et *EpochTracker) IsRetired(epoch uint64) bool {
	et.mu.Lock()
	defer et.mu.Unlock()
	return epoch <= et.retired
}
