package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/vega/engine/containers"
	"github.com/spaghettifunk/vega/engine/core"
)

// SubmissionIntent is one queued GPU resource mutation: a bindless
// registration or release, a resource block write, a descriptor update.
type SubmissionIntent func() error

type SubmissionSystemConfig struct {
	/** @brief Intents buffered between frames before Enqueue fails. */
	QueueDepth int
}

/**
 * @brief Serializes GPU resource mutation behind the submission thread.
 * Any thread may enqueue an intent; the submission thread applies them in
 * received order before recording the frame's command buffer. This gives
 * every write the record-time snapshot guarantee: a mutation enqueued
 * before Apply is visible to everything recorded afterwards.
 */
type SubmissionSystem struct {
	mu    sync.Mutex
	queue *containers.RingQueue[SubmissionIntent]
}

func NewSubmissionSystem(config SubmissionSystemConfig) (*SubmissionSystem, error) {
	if config.QueueDepth <= 0 {
		return nil, fmt.Errorf("submission system requires a positive queue depth")
	}
	return &SubmissionSystem{
		queue: containers.NewRingQueue[SubmissionIntent](config.QueueDepth),
	}, nil
}

// Enqueue registers an intent for the next Apply. Safe from any thread.
func (ss *SubmissionSystem) Enqueue(intent SubmissionIntent) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if err := ss.queue.Enqueue(intent); err != nil {
		return fmt.Errorf("submission queue full, frame loop is stalled: %w", err)
	}
	return nil
}

// Apply runs every queued intent in received order. The first failing
// intent stops the drain; the rest stay queued for the next frame.
func (ss *SubmissionSystem) Apply() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.queue.Drain(func(intent SubmissionIntent) error {
		return intent()
	})
}

func (ss *SubmissionSystem) Pending() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.queue.Len()
}

func (ss *SubmissionSystem) Shutdown() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if n := ss.queue.Len(); n > 0 {
		core.LogWarn("submission system shutting down with %d unapplied intents", n)
	}
	return nil
}
