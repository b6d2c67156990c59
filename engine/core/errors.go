package core

import (
	"errors"
)

// Structural errors indicate a shader/host contract mismatch. They are
// surfaced to the caller immediately and never retried; the fix lives in
// shader source or host code.
var (
	ErrLayoutMismatch           = errors.New("buffer reference struct layout disagrees between shader stages")
	ErrBindingConflict          = errors.New("shader stages declare different bindings at the same (set, binding)")
	ErrReservedBindingViolation = errors.New("shader redeclares a reserved bindless binding")
	ErrPushConstantMismatch     = errors.New("push constant ranges disagree across shader stages")
)

// Resource exhaustion errors are recoverable: the caller may evict, resize
// or defer, and must not tear down the frame loop.
var (
	ErrCapacityExceeded  = errors.New("bindless table capacity exceeded")
	ErrOutOfRegionSpace  = errors.New("device buffer region has insufficient space")
	ErrRegionNotMappable = errors.New("device buffer region is not host visible")
)

var (
	// ErrBuildFailed means the backend rejected an otherwise valid pipeline spec.
	ErrBuildFailed = errors.New("backend pipeline creation failed")
	// ErrInvalidHandle is returned when a stale (released or recycled) handle is used.
	ErrInvalidHandle = errors.New("stale resource handle")
	// ErrDeviceLost is fatal to the current frame loop and must propagate up.
	ErrDeviceLost = errors.New("device lost")
)
