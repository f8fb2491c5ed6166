package alloc

import "errors"

var (
	// ErrNotInitialized indicates the operation was invoked on an Allocator
	// that was not built by New (its zero value).
	ErrNotInitialized = errors.New("alloc: not initialized")

	// ErrInvalidArgument indicates a nil/zero-size request or a shrink to a
	// size larger than the current allocation.
	ErrInvalidArgument = errors.New("alloc: invalid argument")

	// ErrTooLarge indicates the requested size exceeds the engine limit of
	// math.MaxUint32/2 bytes.
	ErrTooLarge = errors.New("alloc: requested size too large")

	// ErrOutOfMemory indicates a VM mapping failure or arithmetic overflow
	// while computing a new block's size.
	ErrOutOfMemory = errors.New("alloc: out of memory")

	// ErrInvalidState indicates release/shrink/query of a pointer that is
	// not inside any live block, or that addresses a non-allocated area.
	ErrInvalidState = errors.New("alloc: invalid state")
)
