package vm

import "unsafe"

// Info reports page geometry for the running host.
type Info struct {
	PageSize        uint32
	PageGranularity uint32
}

// HardenedRuntimeFlags describes a host's W^X enforcement posture.
type HardenedRuntimeFlags uint32

const (
	// HardenedEnabled indicates simultaneous RWX mapping is disallowed.
	HardenedEnabled HardenedRuntimeFlags = 1 << iota
	// HardenedMapJit indicates the host offers a platform JIT-mode
	// primitive (e.g. Apple's MAP_JIT) that permits single-mapping RWX use
	// via a per-thread write-protect toggle, despite HardenedEnabled.
	HardenedMapJit
)

// HardenedRuntimeInfo reports the host's W^X policy.
type HardenedRuntimeInfo struct {
	Flags HardenedRuntimeFlags
}

func (i HardenedRuntimeInfo) Enabled() bool { return i.Flags&HardenedEnabled != 0 }
func (i HardenedRuntimeInfo) MapJit() bool  { return i.Flags&HardenedMapJit != 0 }

// MemoryFlags requests an access mode for a new mapping.
type MemoryFlags uint32

const (
	AccessRWX MemoryFlags = 1 << iota
)

// ProtectJitAccess selects one side of a process-wide RW/RX toggle.
type ProtectJitAccess int

const (
	ProtectReadWrite ProtectJitAccess = iota
	ProtectReadExecute
)

// Mapping is a single VM allocation. RX is the address code is invoked
// through; RW is a writable view over the same span. For a single mapping
// the two coincide (RW's backing array starts at RX); for a dual mapping
// they are distinct virtual addresses over the same physical pages.
type Mapping struct {
	RX uintptr
	RW []byte
}

// RWAddr returns the base address of the writable view.
func (m Mapping) RWAddr() uintptr {
	if len(m.RW) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.RW[0]))
}

// ReadWriteScope is a scoped RW-protect window: Close must be called on
// every path, including error paths, to restore execute access.
type ReadWriteScope interface {
	Close() error
}

// Service is the VM backend an Allocator is built on. Implementations must
// be safe for concurrent use by multiple goroutines.
type Service interface {
	// Info reports page geometry.
	Info() Info

	// HardenedRuntimeInfo reports the host's W^X enforcement policy.
	HardenedRuntimeInfo() HardenedRuntimeInfo

	// Alloc creates a single RWX mapping of size bytes. RX == RW's address.
	Alloc(size uint32, flags MemoryFlags) (Mapping, error)

	// AllocDualMapping creates two virtual views (RX, RW) over one set of
	// physical pages.
	AllocDualMapping(size uint32, flags MemoryFlags) (Mapping, error)

	// Release unmaps a single mapping created by Alloc.
	Release(m Mapping, size uint32) error

	// ReleaseDualMapping unmaps a dual mapping created by AllocDualMapping.
	ReleaseDualMapping(m Mapping, size uint32) error

	// FlushInstructionCache invalidates cached instructions for [rx, rx+size)
	// so a CPU observes just-written code.
	FlushInstructionCache(rx uintptr, size uint32)

	// ProtectJitMemory toggles a process-wide JIT access mode. Used only by
	// the allocator's reset/wipe path.
	ProtectJitMemory(access ProtectJitAccess) error

	// ProtectJitReadWriteScope opens a scoped RW window over [rw, rw+size)
	// for platforms needing dynamic per-range W^X toggling. Implementations
	// that don't require it return a no-op scope.
	ProtectJitReadWriteScope(rw uintptr, size uint32) (ReadWriteScope, error)
}

type noopScope struct{}

func (noopScope) Close() error { return nil }
