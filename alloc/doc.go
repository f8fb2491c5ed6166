// Package alloc implements a JIT code allocator: it carves executable
// memory out of OS-provided virtual-memory mappings (via the vm package)
// and hands back aligned spans suitable for emitting machine code.
//
// # Overview
//
// The allocator groups memory into Blocks (one VM mapping each, carved
// into fixed-size Areas) and Blocks into Pools (one granularity each).
// A best-fit search over a per-block bit vector, cached by search-window
// hints, finds space for a request; failing that, a new Block is created.
// An address-range tree gives O(log N) pointer-to-block lookup on
// Release/Query.
//
// # Usage
//
//	a := alloc.New(alloc.CreateParams{})
//	defer a.Close()
//
//	rx, rw, err := a.Alloc(64)
//	if err != nil {
//	    return err
//	}
//	copy(rw, machineCode)
//	// ... later
//	err = a.Release(rx)
//
// # Thread Safety
//
// Allocator is safe for concurrent use; every public method acquires a
// single internal mutex for its full duration. Do not call allocator
// methods from within a VM callback or signal handler: doing so deadlocks.
//
// # Related Packages
//
//   - github.com/jitalloc/jitalloc/vm: the platform VM service consumed
//     by this package (mmap/mprotect/dual-mapping/instruction-cache flush).
package alloc
