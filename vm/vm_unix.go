//go:build linux || freebsd

package vm

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// unixService backs the VM service on Linux and FreeBSD using
// golang.org/x/sys/unix, matching the mmap/munmap conventions the teacher
// uses in hive/loader_unix.go and the msync conventions in
// hive/dirty/flush_unix.go.
type unixService struct{}

// Host returns the VM service for the running platform.
func Host() Service { return unixService{} }

func (unixService) Info() Info {
	ps := uint32(os.Getpagesize())
	return Info{PageSize: ps, PageGranularity: ps}
}

func (unixService) HardenedRuntimeInfo() HardenedRuntimeInfo {
	// Linux and FreeBSD permit simultaneous RWX mappings by default; hosts
	// that lock this down (e.g. via SELinux execmem denial) are not probed
	// here, matching the teacher's own "assume the common case, let mmap
	// fail loudly otherwise" posture in hive/loader_unix.go.
	return HardenedRuntimeInfo{}
}

func (unixService) Alloc(size uint32, _ MemoryFlags) (Mapping, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return Mapping{}, fmt.Errorf("vm: mmap rwx: %w", err)
	}
	return Mapping{RX: uintptr(unsafe.Pointer(&data[0])), RW: data}, nil
}

// AllocDualMapping maps one temp file twice: once RX, once RW, over the
// same physical pages. The file is closed and unlinked before returning. This is the POSIX
// equivalent of the teacher's single mmap-by-fd in hive/loader_unix.go,
// applied twice to the same file descriptor.
func (unixService) AllocDualMapping(size uint32, _ MemoryFlags) (Mapping, error) {
	f, err := os.CreateTemp("", "jitalloc-dual-*")
	if err != nil {
		return Mapping{}, fmt.Errorf("vm: create dual-mapping backing file: %w", err)
	}
	// Unlink and close on return; the two mappings keep the pages alive.
	name := f.Name()
	defer os.Remove(name)
	defer f.Close()

	if err := f.Truncate(int64(size)); err != nil {
		return Mapping{}, fmt.Errorf("vm: truncate dual-mapping backing file: %w", err)
	}

	rw, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return Mapping{}, fmt.Errorf("vm: mmap rw view: %w", err)
	}

	rxData, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_EXEC, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Munmap(rw)
		return Mapping{}, fmt.Errorf("vm: mmap rx view: %w", err)
	}

	return Mapping{RX: uintptr(unsafe.Pointer(&rxData[0])), RW: rw}, nil
}

func (unixService) Release(m Mapping, size uint32) error {
	return unix.Munmap(m.RW)
}

func (unixService) ReleaseDualMapping(m Mapping, size uint32) error {
	if err := unix.Munmap(byteView(m.RX, size)); err != nil {
		return fmt.Errorf("vm: munmap rx view: %w", err)
	}
	if err := unix.Munmap(m.RW); err != nil {
		return fmt.Errorf("vm: munmap rw view: %w", err)
	}
	return nil
}

func (unixService) FlushInstructionCache(rx uintptr, size uint32) {
	if runtime.GOARCH == "arm64" || runtime.GOARCH == "arm" {
		// The kernel maintains I/D-cache coherency across the
		// mprotect(PROT_EXEC) transition that dual mapping relies on; no
		// syscall analogous to cacheflush(2) exists on arm64 Linux.
		return
	}
	// x86/x86-64 instruction and data caches are coherent; nothing to do.
}

func (unixService) ProtectJitMemory(_ ProtectJitAccess) error {
	// Single RWX mappings never toggle protection; only a MAP_JIT-style
	// dual-mapped or per-thread-writable mapping needs this, which Linux
	// and FreeBSD don't require.
	return nil
}

func (unixService) ProtectJitReadWriteScope(_ uintptr, _ uint32) (ReadWriteScope, error) {
	return noopScope{}, nil
}

func byteView(addr uintptr, size uint32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
}
