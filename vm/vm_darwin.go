//go:build darwin

package vm

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// darwinService backs the VM service on macOS/iOS. Apple Silicon runs under
// a hardened runtime that forbids simultaneous RWX mappings outside of
// MAP_JIT; this mirrors the posture the teacher documents in
// hive/dirty/flush_darwin.go for msync-on-Apple-Silicon quirks.
type darwinService struct{}

func Host() Service { return darwinService{} }

func (darwinService) Info() Info {
	ps := uint32(os.Getpagesize())
	return Info{PageSize: ps, PageGranularity: ps}
}

func (darwinService) HardenedRuntimeInfo() HardenedRuntimeInfo {
	if runtime.GOARCH == "arm64" {
		return HardenedRuntimeInfo{Flags: HardenedEnabled | HardenedMapJit}
	}
	return HardenedRuntimeInfo{}
}

// mapJitFlag is MAP_JIT (0x0800), not exposed by golang.org/x/sys/unix on
// darwin; the teacher's own loader_unix.go takes the same "raw constant,
// commented with its source" approach for platform flags x/sys omits.
const mapJitFlag = 0x0800

func (s darwinService) Alloc(size uint32, _ MemoryFlags) (Mapping, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANON
	if s.HardenedRuntimeInfo().MapJit() {
		flags |= mapJitFlag
	}
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC, flags)
	if err != nil {
		return Mapping{}, fmt.Errorf("vm: mmap rwx: %w", err)
	}
	return Mapping{RX: uintptr(unsafe.Pointer(&data[0])), RW: data}, nil
}

// AllocDualMapping is unavailable under MAP_JIT: Apple Silicon's hardened
// runtime ties JIT memory to a single MAP_JIT region toggled per-thread via
// pthread_jit_write_protect_np, not to a second RW virtual alias. Callers on
// this platform are expected to use Alloc plus ProtectJitReadWriteScope.
func (darwinService) AllocDualMapping(size uint32, flags MemoryFlags) (Mapping, error) {
	return Mapping{}, fmt.Errorf("vm: dual mapping unsupported under MAP_JIT, use ProtectJitReadWriteScope")
}

func (darwinService) Release(m Mapping, size uint32) error {
	return unix.Munmap(m.RW)
}

func (darwinService) ReleaseDualMapping(m Mapping, size uint32) error {
	return fmt.Errorf("vm: dual mapping unsupported under MAP_JIT")
}

func (darwinService) FlushInstructionCache(rx uintptr, size uint32) {
	if runtime.GOARCH == "arm64" {
		sysIcacheInvalidate(rx, size)
	}
}

// ProtectJitMemory toggles the calling thread's write protection for its
// MAP_JIT region, the pthread_jit_write_protect_np convention.
func (darwinService) ProtectJitMemory(access ProtectJitAccess) error {
	pthreadJitWriteProtectNp(access == ProtectReadExecute)
	return nil
}

func (s darwinService) ProtectJitReadWriteScope(rw uintptr, size uint32) (ReadWriteScope, error) {
	if err := s.ProtectJitMemory(ProtectReadWrite); err != nil {
		return nil, err
	}
	return jitScope{}, nil
}

type jitScope struct{}

func (jitScope) Close() error {
	pthreadJitWriteProtectNp(true)
	return nil
}
