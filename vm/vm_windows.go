//go:build windows

package vm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// windowsService backs the VM service on Windows using
// golang.org/x/sys/windows, the same package the teacher reaches for in
// hive/dirty/flush_windows.go for FlushViewOfFile.
type windowsService struct{}

func Host() Service { return windowsService{} }

func (windowsService) Info() Info {
	var si windows.SystemInfo
	windows.GetSystemInfo(&si)
	return Info{PageSize: si.PageSize, PageGranularity: si.AllocationGranularity}
}

func (windowsService) HardenedRuntimeInfo() HardenedRuntimeInfo {
	// Windows has no MAP_JIT equivalent; PAGE_EXECUTE_READWRITE is always
	// available, only ACG-enabled processes opt into dual mapping and they
	// do so at process-creation time, outside this package's scope.
	return HardenedRuntimeInfo{}
}

func (windowsService) Alloc(size uint32, _ MemoryFlags) (Mapping, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return Mapping{}, fmt.Errorf("vm: VirtualAlloc rwx: %w", err)
	}
	return Mapping{RX: addr, RW: unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)}, nil
}

// AllocDualMapping uses an unnamed, pagefile-backed file mapping object,
// viewed twice with different protection.
func (windowsService) AllocDualMapping(size uint32, _ MemoryFlags) (Mapping, error) {
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_EXECUTE_READWRITE, 0, size, nil)
	if err != nil {
		return Mapping{}, fmt.Errorf("vm: CreateFileMapping: %w", err)
	}
	defer windows.CloseHandle(h)

	rw, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		return Mapping{}, fmt.Errorf("vm: MapViewOfFile rw: %w", err)
	}

	rx, err := windows.MapViewOfFile(h, windows.FILE_MAP_EXECUTE|windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		_ = windows.UnmapViewOfFile(rw)
		return Mapping{}, fmt.Errorf("vm: MapViewOfFile rx: %w", err)
	}

	return Mapping{RX: rx, RW: unsafe.Slice((*byte)(unsafe.Pointer(rw)), size)}, nil
}

func (windowsService) Release(m Mapping, size uint32) error {
	return windows.VirtualFree(m.RWAddr(), 0, windows.MEM_RELEASE)
}

func (windowsService) ReleaseDualMapping(m Mapping, size uint32) error {
	if err := windows.UnmapViewOfFile(m.RX); err != nil {
		return fmt.Errorf("vm: UnmapViewOfFile rx: %w", err)
	}
	if err := windows.UnmapViewOfFile(m.RWAddr()); err != nil {
		return fmt.Errorf("vm: UnmapViewOfFile rw: %w", err)
	}
	return nil
}

func (windowsService) FlushInstructionCache(rx uintptr, size uint32) {
	h, _ := windows.GetCurrentProcess()
	_ = windows.FlushInstructionCache(h, unsafe.Pointer(rx), uintptr(size))
}

func (windowsService) ProtectJitMemory(_ ProtectJitAccess) error {
	return nil
}

func (windowsService) ProtectJitReadWriteScope(_ uintptr, _ uint32) (ReadWriteScope, error) {
	return noopScope{}, nil
}
