//go:build darwin

package vm

/*
#include <libkern/OSCacheControl.h>
#include <pthread.h>

static void jitalloc_icache_invalidate(void *start, size_t len) {
	sys_icache_invalidate(start, len);
}

static void jitalloc_jit_write_protect(int enabled) {
	pthread_jit_write_protect_np(enabled);
}
*/
import "C"
import "unsafe"

func sysIcacheInvalidate(addr uintptr, size uint32) {
	C.jitalloc_icache_invalidate(unsafe.Pointer(addr), C.size_t(size))
}

func pthreadJitWriteProtectNp(enabled bool) {
	v := C.int(0)
	if enabled {
		v = 1
	}
	C.jitalloc_jit_write_protect(v)
}
