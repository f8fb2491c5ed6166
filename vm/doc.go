// Package vm is the platform virtual-memory service consumed by package
// alloc. It provides page-size discovery, single- and dual-mapped RWX
// allocation, release, instruction-cache flush, and scoped RW-protection
// toggling for hosts that enforce W^X.
//
// Implementations are selected at compile time by build tag:
//
//   - vm_unix.go (linux, freebsd): golang.org/x/sys/unix mmap/munmap.
//   - vm_darwin.go (darwin): as above, plus MAP_JIT and the hardened
//     runtime policy Apple Silicon enforces.
//   - vm_windows.go (windows): golang.org/x/sys/windows VirtualAlloc family.
//   - vm_fallback.go (anything else): a plain-heap stand-in with no real
//     executable mapping, for platforms without JIT support.
//
// Call Host() to get the concrete implementation for the running platform.
package vm
