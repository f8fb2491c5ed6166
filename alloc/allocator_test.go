package alloc

import (
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/jitalloc/jitalloc/vm"
)

// fakeVM is a deterministic, in-process vm.Service backed by plain Go
// heap memory. It never enforces W^X and never reports a hardened
// runtime, so tests exercise the allocator's engine logic without
// depending on host mmap/mprotect behavior.
type fakeVM struct {
	pageGranularity uint32
}

func newFakeVM() *fakeVM { return &fakeVM{pageGranularity: 4096} }

func (f *fakeVM) Info() vm.Info {
	return vm.Info{PageSize: f.pageGranularity, PageGranularity: f.pageGranularity}
}

func (f *fakeVM) HardenedRuntimeInfo() vm.HardenedRuntimeInfo { return vm.HardenedRuntimeInfo{} }

func (f *fakeVM) Alloc(size uint32, _ vm.MemoryFlags) (vm.Mapping, error) {
	buf := make([]byte, size)
	return vm.Mapping{RX: uintptr(unsafe.Pointer(&buf[0])), RW: buf}, nil
}

func (f *fakeVM) AllocDualMapping(size uint32, _ vm.MemoryFlags) (vm.Mapping, error) {
	buf := make([]byte, size)
	return vm.Mapping{RX: uintptr(unsafe.Pointer(&buf[0])), RW: buf}, nil
}

func (f *fakeVM) Release(vm.Mapping, uint32) error { return nil }

func (f *fakeVM) ReleaseDualMapping(vm.Mapping, uint32) error { return nil }

func (f *fakeVM) FlushInstructionCache(uintptr, uint32) {}

func (f *fakeVM) ProtectJitMemory(vm.ProtectJitAccess) error { return nil }

func (f *fakeVM) ProtectJitReadWriteScope(uintptr, uint32) (vm.ReadWriteScope, error) {
	return noopTestScope{}, nil
}

type noopTestScope struct{}

func (noopTestScope) Close() error { return nil }

func newTestAllocator(t *testing.T, opts Options) *Allocator {
	t.Helper()
	fv := newFakeVM()
	a := New(CreateParams{
		Options:     opts,
		BlockSize:   fv.pageGranularity,
		Granularity: 64,
		VM:          fv,
	})
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestSingleSmallAlloc(t *testing.T) {
	a := newTestAllocator(t, 0)

	rx, rw, err := a.Alloc(8)
	require.NoError(t, err)
	require.NotZero(t, rx)
	require.Len(t, rw, 64)

	_, _, size, err := a.Query(rx)
	require.NoError(t, err)
	require.Equal(t, uint32(64), size)

	stats := a.Statistics()
	require.EqualValues(t, 64, stats.UsedSize)
	require.Equal(t, 1, stats.BlockCount)
}

func TestFillAndRelease(t *testing.T) {
	a := newTestAllocator(t, 0)

	rx, rw, err := a.Alloc(8)
	require.NoError(t, err)

	pattern := []byte{0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	copy(rw, pattern)
	require.Equal(t, pattern, rw[:8])

	require.NoError(t, a.Release(rx))

	stats := a.Statistics()
	require.EqualValues(t, 0, stats.UsedSize)
	require.Equal(t, 1, stats.BlockCount)
}

func TestChurnWithoutOverlap(t *testing.T) {
	a := newTestAllocator(t, 0)
	rnd := rand.New(rand.NewSource(99))

	type liveAlloc struct {
		rx, end uintptr
	}
	var live []liveAlloc

	overlaps := func(rx uintptr, size uint32) bool {
		end := rx + uintptr(size)
		for _, l := range live {
			if rx < l.end && end > l.rx {
				return true
			}
		}
		return false
	}

	const count = 20000
	for i := 0; i < count; i++ {
		size := uint32(8 + rnd.Intn(1024-8+1))
		rx, _, err := a.Alloc(size)
		require.NoError(t, err)

		_, _, qsize, err := a.Query(rx)
		require.NoError(t, err)
		require.False(t, overlaps(rx, qsize), "new allocation at %#x size %d overlaps a prior live range", rx, qsize)
		live = append(live, liveAlloc{rx: rx, end: rx + uintptr(qsize)})
	}

	rnd.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })
	for _, l := range live {
		require.NoError(t, a.Release(l.rx))
	}

	stats := a.Statistics()
	require.EqualValues(t, 0, stats.UsedSize)
}

func TestShrinkPreservesPrefix(t *testing.T) {
	a := newTestAllocator(t, 0)

	rx, rw, err := a.Alloc(256)
	require.NoError(t, err)

	pattern := make([]byte, 256)
	for i := range pattern {
		pattern[i] = byte(i)
	}
	copy(rw, pattern)

	require.NoError(t, a.Shrink(rx, 64))

	_, rwBase, size, err := a.Query(rx)
	require.NoError(t, err)
	require.Equal(t, uint32(64), size)
	require.Equal(t, pattern[:64], rwBase[:64])

	_, _, err = a.Alloc(64)
	require.NoError(t, err)
}

func TestImmediateReleaseDropsEmptyBlocks(t *testing.T) {
	a := newTestAllocator(t, ImmediateRelease)

	rx, _, err := a.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, a.Release(rx))

	stats := a.Statistics()
	require.Equal(t, 0, stats.BlockCount)
}

func TestMultiplePoolsStratifies(t *testing.T) {
	a := newTestAllocator(t, UseMultiplePools)

	rxSmall, _, err := a.Alloc(64)
	require.NoError(t, err)
	_, _, sizeSmall, err := a.Query(rxSmall)
	require.NoError(t, err)
	require.Zero(t, sizeSmall%64)

	rxLarge, _, err := a.Alloc(256)
	require.NoError(t, err)
	_, _, sizeLarge, err := a.Query(rxLarge)
	require.NoError(t, err)
	require.Zero(t, sizeLarge%256)
}

func TestReleaseWithFillUnusedMemory(t *testing.T) {
	a := newTestAllocator(t, FillUnusedMemory|CustomFillPattern)
	a.cfg.fillPattern = 0xDEADBEEF

	rx, rw, err := a.Alloc(64)
	require.NoError(t, err)
	copy(rw, []byte{1, 2, 3, 4})

	require.NoError(t, a.Release(rx))
}

func TestResetSoftKeepsOneEmptyBlockPerPool(t *testing.T) {
	a := newTestAllocator(t, 0)

	rx, _, err := a.Alloc(8)
	require.NoError(t, err)
	require.NoError(t, a.Release(rx))

	a.Reset(ResetSoft)
	stats := a.Statistics()
	require.Equal(t, 1, stats.BlockCount)
	require.EqualValues(t, 0, stats.UsedSize)
}

func TestResetHardReleasesEverything(t *testing.T) {
	a := newTestAllocator(t, 0)

	_, _, err := a.Alloc(8)
	require.NoError(t, err)

	a.Reset(ResetHard)
	stats := a.Statistics()
	require.Equal(t, 0, stats.BlockCount)
}

func TestAllocReleaseReuse(t *testing.T) {
	a := newTestAllocator(t, 0)

	rx1, _, err := a.Alloc(32)
	require.NoError(t, err)
	_, _, size1, err := a.Query(rx1)
	require.NoError(t, err)

	require.NoError(t, a.Release(rx1))

	rx2, _, err := a.Alloc(32)
	require.NoError(t, err)
	_, _, size2, err := a.Query(rx2)
	require.NoError(t, err)

	require.Equal(t, size1, size2)
}

func TestReleaseUnknownPointerFails(t *testing.T) {
	a := newTestAllocator(t, 0)
	err := a.Release(0xdeadbeef)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAllocZeroSizeFails(t *testing.T) {
	a := newTestAllocator(t, 0)
	_, _, err := a.Alloc(0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestShrinkToLargerSizeFails(t *testing.T) {
	a := newTestAllocator(t, 0)

	rx, _, err := a.Alloc(64)
	require.NoError(t, err)

	err = a.Shrink(rx, 1024)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNotInitializedSentinel(t *testing.T) {
	var a Allocator
	_, _, err := a.Alloc(8)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.ErrorIs(t, a.Release(1), ErrNotInitialized)
	require.ErrorIs(t, a.Shrink(1, 1), ErrNotInitialized)
	_, _, _, err = a.Query(1)
	require.ErrorIs(t, err, ErrNotInitialized)
}
