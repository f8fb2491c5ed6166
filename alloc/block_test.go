package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestBlock(t *testing.T, areaSize int, initialPadding bool) *block {
	t.Helper()
	p := newPool(64)
	b := newBlock(p, 0x1000, make([]byte, areaSize*64), uint32(areaSize*64), false, initialPadding)
	require.Equal(t, areaSize, b.areaSize)
	return b
}

func TestBlockClearWithPadding(t *testing.T) {
	b := newTestBlock(t, 16, true)

	require.True(t, bitVectorGet(b.used, 0))
	require.True(t, bitVectorGet(b.stop, 0))
	require.Equal(t, 1, b.areaUsed)
	require.Equal(t, 1, b.initialAreaStart)
	require.Equal(t, 15, b.largestUnusedArea)
	require.True(t, b.flags.has(blockEmpty))
	require.False(t, b.flags.has(blockDirty))
}

func TestBlockMarkAllocatedAndReleased(t *testing.T) {
	b := newTestBlock(t, 16, false)

	b.markAllocated(0, 4)
	require.Equal(t, 4, b.areaUsed)
	require.True(t, bitVectorGet(b.stop, 3))
	require.False(t, bitVectorGet(b.stop, 2))
	require.False(t, b.flags.has(blockEmpty))
	require.True(t, b.flags.has(blockDirty))

	b.markAllocated(4, 8)
	require.Equal(t, 8, b.areaUsed)

	b.markReleased(0, 4)
	require.Equal(t, 4, b.areaUsed)
	require.False(t, bitVectorGet(b.used, 0))
	require.True(t, bitVectorGet(b.used, 4))

	b.markReleased(4, 8)
	require.Equal(t, 0, b.areaUsed)
	require.True(t, b.flags.has(blockEmpty))
	require.False(t, b.flags.has(blockDirty))
	require.Equal(t, 16, b.largestUnusedArea)
}

func TestBlockMarkShrunkPreservesSentinel(t *testing.T) {
	b := newTestBlock(t, 16, false)

	b.markAllocated(0, 8)
	b.markShrunk(2, 8)

	require.True(t, bitVectorGet(b.used, 0))
	require.True(t, bitVectorGet(b.used, 1))
	require.False(t, bitVectorGet(b.used, 2))
	require.True(t, bitVectorGet(b.stop, 1))
	require.False(t, bitVectorGet(b.stop, 7))
	require.Equal(t, 2, b.areaUsed)
}

func TestBlockFindRangeBestFitAndHintCaching(t *testing.T) {
	b := newTestBlock(t, 32, false)

	// Occupy [0,4) and [10,32) leaving a free run [4,10).
	b.markAllocated(0, 4)
	b.markAllocated(10, 32)

	idx, ok := b.findRange(4)
	require.True(t, ok)
	require.Equal(t, 4, idx)

	// A request too large to fit anywhere forces a full scan and re-derives
	// the hints, clearing Dirty.
	b.flags |= blockDirty
	_, ok = b.findRange(7)
	require.False(t, ok)
	require.False(t, b.flags.has(blockDirty))
	require.Equal(t, 6, b.largestUnusedArea)
}
