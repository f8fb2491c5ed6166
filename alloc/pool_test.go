package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolInsertRemoveUpdatesListAndCursor(t *testing.T) {
	p := newPool(64)

	b1 := newBlock(p, 0x1000, make([]byte, 1024), 1024, false, false)
	b2 := newBlock(p, 0x2000, make([]byte, 1024), 1024, false, false)
	b3 := newBlock(p, 0x3000, make([]byte, 1024), 1024, false, false)

	p.insert(b1)
	require.Equal(t, b1, p.cursor)
	require.Equal(t, b1, p.head)
	require.Equal(t, b1, p.tail)

	p.insert(b2)
	p.insert(b3)

	require.Equal(t, b1, p.head)
	require.Equal(t, b3, p.tail)
	require.Equal(t, b2, b1.pNext)
	require.Equal(t, b1, b2.pPrev)
	require.Equal(t, 3, p.blockCount)

	p.cursor = b2
	p.remove(b2)

	require.Equal(t, b3, p.cursor)
	require.Equal(t, b1, p.head)
	require.Equal(t, b3, p.tail)
	require.Equal(t, b3, b1.pNext)
	require.Equal(t, b1, b3.pPrev)
	require.Equal(t, 2, p.blockCount)

	p.remove(b1)
	p.remove(b3)
	require.Nil(t, p.head)
	require.Nil(t, p.tail)
	require.Nil(t, p.cursor)
	require.Equal(t, 0, p.blockCount)
}

func TestPoolAggregateStatistics(t *testing.T) {
	p := newPool(64)

	b1 := newBlock(p, 0x1000, make([]byte, 64*16), 64*16, false, true)
	p.insert(b1)
	b1.markAllocated(b1.initialAreaStart, b1.initialAreaStart+4)

	require.Equal(t, 16, p.totalAreaSize)
	require.Equal(t, 5, p.totalAreaUsed)
	require.Equal(t, 1, p.blockCount)
	require.Positive(t, p.totalOverheadBytes)
}
