package alloc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeTestBlockAt(rx uintptr, size uint32) *block {
	p := newPool(64)
	return newBlock(p, rx, make([]byte, size), size, false, false)
}

func TestAddressTreeFindByRange(t *testing.T) {
	var tree addressTree

	b1 := makeTestBlockAt(0x1000, 0x100)
	b2 := makeTestBlockAt(0x2000, 0x100)
	b3 := makeTestBlockAt(0x3000, 0x100)

	tree.insert(b1)
	tree.insert(b2)
	tree.insert(b3)

	require.Equal(t, b1, tree.find(0x1000))
	require.Equal(t, b1, tree.find(0x10FF))
	require.Equal(t, b2, tree.find(0x2050))
	require.Equal(t, b3, tree.find(0x30FF))
	require.Nil(t, tree.find(0x10FF+1))
	require.Nil(t, tree.find(0x999))
}

func TestAddressTreeRemove(t *testing.T) {
	var tree addressTree

	blocks := []*block{
		makeTestBlockAt(0x1000, 0x100),
		makeTestBlockAt(0x2000, 0x100),
		makeTestBlockAt(0x3000, 0x100),
		makeTestBlockAt(0x4000, 0x100),
	}
	for _, b := range blocks {
		tree.insert(b)
	}

	tree.remove(blocks[1])
	require.Nil(t, tree.find(0x2050))
	require.Equal(t, blocks[0], tree.find(0x1050))
	require.Equal(t, blocks[2], tree.find(0x3050))
	require.Equal(t, blocks[3], tree.find(0x4050))

	tree.remove(blocks[0])
	tree.remove(blocks[2])
	tree.remove(blocks[3])
	require.Nil(t, tree.root)
}

func TestAddressTreeRandomInsertRemove(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	var tree addressTree

	var live []*block
	for i := 0; i < 500; i++ {
		rx := uintptr(0x10000 + i*0x1000)
		b := makeTestBlockAt(rx, 0x1000)
		tree.insert(b)
		live = append(live, b)
	}

	rnd.Shuffle(len(live), func(i, j int) { live[i], live[j] = live[j], live[i] })

	for i, b := range live {
		for _, other := range live[i:] {
			require.Equal(t, other, tree.find(other.rx), "lookup must succeed before removal")
		}
		tree.remove(b)
		require.Nil(t, tree.find(b.rx))
	}

	require.Nil(t, tree.root)
}
