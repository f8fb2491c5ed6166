package alloc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitVectorRangeIteratorRandom(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	const patternBits = 1024
	const numWords = patternBits / bitWordBits
	const iterations = 10000

	for iter := 0; iter < iterations; iter++ {
		words := make([]uint32, numWords)
		for i := range words {
			words[i] = rnd.Uint32()
		}

		start := rnd.Intn(patternBits)
		end := start + rnd.Intn(patternBits-start+1)
		invert := rnd.Intn(2) == 0

		want := bruteForceRanges(words, start, end, invert)
		got := collectRanges(words, patternBits, start, end, invert)

		require.Equal(t, want, got, "iteration %d: start=%d end=%d invert=%v", iter, start, end, invert)
	}
}

func TestBitVectorRangeIteratorHint(t *testing.T) {
	// 0b...0000_1111_0000_0111 - two runs of set bits of length 3 and 4
	// separated by a run of clear bits.
	words := []uint32{0x00000F07}

	it := newBitVectorRangeIterator(words, 32, false)
	start, end, ok := it.nextRange(8)
	require.True(t, ok)
	require.Equal(t, 0, start)
	require.Equal(t, 3, end)

	start, end, ok = it.nextRange(8)
	require.True(t, ok)
	require.Equal(t, 8, start)
	require.Equal(t, 12, end)

	_, _, ok = it.nextRange(8)
	require.False(t, ok)
}

func TestBitVectorIndexOf(t *testing.T) {
	words := make([]uint32, 2)
	bitVectorSet(words, 5)
	bitVectorSet(words, 40)

	require.Equal(t, 5, bitVectorIndexOf(words, 0, true))
	require.Equal(t, 40, bitVectorIndexOf(words, 6, true))
	require.Equal(t, 0, bitVectorIndexOf(words, 0, false))
}

func collectRanges(words []uint32, numBits, start, end int, invert bool) [][2]int {
	it := newBitVectorRangeIteratorIn(words, numBits, start, end, invert)
	var got [][2]int
	for {
		s, e, ok := it.nextRange(numBits)
		if !ok {
			break
		}
		got = append(got, [2]int{s, e})
	}
	return got
}

// bruteForceRanges recomputes the expected ranges bit by bit, independent of
// the word-at-a-time iterator under test.
func bruteForceRanges(words []uint32, start, end int, invert bool) [][2]int {
	var ranges [][2]int
	runStart := -1
	for i := start; i < end; i++ {
		bit := bitVectorGet(words, i)
		if invert {
			bit = !bit
		}
		if bit {
			if runStart < 0 {
				runStart = i
			}
		} else if runStart >= 0 {
			ranges = append(ranges, [2]int{runStart, i})
			runStart = -1
		}
	}
	if runStart >= 0 {
		ranges = append(ranges, [2]int{runStart, end})
	}
	return ranges
}
