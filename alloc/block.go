package alloc

// blockFlags are the per-block state bits described in the block contract.
type blockFlags uint32

const (
	// blockInitialPadding marks area 0 permanently occupied as a guard,
	// so a zero rx offset is never handed out as a real allocation.
	blockInitialPadding blockFlags = 1 << iota
	// blockEmpty means area_used == initialAreaStart: nothing but the
	// padding guard, if any, is occupied.
	blockEmpty
	// blockDirty means the search hints may be stale and must be
	// re-derived by a full scan before being trusted.
	blockDirty
	// blockDualMapped means rx and rw are distinct virtual views over the
	// same physical pages.
	blockDualMapped
)

func (f blockFlags) has(bit blockFlags) bool { return f&bit != 0 }

// block is one VM mapping subdivided into fixed-size areas, tracked by a
// pair of bit vectors. It is simultaneously a node of its pool's doubly
// linked list (pPrev/pNext) and of the allocator's address tree
// (tLeft/tRight/tRed) — both link structures are embedded directly rather
// than held in external wrapper nodes.
type block struct {
	pool *pool

	pPrev, pNext *block

	tLeft, tRight *block
	tRed          bool

	rx uintptr
	rw []byte

	blockSize   uint32
	granularity uint32
	areaSize    int

	used []uint32
	stop []uint32

	areaUsed         int
	initialAreaStart int

	largestUnusedArea int
	searchStart       int
	searchEnd         int

	flags blockFlags
}

func newBlock(p *pool, rx uintptr, rw []byte, blockSize uint32, dualMapped, initialPadding bool) *block {
	areaSize := int(blockSize / p.granularity)
	words := bitWordCount(areaSize)

	b := &block{
		pool:        p,
		rx:          rx,
		rw:          rw,
		blockSize:   blockSize,
		granularity: p.granularity,
		areaSize:    areaSize,
		used:        make([]uint32, words),
		stop:        make([]uint32, words),
	}
	if dualMapped {
		b.flags |= blockDualMapped
	}
	if initialPadding {
		b.flags |= blockInitialPadding
		b.initialAreaStart = 1
	}
	b.clear()
	return b
}

func (b *block) areaAvailable() int { return b.areaSize - b.areaUsed }

// clear resets a block to its just-created state: both bit vectors zero,
// the initial padding guard re-asserted if enabled, hints spanning the
// whole usable range, Empty set and Dirty clear.
func (b *block) clear() {
	for i := range b.used {
		b.used[i] = 0
	}
	for i := range b.stop {
		b.stop[i] = 0
	}
	b.areaUsed = 0

	if b.flags.has(blockInitialPadding) {
		bitVectorSet(b.used, 0)
		bitVectorSet(b.stop, 0)
		b.areaUsed = 1
	}

	b.searchStart = b.initialAreaStart
	b.searchEnd = b.areaSize
	b.largestUnusedArea = b.areaSize - b.initialAreaStart

	b.flags |= blockEmpty
	b.flags &^= blockDirty
}

// markAllocated records a new allocation occupying areas [start, end).
func (b *block) markAllocated(start, end int) {
	bitVectorFill(b.used, start, end, true)
	bitVectorSet(b.stop, end-1)
	b.areaUsed += end - start
	b.pool.totalAreaUsed += end - start
	b.flags &^= blockEmpty

	if b.areaUsed == b.areaSize {
		b.searchStart = b.areaSize
		b.searchEnd = b.areaSize
		b.largestUnusedArea = 0
		b.flags &^= blockDirty
		return
	}

	if b.searchStart == start {
		b.searchStart = end
	}
	if b.searchEnd == end {
		b.searchEnd = start
	}
	b.flags |= blockDirty
}

// markReleased frees the areas [start, end) of a previously-allocated span.
func (b *block) markReleased(start, end int) {
	bitVectorFill(b.used, start, end, false)
	bitVectorClear(b.stop, end-1)
	b.areaUsed -= end - start
	b.pool.totalAreaUsed -= end - start

	b.widenSearchWindow(start, end)

	if b.areaUsed == b.initialAreaStart {
		b.searchStart = b.initialAreaStart
		b.searchEnd = b.areaSize
		b.largestUnusedArea = b.areaSize - b.initialAreaStart
		b.flags |= blockEmpty
		b.flags &^= blockDirty
		return
	}

	b.flags |= blockDirty
}

// markShrunk releases the tail [start, end) of an existing allocation and
// plants a new sentinel at start-1 so the retained prefix still recovers
// its length on a future release.
func (b *block) markShrunk(start, end int) {
	bitVectorFill(b.used, start, end, false)
	bitVectorClear(b.stop, end-1)
	bitVectorSet(b.stop, start-1)
	b.areaUsed -= end - start
	b.pool.totalAreaUsed -= end - start

	b.widenSearchWindow(start, end)
	b.flags |= blockDirty
}

func (b *block) widenSearchWindow(start, end int) {
	if start < b.searchStart {
		b.searchStart = start
	}
	if end > b.searchEnd {
		b.searchEnd = end
	}
}

// findRange runs the best-fit search within the block's current hint
// window: the first free run of length >= areaSize wins. It also tracks
// the start of the first run, the end of the last run and the length of
// the widest run seen during the scan, and on a miss that saw at least one
// free run it caches them as the block's fresh hints.
func (b *block) findRange(areaSize int) (areaIndex int, ok bool) {
	it := newBitVectorRangeIteratorIn(b.used, b.areaSize, b.searchStart, b.searchEnd, true)

	var firstRunStart, lastRunEnd int
	haveFirstRun := false
	largest := 0

	for {
		start, end, more := it.nextRange(areaSize)
		if !more {
			break
		}
		if end-start >= areaSize {
			return start, true
		}
		if !haveFirstRun {
			firstRunStart = start
			haveFirstRun = true
		}
		lastRunEnd = end
		if end-start > largest {
			largest = end - start
		}
	}

	if haveFirstRun {
		// The entire window was scanned without a fit: cache the widest run
		// and shrink the hint window to [firstRunStart, lastRunEnd) so a
		// future scan doesn't re-walk the all-used prefix/tail.
		b.searchStart = firstRunStart
		b.searchEnd = lastRunEnd
		b.largestUnusedArea = largest
		b.flags &^= blockDirty
	}
	return 0, false
}
