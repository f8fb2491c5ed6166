package alloc

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/jitalloc/jitalloc/vm"
)

// Allocator is a JIT code allocator: a pooled, bit-vector-backed manager of
// executable virtual memory. The zero value is not usable; construct one
// with New.
type Allocator struct {
	mu sync.Mutex

	initialized bool

	pools []*pool
	tree  addressTree

	cfg resolvedConfig

	allocationCount int
}

// New constructs an Allocator. Go manages the host heap for us, so unlike
// the engine this package is modeled on, construction here cannot fail on
// out-of-memory. ErrNotInitialized is returned only by the methods of an
// Allocator that was not built by New (its zero value).
func New(params CreateParams) *Allocator {
	vmSvc := params.VM
	if vmSvc == nil {
		vmSvc = vm.Host()
	}

	cfg := resolve(params, vmSvc.Info())

	if !cfg.options.has(UseDualMapping) {
		hrInfo := cfg.vmSvc.HardenedRuntimeInfo()
		if hrInfo.Enabled() && !hrInfo.MapJit() {
			cfg.options |= UseDualMapping
			cfg.logger.Debug("hardened runtime detected, forcing dual mapping")
		}
	}

	a := &Allocator{
		initialized: true,
		cfg:         cfg,
	}

	poolCount := cfg.poolCount
	a.pools = make([]*pool, poolCount)
	for i := 0; i < poolCount; i++ {
		a.pools[i] = newPool(cfg.granularity << uint(i))
	}

	return a
}

// Close releases every block held by the allocator. It never fails.
func (a *Allocator) Close() error {
	if !a.initialized {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked(ResetHard)
	return nil
}

func (a *Allocator) sizeToPoolID(size uint32) int {
	poolID := len(a.pools) - 1
	granularity := a.cfg.granularity << uint(poolID)

	for poolID > 0 {
		if alignUp32(size, granularity) == size {
			break
		}
		poolID--
		granularity >>= 1
	}
	return poolID
}

func alignUp32(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Alloc carves out size bytes of executable memory, returning the
// executable (rx) and writable (rw) views of the same span.
func (a *Allocator) Alloc(size uint32) (rx uintptr, rw []byte, err error) {
	if !a.initialized {
		return 0, nil, ErrNotInitialized
	}

	size = alignUp32(size, a.cfg.granularity)
	if size == 0 {
		return 0, nil, ErrInvalidArgument
	}
	if size > math.MaxUint32/2 {
		return 0, nil, ErrTooLarge
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	poolID := a.sizeToPoolID(size)
	p := a.pools[poolID]
	areaSize := int((size + p.granularity - 1) / p.granularity)

	var target *block
	areaIndex := -1

	if p.head != nil {
		initial := p.cursor
		if initial == nil {
			initial = p.head
		}
		b := initial
		for {
			next := b.pNext
			if next == nil {
				next = p.head
			}

			if b.areaAvailable() >= areaSize {
				if b.flags.has(blockDirty) || b.largestUnusedArea >= areaSize {
					if idx, ok := b.findRange(areaSize); ok {
						areaIndex = idx
						target = b
						break
					}
				}
			}

			b = next
			if b == initial {
				break
			}
		}
	}

	if target == nil {
		blockSize, ok := a.idealBlockSize(p, size)
		if !ok {
			return 0, nil, ErrOutOfMemory
		}

		b, err := a.createBlock(p, blockSize)
		if err != nil {
			return 0, nil, err
		}

		a.insertBlock(p, b)
		target = b
		areaIndex = b.initialAreaStart
		b.searchStart += areaSize
		b.largestUnusedArea -= areaSize
	} else if target.flags.has(blockEmpty) {
		p.emptyBlockCount--
		target.flags &^= blockEmpty
	}

	a.allocationCount++
	target.markAllocated(areaIndex, areaIndex+areaSize)

	offset := uintptr(areaIndex) * uintptr(p.granularity)
	return target.rx + offset, target.rw[offset : offset+uintptr(size)], nil
}

// idealBlockSize computes the size of the next block to create for pool p,
// satisfying an allocation of allocationSize bytes.
func (a *Allocator) idealBlockSize(p *pool, allocationSize uint32) (uint32, bool) {
	blockSize := p.lastBlockSize()
	if blockSize == 0 {
		blockSize = a.cfg.blockSize
	}

	if !a.cfg.options.has(DisableInitialPadding) {
		if allocationSize > math.MaxUint32-64 {
			return 0, false
		}
		allocationSize += 64
	}

	if blockSize < maxBlockSize {
		blockSize *= 2
	}

	if allocationSize > blockSize {
		blockSize = alignUp32(allocationSize, a.cfg.blockSize)
		if blockSize < allocationSize {
			return 0, false
		}
	}

	return blockSize, true
}

// Release returns the allocation starting at rx back to its pool.
func (a *Allocator) Release(rx uintptr) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if rx == 0 {
		return ErrInvalidArgument
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.tree.find(rx)
	if b == nil {
		return ErrInvalidState
	}

	p := b.pool
	offset := rx - b.rx
	areaIndex := int(offset / uintptr(p.granularity))

	if !bitVectorGet(b.used, areaIndex) {
		return ErrInvalidState
	}

	areaEnd := bitVectorIndexOf(b.stop, areaIndex, true) + 1

	a.allocationCount--
	b.markReleased(areaIndex, areaEnd)

	if a.cfg.options.has(FillUnusedMemory) {
		a.fillSpan(b, areaIndex, areaEnd-areaIndex)
	}

	if b.flags.has(blockEmpty) {
		if p.emptyBlockCount > 0 || a.cfg.options.has(ImmediateRelease) {
			a.removeBlock(p, b)
			a.destroyBlock(b)
		} else {
			p.emptyBlockCount++
		}
	}

	return nil
}

// Shrink reduces an existing allocation to newSize bytes, releasing its
// tail. newSize == 0 is equivalent to Release.
func (a *Allocator) Shrink(rx uintptr, newSize uint32) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if rx == 0 {
		return ErrInvalidArgument
	}
	if newSize == 0 {
		return a.Release(rx)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.tree.find(rx)
	if b == nil {
		return ErrInvalidState
	}

	p := b.pool
	offset := rx - b.rx
	areaStart := int(offset / uintptr(p.granularity))

	if !bitVectorGet(b.used, areaStart) {
		return ErrInvalidState
	}

	areaEnd := bitVectorIndexOf(b.stop, areaStart, true) + 1
	prevAreaSize := areaEnd - areaStart
	newAreaSize := int((newSize + p.granularity - 1) / p.granularity)

	if newAreaSize > prevAreaSize {
		return ErrInvalidArgument
	}

	if diff := prevAreaSize - newAreaSize; diff > 0 {
		b.markShrunk(areaStart+newAreaSize, areaEnd)
		if a.cfg.options.has(FillUnusedMemory) {
			a.fillSpan(b, areaStart+newAreaSize, diff)
		}
	}

	return nil
}

// Query reports the base addresses and size of the allocated span at rx.
// rx need not be area-aligned: it is rounded down to the start of its area,
// and the result covers that area through the allocation's last area. The
// allocation's own start is therefore returned only when rx lies in its
// first area.
func (a *Allocator) Query(rx uintptr) (rxBase uintptr, rwBase []byte, size uint32, err error) {
	if !a.initialized {
		return 0, nil, 0, ErrNotInitialized
	}
	if rx == 0 {
		return 0, nil, 0, ErrInvalidArgument
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	b := a.tree.find(rx)
	if b == nil {
		return 0, nil, 0, ErrInvalidState
	}

	p := b.pool
	offset := rx - b.rx
	areaStart := int(offset / uintptr(p.granularity))

	if !bitVectorGet(b.used, areaStart) {
		return 0, nil, 0, ErrInvalidState
	}

	areaEnd := bitVectorIndexOf(b.stop, areaStart, true) + 1
	byteOffset := uintptr(areaStart) * uintptr(p.granularity)
	byteSize := uint32(areaEnd-areaStart) * p.granularity

	return b.rx + byteOffset, b.rw[byteOffset : byteOffset+uintptr(byteSize)], byteSize, nil
}

func (a *Allocator) fillSpan(b *block, areaIndex, areaCount int) {
	start := uintptr(areaIndex) * uintptr(b.granularity)
	size := uint32(areaCount) * b.granularity

	scope, err := a.cfg.vmSvc.ProtectJitReadWriteScope(b.rw2Addr()+start, size)
	if err != nil {
		a.cfg.logger.Warn("scoped rw-protect failed during fill", "err", err)
		return
	}
	defer scope.Close()

	fillPattern(b.rw[start:start+uintptr(size)], a.cfg.fillPattern)
}

func fillPattern(dst []byte, pattern uint32) {
	for i := 0; i+4 <= len(dst); i += 4 {
		dst[i+0] = byte(pattern)
		dst[i+1] = byte(pattern >> 8)
		dst[i+2] = byte(pattern >> 16)
		dst[i+3] = byte(pattern >> 24)
	}
}

func (b *block) rw2Addr() uintptr {
	if len(b.rw) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.rw[0]))
}

func (a *Allocator) createBlock(p *pool, blockSize uint32) (*block, error) {
	dualMapped := a.cfg.options.has(UseDualMapping)

	var mapping vm.Mapping
	var err error
	if dualMapped {
		mapping, err = a.cfg.vmSvc.AllocDualMapping(blockSize, vm.AccessRWX)
	} else {
		mapping, err = a.cfg.vmSvc.Alloc(blockSize, vm.AccessRWX)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	}

	if a.cfg.options.has(FillUnusedMemory) {
		scope, serr := a.cfg.vmSvc.ProtectJitReadWriteScope(mapping.RWAddr(), blockSize)
		if serr == nil {
			fillPattern(mapping.RW, a.cfg.fillPattern)
			scope.Close()
		}
	}

	initialPadding := !a.cfg.options.has(DisableInitialPadding)
	b := newBlock(p, mapping.RX, mapping.RW, blockSize, dualMapped, initialPadding)
	a.cfg.logger.Debug("created block", "pool_granularity", p.granularity, "block_size", blockSize, "dual_mapped", dualMapped)
	return b, nil
}

func (a *Allocator) destroyBlock(b *block) {
	mapping := vm.Mapping{RX: b.rx, RW: b.rw}
	var err error
	if b.flags.has(blockDualMapped) {
		err = a.cfg.vmSvc.ReleaseDualMapping(mapping, b.blockSize)
	} else {
		err = a.cfg.vmSvc.Release(mapping, b.blockSize)
	}
	if err != nil {
		a.cfg.logger.Warn("failed to release block mapping", "err", err)
	}
}

func (a *Allocator) insertBlock(p *pool, b *block) {
	a.tree.insert(b)
	p.insert(b)
}

func (a *Allocator) removeBlock(p *pool, b *block) {
	if p.cursor == b {
		p.advanceCursor(b)
	}
	a.tree.remove(b)
	p.remove(b)
}

// Reset tears down blocks according to policy. ResetSoft retains one wiped,
// empty block per non-empty pool as a reuse reserve, unless ImmediateRelease
// is set, in which case it releases everything; ResetHard releases
// everything.
func (a *Allocator) Reset(policy ResetPolicy) {
	if !a.initialized {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked(policy)
}

func (a *Allocator) resetLocked(policy ResetPolicy) {
	a.tree = addressTree{}

	for _, p := range a.pools {
		head := p.head

		var blockToKeep *block
		if policy != ResetHard && !a.cfg.options.has(ImmediateRelease) {
			blockToKeep = head
			if head != nil {
				head = head.pNext
			}
		}

		b := head
		for b != nil {
			next := b.pNext
			a.destroyBlock(b)
			b = next
		}

		*p = pool{granularity: p.granularity}

		if blockToKeep != nil {
			blockToKeep.pPrev, blockToKeep.pNext = nil, nil
			blockToKeep.tLeft, blockToKeep.tRight, blockToKeep.tRed = nil, nil, false
			a.wipeBlock(blockToKeep)
			a.insertBlock(p, blockToKeep)
			p.emptyBlockCount = 1
		}
	}
}

// wipeBlock clears the block in place. When FillUnusedMemory is set, it
// first fills every used span with the fill pattern and flushes the
// instruction cache for it. A block that is already empty is left as is.
// Used only by the soft-reset reuse path.
func (a *Allocator) wipeBlock(b *block) {
	if b.flags.has(blockEmpty) {
		return
	}

	if a.cfg.options.has(FillUnusedMemory) {
		_ = a.cfg.vmSvc.ProtectJitMemory(vm.ProtectReadWrite)

		it := newBitVectorRangeIterator(b.used, b.areaSize, false)
		for {
			start, end, ok := it.nextRange(b.areaSize)
			if !ok {
				break
			}
			spanOff := uintptr(start) * uintptr(b.granularity)
			spanSize := uint32(end-start) * b.granularity
			fillPattern(b.rw[spanOff:spanOff+uintptr(spanSize)], a.cfg.fillPattern)
			a.cfg.vmSvc.FlushInstructionCache(b.rx+spanOff, spanSize)
		}

		_ = a.cfg.vmSvc.ProtectJitMemory(vm.ProtectReadExecute)
	}

	b.clear()
}

// Statistics returns a snapshot of the allocator's current state.
func (a *Allocator) Statistics() Statistics {
	if !a.initialized {
		return Statistics{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	// The padding guard area of each block is not counted as used.
	paddingAreas := 0
	if !a.cfg.options.has(DisableInitialPadding) {
		paddingAreas = 1
	}

	var s Statistics
	for _, p := range a.pools {
		s.BlockCount += p.blockCount
		s.ReservedSize += uint64(p.totalAreaSize) * uint64(p.granularity)
		s.UsedSize += uint64(p.totalAreaUsed-p.blockCount*paddingAreas) * uint64(p.granularity)
		s.OverheadSize += uint64(p.totalOverheadBytes)
	}
	s.AllocationCount = a.allocationCount
	return s
}
