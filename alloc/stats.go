package alloc

// Statistics is a point-in-time snapshot of allocator state, aggregated
// across every pool under the allocator's lock.
type Statistics struct {
	BlockCount      int
	ReservedSize    uint64
	UsedSize        uint64
	OverheadSize    uint64
	AllocationCount int
}
