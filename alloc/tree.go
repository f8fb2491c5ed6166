package alloc

// addressTree is an intrusive left-leaning red-black tree keyed by a
// block's rx address range, giving O(log N) pointer-to-block lookup on
// release/query. Nodes are the blocks themselves (tLeft, tRight, tRed
// fields embedded in *block) so no external node allocation is needed; the
// tree never owns a block, only references it.
type addressTree struct {
	root *block
}

func (t *addressTree) isRed(n *block) bool {
	return isRedNode(n)
}

func isRedNode(n *block) bool {
	return n != nil && n.tRed
}

// find locates the block whose [rx, rx+blockSize) range contains addr,
// descending by range compare rather than by the insertion key alone so a
// lookup with any interior address resolves to its owning block.
func (t *addressTree) find(addr uintptr) *block {
	n := t.root
	for n != nil {
		switch {
		case addr < n.rx:
			n = n.tLeft
		case addr >= n.rx+uintptr(n.blockSize):
			n = n.tRight
		default:
			return n
		}
	}
	return nil
}

func (t *addressTree) insert(b *block) {
	t.root = t.insertNode(t.root, b)
	t.root.tRed = false
}

func (t *addressTree) insertNode(h, b *block) *block {
	if h == nil {
		b.tRed = true
		return b
	}

	if t.isRed(h.tLeft) && t.isRed(h.tRight) {
		flipColors(h)
	}

	switch {
	case b.rx < h.rx:
		h.tLeft = t.insertNode(h.tLeft, b)
	case b.rx > h.rx:
		h.tRight = t.insertNode(h.tRight, b)
	default:
		// Two blocks can never share rx; reaching here indicates a caller
		// bug (double-insert).
		return h
	}

	if t.isRed(h.tRight) && !t.isRed(h.tLeft) {
		h = rotateLeft(h)
	}
	if t.isRed(h.tLeft) && t.isRed(h.tLeft.tLeft) {
		h = rotateRight(h)
	}

	return h
}

func (t *addressTree) remove(b *block) {
	if !t.isRed(t.root.tLeft) && !t.isRed(t.root.tRight) {
		t.root.tRed = true
	}
	t.root = t.removeNode(t.root, b.rx)
	if t.root != nil {
		t.root.tRed = false
	}
}

func (t *addressTree) removeNode(h *block, rx uintptr) *block {
	if rx < h.rx {
		if !t.isRed(h.tLeft) && !t.isRed(h.tLeft.tLeft) {
			h = moveRedLeft(h)
		}
		h.tLeft = t.removeNode(h.tLeft, rx)
	} else {
		if t.isRed(h.tLeft) {
			h = rotateRight(h)
		}
		if rx == h.rx && h.tRight == nil {
			return nil
		}
		if !t.isRed(h.tRight) && !t.isRed(h.tRight.tLeft) {
			h = moveRedRight(h)
		}
		if rx == h.rx {
			// Splice the successor node in by pointer, not by copying its
			// key into h: h is itself the block being destroyed by the
			// caller, and other structures (pool list, cursor) still hold
			// a pointer to it, so its fields must not be overwritten.
			succ := minNode(h.tRight)
			h.tRight = t.removeMin(h.tRight)
			succ.tLeft = h.tLeft
			succ.tRight = h.tRight
			succ.tRed = h.tRed
			h = succ
		} else {
			h.tRight = t.removeNode(h.tRight, rx)
		}
	}
	return fixUp(h)
}

func (t *addressTree) removeMin(h *block) *block {
	if h.tLeft == nil {
		return nil
	}
	if !t.isRed(h.tLeft) && !t.isRed(h.tLeft.tLeft) {
		h = moveRedLeft(h)
	}
	h.tLeft = t.removeMin(h.tLeft)
	return fixUp(h)
}

func minNode(h *block) *block {
	for h.tLeft != nil {
		h = h.tLeft
	}
	return h
}

func rotateLeft(h *block) *block {
	x := h.tRight
	h.tRight = x.tLeft
	x.tLeft = h
	x.tRed = h.tRed
	h.tRed = true
	return x
}

func rotateRight(h *block) *block {
	x := h.tLeft
	h.tLeft = x.tRight
	x.tRight = h
	x.tRed = h.tRed
	h.tRed = true
	return x
}

func flipColors(h *block) {
	h.tRed = !h.tRed
	h.tLeft.tRed = !h.tLeft.tRed
	h.tRight.tRed = !h.tRight.tRed
}

func moveRedLeft(h *block) *block {
	flipColors(h)
	if h.tRight != nil && h.tRight.tLeft != nil && h.tRight.tLeft.tRed {
		h.tRight = rotateRight(h.tRight)
		h = rotateLeft(h)
		flipColors(h)
	}
	return h
}

func moveRedRight(h *block) *block {
	flipColors(h)
	if h.tLeft != nil && h.tLeft.tLeft != nil && h.tLeft.tLeft.tRed {
		h = rotateRight(h)
		flipColors(h)
	}
	return h
}

func fixUp(h *block) *block {
	if h == nil {
		return nil
	}
	if isRedNode(h.tRight) && !isRedNode(h.tLeft) {
		h = rotateLeft(h)
	}
	if isRedNode(h.tLeft) && isRedNode(h.tLeft.tLeft) {
		h = rotateRight(h)
	}
	if isRedNode(h.tLeft) && isRedNode(h.tRight) {
		flipColors(h)
	}
	return h
}
