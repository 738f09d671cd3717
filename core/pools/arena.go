package pools

// Arena is a bump allocator backing the string data of a single connection.
// All allocations are released together by Reset; the backing block is
// retained across resets so keep-alive requests do not reallocate.
//
// An Arena is owned by exactly one connection goroutine and must not be
// shared.
type Arena struct {
	block []byte
	off   int
}

const minArenaBlock = 4096

// NewArena creates an arena with an initial block of at least size bytes.
func NewArena(size int) *Arena {
	if size < minArenaBlock {
		size = minArenaBlock
	}
	return &Arena{block: make([]byte, size)}
}

// Alloc returns an n-byte slice from the arena. The slice is valid until
// the next Reset. Capacity is clipped so callers cannot append past their
// allocation into a neighbor's bytes.
func (a *Arena) Alloc(n int) []byte {
	if a.off+n > len(a.block) {
		a.grow(n)
	}
	b := a.block[a.off : a.off+n : a.off+n]
	a.off += n
	return b
}

// Copy allocates from the arena and copies p into it.
func (a *Arena) Copy(p []byte) []byte {
	b := a.Alloc(len(p))
	copy(b, p)
	return b
}

// grow replaces the current block with a larger one. Slices handed out
// from the old block stay valid; the old block is released to the GC on
// the next collection after those slices die.
func (a *Arena) grow(n int) {
	size := len(a.block) * 2
	if size < n {
		size = n
	}
	a.block = make([]byte, size)
	a.off = 0
}

// Reset releases every allocation at once. The block is kept, so the next
// request on the connection allocates without touching the heap.
func (a *Arena) Reset() {
	a.off = 0
}

// Used reports the bytes currently allocated.
func (a *Arena) Used() int {
	return a.off
}

// Cap reports the size of the current block.
func (a *Arena) Cap() int {
	return len(a.block)
}
