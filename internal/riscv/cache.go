package riscv

import "sync"

// lineState is the MSI coherence state of a cache line.
type lineState uint8

const (
	LineInvalid lineState = iota
	LineShared
	LineModified
)

// cacheLine is one direct-mapped cache line: MSI state, a load-reserved
// reservation bit, its backing-store tag, and line_len bytes of data.
type cacheLine struct {
	state       lineState
	reservation bool
	tag         uint32
	data        []byte
}

// Cache is a per-master, direct-mapped, write-back line cache with MSI
// coherence maintained via explicit broadcast through the backing store,
// and an LR/SC reservation bit carried per line (PIPT tagging).
type Cache struct {
	mu        sync.Mutex
	store     *BackingStore
	masterID  int
	lineLen   uint32
	lineShift uint32
	indexMask uint32
	lines     []cacheLine

	Accesses uint64
	Hits     uint64
}

// NewCache creates a cache with numLines lines of lineLen bytes each, both
// powers of two, registered with store under masterID for coherence
// broadcasts.
func NewCache(store *BackingStore, masterID int, lineLen, numLines uint32) *Cache {
	c := &Cache{
		store:     store,
		masterID:  masterID,
		lineLen:   lineLen,
		lineShift: bitLen(lineLen) - 1,
		indexMask: numLines - 1,
		lines:     make([]cacheLine, numLines),
	}
	for i := range c.lines {
		c.lines[i].data = make([]byte, lineLen)
	}
	store.RegisterPeer(masterID, c)
	return c
}

func bitLen(v uint32) uint32 {
	var n uint32
	for v > 1 {
		v >>= 1
		n++
	}
	return n + 1
}

func (c *Cache) alignedTag(paddr uint32) uint32 {
	return paddr &^ (c.lineLen - 1)
}

func (c *Cache) index(paddr uint32) uint32 {
	return (paddr >> c.lineShift) & c.indexMask
}

// GetLine returns the resident line for paddr, broadcasting a coherence
// signal first, handling miss write-back/refill, and promoting to Modified
// on a write access. The returned pointer is live: callers index into
// line.data directly and may flip line.reservation for LR/SC.
func (c *Cache) GetLine(paddr uint32, forWrite bool) *cacheLine {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := c.alignedTag(paddr)
	c.store.CacheCoherent(tag, c.lineLen, forWrite, c.masterID)

	idx := c.index(paddr)
	line := &c.lines[idx]
	c.Accesses++

	if line.state != LineInvalid && line.tag == tag {
		c.Hits++
	} else {
		if line.state == LineModified {
			c.writeBackLocked(line)
		}
		line.tag = tag
		for i := uint32(0); i < c.lineLen; i++ {
			v, _ := c.store.Load(tag+i, 1)
			line.data[i] = byte(v)
		}
		line.state = LineShared
		line.reservation = false
	}

	if forWrite {
		line.state = LineModified
	}
	return line
}

func (c *Cache) writeBackLocked(line *cacheLine) {
	for i := uint32(0); i < c.lineLen; i++ {
		c.store.Store(line.tag+i, 1, uint32(line.data[i]))
	}
}

// invalidateRange implements coherentPeer: a peer master touched an address
// range. If this cache holds a matching line, it writes back (if Modified),
// downgrades or invalidates it, and clears its reservation bit.
func (c *Cache) invalidateRange(paddr uint32, length uint32, isWrite bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := c.alignedTag(paddr)
	idx := c.index(paddr)
	line := &c.lines[idx]
	if line.state == LineInvalid || line.tag != tag {
		return
	}
	if line.state == LineModified {
		c.writeBackLocked(line)
	}
	if isWrite {
		line.state = LineInvalid
	} else {
		line.state = LineShared
	}
	line.reservation = false
}

// WriteBackAll flushes every Modified line to the backing store.
func (c *Cache) WriteBackAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].state == LineModified {
			c.writeBackLocked(&c.lines[i])
			c.lines[i].state = LineShared
		}
	}
}

// InvalidateAll writes back Modified lines and marks every line Invalid.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.lines {
		if c.lines[i].state == LineModified {
			c.writeBackLocked(&c.lines[i])
		}
		c.lines[i].state = LineInvalid
		c.lines[i].reservation = false
	}
}

var _ coherentPeer = (*Cache)(nil)
