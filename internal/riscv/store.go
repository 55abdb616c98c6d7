package riscv

import (
	"fmt"
	"sync"

	"github.com/google/btree"
)

// page is one 4-KiB backing-store block, allocated on first touch.
type page struct {
	index uint32
	data  [PageSize]byte
}

func pageLess(a, b *page) bool { return a.index < b.index }

// coherentPeer is a per-master cache that must observe coherence broadcasts
// from the backing store (downgrade/invalidate lines, clear reservations).
type coherentPeer interface {
	invalidateRange(paddr uint32, length uint32, isWrite bool)
}

// BackingStore is the sparse, page-on-first-touch physical memory of the
// simulator. It is shared by every hart's LSU and by DMA-capable devices.
type BackingStore struct {
	mu    sync.Mutex
	pages *btree.BTreeG[*page]

	peersMu sync.Mutex
	peers   map[int]coherentPeer
}

// NewBackingStore creates an empty backing store.
func NewBackingStore() *BackingStore {
	return &BackingStore{
		pages: btree.NewG(32, pageLess),
		peers: make(map[int]coherentPeer),
	}
}

// RegisterPeer registers master id's cache to receive coherence broadcasts.
func (s *BackingStore) RegisterPeer(masterID int, peer coherentPeer) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.peers[masterID] = peer
}

func (s *BackingStore) getPage(index uint32, forWrite bool) *page {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := &page{index: index}
	if p, ok := s.pages.Get(key); ok {
		return p
	}
	if !forWrite {
		// Reads of untouched pages also allocate a zero-filled page, so
		// callers get a stable home for future writes.
	}
	p := &page{index: index}
	s.pages.ReplaceOrInsert(p)
	return p
}

// GetPage returns the live page backing paddr, allocating it if absent.
func (s *BackingStore) GetPage(paddr uint32, forWrite bool) *page {
	return s.getPage(paddr>>PageShift, forWrite)
}

// Load reads length bytes (1, 2, or 4) at paddr, little-endian.
func (s *BackingStore) Load(paddr uint32, length int) (uint32, error) {
	if length != 1 && length != 2 && length != 4 {
		return 0, fmt.Errorf("riscv: invalid load length %d", length)
	}
	var result uint32
	for i := 0; i < length; i++ {
		a := paddr + uint32(i)
		p := s.GetPage(a, false)
		result |= uint32(p.data[a&(PageSize-1)]) << (8 * i)
	}
	return result, nil
}

// Store writes length bytes (1, 2, or 4) at paddr, little-endian.
func (s *BackingStore) Store(paddr uint32, length int, value uint32) error {
	if length != 1 && length != 2 && length != 4 {
		return fmt.Errorf("riscv: invalid store length %d", length)
	}
	for i := 0; i < length; i++ {
		a := paddr + uint32(i)
		p := s.GetPage(a, true)
		p.data[a&(PageSize-1)] = byte(value >> (8 * i))
	}
	return nil
}

// ReadAt implements io.ReaderAt, for loader/DMA-style bulk reads.
func (s *BackingStore) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		v, _ := s.Load(uint32(off)+uint32(i), 1)
		p[i] = byte(v)
	}
	return len(p), nil
}

// WriteAt implements io.WriterAt, for loader/DMA-style bulk writes.
func (s *BackingStore) WriteAt(p []byte, off int64) (int, error) {
	for i, b := range p {
		if err := s.Store(uint32(off)+uint32(i), 1, uint32(b)); err != nil {
			return i, err
		}
	}
	return len(p), nil
}

// CacheCoherent broadcasts an invalidation signal to every registered peer
// cache other than masterID, so that any line holding an address in
// [paddr, paddr+length) downgrades/invalidates and clears its reservation.
func (s *BackingStore) CacheCoherent(paddr uint32, length uint32, isWrite bool, masterID int) {
	s.peersMu.Lock()
	peers := make([]coherentPeer, 0, len(s.peers))
	for id, p := range s.peers {
		if id == masterID {
			continue
		}
		peers = append(peers, p)
	}
	s.peersMu.Unlock()
	for _, p := range peers {
		p.invalidateRange(paddr, length, isWrite)
	}
}
