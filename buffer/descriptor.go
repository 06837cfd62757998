// Package buffer implements Spitfire's three-tier concurrent buffer
// manager (spec.md §4.4), the hardest component of the system: page
// lifecycle across DRAM/NVM/SSD, probabilistic migration, concurrent
// access coordination, and write-ahead-log interaction.
//
// The page descriptor table's striped-latch lookup and the CLOCK-bit pin
// scheme are grounded on the teacher's (ryogrid/bltree-go-for-embedding)
// BufMgr: PinLatch hashes into a striped hash table and walks a chain
// under a per-stripe write lock, exactly like descriptorTable.getOrCreate
// below; the eviction loop's "skip pinned, clear clock bit, else evict"
// shape reappears in storage/replace.Clock.Victim.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/spitfiredb/spitfire/common"
)

// Descriptor is the per-live-PID bookkeeping record of spec.md §3:
// {current_tier, in_memory_address_or_null, pin_count, dirty, latch,
// replacement_hook, mini_page_ptr}.
type Descriptor struct {
	PID common.PID

	// Latch is the per-page read-write latch (spec.md §3: "Exactly one
	// writer or many readers hold the latch at a time").
	Latch sync.RWMutex

	Tier common.Tier

	DRAM       []byte  // non-nil iff resident in DRAM
	dramHandle uintptr // backing alloc.DRAMAllocator handle, valid iff DRAM != nil

	NVMOff      int64
	NVMResident bool

	MiniPage    []byte // optional DRAM-resident hot subset, ≤ common.MiniPageSize
	miniSlotIdx int    // slab slot backing MiniPage, valid iff MiniPage != nil

	pinCount int32
	Dirty    bool
	LSN      uint64
}

const descriptorStripeCount = 64

type stripe struct {
	mu sync.RWMutex
	m  map[common.PID]*Descriptor
}

// descriptorTable maps live PIDs to descriptors using hash-based striping
// (spec.md §5: "fine-grained striping (hash-based) for lookups").
type descriptorTable struct {
	stripes [descriptorStripeCount]*stripe
}

func newDescriptorTable() *descriptorTable {
	t := &descriptorTable{}
	for i := range t.stripes {
		t.stripes[i] = &stripe{m: make(map[common.PID]*Descriptor)}
	}
	return t
}

func (t *descriptorTable) stripeFor(pid common.PID) *stripe {
	return t.stripes[uint64(pid)%uint64(len(t.stripes))]
}

// lookup finds an existing descriptor under a shared stripe lock.
func (t *descriptorTable) lookup(pid common.PID) (*Descriptor, bool) {
	s := t.stripeFor(pid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.m[pid]
	return d, ok
}

// getOrCreate finds pid's descriptor, or installs a fresh one (initial tier
// SSD, since every live PID's primary copy exists there) under an
// exclusive stripe lock (spec.md §5: "insert under exclusive stripe lock").
func (t *descriptorTable) getOrCreate(pid common.PID) (desc *Descriptor, created bool) {
	s := t.stripeFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.m[pid]; ok {
		return d, false
	}
	d := &Descriptor{PID: pid, Tier: common.TierSSD}
	s.m[pid] = d
	return d, true
}

func (t *descriptorTable) remove(pid common.PID) {
	s := t.stripeFor(pid)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, pid)
}

// Pin increments the descriptor's pin count. Eviction is forbidden while
// pin count > 0 (spec.md §3). Pinning is a separate atomic counter from
// the content latch so a caller can pin a page before deciding which latch
// mode (read/write) it ultimately needs.
func (d *Descriptor) Pin() {
	atomic.AddInt32(&d.pinCount, 1)
}

// Unpin decrements the descriptor's pin count.
func (d *Descriptor) Unpin() {
	atomic.AddInt32(&d.pinCount, -1)
}

// PinCount reports the current pin count.
func (d *Descriptor) PinCount() int32 {
	return atomic.LoadInt32(&d.pinCount)
}
