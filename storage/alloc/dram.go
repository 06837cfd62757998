package alloc

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/spitfiredb/spitfire/status"
)

// DRAMAllocator is the standard heap allocator tier. Go doesn't expose raw
// addresses the way the source's C++ new/delete does, so addresses here are
// opaque handles into a table of live slices; Persist is a no-op since DRAM
// needs no writeback to become durable.
type DRAMAllocator struct {
	mu      sync.Mutex
	next    uintptr
	regions map[uintptr][]byte
}

// NewDRAMAllocator constructs an empty DRAM allocator.
func NewDRAMAllocator() *DRAMAllocator {
	return &DRAMAllocator{regions: make(map[uintptr][]byte), next: 1}
}

func (a *DRAMAllocator) Alloc(size int) (uintptr, error) {
	if size < 0 {
		return 0, errors.Wrap(status.ErrInvariantViolation, "negative alloc size")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	handle := atomic.AddUintptr(&a.next, 1) - 1
	a.regions[handle] = make([]byte, size)
	return handle, nil
}

func (a *DRAMAllocator) Free(addr uintptr) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.regions[addr]; !ok {
		return errors.Wrap(status.ErrInvariantViolation, "free of unknown DRAM handle")
	}
	delete(a.regions, addr)
	return nil
}

// Persist is a no-op for DRAM: there is no lower tier to write back to
// within this allocator's own contract (the buffer manager handles
// migration to NVM/SSD separately).
func (a *DRAMAllocator) Persist(addr uintptr, size int) error { return nil }

// Bytes returns the live slice behind a handle, for direct access by the
// buffer manager's DRAM-resident page slots.
func (a *DRAMAllocator) Bytes(addr uintptr) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, ok := a.regions[addr]
	return b, ok
}
