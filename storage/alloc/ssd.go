package alloc

import (
	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/storage/ssd"
)

// SSDAllocator is a trivial wrapper over the SSD page manager (spec.md
// §4.2). Its "address" is a PID; size is ignored since the page manager
// only ever deals in fixed-size pages.
type SSDAllocator struct {
	mgr *ssd.Manager
}

// NewSSDAllocator wraps an already-open SSD page manager.
func NewSSDAllocator(mgr *ssd.Manager) *SSDAllocator {
	return &SSDAllocator{mgr: mgr}
}

func (a *SSDAllocator) Alloc(size int) (uintptr, error) {
	pid, err := a.mgr.Allocate()
	return uintptr(pid), err
}

func (a *SSDAllocator) Free(addr uintptr) error {
	return a.mgr.Free(common.PID(addr))
}

// Persist flushes the backing file; SSD pages are always durable once
// written, so this is simply an fsync.
func (a *SSDAllocator) Persist(addr uintptr, size int) error {
	return a.mgr.Sync()
}
