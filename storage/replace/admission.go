package replace

import (
	"sync"

	"github.com/spitfiredb/spitfire/common"
)

// AdmissionSet is the bounded FIFO of recently-seen SSD PIDs used by
// HyMem-style second-touch promotion (spec.md §4.3). A first touch inserts
// into the set and is served directly from SSD; only a second touch (the
// PID already present) triggers an SSD→NVM promotion.
//
// The source models this as a lock-free MPMC queue; Go's ecosystem has no
// pack-supplied lock-free queue, so a mutex-guarded slice queue stands in
// (documented in DESIGN.md) — correctness is identical, only the lock-free
// property is traded away.
type AdmissionSet struct {
	mu       sync.Mutex
	capacity int
	order    []common.PID
	present  map[common.PID]struct{}
}

// NewAdmissionSet constructs a set holding at most capacity PIDs.
// capacity == 0 means "never promote SSD→NVM" (spec.md §8 Boundaries).
func NewAdmissionSet(capacity int) *AdmissionSet {
	return &AdmissionSet{capacity: capacity, present: make(map[common.PID]struct{})}
}

// Touch records a touch of pid. It returns true if this is a second touch
// (pid was already in the set), meaning the caller may promote SSD→NVM.
func (s *AdmissionSet) Touch(pid common.PID) (secondTouch bool) {
	if s.capacity == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.present[pid]; ok {
		return true
	}

	if len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.present, oldest)
	}
	s.order = append(s.order, pid)
	s.present[pid] = struct{}{}
	return false
}

// Len reports the current occupancy.
func (s *AdmissionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
