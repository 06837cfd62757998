// Package replace implements the per-tier replacement policies of
// spec.md §4.3: an approximate-LRU CLOCK structure and the HyMem admission
// set. The CLOCK sweep is grounded on the teacher's (ryogrid/bltree-go-for-
// embedding) BufMgr.PinLatch victim-selection loop in bufmgr.go, which skips
// pinned slots and clears a clock bit before evicting on the second pass.
package replace

import (
	"sync"

	"github.com/spitfiredb/spitfire/common"
)

type entry struct {
	pid        common.PID
	referenced bool
}

// Clock is a per-tier CLOCK replacement policy. It is safe for concurrent
// use; victim selection is serialized by a per-tier mutex (spec.md §5:
// "Eviction victim selection is protected by a per-tier mutex").
type Clock struct {
	mu    sync.Mutex
	index map[common.PID]int
	ring  []entry
	hand  int
}

// New constructs an empty CLOCK policy.
func New() *Clock {
	return &Clock{index: make(map[common.PID]int)}
}

// OnAccess marks pid as recently used, inserting it if not already tracked.
func (c *Clock) OnAccess(pid common.PID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[pid]; ok {
		c.ring[i].referenced = true
		return
	}
	c.index[pid] = len(c.ring)
	c.ring = append(c.ring, entry{pid: pid, referenced: true})
}

// Remove forgets about pid entirely.
func (c *Clock) Remove(pid common.PID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[pid]
	if !ok {
		return
	}
	last := len(c.ring) - 1
	c.ring[i] = c.ring[last]
	c.index[c.ring[i].pid] = i
	c.ring = c.ring[:last]
	delete(c.index, pid)
	if c.hand > last {
		c.hand = 0
	}
}

// Victim returns an unpinned page to evict, or ok=false if every tracked
// page is pinned (the caller should back off and retry — spec.md §4.4
// Failure semantics). isPinned is consulted against the descriptor table
// directly — mirroring the teacher's PinLatch loop, which reads the live
// latch.pin field rather than a value duplicated into the replacement
// structure — so pin state can never drift out of sync with reality.
func (c *Clock) Victim(isPinned func(common.PID) bool) (common.PID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.ring)
	if n == 0 {
		return common.InvalidPID, false
	}

	for sweeps := 0; sweeps < 2*n+1; sweeps++ {
		i := c.hand % n
		c.hand = (c.hand + 1) % n
		e := &c.ring[i]
		if isPinned(e.pid) {
			continue
		}
		if e.referenced {
			e.referenced = false
			continue
		}
		pid := e.pid
		c.removeAt(i)
		return pid, true
	}
	return common.InvalidPID, false
}

func (c *Clock) removeAt(i int) {
	last := len(c.ring) - 1
	pid := c.ring[i].pid
	c.ring[i] = c.ring[last]
	c.index[c.ring[i].pid] = i
	c.ring = c.ring[:last]
	delete(c.index, pid)
	if c.hand > last {
		c.hand = 0
	}
}

// Len reports how many pages this policy currently tracks.
func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ring)
}
