package mvto

import (
	"sync"

	"github.com/spitfiredb/spitfire/txn"
)

// activeStripeCount mirrors the buffer package's descriptor-table striping
// (buffer/descriptor.go), reused here at transaction-id granularity for
// the active-transaction table (spec.md §5: "Active-transaction table:
// striped locks").
const activeStripeCount = 32

type activeStripe struct {
	mu sync.RWMutex
	m  map[uint64]*txn.Context
}

type activeTable struct {
	stripes [activeStripeCount]*activeStripe
}

func newActiveTable() *activeTable {
	t := &activeTable{}
	for i := range t.stripes {
		t.stripes[i] = &activeStripe{m: make(map[uint64]*txn.Context)}
	}
	return t
}

func (t *activeTable) stripeFor(tid uint64) *activeStripe {
	return t.stripes[tid%uint64(activeStripeCount)]
}

func (t *activeTable) Put(ctx *txn.Context) {
	s := t.stripeFor(ctx.TID)
	s.mu.Lock()
	s.m[ctx.TID] = ctx
	s.mu.Unlock()
}

func (t *activeTable) Get(tid uint64) (*txn.Context, bool) {
	s := t.stripeFor(tid)
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.m[tid]
	return ctx, ok
}

func (t *activeTable) Remove(tid uint64) {
	s := t.stripeFor(tid)
	s.mu.Lock()
	delete(s.m, tid)
	s.mu.Unlock()
}
