package buffer

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/storage/alloc"
	"github.com/spitfiredb/spitfire/storage/ssd"
	"github.com/spitfiredb/spitfire/wal"
)

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	ssdMgr, err := ssd.OpenMemory()
	require.NoError(t, err)

	w, err := wal.Open(filepath.Join(t.TempDir(), "wal.log"))
	require.NoError(t, err)

	var nvm *alloc.NVMAllocator
	if cfg.NVMCapacityPages > 0 {
		nvm, err = alloc.OpenNVMAllocator(filepath.Join(t.TempDir(), "nvm"), 4)
		require.NoError(t, err)
	}

	return NewManager(cfg, ssdMgr, w, nvm)
}

func TestNewPageWriteFlushDropGetRoundTrip(t *testing.T) {
	// spec.md §8 round-trip: NewPage -> Write -> Flush -> Drop -> Get ->
	// payload is the identity.
	mgr := newTestManager(t, Config{
		DRAMCapacityPages: 8,
		Policy:            DefaultMigrationPolicy(),
	})

	pid, err := mgr.NewPage()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0xAB}, 32)

	acc, err := mgr.Get(pid, common.IntentWriteFull)
	require.NoError(t, err)
	w, err := acc.PrepareForWrite(16, len(payload))
	require.NoError(t, err)
	copy(w, payload)
	require.NoError(t, mgr.Put(acc))

	require.NoError(t, mgr.Flush(pid, true, true))

	acc2, err := mgr.Get(pid, common.IntentReadFull)
	require.NoError(t, err)
	r, err := acc2.PrepareForRead(16, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, r)
	require.NoError(t, mgr.Put(acc2))
}

func TestMigrationPolicyZeroDisablesDRAM(t *testing.T) {
	// spec.md §8 Boundaries: migration probability 0 disables the tier.
	mgr := newTestManager(t, Config{
		DRAMCapacityPages: 4,
		NVMCapacityPages:  4,
		Policy:            MigrationPolicy{Dr: 0, Dw: 0, Nr: 1, Nw: 1},
	})

	pid, err := mgr.ssdMgr.Allocate()
	require.NoError(t, err)

	acc, err := mgr.Get(pid, common.IntentReadFull)
	require.NoError(t, err)
	require.NoError(t, mgr.Put(acc))

	desc, ok := mgr.table.lookup(pid)
	require.True(t, ok)
	require.Equal(t, common.TierNVM, desc.Tier)
	require.Equal(t, 0, mgr.dramClock.Len())
}

func TestBufferPoolSizeZeroServicesDirectToSSD(t *testing.T) {
	// spec.md §8 Boundaries: buffer pool size 0 is direct-to-SSD for every
	// access, and must still be functional.
	mgr := newTestManager(t, Config{
		DRAMCapacityPages: 0,
		NVMCapacityPages:  0,
		Policy:            DefaultMigrationPolicy(),
	})

	pid, err := mgr.ssdMgr.Allocate()
	require.NoError(t, err)

	acc, err := mgr.Get(pid, common.IntentWriteFull)
	require.NoError(t, err)
	buf, err := acc.PrepareForWrite(0, 4)
	require.NoError(t, err)
	copy(buf, []byte{1, 2, 3, 4})
	require.NoError(t, mgr.Put(acc))
	require.NoError(t, mgr.Flush(pid, true, false))

	readBack := make([]byte, common.PageSize)
	require.NoError(t, mgr.ssdMgr.Read(pid, readBack))
	require.Equal(t, []byte{1, 2, 3, 4}, readBack[:4])
}

func TestMiniPageShadowsNVMResidentPageAndWritesPropagate(t *testing.T) {
	// spec.md §3/§9: a mini-page is a DRAM-resident shadow of an NVM page's
	// hot subset, and a write through it must still dirty the primary copy.
	mgr := newTestManager(t, Config{
		DRAMCapacityPages: 0,
		NVMCapacityPages:  4,
		Policy:            MigrationPolicy{Dr: 0, Dw: 0, Nr: 1, Nw: 1},
		EnableMiniPage:    true,
	})

	pid, err := mgr.ssdMgr.Allocate()
	require.NoError(t, err)

	acc, err := mgr.Get(pid, common.IntentWriteFull)
	require.NoError(t, err)

	desc, ok := mgr.table.lookup(pid)
	require.True(t, ok)
	require.Equal(t, common.TierNVM, desc.Tier)
	require.NotNil(t, desc.MiniPage, "mini-page should attach on NVM residency")

	payload := []byte{7, 7, 7, 7}
	w, err := acc.PrepareForWrite(0, len(payload))
	require.NoError(t, err)
	copy(w, payload)
	require.NoError(t, mgr.Put(acc))

	primary := mgr.nvm.Bytes(desc.NVMOff, common.PageSize)
	require.Equal(t, payload, primary[:len(payload)], "mini-page write must propagate to the primary NVM page")

	require.NoError(t, mgr.evictOneNVM(common.InvalidPID))
	require.Nil(t, desc.MiniPage, "eviction must release the mini-page slot")
}

func TestDRAMAllocatorSlotIsFreedOnEviction(t *testing.T) {
	// spec.md §4.2: DRAM page backing comes from the DRAM tier allocator,
	// and eviction must return the slot rather than leak it.
	mgr := newTestManager(t, Config{
		DRAMCapacityPages: 1,
		Policy:            DefaultMigrationPolicy(),
	})

	pidA, err := mgr.NewPage()
	require.NoError(t, err)
	accA, err := mgr.Get(pidA, common.IntentReadFull)
	require.NoError(t, err)
	require.NoError(t, mgr.Put(accA))

	descA, ok := mgr.table.lookup(pidA)
	require.True(t, ok)
	require.Equal(t, common.TierDRAM, descA.Tier)
	handleA := descA.dramHandle
	_, present := mgr.dram.Bytes(handleA)
	require.True(t, present)

	// Forces eviction of pidA's DRAM slot since capacity is 1.
	pidB, err := mgr.NewPage()
	require.NoError(t, err)
	accB, err := mgr.Get(pidB, common.IntentReadFull)
	require.NoError(t, err)
	require.NoError(t, mgr.Put(accB))

	_, present = mgr.dram.Bytes(handleA)
	require.False(t, present, "evicted DRAM slot must be released back to the allocator")
}

func TestEvictionWritesDirtyVictimDown(t *testing.T) {
	mgr := newTestManager(t, Config{
		DRAMCapacityPages: 1,
		Policy:            DefaultMigrationPolicy(),
	})

	pidA, err := mgr.NewPage()
	require.NoError(t, err)
	accA, err := mgr.Get(pidA, common.IntentWriteFull)
	require.NoError(t, err)
	bufA, err := accA.PrepareForWrite(0, 4)
	require.NoError(t, err)
	copy(bufA, []byte{9, 9, 9, 9})
	require.NoError(t, mgr.Put(accA))

	// Second page forces eviction of pidA's DRAM slot since capacity is 1.
	pidB, err := mgr.NewPage()
	require.NoError(t, err)
	accB, err := mgr.Get(pidB, common.IntentReadFull)
	require.NoError(t, err)
	require.NoError(t, mgr.Put(accB))

	descA, ok := mgr.table.lookup(pidA)
	require.True(t, ok)
	require.NotEqual(t, common.TierDRAM, descA.Tier)
	require.False(t, descA.Dirty)
}
