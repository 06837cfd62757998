package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/storage/alloc"
	"github.com/spitfiredb/spitfire/storage/replace"
	"github.com/spitfiredb/spitfire/storage/ssd"
	"github.com/spitfiredb/spitfire/status"
	"github.com/spitfiredb/spitfire/wal"
)

var log = logrus.WithField("component", "buffer")

// Config selects which tiers are active and how they behave. It mirrors
// the benchmark driver flags of spec.md §6.
type Config struct {
	Mode common.BPMode

	DRAMCapacityPages int // 0 means the DRAM tier is unused (spec.md §8 Boundaries)
	NVMCapacityPages  int // 0 means the NVM tier is unused

	Policy MigrationPolicy

	EnableHyMem       bool
	AdmissionSetPages int

	EnableMiniPage bool

	// EnableAnnealing turns on runtime adjustment of the migration
	// probabilities toward whichever tier has spare capacity (spec.md §6
	// "enable_annealing: enable runtime simulated-annealing of migration
	// probabilities"). Policy is otherwise fixed for the manager's lifetime.
	EnableAnnealing bool
}

// Manager is the three-tier concurrent buffer manager of spec.md §4.4.
type Manager struct {
	cfg Config

	table *descriptorTable

	ssdMgr   *ssd.Manager
	ssdAlloc *alloc.SSDAllocator
	nvm      *alloc.NVMAllocator // nil when NVM tier is disabled
	dram     *alloc.DRAMAllocator

	dramClock *replace.Clock
	nvmClock  *replace.Clock
	admission *replace.AdmissionSet

	miniSlab *alloc.MiniPageSlab

	w *wal.WAL

	pageLSN uint64 // manager-wide monotonic page-write counter

	policyMu    sync.Mutex
	policy      MigrationPolicy // live copy, mutated by anneal() when EnableAnnealing is set
	annealTemp  float64
	annealTicks uint64
}

const (
	annealInterval   = 64   // ensureResident calls between anneal steps
	annealInitTemp   = 0.25 // initial step size as a probability delta
	annealDecay      = 0.97 // per-step multiplicative cooldown
	annealMinTemp    = 0.01
)

// NewManager constructs a buffer manager over an already-open SSD page
// manager and WAL, with an optional NVM allocator (nil disables the NVM
// tier, matching bp_mode 2: DRAM+SSD).
func NewManager(cfg Config, ssdMgr *ssd.Manager, w *wal.WAL, nvm *alloc.NVMAllocator) *Manager {
	m := &Manager{
		cfg:       cfg,
		table:     newDescriptorTable(),
		ssdMgr:    ssdMgr,
		ssdAlloc:  alloc.NewSSDAllocator(ssdMgr),
		nvm:       nvm,
		dram:      alloc.NewDRAMAllocator(),
		w:         w,
		dramClock: replace.New(),
		nvmClock:  replace.New(),
	}
	if cfg.EnableHyMem {
		m.admission = replace.NewAdmissionSet(cfg.AdmissionSetPages)
	}
	if cfg.EnableMiniPage {
		m.miniSlab = alloc.NewMiniPageSlab(common.MiniPageSize, cfg.NVMCapacityPages)
	}
	if cfg.EnableAnnealing {
		m.policy = cfg.Policy
		m.annealTemp = annealInitTemp
	}
	return m
}

func (m *Manager) dramEnabled() bool { return m.cfg.DRAMCapacityPages > 0 }
func (m *Manager) nvmEnabled() bool  { return m.nvm != nil && m.cfg.NVMCapacityPages > 0 }

// currentPolicy returns the migration policy in effect for this call,
// either the fixed configured policy or the live annealed copy.
func (m *Manager) currentPolicy() MigrationPolicy {
	if !m.cfg.EnableAnnealing {
		return m.cfg.Policy
	}
	m.policyMu.Lock()
	defer m.policyMu.Unlock()
	return m.policy
}

// maybeAnneal runs one annealing step every annealInterval calls, once
// EnableAnnealing is set. Cheap no-op check on the common path.
func (m *Manager) maybeAnneal() {
	if !m.cfg.EnableAnnealing {
		return
	}
	if atomic.AddUint64(&m.annealTicks, 1)%annealInterval == 0 {
		m.anneal()
	}
}

// anneal nudges each tier's migration probabilities toward favoring
// whichever tier has spare capacity and away from one running hot,
// scaled by a step size that cools every call (spec.md §6
// "enable_annealing"). The exact schedule is unspecified by the source
// spec; this implements a bounded, monotonically-cooling hill-climb
// rather than full simulated annealing's random restarts, since the
// buffer manager has no objective function to re-anneal against.
func (m *Manager) anneal() {
	m.policyMu.Lock()
	defer m.policyMu.Unlock()

	step := m.annealTemp
	if m.dramEnabled() {
		load := float64(m.dramClock.Len()) / float64(m.cfg.DRAMCapacityPages)
		delta := step * (0.5 - load)
		m.policy.Dr = clampProbability(m.policy.Dr + delta)
		m.policy.Dw = clampProbability(m.policy.Dw + delta)
	}
	if m.nvmEnabled() {
		load := float64(m.nvmClock.Len()) / float64(m.cfg.NVMCapacityPages)
		delta := step * (0.5 - load)
		m.policy.Nr = clampProbability(m.policy.Nr + delta)
		m.policy.Nw = clampProbability(m.policy.Nw + delta)
	}
	if m.annealTemp > annealMinTemp {
		m.annealTemp *= annealDecay
	}
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// NewPage allocates a fresh PID on SSD and installs an empty page, marked
// dirty, in DRAM; with DRAM disabled it goes to NVM, and with both disabled
// the page stays on SSD (spec.md §4.4).
func (m *Manager) NewPage() (common.PID, error) {
	handle, err := m.ssdAlloc.Alloc(common.PageSize)
	if err != nil {
		return common.InvalidPID, err
	}
	pid := common.PID(handle)
	desc, _ := m.table.getOrCreate(pid)
	desc.Pin()
	desc.Latch.Lock()
	defer desc.Latch.Unlock()

	if m.dramEnabled() {
		if err := m.installDRAM(desc); err != nil {
			desc.Unpin()
			return common.InvalidPID, err
		}
	} else if m.nvmEnabled() {
		if err := m.installNVM(desc); err != nil {
			desc.Unpin()
			return common.InvalidPID, err
		}
	} else {
		desc.Tier = common.TierSSD
	}
	desc.Dirty = true
	desc.Unpin()
	log.WithField("pid", pid).Debug("new page")
	return pid, nil
}

// Get returns an accessor bound to pid's current in-memory location,
// guaranteeing residency in some tier and pinning/latching the page
// according to mode (spec.md §4.4).
func (m *Manager) Get(pid common.PID, mode common.AccessMode) (*Accessor, error) {
	desc, _ := m.table.getOrCreate(pid)
	desc.Pin()

	if mode.IsWrite() {
		desc.Latch.Lock()
	} else {
		desc.Latch.RLock()
	}

	if err := m.ensureResident(desc, mode); err != nil {
		if mode.IsWrite() {
			desc.Latch.Unlock()
		} else {
			desc.Latch.RUnlock()
		}
		desc.Unpin()
		return nil, err
	}

	return &Accessor{mgr: m, desc: desc, write: mode.IsWrite(), mode: mode}, nil
}

// Put releases an accessor's pin and latch (spec.md §4.4). It is
// idempotent-safe to call once per successful Get. A write to a page
// serviced straight from SSD is written back through the WAL and SSD here.
func (m *Manager) Put(a *Accessor) error {
	if a.released {
		return nil
	}
	if err := a.FinishAccess(); err != nil {
		return err
	}
	if a.write && a.desc.Tier == common.TierSSD && a.desc.Dirty {
		if err := m.writeDownToSSD(a.desc); err != nil {
			return err
		}
	}
	if a.write {
		a.desc.Latch.Unlock()
	} else {
		a.desc.Latch.RUnlock()
	}
	a.desc.Unpin()
	a.released = true
	return nil
}

// ensureResident guarantees desc's page content is available on some tier,
// fetching from SSD and applying the probabilistic migration policy of
// spec.md §4.4 table. Caller holds desc.Latch already.
func (m *Manager) ensureResident(desc *Descriptor, mode common.AccessMode) error {
	write := mode.IsWrite()
	m.maybeAnneal()

	switch desc.Tier {
	case common.TierDRAM:
		m.dramClock.OnAccess(desc.PID)
		return nil
	case common.TierNVM:
		m.nvmClock.OnAccess(desc.PID)
		m.attachMiniPage(desc)
		if m.dramEnabled() && draw(m.currentPolicy().dramProbability(write)) {
			return m.promoteNVMToDRAM(desc)
		}
		return nil
	default: // common.TierSSD: primary copy lives only on SSD so far
		return m.loadFromSSD(desc, write)
	}
}

func (m *Manager) loadFromSSD(desc *Descriptor, write bool) error {
	promoteToNVM := m.nvmEnabled()
	if promoteToNVM && m.cfg.EnableHyMem {
		promoteToNVM = m.admission.Touch(desc.PID)
	} else if promoteToNVM {
		promoteToNVM = draw(m.currentPolicy().nvmProbability(write))
	}

	if promoteToNVM {
		if err := m.installNVM(desc); err != nil {
			return err
		}
		if err := m.ssdMgr.Read(desc.PID, m.nvm.Bytes(desc.NVMOff, common.PageSize)); err != nil {
			return err
		}
		m.nvmClock.OnAccess(desc.PID)
		m.attachMiniPage(desc)

		if m.dramEnabled() && draw(m.currentPolicy().dramProbability(write)) {
			return m.promoteNVMToDRAM(desc)
		}
		return nil
	}

	// Serviced directly from SSD: still needs somewhere for the accessor to
	// read/write bytes. If DRAM admission also misses, fall back to an
	// ephemeral page-sized buffer that is written straight back through the
	// WAL+SSD path on release, matching spec.md §8 "Buffer pool size 0 ≡
	// direct-to-SSD for every access (still functional)".
	if m.dramEnabled() && draw(m.currentPolicy().dramProbability(write)) {
		if err := m.installDRAM(desc); err != nil {
			return err
		}
		if err := m.ssdMgr.Read(desc.PID, desc.DRAM); err != nil {
			return err
		}
		m.dramClock.OnAccess(desc.PID)
		return nil
	}

	if err := m.allocDRAMSlot(desc); err != nil {
		return err
	}
	desc.Tier = common.TierSSD
	return m.ssdMgr.Read(desc.PID, desc.DRAM)
}

// promoteNVMToDRAM copies desc's NVM-resident bytes into a DRAM slot.
func (m *Manager) promoteNVMToDRAM(desc *Descriptor) error {
	if err := m.installDRAM(desc); err != nil {
		return err
	}
	copy(desc.DRAM, m.nvm.Bytes(desc.NVMOff, common.PageSize))
	m.dramClock.OnAccess(desc.PID)
	m.detachMiniPage(desc) // whole page now resident in DRAM; the NVM shadow is moot
	return nil
}

// attachMiniPage installs a DRAM-side shadow of desc's NVM page payload,
// sized to the slab's fixed slot (spec.md §3 mini-page, §4.2 slab
// allocator). A no-op when mini-page mode is disabled, a shadow is already
// attached, or the slab is momentarily exhausted (the page simply proceeds
// without acceleration until a slot frees up).
func (m *Manager) attachMiniPage(desc *Descriptor) {
	if m.miniSlab == nil || desc.MiniPage != nil {
		return
	}
	idx, buf, ok := m.miniSlab.Acquire()
	if !ok {
		return
	}
	n := m.miniSlab.SlotSize()
	src := m.nvm.Bytes(desc.NVMOff, common.PageSize)
	copy(buf, src[:n])
	desc.MiniPage = buf
	desc.miniSlotIdx = idx
}

// detachMiniPage releases desc's mini-page slot back to the slab, if any.
func (m *Manager) detachMiniPage(desc *Descriptor) {
	if m.miniSlab == nil || desc.MiniPage == nil {
		return
	}
	m.miniSlab.Release(desc.miniSlotIdx)
	desc.MiniPage = nil
	desc.miniSlotIdx = 0
}

// installDRAM finds or evicts a DRAM slot for desc and marks it resident.
func (m *Manager) installDRAM(desc *Descriptor) error {
	if m.dramClock.Len() >= m.cfg.DRAMCapacityPages {
		if err := m.evictOneDRAM(desc.PID); err != nil {
			return err
		}
	}
	if err := m.allocDRAMSlot(desc); err != nil {
		return err
	}
	desc.Tier = common.TierDRAM
	m.dramClock.OnAccess(desc.PID)
	return nil
}

// allocDRAMSlot reserves a page-sized DRAM region through the DRAM tier
// allocator (spec.md §4.2) and binds it to desc, replacing any slot desc
// already held.
func (m *Manager) allocDRAMSlot(desc *Descriptor) error {
	m.freeDRAMSlot(desc)
	handle, err := m.dram.Alloc(common.PageSize)
	if err != nil {
		return err
	}
	buf, _ := m.dram.Bytes(handle)
	desc.DRAM = buf
	desc.dramHandle = handle
	return nil
}

// freeDRAMSlot releases desc's current DRAM allocator handle, if any.
func (m *Manager) freeDRAMSlot(desc *Descriptor) {
	if desc.DRAM == nil {
		return
	}
	_ = m.dram.Free(desc.dramHandle)
	desc.DRAM = nil
	desc.dramHandle = 0
}

// isPinned reports whether pid is currently pinned, consulting the live
// descriptor table.
func (m *Manager) isPinned(pid common.PID) bool {
	desc, ok := m.table.lookup(pid)
	if !ok {
		return false
	}
	return desc.PinCount() > 0
}

func (m *Manager) installNVM(desc *Descriptor) error {
	if m.nvmClock.Len() >= m.cfg.NVMCapacityPages {
		if err := m.evictOneNVM(desc.PID); err != nil {
			return err
		}
	}
	off, err := m.nvm.Reserve(common.PageSize)
	if err != nil {
		return err
	}
	if err := m.nvm.Activate(off, common.PageSize); err != nil {
		return err
	}
	desc.NVMOff = off
	desc.NVMResident = true
	if desc.Tier != common.TierDRAM {
		desc.Tier = common.TierNVM
	}
	return nil
}

// evictOneDRAM runs the DRAM replacement policy to free one slot, writing a
// dirty victim down to NVM (or SSD if NVM is disabled) first (spec.md §4.4
// Eviction). excluding is the page the caller is currently installing (and
// already holds pinned); it is rejected as a candidate victim even if pin
// bookkeeping were ever out of sync, on top of the isPinned check Victim
// already runs against the live descriptor table.
func (m *Manager) evictOneDRAM(excluding common.PID) error {
	victim, ok := m.dramClock.Victim(func(pid common.PID) bool {
		return pid == excluding || m.isPinned(pid)
	})
	if !ok {
		return errors.Wrap(status.ErrIOError, "no unpinned DRAM victim available; caller should back off and retry")
	}
	vdesc, ok := m.table.lookup(victim)
	if !ok {
		return nil
	}
	vdesc.Latch.Lock()
	defer vdesc.Latch.Unlock()

	if vdesc.Dirty {
		if m.nvmEnabled() {
			if err := m.writeDownToNVM(vdesc); err != nil {
				return err
			}
		} else {
			if err := m.writeDownToSSD(vdesc); err != nil {
				return err
			}
		}
	}
	m.freeDRAMSlot(vdesc)
	if vdesc.NVMResident {
		vdesc.Tier = common.TierNVM
	} else {
		vdesc.Tier = common.TierSSD
	}
	return nil
}

// evictOneNVM mirrors evictOneDRAM's excluding guard for the NVM tier.
func (m *Manager) evictOneNVM(excluding common.PID) error {
	victim, ok := m.nvmClock.Victim(func(pid common.PID) bool {
		return pid == excluding || m.isPinned(pid)
	})
	if !ok {
		return errors.Wrap(status.ErrIOError, "no unpinned NVM victim available; caller should back off and retry")
	}
	vdesc, ok := m.table.lookup(victim)
	if !ok {
		return nil
	}
	vdesc.Latch.Lock()
	defer vdesc.Latch.Unlock()

	if vdesc.Dirty {
		if err := m.writeDownToSSD(vdesc); err != nil {
			return err
		}
	}
	vdesc.NVMResident = false
	m.detachMiniPage(vdesc)
	if vdesc.DRAM != nil {
		vdesc.Tier = common.TierDRAM
	} else {
		vdesc.Tier = common.TierSSD
	}
	return nil
}

// writeDownToNVM persists a dirty DRAM page into the NVM tier.
func (m *Manager) writeDownToNVM(desc *Descriptor) error {
	if !desc.NVMResident {
		if err := m.installNVM(desc); err != nil {
			return err
		}
	}
	copy(m.nvm.Bytes(desc.NVMOff, common.PageSize), desc.DRAM)
	if err := m.nvm.Persist(uintptr(desc.NVMOff), common.PageSize); err != nil {
		return err
	}
	desc.Dirty = false
	return nil
}

// writeDownToSSD persists a dirty page to SSD, going through the WAL first
// (spec.md §4.4 WAL interaction: "Before writing a dirty page to SSD, the
// buffer manager appends a PAGE_IMAGE record to the WAL and waits for that
// record to be persisted").
func (m *Manager) writeDownToSSD(desc *Descriptor) error {
	bytes := desc.DRAM
	if bytes == nil && desc.NVMResident {
		bytes = m.nvm.Bytes(desc.NVMOff, common.PageSize)
	}
	if bytes == nil {
		return errors.Wrap(status.ErrInvariantViolation, "dirty page has no resident copy to flush")
	}

	if _, err := m.w.AppendSync(wal.RecordPageImage, wal.PageImagePayload(desc.PID, desc.LSN, bytes)); err != nil {
		return err
	}
	if err := m.ssdMgr.Write(desc.PID, bytes); err != nil {
		return err
	}
	desc.Dirty = false
	return nil
}

// Flush writes any dirty in-memory copy of pid down to SSD, optionally
// evicting it from the buffer entirely (spec.md §4.4).
func (m *Manager) Flush(pid common.PID, sync bool, removeFromBuffer bool) error {
	desc, ok := m.table.lookup(pid)
	if !ok {
		return nil
	}
	desc.Latch.Lock()
	defer desc.Latch.Unlock()

	if desc.Dirty {
		if err := m.writeDownToSSD(desc); err != nil {
			return err
		}
	}
	if sync {
		if err := m.ssdAlloc.Persist(0, 0); err != nil {
			return err
		}
	}
	if removeFromBuffer {
		if desc.PinCount() > 0 {
			return errors.Wrap(status.ErrConflict, "cannot evict a pinned page")
		}
		m.freeDRAMSlot(desc)
		desc.NVMResident = false
		m.detachMiniPage(desc)
		desc.Tier = common.TierSSD
		m.dramClock.Remove(pid)
		m.nvmClock.Remove(pid)
		m.table.remove(pid)
	}
	return nil
}

// nextPageLSN hands out the next manager-wide page LSN, bumped whenever an
// accessor finishes a write (spec.md §4.4 Accessor.finish_access: "updates
// LSN if writes occurred").
func (m *Manager) nextPageLSN() uint64 {
	return atomic.AddUint64(&m.pageLSN, 1)
}
