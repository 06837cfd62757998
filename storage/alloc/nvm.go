package alloc

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spitfiredb/spitfire/status"
)

var nvmLog = logrus.WithField("component", "nvm-alloc")

// Layout of the NVM-backed heap directory (spec.md §6):
//   <dir>/chunks   — the memory-mapped chunk region itself.
//   <dir>/activity — the fixed-size circular activation/free log.
// Named root objects live in a small table at the head of the chunk region,
// grounded on nvm-malloc's nvm_reserve_id/nvm_get_id object table
// (misc/nvm-malloc/src/object_table.c).

const (
	chunkSize        = 2 * 1024 * 1024 // 2 MiB arena chunk, matches nvm-malloc's coarse-grained arenas
	rootTableSlots   = 64
	rootNameMaxBytes = 56
	rootEntrySize    = rootNameMaxBytes + 8 // name + offset
	rootTableBytes   = 8 + rootTableSlots*rootEntrySize

	activityLogEntries = 4096
	activityEntrySize  = 1 + 8 + 8 // kind byte + offset + size
	activityLogBytes   = 8 + activityLogEntries*activityEntrySize
)

const (
	activityActivate byte = 1
	activityFree     byte = 2
)

// NVMAllocator is the crash-safe allocator of spec.md §4.2: allocations are
// grouped into chunks, Persist issues a cache-line-writeback-equivalent
// flush, and named root allocations survive restart via an on-disk table.
// Since Go gives no portable cache-line-writeback/SFENCE intrinsics, Persist
// is implemented as an mmap range Flush — the closest durability primitive
// the ecosystem exposes (see DESIGN.md).
type NVMAllocator struct {
	mu sync.Mutex

	chunkFile *os.File
	chunks    mmap.MMap

	actFile *os.File
	act     mmap.MMap

	size      int64 // current mapped size of the chunk region
	bumpFront int64 // next free byte offset (reserved, possibly uncommitted)
	commitEnd int64 // committed (activated) frontier

	actCursor uint32
	roots     map[string]int64
}

// OpenNVMAllocator opens (or creates) the chunk region and activation log
// under dir and replays the activation log to recover the committed
// frontier and root-object table (spec.md §4.2 "On restart, replays a
// fixed-size circular log of in-progress activations/frees").
func OpenNVMAllocator(dir string, initialChunks int) (*NVMAllocator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(status.ErrIOError, err.Error())
	}
	a := &NVMAllocator{roots: make(map[string]int64)}

	chunkPath := filepath.Join(dir, "chunks")
	cf, err := os.OpenFile(chunkPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(status.ErrIOError, err.Error())
	}
	a.chunkFile = cf

	minSize := int64(rootTableBytes) + int64(initialChunks)*chunkSize
	if err := growFile(cf, minSize); err != nil {
		return nil, err
	}
	cm, err := mmap.Map(cf, mmap.RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(status.ErrIOError, err.Error())
	}
	a.chunks = cm
	a.size = int64(len(cm))

	actPath := filepath.Join(dir, "activity")
	af, err := os.OpenFile(actPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(status.ErrIOError, err.Error())
	}
	a.actFile = af
	if err := growFile(af, activityLogBytes); err != nil {
		return nil, err
	}
	am, err := mmap.Map(af, mmap.RDWR, 0)
	if err != nil {
		return nil, errors.Wrap(status.ErrIOError, err.Error())
	}
	a.act = am

	a.bumpFront = rootTableBytes
	a.commitEnd = rootTableBytes
	a.loadRootTable()
	a.replayActivityLog()

	nvmLog.WithField("committed", a.commitEnd).Info("nvm allocator recovered")
	return a, nil
}

func growFile(f *os.File, size int64) error {
	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	if info.Size() >= size {
		return nil
	}
	if err := f.Truncate(size); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	return nil
}

func (a *NVMAllocator) loadRootTable() {
	count := binary.LittleEndian.Uint64(a.chunks[0:8])
	off := int64(8)
	for i := uint64(0); i < count && i < rootTableSlots; i++ {
		nameBuf := a.chunks[off : off+rootNameMaxBytes]
		name := trimZero(nameBuf)
		offset := int64(binary.LittleEndian.Uint64(a.chunks[off+rootNameMaxBytes : off+rootEntrySize]))
		if name != "" {
			a.roots[name] = offset
		}
		off += rootEntrySize
	}
}

func trimZero(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

func (a *NVMAllocator) replayActivityLog() {
	count := binary.LittleEndian.Uint64(a.act[0:8])
	off := int64(8)
	var maxCommitted int64
	for i := uint64(0); i < count && i < activityLogEntries; i++ {
		kind := a.act[off]
		offset := int64(binary.LittleEndian.Uint64(a.act[off+1 : off+9]))
		size := int64(binary.LittleEndian.Uint64(a.act[off+9 : off+17]))
		if kind == activityActivate {
			if end := offset + size; end > maxCommitted {
				maxCommitted = end
			}
		}
		off += activityEntrySize
		a.actCursor = uint32((i + 1) % activityLogEntries)
	}
	if maxCommitted > a.commitEnd {
		a.commitEnd = maxCommitted
	}
	a.bumpFront = a.commitEnd
}

// Alloc implements Allocator.Alloc: reserve n_bytes (nvm_reserve) and
// immediately activate them (nvm_activate) — the two-phase reserve/activate
// split from nvm-malloc collapses here because Spitfire's callers always
// activate synchronously; Reserve is exposed separately for callers that
// need the crash-safety window.
func (a *NVMAllocator) Alloc(size int) (uintptr, error) {
	off, err := a.Reserve(size)
	if err != nil {
		return 0, err
	}
	if err := a.Activate(off, size); err != nil {
		return 0, err
	}
	return uintptr(off), nil
}

// Reserve bumps the frontier and returns an offset whose contents are not
// yet guaranteed to survive a crash until Activate is called on it.
func (a *NVMAllocator) Reserve(size int) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	need := a.bumpFront + int64(size)
	if need > a.size {
		if err := a.grow(need); err != nil {
			return 0, err
		}
	}
	off := a.bumpFront
	a.bumpFront += int64(size)
	return off, nil
}

func (a *NVMAllocator) grow(need int64) error {
	newChunks := (need-a.size)/chunkSize + 1
	newSize := a.size + newChunks*chunkSize
	if err := a.chunks.Unmap(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	if err := growFile(a.chunkFile, newSize); err != nil {
		return err
	}
	cm, err := mmap.Map(a.chunkFile, mmap.RDWR, 0)
	if err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	a.chunks = cm
	a.size = newSize
	return nil
}

// Activate durably commits a previously Reserve'd region, appending a
// record to the circular activation log and flushing it.
func (a *NVMAllocator) Activate(offset int64, size int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.appendActivity(activityActivate, offset, size)
	if offset+int64(size) > a.commitEnd {
		a.commitEnd = offset + int64(size)
	}
	return a.flushActivity()
}

// ReserveNamed allocates n_bytes and records id in the root-object table,
// so it can be found again after restart via GetNamed (nvm_reserve_id /
// nvm_get_id).
func (a *NVMAllocator) ReserveNamed(id string, size int) (int64, error) {
	off, err := a.Reserve(size)
	if err != nil {
		return 0, err
	}
	if err := a.Activate(off, size); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(id) > rootNameMaxBytes {
		return 0, errors.Wrap(status.ErrInvariantViolation, "root id too long")
	}
	a.roots[id] = off
	a.persistRootTable()
	return off, nil
}

// GetNamed looks up a previously named root allocation.
func (a *NVMAllocator) GetNamed(id string) (int64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	off, ok := a.roots[id]
	return off, ok
}

func (a *NVMAllocator) persistRootTable() {
	binary.LittleEndian.PutUint64(a.chunks[0:8], uint64(len(a.roots)))
	off := int64(8)
	for name, offset := range a.roots {
		nameBuf := make([]byte, rootNameMaxBytes)
		copy(nameBuf, name)
		copy(a.chunks[off:off+rootNameMaxBytes], nameBuf)
		binary.LittleEndian.PutUint64(a.chunks[off+rootNameMaxBytes:off+rootEntrySize], uint64(offset))
		off += rootEntrySize
	}
	_ = a.chunks.Flush()
}

func (a *NVMAllocator) appendActivity(kind byte, offset int64, size int) {
	base := int64(8) + int64(a.actCursor)*activityEntrySize
	a.act[base] = kind
	binary.LittleEndian.PutUint64(a.act[base+1:base+9], uint64(offset))
	binary.LittleEndian.PutUint64(a.act[base+9:base+17], uint64(size))
	a.actCursor = (a.actCursor + 1) % activityLogEntries
	count := binary.LittleEndian.Uint64(a.act[0:8])
	if count < activityLogEntries {
		binary.LittleEndian.PutUint64(a.act[0:8], count+1)
	}
}

func (a *NVMAllocator) flushActivity() error {
	if err := a.act.Flush(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	return nil
}

// Free records a free in the activation log. Spitfire's NVM tier does not
// compact or reuse freed space (spec.md Non-goals: "checkpoint compaction");
// this exists for contract symmetry with the other allocators.
func (a *NVMAllocator) Free(addr uintptr) error {
	a.mu.Lock()
	a.appendActivity(activityFree, int64(addr), 0)
	err := a.flushActivity()
	a.mu.Unlock()
	return err
}

// Persist issues the NVM durability barrier by flushing the whole chunk
// mapping so writes survive a crash (spec.md §4.2: "issues cache-line
// writebacks followed by a store fence"). addr and size do not narrow the
// flush.
func (a *NVMAllocator) Persist(addr uintptr, size int) error {
	if err := a.chunks.Flush(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	return nil
}

// Bytes returns the live mapped slice for [offset, offset+size).
func (a *NVMAllocator) Bytes(offset int64, size int) []byte {
	return a.chunks[offset : offset+int64(size)]
}

// Close unmaps and closes the backing files.
func (a *NVMAllocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.chunks.Unmap(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	if err := a.chunkFile.Close(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	if err := a.act.Unmap(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	return a.actFile.Close()
}
