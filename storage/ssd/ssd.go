// Package ssd implements the SSD page manager (spec.md §4.1): append-only,
// fixed-size page allocation over a single backing file, with optional
// direct I/O.
package ssd

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/dsnet/golib/memfile"
	"github.com/ncw/directio"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/status"
)

var log = logrus.WithField("component", "ssd")

// blockFile is the subset of *os.File / *memfile.File the page manager
// needs. Tests back it with an in-memory file (github.com/dsnet/golib/memfile)
// so the page manager is exercised without touching a real disk.
type blockFile interface {
	io.ReaderAt
	io.WriterAt
	Sync() error
	Close() error
}

// metaPage is PID=0: the next-PID counter, free-list head, and last-seen
// transaction snapshot, persisted so a restart can resume numbering and
// timestamps strictly past what was used before the crash (spec.md §6
// "page 0 ... holds ... the TID/CID snapshot").
type metaPage struct {
	NextPID      common.PID
	FreeListHead common.PID
	LastTID      uint64
	LastCID      uint64
}

// metaPageMagicSize is the minimum byte count loadOrInitMeta requires
// before trusting an existing meta page over treating the file as fresh.
const metaPageMagicSize = 8

// Manager allocates fixed-size pages in a backing file and assigns stable
// PIDs. A PID is reused only after it has been returned with Free.
type Manager struct {
	mu        sync.Mutex
	f         blockFile
	pageSize  int
	directIO  bool
	meta      metaPage
	osFile    *os.File // non-nil only when opened with direct I/O, for Close
}

// Option configures a new Manager.
type Option func(*Manager)

// WithPageSize overrides the default 16 KiB page size.
func WithPageSize(n int) Option {
	return func(m *Manager) { m.pageSize = n }
}

// WithDirectIO requests O_DIRECT access to the backing file. Only effective
// when Open is given a real path (not WithBackingFile).
func WithDirectIO() Option {
	return func(m *Manager) { m.directIO = true }
}

// WithBackingFile injects an already-open blockFile (used by tests to run
// against an in-memory memfile.File instead of the real filesystem).
func WithBackingFile(f blockFile) Option {
	return func(m *Manager) { m.f = f }
}

// Open opens or creates the page file at path and loads (or initializes)
// its metadata page.
func Open(path string, opts ...Option) (*Manager, error) {
	m := &Manager{pageSize: common.PageSize}
	for _, o := range opts {
		o(m)
	}

	if m.f == nil {
		if m.directIO {
			f, err := directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
			if err != nil {
				return nil, errors.Wrapf(status.ErrIOError, "directio open %s: %v", path, err)
			}
			m.osFile = f
			m.f = f
		} else {
			f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
			if err != nil {
				return nil, errors.Wrapf(status.ErrIOError, "open %s: %v", path, err)
			}
			m.osFile = f
			m.f = f
		}
	}

	if err := m.loadOrInitMeta(); err != nil {
		return nil, err
	}
	return m, nil
}

// OpenMemory opens an in-memory-only page manager backed by memfile, for
// tests.
func OpenMemory(opts ...Option) (*Manager, error) {
	mf := memfile.New(nil)
	opts = append([]Option{WithBackingFile(mf)}, opts...)
	m := &Manager{pageSize: common.PageSize}
	for _, o := range opts {
		o(m)
	}
	if err := m.loadOrInitMeta(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) loadOrInitMeta() error {
	buf := make([]byte, m.pageSize)
	n, err := m.f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return errors.Wrapf(status.ErrIOError, "read meta page: %v", err)
	}
	if n < metaPageMagicSize {
		// fresh file: page 0 reserved for meta, first real page is PID 1.
		m.meta = metaPage{NextPID: 1, FreeListHead: common.InvalidPID}
		return m.persistMeta()
	}
	m.meta.NextPID = common.PID(binary.LittleEndian.Uint64(buf[0:8]))
	m.meta.FreeListHead = common.PID(binary.LittleEndian.Uint64(buf[8:16]))
	m.meta.LastTID = binary.LittleEndian.Uint64(buf[16:24])
	m.meta.LastCID = binary.LittleEndian.Uint64(buf[24:32])
	return nil
}

func (m *Manager) persistMeta() error {
	buf := make([]byte, m.pageSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.meta.NextPID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(m.meta.FreeListHead))
	binary.LittleEndian.PutUint64(buf[16:24], m.meta.LastTID)
	binary.LittleEndian.PutUint64(buf[24:32], m.meta.LastCID)
	if _, err := m.f.WriteAt(buf, 0); err != nil {
		return errors.Wrapf(status.ErrIOError, "write meta page: %v", err)
	}
	return m.f.Sync()
}

// Allocate returns the most recently freed PID if the free list is not
// empty; otherwise it extends the file by one page and returns a fresh PID.
func (m *Manager) Allocate() (common.PID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.meta.FreeListHead != common.InvalidPID {
		pid := m.meta.FreeListHead
		buf := make([]byte, 8)
		if _, err := m.f.ReadAt(buf, int64(pid)*int64(m.pageSize)); err != nil {
			return common.InvalidPID, errors.Wrapf(status.ErrIOError, "read free-list link: %v", err)
		}
		m.meta.FreeListHead = common.PID(binary.LittleEndian.Uint64(buf))
		if err := m.persistMeta(); err != nil {
			return common.InvalidPID, err
		}
		return pid, nil
	}

	pid := m.meta.NextPID
	m.meta.NextPID++
	if err := m.persistMeta(); err != nil {
		return common.InvalidPID, err
	}
	log.WithField("pid", pid).Debug("allocated page")
	return pid, nil
}

// Read performs a positioned read of the page identified by pid into buf.
// buf must be at least PageSize bytes.
func (m *Manager) Read(pid common.PID, buf []byte) error {
	if m.directIO && len(buf) < directio.BlockSize {
		return errors.Wrap(status.ErrIOError, "direct io buffer too small")
	}
	off := int64(pid) * int64(m.pageSize)
	n, err := m.f.ReadAt(buf[:m.pageSize], off)
	if err != nil && !(err == io.EOF && n == m.pageSize) {
		return errors.Wrapf(status.ErrIOError, "read pid=%d: %v", pid, err)
	}
	return nil
}

// Write performs a positioned write of buf to the page identified by pid.
func (m *Manager) Write(pid common.PID, buf []byte) error {
	off := int64(pid) * int64(m.pageSize)
	if _, err := m.f.WriteAt(buf[:m.pageSize], off); err != nil {
		return errors.Wrapf(status.ErrIOError, "write pid=%d: %v", pid, err)
	}
	return nil
}

// Sync flushes the backing file to stable storage.
func (m *Manager) Sync() error {
	if err := m.f.Sync(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	return nil
}

// Free returns pid to the free list for reuse. Spitfire's SSD tier is
// append-only in normal operation (spec.md §3); this exists for the
// allocator's symmetry and is only used by explicit table-drop style paths,
// none of which the core spec requires to be wired up yet.
func (m *Manager) Free(pid common.PID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, m.pageSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(m.meta.FreeListHead))
	if _, err := m.f.WriteAt(buf, int64(pid)*int64(m.pageSize)); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	m.meta.FreeListHead = pid
	return m.persistMeta()
}

// TxnSnapshot returns the last TID/CID persisted via PersistTxnSnapshot (or
// zero values on a fresh database), used to resume transaction numbering
// strictly past whatever ran before a restart (spec.md §8 scenario 6).
func (m *Manager) TxnSnapshot() (tid, cid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.LastTID, m.meta.LastCID
}

// PersistTxnSnapshot durably records the highest TID/CID handed out so far
// into the meta page (spec.md §6 "the TID/CID snapshot").
func (m *Manager) PersistTxnSnapshot(tid, cid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.LastTID = tid
	m.meta.LastCID = cid
	return m.persistMeta()
}

// NextPID reports the PID that would be handed out by the next Allocate
// call that doesn't reuse a freed page. The TID/CID snapshot is read with
// TxnSnapshot, not through this counter.
func (m *Manager) NextPID() common.PID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.NextPID
}

// Close flushes and releases the backing file.
func (m *Manager) Close() error {
	if err := m.f.Sync(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	return m.f.Close()
}

// PageSize reports the fixed page size this manager was opened with.
func (m *Manager) PageSize() int { return m.pageSize }
