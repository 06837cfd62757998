// Package wal implements the write-ahead log of spec.md §4.4/§6: an
// append-only redo log for buffer-manager page writes and transaction
// commit records, with a synchronous flush on commit.
package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/status"
)

var log = logrus.WithField("component", "wal")

// RecordType distinguishes WAL payload kinds.
type RecordType uint8

const (
	RecordPageImage RecordType = iota + 1
	RecordCommit
)

// Record is one WAL entry: spec.md §6 layout
// {u32 length, u8 type, u64 lsn, payload, u32 crc}.
type Record struct {
	Type    RecordType
	LSN     uint64
	Payload []byte
}

// PageImagePayload returns a {pid, lsn, bytes} payload for a PAGE_IMAGE
// record (spec.md §4.4).
func PageImagePayload(pid common.PID, lsn uint64, bytes []byte) []byte {
	buf := make([]byte, 8+8+len(bytes))
	binary.LittleEndian.PutUint64(buf[0:8], uint64(pid))
	binary.LittleEndian.PutUint64(buf[8:16], lsn)
	copy(buf[16:], bytes)
	return buf
}

// CommitPayload returns a {tid, commit_ts} payload for a COMMIT record
// (spec.md §4.6).
func CommitPayload(tid, commitTS uint64) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], tid)
	binary.LittleEndian.PutUint64(buf[8:16], commitTS)
	return buf
}

// WAL is an append-only sequential log file. LSNs are assigned by a single
// atomic counter and increase strictly per append (spec.md §8 invariant:
// "WAL monotonicity").
type WAL struct {
	mu     sync.Mutex
	f      *os.File
	nextLSN uint64
}

// Open opens (creating if necessary) the WAL file at path, appending to any
// existing content.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(status.ErrIOError, "open wal %s: %v", path, err)
	}
	w := &WAL{f: f}
	if lsn, err := w.recoverNextLSN(); err != nil {
		return nil, err
	} else {
		w.nextLSN = lsn
	}
	return w, nil
}

// recoverNextLSN scans the existing file once to find the highest LSN
// written, so a reopened WAL continues the sequence rather than resetting
// it (spec.md §8 scenario 6: recovery must not regress monotonic counters).
func (w *WAL) recoverNextLSN() (uint64, error) {
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return 0, errors.Wrap(status.ErrIOError, err.Error())
	}
	var maxLSN uint64
	for {
		rec, err := readRecord(w.f)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Truncated tail record from a crash mid-append: stop here,
			// the last complete record stands.
			break
		}
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
	}
	if _, err := w.f.Seek(0, io.SeekEnd); err != nil {
		return 0, errors.Wrap(status.ErrIOError, err.Error())
	}
	return maxLSN + 1, nil
}

// Append writes rec (assigning it a fresh, strictly-increasing LSN) and
// returns the assigned LSN. It does not itself fsync; call Sync (or use
// AppendSync) when durability must be guaranteed before proceeding.
func (w *WAL) Append(typ RecordType, payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	lsn := atomic.AddUint64(&w.nextLSN, 1) - 1
	buf := encodeRecord(Record{Type: typ, LSN: lsn, Payload: payload})
	if _, err := w.f.Write(buf); err != nil {
		return 0, errors.Wrap(status.ErrIOError, err.Error())
	}
	return lsn, nil
}

// AppendSync appends rec and blocks until it is durable — the buffer
// manager's PAGE_IMAGE path and MVTO's COMMIT path both require this
// (spec.md §4.4, §4.6).
func (w *WAL) AppendSync(typ RecordType, payload []byte) (uint64, error) {
	lsn, err := w.Append(typ, payload)
	if err != nil {
		return 0, err
	}
	if err := w.Sync(); err != nil {
		return 0, err
	}
	return lsn, nil
}

// Sync fsyncs the WAL file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil {
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	return nil
}

// Close syncs and closes the WAL file.
func (w *WAL) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	return w.f.Close()
}

func encodeRecord(r Record) []byte {
	length := uint32(1 + 8 + len(r.Payload))
	buf := make([]byte, 4+length+4)
	binary.LittleEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(r.Type)
	binary.LittleEndian.PutUint64(buf[5:13], r.LSN)
	copy(buf[13:13+len(r.Payload)], r.Payload)
	crc := crc32.ChecksumIEEE(buf[4 : 13+len(r.Payload)])
	binary.LittleEndian.PutUint32(buf[13+len(r.Payload):], crc)
	return buf
}

func readRecord(r io.Reader) (Record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Record{}, err
	}
	length := binary.LittleEndian.Uint32(lenBuf[:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}
	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return Record{}, io.ErrUnexpectedEOF
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])
	gotCRC := crc32.ChecksumIEEE(body)
	if wantCRC != gotCRC {
		return Record{}, errors.Wrap(status.ErrIOError, "wal crc mismatch")
	}
	typ := RecordType(body[0])
	lsn := binary.LittleEndian.Uint64(body[1:9])
	payload := body[9:]
	return Record{Type: typ, LSN: lsn, Payload: payload}, nil
}

// Replay reads every complete record in the WAL from the beginning,
// invoking fn for each in LSN order. A truncated final record (a torn
// write from a crash mid-append) is silently dropped.
func Replay(path string, fn func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(status.ErrIOError, err.Error())
	}
	defer f.Close()

	for {
		rec, err := readRecord(f)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			log.WithError(err).Warn("wal replay stopped at corrupt record")
			return nil
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
