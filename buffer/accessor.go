package buffer

import (
	"github.com/pkg/errors"

	"github.com/spitfiredb/spitfire/common"
	"github.com/spitfiredb/spitfire/status"
)

// Accessor is a scoped handle over a pinned, latched page (spec.md §4.4).
// It must be released via Manager.Put exactly once.
type Accessor struct {
	mgr  *Manager
	desc *Descriptor

	write bool
	mode  common.AccessMode

	wrote     bool
	released  bool

	// miniWriteOff/miniWriteLen track a pending mini-page-shadowed write so
	// FinishAccess can propagate it into the primary page (spec.md §9:
	// "mini-page writes also dirty the underlying NVM page").
	miniWritePending bool
	miniWriteOff     int
	miniWriteLen     int
}

// PID reports the page this accessor is bound to.
func (a *Accessor) PID() common.PID { return a.desc.PID }

// bytes returns the primary backing slice for the descriptor's resident
// tier: the DRAM slot, the NVM page, or an SSD-tier page's ephemeral
// buffer. It never returns the mini-page; PrepareForRead and
// PrepareForWrite check the mini-page themselves.
func (a *Accessor) bytes() ([]byte, error) {
	switch a.desc.Tier {
	case common.TierDRAM:
		if a.desc.DRAM == nil {
			return nil, errors.Wrap(status.ErrInvariantViolation, "DRAM tier page has no backing slice")
		}
		return a.desc.DRAM, nil
	case common.TierNVM:
		if !a.desc.NVMResident {
			return nil, errors.Wrap(status.ErrInvariantViolation, "NVM tier page is not resident")
		}
		return a.mgr.nvm.Bytes(a.desc.NVMOff, common.PageSize), nil
	default:
		if a.desc.DRAM != nil {
			return a.desc.DRAM, nil
		}
		return nil, errors.Wrap(status.ErrInvariantViolation, "SSD-only page missing its ephemeral buffer")
	}
}

// PrepareForRead returns a read-only view of [off, off+len), materializing
// from a mini-page or full page as needed.
func (a *Accessor) PrepareForRead(off, length int) ([]byte, error) {
	if a.desc.MiniPage != nil && off+length <= len(a.desc.MiniPage) {
		return a.desc.MiniPage[off : off+length], nil
	}
	b, err := a.bytes()
	if err != nil {
		return nil, err
	}
	if off < 0 || off+length > len(b) {
		return nil, errors.Wrap(status.ErrInvariantViolation, "read range out of bounds")
	}
	return b[off : off+length], nil
}

// PrepareForWrite returns a mutable view of [off, off+len). The range will
// be flagged dirty when FinishAccess runs.
func (a *Accessor) PrepareForWrite(off, length int) ([]byte, error) {
	if !a.write {
		return nil, errors.Wrap(status.ErrInvariantViolation, "PrepareForWrite on a read-mode accessor")
	}
	b, err := a.bytes()
	if err != nil {
		return nil, err
	}
	if off < 0 || off+length > len(b) {
		return nil, errors.Wrap(status.ErrInvariantViolation, "write range out of bounds")
	}
	a.wrote = true
	if a.desc.MiniPage != nil && off+length <= len(a.desc.MiniPage) {
		// The caller writes into the mini-page slot directly (that's the
		// point of the optimization: no full-page touch for the hot
		// subset). FinishAccess mirrors the written range back into the
		// primary copy so the mini-page never diverges from the page it
		// shadows (spec.md §9: "mini-page writes also dirty the underlying
		// NVM page").
		copy(a.desc.MiniPage[off:off+length], b[off:off+length])
		a.miniWritePending = true
		a.miniWriteOff = off
		a.miniWriteLen = length
		return a.desc.MiniPage[off : off+length], nil
	}
	return b[off : off+length], nil
}

// FinishAccess copies a pending mini-page write into the primary page, then
// sets the page's Dirty flag and bumps its LSN if any write occurred
// (spec.md §4.4 Accessor API).
func (a *Accessor) FinishAccess() error {
	if a.wrote {
		if a.miniWritePending {
			b, err := a.bytes()
			if err != nil {
				return err
			}
			off, end := a.miniWriteOff, a.miniWriteOff+a.miniWriteLen
			copy(b[off:end], a.desc.MiniPage[off:end])
			a.miniWritePending = false
		}
		a.desc.Dirty = true
		a.desc.LSN = a.mgr.nextPageLSN()
		a.wrote = false
	}
	return nil
}
