// Package common holds the identifiers and small value types shared by
// every tier of Spitfire's storage engine (spec.md §3).
package common

import "fmt"

// PID is a stable, monotonically assigned page identifier. It is never
// reused within a database's lifetime.
type PID uint64

// InvalidPID is the sentinel for "no page".
const InvalidPID PID = 0

// PageSize is the default fixed page size (spec.md §3).
const PageSize = 16 * 1024

// MiniPageSize bounds the hot-subset cache a mini-page may keep in DRAM.
const MiniPageSize = 1024

// Tier is one of the three storage tiers a page can reside on.
type Tier int

const (
	TierDRAM Tier = iota
	TierNVM
	TierSSD
)

func (t Tier) String() string {
	switch t {
	case TierDRAM:
		return "DRAM"
	case TierNVM:
		return "NVM"
	case TierSSD:
		return "SSD"
	default:
		return "UNKNOWN_TIER"
	}
}

// BPMode mirrors the benchmark driver's bp_mode flag (spec.md §6): it picks
// which tiers are active in a given deployment.
type BPMode int

const (
	// BPModeDRAMDRAMSSD keeps NVM disabled. No second DRAM tier stands in
	// for NVM: only the one DRAM tier and SSD are active, as in BPModeDRAMSSD.
	BPModeDRAMDRAMSSD BPMode = iota
	// BPModeDRAMNVMSSD is the full three-tier configuration.
	BPModeDRAMNVMSSD
	// BPModeDRAMSSD skips NVM entirely.
	BPModeDRAMSSD
	// BPModeNVMSSD skips DRAM entirely.
	BPModeNVMSSD
)

// TuplePointer addresses a record within a page: {pid, off}.
type TuplePointer struct {
	PID PID
	Off uint16
}

// Invalid reports whether this is the zero-value, non-addressing pointer.
func (tp TuplePointer) Invalid() bool {
	return tp.PID == InvalidPID
}

func (tp TuplePointer) String() string {
	return fmt.Sprintf("TuplePointer{pid=%d,off=%d}", tp.PID, tp.Off)
}

// AccessMode is the intent a caller declares when fetching a page from the
// buffer manager (spec.md §4.4).
type AccessMode int

const (
	IntentReadPartial AccessMode = iota
	IntentReadFull
	IntentWritePartial
	IntentWriteFull
)

// IsWrite reports whether the mode requires an exclusive page latch.
func (m AccessMode) IsWrite() bool {
	return m == IntentWritePartial || m == IntentWriteFull
}

// InitialTxnID is the sentinel transaction id used during initialization,
// distinct from "unowned" (0) and from any real transaction id.
const InitialTxnID uint64 = ^uint64(0)
