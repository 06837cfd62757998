package buffer

import "math/rand"

// MigrationPolicy holds the four probabilities of spec.md §4.4 governing
// whether a tier miss buffers the page one tier higher.
type MigrationPolicy struct {
	// Dr is the probability of buffering in DRAM on a read that missed DRAM.
	Dr float64
	// Dw is the probability of buffering in DRAM on a write that missed DRAM.
	Dw float64
	// Nr is the probability of buffering in NVM on a read that missed NVM.
	Nr float64
	// Nw is the probability of buffering in NVM on a write that missed NVM.
	Nw float64
}

// DefaultMigrationPolicy always buffers into every tier it touches,
// matching the historical default of "buffer everywhere you can".
func DefaultMigrationPolicy() MigrationPolicy {
	return MigrationPolicy{Dr: 1, Dw: 1, Nr: 1, Nw: 1}
}

func (p MigrationPolicy) dramProbability(write bool) float64 {
	if write {
		return p.Dw
	}
	return p.Dr
}

func (p MigrationPolicy) nvmProbability(write bool) float64 {
	if write {
		return p.Nw
	}
	return p.Nr
}

// draw returns true with probability p, per spec.md §4.4: "On each miss,
// draw an independent uniform random value." Probability 0 always misses
// (tier disabled for admission); probability 1 always hits (spec.md §8
// Boundaries).
func draw(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return rand.Float64() < p
}
