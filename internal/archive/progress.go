// Offsite - Live Server Snapshot and Remote Transfer
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/offsite

package archive

import "sync/atomic"

// Progress tracks total and processed file counts in a single atomic word
// (total in the high 32 bits, processed in the low 32 bits), so a reader
// always sees a consistent pair with processed <= total.
type Progress struct {
	word atomic.Uint64
}

func pack(total, processed uint32) uint64 {
	return uint64(total)<<32 | uint64(processed)
}

func unpack(w uint64) (total, processed uint32) {
	return uint32(w >> 32), uint32(w)
}

// Reset sets the total and clears the processed count.
func (p *Progress) Reset(total int) {
	p.word.Store(pack(clampCount(total), 0))
}

// Inc records one more processed file. If the tree grew since it was
// counted, the total is raised along with it.
func (p *Progress) Inc() {
	for {
		old := p.word.Load()
		total, processed := unpack(old)
		if processed == ^uint32(0) {
			return
		}
		processed++
		total = max(total, processed)
		if p.word.CompareAndSwap(old, pack(total, processed)) {
			return
		}
	}
}

// Snapshot returns a consistent (total, processed) pair.
func (p *Progress) Snapshot() (total, processed int) {
	t, n := unpack(p.word.Load())
	return int(t), int(n)
}

func clampCount(n int) uint32 {
	switch {
	case n < 0:
		return 0
	case uint64(n) > uint64(^uint32(0)):
		return ^uint32(0)
	default:
		return uint32(n)
	}
}
