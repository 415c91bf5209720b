package sched

import (
	"fmt"
	"math/bits"
	"strings"
)

// RBMask is a fixed-width bitmask over the cell's resource blocks. A set bit
// marks the block as used or reserved for the current subframe. Masks are
// reused across TTIs to keep the per-subframe path allocation free.
type RBMask struct {
	words []uint64
	n     int
}

// NewRBMask returns a mask covering n resource blocks, all clear.
func NewRBMask(n int) RBMask {
	return RBMask{words: make([]uint64, (n+63)/64), n: n}
}

// Len returns the number of resource blocks the mask covers.
func (m *RBMask) Len() int { return m.n }

// Set marks resource block i as used.
func (m *RBMask) Set(i int) {
	m.words[i/64] |= 1 << (uint(i) % 64)
}

// Test reports whether resource block i is used.
func (m *RBMask) Test(i int) bool {
	if i < 0 || i >= m.n {
		return false
	}
	return m.words[i/64]&(1<<(uint(i)%64)) != 0
}

// Fill marks the half-open range [lo, hi) as used.
func (m *RBMask) Fill(lo, hi int) {
	for i := lo; i < hi && i < m.n; i++ {
		m.Set(i)
	}
}

// FillAll marks every resource block as used.
func (m *RBMask) FillAll() { m.Fill(0, m.n) }

// Clear resets all bits.
func (m *RBMask) Clear() {
	for i := range m.words {
		m.words[i] = 0
	}
}

// Any reports whether any resource block is used.
func (m *RBMask) Any() bool {
	for _, w := range m.words {
		if w != 0 {
			return true
		}
	}
	return false
}

// Count returns the number of used resource blocks.
func (m *RBMask) Count() int {
	c := 0
	for _, w := range m.words {
		c += bits.OnesCount64(w)
	}
	return c
}

// Intersects reports whether any resource block is used in both masks.
func (m *RBMask) Intersects(other RBMask) bool {
	for i := range m.words {
		if i < len(other.words) && m.words[i]&other.words[i] != 0 {
			return true
		}
	}
	return false
}

// OrWith marks every block used in other as used in m.
func (m *RBMask) OrWith(other RBMask) {
	for i := range m.words {
		if i < len(other.words) {
			m.words[i] |= other.words[i]
		}
	}
}

// CopyFrom overwrites m with the contents of other. The two masks must cover
// the same number of resource blocks.
func (m *RBMask) CopyFrom(other RBMask) {
	copy(m.words, other.words)
}

// Hex renders the mask as a hex string, most significant word first. Used in
// collision log lines.
func (m *RBMask) Hex() string {
	var sb strings.Builder
	for i := len(m.words) - 1; i >= 0; i-- {
		fmt.Fprintf(&sb, "%016x", m.words[i])
	}
	return strings.TrimLeft(sb.String(), "0")
}
