// Package emu provides in-process stand-ins for the scheduler's external
// collaborators: a user registry with HARQ-ack state, greedy allocation
// engines, and a periodic paging source. The simulator binary and the
// integration tests run the carrier pipeline against these.
package emu

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/macsched/sched"
)

// ULHarq is a minimal uplink HARQ process carrying one pending ACK/NACK.
type ULHarq struct {
	mu      sync.Mutex
	pending bool
	ack     bool
}

// SetPendingAck arms the process with a pending acknowledgment value.
func (h *ULHarq) SetPendingAck(ack bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = true
	h.ack = ack
}

// ClearPendingAck disarms the process.
func (h *ULHarq) ClearPendingAck() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = false
}

// HasPendingAck implements sched.ULHarqProc.
func (h *ULHarq) HasPendingAck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pending
}

// PendingAck implements sched.ULHarqProc.
func (h *ULHarq) PendingAck() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ack
}

// UE is one emulated terminal context.
type UE struct {
	rnti     uint16
	carriers map[uint32]uint32
	harq     ULHarq

	mu          sync.Mutex
	finishedTTI uint32
	finished    bool
}

// Harq exposes the UE's uplink HARQ process for test setup.
func (u *UE) Harq() *ULHarq { return &u.harq }

// CellIndex implements sched.User.
func (u *UE) CellIndex(ccIdx uint32) (uint32, bool) {
	idx, ok := u.carriers[ccIdx]
	return idx, ok
}

// ULHarq implements sched.User.
func (u *UE) ULHarq(ttiRx, cellIdx uint32) sched.ULHarqProc { return &u.harq }

// FinishTTI implements sched.User.
func (u *UE) FinishTTI(ttiRx, ccIdx uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finishedTTI = ttiRx
	u.finished = true
}

// LastFinishedTTI returns the most recent TTI the scheduler finalized for
// this UE.
func (u *UE) LastFinishedTTI() (uint32, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.finishedTTI, u.finished
}

// UserDB is an in-memory user registry keyed by RNTI.
type UserDB struct {
	mu  sync.RWMutex
	ues map[uint16]*UE
}

// NewUserDB returns an empty registry.
func NewUserDB() *UserDB {
	return &UserDB{ues: make(map[uint16]*UE)}
}

// Add creates a UE attached to the given carrier and returns it.
func (db *UserDB) Add(rnti uint16, ccIdx, cellIdx uint32) *UE {
	db.mu.Lock()
	defer db.mu.Unlock()
	ue := &UE{rnti: rnti, carriers: map[uint32]uint32{ccIdx: cellIdx}}
	db.ues[rnti] = ue
	return ue
}

// Remove deletes a UE.
func (db *UserDB) Remove(rnti uint16) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.ues, rnti)
}

// Find implements sched.UserRegistry.
func (db *UserDB) Find(rnti uint16) (sched.User, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ue, ok := db.ues[rnti]
	if !ok {
		return nil, false
	}
	return ue, true
}

// ForEach implements sched.UserRegistry. Iteration is in ascending RNTI
// order so scheduling runs are reproducible.
func (db *UserDB) ForEach(fn func(rnti uint16, u sched.User)) {
	db.mu.RLock()
	rntis := make([]uint16, 0, len(db.ues))
	for rnti := range db.ues {
		rntis = append(rntis, rnti)
	}
	sort.Slice(rntis, func(i, j int) bool { return rntis[i] < rntis[j] })
	ues := make([]*UE, len(rntis))
	for i, rnti := range rntis {
		ues[i] = db.ues[rnti]
	}
	db.mu.RUnlock()

	for i, rnti := range rntis {
		fn(rnti, ues[i])
	}
}

// PagingEvery is a paging source reporting an opportunity with a fixed
// payload every period TTIs.
type PagingEvery struct {
	Period  uint32
	Payload uint32
}

// IsPagingOpportunity implements sched.PagingSource.
func (p PagingEvery) IsPagingOpportunity(tti uint32) (bool, uint32) {
	if p.Period == 0 || tti%p.Period != 0 {
		return false, 0
	}
	return true, p.Payload
}
