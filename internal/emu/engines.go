package emu

import (
	"github.com/signalsfoundry/macsched/sched"
)

// msg3PRBLen is the uplink allocation length the DL engine grants each Msg3.
const msg3PRBLen = 2

// DLEngine is a greedy downlink allocation engine. RAR grants consume
// consecutive PRBs from the low end of the downlink mask; user data fills
// whatever remains.
type DLEngine struct {
	// NofPRB mirrors the cell bandwidth the engine packs against.
	NofPRB uint32
	// RARCapacity caps how many grants one AllocRAR call may place; zero
	// means unlimited.
	RARCapacity int
	// ForceOutcome, when not AllocSuccess, is returned verbatim by AllocRAR.
	ForceOutcome sched.AllocOutcome
}

// AllocRAR implements sched.DLEngine.
func (e *DLEngine) AllocRAR(aggrLevel uint32, rar *sched.PendingRAR, sf *sched.SubframeContext) (sched.AllocOutcome, int) {
	if e.ForceOutcome != sched.AllocSuccess {
		return e.ForceOutcome, 0
	}

	placed := rar.NofGrants
	if e.RARCapacity > 0 && placed > e.RARCapacity {
		placed = e.RARCapacity
	}
	if placed == 0 {
		return sched.AllocSuccess, 0
	}

	// Msg3 grants start past the band-edge PUCCH region and the PRACH
	// frequency range so the decoded uplink allocations stay collision free.
	const msg3Base = 8

	res := sched.RARResult{RARNTI: rar.RARNTI, AggrLevel: aggrLevel}
	for i := 0; i < placed; i++ {
		start := uint32(msg3Base + i*msg3PRBLen)
		if start+msg3PRBLen > e.NofPRB {
			return sched.AllocRBCollision, 0
		}
		res.Grants = append(res.Grants, sched.RARGrant{
			Data:     rar.Grants[i],
			RBA:      sched.RIVFromType2(msg3PRBLen, start, e.NofPRB),
			TruncMCS: 0,
		})
	}
	sf.DLResult.RARs = append(sf.DLResult.RARs, res)
	sf.DLMask().Fill(msg3Base, msg3Base+placed*msg3PRBLen)
	return sched.AllocSuccess, placed
}

// SchedUsers implements sched.DLEngine. Every user on the carrier gets one
// fixed-size allocation while free PRBs remain.
func (e *DLEngine) SchedUsers(users sched.UserRegistry, sf *sched.SubframeContext) {
	next := 0
	for next < sf.DLMask().Len() && sf.DLMask().Test(next) {
		next++
	}
	users.ForEach(func(rnti uint16, u sched.User) {
		if next+msg3PRBLen > sf.DLMask().Len() {
			return
		}
		sf.DLResult.Data = append(sf.DLResult.Data, sched.DataAlloc{
			RNTI:    rnti,
			RBStart: uint32(next),
			NofRB:   msg3PRBLen,
		})
		sf.DLMask().Fill(next, next+msg3PRBLen)
		next += msg3PRBLen
	})
}

// ULEngine is the uplink counterpart: Msg3 allocations land at their decoded
// position, user data fills remaining blocks.
type ULEngine struct {
	// FailMsg3 makes every AllocUL call report failure for testing the
	// drop path.
	FailMsg3 bool
}

// AllocUL implements sched.ULEngine.
func (e *ULEngine) AllocUL(u sched.User, alloc sched.ULAlloc, kind sched.ULAllocKind, mcs uint32, sf *sched.SubframeContext) bool {
	if e.FailMsg3 && kind == sched.ULAllocMsg3 {
		return false
	}
	lo := int(alloc.RBStart)
	hi := lo + int(alloc.NofRB)
	for i := lo; i < hi; i++ {
		if sf.ULMask().Test(i) {
			return false
		}
	}
	sf.ULMask().Fill(lo, hi)
	sf.ULResult.Data = append(sf.ULResult.Data, sched.DataAlloc{
		RBStart: alloc.RBStart,
		NofRB:   alloc.NofRB,
		MCS:     mcs,
	})
	return true
}

// SchedUsers implements sched.ULEngine.
func (e *ULEngine) SchedUsers(users sched.UserRegistry, sf *sched.SubframeContext) {
	next := 0
	users.ForEach(func(rnti uint16, u sched.User) {
		for next < sf.ULMask().Len() && sf.ULMask().Test(next) {
			next++
		}
		if next+msg3PRBLen > sf.ULMask().Len() {
			return
		}
		sf.ULResult.Data = append(sf.ULResult.Data, sched.DataAlloc{
			RNTI:    rnti,
			RBStart: uint32(next),
			NofRB:   msg3PRBLen,
		})
		sf.ULMask().Fill(next, next+msg3PRBLen)
	})
}

// DCIResolver is a pass-through DCI arbitration step.
type DCIResolver struct{}

// GenerateDCIs implements sched.DCIResolver.
func (DCIResolver) GenerateDCIs(sf *sched.SubframeContext) {}
