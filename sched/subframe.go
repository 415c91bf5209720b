package sched

// BCAllocType distinguishes broadcast allocation kinds.
type BCAllocType int

const (
	BCAllocSIB BCAllocType = iota
	BCAllocPaging
)

// BCAlloc records one broadcast allocation decision (SIB or paging).
type BCAlloc struct {
	Type      BCAllocType
	SIBIdx    int
	TxIdx     int
	AggrLevel uint32
	Payload   uint32
}

// RARGrant is one Msg3 grant inside a finalized RAR allocation. RBA holds the
// type-2 resource indication value the UE will decode.
type RARGrant struct {
	Data     RachInfo
	RBA      uint32
	TruncMCS uint32
}

// RARResult is one finalized RAR allocation in the downlink result.
type RARResult struct {
	RARNTI    uint16
	Grants    []RARGrant
	AggrLevel uint32
}

// PhichEntry carries one ACK/NACK indication for a prior uplink transmission.
type PhichEntry struct {
	RNTI uint16
	Ack  bool
}

// DLResult accumulates the downlink decisions of one subframe.
type DLResult struct {
	BC   []BCAlloc
	RARs []RARResult
	// Data is filled by the external DL engine; the core only carries it.
	Data []DataAlloc
}

// ULResult accumulates the uplink decisions of one subframe.
type ULResult struct {
	PHICH []PhichEntry
	Data  []DataAlloc
}

// DataAlloc is an opaque per-user data allocation produced by an allocation
// engine.
type DataAlloc struct {
	RNTI    uint16
	RBStart uint32
	NofRB   uint32
	MCS     uint32
}

const (
	// sfRingSize is the capacity of the per-carrier subframe context ring.
	// It covers the Msg3 horizon with margin and divides NofTTIs evenly so
	// slot assignment is stable across the TTI wrap.
	sfRingSize = 16

	// ttiNone marks a ring slot that has not produced any TTI yet.
	ttiNone = ^uint32(0)
)

// SubframeContext is the scratch state of one in-flight TTI: indices, masks,
// result accumulators, and the Msg3 queue targeted at this slot. Contexts
// live in the carrier ring and are overwritten in place when their slot is
// reused.
type SubframeContext struct {
	ttiRx   uint32
	ttiTxDL uint32
	ttiTxUL uint32

	dlMask RBMask
	ulMask RBMask

	DLResult DLResult
	ULResult ULResult

	// msg3Queue holds Msg3s enqueued for this slot by an earlier TTI. It is
	// deliberately preserved across resets.
	msg3Queue []PendingMsg3
}

func (sf *SubframeContext) init(nofPRB uint32) {
	sf.ttiRx = ttiNone
	sf.dlMask = NewRBMask(int(nofPRB))
	sf.ulMask = NewRBMask(int(nofPRB))
	sf.msg3Queue = sf.msg3Queue[:0]
}

// reset prepares the context for a new receive TTI. Result accumulators and
// masks are cleared; the Msg3 queue is kept so grants deferred into this slot
// survive.
func (sf *SubframeContext) reset(ttiRx uint32) {
	sf.ttiRx = ttiRx
	sf.ttiTxDL = TTIAdd(ttiRx, TxDelay)
	sf.ttiTxUL = TTIAdd(ttiRx, TxDelay+FddHarqDelay)
	sf.dlMask.Clear()
	sf.ulMask.Clear()
	sf.DLResult = DLResult{BC: sf.DLResult.BC[:0], RARs: sf.DLResult.RARs[:0], Data: sf.DLResult.Data[:0]}
	sf.ULResult = ULResult{PHICH: sf.ULResult.PHICH[:0], Data: sf.ULResult.Data[:0]}
}

// TTIRx returns the receive TTI this context was produced for, or ttiNone.
func (sf *SubframeContext) TTIRx() uint32 { return sf.ttiRx }

// TTITxDL returns the downlink transmit TTI of this context.
func (sf *SubframeContext) TTITxDL() uint32 { return sf.ttiTxDL }

// TTITxUL returns the uplink transmit TTI of this context.
func (sf *SubframeContext) TTITxUL() uint32 { return sf.ttiTxUL }

// SubframeIdx returns the downlink transmit subframe index.
func (sf *SubframeContext) SubframeIdx() uint32 { return SubframeIdx(sf.ttiTxDL) }

// FrameNumber returns the downlink transmit system frame number.
func (sf *SubframeContext) FrameNumber() uint32 { return FrameNumber(sf.ttiTxDL) }

// DLMask exposes the downlink resource mask for allocation engines.
func (sf *SubframeContext) DLMask() *RBMask { return &sf.dlMask }

// ULMask exposes the uplink resource mask for allocation engines.
func (sf *SubframeContext) ULMask() *RBMask { return &sf.ulMask }

// AllocBroadcast records one SIB allocation for this subframe.
func (sf *SubframeContext) AllocBroadcast(aggrLevel uint32, sibIdx, txIdx int, payload uint32) {
	sf.DLResult.BC = append(sf.DLResult.BC, BCAlloc{
		Type:      BCAllocSIB,
		SIBIdx:    sibIdx,
		TxIdx:     txIdx,
		AggrLevel: aggrLevel,
		Payload:   payload,
	})
}

// AllocPaging records one paging allocation for this subframe.
func (sf *SubframeContext) AllocPaging(aggrLevel uint32, payload uint32) {
	sf.DLResult.BC = append(sf.DLResult.BC, BCAlloc{
		Type:      BCAllocPaging,
		AggrLevel: aggrLevel,
		Payload:   payload,
	})
}

// AddPHICH appends one ACK/NACK indication to the uplink result.
func (sf *SubframeContext) AddPHICH(rnti uint16, ack bool) {
	sf.ULResult.PHICH = append(sf.ULResult.PHICH, PhichEntry{RNTI: rnti, Ack: ack})
}

// EnqueueMsg3 queues a Msg3 into this slot, failing when the slot already
// carries a full complement.
func (sf *SubframeContext) EnqueueMsg3(m PendingMsg3) bool {
	if len(sf.msg3Queue) >= MaxRARGrants {
		return false
	}
	sf.msg3Queue = append(sf.msg3Queue, m)
	return true
}

// PendingMsg3s returns the Msg3 queue targeted at this slot.
func (sf *SubframeContext) PendingMsg3s() []PendingMsg3 { return sf.msg3Queue }

// popMsg3 removes and returns the head of the Msg3 queue.
func (sf *SubframeContext) popMsg3() (PendingMsg3, bool) {
	if len(sf.msg3Queue) == 0 {
		return PendingMsg3{}, false
	}
	m := sf.msg3Queue[0]
	sf.msg3Queue = sf.msg3Queue[1:]
	return m, true
}
