package sched

// MaxSIBs is the number of SIB slots tracked per cell. Index 0 is SIB1.
const MaxSIBs = 16

// MaxRARGrants bounds the number of Msg3 grants a single pending random
// access reply can accumulate.
const MaxRARGrants = 16

// SIBConfig describes one system information block.
type SIBConfig struct {
	// Len is the payload length in bytes; zero means the SIB is not
	// configured.
	Len uint32
	// PeriodRF is the scheduling period in radio frames.
	PeriodRF uint32
}

// CellConfig is the read-only cell configuration the carrier pipeline and its
// sub-schedulers operate against.
type CellConfig struct {
	NofPRB uint32

	SIBs       [MaxSIBs]SIBConfig
	SIWindowMs uint32

	// PrachConfig is the FDD PRACH configuration index, PrachFreqOffset the
	// first PRB of the 6-PRB PRACH region.
	PrachConfig     uint32
	PrachFreqOffset uint32
	// PrachRARWindow is the RAR response window length in TTIs.
	PrachRARWindow uint32

	// NrbPucch is the number of PRBs reserved for PUCCH at each band edge.
	NrbPucch uint32
}

// RachInfo carries one detected random access preamble from the receive path.
type RachInfo struct {
	PrachTTI    uint32
	PreambleIdx uint32
	TACmd       uint32
	TempCRNTI   uint16
	Msg3Size    uint32
}

// PendingRAR is a queued random access reply awaiting its response window.
// Preambles arriving in the same TTI with the same RA-RNTI share one entry.
type PendingRAR struct {
	RARNTI    uint16
	PrachTTI  uint32
	Grants    [MaxRARGrants]RachInfo
	NofGrants int
}

// PendingMsg3 is an uplink grant the scheduler owes a user as a consequence
// of a transmitted RAR grant.
type PendingMsg3 struct {
	RNTI     uint16
	PRBStart uint32
	NofPRB   uint32
	MCS      uint32
}

// ULAlloc is a contiguous uplink resource block allocation.
type ULAlloc struct {
	RBStart uint32
	NofRB   uint32
}

// ULAllocKind distinguishes the uplink allocation types the UL engine
// handles.
type ULAllocKind int

const (
	ULAllocNewTx ULAllocKind = iota
	ULAllocMsg3
	ULAllocAdaptRetx
)

// AllocOutcome is the result of an allocation attempt. Failures are outcomes,
// not errors: the pipeline reacts to them without unwinding.
type AllocOutcome int

const (
	AllocSuccess AllocOutcome = iota
	AllocRBCollision
	AllocDCICollision
	AllocError
)

func (o AllocOutcome) String() string {
	switch o {
	case AllocSuccess:
		return "success"
	case AllocRBCollision:
		return "rb_collision"
	case AllocDCICollision:
		return "dci_collision"
	default:
		return "error"
	}
}

// PagingSource answers whether a TTI is a paging opportunity and how large
// the pending paging payload is. Backed by the RRC layer in a full stack.
// The query may block; it runs inside the carrier critical section.
type PagingSource interface {
	IsPagingOpportunity(tti uint32) (bool, uint32)
}

// ULHarqProc exposes the pending-acknowledgement state of a user's uplink
// HARQ process for one TTI.
type ULHarqProc interface {
	HasPendingAck() bool
	PendingAck() bool
}

// User is the per-terminal context the scheduler consults. HARQ bookkeeping
// and channel state live behind this interface; the core never owns user
// lifetime.
type User interface {
	// CellIndex maps a carrier index to the user's cell index on that
	// carrier, reporting false when the user is not attached to it.
	CellIndex(ccIdx uint32) (uint32, bool)
	// ULHarq returns the uplink HARQ process aligned with the given receive
	// TTI on the given cell.
	ULHarq(ttiRx, cellIdx uint32) ULHarqProc
	// FinishTTI tells the user context that scheduling for this receive TTI
	// is final on this carrier, releasing blocked retransmission state.
	FinishTTI(ttiRx, ccIdx uint32)
}

// UserRegistry is the injected view over the shared user table.
type UserRegistry interface {
	Find(rnti uint16) (User, bool)
	ForEach(fn func(rnti uint16, u User))
}

// DLEngine packs downlink user data and RAR grants into a subframe. The
// greedy/round-robin packing strategy lives behind this interface.
type DLEngine interface {
	SchedUsers(users UserRegistry, sf *SubframeContext)
	// AllocRAR attempts to place the grants of one pending reply, returning
	// the outcome and how many grants were placed.
	AllocRAR(aggrLevel uint32, rar *PendingRAR, sf *SubframeContext) (AllocOutcome, int)
}

// ULEngine packs uplink user data and Msg3 allocations into a subframe.
type ULEngine interface {
	SchedUsers(users UserRegistry, sf *SubframeContext)
	AllocUL(u User, alloc ULAlloc, kind ULAllocKind, mcs uint32, sf *SubframeContext) bool
}

// DCIResolver arbitrates the subframe's candidate allocations against the
// limited control channel capacity.
type DCIResolver interface {
	GenerateDCIs(sf *SubframeContext)
}

// Metrics receives scheduler counters. Implementations must tolerate being
// called from the TTI hot path; a nil Metrics disables collection.
type Metrics interface {
	ObserveTTIGeneration(seconds float64)
	IncSIBTx()
	IncPagingAlloc()
	IncRARScheduled()
	IncRARExpired()
	IncMsg3Enqueued()
	IncMsg3Dropped()
	IncPucchCollision()
	SetPendingRARs(n int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTTIGeneration(float64) {}
func (nopMetrics) IncSIBTx()                    {}
func (nopMetrics) IncPagingAlloc()              {}
func (nopMetrics) IncRARScheduled()             {}
func (nopMetrics) IncRARExpired()               {}
func (nopMetrics) IncMsg3Enqueued()             {}
func (nopMetrics) IncMsg3Dropped()              {}
func (nopMetrics) IncPucchCollision()           {}
func (nopMetrics) SetPendingRARs(int)           {}

// Type2FromRIV decodes a type-2 resource indication value into a length and
// starting PRB, for a cell of nofPRB resource blocks.
func Type2FromRIV(riv, nofPRB uint32) (length, rbStart uint32) {
	length = riv/nofPRB + 1
	rbStart = riv % nofPRB
	if length > nofPRB-rbStart {
		length = nofPRB - riv/nofPRB + 1
		rbStart = nofPRB - riv%nofPRB - 1
	}
	return length, rbStart
}

// RIVFromType2 is the encode counterpart of Type2FromRIV.
func RIVFromType2(length, rbStart, nofPRB uint32) uint32 {
	if length < 1 {
		length = 1
	}
	if length-1 <= nofPRB/2 {
		return nofPRB*(length-1) + rbStart
	}
	return nofPRB*(nofPRB-length+1) + (nofPRB - 1 - rbStart)
}
