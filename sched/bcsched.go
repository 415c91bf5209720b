package sched

// bcAggrLevel is the fixed control channel aggregation level used for
// broadcast and paging allocations.
const bcAggrLevel = 2

// sibTxPerWindow caps the number of transmissions of a SIB inside one window.
const sibTxPerWindow = 4

// SIBWindowState tracks one SIB's transmission window. The zero value is the
// closed state.
type SIBWindowState struct {
	InWindow    bool
	WindowStart uint32
	NTx         uint32
}

// BroadcastScheduler opens and closes SIB transmission windows and checks for
// paging opportunities, emitting at most one broadcast allocation request per
// SIB per TTI.
type BroadcastScheduler struct {
	cfg     *CellConfig
	paging  PagingSource
	metrics Metrics

	pendingSIBs [MaxSIBs]SIBWindowState

	currentSfIdx uint32
	currentSfn   uint32
	currentTTI   uint32
}

// NewBroadcastScheduler constructs a broadcast scheduler for one cell.
func NewBroadcastScheduler(cfg *CellConfig, paging PagingSource, metrics Metrics) *BroadcastScheduler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &BroadcastScheduler{cfg: cfg, paging: paging, metrics: metrics}
}

// DLSched runs the broadcast scheduling step for one subframe: window
// maintenance, SIB allocation, then the paging query.
func (b *BroadcastScheduler) DLSched(sf *SubframeContext) {
	b.currentSfIdx = sf.SubframeIdx()
	b.currentSfn = sf.FrameNumber()
	b.currentTTI = sf.TTITxDL()

	b.updateSIWindows(sf)
	b.allocSIBs(sf)

	// NOTE: the paging query may block.
	b.allocPaging(sf)
}

func (b *BroadcastScheduler) updateSIWindows(sf *SubframeContext) {
	ttiTxDL := sf.TTITxDL()
	for i := range b.pendingSIBs {
		if b.cfg.SIBs[i].Len == 0 {
			continue
		}
		b.pendingSIBs[i] = NextSIBWindow(b.pendingSIBs[i], i, ttiTxDL, b.currentSfn, b.currentSfIdx, b.cfg)
	}
}

// NextSIBWindow is the pure window transition for one SIB. Windows other than
// SIB1's open at a deterministic frame/subframe offset and close on expiry;
// SIB1 stays open and only wraps its transmission counter.
func NextSIBWindow(st SIBWindowState, sibIdx int, ttiTxDL, sfn, sfIdx uint32, cfg *CellConfig) SIBWindowState {
	if !st.InWindow {
		sf := uint32(5)
		x := uint32(0)
		if sibIdx > 0 {
			x = uint32(sibIdx-1) * cfg.SIWindowMs
			sf = x % 10
		}
		if sfn%cfg.SIBs[sibIdx].PeriodRF == x/10 && sfIdx == sf {
			return SIBWindowState{InWindow: true, WindowStart: ttiTxDL}
		}
		return st
	}

	if sibIdx > 0 {
		if TTIInterval(ttiTxDL, st.WindowStart) > cfg.SIWindowMs {
			// window elapsed, pending transmissions are dropped
			return SIBWindowState{}
		}
		return st
	}

	// SIB1 is always in window
	if st.NTx == sibTxPerWindow {
		st.NTx = 0
	}
	return st
}

func (b *BroadcastScheduler) allocSIBs(sf *SubframeContext) {
	for i := range b.pendingSIBs {
		st := &b.pendingSIBs[i]
		if b.cfg.SIBs[i].Len == 0 || !st.InWindow || st.NTx >= sibTxPerWindow {
			continue
		}

		nofTx := uint32(sibTxPerWindow)
		if i > 0 {
			nofTx = min(ceilDiv(b.cfg.SIWindowMs, 10), sibTxPerWindow)
		}
		nSf := TTIInterval(sf.TTITxDL(), st.WindowStart)

		// SIB1 goes out at subframe 5 of even frames; the rest at subframe 9,
		// spread evenly across the window.
		sib1Flag := i == 0 && b.currentSfn%2 == 0 && b.currentSfIdx == 5
		otherFlag := i > 0 && nSf >= (b.cfg.SIWindowMs/nofTx)*st.NTx && b.currentSfIdx == 9
		if !sib1Flag && !otherFlag {
			continue
		}

		sf.AllocBroadcast(bcAggrLevel, i, int(st.NTx), b.cfg.SIBs[i].Len)
		st.NTx++
		b.metrics.IncSIBTx()
	}
}

func (b *BroadcastScheduler) allocPaging(sf *SubframeContext) {
	if b.paging == nil {
		return
	}
	if ok, payload := b.paging.IsPagingOpportunity(b.currentTTI); ok && payload > 0 {
		sf.AllocPaging(bcAggrLevel, payload)
		b.metrics.IncPagingAlloc()
	}
}

// Reset clears all SIB window state.
func (b *BroadcastScheduler) Reset() {
	for i := range b.pendingSIBs {
		b.pendingSIBs[i] = SIBWindowState{}
	}
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}
