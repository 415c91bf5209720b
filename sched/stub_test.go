package sched

import (
	"sort"
	"sync"
)

// rarStep scripts one AllocRAR outcome for the stub engine.
type rarStep struct {
	outcome AllocOutcome
	placed  int
}

// stubEngine backs the DL and UL engine stubs with scripted outcomes and
// call accounting.
type stubEngine struct {
	nofPRB uint32

	rarScript   []rarStep
	rarCalls    int
	dlSchedTTIs []uint32
	ulSchedTTIs []uint32
	callOrder   []string

	failAllocUL bool
	ulAllocs    []ULAlloc
}

func (e *stubEngine) allocRAR(aggrLevel uint32, rar *PendingRAR, sf *SubframeContext) (AllocOutcome, int) {
	e.rarCalls++

	step := rarStep{outcome: AllocSuccess, placed: rar.NofGrants}
	if len(e.rarScript) > 0 {
		step = e.rarScript[0]
		e.rarScript = e.rarScript[1:]
	}
	if step.outcome != AllocSuccess {
		return step.outcome, 0
	}
	placed := step.placed
	if placed > rar.NofGrants {
		placed = rar.NofGrants
	}

	res := RARResult{RARNTI: rar.RARNTI, AggrLevel: aggrLevel}
	for i := 0; i < placed; i++ {
		res.Grants = append(res.Grants, RARGrant{
			Data: rar.Grants[i],
			RBA:  RIVFromType2(2, uint32(8+2*i), e.nofPRB),
		})
	}
	if placed > 0 {
		sf.DLResult.RARs = append(sf.DLResult.RARs, res)
	}
	return AllocSuccess, placed
}

// stubDLEngine and stubULEngine expose the two engine interfaces of a shared
// stubEngine so call ordering across directions can be asserted.
type stubDLEngine struct{ e *stubEngine }

func (d stubDLEngine) AllocRAR(aggrLevel uint32, rar *PendingRAR, sf *SubframeContext) (AllocOutcome, int) {
	return d.e.allocRAR(aggrLevel, rar, sf)
}

func (d stubDLEngine) SchedUsers(users UserRegistry, sf *SubframeContext) {
	d.e.dlSchedTTIs = append(d.e.dlSchedTTIs, sf.TTIRx())
	d.e.callOrder = append(d.e.callOrder, "dl")
}

type stubULEngine struct{ e *stubEngine }

func (u stubULEngine) SchedUsers(users UserRegistry, sf *SubframeContext) {
	u.e.ulSchedTTIs = append(u.e.ulSchedTTIs, sf.TTIRx())
	u.e.callOrder = append(u.e.callOrder, "ul")
}

func (u stubULEngine) AllocUL(usr User, alloc ULAlloc, kind ULAllocKind, mcs uint32, sf *SubframeContext) bool {
	if u.e.failAllocUL {
		return false
	}
	u.e.ulAllocs = append(u.e.ulAllocs, alloc)
	sf.ULResult.Data = append(sf.ULResult.Data, DataAlloc{
		RBStart: alloc.RBStart,
		NofRB:   alloc.NofRB,
		MCS:     mcs,
	})
	return true
}

// stubHarq is a fixed pending-ack state.
type stubHarq struct {
	pending bool
	ack     bool
}

func (h stubHarq) HasPendingAck() bool { return h.pending }
func (h stubHarq) PendingAck() bool    { return h.ack }

// stubUser is a terminal attached to a set of carriers.
type stubUser struct {
	carriers map[uint32]uint32
	harq     stubHarq

	mu           sync.Mutex
	finishedTTIs []uint32
}

func (u *stubUser) CellIndex(ccIdx uint32) (uint32, bool) {
	idx, ok := u.carriers[ccIdx]
	return idx, ok
}

func (u *stubUser) ULHarq(ttiRx, cellIdx uint32) ULHarqProc { return u.harq }

func (u *stubUser) FinishTTI(ttiRx, ccIdx uint32) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.finishedTTIs = append(u.finishedTTIs, ttiRx)
}

// stubRegistry is a map-backed user registry with deterministic iteration.
type stubRegistry struct {
	mu    sync.RWMutex
	users map[uint16]*stubUser
}

func newStubRegistry() *stubRegistry {
	return &stubRegistry{users: make(map[uint16]*stubUser)}
}

func (r *stubRegistry) add(rnti uint16, u *stubUser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[rnti] = u
}

func (r *stubRegistry) remove(rnti uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, rnti)
}

func (r *stubRegistry) Find(rnti uint16) (User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[rnti]
	if !ok {
		return nil, false
	}
	return u, true
}

func (r *stubRegistry) ForEach(fn func(rnti uint16, u User)) {
	r.mu.RLock()
	rntis := make([]uint16, 0, len(r.users))
	for rnti := range r.users {
		rntis = append(rntis, rnti)
	}
	sort.Slice(rntis, func(i, j int) bool { return rntis[i] < rntis[j] })
	users := make([]*stubUser, len(rntis))
	for i, rnti := range rntis {
		users[i] = r.users[rnti]
	}
	r.mu.RUnlock()

	for i, rnti := range rntis {
		fn(rnti, users[i])
	}
}

// stubPaging reports a paging opportunity on exactly one TTI.
type stubPaging struct {
	tti     uint32
	payload uint32
	calls   int
}

func (p *stubPaging) IsPagingOpportunity(tti uint32) (bool, uint32) {
	p.calls++
	if tti == p.tti {
		return true, p.payload
	}
	return false, 0
}

// countingMetrics tallies metric callbacks.
type countingMetrics struct {
	mu              sync.Mutex
	ttiObservations int
	sibTx           int
	paging          int
	rarScheduled    int
	rarExpired      int
	msg3Enqueued    int
	msg3Dropped     int
	pucchCollision  int
	pendingRARs     int
}

func (m *countingMetrics) ObserveTTIGeneration(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ttiObservations++
}

func (m *countingMetrics) IncSIBTx() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sibTx++
}

func (m *countingMetrics) IncPagingAlloc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paging++
}

func (m *countingMetrics) IncRARScheduled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rarScheduled++
}

func (m *countingMetrics) IncRARExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rarExpired++
}

func (m *countingMetrics) IncMsg3Enqueued() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msg3Enqueued++
}

func (m *countingMetrics) IncMsg3Dropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msg3Dropped++
}

func (m *countingMetrics) IncPucchCollision() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pucchCollision++
}

func (m *countingMetrics) SetPendingRARs(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingRARs = n
}

// testCell returns a 25-PRB cell with SIB1 and one secondary SIB.
func testCell() CellConfig {
	cfg := CellConfig{
		NofPRB:          25,
		SIWindowMs:      10,
		PrachConfig:     3,
		PrachFreqOffset: 2,
		PrachRARWindow:  10,
		NrbPucch:        2,
	}
	cfg.SIBs[0] = SIBConfig{Len: 18, PeriodRF: 8}
	cfg.SIBs[1] = SIBConfig{Len: 41, PeriodRF: 16}
	return cfg
}

func newTestSubframe(nofPRB, ttiRx uint32) *SubframeContext {
	sf := &SubframeContext{}
	sf.init(nofPRB)
	sf.reset(ttiRx)
	return sf
}
