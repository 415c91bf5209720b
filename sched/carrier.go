package sched

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/signalsfoundry/macsched/internal/logging"
)

// ErrNotConfigured indicates an operation was invoked before CarrierCfg.
var ErrNotConfigured = errors.New("carrier is not configured")

// sixPRBCell is the narrowest LTE bandwidth; it gets special collision
// handling between DL data and PRACH.
const sixPRBCell = 6

// CarrierParams is the one-time carrier configuration handed to CarrierCfg.
type CarrierParams struct {
	Cell CellConfig

	// DL and UL are the external data allocation engines; DCI arbitrates
	// control channel capacity after all allocations are made.
	DL  DLEngine
	UL  ULEngine
	DCI DCIResolver
}

// CarrierPipeline orchestrates per-TTI scheduling for one carrier: PHICH
// collection, broadcast and random access scheduling, data allocation, DCI
// resolution, and Msg3 deferral. Results are produced idempotently into a
// fixed ring of subframe contexts.
//
// One mutex guards the pending RAR FIFO, the Msg3 queues, the broadcast
// window state, and the ring slot being written. GenerateTTIResult runs on
// the periodic scheduling goroutine; DLRachInfo arrives from the receive
// path and takes the same guard.
type CarrierPipeline struct {
	mu sync.Mutex

	users  UserRegistry
	paging PagingSource
	ccIdx  uint32

	log     logging.Logger
	metrics Metrics

	cfg *CellConfig
	dl  DLEngine
	ul  ULEngine
	dci DCIResolver

	bc *BroadcastScheduler
	ra *RandomAccessScheduler

	pucchMask RBMask
	prachMask RBMask

	// dlTTIMask disables DL transmission on subframes with a nonzero entry,
	// indexed by ttiTxDL modulo its length.
	dlTTIMask []uint8

	ring [sfRingSize]SubframeContext
}

// NewCarrierPipeline constructs an unconfigured pipeline for one carrier.
// CarrierCfg must be called before scheduling.
func NewCarrierPipeline(users UserRegistry, paging PagingSource, ccIdx uint32, log logging.Logger, metrics Metrics) *CarrierPipeline {
	if log == nil {
		log = logging.Noop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &CarrierPipeline{
		users:     users,
		paging:    paging,
		ccIdx:     ccIdx,
		log:       log,
		metrics:   metrics,
		dlTTIMask: make([]uint8, 1),
	}
}

// CarrierCfg performs one-time setup: sub-schedulers, static PUCCH/PRACH
// masks, and ring slot initialization.
func (c *CarrierPipeline) CarrierCfg(params CarrierParams) error {
	if params.DL == nil || params.UL == nil {
		return errors.New("carrier requires DL and UL allocation engines")
	}
	if params.Cell.NofPRB == 0 {
		return errors.New("carrier requires a nonzero bandwidth")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := params.Cell
	c.cfg = &cfg
	c.dl = params.DL
	c.ul = params.UL
	c.dci = params.DCI

	c.bc = NewBroadcastScheduler(c.cfg, c.paging, c.metrics)
	c.ra = NewRandomAccessScheduler(c.cfg, c.users, c.log, c.metrics)

	n := int(cfg.NofPRB)
	c.pucchMask = NewRBMask(n)
	if cfg.NrbPucch > 0 {
		c.pucchMask.Fill(0, int(cfg.NrbPucch))
		c.pucchMask.Fill(n-int(cfg.NrbPucch), n)
	}
	c.prachMask = NewRBMask(n)
	c.prachMask.Fill(int(cfg.PrachFreqOffset), int(cfg.PrachFreqOffset)+6)

	for i := range c.ring {
		c.ring[i].init(cfg.NofPRB)
	}
	return nil
}

// SetDLTTIMask replaces the per-subframe DL-enable pattern. A nonzero entry
// disables DL transmission on that subframe.
func (c *CarrierPipeline) SetDLTTIMask(mask []uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(mask) == 0 {
		mask = []uint8{0}
	}
	c.dlTTIMask = append([]uint8(nil), mask...)
}

// Reset clears broadcast and random access state.
func (c *CarrierPipeline) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ra != nil {
		c.ra.Reset()
	}
	if c.bc != nil {
		c.bc.Reset()
	}
	c.metrics.SetPendingRARs(0)
}

// DLRachInfo forwards a detected preamble to the random access scheduler
// under the carrier guard.
func (c *CarrierPipeline) DLRachInfo(ctx context.Context, info RachInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ra == nil {
		return ErrNotConfigured
	}
	err := c.ra.DLRachInfo(ctx, info)
	c.metrics.SetPendingRARs(c.ra.PendingCount())
	return err
}

// sfSched returns the ring slot owning the given receive TTI.
func (c *CarrierPipeline) sfSched(ttiRx uint32) *SubframeContext {
	return &c.ring[ttiRx%sfRingSize]
}

// GenerateTTIResult produces the scheduling decisions for one receive TTI.
// Calling it again for the same TTI returns the memoized context without
// recomputation.
func (c *CarrierPipeline) GenerateTTIResult(ctx context.Context, ttiRx uint32) *SubframeContext {
	if c.cfg == nil {
		c.log.Error(ctx, "GenerateTTIResult called before CarrierCfg")
		return nil
	}

	ttiRx %= NofTTIs
	sf := c.sfSched(ttiRx)
	if sf.TTIRx() == ttiRx {
		return sf
	}

	started := time.Now()
	sf.reset(ttiRx)
	dlActive := c.dlTTIMask[sf.TTITxDL()%uint32(len(c.dlTTIMask))] == 0

	// Guards pending RARs, Msg3 queues, broadcast windows, and the slot.
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		c.metrics.ObserveTTIGeneration(time.Since(started).Seconds())
	}()

	c.generatePhich(ctx, sf)

	if dlActive {
		c.bc.DLSched(sf)
		c.ra.DLSched(ctx, sf, c.dl)
	}

	// Alternate UL/DL priority by TTI parity to bound control channel
	// unfairness over time.
	if ttiRx%2 == 0 {
		c.allocULUsers(ctx, sf)
	}

	c.allocDLUsers(sf)

	if ttiRx%2 == 1 {
		c.allocULUsers(ctx, sf)
	}

	if c.dci != nil {
		c.dci.GenerateDCIs(sf)
	}

	if dlActive {
		msg3Sf := c.sfSched(TTIAdd(ttiRx, Msg3Delay))
		c.ra.SchedMsg3(ctx, msg3Sf, &sf.DLResult)
	}

	c.users.ForEach(func(rnti uint16, u User) {
		u.FinishTTI(ttiRx, c.ccIdx)
	})

	c.metrics.SetPendingRARs(c.ra.PendingCount())
	return sf
}

// generatePhich appends an ACK/NACK entry for every user on this carrier
// with a pending uplink acknowledgment.
func (c *CarrierPipeline) generatePhich(ctx context.Context, sf *SubframeContext) {
	c.users.ForEach(func(rnti uint16, u User) {
		cellIdx, ok := u.CellIndex(c.ccIdx)
		if !ok {
			// user does not support this carrier
			return
		}
		h := u.ULHarq(sf.TTIRx(), cellIdx)
		if h == nil || !h.HasPendingAck() {
			return
		}
		sf.AddPHICH(rnti, h.PendingAck())
		c.log.Debug(ctx, "allocated PHICH",
			logging.Uint32("rnti", uint32(rnti)),
			logging.Any("ack", h.PendingAck()),
		)
	})
}

// allocULUsers runs the uplink side of one TTI: PRACH reservation, Msg3
// scheduling, PUCCH reservation, then user data.
func (c *CarrierPipeline) allocULUsers(ctx context.Context, sf *SubframeContext) {
	if PrachTTIOpportunity(c.cfg.PrachConfig, sf.TTITxUL()) {
		sf.ULMask().CopyFrom(c.prachMask)
		c.log.Debug(ctx, "reserved PRACH RBs",
			logging.String("mask", c.prachMask.Hex()),
		)
	}

	c.ra.ULSched(ctx, sf, c.ul)

	if c.cfg.NofPRB != sixPRBCell && sf.ULMask().Intersects(c.pucchMask) {
		c.log.Error(ctx, "UL mask collides with PUCCH",
			logging.String("ul_mask", sf.ULMask().Hex()),
			logging.String("pucch_mask", c.pucchMask.Hex()),
		)
		c.metrics.IncPucchCollision()
	}
	sf.ULMask().OrWith(c.pucchMask)

	c.ul.SchedUsers(c.users, sf)
}

// allocDLUsers runs the downlink data step. Six-PRB cells blank the whole DL
// subframe when it would collide with a PRACH opportunity.
func (c *CarrierPipeline) allocDLUsers(sf *SubframeContext) {
	if c.dlTTIMask[sf.TTITxDL()%uint32(len(c.dlTTIMask))] != 0 {
		return
	}

	if c.cfg.NofPRB == sixPRBCell {
		if PrachTTIOpportunity(c.cfg.PrachConfig, ttiRxAckOf(sf.TTIRx())) {
			sf.DLMask().FillAll()
		}
	}

	c.dl.SchedUsers(c.users, sf)
}
