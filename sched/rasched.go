package sched

import (
	"context"
	"errors"

	"github.com/signalsfoundry/macsched/internal/logging"
)

// rarAggrLevel is the fixed aggregation level for RAR allocations.
const rarAggrLevel = 2

// ErrRARGrantsFull indicates a pending reply already carries the maximum
// number of Msg3 grants and cannot absorb another preamble.
var ErrRARGrantsFull = errors.New("pending RAR grant list is full")

// RandomAccessScheduler queues detected preambles, schedules their replies
// within the response window, and defers the follow-up Msg3 uplink grants.
// The pending queue is strict FIFO: an entry whose window has not opened
// blocks everything behind it.
type RandomAccessScheduler struct {
	cfg     *CellConfig
	log     logging.Logger
	users   UserRegistry
	metrics Metrics

	pendingRARs []PendingRAR
}

// NewRandomAccessScheduler constructs a random access scheduler for one cell.
func NewRandomAccessScheduler(cfg *CellConfig, users UserRegistry, log logging.Logger, metrics Metrics) *RandomAccessScheduler {
	if log == nil {
		log = logging.Noop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &RandomAccessScheduler{cfg: cfg, users: users, log: log, metrics: metrics}
}

// DLSched schedules pending replies against the downlink engine. Only the
// queue head is considered: it is dropped once its window has elapsed,
// retried in place on partial placement, and everything stops for this TTI on
// a resource collision.
func (s *RandomAccessScheduler) DLSched(ctx context.Context, sf *SubframeContext, dl DLEngine) {
	ttiTxDL := sf.TTITxDL()

	for len(s.pendingRARs) > 0 {
		rar := &s.pendingRARs[0]
		// Window is [prachTTI+3, prachTTI+3+window): the reply expires the
		// TTI the window length elapses.
		winStart := TTIAdd(rar.PrachTTI, MinRARDelay)
		winLast := TTIAdd(winStart, s.cfg.PrachRARWindow-1)

		if !IsInTTIInterval(ttiTxDL, winStart, winLast) {
			if TTIInterval(ttiTxDL, rar.PrachTTI) >= MinRARDelay+s.cfg.PrachRARWindow {
				s.log.Error(ctx, "could not transmit RAR within the response window",
					logging.Uint32("prach_tti", rar.PrachTTI),
					logging.Uint32("window", s.cfg.PrachRARWindow),
					logging.Uint32("tti_tx_dl", ttiTxDL),
				)
				s.metrics.IncRARExpired()
				s.pendingRARs = s.pendingRARs[1:]
				continue
			}
			// Window not yet open. The queue is ordered by arrival, so no
			// later entry can be ready either.
			return
		}

		outcome, placed := dl.AllocRAR(rarAggrLevel, rar, sf)
		switch {
		case outcome == AllocSuccess && placed == rar.NofGrants:
			s.metrics.IncRARScheduled()
			s.pendingRARs = s.pendingRARs[1:]
		case outcome == AllocSuccess && placed > 0:
			// Keep the grants that were not scheduled, preserving order, and
			// retry against this TTI's remaining capacity.
			copy(rar.Grants[:], rar.Grants[placed:rar.NofGrants])
			rar.NofGrants -= placed
		case outcome == AllocRBCollision:
			// No resources left for RAR or Msg3 in this subframe.
			return
		}
	}
}

// ULSched consumes the Msg3 queue of this subframe, requesting one uplink
// allocation per entry. Failures drop the entry; retransmission is an
// upper-layer concern.
func (s *RandomAccessScheduler) ULSched(ctx context.Context, sf *SubframeContext, ul ULEngine) {
	for {
		m, ok := sf.popMsg3()
		if !ok {
			return
		}

		u, found := s.users.Find(m.RNTI)
		if !found {
			s.log.Warn(ctx, "Msg3 allocated for a user that no longer exists",
				logging.Uint32("rnti", uint32(m.RNTI)),
			)
			s.metrics.IncMsg3Dropped()
			continue
		}

		alloc := ULAlloc{RBStart: m.PRBStart, NofRB: m.NofPRB}
		if !ul.AllocUL(u, alloc, ULAllocMsg3, m.MCS, sf) {
			s.log.Warn(ctx, "could not allocate Msg3",
				logging.Uint32("rnti", uint32(m.RNTI)),
				logging.Uint32("prb_start", m.PRBStart),
				logging.Uint32("prb_end", m.PRBStart+m.NofPRB),
			)
			s.metrics.IncMsg3Dropped()
		}
	}
}

// DLRachInfo records one detected preamble. Preambles sharing the same
// (RA-RNTI, PRACH TTI) pair are merged into the existing pending entry.
func (s *RandomAccessScheduler) DLRachInfo(ctx context.Context, info RachInfo) error {
	s.log.Info(ctx, "new PRACH preamble",
		logging.Uint32("prach_tti", info.PrachTTI),
		logging.Uint32("preamble", info.PreambleIdx),
		logging.Uint32("temp_crnti", uint32(info.TempCRNTI)),
		logging.Uint32("ta_cmd", info.TACmd),
		logging.Uint32("msg3_size", info.Msg3Size),
	)

	// RA-RNTI = 1 + t_id, with t_id the PRACH subframe index (FDD f_id = 0).
	raRNTI := uint16(1 + info.PrachTTI%10)

	for i := range s.pendingRARs {
		r := &s.pendingRARs[i]
		if r.PrachTTI == info.PrachTTI && r.RARNTI == raRNTI {
			if r.NofGrants >= MaxRARGrants {
				return ErrRARGrantsFull
			}
			r.Grants[r.NofGrants] = info
			r.NofGrants++
			return nil
		}
	}

	p := PendingRAR{RARNTI: raRNTI, PrachTTI: info.PrachTTI, NofGrants: 1}
	p.Grants[0] = info
	s.pendingRARs = append(s.pendingRARs, p)
	return nil
}

// SchedMsg3 decodes the RAR grants finalized in dlResult and enqueues the
// implied Msg3s into the context for the Msg3 TTI.
func (s *RandomAccessScheduler) SchedMsg3(ctx context.Context, msg3Sf *SubframeContext, dlResult *DLResult) {
	for i := range dlResult.RARs {
		for _, grant := range dlResult.RARs[i].Grants {
			length, rbStart := Type2FromRIV(grant.RBA, s.cfg.NofPRB)
			m := PendingMsg3{
				RNTI:     grant.Data.TempCRNTI,
				PRBStart: rbStart,
				NofPRB:   length,
				MCS:      grant.TruncMCS,
			}
			if !msg3Sf.EnqueueMsg3(m) {
				s.log.Error(ctx, "failed to queue Msg3",
					logging.Uint32("rnti", uint32(m.RNTI)),
					logging.Uint32("tti_tx_ul", msg3Sf.TTITxUL()),
				)
				s.metrics.IncMsg3Dropped()
				continue
			}
			s.log.Debug(ctx, "queueing Msg3",
				logging.Uint32("rnti", uint32(m.RNTI)),
				logging.Uint32("tti_tx_ul", msg3Sf.TTITxUL()),
			)
			s.metrics.IncMsg3Enqueued()
		}
	}
}

// PendingCount returns the number of pending replies in the FIFO.
func (s *RandomAccessScheduler) PendingCount() int { return len(s.pendingRARs) }

// Reset drops all pending replies.
func (s *RandomAccessScheduler) Reset() {
	s.pendingRARs = nil
}
