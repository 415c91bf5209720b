package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func newTestPipeline(t *testing.T, cfg CellConfig) (*CarrierPipeline, *stubEngine, *stubRegistry, *countingMetrics) {
	t.Helper()
	users := newStubRegistry()
	metrics := &countingMetrics{}
	c := NewCarrierPipeline(users, nil, 0, nil, metrics)
	eng := &stubEngine{nofPRB: cfg.NofPRB}
	err := c.CarrierCfg(CarrierParams{
		Cell: cfg,
		DL:   stubDLEngine{e: eng},
		UL:   stubULEngine{e: eng},
	})
	if err != nil {
		t.Fatalf("CarrierCfg: %v", err)
	}
	return c, eng, users, metrics
}

func TestCarrierCfgValidation(t *testing.T) {
	eng := &stubEngine{nofPRB: 25}
	c := NewCarrierPipeline(newStubRegistry(), nil, 0, nil, nil)

	if err := c.CarrierCfg(CarrierParams{Cell: testCell(), UL: stubULEngine{e: eng}}); err == nil {
		t.Error("CarrierCfg without a DL engine should fail")
	}
	if err := c.CarrierCfg(CarrierParams{Cell: testCell(), DL: stubDLEngine{e: eng}}); err == nil {
		t.Error("CarrierCfg without a UL engine should fail")
	}
	cfg := testCell()
	cfg.NofPRB = 0
	if err := c.CarrierCfg(CarrierParams{Cell: cfg, DL: stubDLEngine{e: eng}, UL: stubULEngine{e: eng}}); err == nil {
		t.Error("CarrierCfg with zero bandwidth should fail")
	}
}

func TestGenerateBeforeCfg(t *testing.T) {
	ctx := context.Background()
	c := NewCarrierPipeline(newStubRegistry(), nil, 0, nil, nil)
	if sf := c.GenerateTTIResult(ctx, 100); sf != nil {
		t.Error("GenerateTTIResult before CarrierCfg should return nil")
	}
	if err := c.DLRachInfo(ctx, RachInfo{PrachTTI: 100}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("DLRachInfo before CarrierCfg = %v, want ErrNotConfigured", err)
	}
}

func TestGenerateTTIResultIdempotent(t *testing.T) {
	ctx := context.Background()
	c, eng, _, metrics := newTestPipeline(t, testCell())

	sf1 := c.GenerateTTIResult(ctx, 200)
	if sf1 == nil || sf1.TTIRx() != 200 {
		t.Fatalf("GenerateTTIResult(200) = %v", sf1)
	}
	dlCalls := len(eng.dlSchedTTIs)
	ulCalls := len(eng.ulSchedTTIs)

	sf2 := c.GenerateTTIResult(ctx, 200)
	if sf2 != sf1 {
		t.Error("repeated call should return the memoized context")
	}
	if len(eng.dlSchedTTIs) != dlCalls || len(eng.ulSchedTTIs) != ulCalls {
		t.Error("repeated call should not re-run the allocation engines")
	}
	if metrics.ttiObservations != 1 {
		t.Errorf("ttiObservations = %d, want 1", metrics.ttiObservations)
	}
}

func TestGenerateTTIResultWrap(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestPipeline(t, testCell())

	sf := c.GenerateTTIResult(ctx, NofTTIs+5)
	if sf == nil || sf.TTIRx() != 5 {
		t.Fatalf("TTIRx = %v, want the TTI normalized to 5", sf)
	}
	if got := c.GenerateTTIResult(ctx, 5); got != sf {
		t.Error("normalized TTI should hit the memoized context")
	}
}

func TestULDLPriorityAlternates(t *testing.T) {
	ctx := context.Background()
	c, eng, _, _ := newTestPipeline(t, testCell())

	c.GenerateTTIResult(ctx, 200) // even: UL first
	c.GenerateTTIResult(ctx, 201) // odd: DL first
	want := []string{"ul", "dl", "dl", "ul"}
	if len(eng.callOrder) != len(want) {
		t.Fatalf("callOrder = %v, want %v", eng.callOrder, want)
	}
	for i, w := range want {
		if eng.callOrder[i] != w {
			t.Fatalf("callOrder = %v, want %v", eng.callOrder, want)
		}
	}
}

func TestGeneratePhich(t *testing.T) {
	ctx := context.Background()
	c, _, users, _ := newTestPipeline(t, testCell())

	users.add(0x46, &stubUser{carriers: map[uint32]uint32{0: 0}, harq: stubHarq{pending: true, ack: true}})
	users.add(0x47, &stubUser{carriers: map[uint32]uint32{0: 0}, harq: stubHarq{pending: true, ack: false}})
	users.add(0x48, &stubUser{carriers: map[uint32]uint32{0: 0}})                                           // nothing pending
	users.add(0x49, &stubUser{carriers: map[uint32]uint32{1: 0}, harq: stubHarq{pending: true, ack: true}}) // other carrier

	sf := c.GenerateTTIResult(ctx, 300)
	want := []PhichEntry{{RNTI: 0x46, Ack: true}, {RNTI: 0x47, Ack: false}}
	if len(sf.ULResult.PHICH) != len(want) {
		t.Fatalf("PHICH = %+v, want %+v", sf.ULResult.PHICH, want)
	}
	for i, w := range want {
		if sf.ULResult.PHICH[i] != w {
			t.Errorf("PHICH[%d] = %+v, want %+v", i, sf.ULResult.PHICH[i], w)
		}
	}
}

func TestFinishTTINotified(t *testing.T) {
	ctx := context.Background()
	c, _, users, _ := newTestPipeline(t, testCell())
	u := &stubUser{carriers: map[uint32]uint32{0: 0}}
	users.add(0x46, u)

	c.GenerateTTIResult(ctx, 42)
	if len(u.finishedTTIs) != 1 || u.finishedTTIs[0] != 42 {
		t.Errorf("finishedTTIs = %v, want [42]", u.finishedTTIs)
	}
}

// TestMsg3Deferral covers the full random access path: preamble in, RAR out
// two TTIs before the Msg3, Msg3 allocation when its slot is generated.
func TestMsg3Deferral(t *testing.T) {
	ctx := context.Background()
	c, eng, users, metrics := newTestPipeline(t, testCell())
	users.add(0x50, &stubUser{carriers: map[uint32]uint32{0: 0}})

	if err := c.DLRachInfo(ctx, RachInfo{PrachTTI: 90, PreambleIdx: 7, TempCRNTI: 0x50}); err != nil {
		t.Fatalf("DLRachInfo: %v", err)
	}
	if metrics.pendingRARs != 1 {
		t.Errorf("pendingRARs gauge = %d, want 1", metrics.pendingRARs)
	}

	// ttiRx 89 transmits DL at TTI 93, the first TTI of the response window.
	sf := c.GenerateTTIResult(ctx, 89)
	if len(sf.DLResult.RARs) != 1 {
		t.Fatalf("RARs = %+v, want the reply scheduled", sf.DLResult.RARs)
	}
	res := sf.DLResult.RARs[0]
	if res.RARNTI != 1 || len(res.Grants) != 1 || res.Grants[0].Data.TempCRNTI != 0x50 {
		t.Fatalf("RAR = %+v", res)
	}
	if metrics.msg3Enqueued != 1 {
		t.Errorf("msg3Enqueued = %d, want 1", metrics.msg3Enqueued)
	}
	if metrics.pendingRARs != 0 {
		t.Errorf("pendingRARs gauge = %d, want 0 after scheduling", metrics.pendingRARs)
	}

	// The Msg3 surfaces in the uplink result two receive TTIs later, on the
	// resources the RAR grant encoded.
	c.GenerateTTIResult(ctx, 90)
	msg3 := c.GenerateTTIResult(ctx, 91)
	wantLen, wantStart := Type2FromRIV(res.Grants[0].RBA, 25)
	if len(eng.ulAllocs) != 1 {
		t.Fatalf("ulAllocs = %+v, want one Msg3 allocation", eng.ulAllocs)
	}
	if got := eng.ulAllocs[0]; got.RBStart != wantStart || got.NofRB != wantLen {
		t.Errorf("Msg3 allocation = %+v, want PRB %d len %d", got, wantStart, wantLen)
	}
	if len(msg3.ULResult.Data) != 1 {
		t.Errorf("ULResult.Data = %+v, want the Msg3 entry", msg3.ULResult.Data)
	}
	if len(msg3.PendingMsg3s()) != 0 {
		t.Errorf("Msg3 queue not drained: %v", msg3.PendingMsg3s())
	}
}

func TestPrachAndPucchReservation(t *testing.T) {
	ctx := context.Background()
	c, _, _, _ := newTestPipeline(t, testCell())

	// ttiRx 203 transmits UL at TTI 211, subframe 1: a PRACH opportunity for
	// configuration index 3. PRACH occupies PRB 2..7, PUCCH the band edges.
	sf := c.GenerateTTIResult(ctx, 203)
	for i := 0; i < 25; i++ {
		want := i < 2 || (i >= 2 && i < 8) || i >= 23
		if sf.ULMask().Test(i) != want {
			t.Errorf("ULMask bit %d = %v, want %v", i, sf.ULMask().Test(i), want)
		}
	}

	// Off-opportunity subframes only carry the PUCCH reservation.
	sf = c.GenerateTTIResult(ctx, 204)
	if sf.ULMask().Count() != 4 {
		t.Errorf("ULMask count = %d, want the 4 PUCCH PRBs", sf.ULMask().Count())
	}
}

func TestPucchCollisionDetected(t *testing.T) {
	ctx := context.Background()
	cfg := testCell()
	cfg.PrachFreqOffset = 0 // PRACH overlaps the PUCCH band edge
	c, _, _, metrics := newTestPipeline(t, cfg)

	c.GenerateTTIResult(ctx, 203)
	if metrics.pucchCollision != 1 {
		t.Errorf("pucchCollision = %d, want 1", metrics.pucchCollision)
	}
}

func TestSixPRBCell(t *testing.T) {
	ctx := context.Background()
	cfg := CellConfig{
		NofPRB:         6,
		SIWindowMs:     10,
		PrachConfig:    3,
		PrachRARWindow: 10,
		NrbPucch:       1,
	}
	c, _, _, metrics := newTestPipeline(t, cfg)

	// ttiRx 3 acknowledges at TTI 11, a PRACH opportunity: the DL subframe is
	// blanked entirely and the PRACH/PUCCH overlap is not an error.
	sf := c.GenerateTTIResult(ctx, 3)
	if sf.DLMask().Count() != 6 {
		t.Errorf("DLMask count = %d, want the subframe blanked", sf.DLMask().Count())
	}
	if metrics.pucchCollision != 0 {
		t.Errorf("pucchCollision = %d, want 0 on a 6 PRB cell", metrics.pucchCollision)
	}

	sf = c.GenerateTTIResult(ctx, 4)
	if sf.DLMask().Any() {
		t.Errorf("DLMask = %s, want clear off the PRACH alignment", sf.DLMask().Hex())
	}
}

func TestSetDLTTIMask(t *testing.T) {
	ctx := context.Background()
	c, eng, _, _ := newTestPipeline(t, testCell())

	mask := make([]uint8, 10)
	mask[5] = 1
	c.SetDLTTIMask(mask)

	// ttiRx 11 transmits DL at TTI 15, subframe 5: DL is disabled there.
	sf := c.GenerateTTIResult(ctx, 11)
	if len(sf.DLResult.BC) != 0 || len(sf.DLResult.RARs) != 0 {
		t.Errorf("DL results on a masked subframe: %+v", sf.DLResult)
	}
	if len(eng.callOrder) != 1 || eng.callOrder[0] != "ul" {
		t.Errorf("callOrder = %v, want only the UL engine", eng.callOrder)
	}

	// SIB1 would otherwise go out at TTI 25; masking subframe 5 suppresses it.
	sf = c.GenerateTTIResult(ctx, 21)
	if len(sf.DLResult.BC) != 0 {
		t.Errorf("BC = %+v, want none with subframe 5 masked", sf.DLResult.BC)
	}
}

func TestCarrierReset(t *testing.T) {
	ctx := context.Background()
	c, _, _, metrics := newTestPipeline(t, testCell())

	if err := c.DLRachInfo(ctx, RachInfo{PrachTTI: 100}); err != nil {
		t.Fatalf("DLRachInfo: %v", err)
	}
	c.Reset()
	if metrics.pendingRARs != 0 {
		t.Errorf("pendingRARs gauge = %d, want 0 after Reset", metrics.pendingRARs)
	}

	// The dropped preamble never schedules.
	sf := c.GenerateTTIResult(ctx, 99)
	if len(sf.DLResult.RARs) != 0 {
		t.Errorf("RARs = %+v, want none after Reset", sf.DLResult.RARs)
	}
}

// TestConcurrentRachInfo exercises the carrier guard: preambles arrive from
// the receive path while the scheduling goroutine generates TTIs.
func TestConcurrentRachInfo(t *testing.T) {
	ctx := context.Background()
	c, _, users, _ := newTestPipeline(t, testCell())
	users.add(0x50, &stubUser{carriers: map[uint32]uint32{0: 0}})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for tti := uint32(0); tti < 200; tti++ {
			c.GenerateTTIResult(ctx, tti)
		}
	}()
	go func() {
		defer wg.Done()
		for i := uint32(0); i < 50; i++ {
			_ = c.DLRachInfo(ctx, RachInfo{PrachTTI: i * 4, TempCRNTI: 0x50, PreambleIdx: i})
		}
	}()
	wg.Wait()
}
