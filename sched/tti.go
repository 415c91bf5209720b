package sched

// LTE timing constants. One TTI is 1ms; the TTI counter wraps after 1024
// radio frames of 10 subframes each.
const (
	// NofTTIs is the size of the wrapping TTI space.
	NofTTIs = 10240

	// TxDelay is the FDD offset between a receive TTI and the downlink
	// transmit TTI its decisions apply to.
	TxDelay = 4

	// FddHarqDelay is the FDD HARQ feedback offset. The uplink transmit TTI
	// for a receive TTI is TxDelay + FddHarqDelay subframes later.
	FddHarqDelay = 4

	// Msg3Delay is the number of receive TTIs between the context that
	// finalizes a RAR grant and the context that carries its Msg3.
	Msg3Delay = 2

	// MinRARDelay is the earliest offset, in TTIs after the PRACH, at which
	// a random access reply may be transmitted.
	MinRARDelay = 3
)

// TTIAdd advances a TTI index by n subframes, wrapping at NofTTIs.
func TTIAdd(tti, n uint32) uint32 {
	return (tti + n) % NofTTIs
}

// TTIInterval returns the wrap-aware number of TTIs elapsed from earlier to
// later.
func TTIInterval(later, earlier uint32) uint32 {
	return (later + NofTTIs - earlier) % NofTTIs
}

// IsInTTIInterval reports whether tti falls inside the wrap-aware closed
// interval [begin, end].
func IsInTTIInterval(tti, begin, end uint32) bool {
	return TTIInterval(tti, begin) <= TTIInterval(end, begin)
}

// SubframeIdx returns the subframe index (0..9) of a TTI.
func SubframeIdx(tti uint32) uint32 { return tti % 10 }

// FrameNumber returns the system frame number (0..1023) of a TTI.
func FrameNumber(tti uint32) uint32 { return (tti / 10) % 1024 }

// ttiRxAckOf returns the TTI whose HARQ feedback timing aligns with the given
// receive TTI.
func ttiRxAckOf(ttiRx uint32) uint32 {
	return TTIAdd(ttiRx, TxDelay+FddHarqDelay)
}
