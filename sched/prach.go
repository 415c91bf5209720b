package sched

// prachFddPattern describes one row of the FDD PRACH configuration table
// (3GPP TS 36.211 Table 5.7.1-2): which system frames carry PRACH and on
// which subframes.
type prachFddPattern struct {
	evenFramesOnly bool
	subframes      []uint32
}

var prachFddTable = [16]prachFddPattern{
	{true, []uint32{1}},
	{true, []uint32{4}},
	{true, []uint32{7}},
	{false, []uint32{1}},
	{false, []uint32{4}},
	{false, []uint32{7}},
	{false, []uint32{1, 6}},
	{false, []uint32{2, 7}},
	{false, []uint32{3, 8}},
	{false, []uint32{1, 4, 7}},
	{false, []uint32{2, 5, 8}},
	{false, []uint32{3, 6, 9}},
	{false, []uint32{0, 2, 4, 6, 8}},
	{false, []uint32{1, 3, 5, 7, 9}},
	{false, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}},
	{true, []uint32{9}},
}

// PrachTTIOpportunity reports whether the given TTI is a PRACH opportunity
// for the given FDD PRACH configuration index. Indices above 15 (preamble
// formats beyond 0) are not supported and never match.
func PrachTTIOpportunity(configIdx, tti uint32) bool {
	if configIdx >= uint32(len(prachFddTable)) {
		return false
	}
	p := prachFddTable[configIdx]
	if p.evenFramesOnly && FrameNumber(tti)%2 != 0 {
		return false
	}
	sf := SubframeIdx(tti)
	for _, s := range p.subframes {
		if s == sf {
			return true
		}
	}
	return false
}
