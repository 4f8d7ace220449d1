package packet

// Signed-modular arithmetic helpers shared by packet ordering, the
// validator's jump bounds, and the FEC reader's block-boundary
// detection. All of them express "distance forward from a to b" as a
// signed delta that wraps around the field's bit width, so comparisons
// stay correct across a sequence-number or timestamp rollover.

// SeqDelta returns b-a as a signed 16-bit wraparound distance: positive
// when b is ahead of a, negative when behind, using the half-range
// convention (deltas are taken in [-32768, 32767]).
func SeqDelta(a, b uint16) int32 {
	return int32(int16(b - a))
}

// TSDelta returns b-a as a signed 32-bit wraparound distance.
func TSDelta(a, b uint32) int64 {
	return int64(int32(b - a))
}

// SBNDelta returns b-a as a signed 16-bit wraparound distance, the same
// representation used for RTP sequence numbers since both are 16-bit
// fields compared modulo 2^16.
func SBNDelta(a, b uint16) int32 {
	return SeqDelta(a, b)
}
