package packet

import "sync/atomic"

// Packet is a reference-counted, immutable-after-composition value with
// a raw byte slice and up to four parsed views selected by Flags. Views
// share storage with the backing buffer; nothing here copies payload
// bytes out of the slice that composed the packet.
//
// Acquisition and release go through a Pool. The refcount uses a
// relaxed increment (Retain) and a release/acquire decrement (Release):
// the increment only needs to be visible before the matching decrement,
// which is exactly what Retain/Release provide by construction: every
// Retain happens-before the Release that observes the resulting count.
type Packet struct {
	pool *Pool
	idx  int32 // slot index within pool; stable across reuse
	data Slice

	flags atomic.Uint32

	udp UDPView
	rtp RTPView
	fec FECView

	refs atomic.Int32
}

// Flags returns the current view bitmap.
func (p *Packet) Flags() Flags { return Flags(p.flags.Load()) }

// SetData assigns the packet's backing byte slice. It may be called
// exactly once; a second call returns ErrDataImmutable.
func (p *Packet) SetData(s Slice) error {
	if !p.data.IsNil() {
		return ErrDataImmutable
	}
	p.data = s
	return nil
}

// Data returns the packet's raw byte slice.
func (p *Packet) Data() Slice { return p.data }

// GrowData widens the packet's visible data window to n bytes within
// its backing buffer's capacity, the one sanctioned mutation after
// composition, for composers that append trailing bytes in place (a FEC
// footer behind an already-composed RTP payload).
func (p *Packet) GrowData(n int) error { return p.data.Grow(n) }

// AddUDP attaches the UDP view and sets FlagUDP. Returns ErrDoubleFlag
// if already present.
func (p *Packet) AddUDP(v UDPView) error {
	return p.addFlag(FlagUDP, func() { p.udp = v })
}

// UDP returns the UDP view; valid only when Flags().Has(FlagUDP).
func (p *Packet) UDP() UDPView { return p.udp }

// AddRTP attaches the RTP view and sets FlagRTP.
func (p *Packet) AddRTP(v RTPView) error {
	return p.addFlag(FlagRTP, func() { p.rtp = v })
}

// RTP returns the RTP view; valid only when Flags().Has(FlagRTP).
func (p *Packet) RTP() RTPView { return p.rtp }

// AddFEC attaches the FEC view and sets FlagFEC.
func (p *Packet) AddFEC(v FECView) error {
	return p.addFlag(FlagFEC, func() { p.fec = v })
}

// FEC returns the FEC view; valid only when Flags().Has(FlagFEC).
func (p *Packet) FEC() FECView { return p.fec }

// MarkAudio sets FlagAudio (the packet carries a source-stream role).
func (p *Packet) MarkAudio() error { return p.addFlag(FlagAudio, nil) }

// MarkRepair sets FlagRepair (the packet carries a FEC repair role).
func (p *Packet) MarkRepair() error { return p.addFlag(FlagRepair, nil) }

func (p *Packet) addFlag(f Flags, apply func()) error {
	for {
		cur := Flags(p.flags.Load())
		if cur.Has(f) {
			return ErrDoubleFlag
		}
		if p.flags.CompareAndSwap(uint32(cur), uint32(cur|f)) {
			if apply != nil {
				apply()
			}
			return nil
		}
	}
}

// Retain increments the reference count. Pair every Retain with a
// Release.
func (p *Packet) Retain() *Packet {
	p.refs.Add(1)
	return p
}

// Release decrements the reference count, returning the packet (and its
// backing slice) to its originating pool once the count reaches zero.
// Each view's payload subslice holds its own reference to the backing
// buffer, dropped here alongside the data reference.
func (p *Packet) Release() {
	if p.refs.Add(-1) == 0 {
		f := p.Flags()
		if f.Has(FlagRTP) {
			p.rtp.Payload.Release()
		}
		if f.Has(FlagFEC) {
			p.fec.Payload.Release()
		}
		p.data.Release()
		p.pool.put(p)
	}
}

// Compare orders two packets: RTP sequence/timestamp comparison with
// signed modular arithmetic when both packets carry an RTP view,
// otherwise FEC (sbn, esi) lexicographic order. It panics if neither
// packet carries a comparable view; callers are expected to route by
// flag before ordering.
func Compare(a, b *Packet) int {
	af, bf := a.Flags(), b.Flags()
	if af.Has(FlagRTP) && bf.Has(FlagRTP) {
		if d := SeqDelta(b.rtp.SeqNum, a.rtp.SeqNum); d != 0 {
			return sign(int64(d))
		}
		return sign(TSDelta(b.rtp.Timestamp, a.rtp.Timestamp))
	}
	if af.Has(FlagFEC) && bf.Has(FlagFEC) {
		if a.fec.SourceBlockNum != b.fec.SourceBlockNum {
			return sign(int64(SBNDelta(b.fec.SourceBlockNum, a.fec.SourceBlockNum)))
		}
		if a.fec.EncodingSymbolID < b.fec.EncodingSymbolID {
			return -1
		}
		if a.fec.EncodingSymbolID > b.fec.EncodingSymbolID {
			return 1
		}
		return 0
	}
	panic("packet: Compare requires both packets to share a comparable view")
}

func sign(d int64) int {
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	default:
		return 0
	}
}
