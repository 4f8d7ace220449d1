package fec

import (
	"go.uber.org/zap"

	"roc/internal/packet"
	"roc/internal/rtp"
)

// halfSBNWindow is half of the 16-bit sbn space; a forward delta smaller
// than this is "a later block," anything else is treated as stale.
const halfSBNWindow = 1 << 15

// Reader is the receiver-side FEC reader. Source packets are
// forwarded downstream immediately on arrival so recovery never adds
// latency to packets that didn't need it; repair packets are consumed
// internally. A block closes (and repair is attempted) when k source
// packets have been seen, when a packet from a later block arrives, or
// when Poll is called after a stall.
type Reader struct {
	decoder BlockDecoder
	scheme  packet.FECScheme

	blockOpen   bool
	curSBN      uint16
	k, m        int
	payloadSize int
	delivered   []bool // esi -> already forwarded directly this block
	deliveredN  int
	held        []*packet.Packet // referenced while the decoder views their payloads

	geomKnown     bool
	baseSeq       uint16
	baseTS        uint32
	packetSamples uint32
	sourceID      uint32
	payloadType   uint8

	pktPool *packet.Pool
	bufPool *packet.BufferPool
	next    Downstream
	log     *zap.Logger

	recovered     uint64
	unrecoverable uint64
}

// NewReader constructs a FEC reader. next receives both directly
// forwarded source packets and packets recovered at block close.
func NewReader(decoder BlockDecoder, scheme packet.FECScheme, pktPool *packet.Pool, bufPool *packet.BufferPool, next Downstream, log *zap.Logger) *Reader {
	return &Reader{decoder: decoder, scheme: scheme, pktPool: pktPool, bufPool: bufPool, next: next, log: log}
}

// Write accepts one packet carrying a parsed FEC view (source or
// repair). The reader owns repair packets outright and holds an extra
// reference on source packets until the block closes, since the decoder
// keeps views of their payload bytes.
func (r *Reader) Write(p *packet.Packet) error {
	fv := p.FEC()
	if !r.blockOpen {
		r.openBlock(fv)
	} else if fv.SourceBlockNum != r.curSBN {
		delta := packet.SBNDelta(r.curSBN, fv.SourceBlockNum)
		if delta > 0 && delta < halfSBNWindow {
			if err := r.closeBlock(); err != nil {
				p.Release()
				return err
			}
			r.openBlock(fv)
		} else {
			p.Release() // stale or duplicate block; drop silently
			return nil
		}
	}

	esi := int(fv.EncodingSymbolID)
	if esi < 0 || esi >= r.k+r.m {
		p.Release()
		return nil
	}
	r.held = append(r.held, p.Retain())
	_ = r.decoder.Set(esi, fv.Payload.Bytes())

	if p.Flags().Has(packet.FlagAudio) {
		if !r.delivered[esi] {
			r.delivered[esi] = true
			r.deliveredN++
		}
		r.rememberGeometry(p)
		if err := r.next.Write(p); err != nil {
			return err
		}
		if r.deliveredN >= r.k {
			return r.closeBlock()
		}
		return nil
	}
	p.Release() // repair packets are consumed here, never forwarded
	return nil
}

// Poll forces the currently-open block closed, attempting repair for
// whatever sources never arrived. Intended to be called by the session
// loop after a stall so recovery latency is bounded even when a block
// never fills.
func (r *Reader) Poll() error {
	if !r.blockOpen {
		return nil
	}
	return r.closeBlock()
}

func (r *Reader) openBlock(fv packet.FECView) {
	r.blockOpen = true
	r.curSBN = fv.SourceBlockNum
	r.k = int(fv.SourceBlockLen)
	r.m = int(fv.BlockLen) - r.k
	r.payloadSize = fv.Payload.Len()
	r.delivered = make([]bool, fv.BlockLen)
	r.deliveredN = 0
	r.geomKnown = false
	if err := r.decoder.Begin(r.k, r.m, r.payloadSize); err != nil && r.log != nil {
		r.log.Warn("fec: decoder failed to begin block", zap.Error(err))
	}
}

func (r *Reader) rememberGeometry(p *packet.Packet) {
	if r.geomKnown {
		return
	}
	rv := p.RTP()
	fv := p.FEC()
	esi := fv.EncodingSymbolID
	r.baseSeq = rv.SeqNum - uint16(esi)
	r.baseTS = rv.Timestamp - esi*rv.Duration
	r.packetSamples = rv.Duration
	r.sourceID = rv.SourceID
	r.payloadType = rv.PayloadType
	r.geomKnown = true
}

func (r *Reader) closeBlock() error {
	err := r.repairMissing()
	r.decoder.End()
	for _, hp := range r.held {
		hp.Release()
	}
	r.held = r.held[:0]
	r.blockOpen = false
	return err
}

func (r *Reader) repairMissing() error {
	if !r.geomKnown {
		return nil
	}
	for i := 0; i < r.k; i++ {
		if r.delivered[i] {
			continue
		}
		payload, ok := r.decoder.Repair(i)
		if !ok {
			r.unrecoverable++
			continue
		}
		p, err := r.synthesize(i, payload)
		if err != nil {
			return err
		}
		r.recovered++
		if err := r.next.Write(p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) synthesize(esi int, payload []byte) (*packet.Packet, error) {
	buf, err := r.bufPool.Get()
	if err != nil {
		return nil, err
	}
	total := rtp.HeaderLen + len(payload)
	// Shift the window's origin so the synthesized payload lands on the
	// same aligned boundary the packetizer places real payloads on.
	shift := rtp.AlignOffset(rtp.HeaderLen, rtp.PayloadAlign)
	if shift+total > buf.Cap() {
		shift = 0
	}
	data, err := buf.Narrow(shift, total)
	if err != nil {
		buf.Release()
		return nil, err
	}
	buf.Release()
	raw := data.Bytes()
	seq := r.baseSeq + uint16(esi)
	ts := r.baseTS + uint32(esi)*r.packetSamples
	_ = rtp.Write(raw[:rtp.HeaderLen], rtp.Header{
		PayloadType: r.payloadType, SeqNum: seq, Timestamp: ts, SourceID: r.sourceID,
	})
	copy(raw[rtp.HeaderLen:], payload)

	p, err := r.pktPool.Get()
	if err != nil {
		data.Release()
		return nil, err
	}
	if err := p.SetData(data); err != nil {
		return nil, err
	}
	payloadSlice, err := data.Narrow(rtp.HeaderLen, len(payload))
	if err != nil {
		return nil, err
	}
	_ = p.AddRTP(packet.RTPView{
		SourceID: r.sourceID, SeqNum: seq, Timestamp: ts, Duration: r.packetSamples,
		PayloadType: r.payloadType, Payload: payloadSlice,
	})
	_ = p.AddFEC(packet.FECView{
		Scheme: r.scheme, SourceBlockNum: r.curSBN, EncodingSymbolID: uint32(esi),
		SourceBlockLen: uint16(r.k), BlockLen: uint16(r.k + r.m), Payload: payloadSlice.Retain(),
	})
	_ = p.MarkAudio()
	return p, nil
}

// Recovered reports how many source packets have been reconstructed.
func (r *Reader) Recovered() uint64 { return r.recovered }

// Unrecoverable reports how many source packets could not be
// reconstructed given the symbols the reader saw.
func (r *Reader) Unrecoverable() uint64 { return r.unrecoverable }
