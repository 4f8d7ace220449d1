package fec

import (
	"go.uber.org/zap"

	"roc/internal/packet"
	"roc/internal/rtp"
)

// Downstream is what the FEC writer forwards composed packets to: the
// interleaver, in the sender pipeline.
type Downstream interface {
	Write(p *packet.Packet) error
}

// Writer is the sender-side FEC writer. It buffers k source packets,
// and on the k-th packet asks the encoder to compute m repair
// payloads, composes footers/headers, and forwards all k+m packets
// downstream, sources first and repairs after.
type Writer struct {
	encoder     BlockEncoder
	scheme      packet.FECScheme
	k, m        int
	pendingK    int
	pendingM    int
	payloadSize int // pinned at the first packet of the stream
	sbn         uint16
	alive       bool

	scratch []*packet.Packet // buffered source packets for the open block

	pktPool *packet.Pool
	bufPool *packet.BufferPool
	next    Downstream
	log     *zap.Logger

	recoveryDropped uint64 // repair generation skipped while dead
}

// NewWriter constructs a FEC writer. pktPool/bufPool back the repair
// packets this writer composes; next receives every forwarded packet.
func NewWriter(encoder BlockEncoder, scheme packet.FECScheme, k, m int, pktPool *packet.Pool, bufPool *packet.BufferPool, next Downstream, log *zap.Logger) *Writer {
	return &Writer{
		encoder: encoder, scheme: scheme, k: k, m: m, pendingK: k, pendingM: m,
		alive: true, scratch: make([]*packet.Packet, 0, k),
		pktPool: pktPool, bufPool: bufPool, next: next, log: log,
	}
}

// Resize schedules a new (k, m) to take effect at the next block
// boundary; the currently-open block finishes with its original
// dimensions.
func (w *Writer) Resize(k, m int) {
	w.pendingK, w.pendingM = k, m
}

// Write accepts one composed RTP source packet (already carrying
// FlagRTP and FlagAudio, with spare buffer capacity for the footer) and
// buffers it for the current block.
func (w *Writer) Write(p *packet.Packet) error {
	if w.payloadSize == 0 {
		w.payloadSize = p.RTP().Payload.Len()
	}
	w.scratch = append(w.scratch, p)
	if len(w.scratch) < w.k {
		return nil
	}
	return w.closeBlock()
}

// Flush forwards any buffered source packets without waiting for a full
// block; used at stream end so the last partial block is not lost.
func (w *Writer) Flush() error {
	if len(w.scratch) == 0 {
		return nil
	}
	return w.closeBlock()
}

func (w *Writer) closeBlock() error {
	k := len(w.scratch)
	n := k + w.m

	if w.alive {
		if err := w.encoder.Begin(k, w.m, w.payloadSize); err != nil {
			w.alive = false
		}
	}
	if w.alive {
		for i, p := range w.scratch {
			if err := w.encoder.Set(i, p.RTP().Payload.Bytes()); err != nil {
				w.alive = false
				break
			}
		}
	}
	if w.alive {
		if err := w.encoder.Fill(); err != nil {
			w.alive = false
			if w.log != nil {
				w.log.Warn("fec: repair generation failed, writer going dead", zap.Error(err))
			}
		}
	}

	for i, p := range w.scratch {
		w.composeSourceFooter(p, uint16(k), uint16(n), i)
		if err := w.next.Write(p); err != nil {
			return err
		}
	}

	if w.alive {
		for i := 0; i < w.m; i++ {
			payload, err := w.encoder.Get(k + i)
			if err != nil {
				break
			}
			rp, err := w.composeRepairPacket(payload, uint16(k), uint16(n), k+i)
			if err != nil {
				return err
			}
			if err := w.next.Write(rp); err != nil {
				return err
			}
		}
	} else {
		w.recoveryDropped += uint64(w.m)
	}

	if w.alive {
		w.encoder.End()
	}

	w.sbn++ // wraps modulo 2^16 via uint16 overflow
	w.k, w.m = w.pendingK, w.pendingM
	w.scratch = w.scratch[:0]
	return nil
}

func (w *Writer) composeSourceFooter(p *packet.Packet, k, n uint16, esi int) {
	payload := p.RTP().Payload
	switch w.scheme {
	case packet.SchemeRS8M:
		footer := make([]byte, RS8MFooterLen)
		WriteRS8MFooter(footer, RS8MFooter{SBN: w.sbn, K: k, ESI: uint8(esi), M: uint8(n - k)})
		w.appendFooter(p, footer)
	case packet.SchemeLDPCStaircase:
		footer := make([]byte, LDPCFooterLen)
		WriteLDPCFooter(footer, LDPCFooter{SBN: w.sbn, ESI: uint16(esi), K: k, N: n})
		w.appendFooter(p, footer)
	}
	_ = p.AddFEC(packet.FECView{
		Scheme: w.scheme, SourceBlockNum: w.sbn, EncodingSymbolID: uint32(esi),
		SourceBlockLen: k, BlockLen: n, Payload: payload.Retain(),
	})
}

// appendFooter writes footer bytes just past the packet's current
// visible length, widening its data window within the backing buffer's
// capacity. The packetizer reserves that spare room when it sizes
// packet buffers.
func (w *Writer) appendFooter(p *packet.Packet, footer []byte) {
	cur := p.Data().Len()
	if err := p.GrowData(cur + len(footer)); err != nil {
		if w.log != nil {
			w.log.Warn("fec: no spare capacity for footer, sending packet bare", zap.Error(err))
		}
		return
	}
	copy(p.Data().Bytes()[cur:], footer)
}

// composeRepairPacket builds a repair packet carrying only the FEC
// header followed by the payload, with no RTP header at all, matching what
// udpio.Receiver's EndpointRepair parser expects to find at offset zero
// of the datagram.
func (w *Writer) composeRepairPacket(payload []byte, k, n uint16, esi int) (*packet.Packet, error) {
	var footerLen int
	switch w.scheme {
	case packet.SchemeRS8M:
		footerLen = RS8MFooterLen
	case packet.SchemeLDPCStaircase:
		footerLen = LDPCFooterLen
	}
	total := footerLen + len(payload)
	buf, err := w.bufPool.Get()
	if err != nil {
		return nil, err
	}
	// The FEC header is the only header on a repair packet, so its
	// alignment shift is computed from the footer length rather than the
	// RTP header length.
	shift := rtp.AlignOffset(footerLen, rtp.PayloadAlign)
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

	switch w.scheme {
	case packet.SchemeRS8M:
		WriteRS8MFooter(raw[:footerLen], RS8MFooter{SBN: w.sbn, K: k, ESI: uint8(esi), M: uint8(n - k)})
	case packet.SchemeLDPCStaircase:
		WriteLDPCFooter(raw[:footerLen], LDPCFooter{SBN: w.sbn, ESI: uint16(esi), K: k, N: n})
	}
	copy(raw[footerLen:], payload)

	p, err := w.pktPool.Get()
	if err != nil {
		data.Release()
		return nil, err
	}
	if err := p.SetData(data); err != nil {
		return nil, err
	}
	payloadSlice, err := data.Narrow(footerLen, len(payload))
	if err != nil {
		return nil, err
	}
	_ = p.AddFEC(packet.FECView{
		Scheme: w.scheme, SourceBlockNum: w.sbn, EncodingSymbolID: uint32(esi),
		SourceBlockLen: k, BlockLen: n, Payload: payloadSlice,
	})
	_ = p.MarkRepair()
	return p, nil
}

// Alive reports whether the writer is still generating repair packets.
func (w *Writer) Alive() bool { return w.alive }

// RecoveryDropped reports how many repair packets have been skipped
// since the writer went dead on an encoder failure.
func (w *Writer) RecoveryDropped() uint64 { return w.recoveryDropped }
