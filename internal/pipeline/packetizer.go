// Package pipeline implements the sender-side packetization chain:
// the packetizer turns frames into RTP packets and the interleaver
// reorders them across a fixed-size block to smooth burst losses.
package pipeline

import (
	"github.com/pion/randutil"
	"go.uber.org/zap"

	"roc/internal/frame"
	"roc/internal/packet"
	"roc/internal/rtp"
)

// Downstream receives composed packets, typically a FEC writer or the
// interleaver sitting in front of it.
type Downstream interface {
	Write(p *packet.Packet) error
}

// Packetizer consumes frames and emits one RTP packet every
// packetSamples per-channel samples. The timestamp and sequence
// number both start at a random value; the source-id is fixed for the
// packetizer's lifetime.
type Packetizer struct {
	packetSamples int
	footerSpare   int
	payloadType   uint8
	format        rtp.SampleFormat
	mask          rtp.ChannelMask

	sourceID uint32
	seq      uint16
	ts       uint32

	pending []float64 // leftover interleaved samples not yet packetized

	pktPool *packet.Pool
	bufPool *packet.BufferPool
	next    Downstream
	log     *zap.Logger
}

// NewPacketizer constructs a packetizer. footerSpare is extra capacity
// reserved past the RTP header and PCM payload in every buffer drawn
// from bufPool, so a downstream FEC writer can append its footer
// in-place without reallocating.
func NewPacketizer(packetSamples int, payloadType uint8, format rtp.SampleFormat, mask rtp.ChannelMask, footerSpare int, pktPool *packet.Pool, bufPool *packet.BufferPool, next Downstream, log *zap.Logger) *Packetizer {
	gen := randutil.NewMathRandomGenerator()
	return &Packetizer{
		packetSamples: packetSamples,
		footerSpare:   footerSpare,
		payloadType:   payloadType,
		format:        format,
		mask:          mask,
		sourceID:      gen.Uint32(),
		seq:           uint16(gen.Uint32()),
		ts:            gen.Uint32(),
		pktPool:       pktPool,
		bufPool:       bufPool,
		next:          next,
		log:           log,
	}
}

// SourceID returns the fixed synchronization source identifier this
// packetizer stamps on every packet.
func (pz *Packetizer) SourceID() uint32 { return pz.sourceID }

// Write appends a frame's samples to the packetizer's pending buffer
// and emits as many full packets as are now available.
func (pz *Packetizer) Write(f frame.Frame) error {
	pz.pending = append(pz.pending, f.Samples...)
	channels := pz.mask.Count()
	frameLen := pz.packetSamples * channels
	for len(pz.pending) >= frameLen {
		if err := pz.emit(pz.pending[:frameLen], false); err != nil {
			return err
		}
		pz.pending = append(pz.pending[:0], pz.pending[frameLen:]...)
	}
	return nil
}

// Flush pads any partial packet with silence and emits it with the
// marker bit set, signalling a discontinuity boundary to the receiver.
func (pz *Packetizer) Flush() error {
	if len(pz.pending) == 0 {
		return nil
	}
	channels := pz.mask.Count()
	frameLen := pz.packetSamples * channels
	padded := make([]float64, frameLen)
	copy(padded, pz.pending)
	pz.pending = pz.pending[:0]
	return pz.emit(padded, true)
}

func (pz *Packetizer) emit(samples []float64, marker bool) error {
	channels := pz.mask.Count()
	bytesPerSample := pz.format.BytesPerSample()
	payloadSize := pz.packetSamples * channels * bytesPerSample
	total := rtp.HeaderLen + payloadSize

	buf, err := pz.bufPool.Get()
	if err != nil {
		if pz.log != nil {
			pz.log.Warn("pipeline: buffer pool exhausted, dropping frame", zap.Error(err))
		}
		return nil
	}
	// The data window stops at the payload; the spare stays available as
	// buffer capacity so a downstream FEC writer can append its footer
	// in place. The window's origin shifts inside the buffer so the
	// payload behind the header starts on an aligned boundary; when the
	// buffer has no room for the shift, the packet is composed unshifted.
	if total+pz.footerSpare > buf.Cap() {
		buf.Release()
		return packet.ErrWouldTruncate
	}
	shift := rtp.AlignOffset(rtp.HeaderLen, rtp.PayloadAlign)
	if shift+total+pz.footerSpare > buf.Cap() {
		shift = 0
	}
	data, err := buf.Narrow(shift, total)
	if err != nil {
		buf.Release()
		return err
	}
	buf.Release()
	raw := data.Bytes()

	if err := rtp.Write(raw[:rtp.HeaderLen], rtp.Header{
		Marker: marker, PayloadType: pz.payloadType, SeqNum: pz.seq, Timestamp: pz.ts, SourceID: pz.sourceID,
	}); err != nil {
		data.Release()
		return err
	}

	w := rtp.NewWriter(raw[rtp.HeaderLen:rtp.HeaderLen+payloadSize], payloadSize, pz.format, pz.mask)
	for i := 0; i < pz.packetSamples; i++ {
		for ch := 0; ch < channels; ch++ {
			if !w.WriteSample(ch, samples[i*channels+ch]) {
				break
			}
		}
	}
	w.End()

	p, err := pz.pktPool.Get()
	if err != nil {
		data.Release()
		if pz.log != nil {
			pz.log.Warn("pipeline: packet pool exhausted, dropping frame", zap.Error(err))
		}
		return nil
	}
	if err := p.SetData(data); err != nil {
		return err
	}
	payloadSlice, err := data.Narrow(rtp.HeaderLen, payloadSize)
	if err != nil {
		return err
	}
	if err := p.AddRTP(packet.RTPView{
		SourceID: pz.sourceID, SeqNum: pz.seq, Timestamp: pz.ts, Duration: uint32(pz.packetSamples),
		PayloadType: pz.payloadType, Marker: marker, Payload: payloadSlice,
	}); err != nil {
		return err
	}
	if err := p.MarkAudio(); err != nil {
		return err
	}

	pz.seq++
	pz.ts += uint32(pz.packetSamples)

	return pz.next.Write(p)
}
