package session

import (
	"roc/internal/frame"
	"roc/internal/packet"
	"roc/internal/rtp"
)

// Depacketizer exposes a sample-indexed read cursor over a jitter
// buffer's packets. Packet boundaries are transparent to the
// caller: a single Read call may straddle multiple packets, and a gap
// left by a missing packet is filled with silence without stalling the
// cursor.
type Depacketizer struct {
	jb       *JitterBuffer
	format   rtp.SampleFormat
	srcMask  rtp.ChannelMask
	dstMask  rtp.ChannelMask
	channels int

	started bool
	cursor  uint32

	cur         *packet.Packet
	curReader   *rtp.Reader
	curDuration int
	curConsumed int

	dropped uint64
}

// NewDepacketizer constructs a depacketizer reading packets out of jb,
// decoding srcMask-encoded PCM and producing dstMask-channel frames.
func NewDepacketizer(jb *JitterBuffer, format rtp.SampleFormat, srcMask, dstMask rtp.ChannelMask) *Depacketizer {
	return &Depacketizer{jb: jb, format: format, srcMask: srcMask, dstMask: dstMask, channels: dstMask.Count()}
}

// Read returns a frame of exactly n per-channel samples, advancing the
// cursor by n samples regardless of whether the underlying packets
// covered the whole span. Missing spans are filled with silence and the
// frame is flagged Dropped|Empty (or just Empty, if nothing at all was
// available).
func (d *Depacketizer) Read(n int) frame.Frame {
	out := make([]float64, n*d.channels)
	var flags frame.Flags
	remaining := n
	outPos := 0
	anyDelivered := false

	for remaining > 0 {
		if d.cur == nil {
			if !d.openNextPacket() {
				// Nothing buffered: the rest of the frame is silence. Once
				// the stream has started, the cursor still moves past it,
				// and a tail missing after delivered samples is a drop.
				flags |= frame.Empty
				if anyDelivered {
					flags |= frame.Dropped
				}
				if d.started {
					d.cursor += uint32(remaining)
				}
				remaining = 0
				break
			}
			continue
		}

		gap := d.packetGapSamples()
		if gap > 0 {
			fill := gap
			if fill > remaining {
				fill = remaining
			}
			// samples already zero in out; just advance.
			d.cursor += uint32(fill)
			outPos += fill * d.channels
			remaining -= fill
			flags |= frame.Dropped | frame.Empty
			continue
		}

		take := d.curDuration - d.curConsumed
		if take > remaining {
			take = remaining
		}
		for i := 0; i < take; i++ {
			for ch := 0; ch < d.channels; ch++ {
				v, ok := d.curReader.ReadSample(ch)
				if !ok {
					flags |= frame.Dropped | frame.Empty
					v = 0
				}
				out[outPos] = v
				outPos++
			}
			d.curReader.Advance()
		}
		anyDelivered = anyDelivered || take > 0
		d.curConsumed += take
		d.cursor += uint32(take)
		remaining -= take

		if d.curConsumed >= d.curDuration {
			d.cur.Release()
			d.cur = nil
			d.curReader = nil
		}
	}

	if anyDelivered {
		flags |= frame.HasSignal
	}
	return frame.Frame{Samples: out, Flags: flags, Duration: n}
}

// packetGapSamples reports how many silent samples precede d.cur given
// the current cursor position; zero if d.cur starts at or before the
// cursor.
func (d *Depacketizer) packetGapSamples() int {
	delta := packet.TSDelta(d.cursor, d.cur.RTP().Timestamp)
	if delta <= 0 {
		return 0
	}
	return int(delta)
}

// openNextPacket discards stale head-of-queue packets (those whose end
// timestamp precedes the cursor) and, if one remains, makes it the
// current packet being read. Returns false if the buffer has nothing
// usable right now.
func (d *Depacketizer) openNextPacket() bool {
	for {
		p, ok := d.jb.Peek()
		if !ok {
			return false
		}
		rv := p.RTP()
		if !d.started {
			d.started = true
			d.cursor = rv.Timestamp
		} else if end := rv.Timestamp + rv.Duration; packet.TSDelta(d.cursor, end) <= 0 {
			d.jb.Pop()
			d.dropped++
			p.Release()
			continue
		}
		d.jb.Pop()
		d.cur = p
		d.curDuration = int(rv.Duration)
		d.curConsumed = 0
		payload := rv.Payload.Bytes()
		d.curReader = rtp.NewReader(payload, len(payload), d.format, d.srcMask, d.dstMask)
		return true
	}
}

// Dropped reports how many head-of-queue packets were discarded as
// stale (arrived too late to be emitted).
func (d *Depacketizer) Dropped() uint64 { return d.dropped }

// Cursor returns the depacketizer's current read position, in RTP
// timestamp units, the "reader_cursor" half of the latency monitor's
// writer_cursor-minus-reader_cursor measurement.
func (d *Depacketizer) Cursor() uint32 { return d.cursor }
