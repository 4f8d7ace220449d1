package rtp

import (
	"encoding/binary"
	"errors"
	"math"
)

// ChannelMask is a bitset of channel positions: bit 0 is the mono/left
// channel, bit 1 is the right channel. Mono streams set only bit 0;
// stereo streams set both.
type ChannelMask uint8

const (
	ChannelMono   ChannelMask = 1
	ChannelStereo ChannelMask = 3
)

// Count returns how many channels the mask carries.
func (m ChannelMask) Count() int {
	n := 0
	for b := 0; b < 2; b++ {
		if m&(1<<b) != 0 {
			n++
		}
	}
	return n
}

// SampleFormat identifies a PCM wire encoding.
type SampleFormat int

const (
	// Int16BE is 16-bit big-endian signed linear PCM.
	Int16BE SampleFormat = iota
	// Float32BE is 32-bit big-endian IEEE-754 float PCM.
	Float32BE
)

// BytesPerSample returns the wire size of one channel-sample.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case Float32BE:
		return 4
	default:
		return 2
	}
}

// ErrBudgetExhausted marks a transaction that ran out of its byte
// budget. It is not a fatal error: the caller decides whether a
// partial write/read is acceptable.
var ErrBudgetExhausted = errors.New("rtp: byte budget exhausted")

// Writer is a begin→write*→end transaction that encodes interleaved PCM
// samples into a byte budget. Partial writes are allowed: WriteSample
// reports false once the budget is exhausted rather than erroring, so a
// packetizer can always flush whatever fit.
type Writer struct {
	buf    []byte
	format SampleFormat
	mask   ChannelMask
	pos    int
	budget int
}

// NewWriter begins an encode transaction into buf, bounded by budget
// bytes (budget may be less than len(buf)).
func NewWriter(buf []byte, budget int, format SampleFormat, mask ChannelMask) *Writer {
	if budget > len(buf) {
		budget = len(buf)
	}
	return &Writer{buf: buf, format: format, mask: mask, budget: budget}
}

// WriteSample writes one sample for channel ch (0=mono/left, 1=right).
// Channels absent from the output mask are silently dropped. Returns
// false once the byte budget is exhausted.
func (w *Writer) WriteSample(ch int, value float64) bool {
	if w.mask&(1<<uint(ch)) == 0 {
		return true // channel not present in output; nothing to write
	}
	n := w.format.BytesPerSample()
	if w.pos+n > w.budget {
		return false
	}
	switch w.format {
	case Float32BE:
		binary.BigEndian.PutUint32(w.buf[w.pos:], math.Float32bits(float32(value)))
	default:
		v := int16(clamp16(value))
		binary.BigEndian.PutUint16(w.buf[w.pos:], uint16(v))
	}
	w.pos += n
	return true
}

// End closes the transaction and reports the number of bytes written.
func (w *Writer) End() int { return w.pos }

func clamp16(v float64) int32 {
	scaled := v * 32767.0
	if scaled > 32767 {
		return 32767
	}
	if scaled < -32768 {
		return -32768
	}
	return int32(scaled)
}

// Reader is a begin→read*→end transaction that decodes interleaved PCM
// samples. When the encoded channel mask differs from the requested
// output mask, Reader up-mixes missing channels as silence and drops
// channels the caller did not ask for.
type Reader struct {
	buf     []byte
	format  SampleFormat
	srcMask ChannelMask
	dstMask ChannelMask
	pos     int
	budget  int
}

// NewReader begins a decode transaction over buf (at most budget bytes
// of it), interpreting the wire data as srcMask/format and producing
// samples for dstMask channels.
func NewReader(buf []byte, budget int, format SampleFormat, srcMask, dstMask ChannelMask) *Reader {
	if budget > len(buf) {
		budget = len(buf)
	}
	return &Reader{buf: buf, format: format, srcMask: srcMask, dstMask: dstMask, budget: budget}
}

// ReadSample returns the decoded value for output channel ch. If ch is
// absent from the source mask, it returns 0 (silence, up-mixed). If the
// source has the channel but the budget is exhausted, ok is false.
func (r *Reader) ReadSample(ch int) (value float64, ok bool) {
	if r.dstMask&(1<<uint(ch)) == 0 {
		return 0, true // caller didn't ask for this channel
	}
	if r.srcMask&(1<<uint(ch)) == 0 {
		return 0, true // up-mix: source never carried this channel
	}
	// Compute this channel's byte offset among the source channels that
	// precede it in wire order.
	n := r.format.BytesPerSample()
	offset := 0
	for c := 0; c < ch; c++ {
		if r.srcMask&(1<<uint(c)) != 0 {
			offset += n
		}
	}
	idx := r.pos + offset
	if idx+n > r.budget || idx+n > len(r.buf) {
		return 0, false
	}
	switch r.format {
	case Float32BE:
		value = float64(math.Float32frombits(binary.BigEndian.Uint32(r.buf[idx:])))
	default:
		value = float64(int16(binary.BigEndian.Uint16(r.buf[idx:]))) / 32768.0
	}
	return value, true
}

// Advance moves the cursor forward by one interleaved source frame,
// after all channels of the current frame have been read via
// ReadSample. Call once per sample index.
func (r *Reader) Advance() {
	r.pos += r.srcMask.Count() * r.format.BytesPerSample()
}

// End reports how many bytes of the budget were consumed.
func (r *Reader) End() int { return r.pos }
