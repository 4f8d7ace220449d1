// Package session implements the receiver's per-source pipeline: the
// RTP validator gate, the sequence-ordered jitter buffer, the
// depacketizer that turns buffered packets into a continuous sample
// stream, and the watchdog that declares a session dead.
package session

import "roc/internal/packet"

// Validator is the per-session gate between the parser and the jitter
// buffer. It rejects packets whose RTP identity (payload-type,
// source-id) drifts from the first accepted packet, and rejects forward
// sequence/timestamp jumps larger than the configured bounds. Late
// packets (those behind the running maximum) always pass; only
// forward jumps are rate-limited.
type Validator struct {
	maxSnJump int32
	maxTsJump int64

	haveBaseline bool
	payloadType  uint8
	sourceID     uint32
	maxSeq       uint16
	maxTS        uint32

	dropped uint64
}

// NewValidator constructs a validator with the given forward-jump
// bounds, in sequence numbers and timestamp units respectively.
func NewValidator(maxSnJump int32, maxTsJump int64) *Validator {
	return &Validator{maxSnJump: maxSnJump, maxTsJump: maxTsJump}
}

// Accept reports whether p should be admitted to the jitter buffer. It
// must be called only for packets carrying an RTP view.
func (v *Validator) Accept(p *packet.Packet) bool {
	rv := p.RTP()

	if !v.haveBaseline {
		v.haveBaseline = true
		v.payloadType = rv.PayloadType
		v.sourceID = rv.SourceID
		v.maxSeq = rv.SeqNum
		v.maxTS = rv.Timestamp
		return true
	}

	if rv.PayloadType != v.payloadType || rv.SourceID != v.sourceID {
		v.dropped++
		return false
	}

	snDelta := packet.SeqDelta(v.maxSeq, rv.SeqNum)
	if snDelta <= 0 {
		return true // late or duplicate; always passes
	}
	if int64(snDelta) > int64(v.maxSnJump) {
		v.dropped++
		return false
	}

	tsDelta := packet.TSDelta(v.maxTS, rv.Timestamp)
	if tsDelta > 0 && tsDelta > v.maxTsJump {
		v.dropped++
		return false
	}

	v.maxSeq = rv.SeqNum
	if tsDelta > 0 {
		v.maxTS = rv.Timestamp
	}
	return true
}

// Dropped reports how many packets this validator has rejected.
func (v *Validator) Dropped() uint64 { return v.dropped }
