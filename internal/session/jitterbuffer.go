package session

import "roc/internal/packet"

// JitterBuffer is a sorted-by-sequence-number queue of audio packets,
// capacity equal to target latency plus slack. Push keeps the queue
// ordered using RTP modular comparison; once the queue is full,
// further pushes are dropped rather than growing unbounded.
type JitterBuffer struct {
	capacity int
	packets  []*packet.Packet
}

// NewJitterBuffer constructs an empty buffer bounded at capacity
// packets.
func NewJitterBuffer(capacity int) *JitterBuffer {
	return &JitterBuffer{capacity: capacity, packets: make([]*packet.Packet, 0, capacity)}
}

// Push inserts p in sorted order. It returns false, without modifying
// the buffer, if the buffer is already at capacity.
func (jb *JitterBuffer) Push(p *packet.Packet) bool {
	if len(jb.packets) >= jb.capacity {
		return false
	}
	i := len(jb.packets)
	for i > 0 && packet.Compare(p, jb.packets[i-1]) < 0 {
		i--
	}
	jb.packets = append(jb.packets, nil)
	copy(jb.packets[i+1:], jb.packets[i:])
	jb.packets[i] = p
	return true
}

// Peek returns the lowest-sequence packet without removing it.
func (jb *JitterBuffer) Peek() (*packet.Packet, bool) {
	if len(jb.packets) == 0 {
		return nil, false
	}
	return jb.packets[0], true
}

// Pop removes and returns the lowest-sequence packet.
func (jb *JitterBuffer) Pop() (*packet.Packet, bool) {
	if len(jb.packets) == 0 {
		return nil, false
	}
	p := jb.packets[0]
	jb.packets = jb.packets[1:]
	return p, true
}

// Len reports how many packets are currently buffered.
func (jb *JitterBuffer) Len() int { return len(jb.packets) }

// Capacity reports the buffer's configured capacity.
func (jb *JitterBuffer) Capacity() int { return jb.capacity }
