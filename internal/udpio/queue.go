package udpio

import (
	"sync/atomic"

	"roc/internal/packet"
)

// Queue is the inbound handoff between the network read loops and the
// audio thread: receivers enqueue from their own goroutines, and the
// audio loop drains at each frame boundary, so per-session state is
// only ever touched from the audio side. Built on a buffered channel,
// Go's native multi-producer/single-consumer queue. A full queue drops
// the arrival (releasing the packet) rather than blocking a socket
// read loop.
type Queue struct {
	ch      chan *packet.Packet
	dropped atomic.Uint64
}

// NewQueue constructs a queue bounded at capacity packets.
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan *packet.Packet, capacity)}
}

// Dispatch enqueues p for the audio thread. Implements Dispatcher so a
// Receiver can feed the queue directly.
func (q *Queue) Dispatch(p *packet.Packet) error {
	select {
	case q.ch <- p:
	default:
		q.dropped.Add(1)
		p.Release()
	}
	return nil
}

// Drain hands every packet queued so far to f, without blocking once
// the queue is empty. Call from the audio thread, once per frame.
func (q *Queue) Drain(f func(*packet.Packet) error) int {
	n := 0
	for {
		select {
		case p := <-q.ch:
			n++
			_ = f(p)
		default:
			return n
		}
	}
}

// Dropped reports arrivals discarded because the queue was full.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
