package packet

import (
	"sync"
	"sync/atomic"
)

// Pool is a fixed-capacity allocator of *Packet values. The fast path is
// a lock-free free-list: a CAS loop against an atomic head index into a
// preallocated slice. A goroutine that loses the CAS race retries the
// fast path; contention alone does not send it to the mutex. The
// mutex-guarded slow path serves only slots returned by put, and is
// reached once the preallocated free-list is drained.
type Pool struct {
	slots []Packet
	free  []int32 // indices into slots, fast-path candidates
	head  atomic.Int32

	mu       sync.Mutex
	fallback []int32

	leak *leakLatch
}

// NewPool preallocates capacity packets. Allocation after construction
// never calls into the runtime allocator.
func NewPool(capacity int, leak *leakLatch) *Pool {
	p := &Pool{
		slots: make([]Packet, capacity),
		free:  make([]int32, capacity),
		leak:  leak,
	}
	for i := 0; i < capacity; i++ {
		p.free[i] = int32(i)
	}
	p.head.Store(int32(capacity))
	return p
}

// Get checks out a fresh zero-value *Packet, or ErrPoolExhausted if the
// pool's capacity is fully checked out.
func (p *Pool) Get() (*Packet, error) {
	for {
		h := p.head.Load()
		if h == 0 {
			break
		}
		if p.head.CompareAndSwap(h, h-1) {
			idx := p.free[h-1]
			pkt := &p.slots[idx]
			*pkt = Packet{pool: p, idx: idx}
			pkt.refs.Store(1)
			if p.leak != nil {
				p.leak.track(1)
			}
			return pkt, nil
		}
		// Lost the race; retry the lock-free path before falling back.
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.fallback) == 0 {
		return nil, ErrPoolExhausted
	}
	idx := p.fallback[len(p.fallback)-1]
	p.fallback = p.fallback[:len(p.fallback)-1]
	pkt := &p.slots[idx]
	*pkt = Packet{pool: p, idx: idx}
	pkt.refs.Store(1)
	if p.leak != nil {
		p.leak.track(1)
	}
	return pkt, nil
}

// put returns a packet's slot index to the pool once its refcount hits
// zero. Every return goes through the mutex path; the atomic fast path
// in Get only pops from the preallocated free-list.
func (p *Pool) put(pkt *Packet) {
	p.mu.Lock()
	p.fallback = append(p.fallback, pkt.idx)
	p.mu.Unlock()
	if p.leak != nil {
		p.leak.track(-1)
	}
}

// Outstanding reports checked-out packet count (capacity minus free).
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - int(p.head.Load()) - len(p.fallback)
}

// Capacity reports the pool's fixed packet count.
func (p *Pool) Capacity() int { return len(p.slots) }
