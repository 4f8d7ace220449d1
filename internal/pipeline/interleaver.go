package pipeline

import (
	"math/rand"

	"roc/internal/packet"
)

// Interleaver reorders packets across a fixed-size block using a fixed
// permutation of slots, so that a burst loss on the wire is
// spread across the FEC block it belongs to rather than landing on
// consecutive source indices.
type Interleaver struct {
	blockSize int
	perm      []int // perm[i] = slot the i-th written packet lands in
	slots     []*packet.Packet
	written   int
	next      Downstream
}

// NewInterleaver constructs an interleaver with the given block size
// and permutation. perm must be a permutation of [0, blockSize); passing
// nil uses the identity permutation (no reordering). A blockSize below
// 1 disables interleaving: every packet passes straight through.
func NewInterleaver(blockSize int, perm []int, next Downstream) *Interleaver {
	if blockSize < 1 {
		blockSize, perm = 1, nil
	}
	if perm == nil {
		perm = identityPermutation(blockSize)
	}
	return &Interleaver{
		blockSize: blockSize,
		perm:      perm,
		slots:     make([]*packet.Packet, blockSize),
		next:      next,
	}
}

func identityPermutation(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

// interleaverShuffleSeed seeds the permutation generator below. It is a
// fixed constant, not a per-process random seed, so every sender using
// the same block size lands on the same slot order run to run.
const interleaverShuffleSeed = 0x524f43 // "ROC" in ASCII, read as hex

// GeneratePermutation returns a fixed pseudo-random permutation of
// [0, n), suitable for NewInterleaver, that scatters consecutive
// packets across the block's slots so a burst loss on the wire does
// not land on consecutive source indices within one FEC block. The
// permutation is deterministic: the same n always yields the same
// slot order.
func GeneratePermutation(n int) []int {
	perm := identityPermutation(n)
	rng := rand.New(rand.NewSource(interleaverShuffleSeed))
	rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return perm
}

// Write buffers p into its permuted slot. Once every slot in the
// current block has been filled, the block drains in natural (slot)
// order.
func (il *Interleaver) Write(p *packet.Packet) error {
	slot := il.perm[il.written%il.blockSize]
	il.slots[slot] = p
	il.written++
	if il.written%il.blockSize == 0 {
		return il.drain(il.blockSize)
	}
	return nil
}

// Flush drains whatever has been buffered so far in natural slot order,
// even if the current block is not full.
func (il *Interleaver) Flush() error {
	if il.written%il.blockSize == 0 {
		return nil
	}
	return il.drain(il.blockSize)
}

func (il *Interleaver) drain(n int) error {
	for i := 0; i < n; i++ {
		p := il.slots[i]
		il.slots[i] = nil
		if p == nil {
			continue
		}
		if err := il.next.Write(p); err != nil {
			return err
		}
	}
	il.written = 0
	return nil
}
