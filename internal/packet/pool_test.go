package packet

import "testing"

func TestPoolExhaustion(t *testing.T) {
	p := NewPool(2, nil)

	a, err := p.Get()
	if err != nil {
		t.Fatalf("Get 1: %v", err)
	}
	b, err := p.Get()
	if err != nil {
		t.Fatalf("Get 2: %v", err)
	}
	if _, err := p.Get(); err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	a.Release()
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get after release: %v", err)
	}
	b.Release()
}

func TestPoolOutstanding(t *testing.T) {
	p := NewPool(4, nil)
	pkts := make([]*Packet, 0, 4)
	for i := 0; i < 4; i++ {
		pkt, err := p.Get()
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		pkts = append(pkts, pkt)
	}
	if got := p.Outstanding(); got != 4 {
		t.Fatalf("Outstanding = %d, want 4", got)
	}
	for _, pkt := range pkts {
		pkt.Release()
	}
	if got := p.Outstanding(); got != 0 {
		t.Fatalf("Outstanding after release = %d, want 0", got)
	}
}

func TestLeakLatchPanicsOnOutstanding(t *testing.T) {
	latch := NewLeakLatch("test-pool", true)
	p := NewPool(1, latch)
	if _, err := p.Get(); err != nil {
		t.Fatalf("Get: %v", err)
	}

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Close to panic with outstanding allocations")
		}
	}()
	_ = latch.Close()
}

func TestLeakLatchQuietWhenBalanced(t *testing.T) {
	latch := NewLeakLatch("test-pool", true)
	p := NewPool(1, latch)
	pkt, err := p.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	pkt.Release()
	if err := latch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestBufferPoolPoisoning(t *testing.T) {
	bp := NewBufferPool(16, 1, true, nil)
	s, err := bp.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	copy(s.Bytes(), []byte("hello world12345"))
	s.Release()

	s2, err := bp.Get()
	if err != nil {
		t.Fatalf("Get after release: %v", err)
	}
	for i, b := range s2.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d not zeroed on reacquire: %x", i, b)
		}
	}
}

func TestSliceNarrowAndGrow(t *testing.T) {
	bp := NewBufferPool(32, 1, false, nil)
	s, err := bp.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer s.Release()

	if err := s.Grow(16); err != nil {
		t.Fatalf("Grow: %v", err)
	}
	if s.Len() != 16 {
		t.Fatalf("Len = %d, want 16", s.Len())
	}

	if err := s.Grow(64); err != ErrWouldTruncate {
		t.Fatalf("Grow beyond capacity: got %v, want ErrWouldTruncate", err)
	}

	n, err := s.Narrow(4, 8)
	if err != nil {
		t.Fatalf("Narrow: %v", err)
	}
	defer n.Release()
	if n.Len() != 8 {
		t.Fatalf("narrowed Len = %d, want 8", n.Len())
	}
}

func TestPacketFlagsImmutable(t *testing.T) {
	p := &Packet{}
	if err := p.AddRTP(RTPView{SeqNum: 1}); err != nil {
		t.Fatalf("AddRTP: %v", err)
	}
	if err := p.AddRTP(RTPView{SeqNum: 2}); err != ErrDoubleFlag {
		t.Fatalf("second AddRTP: got %v, want ErrDoubleFlag", err)
	}
	if !p.Flags().Has(FlagRTP) {
		t.Fatal("FlagRTP not set")
	}
}

func TestCompareRTPModularWraparound(t *testing.T) {
	a := &Packet{}
	b := &Packet{}
	_ = a.AddRTP(RTPView{SeqNum: 65534, Timestamp: 1000})
	_ = b.AddRTP(RTPView{SeqNum: 2, Timestamp: 1000}) // wraps past 65535

	if got := Compare(a, b); got != -1 {
		t.Fatalf("Compare(65534, 2) = %d, want -1 (a before b across wraparound)", got)
	}
	if got := Compare(b, a); got != 1 {
		t.Fatalf("Compare(2, 65534) = %d, want 1", got)
	}
}

func TestCompareFECOrder(t *testing.T) {
	a := &Packet{}
	b := &Packet{}
	_ = a.AddFEC(FECView{SourceBlockNum: 5, EncodingSymbolID: 3})
	_ = b.AddFEC(FECView{SourceBlockNum: 5, EncodingSymbolID: 4})

	if got := Compare(a, b); got != -1 {
		t.Fatalf("Compare by esi = %d, want -1", got)
	}
}
