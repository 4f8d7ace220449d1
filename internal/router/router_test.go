package router

import (
	"testing"

	"roc/internal/packet"
)

type recordingWriter struct {
	sourceID uint32
	received []*packet.Packet
}

func newRecordingWriter(sourceID uint32) Writer {
	return &recordingWriter{sourceID: sourceID}
}

func (w *recordingWriter) Write(p *packet.Packet) error {
	w.received = append(w.received, p)
	return nil
}

func rtpPacket(t *testing.T, pool *packet.Pool, sourceID uint32, repair bool) *packet.Packet {
	t.Helper()
	p, err := pool.Get()
	if err != nil {
		t.Fatalf("pool.Get: %v", err)
	}
	if err := p.AddRTP(packet.RTPView{SourceID: sourceID, SeqNum: 1, Timestamp: 100}); err != nil {
		t.Fatalf("AddRTP: %v", err)
	}
	if err := p.MarkAudio(); err != nil {
		t.Fatalf("MarkAudio: %v", err)
	}
	if repair {
		if err := p.AddFEC(packet.FECView{Scheme: packet.SchemeRS8M}); err != nil {
			t.Fatalf("AddFEC: %v", err)
		}
	}
	return p
}

func TestRouterFirstMatchWins(t *testing.T) {
	r := New()
	pool := packet.NewPool(8, nil)

	var firstCalled, secondCalled bool
	r.AddRoute(packet.FlagRTP|packet.FlagAudio, func(sourceID uint32) Writer {
		firstCalled = true
		return newRecordingWriter(sourceID)
	})
	r.AddRoute(packet.FlagRTP, func(sourceID uint32) Writer {
		secondCalled = true
		return newRecordingWriter(sourceID)
	})

	p := rtpPacket(t, pool, 0xAA, false)
	if err := r.Dispatch(p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !firstCalled || secondCalled {
		t.Fatalf("first route should win: first=%v second=%v", firstCalled, secondCalled)
	}
}

func TestRouterPartitionsBySourceID(t *testing.T) {
	r := New()
	pool := packet.NewPool(8, nil)

	var built []*recordingWriter
	r.AddRoute(packet.FlagRTP, func(sourceID uint32) Writer {
		w := &recordingWriter{sourceID: sourceID}
		built = append(built, w)
		return w
	})

	p1 := rtpPacket(t, pool, 1, false)
	p2 := rtpPacket(t, pool, 2, false)
	p1b := rtpPacket(t, pool, 1, false)

	if err := r.Dispatch(p1); err != nil {
		t.Fatalf("Dispatch p1: %v", err)
	}
	if err := r.Dispatch(p2); err != nil {
		t.Fatalf("Dispatch p2: %v", err)
	}
	if err := r.Dispatch(p1b); err != nil {
		t.Fatalf("Dispatch p1b: %v", err)
	}

	if len(built) != 2 {
		t.Fatalf("expected 2 distinct sessions, got %d", len(built))
	}
	if len(built[0].received) != 2 {
		t.Fatalf("source-id 1 should have received 2 packets, got %d", len(built[0].received))
	}
	if len(built[1].received) != 1 {
		t.Fatalf("source-id 2 should have received 1 packet, got %d", len(built[1].received))
	}
}

func TestRouterDropsUnroutablePackets(t *testing.T) {
	r := New()
	pool := packet.NewPool(8, nil)

	r.AddRoute(packet.FlagRTP|packet.FlagRepair, func(sourceID uint32) Writer {
		t.Fatal("factory should not be invoked for a non-matching packet")
		return nil
	})

	p := rtpPacket(t, pool, 1, false) // no FlagRepair: won't match
	if err := r.Dispatch(p); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if r.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", r.Dropped())
	}
}
