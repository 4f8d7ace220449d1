package session

import (
	"math"
	"testing"

	"roc/internal/fec"
	"roc/internal/frame"
	"roc/internal/packet"
	"roc/internal/pipeline"
	"roc/internal/rtp"
)

// e2eCollector gathers whatever a sender-side chain emits, standing in
// for the UDP transport between the two pipelines.
type e2eCollector struct {
	packets []*packet.Packet
}

func (c *e2eCollector) Write(p *packet.Packet) error {
	c.packets = append(c.packets, p)
	return nil
}

// jbWriter is the receiver entry point: validator gate, then the
// jitter buffer, releasing whatever is rejected.
type jbWriter struct {
	v  *Validator
	jb *JitterBuffer
}

func (w *jbWriter) Write(p *packet.Packet) error {
	if !p.Flags().Has(packet.FlagRTP) {
		p.Release()
		return nil
	}
	if !w.v.Accept(p) {
		p.Release()
		return nil
	}
	if !w.jb.Push(p) {
		p.Release()
	}
	return nil
}

func sineSamples(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.5 * math.Sin(float64(i)*2*math.Pi/100)
	}
	return out
}

func matchWithin(t *testing.T, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if d := got[i] - want[i]; d > tol || d < -tol {
			t.Fatalf("sample %d = %v, want %v (±%v)", i, got[i], want[i], tol)
		}
	}
}

func TestEndToEndBareRTPNoLoss(t *testing.T) {
	const packetSamples = 100
	const packets = 10
	payloadSize := packetSamples * 2 // mono int16
	pktPool := packet.NewPool(64, nil)
	bufPool := packet.NewBufferPool(rtp.AlignOffset(rtp.HeaderLen, rtp.PayloadAlign)+rtp.HeaderLen+payloadSize, 64, false, nil)

	wire := &e2eCollector{}
	pz := pipeline.NewPacketizer(packetSamples, 96, rtp.Int16BE, rtp.ChannelMono, 0, pktPool, bufPool, wire, nil)

	input := sineSamples(packetSamples * packets)
	if err := pz.Write(frame.Frame{Samples: input, Duration: len(input)}); err != nil {
		t.Fatalf("packetizer Write: %v", err)
	}
	if len(wire.packets) != packets {
		t.Fatalf("emitted %d packets, want %d", len(wire.packets), packets)
	}

	jb := NewJitterBuffer(64)
	recv := &jbWriter{v: NewValidator(1000, 100000), jb: jb}
	for _, p := range wire.packets {
		if err := recv.Write(p); err != nil {
			t.Fatalf("receiver Write: %v", err)
		}
	}

	dp := NewDepacketizer(jb, rtp.Int16BE, rtp.ChannelMono, rtp.ChannelMono)
	f := dp.Read(packetSamples * packets)
	if !f.Flags.Has(frame.HasSignal) {
		t.Fatal("expected HasSignal on a loss-free stream")
	}
	if f.Flags.Any(frame.Dropped | frame.Empty) {
		t.Fatalf("expected no Dropped/Empty flags on a loss-free stream, got %v", f.Flags)
	}
	matchWithin(t, f.Samples, input, 1.0/16000)
}

func TestEndToEndFECRecoversDroppedSources(t *testing.T) {
	const packetSamples = 100
	const k, m = 4, 2
	const blocks = 2
	payloadSize := packetSamples * 2
	pktPool := packet.NewPool(128, nil)
	bufPool := packet.NewBufferPool(rtp.AlignOffset(rtp.HeaderLen, rtp.PayloadAlign)+rtp.HeaderLen+payloadSize+fec.RS8MFooterLen, 128, false, nil)

	wire := &e2eCollector{}
	fw := fec.NewWriter(fec.NewRS8MCodec(), packet.SchemeRS8M, k, m, pktPool, bufPool, wire, nil)
	pz := pipeline.NewPacketizer(packetSamples, 96, rtp.Int16BE, rtp.ChannelMono, fec.RS8MFooterLen, pktPool, bufPool, fw, nil)

	input := sineSamples(packetSamples * k * blocks)
	if err := pz.Write(frame.Frame{Samples: input, Duration: len(input)}); err != nil {
		t.Fatalf("packetizer Write: %v", err)
	}
	if len(wire.packets) != (k+m)*blocks {
		t.Fatalf("emitted %d packets, want %d", len(wire.packets), (k+m)*blocks)
	}

	jb := NewJitterBuffer(64)
	recv := &jbWriter{v: NewValidator(1000, 100000), jb: jb}
	fr := fec.NewReader(fec.NewRS8MCodec(), packet.SchemeRS8M, pktPool, bufPool, recv, nil)

	// Drop one source packet per block (esi 1); everything else arrives.
	for _, p := range wire.packets {
		if p.Flags().Has(packet.FlagAudio) && p.FEC().EncodingSymbolID == 1 {
			p.Release()
			continue
		}
		if err := fr.Write(p); err != nil {
			t.Fatalf("fec reader Write: %v", err)
		}
	}
	if err := fr.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if fr.Recovered() != blocks {
		t.Fatalf("Recovered = %d, want %d", fr.Recovered(), blocks)
	}

	dp := NewDepacketizer(jb, rtp.Int16BE, rtp.ChannelMono, rtp.ChannelMono)
	f := dp.Read(len(input))
	if !f.Flags.Has(frame.HasSignal) {
		t.Fatal("expected HasSignal after recovery")
	}
	if f.Flags.Any(frame.Dropped) {
		t.Fatal("expected no Dropped flag once every source packet is present or recovered")
	}
	matchWithin(t, f.Samples, input, 1.0/16000)
}

func TestEndToEndRepairOnlyStreamStaysEmpty(t *testing.T) {
	const packetSamples = 100
	const k, m = 4, 2
	payloadSize := packetSamples * 2
	pktPool := packet.NewPool(64, nil)
	bufPool := packet.NewBufferPool(rtp.AlignOffset(rtp.HeaderLen, rtp.PayloadAlign)+rtp.HeaderLen+payloadSize+fec.RS8MFooterLen, 64, false, nil)

	wire := &e2eCollector{}
	fw := fec.NewWriter(fec.NewRS8MCodec(), packet.SchemeRS8M, k, m, pktPool, bufPool, wire, nil)
	pz := pipeline.NewPacketizer(packetSamples, 96, rtp.Int16BE, rtp.ChannelMono, fec.RS8MFooterLen, pktPool, bufPool, fw, nil)
	if err := pz.Write(frame.Frame{Samples: sineSamples(packetSamples * k), Duration: packetSamples * k}); err != nil {
		t.Fatalf("packetizer Write: %v", err)
	}

	jb := NewJitterBuffer(64)
	recv := &jbWriter{v: NewValidator(1000, 100000), jb: jb}
	fr := fec.NewReader(fec.NewRS8MCodec(), packet.SchemeRS8M, pktPool, bufPool, recv, nil)

	// Deliver only the repair packets: k losses exceed m, nothing is
	// recoverable, and no source packet ever reaches the jitter buffer.
	for _, p := range wire.packets {
		if p.Flags().Has(packet.FlagAudio) {
			p.Release()
			continue
		}
		if err := fr.Write(p); err != nil {
			t.Fatalf("fec reader Write: %v", err)
		}
	}
	if err := fr.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if fr.Recovered() != 0 {
		t.Fatalf("Recovered = %d, want 0 with every source lost", fr.Recovered())
	}

	dp := NewDepacketizer(jb, rtp.Int16BE, rtp.ChannelMono, rtp.ChannelMono)
	wd := NewWatchdog(packetSamples*2, packetSamples*2, nil)
	for i := 0; i < 3; i++ {
		f := dp.Read(packetSamples)
		if !f.Flags.Has(frame.Empty) {
			t.Fatalf("read %d: expected Empty frames from a repair-only session", i)
		}
		wd.Observe(f)
	}
	if !wd.Dead() {
		t.Fatal("watchdog should declare a repair-only session dead after the timeout")
	}
}
