package mixer

import (
	"testing"
	"time"
)

func TestProfilerMovingAvgTracksChunkRatios(t *testing.T) {
	// sampleRate=1000Hz, interval=50ms -> 5 chunks of 10 samples each,
	// nominal chunk duration 10ms.
	p := NewProfiler(1, 1000, 50*time.Millisecond)

	if got := p.MovingAvg(); got != 0 {
		t.Fatalf("MovingAvg before any chunk closed = %v, want 0", got)
	}

	cases := []struct {
		elapsed time.Duration
		want    float64
	}{
		{10 * time.Millisecond, 1.0},
		{20 * time.Millisecond, (1.0 + 2.0) / 2},
		{10 * time.Millisecond, (1.0 + 2.0 + 1.0) / 3},
		{10 * time.Millisecond, 0}, // filled below
		{10 * time.Millisecond, 0},
		{30 * time.Millisecond, 0},
	}
	cases[3].want = (1.0 + 2.0 + 1.0 + 1.0) / 4
	cases[4].want = (1.0 + 2.0 + 1.0 + 1.0 + 1.0) / 5
	cases[5].want = (2.0 + 1.0 + 1.0 + 1.0 + 3.0) / 5 // oldest (1.0) evicted

	for i, c := range cases {
		p.EndFrame(10, c.elapsed)
		if got := p.MovingAvg(); got != c.want {
			t.Fatalf("chunk %d: MovingAvg = %v, want %v", i, got, c.want)
		}
	}
}

func TestProfilerPartialChunkDoesNotAdvance(t *testing.T) {
	p := NewProfiler(2, 1000, 50*time.Millisecond)
	p.EndFrame(5, 5*time.Millisecond)
	if got := p.MovingAvg(); got != 0 {
		t.Fatalf("MovingAvg after partial chunk = %v, want 0", got)
	}
	p.EndFrame(5, 5*time.Millisecond)
	if got := p.MovingAvg(); got != 1.0 {
		t.Fatalf("MovingAvg after chunk closed = %v, want 1.0", got)
	}
}
