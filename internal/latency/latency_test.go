package latency

import (
	"errors"
	"math"
	"testing"
)

func TestMonitorTracksTargetWithZeroError(t *testing.T) {
	m := NewMonitor(1000, 0, 5000, 0.05, nil)
	scale, err := m.Update(2000, 1000) // latency == target
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if math.Abs(scale-1.0) > 1e-6 {
		t.Fatalf("scale = %v, want ~1.0 when latency matches target", scale)
	}
}

func TestMonitorSpeedsUpWhenBufferRunsLow(t *testing.T) {
	m := NewMonitor(1000, 0, 5000, 0.1, nil)
	scale, err := m.Update(1200, 1000) // latency 200, well under target 1000
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if scale >= 1.0 {
		t.Fatalf("scale = %v, want < 1.0 when buffer underfilled", scale)
	}
}

func TestMonitorReturnsSessionDeadOutsideBounds(t *testing.T) {
	m := NewMonitor(1000, 500, 2000, 0.1, nil)
	_, err := m.Update(3000, 100) // latency 2900 > max 2000
	if !errors.Is(err, ErrSessionDead) {
		t.Fatalf("err = %v, want ErrSessionDead", err)
	}
}

func TestMonitorMinBoundWaitsForWarmup(t *testing.T) {
	m := NewMonitor(1000, 700, 2000, 0.1, nil)
	// A fresh session starts far below min while the buffer fills.
	if _, err := m.Update(100, 0); err != nil {
		t.Fatalf("warm-up underfill should not kill the session: %v", err)
	}
	// Reaching target arms the min bound...
	if _, err := m.Update(1000, 0); err != nil {
		t.Fatalf("reaching target: %v", err)
	}
	// ...after which an underrun is fatal.
	if _, err := m.Update(100, 0); !errors.Is(err, ErrSessionDead) {
		t.Fatalf("err = %v, want ErrSessionDead once warmed", err)
	}
}

func TestMonitorScaleStaysWithinEpsilon(t *testing.T) {
	m := NewMonitor(1000, 0, 100000, 0.05, nil)
	scale, err := m.Update(100000, 0) // extreme latency, still within bounds
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if scale < 1-0.05-1e-9 || scale > 1+0.05+1e-9 {
		t.Fatalf("scale = %v, want within [0.95, 1.05]", scale)
	}
}

func TestQualityTapsPerPhase(t *testing.T) {
	cases := []struct {
		q    Quality
		want int
	}{
		{QualityLow, 16},
		{QualityMedium, 32},
		{QualityHigh, 64},
	}
	for _, c := range cases {
		if got := c.q.TapsPerPhase(); got != c.want {
			t.Fatalf("%v.TapsPerPhase() = %d, want %d", c.q, got, c.want)
		}
	}
}

func TestResamplerUnityRatioPreservesLength(t *testing.T) {
	r := NewResampler(QualityLow, 1)
	in := make([]float64, 64)
	for i := range in {
		in[i] = math.Sin(float64(i) * 0.1)
	}
	out := r.Process(in)
	if len(out) != len(in) {
		t.Fatalf("unity-ratio output length = %d, want %d", len(out), len(in))
	}
}

func TestResamplerHigherRatioShrinksOutput(t *testing.T) {
	r := NewResampler(QualityMedium, 1)
	r.SetRatio(2.0) // consume input twice as fast as output -> roughly half the output frames
	in := make([]float64, 128)
	for i := range in {
		in[i] = math.Sin(float64(i) * 0.1)
	}
	out := r.Process(in)
	if len(out) == 0 || len(out) >= len(in) {
		t.Fatalf("ratio=2.0 output length = %d, want meaningfully less than %d", len(out), len(in))
	}
}

func TestResamplerStereoInterleaving(t *testing.T) {
	r := NewResampler(QualityLow, 2)
	in := make([]float64, 32) // 16 stereo frames
	for i := range in {
		in[i] = 1.0
	}
	out := r.Process(in)
	if len(out)%2 != 0 {
		t.Fatalf("stereo output length %d is not a multiple of 2", len(out))
	}
}
