package mixer

import (
	"testing"

	"roc/internal/frame"
)

func TestMixerZeroSessionsProducesSilence(t *testing.T) {
	m := New(1)
	out := m.Mix(4, nil)
	if !out.Flags.Has(frame.Empty) {
		t.Fatal("expected Empty with no active sessions")
	}
	for _, v := range out.Samples {
		if v != 0 {
			t.Fatal("expected pure silence")
		}
	}
}

func TestMixerSumsMultipleSessions(t *testing.T) {
	m := New(1)
	a := frame.Frame{Samples: []float64{1, 2, 3, 4}, Flags: frame.HasSignal, Duration: 4}
	b := frame.Frame{Samples: []float64{10, 20, 30, 40}, Flags: frame.HasSignal, Duration: 4}
	out := m.Mix(4, []frame.Frame{a, b})
	want := []float64{11, 22, 33, 44}
	for i, v := range want {
		if out.Samples[i] != v {
			t.Fatalf("sample %d = %v, want %v", i, out.Samples[i], v)
		}
	}
	if out.Flags.Has(frame.Empty) {
		t.Fatal("did not expect Empty when a session has signal")
	}
}

func TestMixerPropagatesCTSOnlyWithSingleSession(t *testing.T) {
	m := New(1)
	solo := frame.Frame{Samples: []float64{1}, Flags: frame.HasSignal, Duration: 1,
		CaptureTimeNS: 12345, HasCaptureTime: true}

	out := m.Mix(1, []frame.Frame{solo})
	if !out.HasCaptureTime || out.CaptureTimeNS != 12345 {
		t.Fatal("single-session mix should propagate the capture timestamp")
	}

	other := frame.Frame{Samples: []float64{2}, Flags: frame.HasSignal, Duration: 1,
		CaptureTimeNS: 99999, HasCaptureTime: true}
	out2 := m.Mix(1, []frame.Frame{solo, other})
	if out2.HasCaptureTime {
		t.Fatal("multi-session mix must not report a capture timestamp")
	}
}
