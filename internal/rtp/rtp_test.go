package rtp

import "testing"

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, HeaderLen)
	want := Header{Marker: true, PayloadType: 97, SeqNum: 4242, Timestamp: 0xDEADBEEF, SourceID: 0x12345678}
	if err := Write(buf, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, n, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != HeaderLen {
		t.Fatalf("payload offset = %d, want %d", n, HeaderLen)
	}
	if got != want {
		t.Fatalf("Parse(Write(h)) = %+v, want %+v", got, want)
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	buf := make([]byte, HeaderLen)
	buf[0] = 0x40 // version 1
	if _, _, err := Parse(buf); err != ErrBadVersion {
		t.Fatalf("Parse: got %v, want ErrBadVersion", err)
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	if _, _, err := Parse(make([]byte, 4)); err != ErrTruncated {
		t.Fatalf("Parse: got %v, want ErrTruncated", err)
	}
}

func TestAlignOffset(t *testing.T) {
	cases := []struct{ headerLen, align, want int }{
		{12, 8, 4},
		{16, 8, 0},
		{6, 8, 2},
		{5, 1, 0},
	}
	for _, c := range cases {
		if got := AlignOffset(c.headerLen, c.align); got != c.want {
			t.Errorf("AlignOffset(%d,%d) = %d, want %d", c.headerLen, c.align, got, c.want)
		}
	}
}

func TestPCMWriterReaderRoundTripStereo(t *testing.T) {
	buf := make([]byte, 64)
	w := NewWriter(buf, len(buf), Int16BE, ChannelStereo)
	samples := [][2]float64{{0.5, -0.5}, {0.25, 0.1}, {-1, 1}}
	for _, s := range samples {
		if !w.WriteSample(0, s[0]) {
			t.Fatal("WriteSample(0) reported budget exhausted early")
		}
		if !w.WriteSample(1, s[1]) {
			t.Fatal("WriteSample(1) reported budget exhausted early")
		}
	}
	n := w.End()

	r := NewReader(buf, n, Int16BE, ChannelStereo, ChannelStereo)
	for i, want := range samples {
		left, ok := r.ReadSample(0)
		if !ok {
			t.Fatalf("sample %d: ReadSample(0) not ok", i)
		}
		right, ok := r.ReadSample(1)
		if !ok {
			t.Fatalf("sample %d: ReadSample(1) not ok", i)
		}
		r.Advance()
		if diff := left - want[0]; diff > 0.01 || diff < -0.01 {
			t.Errorf("sample %d left = %v, want ~%v", i, left, want[0])
		}
		if diff := right - want[1]; diff > 0.01 || diff < -0.01 {
			t.Errorf("sample %d right = %v, want ~%v", i, right, want[1])
		}
	}
}

func TestPCMUpmixMonoToStereo(t *testing.T) {
	buf := make([]byte, 16)
	w := NewWriter(buf, len(buf), Int16BE, ChannelMono)
	w.WriteSample(0, 0.5)
	w.WriteSample(1, 0.9) // dropped: mono output mask has no channel 1
	n := w.End()
	if n != 2 {
		t.Fatalf("encoded %d bytes, want 2 (mono only)", n)
	}

	r := NewReader(buf, n, Int16BE, ChannelMono, ChannelStereo)
	left, ok := r.ReadSample(0)
	if !ok || left < 0.49 || left > 0.51 {
		t.Fatalf("left = %v, ok=%v, want ~0.5", left, ok)
	}
	right, ok := r.ReadSample(1)
	if !ok || right != 0 {
		t.Fatalf("right = %v, ok=%v, want silence up-mix", right, ok)
	}
}

func TestPCMPartialWriteReported(t *testing.T) {
	buf := make([]byte, 3)
	w := NewWriter(buf, len(buf), Int16BE, ChannelMono)
	if !w.WriteSample(0, 0.1) {
		t.Fatal("first sample should fit in budget")
	}
	if w.WriteSample(0, 0.2) {
		t.Fatal("second sample should exceed 3-byte budget")
	}
}
