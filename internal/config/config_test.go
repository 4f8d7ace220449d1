package config

import "testing"

func TestDefaultSenderConfigValidates(t *testing.T) {
	cfg := DefaultSenderConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default sender config should validate, got: %v", err)
	}
}

func TestDefaultReceiverConfigValidates(t *testing.T) {
	cfg := DefaultReceiverConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default receiver config should validate, got: %v", err)
	}
}

func TestSenderConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		mod  func(c *SenderConfig)
	}{
		{"zero sample rate", func(c *SenderConfig) { c.SampleRate = 0 }},
		{"empty channel mask", func(c *SenderConfig) { c.Channels = 0 }},
		{"zero packet length", func(c *SenderConfig) { c.PacketMillis = 0 }},
		{"fec enabled with zero source", func(c *SenderConfig) {
			c.FECScheme = 1
			c.FECSource = 0
			c.FECRepair = 10
		}},
		{"zero pool size", func(c *SenderConfig) { c.PacketPoolSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultSenderConfig()
			tc.mod(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected Validate to reject this configuration")
			}
		})
	}
}

func TestReceiverConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		mod  func(c *ReceiverConfig)
	}{
		{"zero sample rate", func(c *ReceiverConfig) { c.SampleRate = 0 }},
		{"zero target latency", func(c *ReceiverConfig) { c.TargetLatency = 0 }},
		{"zero no-playback timeout", func(c *ReceiverConfig) { c.NoPlaybackTO = 0 }},
		{"inverted latency bounds", func(c *ReceiverConfig) {
			c.MinLatencyRatio = 1.5
			c.MaxLatencyRatio = 0.5
		}},
		{"zero pool size", func(c *ReceiverConfig) { c.BufferPoolSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultReceiverConfig()
			tc.mod(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected Validate to reject this configuration")
			}
		})
	}
}

func TestSenderConfigPacketSamples(t *testing.T) {
	cfg := DefaultSenderConfig()
	cfg.SampleRate = 48000
	cfg.PacketMillis = 20
	if got, want := cfg.PacketSamples(), 960; got != want {
		t.Fatalf("PacketSamples() = %d, want %d", got, want)
	}
}

func TestReceiverConfigPacketSamples(t *testing.T) {
	cfg := DefaultReceiverConfig()
	cfg.SampleRate = 44100
	cfg.PacketMillis = 10
	if got, want := cfg.PacketSamples(), 441; got != want {
		t.Fatalf("PacketSamples() = %d, want %d", got, want)
	}
}

func TestReceiverConfigTargetLatencySamples(t *testing.T) {
	cfg := DefaultReceiverConfig()
	cfg.SampleRate = 48000
	cfg.TargetLatency = DefaultTargetLatency
	if got, want := cfg.TargetLatencySamples(), 9600; got != want {
		t.Fatalf("TargetLatencySamples() = %d, want %d", got, want)
	}
}

func TestJitterCapacityPacketsAtLeastOne(t *testing.T) {
	cfg := DefaultReceiverConfig()
	if got := cfg.JitterCapacityPackets(0); got != 1 {
		t.Fatalf("JitterCapacityPackets(0) = %d, want 1 (avoid div-by-zero)", got)
	}
}

func TestJitterCapacityPacketsScalesWithPacketSize(t *testing.T) {
	cfg := DefaultReceiverConfig()
	packetSamples := cfg.PacketSamples()
	n := cfg.JitterCapacityPackets(packetSamples)
	if n < 1 {
		t.Fatalf("JitterCapacityPackets(%d) = %d, want >= 1", packetSamples, n)
	}
}
