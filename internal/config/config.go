// Package config holds the flat, flag-populated configuration structs
// for the sender and receiver pipelines: plain structs with documented
// defaults, constructible programmatically in tests or from `flag` in
// cmd/.
package config

import (
	"fmt"
	"time"

	"roc/internal/packet"
	"roc/internal/rtp"
)

// Typical session defaults, all overridable per pipeline.
const (
	DefaultTargetLatency    = 200 * time.Millisecond
	DefaultNoPlaybackTO     = 2 * time.Second
	DefaultLatencyTolerance = 0.30
	DefaultFECSourcePkts    = 20
	DefaultFECRepairPkts    = 10
	DefaultPacketMillis     = 10
	DefaultSampleRate       = 44100
	DefaultInterleaveBlock  = 10
)

// SenderConfig configures one sender pipeline instance.
type SenderConfig struct {
	SampleRate   int             // samples/sec per channel
	Channels     rtp.ChannelMask // source channel layout
	Format       rtp.SampleFormat
	PayloadType  uint8
	PacketMillis int // packet_length, in milliseconds

	FECScheme  packet.FECScheme // SchemeNone disables FEC entirely
	FECSource  int              // k
	FECRepair  int              // m
	Interleave int              // interleaver block size; 0 disables interleaving

	PacketPoolSize int
	BufferPoolSize int

	Addr string // destination UDP address, "host:port"
}

// Validate checks the configuration for internally-consistent values.
func (c SenderConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels.Count() == 0 {
		return fmt.Errorf("config: channel mask must select at least one channel")
	}
	if c.PacketMillis <= 0 {
		return fmt.Errorf("config: packet length must be positive, got %dms", c.PacketMillis)
	}
	if c.FECScheme != packet.SchemeNone {
		if c.FECSource <= 0 || c.FECRepair <= 0 {
			return fmt.Errorf("config: FEC source/repair counts must be positive when a scheme is set")
		}
	}
	if c.PacketPoolSize <= 0 || c.BufferPoolSize <= 0 {
		return fmt.Errorf("config: pool sizes must be positive")
	}
	return nil
}

// PacketSamples returns the per-channel sample count of one packet.
func (c SenderConfig) PacketSamples() int {
	return c.SampleRate * c.PacketMillis / 1000
}

// DefaultSenderConfig returns the typical values: bare RTP with no
// FEC, stereo 16-bit PCM at 44.1kHz, 10ms packets.
func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		SampleRate:     DefaultSampleRate,
		Channels:       rtp.ChannelStereo,
		Format:         rtp.Int16BE,
		PayloadType:    100,
		PacketMillis:   DefaultPacketMillis,
		FECScheme:      packet.SchemeNone,
		Interleave:     DefaultInterleaveBlock,
		PacketPoolSize: 256,
		BufferPoolSize: 256,
	}
}

// ReceiverConfig configures one receiver session's worth of pipeline
// state: validator bounds, jitter buffer capacity, watchdog timeouts,
// and latency/resampler targets.
type ReceiverConfig struct {
	SampleRate   int
	Channels     rtp.ChannelMask
	Format       rtp.SampleFormat
	PacketMillis int // expected sender packet_length, used to size reads and jitter capacity

	TargetLatency    time.Duration
	LatencySlack     time.Duration
	MinLatencyRatio  float64 // fraction of target, e.g. 1-tolerance
	MaxLatencyRatio  float64 // fraction of target, e.g. 1+tolerance
	NoPlaybackTO     time.Duration
	WatchdogWindow   time.Duration
	ResamplerQuality int // see latency.Quality

	MaxSnJump int32
	MaxTsJump int64

	FECScheme      packet.FECScheme
	PacketPoolSize int
	BufferPoolSize int

	Addr string // listen UDP address, "host:port"
}

// Validate checks the configuration for internally-consistent values.
func (c ReceiverConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.TargetLatency <= 0 {
		return fmt.Errorf("config: target latency must be positive")
	}
	if c.NoPlaybackTO <= 0 {
		return fmt.Errorf("config: no-playback timeout must be positive")
	}
	if c.MinLatencyRatio <= 0 || c.MaxLatencyRatio <= c.MinLatencyRatio {
		return fmt.Errorf("config: latency bounds must satisfy 0 < min < max")
	}
	if c.PacketPoolSize <= 0 || c.BufferPoolSize <= 0 {
		return fmt.Errorf("config: pool sizes must be positive")
	}
	return nil
}

// PacketSamples returns the per-channel sample count of one expected
// inbound packet.
func (c ReceiverConfig) PacketSamples() int {
	return c.SampleRate * c.PacketMillis / 1000
}

// TargetLatencySamples converts TargetLatency to a per-channel sample count.
func (c ReceiverConfig) TargetLatencySamples() int {
	return int(c.TargetLatency.Seconds() * float64(c.SampleRate))
}

// JitterCapacityPackets returns the jitter buffer's capacity, target
// latency plus slack, in packets (given a fixed packet size the caller
// supplies since the buffer is keyed by packet, not by sample).
func (c ReceiverConfig) JitterCapacityPackets(packetSamples int) int {
	total := c.TargetLatencySamples() + int(c.LatencySlack.Seconds()*float64(c.SampleRate))
	if packetSamples <= 0 {
		return 1
	}
	n := total / packetSamples
	if n < 1 {
		n = 1
	}
	return n
}

// NoPlaybackSamples converts NoPlaybackTO to a per-channel sample count.
func (c ReceiverConfig) NoPlaybackSamples() int {
	return int(c.NoPlaybackTO.Seconds() * float64(c.SampleRate))
}

// WatchdogWindowSamples converts WatchdogWindow to a per-channel sample count.
func (c ReceiverConfig) WatchdogWindowSamples() int {
	return int(c.WatchdogWindow.Seconds() * float64(c.SampleRate))
}

// DefaultReceiverConfig returns the typical session defaults: 200ms
// target latency, 2s no-playback timeout, 30% latency tolerance.
func DefaultReceiverConfig() ReceiverConfig {
	const blockSize = DefaultFECSourcePkts + DefaultFECRepairPkts
	return ReceiverConfig{
		SampleRate:       DefaultSampleRate,
		Channels:         rtp.ChannelStereo,
		Format:           rtp.Int16BE,
		PacketMillis:     DefaultPacketMillis,
		TargetLatency:    DefaultTargetLatency,
		LatencySlack:     DefaultTargetLatency / 2,
		MinLatencyRatio:  1 - DefaultLatencyTolerance,
		MaxLatencyRatio:  1 + DefaultLatencyTolerance,
		NoPlaybackTO:     DefaultNoPlaybackTO,
		WatchdogWindow:   DefaultNoPlaybackTO,
		ResamplerQuality: 1, // latency.QualityMedium
		MaxSnJump:        100 * blockSize,
		MaxTsJump:        int64(7 * (DefaultSampleRate * DefaultPacketMillis / 1000) * blockSize),
		FECScheme:        packet.SchemeNone,
		PacketPoolSize:   256,
		BufferPoolSize:   256,
	}
}
