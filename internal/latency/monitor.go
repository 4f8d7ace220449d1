// Package latency implements the receiver's latency monitor, a PI
// controller that keeps the jitter buffer's fill level near a target by
// driving the per-session resampler's rate ratio, and the polyphase
// FIR resampler it drives.
package latency

import (
	"errors"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"
)

// ErrSessionDead is returned by Update once measured latency breaches
// the configured absolute bounds.
var ErrSessionDead = errors.New("latency: session outside absolute latency bounds")

// Monitor measures instantaneous jitter-buffer latency and computes a
// resampler scaling factor to steer it toward a target.
type Monitor struct {
	targetSamples int
	minSamples    int
	maxSamples    int
	epsilon       float64

	kp, ki   float64
	integral float64
	warmed   bool

	hist *hdrhistogram.Histogram
	log  *zap.Logger
}

// NewMonitor constructs a latency monitor. target/min/max are in
// samples; epsilon bounds the output scale factor to
// [1-epsilon, 1+epsilon].
func NewMonitor(targetSamples, minSamples, maxSamples int, epsilon float64, log *zap.Logger) *Monitor {
	return &Monitor{
		targetSamples: targetSamples,
		minSamples:    minSamples,
		maxSamples:    maxSamples,
		epsilon:       epsilon,
		kp:            0.05,
		ki:            0.002,
		hist:          hdrhistogram.New(1, 1_000_000, 3), // 1 sample to 1M samples latency
		log:           log,
	}
}

// Update records the current writer/reader cursor gap (in samples) and
// returns the resampler scale factor to apply at the next frame
// boundary. It returns ErrSessionDead once the gap breaches the
// configured absolute bounds.
func (m *Monitor) Update(writerCursor, readerCursor uint32) (float64, error) {
	latency := int64(int32(writerCursor - readerCursor))

	if latency > 0 {
		m.hist.RecordValue(latency)
	}

	// The min bound only applies once the buffer has filled to target
	// at least once; a freshly opened session always starts below it.
	if !m.warmed && latency >= int64(m.targetSamples) {
		m.warmed = true
	}
	if (m.warmed && latency < int64(m.minSamples)) || latency > int64(m.maxSamples) {
		if m.log != nil {
			m.log.Warn("latency: session outside bounds", zap.Int64("latency_samples", latency),
				zap.Int("min", m.minSamples), zap.Int("max", m.maxSamples))
		}
		return 1.0, ErrSessionDead
	}

	errSamples := float64(m.targetSamples) - float64(latency)
	errNorm := errSamples / float64(m.targetSamples)

	m.integral += errNorm
	const integralClamp = 10.0
	if m.integral > integralClamp {
		m.integral = integralClamp
	} else if m.integral < -integralClamp {
		m.integral = -integralClamp
	}

	adjust := m.kp*errNorm + m.ki*m.integral
	if adjust > m.epsilon {
		adjust = m.epsilon
	} else if adjust < -m.epsilon {
		adjust = -m.epsilon
	}

	// Positive error (buffer running low) needs a faster output rate,
	// i.e. a smaller scale factor consuming input more slowly relative
	// to output; subtract rather than add.
	return 1.0 - adjust, nil
}

// ValueAtQuantile reports the observed latency, in samples, at the
// given quantile (0-100), for telemetry export.
func (m *Monitor) ValueAtQuantile(q float64) int64 {
	return m.hist.ValueAtQuantile(q)
}

// Reset clears the controller's integral term and latency histogram,
// for reuse against a freshly reaped session slot.
func (m *Monitor) Reset() {
	m.integral = 0
	m.warmed = false
	m.hist = hdrhistogram.New(1, 1_000_000, 3)
}
