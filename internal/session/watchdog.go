package session

import (
	"go.uber.org/zap"

	"roc/internal/frame"
)

// Watchdog observes the depacketizer's output frame stream and
// declares the session dead once too long a run passes without a
// directly-or-reconstructed source sample. A session is dead once the
// no-playback timeout elapses with no HasSignal frame, full stop;
// repair packets arriving in the meantime do not reset the clock,
// because they never produce a HasSignal frame on their own; only a
// successfully recovered or directly-delivered source sample does.
type Watchdog struct {
	windowSamples     int
	noPlaybackSamples int

	sinceSignal int
	dead        bool

	log *zap.Logger
}

// NewWatchdog constructs a watchdog. windowSamples is the sliding
// window for the "no HasSignal frames" rule; noPlaybackSamples is the
// no-playback timeout converted to samples. Both conditions collapse
// to the same counter; whichever bound is tighter governs.
func NewWatchdog(windowSamples, noPlaybackSamples int, log *zap.Logger) *Watchdog {
	return &Watchdog{windowSamples: windowSamples, noPlaybackSamples: noPlaybackSamples, log: log}
}

// Observe feeds one output frame to the watchdog.
func (w *Watchdog) Observe(f frame.Frame) {
	if w.dead {
		return
	}
	if f.Flags.Has(frame.HasSignal) {
		w.sinceSignal = 0
		return
	}
	w.sinceSignal += f.Duration

	limit := w.noPlaybackSamples
	if w.windowSamples < limit {
		limit = w.windowSamples
	}
	if w.sinceSignal >= limit {
		w.dead = true
		if w.log != nil {
			w.log.Warn("session: watchdog declaring session dead, no playback signal",
				zap.Int("since_signal_samples", w.sinceSignal))
		}
	}
}

// Dead reports whether the watchdog has declared the session dead.
func (w *Watchdog) Dead() bool { return w.dead }

// Kill forces the session dead regardless of the sample-based rule in
// Observe. Session-fatal conditions other than "no playback signal"
// (the latency monitor breaching its absolute bounds, or an RTP
// identity change) go through this instead, so the watchdog stays the
// single place that owns the session's dead flag.
func (w *Watchdog) Kill() {
	if w.dead {
		return
	}
	w.dead = true
	if w.log != nil {
		w.log.Warn("session: watchdog forced dead by an external session-fatal condition")
	}
}
