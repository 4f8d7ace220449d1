package latency

import "math"

// Quality selects the resampler's filter length: low/medium/
// high map to 16/32/64 taps per polyphase branch.
type Quality int

const (
	QualityLow Quality = iota
	QualityMedium
	QualityHigh
)

// TapsPerPhase returns the filter length for this quality level.
func (q Quality) TapsPerPhase() int {
	switch q {
	case QualityLow:
		return 16
	case QualityHigh:
		return 64
	default:
		return 32
	}
}

const resamplerPhases = 128

// Resampler is a polyphase FIR rate converter. Its scale ratio may only
// be changed between Process calls, i.e. at frame boundaries, so
// phase is never disturbed mid-frame.
type Resampler struct {
	tapsPerPhase int
	phases       int
	taps         [][]float64 // [phase][tap]

	channels int
	ring     [][]float64 // per-channel circular history of past input samples
	ringPos  []int

	acc   float64
	ratio float64
}

// NewResampler constructs a resampler for the given quality and channel
// count, starting at a 1:1 ratio.
func NewResampler(quality Quality, channels int) *Resampler {
	taps := quality.TapsPerPhase()
	ring := make([][]float64, channels)
	for c := range ring {
		ring[c] = make([]float64, taps)
	}
	return &Resampler{
		tapsPerPhase: taps,
		phases:       resamplerPhases,
		taps:         buildPolyphaseTaps(resamplerPhases, taps),
		channels:     channels,
		ring:         ring,
		ringPos:      make([]int, channels),
		ratio:        1.0,
	}
}

// SetRatio updates the input/output rate ratio applied by the next
// Process call. Callers must only call this between Process calls.
func (r *Resampler) SetRatio(ratio float64) {
	r.ratio = ratio
}

// Process consumes one frame's worth of interleaved input samples and
// returns the resampled interleaved output. Output length varies with
// the current ratio.
func (r *Resampler) Process(in []float64) []float64 {
	channels := r.channels
	frames := len(in) / channels
	out := make([]float64, 0, frames)

	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			r.push(ch, in[f*channels+ch])
		}
		r.acc += 1.0
		for r.acc >= r.ratio {
			r.acc -= r.ratio
			frac := r.acc / r.ratio
			phase := int(frac * float64(r.phases))
			if phase < 0 {
				phase = 0
			} else if phase >= r.phases {
				phase = r.phases - 1
			}
			for ch := 0; ch < channels; ch++ {
				out = append(out, r.convolve(ch, phase))
			}
		}
	}
	return out
}

func (r *Resampler) push(ch int, v float64) {
	r.ring[ch][r.ringPos[ch]] = v
	r.ringPos[ch] = (r.ringPos[ch] + 1) % r.tapsPerPhase
}

func (r *Resampler) convolve(ch int, phase int) float64 {
	row := r.taps[phase]
	sum := 0.0
	start := r.ringPos[ch] // oldest sample in the ring
	n := r.tapsPerPhase
	for t := 0; t < n; t++ {
		sum += row[t] * r.ring[ch][(start+t)%n]
	}
	return sum
}

// buildPolyphaseTaps generates a windowed-sinc lowpass filter bank with
// `phases` fractional-delay branches, each tapsPerPhase taps long,
// normalized to unity DC gain per phase.
func buildPolyphaseTaps(phases, tapsPerPhase int) [][]float64 {
	out := make([][]float64, phases)
	center := float64(tapsPerPhase) / 2
	for p := 0; p < phases; p++ {
		row := make([]float64, tapsPerPhase)
		frac := float64(p) / float64(phases)
		sum := 0.0
		for t := 0; t < tapsPerPhase; t++ {
			x := float64(t) - center + frac
			v := sinc(x) * hamming(t, tapsPerPhase)
			row[t] = v
			sum += v
		}
		if sum != 0 {
			for t := range row {
				row[t] /= sum
			}
		}
		out[p] = row
	}
	return out
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func hamming(n, length int) float64 {
	return 0.54 - 0.46*math.Cos(2*math.Pi*float64(n)/float64(length-1))
}
