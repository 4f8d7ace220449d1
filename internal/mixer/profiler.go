package mixer

import "time"

// profilerChunks is the moving-average window depth: the Profiler
// keeps a ratio for each of the last profilerChunks chunks and reports
// their mean.
const profilerChunks = 5

// Profiler is a CPU-load sampler for the playback path. It
// accumulates (samples, elapsed wall-clock time) pairs
// from a pipeline stage (typically one mix cycle or one resampler
// pass) into fixed-size chunks of audio, and exposes a moving average
// of each chunk's load ratio: wall-clock processing time divided by
// that chunk's nominal playback duration. A ratio near 1.0 means the
// stage is keeping up with real time; a ratio that keeps climbing
// means it is falling behind.
type Profiler struct {
	sampleRate   int
	chunkSamples int

	curSamples int
	curElapsed time.Duration

	history   [profilerChunks]float64
	cursor    int
	count     int
	movingAvg float64
}

// NewProfiler constructs a profiler. channels is carried for parity
// with the frame shapes the rest of this package handles and to
// document that frameSamples passed to EndFrame is a per-channel
// count, matching frame.Frame.Duration; sampleRate and interval size
// the chunk the moving average is computed over.
func NewProfiler(channels, sampleRate int, interval time.Duration) *Profiler {
	chunkSamples := int(interval.Seconds() * float64(sampleRate) / float64(profilerChunks))
	if chunkSamples < 1 {
		chunkSamples = 1
	}
	_ = channels
	return &Profiler{sampleRate: sampleRate, chunkSamples: chunkSamples}
}

// EndFrame records that a frame of frameSamples per-channel samples
// took elapsed wall-clock time to process. Once enough samples have
// accumulated to close a chunk, the chunk's ratio is folded into the
// moving average.
func (p *Profiler) EndFrame(frameSamples int, elapsed time.Duration) {
	p.curSamples += frameSamples
	p.curElapsed += elapsed
	if p.curSamples < p.chunkSamples {
		return
	}

	nominal := time.Duration(float64(p.chunkSamples) / float64(p.sampleRate) * float64(time.Second))
	ratio := float64(p.curElapsed) / float64(nominal)
	p.pushChunk(ratio)

	p.curSamples = 0
	p.curElapsed = 0
}

func (p *Profiler) pushChunk(ratio float64) {
	p.history[p.cursor] = ratio
	p.cursor = (p.cursor + 1) % profilerChunks
	if p.count < profilerChunks {
		p.count++
	}

	var sum float64
	for i := 0; i < p.count; i++ {
		sum += p.history[i]
	}
	p.movingAvg = sum / float64(p.count)
}

// MovingAvg returns the current moving average of per-chunk load
// ratios. It is zero until the first chunk has closed.
func (p *Profiler) MovingAvg() float64 { return p.movingAvg }
