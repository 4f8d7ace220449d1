// Package task implements the control-plane task pipeline shared by
// the sender and receiver: add endpoint set, create endpoint,
// set endpoint output writer, set endpoint destination, delete
// endpoint all reduce to a Func submitted here and run on the pipeline's
// own worker between audio frames.
package task

import (
	"context"
	"sync"
	"time"
)

// Func is one control-plane operation.
type Func func() error

type entry struct {
	fn         Func
	done       chan struct{}
	err        error
	onComplete func(error)
}

// Pipeline queues tasks for execution on the owning pipeline's worker.
// Submit* may be called from any goroutine; Run must only be called by
// the worker itself (the audio thread, or a control-loop timer).
type Pipeline struct {
	// Budget caps how many tasks a single Run call executes, so a burst
	// of control-plane submissions can never starve the audio frame that
	// triggered the batch. Zero means no cap.
	Budget int

	mu    sync.Mutex
	queue []*entry
}

// New constructs an empty task pipeline with no batch budget.
func New() *Pipeline {
	return &Pipeline{}
}

// SubmitSync enqueues fn and blocks until the worker has run it, or
// until ctx is done. On timeout the task remains scheduled (there is
// no preemptive cancellation); the caller simply stops waiting and
// fn's eventual result is discarded.
func (p *Pipeline) SubmitSync(ctx context.Context, fn Func) error {
	e := &entry{fn: fn, done: make(chan struct{})}
	p.mu.Lock()
	p.queue = append(p.queue, e)
	p.mu.Unlock()

	select {
	case <-e.done:
		return e.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubmitAsync enqueues fn and returns immediately. onComplete, if
// non-nil, runs on the worker right after fn, receiving fn's result.
func (p *Pipeline) SubmitAsync(fn Func, onComplete func(error)) {
	e := &entry{fn: fn, onComplete: onComplete}
	p.mu.Lock()
	p.queue = append(p.queue, e)
	p.mu.Unlock()
}

// Run drains tasks queued so far, in submission order, on the calling
// goroutine: at most Budget of them when a budget is set, everything
// otherwise. A failed task does not block subsequent tasks. It returns
// the number of tasks executed.
func (p *Pipeline) Run() int {
	p.mu.Lock()
	batch := p.queue
	if p.Budget > 0 && len(batch) > p.Budget {
		batch = batch[:p.Budget]
		p.queue = p.queue[p.Budget:]
	} else {
		p.queue = nil
	}
	p.mu.Unlock()

	for _, e := range batch {
		e.err = e.fn()
		if e.done != nil {
			close(e.done)
		}
		if e.onComplete != nil {
			e.onComplete(e.err)
		}
	}
	return len(batch)
}

// Pending reports how many tasks are queued but not yet run.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Scheduler decides when Pipeline.Run fires relative to the audio
// clock.
type Scheduler interface {
	Start(p *Pipeline)
	Stop()
}

// InlineScheduler runs pending tasks only when Tick is called, typically
// once per produced/consumed audio frame. It spawns no goroutine.
type InlineScheduler struct {
	p *Pipeline
}

// NewInlineScheduler constructs an inline scheduler.
func NewInlineScheduler() *InlineScheduler {
	return &InlineScheduler{}
}

func (s *InlineScheduler) Start(p *Pipeline) { s.p = p }
func (s *InlineScheduler) Stop()             {}

// Tick runs the pipeline's pending tasks. Call it once per audio frame.
func (s *InlineScheduler) Tick() {
	if s.p != nil {
		s.p.Run()
	}
}

// TimerScheduler runs pending tasks on a dedicated control-loop ticker,
// independent of the audio clock.
type TimerScheduler struct {
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewTimerScheduler constructs a scheduler that drains the pipeline
// once per interval.
func NewTimerScheduler(interval time.Duration) *TimerScheduler {
	return &TimerScheduler{interval: interval}
}

func (s *TimerScheduler) Start(p *Pipeline) {
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.Run()
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *TimerScheduler) Stop() {
	if s.stop != nil {
		close(s.stop)
		s.wg.Wait()
	}
}
