package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/voxwire/voicebot/internal/frame"
	"github.com/voxwire/voicebot/internal/observability"
)

// Stage is one unit of transformation in the pipeline. A stage handles the
// frame kinds it declares interest in and must forward every other frame
// unchanged via out - that pass-through rule is what lets control frames
// traverse the full chain. Emitting to out is a blocking send, so a slow
// downstream stage backpressures its producer. A returned error is treated
// as a per-turn stage failure, never a pipeline crash.
type Stage interface {
	Name() string
	Process(ctx context.Context, f frame.Frame, out chan<- frame.Frame) error
}

// Emit forwards a frame to the next stage, honoring backpressure and stage
// cancellation. Stages use it for both handled output and pass-through.
func Emit(ctx context.Context, out chan<- frame.Frame, f frame.Frame) error {
	select {
	case out <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth reports the fill level of the queue feeding one stage.
type QueueDepth struct {
	Stage    string `json:"stage"`
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
}

// Pipeline routes frames through an ordered chain of stages connected by
// bounded FIFO queues. The pipeline itself runs no stage logic; it wires the
// queues and supervises the per-stage goroutines.
type Pipeline struct {
	stages []Stage
	queues []chan frame.Frame

	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	closed  bool

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a pipeline over the given stages. Every inter-stage queue is
// bounded at capacity frames; a saturated queue suspends the producer rather
// than dropping frames.
func New(capacity int, logger zerolog.Logger, stages ...Stage) *Pipeline {
	if capacity < 1 {
		capacity = 1
	}
	queues := make([]chan frame.Frame, len(stages)+1)
	for i := range queues {
		queues[i] = make(chan frame.Frame, capacity)
	}
	return &Pipeline{
		stages: stages,
		queues: queues,
		logger: logger,
	}
}

// Start wires the stage processing loops. It returns immediately; stage
// failures surface as StageError control frames on the output, not as
// errors here.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	group, ctx := errgroup.WithContext(ctx)
	p.group = group

	for i, s := range p.stages {
		stage := s
		in := p.queues[i]
		out := p.queues[i+1]
		group.Go(func() error {
			return p.runStage(ctx, stage, in, out)
		})
	}

	p.started = true
	return nil
}

// Push places a frame on the input boundary. It blocks while the first queue
// is full (backpressure) and fails once the pipeline is drained or ctx ends.
func (p *Pipeline) Push(ctx context.Context, f frame.Frame) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("pipeline is drained")
	}
	in := p.queues[0]
	p.mu.Unlock()

	select {
	case in <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Out returns the output boundary: frames that traversed every stage, in
// FIFO order. The channel closes after Drain completes.
func (p *Pipeline) Out() <-chan frame.Frame {
	return p.queues[len(p.queues)-1]
}

// Drain stops intake, lets in-flight frames flush through the chain, then
// stops all stages and releases queue memory. Stages that do not flush
// within the grace window are cancelled.
func (p *Pipeline) Drain() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queues[0])
	started := p.started
	p.mu.Unlock()

	if !started {
		close(p.queues[len(p.queues)-1])
		return
	}

	done := make(chan struct{})
	go func() {
		p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		p.logger.Warn().Msg("Pipeline drain grace window elapsed, cancelling stages")
		p.cancel()
		<-done
	}
	p.cancel()
}

// QueueDepths reports each stage's inbound queue fill plus the output
// boundary, for the operator health surface.
func (p *Pipeline) QueueDepths() []QueueDepth {
	depths := make([]QueueDepth, 0, len(p.queues))
	for i, q := range p.queues {
		name := "out"
		if i < len(p.stages) {
			name = p.stages[i].Name()
		}
		depths = append(depths, QueueDepth{
			Stage:    name,
			Depth:    len(q),
			Capacity: cap(q),
		})
	}
	return depths
}

// runStage is the per-stage processing loop: receive, process, forward.
// Frames between two adjacent stages preserve emission order because a
// single goroutine owns each queue pair.
func (p *Pipeline) runStage(ctx context.Context, s Stage, in <-chan frame.Frame, out chan<- frame.Frame) error {
	defer close(out)

	// Receipt order is recorded for diagnostics only; routing is queue order.
	var receipt uint64

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-in:
			if !ok {
				return nil
			}
			receipt++
			observability.RecordFrame(s.Name(), f.Kind())
			p.logger.Trace().
				Str("stage", s.Name()).
				Str("frame", f.Kind()).
				Uint64("receipt", receipt).
				Msg("Frame received")

			start := time.Now()
			if err := s.Process(ctx, f, out); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error().
					Err(err).
					Str("stage", s.Name()).
					Str("frame", f.Kind()).
					Msg("Stage failure, abandoning turn")
				observability.RecordError("stage_failure", s.Name())

				se := frame.StageError(s.Name(), frame.TurnOf(f), err)
				se.Fatal = IsFatal(err)
				select {
				case out <- se:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			observability.RecordStageLatency(s.Name(), time.Since(start))
		}
	}
}
