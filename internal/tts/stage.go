package tts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/frame"
	"github.com/voxwire/voicebot/internal/observability"
	"github.com/voxwire/voicebot/internal/pipeline"
	"github.com/voxwire/voicebot/internal/turn"
)

// Stage is the synthesis stage. Generation tokens are buffered per turn and
// flushed to the provider at sentence boundaries, so playback starts as soon
// as the first sentence is complete instead of waiting for the full reply.
// An interrupt or abandoned turn discards everything buffered for it.
type Stage struct {
	client     Client
	ctrl       *turn.Controller
	sampleRate int
	metrics    *observability.SessionMetrics
	logger     zerolog.Logger

	// buffered text for the turn currently streaming through the stage.
	// Stages are single-goroutine so no lock is needed.
	turnID  string
	pending strings.Builder
	started bool
}

// NewStage creates a synthesis stage over the given provider client.
func NewStage(client Client, ctrl *turn.Controller, sampleRate int, metrics *observability.SessionMetrics, logger zerolog.Logger) *Stage {
	return &Stage{
		client:     client,
		ctrl:       ctrl,
		sampleRate: sampleRate,
		metrics:    metrics,
		logger:     logger,
	}
}

func (s *Stage) Name() string { return "synthesis" }

func (s *Stage) Process(ctx context.Context, f frame.Frame, out chan<- frame.Frame) error {
	switch v := f.(type) {
	case frame.GenerationToken:
		return s.onToken(ctx, v, out)

	case frame.GenerationComplete:
		if err := s.onComplete(ctx, v, out); err != nil {
			return err
		}
		// The assistant aggregator downstream consumes the complete frame.
		return pipeline.Emit(ctx, out, f)

	case frame.Control:
		if v.CtrlKind == frame.ControlInterrupt || v.CtrlKind == frame.ControlCancel {
			s.discard(v.TurnID)
		}
		return pipeline.Emit(ctx, out, f)

	default:
		return pipeline.Emit(ctx, out, f)
	}
}

// onToken accumulates a delta and synthesizes any complete sentences.
func (s *Stage) onToken(ctx context.Context, tok frame.GenerationToken, out chan<- frame.Frame) error {
	if s.ctrl.IsAbandoned(tok.TurnID) {
		s.discard(tok.TurnID)
		return nil
	}

	if s.turnID != tok.TurnID {
		// A new turn begins; anything left from the previous one is stale.
		s.reset(tok.TurnID)
	}
	s.pending.WriteString(tok.Text)

	text := s.pending.String()
	cut := lastSentenceBoundary(text)
	if cut < 0 {
		return nil
	}

	sentence := strings.TrimSpace(text[:cut+1])
	rest := text[cut+1:]
	s.pending.Reset()
	s.pending.WriteString(rest)

	if sentence == "" {
		return nil
	}
	return s.speak(ctx, tok.TurnID, sentence, out)
}

// onComplete flushes any trailing text and terminates the turn's audio.
func (s *Stage) onComplete(ctx context.Context, done frame.GenerationComplete, out chan<- frame.Frame) error {
	if s.ctrl.IsAbandoned(done.TurnID) {
		s.discard(done.TurnID)
		return nil
	}

	var trailing string
	if s.turnID == done.TurnID {
		trailing = strings.TrimSpace(s.pending.String())
	} else if !s.started {
		// No tokens preceded the complete frame; synthesize the full reply.
		trailing = strings.TrimSpace(done.Text)
	}
	s.reset("")

	if trailing != "" {
		if err := s.speak(ctx, done.TurnID, trailing, out); err != nil {
			return err
		}
	}
	return pipeline.Emit(ctx, out, frame.SynthesisComplete{TurnID: done.TurnID})
}

// speak synthesizes one text segment and emits its audio.
func (s *Stage) speak(ctx context.Context, turnID, text string, out chan<- frame.Frame) error {
	if !s.started {
		s.started = true
		s.ctrl.OnSynthesisStarted(turnID)
	}

	turnCtx := s.ctrl.TurnContext(turnID)

	s.metrics.RecordProviderStart("cartesia")
	start := time.Now()
	pcm, err := s.client.Synthesize(turnCtx, text)
	s.metrics.RecordProviderEnd("cartesia", err == nil)

	if err != nil {
		if errors.Is(err, context.Canceled) || s.ctrl.IsAbandoned(turnID) {
			s.logger.Debug().Str("turn_id", turnID).Msg("Synthesis aborted, turn abandoned")
			s.discard(turnID)
			return nil
		}
		if errors.Is(err, ErrAuthentication) {
			// Dead credentials cannot recover at turn scope; end the session.
			observability.RecordError("authentication", "synthesis")
			return pipeline.NewFatalError(fmt.Errorf("synthesis for turn %s: %w", turnID, err))
		}
		observability.RecordError("synthesis_failure", "synthesis")
		return fmt.Errorf("synthesis for turn %s: %w", turnID, err)
	}

	// The turn may have been abandoned while the provider was working.
	if s.ctrl.IsAbandoned(turnID) {
		s.discard(turnID)
		return nil
	}

	observability.RecordAudioBytes("outbound", int64(len(pcm)))
	s.logger.Debug().
		Str("turn_id", turnID).
		Int("text_chars", len(text)).
		Int("audio_bytes", len(pcm)).
		Dur("elapsed", time.Since(start)).
		Msg("Segment synthesized")

	return pipeline.Emit(ctx, out, frame.SynthesisChunk{
		Data:       pcm,
		SampleRate: s.sampleRate,
		TurnID:     turnID,
	})
}

// discard drops buffered text when it belongs to the given turn.
func (s *Stage) discard(turnID string) {
	if s.turnID == turnID || turnID == "" {
		s.reset("")
	}
}

func (s *Stage) reset(turnID string) {
	s.turnID = turnID
	s.pending.Reset()
	s.started = false
}

// lastSentenceBoundary returns the index of the last sentence-ending rune,
// or -1 when the text holds no complete sentence yet.
func lastSentenceBoundary(text string) int {
	return strings.LastIndexAny(text, ".!?\n")
}
