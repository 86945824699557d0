package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/conversation"
	"github.com/voxwire/voicebot/internal/frame"
	"github.com/voxwire/voicebot/internal/observability"
	"github.com/voxwire/voicebot/internal/pipeline"
	"github.com/voxwire/voicebot/internal/turn"
)

// errTurnAbandoned aborts a stream mid-flight when the owning turn was
// abandoned. It is stale work being discarded, not a failure.
var errTurnAbandoned = errors.New("turn abandoned during generation")

// Stage is the generation stage. A Control start-turn frame triggers one
// streamed chat completion over a snapshot of the conversation history;
// every delta is emitted as a GenerationToken and the assembled reply as a
// GenerationComplete. All other frames pass through.
type Stage struct {
	client  Client
	prompts *PromptBuilder
	history *conversation.Aggregator
	ctrl    *turn.Controller
	timeout time.Duration
	metrics *observability.SessionMetrics
	logger  zerolog.Logger
}

// NewStage creates a generation stage. timeout bounds one turn's generation;
// the turn's own context still cancels earlier on barge-in.
func NewStage(
	client Client,
	prompts *PromptBuilder,
	history *conversation.Aggregator,
	ctrl *turn.Controller,
	timeout time.Duration,
	metrics *observability.SessionMetrics,
	logger zerolog.Logger,
) *Stage {
	return &Stage{
		client:  client,
		prompts: prompts,
		history: history,
		ctrl:    ctrl,
		timeout: timeout,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *Stage) Name() string { return "generation" }

func (s *Stage) Process(ctx context.Context, f frame.Frame, out chan<- frame.Frame) error {
	ctrl, ok := f.(frame.Control)
	if !ok || ctrl.CtrlKind != frame.ControlStartTurn {
		return pipeline.Emit(ctx, out, f)
	}
	if err := pipeline.Emit(ctx, out, f); err != nil {
		return err
	}
	return s.generate(ctx, ctrl.TurnID, out)
}

// generate runs one streamed completion for the turn. The turn context is
// cancelled on abandonment, which aborts the stream at its next delta; that
// path returns nil because late cancellation is expected, not an error.
func (s *Stage) generate(ctx context.Context, turnID string, out chan<- frame.Frame) error {
	turnCtx := s.ctrl.TurnContext(turnID)
	turnCtx, cancel := context.WithTimeout(turnCtx, s.timeout)
	defer cancel()

	messages := s.prompts.Build(s.history.Snapshot())

	s.metrics.RecordProviderStart("groq")
	start := time.Now()

	full, err := s.client.StreamChat(turnCtx, messages, func(delta string) error {
		if s.ctrl.IsAbandoned(turnID) {
			return errTurnAbandoned
		}
		return pipeline.Emit(ctx, out, frame.GenerationToken{Text: delta, TurnID: turnID})
	})

	s.metrics.RecordProviderEnd("groq", err == nil || errors.Is(err, errTurnAbandoned))

	switch {
	case err == nil:
	case errors.Is(err, errTurnAbandoned), errors.Is(err, context.Canceled):
		s.logger.Debug().
			Str("turn_id", turnID).
			Msg("Generation aborted, turn abandoned")
		return nil
	case errors.Is(err, ErrAuthentication):
		// Dead credentials cannot recover at turn scope; end the session.
		observability.RecordError("authentication", "generation")
		return pipeline.NewFatalError(fmt.Errorf("generation for turn %s: %w", turnID, err))
	default:
		observability.RecordError("generation_failure", "generation")
		return fmt.Errorf("generation for turn %s: %w", turnID, err)
	}

	if s.ctrl.IsAbandoned(turnID) {
		s.logger.Debug().
			Str("turn_id", turnID).
			Msg("Generation finished for abandoned turn, reply discarded")
		return nil
	}

	s.logger.Debug().
		Str("turn_id", turnID).
		Int("reply_chars", len(full)).
		Dur("elapsed", time.Since(start)).
		Msg("Generation complete")

	return pipeline.Emit(ctx, out, frame.GenerationComplete{TurnID: turnID, Text: full})
}
