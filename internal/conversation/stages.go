package conversation

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/frame"
	"github.com/voxwire/voicebot/internal/pipeline"
	"github.com/voxwire/voicebot/internal/turn"
)

// UserAggregator is the pipeline stage sitting between recognition and
// generation. On a finalized utterance it appends the user turn, asks the
// controller to begin a new conversational turn, and emits the StartTurn
// control frame that triggers generation downstream.
type UserAggregator struct {
	agg    *Aggregator
	ctrl   *turn.Controller
	logger zerolog.Logger
}

// NewUserAggregator creates the user-side aggregator stage.
func NewUserAggregator(agg *Aggregator, ctrl *turn.Controller, logger zerolog.Logger) *UserAggregator {
	return &UserAggregator{agg: agg, ctrl: ctrl, logger: logger}
}

func (s *UserAggregator) Name() string { return "user_aggregator" }

func (s *UserAggregator) Process(ctx context.Context, f frame.Frame, out chan<- frame.Frame) error {
	switch v := f.(type) {
	case frame.TranscriptPartial:
		s.ctrl.OnTranscriptPartial()
		return pipeline.Emit(ctx, out, f)

	case frame.TranscriptFinal:
		if v.Text == "" {
			return nil
		}
		if !s.agg.OnUserFinal(v.UtteranceID, v.Text) {
			// Duplicate final: idempotent no-op, no new turn.
			return nil
		}
		turnID, _ := s.ctrl.BeginTurn(v.UtteranceID)
		s.logger.Info().
			Str("utterance_id", v.UtteranceID).
			Str("turn_id", turnID).
			Str("text", v.Text).
			Msg("User turn appended")

		if err := pipeline.Emit(ctx, out, f); err != nil {
			return err
		}
		return pipeline.Emit(ctx, out, frame.Control{CtrlKind: frame.ControlStartTurn, TurnID: turnID})

	default:
		return pipeline.Emit(ctx, out, f)
	}
}

// AssistantAggregator is the pipeline stage after synthesis. It appends the
// assistant turn once generation completes, unless the turn was abandoned
// in the meantime - a cancellation race resolves to discarding stale data.
type AssistantAggregator struct {
	agg    *Aggregator
	ctrl   *turn.Controller
	logger zerolog.Logger
}

// NewAssistantAggregator creates the assistant-side aggregator stage.
func NewAssistantAggregator(agg *Aggregator, ctrl *turn.Controller, logger zerolog.Logger) *AssistantAggregator {
	return &AssistantAggregator{agg: agg, ctrl: ctrl, logger: logger}
}

func (s *AssistantAggregator) Name() string { return "assistant_aggregator" }

func (s *AssistantAggregator) Process(ctx context.Context, f frame.Frame, out chan<- frame.Frame) error {
	if v, ok := f.(frame.GenerationComplete); ok {
		if s.agg.OnAssistantComplete(v.TurnID, v.Text) {
			s.logger.Info().
				Str("turn_id", v.TurnID).
				Str("text", v.Text).
				Msg("Assistant turn appended")
		}
	}
	return pipeline.Emit(ctx, out, f)
}
