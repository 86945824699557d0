package conversation

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/frame"
	"github.com/voxwire/voicebot/internal/turn"
)

func runStage(t *testing.T, s interface {
	Process(ctx context.Context, f frame.Frame, out chan<- frame.Frame) error
}, frames ...frame.Frame) []frame.Frame {
	t.Helper()
	out := make(chan frame.Frame, 16)
	for _, f := range frames {
		if err := s.Process(context.Background(), f, out); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}
	close(out)
	var got []frame.Frame
	for f := range out {
		got = append(got, f)
	}
	return got
}

func TestUserAggregatorStartsTurnOnFinal(t *testing.T) {
	agg := NewAggregator(nil, zerolog.Nop())
	ctrl := turn.NewController(context.Background(), zerolog.Nop())
	stage := NewUserAggregator(agg, ctrl, zerolog.Nop())

	got := runStage(t, stage,
		frame.TranscriptPartial{Text: "hel", UtteranceID: "utt-0001"},
		frame.TranscriptFinal{Text: "hello", UtteranceID: "utt-0001"},
	)

	if len(got) != 3 {
		t.Fatalf("expected partial, final and start-turn, got %d frames", len(got))
	}
	if _, ok := got[0].(frame.TranscriptPartial); !ok {
		t.Errorf("expected partial pass-through, got %#v", got[0])
	}
	if _, ok := got[1].(frame.TranscriptFinal); !ok {
		t.Errorf("expected final pass-through, got %#v", got[1])
	}
	ctrlFrame, ok := got[2].(frame.Control)
	if !ok || ctrlFrame.CtrlKind != frame.ControlStartTurn {
		t.Fatalf("expected start-turn control, got %#v", got[2])
	}
	if ctrlFrame.TurnID != ctrl.ActiveTurn() {
		t.Errorf("expected control to carry active turn id")
	}
	if ctrl.State() != turn.StateGenerating {
		t.Errorf("expected generating state, got %s", ctrl.State())
	}
	if agg.Len() != 1 {
		t.Errorf("expected user turn appended, got %d", agg.Len())
	}
}

func TestUserAggregatorDuplicateFinalStartsNoTurn(t *testing.T) {
	agg := NewAggregator(nil, zerolog.Nop())
	ctrl := turn.NewController(context.Background(), zerolog.Nop())
	stage := NewUserAggregator(agg, ctrl, zerolog.Nop())

	got := runStage(t, stage,
		frame.TranscriptFinal{Text: "hello", UtteranceID: "utt-0001"},
		frame.TranscriptFinal{Text: "hello", UtteranceID: "utt-0001"},
	)

	starts := 0
	for _, f := range got {
		if c, ok := f.(frame.Control); ok && c.CtrlKind == frame.ControlStartTurn {
			starts++
		}
	}
	if starts != 1 {
		t.Errorf("expected exactly one turn start, got %d", starts)
	}
	if agg.Len() != 1 {
		t.Errorf("expected one user turn, got %d", agg.Len())
	}
}

func TestUserAggregatorEmptyFinalDropped(t *testing.T) {
	agg := NewAggregator(nil, zerolog.Nop())
	ctrl := turn.NewController(context.Background(), zerolog.Nop())
	stage := NewUserAggregator(agg, ctrl, zerolog.Nop())

	got := runStage(t, stage, frame.TranscriptFinal{Text: "", UtteranceID: "utt-0001"})
	if len(got) != 0 {
		t.Errorf("expected empty final to be dropped, got %d frames", len(got))
	}
	if ctrl.ActiveTurn() != "" {
		t.Error("expected no turn for empty final")
	}
}

func TestAssistantAggregatorAppendsReply(t *testing.T) {
	ctrl := turn.NewController(context.Background(), zerolog.Nop())
	agg := NewAggregator(ctrl.IsAbandoned, zerolog.Nop())
	stage := NewAssistantAggregator(agg, ctrl, zerolog.Nop())

	turnID, _ := ctrl.BeginTurn("utt-0001")
	got := runStage(t, stage, frame.GenerationComplete{TurnID: turnID, Text: "hi there"})

	if len(got) != 1 {
		t.Fatalf("expected complete frame to pass through, got %d", len(got))
	}
	if agg.Len() != 1 {
		t.Errorf("expected assistant turn appended, got %d", agg.Len())
	}
}

func TestAssistantAggregatorDiscardsAbandonedReply(t *testing.T) {
	ctrl := turn.NewController(context.Background(), zerolog.Nop())
	agg := NewAggregator(ctrl.IsAbandoned, zerolog.Nop())
	stage := NewAssistantAggregator(agg, ctrl, zerolog.Nop())

	turnID, _ := ctrl.BeginTurn("utt-0001")
	ctrl.OnAudioActivity() // barge-in abandons the turn

	runStage(t, stage, frame.GenerationComplete{TurnID: turnID, Text: "stale"})
	if agg.Len() != 0 {
		t.Errorf("expected abandoned reply discarded, got %d turns", agg.Len())
	}
}
