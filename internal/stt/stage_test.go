package stt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/frame"
)

// fakeRecognizer implements Client over an in-memory result channel.
type fakeRecognizer struct {
	results   chan Result
	sent      [][]byte
	finalized int
	sendErr   error
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{results: make(chan Result, 16)}
}

func (f *fakeRecognizer) Start(ctx context.Context) error { return nil }
func (f *fakeRecognizer) SendAudio(data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}
func (f *fakeRecognizer) Finalize() error        { f.finalized++; return nil }
func (f *fakeRecognizer) Results() <-chan Result { return f.results }
func (f *fakeRecognizer) Stop() error            { return nil }
func (f *fakeRecognizer) Close() error           { close(f.results); return nil }

func TestRecognitionConsumesAudio(t *testing.T) {
	client := newFakeRecognizer()
	stage := NewStage(client, zerolog.Nop())

	out := make(chan frame.Frame, 16)
	err := stage.Process(context.Background(), frame.AudioChunk{Data: []byte{1, 2}, SampleRate: 16000, Sequence: 1}, out)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(client.sent) != 1 {
		t.Fatalf("expected audio forwarded to provider, got %d sends", len(client.sent))
	}
	select {
	case f := <-out:
		t.Fatalf("expected audio to stop at recognition, got %#v", f)
	default:
	}
}

func TestRecognitionSendFailureIsStageError(t *testing.T) {
	client := newFakeRecognizer()
	client.sendErr = errors.New("stream down")
	stage := NewStage(client, zerolog.Nop())

	out := make(chan frame.Frame, 16)
	err := stage.Process(context.Background(), frame.AudioChunk{Data: []byte{1}, SampleRate: 16000}, out)
	if err == nil {
		t.Fatal("expected send failure to surface as stage error")
	}
}

func TestRecognitionPassesOtherFramesThrough(t *testing.T) {
	client := newFakeRecognizer()
	stage := NewStage(client, zerolog.Nop())

	out := make(chan frame.Frame, 16)
	in := frame.Control{CtrlKind: frame.ControlInterrupt, TurnID: "t1"}
	if err := stage.Process(context.Background(), in, out); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if got := <-out; got != frame.Frame(in) {
		t.Fatalf("expected pass-through, got %#v", got)
	}
}

func TestPumpResultsThreadsUtteranceIDs(t *testing.T) {
	client := newFakeRecognizer()
	stage := NewStage(client, zerolog.Nop())

	var pushed []frame.Frame
	push := func(ctx context.Context, f frame.Frame) error {
		pushed = append(pushed, f)
		return nil
	}

	client.results <- Result{Text: "hel", IsFinal: false}
	client.results <- Result{Text: "hello", IsFinal: false}
	client.results <- Result{Text: "hello there", IsFinal: true}
	client.results <- Result{Text: "next", IsFinal: false}
	client.results <- Result{Text: "next utterance", IsFinal: true}
	close(client.results)

	if err := stage.PumpResults(context.Background(), push); err != nil {
		t.Fatalf("PumpResults failed: %v", err)
	}

	if len(pushed) != 5 {
		t.Fatalf("expected 5 transcript frames, got %d", len(pushed))
	}

	p1 := pushed[0].(frame.TranscriptPartial)
	p2 := pushed[1].(frame.TranscriptPartial)
	f1 := pushed[2].(frame.TranscriptFinal)
	if p1.UtteranceID != p2.UtteranceID || p1.UtteranceID != f1.UtteranceID {
		t.Errorf("expected partials and final to share an utterance: %q %q %q",
			p1.UtteranceID, p2.UtteranceID, f1.UtteranceID)
	}
	if f1.Text != "hello there" {
		t.Errorf("expected final text preserved, got %q", f1.Text)
	}

	p3 := pushed[3].(frame.TranscriptPartial)
	f2 := pushed[4].(frame.TranscriptFinal)
	if p3.UtteranceID == f1.UtteranceID {
		t.Error("expected a fresh utterance after a final")
	}
	if p3.UtteranceID != f2.UtteranceID {
		t.Errorf("expected second utterance threaded: %q vs %q", p3.UtteranceID, f2.UtteranceID)
	}
}

func TestPumpResultsSkipsEmptyText(t *testing.T) {
	client := newFakeRecognizer()
	stage := NewStage(client, zerolog.Nop())

	var pushed []frame.Frame
	push := func(ctx context.Context, f frame.Frame) error {
		pushed = append(pushed, f)
		return nil
	}

	client.results <- Result{Text: "", IsFinal: false}
	client.results <- Result{Text: "real", IsFinal: true}
	close(client.results)

	if err := stage.PumpResults(context.Background(), push); err != nil {
		t.Fatalf("PumpResults failed: %v", err)
	}
	if len(pushed) != 1 {
		t.Fatalf("expected empty results skipped, got %d frames", len(pushed))
	}
}

func TestPumpResultsStopsOnContextCancel(t *testing.T) {
	client := newFakeRecognizer()
	stage := NewStage(client, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- stage.PumpResults(ctx, func(context.Context, frame.Frame) error { return nil })
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PumpResults did not stop on cancellation")
	}
}

func TestEndOfStreamFinalizesAndIsConsumed(t *testing.T) {
	client := newFakeRecognizer()
	stage := NewStage(client, zerolog.Nop())

	out := make(chan frame.Frame, 16)
	in := frame.Control{CtrlKind: frame.ControlEndOfStream}
	if err := stage.Process(context.Background(), in, out); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if client.finalized != 1 {
		t.Errorf("expected one finalize call, got %d", client.finalized)
	}
	// End-of-stream is addressed to recognition; downstream never sees it.
	select {
	case f := <-out:
		t.Fatalf("expected end-of-stream consumed, got %#v", f)
	default:
	}
}
