package stt

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/frame"
	"github.com/voxwire/voicebot/internal/pipeline"
)

// Stage is the recognition stage: it streams inbound audio chunks to the
// provider and passes every other frame through. Recognition results arrive
// asynchronously on the provider's result channel; PumpResults converts them
// to transcript frames tagged with a per-session monotonic utterance ID and
// feeds them back into the pipeline.
type Stage struct {
	client Client
	logger zerolog.Logger

	mu          sync.Mutex
	utteranceN  uint64
	utteranceID string
}

// NewStage creates a recognition stage over the given provider client.
func NewStage(client Client, logger zerolog.Logger) *Stage {
	return &Stage{client: client, logger: logger}
}

func (s *Stage) Name() string { return "recognition" }

func (s *Stage) Process(ctx context.Context, f frame.Frame, out chan<- frame.Frame) error {
	switch v := f.(type) {
	case frame.AudioChunk:
		if err := s.client.SendAudio(v.Data); err != nil {
			return fmt.Errorf("recognition send: %w", err)
		}
		// Raw audio stops here; downstream stages work on transcripts.
		return nil

	case frame.Control:
		if v.CtrlKind == frame.ControlEndOfStream {
			// The transport queues this behind the utterance's audio, so the
			// provider flushes a final only after hearing everything.
			if err := s.client.Finalize(); err != nil {
				return fmt.Errorf("recognition finalize: %w", err)
			}
			return nil
		}
		return pipeline.Emit(ctx, out, f)

	default:
		return pipeline.Emit(ctx, out, f)
	}
}

// PumpResults drains the provider's result channel, threading utterance IDs:
// partials share the open utterance, a final closes it. push places each
// transcript frame at the pipeline input boundary. Runs until the provider
// channel closes or ctx ends.
func (s *Stage) PumpResults(ctx context.Context, push func(context.Context, frame.Frame) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-s.client.Results():
			if !ok {
				return nil
			}
			if res.Text == "" {
				continue
			}

			var f frame.Frame
			if res.IsFinal {
				f = frame.TranscriptFinal{Text: res.Text, UtteranceID: s.closeUtterance()}
			} else {
				f = frame.TranscriptPartial{Text: res.Text, UtteranceID: s.currentUtterance()}
			}

			s.logger.Debug().
				Str("frame", f.Kind()).
				Str("text", res.Text).
				Float64("confidence", res.Confidence).
				Msg("Recognition result")

			if err := push(ctx, f); err != nil {
				return err
			}
		}
	}
}

// currentUtterance returns the open utterance ID, opening one if needed.
func (s *Stage) currentUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.utteranceID == "" {
		s.utteranceN++
		s.utteranceID = fmt.Sprintf("utt-%04d", s.utteranceN)
	}
	return s.utteranceID
}

// closeUtterance returns the open utterance ID and closes it, so the next
// result starts a fresh utterance.
func (s *Stage) closeUtterance() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.utteranceID == "" {
		s.utteranceN++
		s.utteranceID = fmt.Sprintf("utt-%04d", s.utteranceN)
	}
	id := s.utteranceID
	s.utteranceID = ""
	return id
}
