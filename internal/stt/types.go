package stt

import "context"

// Result is one recognition result from a provider.
type Result struct {
	// Text is the transcribed text. For partial results it is the full
	// provisional text of the current utterance, superseding earlier
	// partials.
	Text string

	// IsFinal indicates a terminal result for the current utterance.
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if the provider
	// reports one.
	Confidence float64
}

// Client is the boundary to a streaming speech-to-text provider.
type Client interface {
	// Start opens the streaming session. ctx bounds the session lifetime.
	Start(ctx context.Context) error

	// SendAudio streams one chunk of PCM16 audio to the provider.
	SendAudio(audioData []byte) error

	// Finalize signals end of the current utterance, asking the provider to
	// flush a final result. Providers with their own endpointing may treat
	// this as a no-op.
	Finalize() error

	// Results returns the stream of recognition results.
	Results() <-chan Result

	// Stop ends the streaming session.
	Stop() error

	// Close releases the client.
	Close() error
}
