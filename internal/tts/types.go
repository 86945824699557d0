package tts

import (
	"context"
	"errors"
)

// ErrAuthentication marks a credential rejection from the provider. It is
// fatal to the session and never retried.
var ErrAuthentication = errors.New("tts provider rejected credentials")

// Client is the boundary to a speech synthesis provider. Synthesize blocks
// until the provider returns and yields PCM16 audio at the session sample
// rate. ctx carries the per-turn cancellation; an abandoned turn aborts the
// request in flight.
type Client interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// HealthCheck verifies the provider is reachable with the configured
	// credentials.
	HealthCheck(ctx context.Context) (bool, error)
}
