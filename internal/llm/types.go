package llm

import (
	"context"
	"errors"
)

// ErrAuthentication marks a credential rejection from the provider. It is
// fatal to the session and never retried.
var ErrAuthentication = errors.New("llm provider rejected credentials")

// Message is one chat message in provider format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client is the boundary to a streaming chat-completion provider.
type Client interface {
	// StreamChat sends the messages and streams the reply. onDelta is called
	// once per text delta in stream order; returning an error from it aborts
	// the stream. The full assembled reply is returned on success. ctx
	// carries the per-turn deadline and cancellation.
	StreamChat(ctx context.Context, messages []Message, onDelta func(text string) error) (string, error)

	// HealthCheck verifies the provider is reachable with the configured
	// credentials.
	HealthCheck(ctx context.Context) (bool, error)
}
