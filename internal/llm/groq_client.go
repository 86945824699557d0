package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/config"
	"github.com/voxwire/voicebot/internal/observability"
	"github.com/voxwire/voicebot/internal/resilience"
)

const groqChatURL = "https://api.groq.com/openai/v1/chat/completions"

// chatRequest is the OpenAI-style streaming chat completion request.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// chatChunk is one SSE data payload from the streaming response.
type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// GroqClient implements Client against Groq's chat completions API.
type GroqClient struct {
	config     *config.Config
	httpClient *http.Client
	logger     zerolog.Logger

	circuitBreaker *resilience.CircuitBreaker
}

// NewGroqClient creates a Groq streaming chat client.
func NewGroqClient(cfg *config.Config, logger zerolog.Logger) *GroqClient {
	return &GroqClient{
		config:     cfg,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "groq").Logger(),
		circuitBreaker: resilience.NewCircuitBreaker(
			"groq",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// StreamChat sends the messages and streams the reply token by token.
// Transient request failures are retried with bounded exponential backoff;
// credential rejections surface as ErrAuthentication and are never retried.
func (c *GroqClient) StreamChat(ctx context.Context, messages []Message, onDelta func(string) error) (string, error) {
	var resp *http.Response

	retryConfig := &resilience.RetryConfig{
		MaxAttempts:       c.config.RetryMaxAttempts,
		InitialBackoff:    time.Duration(c.config.RetryInitialBackoff) * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	err := c.circuitBreaker.Call(func() error {
		return resilience.Retry(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var err error
			resp, err = c.openStream(ctx, messages)
			return err
		}, retryConfig, isRetryableChatError)
	})

	observability.UpdateCircuitBreakerState("groq", int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("groq")
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		// Cancellation is checked at every streaming checkpoint: one SSE
		// line is the finest granularity the provider offers.
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse Groq stream chunk")
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if err := onDelta(delta); err != nil {
			return full.String(), err
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("groq stream read: %w", err)
	}

	return full.String(), nil
}

// openStream issues the streaming request and validates the response status.
func (c *GroqClient) openStream(ctx context.Context, messages []Message) (*http.Response, error) {
	reqBody := chatRequest{
		Model:       c.config.GroqModel,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   c.config.GroqMaxTokens,
		Stream:      true,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal groq request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, groqChatURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create groq request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.GroqAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("groq request failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("groq returned status %d: %w", resp.StatusCode, ErrAuthentication)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, resilience.NewRetryableError(fmt.Errorf("groq returned status %d", resp.StatusCode))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("groq returned status %d: %s", resp.StatusCode, string(body))
	}
}

// HealthCheck verifies the credentials against the models endpoint.
func (c *GroqClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.groq.com/openai/v1/models", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.config.GroqAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("groq models endpoint returned status %d", resp.StatusCode)
	}
	return true, nil
}

// isRetryableChatError classifies errors for the retry loop: explicit
// retryable markers and transient network failures retry, everything else
// (including authentication) fails fast.
func isRetryableChatError(err error) bool {
	if err == nil {
		return false
	}
	if resilience.IsRetryable(err) {
		return true
	}
	return resilience.IsRetryableNetworkError(err)
}
