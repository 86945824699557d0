package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/audio"
	"github.com/voxwire/voicebot/internal/config"
	"github.com/voxwire/voicebot/internal/observability"
	"github.com/voxwire/voicebot/internal/resilience"
)

const cartesiaURL = "https://api.cartesia.ai/tts/bytes"

// cartesia always synthesizes at 24kHz PCM; we resample to the session rate.
const cartesiaSampleRate = 24000

// cartesiaRequest is the request payload for the Cartesia bytes endpoint.
type cartesiaRequest struct {
	ModelID      string              `json:"model_id"`
	Transcript   string              `json:"transcript"`
	Voice        cartesiaVoice       `json:"voice"`
	OutputFormat cartesiaAudioFormat `json:"output_format"`
	Language     string              `json:"language,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaAudioFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaClient implements Client using Cartesia's synthesis API.
type CartesiaClient struct {
	config     *config.Config
	httpClient *http.Client
	logger     zerolog.Logger

	circuitBreaker *resilience.CircuitBreaker
}

// NewCartesiaClient creates a Cartesia synthesis client.
func NewCartesiaClient(cfg *config.Config, logger zerolog.Logger) *CartesiaClient {
	return &CartesiaClient{
		config:     cfg,
		httpClient: &http.Client{},
		logger:     logger.With().Str("component", "cartesia").Logger(),
		circuitBreaker: resilience.NewCircuitBreaker(
			"cartesia",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Synthesize converts text to PCM16 audio at the session sample rate.
// Transient failures retry with bounded backoff inside the circuit breaker.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.config.CartesiaTimeout)*time.Second)
	defer cancel()

	var pcm []byte

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
			pcm, err = c.synthesizeOnce(ctx, text)
			return err
		}, retryConfig, isRetryableSynthesisError)
	})

	observability.UpdateCircuitBreakerState("cartesia", int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("cartesia")
		return nil, err
	}

	if c.config.SampleRate != cartesiaSampleRate {
		resampled, err := audio.ResamplePCM16(pcm, cartesiaSampleRate, c.config.SampleRate)
		if err != nil {
			return nil, fmt.Errorf("failed to resample synthesis output: %w", err)
		}
		pcm = resampled
	}

	c.logger.Debug().
		Int("text_chars", len(text)).
		Int("audio_bytes", len(pcm)).
		Msg("Synthesis complete")
	return pcm, nil
}

// synthesizeOnce issues one synthesis request and reads the raw PCM body.
func (c *CartesiaClient) synthesizeOnce(ctx context.Context, text string) ([]byte, error) {
	reqBody := cartesiaRequest{
		ModelID:    c.config.CartesiaModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.config.CartesiaVoiceID},
		OutputFormat: cartesiaAudioFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: cartesiaSampleRate,
		},
		Language: "en",
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cartesia request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cartesiaURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create cartesia request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.config.CartesiaAPIKey)
	req.Header.Set("Cartesia-Version", "2024-06-10")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cartesia request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("cartesia returned status %d: %w", resp.StatusCode, ErrAuthentication)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resilience.NewRetryableError(fmt.Errorf("cartesia returned status %d", resp.StatusCode))
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("cartesia returned status %d: %s", resp.StatusCode, string(msg))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read cartesia response: %w", err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cartesia returned empty audio")
	}
	return pcm, nil
}

// HealthCheck verifies the credentials against the API version endpoint.
func (c *CartesiaClient) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.cartesia.ai/", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("X-API-Key", c.config.CartesiaAPIKey)
	req.Header.Set("Cartesia-Version", "2024-06-10")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return false, fmt.Errorf("cartesia returned status %d", resp.StatusCode)
	}
	return true, nil
}

func isRetryableSynthesisError(err error) bool {
	if err == nil {
		return false
	}
	if resilience.IsRetryable(err) {
		return true
	}
	return resilience.IsRetryableNetworkError(err)
}
