package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/config"
	"github.com/voxwire/voicebot/internal/observability"
	"github.com/voxwire/voicebot/internal/resilience"
)

const sonioxURL = "wss://stt-rt.soniox.com/transcribe-websocket"

// sonioxConfig is the first message on the stream, configuring the session.
type sonioxConfig struct {
	APIKey        string   `json:"api_key"`
	Model         string   `json:"model"`
	AudioFormat   string   `json:"audio_format"`
	SampleRate    int      `json:"sample_rate"`
	NumChannels   int      `json:"num_channels"`
	LanguageHints []string `json:"language_hints"`
}

// sonioxToken is one recognized token. Tokens are cumulative for the current
// utterance: a batch of final tokens carries the full utterance text so far.
type sonioxToken struct {
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
}

// sonioxResponse is a message from the Soniox streaming API.
type sonioxResponse struct {
	Tokens       []sonioxToken `json:"tokens"`
	Finished     bool          `json:"finished"`
	ErrorCode    int           `json:"error_code"`
	ErrorMessage string        `json:"error_message"`
}

// SonioxClient implements Client over Soniox's realtime WebSocket API.
type SonioxClient struct {
	config  *config.Config
	results chan Result
	logger  zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	isActive bool
	closed   bool

	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
}

// NewSonioxClient creates a Soniox streaming client.
func NewSonioxClient(cfg *config.Config, logger zerolog.Logger) *SonioxClient {
	return &SonioxClient{
		config:  cfg,
		results: make(chan Result, 32),
		logger:  logger.With().Str("component", "soniox").Logger(),
		circuitBreaker: resilience.NewCircuitBreaker(
			"soniox",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

// Start dials the streaming endpoint and sends the session configuration.
func (c *SonioxClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isActive {
		return fmt.Errorf("soniox client is already active")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(c.ctx, sonioxURL, nil)
	if err != nil {
		c.circuitBreaker.RecordResult(false)
		observability.UpdateCircuitBreakerState("soniox", int(c.circuitBreaker.GetState()))
		return fmt.Errorf("failed to dial soniox: %w", err)
	}

	cfg := sonioxConfig{
		APIKey:        c.config.SonioxAPIKey,
		Model:         c.config.SonioxModel,
		AudioFormat:   "s16le",
		SampleRate:    c.config.SampleRate,
		NumChannels:   1,
		LanguageHints: []string{c.config.SonioxLanguage},
	}
	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send soniox config: %w", err)
	}

	c.conn = conn
	c.isActive = true
	c.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("soniox", int(c.circuitBreaker.GetState()))

	go c.readLoop(conn)

	c.logger.Info().
		Str("model", c.config.SonioxModel).
		Int("sample_rate", c.config.SampleRate).
		Msg("Soniox streaming client started")
	return nil
}

// readLoop receives recognition messages until the connection closes.
// Final tokens carry the full utterance text and supersede earlier partials.
func (c *SonioxClient) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.logger.Warn().Err(err).Msg("Soniox read error, reconnecting")
				c.markInactive()
				go c.attemptReconnect()
			}
			return
		}

		var resp sonioxResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse Soniox message")
			continue
		}

		if resp.ErrorCode != 0 {
			c.logger.Error().
				Int("code", resp.ErrorCode).
				Str("message", resp.ErrorMessage).
				Msg("Soniox error")
			observability.RecordError("stt_provider_error", "soniox")
			continue
		}

		if resp.Finished {
			c.logger.Debug().Msg("Soniox stream finished")
			continue
		}

		if len(resp.Tokens) == 0 {
			continue
		}

		var finalParts, allParts []string
		var confidence float64
		for _, tok := range resp.Tokens {
			if tok.Text == "" {
				continue
			}
			allParts = append(allParts, tok.Text)
			if tok.IsFinal {
				finalParts = append(finalParts, tok.Text)
				confidence = tok.Confidence
			}
		}

		if len(finalParts) > 0 {
			text := normalizeText(strings.Join(finalParts, ""))
			if text != "" {
				c.deliver(Result{Text: text, IsFinal: true, Confidence: confidence})
			}
		} else if len(allParts) > 0 {
			text := normalizeText(strings.Join(allParts, ""))
			if text != "" {
				c.deliver(Result{Text: text, IsFinal: false})
			}
		}
	}
}

// deliver hands a result to the consumer. Holding the mutex excludes Close,
// so a late read-loop result after shutdown is dropped instead of sending on
// a closed channel.
func (c *SonioxClient) deliver(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.results <- r:
	default:
		c.logger.Warn().Msg("Soniox result channel full, dropping result")
	}
}

// SendAudio streams one PCM16 chunk as a binary message.
func (c *SonioxClient) SendAudio(audioData []byte) error {
	err := c.circuitBreaker.Call(func() error {
		c.mu.Lock()
		defer c.mu.Unlock()
		if !c.isActive || c.conn == nil {
			return fmt.Errorf("soniox client is not active")
		}
		return c.conn.WriteMessage(websocket.BinaryMessage, audioData)
	})

	observability.UpdateCircuitBreakerState("soniox", int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("soniox")
		return fmt.Errorf("failed to send audio to soniox: %w", err)
	}
	return nil
}

// Finalize signals end of the current utterance with an empty binary frame,
// prompting Soniox to flush final tokens.
func (c *SonioxClient) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isActive || c.conn == nil {
		return nil
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, []byte{})
}

// Results returns the recognition result stream.
func (c *SonioxClient) Results() <-chan Result {
	return c.results
}

func (c *SonioxClient) markInactive() {
	c.mu.Lock()
	c.isActive = false
	c.mu.Unlock()
}

// attemptReconnect re-establishes the stream with bounded backoff.
func (c *SonioxClient) attemptReconnect() {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	c.mu.Lock()
	active := c.isActive
	base := c.ctx
	c.mu.Unlock()
	if active {
		return
	}

	err := resilience.Reconnect(base, func() error {
		return c.Start(base)
	}, &resilience.ReconnectConfig{
		MaxAttempts: c.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(c.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to reconnect Soniox client")
	}
}

// Stop ends the streaming session.
func (c *SonioxClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActive {
		return nil
	}
	c.isActive = false

	if c.conn != nil {
		// Empty frame closes the stream gracefully before the socket drops.
		_ = c.conn.WriteMessage(websocket.BinaryMessage, []byte{})
		if err := c.conn.Close(); err != nil {
			return fmt.Errorf("failed to close soniox connection: %w", err)
		}
		c.conn = nil
	}

	c.logger.Info().Msg("Soniox streaming client stopped")
	return nil
}

// Close releases the client and its result channel.
func (c *SonioxClient) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.Stop(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.results)
	}
	return nil
}

// normalizeText collapses runs of whitespace, matching the cumulative token
// format Soniox streams.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
