package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/config"
	"github.com/voxwire/voicebot/internal/conversation"
	"github.com/voxwire/voicebot/internal/frame"
	"github.com/voxwire/voicebot/internal/llm"
	"github.com/voxwire/voicebot/internal/observability"
	"github.com/voxwire/voicebot/internal/pipeline"
	"github.com/voxwire/voicebot/internal/stt"
	"github.com/voxwire/voicebot/internal/tts"
	"github.com/voxwire/voicebot/internal/turn"
)

// Session wires one conversation: provider clients, the turn controller, the
// conversation history and the five-stage pipeline
// (recognition, user aggregation, generation, synthesis, assistant
// aggregation). The transport owns the socket; the session owns everything
// behind it.
type Session struct {
	ID string

	config  *config.Config
	logger  zerolog.Logger
	metrics *observability.SessionMetrics

	controller *turn.Controller
	history    *conversation.Aggregator
	pipe       *pipeline.Pipeline

	sttClient stt.Client
	sttStage  *stt.Stage

	startTime time.Time
	cancel    context.CancelFunc
}

// Health is the operator-facing snapshot of one session.
type Health struct {
	ID         string                `json:"id"`
	State      string                `json:"state"`
	ActiveTurn string                `json:"active_turn,omitempty"`
	Turns      int                   `json:"turns"`
	UptimeSec  float64               `json:"uptime_sec"`
	Queues     []pipeline.QueueDepth `json:"queues"`
}

// New assembles a session from configuration. The STT provider is selected
// by config; generation and synthesis providers are fixed.
func New(cfg *config.Config, logger zerolog.Logger) (*Session, error) {
	id := observability.NewSessionID()
	logger = logger.With().Str("session_id", id).Logger()

	var sttClient stt.Client
	switch cfg.STTProvider {
	case "soniox":
		sttClient = stt.NewSonioxClient(cfg, logger)
	case "deepgram":
		sttClient = stt.NewDeepgramClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.STTProvider)
	}

	return &Session{
		ID:        id,
		config:    cfg,
		logger:    logger,
		metrics:   observability.NewSessionMetrics(id),
		sttClient: sttClient,
		startTime: time.Now(),
	}, nil
}

// Start builds the pipeline and starts the provider connections. ctx bounds
// the whole session; cancelling it tears everything down.
func (s *Session) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.controller = turn.NewController(ctx, s.logger)
	s.history = conversation.NewAggregator(s.controller.IsAbandoned, s.logger)

	s.sttStage = stt.NewStage(s.sttClient, s.logger)
	userAgg := conversation.NewUserAggregator(s.history, s.controller, s.logger)

	llmClient := llm.NewGroqClient(s.config, s.logger)
	prompts := llm.NewPromptBuilder(s.config.SystemPrompt, s.config.PromptTokenBudget, s.logger)
	genStage := llm.NewStage(
		llmClient,
		prompts,
		s.history,
		s.controller,
		time.Duration(s.config.GroqTimeout)*time.Second,
		s.metrics,
		s.logger,
	)

	ttsClient := tts.NewCartesiaClient(s.config, s.logger)
	synthStage := tts.NewStage(ttsClient, s.controller, s.config.SampleRate, s.metrics, s.logger)

	assistantAgg := conversation.NewAssistantAggregator(s.history, s.controller, s.logger)

	s.pipe = pipeline.New(s.config.QueueCapacity, s.logger,
		s.sttStage,
		userAgg,
		genStage,
		synthStage,
		assistantAgg,
	)

	if err := s.sttClient.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start recognition client: %w", err)
	}
	if err := s.pipe.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	go func() {
		if err := s.sttStage.PumpResults(ctx, s.pipe.Push); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Recognition result pump stopped")
		}
	}()

	s.metrics.RecordSessionStart()
	s.logger.Info().
		Str("stt_provider", s.config.STTProvider).
		Msg("Session started")

	if s.config.GreetingPrompt != "" {
		s.seedGreeting(ctx)
	}
	return nil
}

// seedGreeting opens the conversation with a configured user prompt so the
// bot speaks first.
func (s *Session) seedGreeting(ctx context.Context) {
	s.history.SeedUserTurn(s.config.GreetingPrompt)
	turnID, _ := s.controller.BeginTurn("greeting")
	if err := s.pipe.Push(ctx, frame.Control{CtrlKind: frame.ControlStartTurn, TurnID: turnID}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to start greeting turn")
	}
}

// Push places a frame on the pipeline input boundary.
func (s *Session) Push(ctx context.Context, f frame.Frame) error {
	return s.pipe.Push(ctx, f)
}

// Out returns the pipeline output boundary for the transport to drain.
func (s *Session) Out() <-chan frame.Frame {
	return s.pipe.Out()
}

// Controller returns the session's turn controller.
func (s *Session) Controller() *turn.Controller {
	return s.controller
}

// History returns the conversation aggregator.
func (s *Session) History() *conversation.Aggregator {
	return s.history
}

// Health reports the session state for the operator surface.
func (s *Session) Health() Health {
	return Health{
		ID:         s.ID,
		State:      s.controller.State().String(),
		ActiveTurn: s.controller.ActiveTurn(),
		Turns:      s.history.Len(),
		UptimeSec:  time.Since(s.startTime).Seconds(),
		Queues:     s.pipe.QueueDepths(),
	}
}

// Close drains the pipeline, stops the providers and releases the session.
func (s *Session) Close() {
	if s.pipe != nil {
		s.pipe.Drain()
	}
	if err := s.sttClient.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing recognition client")
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.metrics.RecordSessionEnd()
	s.logger.Info().
		Int("turns", s.history.Len()).
		Msg("Session closed")
}
