package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voicebot service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Speech-to-text provider selection: "soniox" (default) or "deepgram"
	STTProvider string `envconfig:"STT_PROVIDER" default:"soniox"`

	// Soniox STT API configuration
	SonioxAPIKey   string `envconfig:"SONIOX_API_KEY"`
	SonioxModel    string `envconfig:"SONIOX_MODEL" default:"stt-rt-preview"`
	SonioxLanguage string `envconfig:"SONIOX_LANGUAGE" default:"en"`

	// Deepgram STT API configuration (alternate provider)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`

	// Groq LLM API configuration
	GroqAPIKey        string `envconfig:"GROQ_API_KEY"`
	GroqModel         string `envconfig:"GROQ_MODEL" default:"llama-3.1-8b-instant"`
	GroqMaxTokens     int    `envconfig:"GROQ_MAX_TOKENS" default:"512"`
	GroqTimeout       int    `envconfig:"GROQ_TIMEOUT" default:"30"` // seconds, per-turn generation deadline
	SystemPrompt      string `envconfig:"SYSTEM_PROMPT" default:"You are a helpful and friendly assistant. Keep your responses concise and natural for voice conversation."`
	GreetingPrompt    string `envconfig:"GREETING_PROMPT" default:""`         // optional opening user turn seeded at session start
	PromptTokenBudget int    `envconfig:"PROMPT_TOKEN_BUDGET" default:"3000"` // history trimmed to this many tokens before prompting

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"694f9389-aac1-45b6-b726-9d9369183238"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`
	CartesiaTimeout int    `envconfig:"CARTESIA_TIMEOUT" default:"15"` // seconds, per-request synthesis deadline

	// Audio configuration. The transport re-chunks inbound bytes into frames
	// of AudioFrameMs at SampleRate before they enter the pipeline.
	SampleRate      int `envconfig:"SAMPLE_RATE" default:"16000"`
	AudioFrameMs    int `envconfig:"AUDIO_FRAME_MS" default:"20"`
	AudioBufferSize int `envconfig:"AUDIO_BUFFER_SIZE" default:"65536"` // outbound ring buffer size in bytes

	// Voice activity detection (drives barge-in)
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"`
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"` // 500ms at 20ms frames

	// Pipeline configuration
	QueueCapacity int `envconfig:"PIPELINE_QUEUE_CAPACITY" default:"8"` // bounded inter-stage queue depth

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load from .env file if it exists, then from environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that the configured providers have credentials. A missing
// key is a fatal configuration error: the service must refuse to start
// rather than fail mid-turn.
func (c *Config) Validate() error {
	switch c.STTProvider {
	case "soniox":
		if c.SonioxAPIKey == "" {
			return fmt.Errorf("SONIOX_API_KEY is required when STT_PROVIDER=soniox")
		}
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q (expected soniox or deepgram)", c.STTProvider)
	}

	if c.GroqAPIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}

	if c.QueueCapacity < 1 {
		return fmt.Errorf("PIPELINE_QUEUE_CAPACITY must be at least 1, got %d", c.QueueCapacity)
	}
	if c.SampleRate <= 0 || c.AudioFrameMs <= 0 {
		return fmt.Errorf("SAMPLE_RATE and AUDIO_FRAME_MS must be positive")
	}

	return nil
}

// FrameBytes returns the size in bytes of one inbound PCM16 mono audio frame.
func (c *Config) FrameBytes() int {
	return c.SampleRate * c.AudioFrameMs / 1000 * 2
}
