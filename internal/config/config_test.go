package config

import (
	"os"
	"testing"
)

func setRequiredKeys(t *testing.T) {
	t.Helper()
	os.Setenv("SONIOX_API_KEY", "test-soniox-key")
	os.Setenv("GROQ_API_KEY", "test-groq-key")
	os.Setenv("CARTESIA_API_KEY", "test-cartesia-key")
	t.Cleanup(func() {
		os.Unsetenv("SONIOX_API_KEY")
		os.Unsetenv("GROQ_API_KEY")
		os.Unsetenv("CARTESIA_API_KEY")
	})
}

func TestLoad(t *testing.T) {
	setRequiredKeys(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.SonioxAPIKey != "test-soniox-key" {
		t.Errorf("Expected SonioxAPIKey 'test-soniox-key', got '%s'", cfg.SonioxAPIKey)
	}

	if cfg.GroqAPIKey != "test-groq-key" {
		t.Errorf("Expected GroqAPIKey 'test-groq-key', got '%s'", cfg.GroqAPIKey)
	}

	if cfg.CartesiaAPIKey != "test-cartesia-key" {
		t.Errorf("Expected CartesiaAPIKey 'test-cartesia-key', got '%s'", cfg.CartesiaAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("SONIOX_API_KEY")
	os.Unsetenv("GROQ_API_KEY")
	os.Unsetenv("CARTESIA_API_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_MissingSTTKeyForProvider(t *testing.T) {
	os.Setenv("GROQ_API_KEY", "test-groq-key")
	os.Setenv("CARTESIA_API_KEY", "test-cartesia-key")
	os.Setenv("STT_PROVIDER", "deepgram")
	os.Unsetenv("DEEPGRAM_API_KEY")
	os.Unsetenv("SONIOX_API_KEY")
	defer os.Unsetenv("GROQ_API_KEY")
	defer os.Unsetenv("CARTESIA_API_KEY")
	defer os.Unsetenv("STT_PROVIDER")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when Deepgram key is missing for deepgram provider")
	}

	os.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed with deepgram key set: %v", err)
	}
	if cfg.STTProvider != "deepgram" {
		t.Errorf("Expected STTProvider 'deepgram', got '%s'", cfg.STTProvider)
	}
}

func TestLoad_UnknownProvider(t *testing.T) {
	setRequiredKeys(t)
	os.Setenv("STT_PROVIDER", "whisper")
	defer os.Unsetenv("STT_PROVIDER")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for unknown STT provider")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredKeys(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.STTProvider != "soniox" {
		t.Errorf("Expected default STTProvider 'soniox', got '%s'", cfg.STTProvider)
	}

	if cfg.SonioxModel != "stt-rt-preview" {
		t.Errorf("Expected default SonioxModel 'stt-rt-preview', got '%s'", cfg.SonioxModel)
	}

	if cfg.GroqModel != "llama-3.1-8b-instant" {
		t.Errorf("Expected default GroqModel 'llama-3.1-8b-instant', got '%s'", cfg.GroqModel)
	}

	if cfg.CartesiaModelID != "sonic" {
		t.Errorf("Expected default CartesiaModelID 'sonic', got '%s'", cfg.CartesiaModelID)
	}

	if cfg.SampleRate != 16000 {
		t.Errorf("Expected default SampleRate 16000, got %d", cfg.SampleRate)
	}

	if cfg.AudioFrameMs != 20 {
		t.Errorf("Expected default AudioFrameMs 20, got %d", cfg.AudioFrameMs)
	}

	if cfg.QueueCapacity != 8 {
		t.Errorf("Expected default QueueCapacity 8, got %d", cfg.QueueCapacity)
	}

	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}
}

func TestLoadFromEnv(t *testing.T) {
	setRequiredKeys(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.SonioxAPIKey != "test-soniox-key" {
		t.Errorf("Expected SonioxAPIKey 'test-soniox-key', got '%s'", cfg.SonioxAPIKey)
	}
}

func TestFrameBytes(t *testing.T) {
	cfg := &Config{SampleRate: 16000, AudioFrameMs: 20}
	// 16000 samples/s * 0.02s * 2 bytes/sample
	if got := cfg.FrameBytes(); got != 640 {
		t.Errorf("Expected 640 frame bytes, got %d", got)
	}

	cfg = &Config{SampleRate: 8000, AudioFrameMs: 20}
	if got := cfg.FrameBytes(); got != 320 {
		t.Errorf("Expected 320 frame bytes, got %d", got)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	setRequiredKeys(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}

	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("Expected default ReconnectMaxAttempts 5, got %d", cfg.ReconnectMaxAttempts)
	}

	if cfg.ReconnectBackoff != 1000 {
		t.Errorf("Expected default ReconnectBackoff 1000, got %d", cfg.ReconnectBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	setRequiredKeys(t)
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
