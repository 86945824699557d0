package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voicebot_active_sessions",
		Help: "Number of active voice sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebot_sessions_total",
		Help: "Total number of sessions processed",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voicebot_session_duration_seconds",
		Help:    "Duration of voice sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Pipeline metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebot_frames_total",
		Help: "Total frames received per stage, by frame kind",
	}, []string{"stage", "kind"})

	stageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicebot_stage_latency_seconds",
		Help:    "Per-frame processing latency by stage",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	// Turn metrics
	turnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebot_turns_completed_total",
		Help: "Turns that reached the spoken state",
	})

	turnsAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebot_turns_abandoned_total",
		Help: "Turns abandoned by interruption or stage failure",
	})

	interruptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voicebot_interrupts_total",
		Help: "Barge-in interrupts issued by the turn controller",
	})

	// Provider metrics
	providerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebot_provider_requests_total",
		Help: "Provider calls by stage and status",
	}, []string{"provider", "status"})

	providerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voicebot_provider_latency_seconds",
		Help:    "Provider call latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"provider"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebot_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voicebot_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebot_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voicebot_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "inbound" or "outbound"
)

// RecordFrame counts one frame received by a stage.
func RecordFrame(stage, kind string) {
	framesTotal.WithLabelValues(stage, kind).Inc()
}

// RecordStageLatency observes the processing time of one frame in a stage.
func RecordStageLatency(stage string, d time.Duration) {
	stageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordError records an error.
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordTurnCompleted counts a turn that was fully spoken.
func RecordTurnCompleted() {
	turnsCompleted.Inc()
}

// RecordTurnAbandoned counts a turn discarded before reaching spoken.
func RecordTurnAbandoned() {
	turnsAbandoned.Inc()
}

// RecordInterrupt counts one barge-in interrupt.
func RecordInterrupt() {
	interruptsTotal.Inc()
}

// RecordAudioBytes records audio bytes processed in the given direction.
func RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates the circuit breaker state metric.
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments the circuit breaker failure counter.
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// SessionMetrics tracks metrics for a single session.
type SessionMetrics struct {
	sessionID string
	startTime time.Time

	mu             sync.Mutex
	providerStarts map[string]time.Time
}

// NewSessionMetrics creates a metrics tracker for one session.
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID:      sessionID,
		startTime:      time.Now(),
		providerStarts: make(map[string]time.Time),
	}
}

// RecordSessionStart records the start of a session.
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session.
func (m *SessionMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordProviderStart marks the start of a provider call for latency tracking.
func (m *SessionMetrics) RecordProviderStart(provider string) {
	m.mu.Lock()
	m.providerStarts[provider] = time.Now()
	m.mu.Unlock()
}

// RecordProviderEnd records the completion of a provider call.
func (m *SessionMetrics) RecordProviderEnd(provider string, success bool) {
	m.mu.Lock()
	start, ok := m.providerStarts[provider]
	delete(m.providerStarts, provider)
	m.mu.Unlock()

	if ok {
		providerLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	providerRequests.WithLabelValues(provider, status).Inc()
}
