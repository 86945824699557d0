package turn

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/observability"
)

// State is the conversational turn state for one session.
type State int

const (
	StateIdle State = iota
	StateListening
	StateRecognizing
	StateGenerating
	StateSynthesizing
	StateSpeaking
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecognizing:
		return "recognizing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Controller tracks the turn state machine for one session and owns the
// interruption protocol. At most one turn is in flight: beginning a new turn
// abandons any unspoken predecessor, and user speech detected while the bot
// is generating or speaking abandons the active turn (barge-in). Each turn
// owns a context cancelled on abandonment so provider calls stop
// cooperatively at their next streaming checkpoint.
type Controller struct {
	mu sync.Mutex

	state      State
	activeTurn string
	activeCtx  context.Context
	turnCancel context.CancelFunc
	abandoned  map[string]struct{}
	spoken     map[string]struct{}

	base   context.Context
	logger zerolog.Logger
}

// NewController creates a controller in the Idle state. base bounds the
// lifetime of every turn context it hands out.
func NewController(base context.Context, logger zerolog.Logger) *Controller {
	return &Controller{
		state:     StateIdle,
		abandoned: make(map[string]struct{}),
		spoken:    make(map[string]struct{}),
		base:      base,
		logger:    logger,
	}
}

// State returns the current turn state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveTurn returns the in-flight turn ID, or "" when none.
func (c *Controller) ActiveTurn() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTurn
}

// OnAudioChunk marks the session as listening when audio arrives while idle.
func (c *Controller) OnAudioChunk() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateIdle {
		c.transition(StateListening)
	}
}

// OnAudioActivity is the barge-in path: the transport calls it when speech
// onset is detected. If the bot is mid-reply the active turn is abandoned
// and its ID returned so the caller injects a Control{Interrupt} frame;
// otherwise it reports no interruption.
func (c *Controller) OnAudioActivity() (turnID string, interrupted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateGenerating, StateSynthesizing, StateSpeaking:
		turnID = c.activeTurn
		c.abandonLocked(turnID)
		c.transition(StateListening)
		observability.RecordInterrupt()
		c.logger.Info().Str("turn_id", turnID).Msg("Barge-in detected, interrupting turn")
		return turnID, true
	case StateIdle:
		c.transition(StateListening)
	}
	return "", false
}

// Cancel is the client-driven stop path: the user asked the bot to stop
// without speaking over it. The active turn is abandoned and its ID returned
// so the caller injects a Control{Cancel} frame; with no turn in flight it
// reports nothing to cancel.
func (c *Controller) Cancel() (turnID string, cancelled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeTurn == "" {
		return "", false
	}
	turnID = c.activeTurn
	c.abandonLocked(turnID)
	c.transition(StateIdle)
	c.logger.Info().Str("turn_id", turnID).Msg("Turn cancelled by client")
	return turnID, true
}

// OnTranscriptPartial moves Listening to Recognizing on the first
// provisional recognition result of an utterance.
func (c *Controller) OnTranscriptPartial() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateListening || c.state == StateIdle {
		c.transition(StateRecognizing)
	}
}

// BeginTurn creates a turn for a finalized utterance and moves the machine
// to Generating. Abandoning stale work takes priority over starting new
// work: any unspoken predecessor turn is abandoned first, bounding in-flight
// turns to one. The returned context is cancelled if the turn is abandoned.
func (c *Controller) BeginTurn(utteranceID string) (string, context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.activeTurn != "" {
		c.abandonLocked(c.activeTurn)
	}

	turnID := uuid.New().String()
	ctx, cancel := context.WithCancel(c.base)
	c.activeTurn = turnID
	c.activeCtx = ctx
	c.turnCancel = cancel
	c.transition(StateGenerating)

	c.logger.Debug().
		Str("turn_id", turnID).
		Str("utterance_id", utteranceID).
		Msg("Turn started")
	return turnID, ctx
}

// OnSynthesisStarted moves Generating to Synthesizing when generated text is
// first handed to the synthesis stage. Stale turn IDs are ignored.
func (c *Controller) OnSynthesisStarted(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turnID != c.activeTurn || c.state != StateGenerating {
		return
	}
	c.transition(StateSynthesizing)
}

// OnSpeakingStarted moves Synthesizing to Speaking when the first synthesis
// chunk reaches the transport-out boundary.
func (c *Controller) OnSpeakingStarted(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turnID != c.activeTurn || c.state != StateSynthesizing {
		return
	}
	c.transition(StateSpeaking)
}

// OnSpeakingComplete marks the turn spoken and returns the machine to Idle.
// A spoken turn is immutable: it can no longer be abandoned.
func (c *Controller) OnSpeakingComplete(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turnID != c.activeTurn {
		return
	}
	c.spoken[turnID] = struct{}{}
	c.clearActiveLocked()
	c.transition(StateIdle)
	observability.RecordTurnCompleted()
	c.logger.Debug().Str("turn_id", turnID).Msg("Turn spoken")
}

// OnStageError abandons the turn and forces the machine to Idle. This is the
// only forced transition; the session itself survives.
func (c *Controller) OnStageError(turnID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if turnID != "" {
		c.abandonLocked(turnID)
	} else if c.activeTurn != "" {
		c.abandonLocked(c.activeTurn)
	}
	c.transition(StateIdle)
}

// IsAbandoned reports whether a turn was abandoned. Stages use this to
// discard late output produced in a cancellation race - stale data, not an
// error.
func (c *Controller) IsAbandoned(turnID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.abandoned[turnID]
	return ok
}

// abandonLocked cancels a turn's context and records it as abandoned.
// Spoken turns are immutable and cannot be abandoned.
func (c *Controller) abandonLocked(turnID string) {
	if turnID == "" {
		return
	}
	if _, done := c.spoken[turnID]; done {
		return
	}
	if _, ok := c.abandoned[turnID]; ok {
		return
	}

	c.abandoned[turnID] = struct{}{}
	if turnID == c.activeTurn {
		c.clearActiveLocked()
	}
	observability.RecordTurnAbandoned()
}

// TurnContext returns the cancellable context owned by the given turn.
// For stale or unknown turns it returns an already-cancelled context so any
// late provider call aborts immediately.
func (c *Controller) TurnContext(turnID string) context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if turnID == c.activeTurn && c.activeCtx != nil {
		return c.activeCtx
	}
	ctx, cancel := context.WithCancel(c.base)
	cancel()
	return ctx
}

func (c *Controller) clearActiveLocked() {
	if c.turnCancel != nil {
		c.turnCancel()
		c.turnCancel = nil
	}
	c.activeTurn = ""
	c.activeCtx = nil
}

func (c *Controller) transition(to State) {
	if c.state == to {
		return
	}
	c.logger.Trace().
		Str("from", c.state.String()).
		Str("to", to.String()).
		Msg("Turn state transition")
	c.state = to
}
