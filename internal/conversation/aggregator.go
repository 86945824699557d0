package conversation

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one completed conversational contribution. Turns are immutable
// once appended; a correction is modeled as a new turn.
type Turn struct {
	Role      Role
	Text      string
	Timestamp time.Time
}

// Aggregator owns the conversation history for one session. It is the single
// writer: all appends funnel through it so history order matches
// turn-completion order, not arrival order of unrelated queues. The history
// only grows; nothing removes or edits a turn.
type Aggregator struct {
	mu         sync.Mutex
	turns      []Turn
	seenFinals map[string]struct{}

	// abandoned reports whether a turn was abandoned; assistant appends for
	// abandoned turns are refused.
	abandoned func(turnID string) bool

	logger zerolog.Logger
}

// NewAggregator creates an empty conversation history. abandoned is
// consulted before appending assistant turns; nil means never abandoned.
func NewAggregator(abandoned func(turnID string) bool, logger zerolog.Logger) *Aggregator {
	if abandoned == nil {
		abandoned = func(string) bool { return false }
	}
	return &Aggregator{
		seenFinals: make(map[string]struct{}),
		abandoned:  abandoned,
		logger:     logger,
	}
}

// SeedUserTurn appends an opening user turn before the pipeline starts,
// used for a configured greeting prompt.
func (a *Aggregator) SeedUserTurn(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.turns = append(a.turns, Turn{Role: RoleUser, Text: text, Timestamp: time.Now()})
}

// OnUserFinal appends a user turn for a finalized utterance. Replaying a
// duplicate final with the same utterance ID is a no-op; the return reports
// whether the turn was appended.
func (a *Aggregator) OnUserFinal(utteranceID, text string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, seen := a.seenFinals[utteranceID]; seen {
		a.logger.Debug().
			Str("utterance_id", utteranceID).
			Msg("Duplicate transcript final ignored")
		return false
	}
	a.seenFinals[utteranceID] = struct{}{}
	a.turns = append(a.turns, Turn{Role: RoleUser, Text: text, Timestamp: time.Now()})
	return true
}

// OnAssistantComplete appends an assistant turn unless the owning turn was
// abandoned, in which case the reply is discarded.
func (a *Aggregator) OnAssistantComplete(turnID, text string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.abandoned(turnID) {
		a.logger.Debug().
			Str("turn_id", turnID).
			Msg("Assistant reply for abandoned turn discarded")
		return false
	}
	a.turns = append(a.turns, Turn{Role: RoleAssistant, Text: text, Timestamp: time.Now()})
	return true
}

// Snapshot returns an immutable copy of the history for prompt construction.
// A concurrent append never mutates a snapshot mid-build.
func (a *Aggregator) Snapshot() []Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Turn, len(a.turns))
	copy(out, a.turns)
	return out
}

// Len returns the number of turns in the history.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.turns)
}
