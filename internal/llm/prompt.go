package llm

import (
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/conversation"
)

// PromptBuilder assembles provider messages from the conversation history,
// trimming the oldest turns when the history exceeds the token budget. The
// system prompt is always kept.
type PromptBuilder struct {
	systemPrompt string
	tokenBudget  int
	encoder      *tiktoken.Tiktoken
	logger       zerolog.Logger
}

// NewPromptBuilder creates a builder with the given system prompt and token
// budget. Token counting uses the cl100k_base encoding; if the encoding
// cannot be loaded a bytes/4 estimate is used instead.
func NewPromptBuilder(systemPrompt string, tokenBudget int, logger zerolog.Logger) *PromptBuilder {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to load token encoding, using byte estimate")
		enc = nil
	}
	return &PromptBuilder{
		systemPrompt: systemPrompt,
		tokenBudget:  tokenBudget,
		encoder:      enc,
		logger:       logger,
	}
}

// Build converts the history snapshot into provider messages. When the
// history exceeds the budget, whole turns are dropped oldest-first until the
// remainder fits. The most recent turn is always included even if it alone
// exceeds the budget.
func (b *PromptBuilder) Build(history []conversation.Turn) []Message {
	start := 0
	if b.tokenBudget > 0 {
		budget := b.tokenBudget - b.countTokens(b.systemPrompt)
		total := 0
		start = len(history)
		for i := len(history) - 1; i >= 0; i-- {
			cost := b.countTokens(history[i].Text) + 4 // per-message framing overhead
			if total+cost > budget && start < len(history) {
				break
			}
			total += cost
			start = i
		}
	}

	if dropped := start; dropped > 0 {
		b.logger.Debug().
			Int("dropped_turns", dropped).
			Int("kept_turns", len(history)-dropped).
			Msg("Trimmed conversation history to token budget")
	}

	messages := make([]Message, 0, len(history)-start+1)
	messages = append(messages, Message{Role: RoleSystem, Content: b.systemPrompt})
	for _, t := range history[start:] {
		role := RoleUser
		if t.Role == conversation.RoleAssistant {
			role = RoleAssistant
		}
		messages = append(messages, Message{Role: role, Content: t.Text})
	}
	return messages
}

func (b *PromptBuilder) countTokens(text string) int {
	if b.encoder == nil {
		return len(text)/4 + 1
	}
	return len(b.encoder.Encode(text, nil, nil))
}
