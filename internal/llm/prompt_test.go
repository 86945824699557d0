package llm

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/voxwire/voicebot/internal/conversation"
)

func TestPromptBuilderKeepsFullHistoryWithinBudget(t *testing.T) {
	b := NewPromptBuilder("be brief", 100000, zerolog.Nop())

	history := []conversation.Turn{
		{Role: conversation.RoleUser, Text: "hello"},
		{Role: conversation.RoleAssistant, Text: "hi"},
		{Role: conversation.RoleUser, Text: "tell me a joke"},
	}

	messages := b.Build(history)
	if len(messages) != 4 {
		t.Fatalf("expected system + 3 turns, got %d messages", len(messages))
	}
	if messages[0].Role != RoleSystem || messages[0].Content != "be brief" {
		t.Errorf("expected system prompt first, got %#v", messages[0])
	}
	if messages[1].Role != RoleUser || messages[2].Role != RoleAssistant || messages[3].Role != RoleUser {
		t.Errorf("expected roles to map in order, got %#v", messages[1:])
	}
}

func TestPromptBuilderTrimsOldestFirst(t *testing.T) {
	b := NewPromptBuilder("sys", 100, zerolog.Nop())

	big := strings.Repeat("the quick brown fox jumps over the lazy dog ", 200)
	history := []conversation.Turn{
		{Role: conversation.RoleUser, Text: big},
		{Role: conversation.RoleAssistant, Text: big},
		{Role: conversation.RoleUser, Text: "latest question"},
	}

	messages := b.Build(history)
	// The oversized old turns are dropped, the most recent is always kept.
	if len(messages) != 2 {
		t.Fatalf("expected system + most recent turn, got %d messages", len(messages))
	}
	if messages[1].Content != "latest question" {
		t.Errorf("expected most recent turn kept, got %q", messages[1].Content)
	}
}

func TestPromptBuilderAlwaysKeepsMostRecentTurn(t *testing.T) {
	b := NewPromptBuilder("sys", 10, zerolog.Nop())

	big := strings.Repeat("word ", 500)
	history := []conversation.Turn{
		{Role: conversation.RoleUser, Text: big},
	}

	messages := b.Build(history)
	if len(messages) != 2 {
		t.Fatalf("expected system + oversized recent turn, got %d messages", len(messages))
	}
	if messages[1].Content != big {
		t.Error("expected the most recent turn even when it exceeds the budget")
	}
}

func TestPromptBuilderEmptyHistory(t *testing.T) {
	b := NewPromptBuilder("sys", 1000, zerolog.Nop())

	messages := b.Build(nil)
	if len(messages) != 1 || messages[0].Role != RoleSystem {
		t.Fatalf("expected only the system prompt, got %#v", messages)
	}
}
