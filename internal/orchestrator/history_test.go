package orchestrator

import (
	"testing"
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

func TestLoadHistoryTranslatesUserAndAssistant(t *testing.T) {
	lines := []models.TranscriptLine{
		{Timestamp: time.Now(), Role: models.RoleUser, Content: "hi"},
		{Timestamp: time.Now(), Role: models.RoleAssistant, Content: "hello there"},
	}

	messages := LoadHistory(lines)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != models.RoleUser || messages[0].Text != "hi" {
		t.Fatalf("unexpected first message: %+v", messages[0])
	}
	if messages[1].Role != models.RoleAssistant || messages[1].Text != "hello there" {
		t.Fatalf("unexpected second message: %+v", messages[1])
	}
}

func TestLoadHistoryAssistantWithToolCallsBuildsParts(t *testing.T) {
	lines := []models.TranscriptLine{
		{
			Timestamp: time.Now(), Role: models.RoleAssistant, Content: "let me check",
			Metadata: map[string]any{
				models.MetaToolCalls: []models.ToolCall{{CallID: "c1", ToolName: "web.search", Arguments: []byte(`{"q":"go"}`)}},
			},
		},
	}

	messages := LoadHistory(lines)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	msg := messages[0]
	if len(msg.Parts) != 2 {
		t.Fatalf("expected a text part plus a tool_use part, got %d parts", len(msg.Parts))
	}
	if msg.Parts[0].Type != models.ContentText || msg.Parts[0].Text != "let me check" {
		t.Fatalf("unexpected first part: %+v", msg.Parts[0])
	}
	if msg.Parts[1].Type != models.ContentToolUse || msg.Parts[1].ToolUseID != "c1" || msg.Parts[1].ToolUseName != "web.search" {
		t.Fatalf("unexpected second part: %+v", msg.Parts[1])
	}
}

func TestLoadHistoryToolLineWithoutCallIDIsDropped(t *testing.T) {
	lines := []models.TranscriptLine{
		{Timestamp: time.Now(), Role: models.RoleUser, Content: "hi"},
		{Timestamp: time.Now(), Role: models.RoleTool, Content: "orphaned result"},
	}

	messages := LoadHistory(lines)
	if len(messages) != 1 {
		t.Fatalf("expected the call-id-less tool line dropped, got %d messages", len(messages))
	}
}

func TestLoadHistoryToolLineWithCallIDTranslates(t *testing.T) {
	lines := []models.TranscriptLine{
		{
			Timestamp: time.Now(), Role: models.RoleTool, Content: "42",
			Metadata: map[string]any{models.MetaCallID: "c1", models.MetaToolName: "calc", models.MetaIsError: false},
		},
	}

	messages := LoadHistory(lines)
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	part := messages[0].Parts[0]
	if part.Type != models.ContentToolResult || part.ToolResultID != "c1" || part.ToolResultContent != "42" {
		t.Fatalf("unexpected tool result part: %+v", part)
	}
}

func TestLoadHistoryDropsLinesAtOrBeforeLatestCompactionMarker(t *testing.T) {
	lines := []models.TranscriptLine{
		{Timestamp: time.Now(), Role: models.RoleUser, Content: "old message"},
		{Timestamp: time.Now(), Role: models.RoleSystem, Content: "summary", Metadata: map[string]any{models.MetaCompaction: true}},
		{Timestamp: time.Now(), Role: models.RoleUser, Content: "new message"},
	}

	messages := LoadHistory(lines)
	if len(messages) != 2 {
		t.Fatalf("expected marker line plus trailing line, got %d", len(messages))
	}
	if messages[len(messages)-1].Text != "new message" {
		t.Fatalf("expected the post-marker message retained, got %+v", messages[len(messages)-1])
	}
	for _, m := range messages {
		if m.Text == "old message" {
			t.Fatal("expected the pre-marker message dropped")
		}
	}
}
