package compaction

import (
	"context"
	"testing"
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

func userLine(content string) models.TranscriptLine {
	return models.TranscriptLine{Role: models.RoleUser, Content: content, Timestamp: time.Now()}
}

func assistantLine(content string) models.TranscriptLine {
	return models.TranscriptLine{Role: models.RoleAssistant, Content: content, Timestamp: time.Now()}
}

func buildTranscript(turns int) []models.TranscriptLine {
	var lines []models.TranscriptLine
	for i := 0; i < turns; i++ {
		lines = append(lines, userLine("question"), assistantLine("answer"))
	}
	return lines
}

func TestCountActiveTurnsIgnoresLinesBeforeMarker(t *testing.T) {
	lines := buildTranscript(3)
	lines = append(lines, models.TranscriptLine{
		Role: models.RoleSystem, Content: "summary",
		Metadata: map[string]any{models.MetaCompaction: true, models.MetaTurnsCompact: 3},
	})
	lines = append(lines, userLine("new question"))

	if got := CountActiveTurns(lines); got != 1 {
		t.Fatalf("expected 1 active turn after the marker, got %d", got)
	}
}

func TestNeedsCompactionTripsOverMaxTurns(t *testing.T) {
	m := NewManager(Config{MaxTurns: 5, KeepLastTurns: 2})
	lines := buildTranscript(6)
	if !m.NeedsCompaction("s1", lines) {
		t.Fatal("expected compaction to be needed above max_turns")
	}
}

func TestNeedsCompactionFalseUnderThreshold(t *testing.T) {
	m := NewManager(Config{MaxTurns: 10, KeepLastTurns: 2})
	lines := buildTranscript(3)
	if m.NeedsCompaction("s1", lines) {
		t.Fatal("expected compaction not needed under max_turns")
	}
}

func TestCompactSplitsAtKeepLastTurnsFromEnd(t *testing.T) {
	m := NewManager(Config{MaxTurns: 2, KeepLastTurns: 2})
	lines := buildTranscript(5) // 5 user turns

	result, err := m.Compact(context.Background(), "s1", lines, FallbackSummarize)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}

	if result.TurnsCompacted != 3 {
		t.Fatalf("expected 3 turns compacted (5 - keep_last_turns 2), got %d", result.TurnsCompacted)
	}
	if !result.Marker.IsCompactionMarker() {
		t.Fatal("expected the returned marker to be a compaction marker")
	}
	if result.Marker.Metadata[models.MetaTurnsCompact] != 3 {
		t.Fatalf("expected turns_compacted metadata of 3, got %v", result.Marker.Metadata[models.MetaTurnsCompact])
	}

	keptUserTurns := 0
	for _, l := range result.Kept {
		if l.Role == models.RoleUser {
			keptUserTurns++
		}
	}
	if keptUserTurns != 2 {
		t.Fatalf("expected 2 user turns kept live, got %d", keptUserTurns)
	}
}

func TestCompactFailsWhenFewerTurnsThanKeepLastTurns(t *testing.T) {
	m := NewManager(Config{MaxTurns: 1, KeepLastTurns: 10})
	lines := buildTranscript(2)

	if _, err := m.Compact(context.Background(), "s1", lines, FallbackSummarize); err == nil {
		t.Fatal("expected an error when there are fewer turns than keep_last_turns")
	}
}

func TestCompactUsesProvidedSummarizer(t *testing.T) {
	m := NewManager(Config{MaxTurns: 1, KeepLastTurns: 1})
	lines := buildTranscript(3)

	called := false
	summarize := func(ctx context.Context, prefix []models.Message) (string, error) {
		called = true
		return "custom summary", nil
	}

	result, err := m.Compact(context.Background(), "s1", lines, summarize)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if !called {
		t.Fatal("expected the provided summarizer to be invoked")
	}
	if result.Marker.Content != "custom summary" {
		t.Fatalf("expected the marker content to be the summarizer's output, got %q", result.Marker.Content)
	}
}

func TestFallbackSummarizeHandlesEmptyPrefix(t *testing.T) {
	summary, err := FallbackSummarize(context.Background(), nil)
	if err != nil {
		t.Fatalf("FallbackSummarize: %v", err)
	}
	if summary == "" {
		t.Fatal("expected a non-empty fallback summary even for an empty prefix")
	}
}

func TestCompactStateReturnsToIdleAfterRun(t *testing.T) {
	m := NewManager(Config{MaxTurns: 1, KeepLastTurns: 1})
	lines := buildTranscript(3)

	if _, err := m.Compact(context.Background(), "s1", lines, FallbackSummarize); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	m.mu.Lock()
	state := m.sessions["s1"].state
	m.mu.Unlock()
	if state != StateIdle {
		t.Fatalf("expected state idle after compaction completes, got %s", state)
	}
}
