package sessions

import (
	"os"
	"testing"
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

func newTestTranscriptStore(t *testing.T) *TranscriptStore {
	t.Helper()
	s := NewTranscriptStore(t.TempDir())
	t.Cleanup(s.Close)
	return s
}

func TestTranscriptStoreAppendAndLoad(t *testing.T) {
	store := newTestTranscriptStore(t)

	line := models.TranscriptLine{Timestamp: time.Now(), Role: models.RoleUser, Content: "hello"}
	if err := store.Append("sess-1", line); err != nil {
		t.Fatalf("append: %v", err)
	}

	lines, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(lines) != 1 || lines[0].Content != "hello" {
		t.Fatalf("unexpected lines: %+v", lines)
	}
}

func TestTranscriptStoreLoadPopulatesCacheFromDisk(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir)
	line := models.TranscriptLine{Timestamp: time.Now(), Role: models.RoleAssistant, Content: "hi"}
	if err := store.Append("sess-2", line); err != nil {
		t.Fatalf("append: %v", err)
	}
	store.Close()

	// A fresh store over the same directory has an empty cache and must
	// read the line back off disk.
	store2 := NewTranscriptStore(dir)
	defer store2.Close()
	lines, err := store2.Load("sess-2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(lines) != 1 || lines[0].Content != "hi" {
		t.Fatalf("expected line to survive a reload from disk, got %+v", lines)
	}
}

func TestTranscriptStoreLoadUnknownSessionReturnsEmpty(t *testing.T) {
	store := newTestTranscriptStore(t)
	lines, err := store.Load("does-not-exist")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no lines, got %+v", lines)
	}
}

func TestTranscriptStoreRewriteInvalidatesCache(t *testing.T) {
	store := newTestTranscriptStore(t)
	if err := store.Append("sess-3", models.TranscriptLine{Role: models.RoleUser, Content: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append("sess-3", models.TranscriptLine{Role: models.RoleAssistant, Content: "b"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	summary := models.TranscriptLine{
		Role:    models.RoleSystem,
		Content: "summary of a,b",
		Metadata: map[string]any{
			models.MetaCompaction:   true,
			models.MetaTurnsCompact: 2,
		},
	}
	if err := store.Rewrite("sess-3", []models.TranscriptLine{summary}); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	lines, err := store.Load("sess-3")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(lines) != 1 || !lines[0].IsCompactionMarker() {
		t.Fatalf("expected rewrite to replace transcript with a single compaction marker, got %+v", lines)
	}
}

func TestTranscriptStoreSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir)
	if err := store.Append("sess-4", models.TranscriptLine{Role: models.RoleUser, Content: "good"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	store.Close()

	path := store.path("sess-4")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	store2 := NewTranscriptStore(dir)
	defer store2.Close()
	lines, err := store2.Load("sess-4")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(lines) != 1 || lines[0].Content != "good" {
		t.Fatalf("expected malformed line to be skipped, got %+v", lines)
	}
}
