package sessions

import (
	"strings"
	"testing"

	"github.com/relaygate/relaygate/pkg/models"
)

func TestTokenizeSkipsSingleChars(t *testing.T) {
	got := tokenize("I am a bot")
	want := []string{"am", "bot"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if got := tokenize(""); len(got) != 0 {
		t.Fatalf("expected no tokens, got %v", got)
	}
}

func TestTranscriptIndexSingleWordMatchesMultipleSessions(t *testing.T) {
	idx := NewTranscriptIndex()
	idx.IndexContent("s1", "Hello world")
	idx.IndexContent("s2", "Goodbye world")

	hits := idx.Search("world")
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
}

func TestTranscriptIndexSearchIsAND(t *testing.T) {
	idx := NewTranscriptIndex()
	idx.IndexContent("s1", "Hello world from Go")
	idx.IndexContent("s2", "Hello from Python")

	hits := idx.Search("hello go")
	if len(hits) != 1 || hits[0].SessionID != "s1" {
		t.Fatalf("expected only s1 to match both words, got %+v", hits)
	}
}

func TestTranscriptIndexSearchNoMatch(t *testing.T) {
	idx := NewTranscriptIndex()
	idx.IndexContent("s1", "Hello world")
	if hits := idx.Search("nonexistent"); len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestTranscriptIndexSearchEmptyQuery(t *testing.T) {
	idx := NewTranscriptIndex()
	idx.IndexContent("s1", "Hello world")
	if hits := idx.Search(""); len(hits) != 0 {
		t.Fatalf("expected no hits for empty query, got %+v", hits)
	}
}

func TestTranscriptIndexSearchSortedByCount(t *testing.T) {
	idx := NewTranscriptIndex()
	idx.IndexContent("s1", "go go go")
	idx.IndexContent("s2", "go")

	hits := idx.Search("go")
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].SessionID != "s1" || hits[0].MatchCount != 3 {
		t.Fatalf("expected s1 first with count 3, got %+v", hits[0])
	}
	if hits[1].SessionID != "s2" || hits[1].MatchCount != 1 {
		t.Fatalf("expected s2 second with count 1, got %+v", hits[1])
	}
}

func TestTranscriptIndexPreviewIsStored(t *testing.T) {
	idx := NewTranscriptIndex()
	idx.IndexContent("s1", "This is a test message for preview")

	hits := idx.Search("test")
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if !strings.Contains(hits[0].Preview, "test message") {
		t.Fatalf("expected preview to contain source text, got %q", hits[0].Preview)
	}
}

func TestTruncatePreviewShort(t *testing.T) {
	if got := truncatePreview("short"); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncatePreviewLong(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := truncatePreview(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected truncated preview to end with ..., got %q", got)
	}
	if len([]rune(got)) > maxPreviewLen+3 {
		t.Fatalf("preview too long: %d runes", len([]rune(got)))
	}
}

func TestBuildTranscriptIndexFromDir(t *testing.T) {
	dir := t.TempDir()
	store := NewTranscriptStore(dir)
	if err := store.Append("sess-a", models.TranscriptLine{Role: models.RoleUser, Content: "hello world"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	store.Close()

	idx := BuildTranscriptIndex(dir)
	hits := idx.Search("hello")
	if len(hits) != 1 || hits[0].SessionID != "sess-a" {
		t.Fatalf("expected index built from disk to find sess-a, got %+v", hits)
	}
}
