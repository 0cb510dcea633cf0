package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/relaygate/relaygate/pkg/models"
)

const (
	maxPreviewLen = 160
	maxSearchHits = 50
)

// SearchHit is one transcript search result.
type SearchHit struct {
	SessionID  string
	MatchCount int
	Preview    string
}

type previewKey struct {
	sessionID string
	word      string
}

// TranscriptIndex is an in-memory reverse index over transcript content:
// word -> { session_id -> match count }. It is built once from the
// transcripts on disk and kept live as new lines are appended.
type TranscriptIndex struct {
	mu       sync.RWMutex
	index    map[string]map[string]int
	previews map[previewKey]string
}

// NewTranscriptIndex returns an empty index.
func NewTranscriptIndex() *TranscriptIndex {
	return &TranscriptIndex{
		index:    make(map[string]map[string]int),
		previews: make(map[previewKey]string),
	}
}

// BuildTranscriptIndex scans every ".jsonl" file in dir, treating each
// file's stem as a session_id, and indexes its transcript content.
func BuildTranscriptIndex(dir string) *TranscriptIndex {
	idx := NewTranscriptIndex()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return idx
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonl" {
			continue
		}
		sessionID := strings.TrimSuffix(entry.Name(), ".jsonl")

		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(string(raw), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			var tl models.TranscriptLine
			if err := json.Unmarshal([]byte(line), &tl); err != nil {
				continue
			}
			idx.IndexContent(sessionID, tl.Content)
		}
	}

	return idx
}

// IndexContent tokenizes content and records its words against sessionID.
func (idx *TranscriptIndex) IndexContent(sessionID, content string) {
	words := tokenize(content)
	if len(words) == 0 {
		return
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, word := range words {
		sessions, ok := idx.index[word]
		if !ok {
			sessions = make(map[string]int)
			idx.index[word] = sessions
		}
		sessions[sessionID]++

		key := previewKey{sessionID: sessionID, word: word}
		if _, exists := idx.previews[key]; !exists {
			idx.previews[key] = truncatePreview(content)
		}
	}
}

// Search returns sessions matching every word in query (AND semantics),
// sorted by total match count descending, capped at maxSearchHits.
func (idx *TranscriptIndex) Search(query string) []SearchHit {
	queryWords := tokenize(query)
	if len(queryWords) == 0 {
		return nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var candidates map[string]int
	for i, word := range queryWords {
		wordMatches, ok := idx.index[word]
		if !ok {
			return nil
		}
		if i == 0 {
			candidates = make(map[string]int, len(wordMatches))
			for sid, count := range wordMatches {
				candidates[sid] = count
			}
			continue
		}
		next := make(map[string]int, len(candidates))
		for sid, count := range candidates {
			if wc, ok := wordMatches[sid]; ok {
				next[sid] = count + wc
			}
		}
		candidates = next
	}
	if len(candidates) == 0 {
		return nil
	}

	hits := make([]SearchHit, 0, len(candidates))
	for sid, count := range candidates {
		preview := ""
		for _, word := range queryWords {
			if p, ok := idx.previews[previewKey{sessionID: sid, word: word}]; ok {
				preview = p
				break
			}
		}
		hits = append(hits, SearchHit{SessionID: sid, MatchCount: count, Preview: preview})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].MatchCount != hits[j].MatchCount {
			return hits[i].MatchCount > hits[j].MatchCount
		}
		return hits[i].SessionID < hits[j].SessionID
	})
	if len(hits) > maxSearchHits {
		hits = hits[:maxSearchHits]
	}
	return hits
}

// tokenize lowercases text and splits on non-alphanumeric runs, dropping
// single-character tokens.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			words = append(words, f)
		}
	}
	return words
}

// truncatePreview truncates s to maxPreviewLen runes, appending "...".
func truncatePreview(s string) string {
	runes := []rune(s)
	if len(runes) <= maxPreviewLen {
		return s
	}
	return string(runes[:maxPreviewLen]) + "..."
}
