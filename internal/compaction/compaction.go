// Package compaction implements transcript compaction.
// Compaction fires automatically once the number of user turns since the
// last compaction marker exceeds max_turns: it splits history at the
// keep_last_turns-th user message from the end, summarizes everything
// before that split via the configured summarizer role (or a deterministic
// fallback when no summarizer is available), and appends a single "system"
// transcript line carrying {compaction: true, turns_compacted} metadata.
// Grounded on internal/agent.CompactionManager for the
// idle/pending/in-progress state-machine shape, adapted here from
// context-percentage-triggered to a turn-count-triggered design,
// and on internal/orchestrator's pruning.go/history.go for how transcript
// lines and the compaction marker are read and trimmed.
package compaction

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

// Config controls when and how compaction runs.
type Config struct {
	// MaxTurns is the number of active user turns since the last compaction
	// marker that triggers automatic compaction.
	MaxTurns int
	// KeepLastTurns protects this many of the most recent user messages
	// (and everything after them) from being summarized away.
	KeepLastTurns int
	// SummarizerRole names the provider role used to summarize the
	// compacted prefix (e.g. "summarizer"). Empty uses the fallback.
	SummarizerRole string
}

// DefaultConfig mirrors DefaultCompactionConfig's shape, adapted to turn
// counts rather than a context-usage percentage.
func DefaultConfig() Config {
	return Config{MaxTurns: 40, KeepLastTurns: 6, SummarizerRole: "summarizer"}
}

// Summarizer produces a prose summary of the transcript prefix being
// compacted away. The orchestrator wires this to a provider call against
// Config.SummarizerRole; tests and the fallback path use FallbackSummarize.
type Summarizer func(ctx context.Context, prefix []models.Message) (string, error)

// State tracks whether compaction is idle or actively running for a
// session, mirroring CompactionState's state machine.
type State string

const (
	StateIdle       State = "idle"
	StateInProgress State = "in_progress"
)

type sessionState struct {
	state     State
	lastCheck time.Time
	turns     int
}

// Manager monitors per-session turn counts and performs compaction when
// NeedsCompaction trips.
type Manager struct {
	mu       sync.Mutex
	config   Config
	sessions map[string]*sessionState
	now      func() time.Time
}

// NewManager builds a Manager over config. A zero Config is replaced with
// DefaultConfig.
func NewManager(config Config) *Manager {
	if config.MaxTurns <= 0 {
		config = DefaultConfig()
	}
	return &Manager{config: config, sessions: make(map[string]*sessionState), now: time.Now}
}

// SummarizerRole returns the provider role configured for summarization,
// empty if the deployment has none wired.
func (m *Manager) SummarizerRole() string { return m.config.SummarizerRole }

// CountActiveTurns counts user messages among lines after the most recent
// compaction marker (or from the start, if there is none).
func CountActiveTurns(lines []models.TranscriptLine) int {
	start := 0
	for i, l := range lines {
		if l.IsCompactionMarker() {
			start = i + 1
		}
	}
	n := 0
	for _, l := range lines[start:] {
		if l.Role == models.RoleUser {
			n++
		}
	}
	return n
}

// NeedsCompaction reports whether lines has accumulated more active user
// turns than config.MaxTurns since the last compaction marker.
func (m *Manager) NeedsCompaction(sessionID string, lines []models.TranscriptLine) bool {
	turns := CountActiveTurns(lines)

	m.mu.Lock()
	s := m.sessions[sessionID]
	if s == nil {
		s = &sessionState{state: StateIdle}
		m.sessions[sessionID] = s
	}
	s.lastCheck = m.now()
	s.turns = turns
	busy := s.state == StateInProgress
	m.mu.Unlock()

	return !busy && turns > m.config.MaxTurns
}

// splitIndex finds the transcript-line index of the keep_last_turns-th user
// message counted from the end of lines; everything before it is the
// summarized prefix, everything from it onward is kept live. If there are
// fewer than keepLastTurns user messages, no split point exists (ok=false)
// since compaction would have nothing meaningful to protect.
func splitIndex(lines []models.TranscriptLine, keepLastTurns int) (int, bool) {
	if keepLastTurns <= 0 {
		return len(lines), true
	}
	seen := 0
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].Role == models.RoleUser {
			seen++
			if seen == keepLastTurns {
				return i, true
			}
		}
	}
	return 0, false
}

// Result is the outcome of a successful Compact call.
type Result struct {
	// Marker is the single "system" transcript line to append, carrying the
	// compaction metadata and the summary text as its content.
	Marker models.TranscriptLine
	// TurnsCompacted is how many user turns were folded into the summary.
	TurnsCompacted int
	// Kept is the suffix of lines (from the split point onward) that
	// remains live after the marker.
	Kept []models.TranscriptLine
}

// Compact splits lines at the keep_last_turns-th user message from the end,
// summarizes the prefix via summarize (or FallbackSummarize if nil), and
// returns the marker plus the surviving suffix. Callers are responsible for
// persisting the result (Rewrite the session to [prefix marker, ...kept]
// and InvalidateCache).
func (m *Manager) Compact(ctx context.Context, sessionID string, lines []models.TranscriptLine, summarize Summarizer) (Result, error) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	if s == nil {
		s = &sessionState{state: StateIdle}
		m.sessions[sessionID] = s
	}
	s.state = StateInProgress
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if s := m.sessions[sessionID]; s != nil {
			s.state = StateIdle
		}
		m.mu.Unlock()
	}()

	idx, ok := splitIndex(lines, m.config.KeepLastTurns)
	if !ok {
		return Result{}, fmt.Errorf("compaction: fewer than %d user turns to protect, nothing to compact", m.config.KeepLastTurns)
	}

	prefix := linesToMessages(lines[:idx])
	turnsCompacted := countUserTurns(lines[:idx])
	if turnsCompacted == 0 {
		return Result{}, fmt.Errorf("compaction: empty prefix, nothing to compact")
	}

	if summarize == nil {
		summarize = FallbackSummarize
	}
	summary, err := summarize(ctx, prefix)
	if err != nil {
		return Result{}, fmt.Errorf("compaction: summarize: %w", err)
	}

	marker := models.TranscriptLine{
		Timestamp: m.now(),
		Role:      models.RoleSystem,
		Content:   summary,
		Metadata: map[string]any{
			models.MetaCompaction:   true,
			models.MetaTurnsCompact: turnsCompacted,
		},
	}

	return Result{Marker: marker, TurnsCompacted: turnsCompacted, Kept: lines[idx:]}, nil
}

func countUserTurns(lines []models.TranscriptLine) int {
	n := 0
	for _, l := range lines {
		if l.Role == models.RoleUser {
			n++
		}
	}
	return n
}

func linesToMessages(lines []models.TranscriptLine) []models.Message {
	out := make([]models.Message, 0, len(lines))
	for _, l := range lines {
		out = append(out, models.Message{Role: l.Role, Text: l.Content, Created: l.Timestamp})
	}
	return out
}

// FallbackSummarize is used when no summarizer role is configured or
// available. It produces a deterministic, lossy digest: one line per
// message, role-tagged and truncated, rather than an LLM-generated prose
// summary.
func FallbackSummarize(_ context.Context, prefix []models.Message) (string, error) {
	if len(prefix) == 0 {
		return "(no prior history)", nil
	}
	var b strings.Builder
	b.WriteString("Summary of prior conversation (auto-compacted, no summarizer configured):\n")
	for _, msg := range prefix {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		if len(text) > 200 {
			text = text[:200] + "…"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", msg.Role, text)
	}
	return strings.TrimSpace(b.String()), nil
}
