package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/relaygate/relaygate/internal/compaction"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/pkg/models"
)

type sessionBody struct {
	SessionKey      string      `json:"session_key"`
	SessionID       string      `json:"session_id"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Tokens          usageBody   `json:"tokens"`
	MemorySessionID string      `json:"memory_session_id,omitempty"`
	Origin          models.Origin `json:"origin"`
}

func toSessionBody(e *models.SessionEntry) sessionBody {
	return sessionBody{
		SessionKey: e.SessionKey,
		SessionID:  e.SessionID,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
		Tokens: usageBody{
			InputTokens:  e.Tokens.Input,
			OutputTokens: e.Tokens.Output,
			TotalTokens:  e.Tokens.Input + e.Tokens.Output,
		},
		MemorySessionID: e.MemorySessionID,
		Origin:          e.Origin,
	}
}

// handleSessionsList implements GET /v1/sessions: every known session.
func (s *Server) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Sessions.List()
	out := make([]sessionBody, 0, len(entries))
	for _, e := range entries {
		out = append(out, toSessionBody(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type searchHitBody struct {
	SessionID  string `json:"session_id"`
	MatchCount int    `json:"match_count"`
	Preview    string `json:"preview"`
}

// handleSessionsSearch implements GET /v1/sessions/search?q=: transcript
// full-text search over the in-memory reverse index.
func (s *Server) handleSessionsSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	if s.deps.TranscriptIndex == nil {
		writeJSON(w, http.StatusOK, map[string]any{"results": []searchHitBody{}})
		return
	}
	hits := s.deps.TranscriptIndex.Search(query)
	out := make([]searchHitBody, 0, len(hits))
	for _, h := range hits {
		out = append(out, searchHitBody{SessionID: h.SessionID, MatchCount: h.MatchCount, Preview: h.Preview})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": out})
}

func (s *Server) lookupSession(w http.ResponseWriter, r *http.Request) (*models.SessionEntry, bool) {
	key := r.PathValue("key")
	entry, ok := s.deps.Sessions.Get(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return nil, false
	}
	return entry, true
}

// handleSessionGet implements GET /v1/sessions/{key}.
func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toSessionBody(entry))
}

type transcriptLineBody struct {
	Timestamp time.Time      `json:"timestamp"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// handleSessionTranscript implements GET /v1/sessions/{key}/transcript.
func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	lines, err := s.deps.Transcripts.Load(entry.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]transcriptLineBody, 0, len(lines))
	for _, l := range lines {
		out = append(out, transcriptLineBody{
			Timestamp: l.Timestamp, Role: string(l.Role), Content: l.Content, Metadata: l.Metadata,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": entry.SessionID, "lines": out})
}

// handleSessionReset implements POST /v1/sessions/{key}/reset: mints a
// fresh session_id and zeroes usage counters.
func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	entry, ok := s.deps.Sessions.Reset(key, time.Now())
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	writeJSON(w, http.StatusOK, toSessionBody(entry))
}

// handleSessionStop implements POST /v1/sessions/{key}/stop: cancels the
// in-flight turn for this session, if any.
func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !s.stopTurn(key) {
		writeError(w, http.StatusNotFound, "no turn in progress")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

type compactResponse struct {
	TurnsCompacted int    `json:"turns_compacted"`
	Summary        string `json:"summary"`
}

// handleSessionCompact implements POST /v1/sessions/{key}/compact: a manual
// trigger for the same compaction path the turn orchestrator's automatic
// check uses, summarizing via the configured summarizer role with a
// deterministic fallback when no provider is wired for it.
func (s *Server) handleSessionCompact(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.lookupSession(w, r)
	if !ok {
		return
	}
	if s.deps.Compaction == nil {
		writeError(w, http.StatusServiceUnavailable, "compaction not configured")
		return
	}

	lines, err := s.deps.Transcripts.Load(entry.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	summarize := s.deps.Summarize
	if summarize == nil {
		summarize = s.summarizeViaProvider
	}

	result, err := s.deps.Compaction.Compact(r.Context(), entry.SessionID, lines, summarize)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	newLines := append([]models.TranscriptLine{result.Marker}, result.Kept...)
	if err := s.deps.Transcripts.Rewrite(entry.SessionID, newLines); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.deps.Transcripts.InvalidateCache(entry.SessionID)

	writeJSON(w, http.StatusOK, compactResponse{
		TurnsCompacted: result.TurnsCompacted,
		Summary:        result.Marker.Content,
	})
}

// summarizeViaProvider is the default compaction.Summarizer, routing to the
// configured summarizer role when a provider router is wired and falling
// back to the deterministic digest otherwise.
func (s *Server) summarizeViaProvider(ctx context.Context, prefix []models.Message) (string, error) {
	if s.deps.ProviderRouter == nil {
		return compaction.FallbackSummarize(ctx, prefix)
	}
	role := s.deps.Compaction.SummarizerRole()
	if role == "" {
		return compaction.FallbackSummarize(ctx, prefix)
	}
	resp, err := s.deps.ProviderRouter.ChatForRole(ctx, role, providers.ChatRequest{
		Messages: prefix,
		System:   "Summarize the conversation above concisely, preserving facts and decisions a later turn may need.",
	})
	if err != nil {
		return compaction.FallbackSummarize(ctx, prefix)
	}
	return resp.Message.Text, nil
}
