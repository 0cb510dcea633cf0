package models

import "time"

// Origin identifies the inbound source a session was created from.
type Origin struct {
	Channel   ChannelType `json:"channel"`
	AccountID string      `json:"account_id,omitempty"`
	PeerID    string      `json:"peer_id,omitempty"`
	GroupID   string      `json:"group_id,omitempty"`
}

// TokenTotals tracks monotonically non-decreasing token counters for a
// session, reset to zero on a lifecycle reset.
type TokenTotals struct {
	Input   int64 `json:"input"`
	Output  int64 `json:"output"`
	Total   int64 `json:"total"`
	Context int64 `json:"context"`
}

// Add accumulates usage into the totals in place.
func (t *TokenTotals) Add(input, output int64) {
	t.Input += input
	t.Output += output
	t.Total += input + output
}

// SessionEntry is the persisted record for one session_key. SessionID is
// opaque and changes only on reset or first creation; SessionKey never
// changes for the lifetime of the entry.
type SessionEntry struct {
	SessionKey      string      `json:"session_key"`
	SessionID       string      `json:"session_id"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	Tokens          TokenTotals `json:"tokens"`
	MemorySessionID string      `json:"memory_session_id,omitempty"`
	Origin          Origin      `json:"origin"`
}

// Touch updates UpdatedAt to now.
func (s *SessionEntry) Touch(now time.Time) { s.UpdatedAt = now }

// Reset mints a fresh SessionID and zeroes the token totals without
// changing SessionKey.
func (s *SessionEntry) Reset(newSessionID string, now time.Time) {
	s.SessionID = newSessionID
	s.Tokens = TokenTotals{}
	s.UpdatedAt = now
}
