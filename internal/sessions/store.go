package sessions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/pkg/models"
)

// storeDocument is the on-disk shape of sessions.json.
type storeDocument struct {
	Version  int                              `json:"version"`
	Sessions map[string]*models.SessionEntry `json:"sessions"`
}

// Store is the in-memory, periodically-flushed session registry keyed by
// session_key, backed by a single sessions.json document. Reads
// take the shared lock; every mutation takes the exclusive lock and marks
// the store dirty so the flush loop knows to persist it.
type Store struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]*models.SessionEntry
	dirty    bool

	flushInterval time.Duration
	stopCh        chan struct{}
	stopped       chan struct{}
}

// NewStore loads sessions.json from dir, if present, and starts the
// periodic (~30s) flush loop.
func NewStore(dir string) (*Store, error) {
	s := &Store{
		path:          filepath.Join(dir, "sessions.json"),
		sessions:      make(map[string]*models.SessionEntry),
		flushInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	go s.flushLoop()
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc storeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("sessions: parse %s: %w", s.path, err)
	}
	if doc.Sessions != nil {
		s.sessions = doc.Sessions
	}
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.Flush()
		case <-s.stopCh:
			_ = s.Flush()
			return
		}
	}
}

// Close stops the flush loop after a final flush.
func (s *Store) Close() {
	close(s.stopCh)
	<-s.stopped
}

// Flush persists the session table to disk if dirty, using a tmp-write
// then atomic rename with 0600 permissions.
func (s *Store) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	doc := storeDocument{Version: 1, Sessions: make(map[string]*models.SessionEntry, len(s.sessions))}
	for k, v := range s.sessions {
		cp := *v
		doc.Sessions[k] = &cp
	}
	s.dirty = false
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// ResolveOrCreate returns the existing session for sessionKey, or creates a
// new one with a freshly minted session_id if none exists.
func (s *Store) ResolveOrCreate(sessionKey string, origin models.Origin, now time.Time) *models.SessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[sessionKey]; ok {
		return existing
	}

	entry := &models.SessionEntry{
		SessionKey: sessionKey,
		SessionID:  uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
		Origin:     origin,
	}
	s.sessions[sessionKey] = entry
	s.dirty = true
	return entry
}

// Get returns the session for sessionKey, if any.
func (s *Store) Get(sessionKey string) (*models.SessionEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[sessionKey]
	return entry, ok
}

// Reset mints a new session_id and zeroes usage counters while keeping the
// session_key.
func (s *Store) Reset(sessionKey string, now time.Time) (*models.SessionEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionKey]
	if !ok {
		return nil, false
	}
	entry.Reset(uuid.NewString(), now)
	s.dirty = true
	return entry, true
}

// RecordUsage adds token counts to a session's running totals.
func (s *Store) RecordUsage(sessionKey string, input, output int64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionKey]
	if !ok {
		return false
	}
	entry.Tokens.Add(input, output)
	entry.UpdatedAt = now
	s.dirty = true
	return true
}

// SetMemorySessionID records the downstream memory/session-manager session
// id associated with this session_key.
func (s *Store) SetMemorySessionID(sessionKey, memorySessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionKey]
	if !ok {
		return false
	}
	entry.MemorySessionID = memorySessionID
	s.dirty = true
	return true
}

// Touch updates a session's last-activity timestamp without changing usage.
func (s *Store) Touch(sessionKey string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sessionKey]
	if !ok {
		return false
	}
	entry.Touch(now)
	s.dirty = true
	return true
}

// List returns a snapshot of all known sessions.
func (s *Store) List() []*models.SessionEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SessionEntry, 0, len(s.sessions))
	for _, v := range s.sessions {
		cp := *v
		out = append(out, &cp)
	}
	return out
}
