// Package approval gates dangerous commands behind human review. A command
// matching a configured pattern is paused as a PendingApproval and the
// caller blocks on a one-shot channel until a human resolves it via
// Approve/Deny, or the caller's own timeout fires. Grounded on
// internal/agent.ApprovalChecker's pattern-matching policy shape
// (allowlist/denylist/require-approval), simplified to a narrower
// gate-then-resolve contract, and directly on original_source's
// crates/gateway/src/runtime/approval.rs for the one-shot resolution
// channel and ApprovalStore surface.
package approval

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is what a human reviewer decided for a pending approval.
type Decision struct {
	Approved bool
	Reason   string
}

// PendingApproval is a command awaiting human review. Respond is sent to
// exactly once, by Approve or Deny; the blocked caller receives it on
// PendingApproval's paired receive channel.
type PendingApproval struct {
	ID         string
	Command    string
	SessionKey string
	CreatedAt  time.Time
	respond    chan Decision
}

// Info is the serializable snapshot of a PendingApproval for API responses
// or SSE events — it omits the unserializable respond channel.
type Info struct {
	ID         string    `json:"id"`
	Command    string    `json:"command"`
	SessionKey string    `json:"session_key"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p *PendingApproval) info() Info {
	return Info{ID: p.ID, Command: p.Command, SessionKey: p.SessionKey, CreatedAt: p.CreatedAt}
}

// Policy decides, by command pattern, whether a command runs straight
// through, is denied outright, or must be gated behind approval.
type Policy struct {
	// Denylist commands are always denied, checked before everything else.
	Denylist []string
	// RequireApproval commands are always gated.
	RequireApproval []string
	// Allowlist commands always run without approval.
	Allowlist []string
	// Timeout bounds how long a gated command waits for a human response.
	Timeout time.Duration
}

// DefaultPolicy mirrors DefaultApprovalPolicy's shape with no patterns
// configured and a 5 minute timeout.
func DefaultPolicy() Policy {
	return Policy{Timeout: 5 * time.Minute}
}

// Gate reports whether command must be held for approval under policy.
// Denylist wins over RequireApproval wins over Allowlist; a command
// matching nothing runs straight through.
func (p Policy) Gate(command string) (requiresApproval bool, denied bool) {
	if matchesAny(p.Denylist, command) {
		return false, true
	}
	if matchesAny(p.RequireApproval, command) {
		return true, false
	}
	return false, false
}

func matchesAny(patterns []string, command string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			return true
		}
		if strings.HasSuffix(pattern, "*") && strings.HasPrefix(command, strings.TrimSuffix(pattern, "*")) {
			return true
		}
		if strings.Contains(command, pattern) {
			return true
		}
	}
	return false
}

// Store is the thread-safe registry of pending approvals, grounded directly
// on original_source's ApprovalStore.
type Store struct {
	mu      sync.Mutex
	pending map[string]*PendingApproval
	timeout time.Duration
}

// NewStore builds an empty store with the given default approval timeout.
func NewStore(timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Store{pending: make(map[string]*PendingApproval), timeout: timeout}
}

// Timeout returns the store's configured approval timeout.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}

// Insert registers a new pending approval and returns its receive channel
// plus a serializable snapshot. The caller should select on the returned
// channel and a timeout of its own choosing, removing the entry via
// RemoveExpired if the timeout fires first.
func (s *Store) Insert(command, sessionKey string) (*PendingApproval, <-chan Decision, Info) {
	respond := make(chan Decision, 1)
	p := &PendingApproval{
		ID:         uuid.NewString(),
		Command:    command,
		SessionKey: sessionKey,
		CreatedAt:  time.Now(),
		respond:    respond,
	}
	s.mu.Lock()
	s.pending[p.ID] = p
	s.mu.Unlock()
	return p, respond, p.info()
}

// Approve resolves a pending approval as approved, unblocking its waiter.
// Reports whether a pending approval with that id existed.
func (s *Store) Approve(id string) bool {
	return s.resolve(id, Decision{Approved: true})
}

// Deny resolves a pending approval as denied with an optional reason.
func (s *Store) Deny(id, reason string) bool {
	return s.resolve(id, Decision{Approved: false, Reason: reason})
}

func (s *Store) resolve(id string, decision Decision) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	p.respond <- decision
	return true
}

// RemoveExpired drops a pending approval without resolving it — used when
// the blocked caller's own timeout fires first.
func (s *Store) RemoveExpired(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// ListPending returns a snapshot of every currently pending approval.
func (s *Store) ListPending() []Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Info, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.info())
	}
	return out
}
