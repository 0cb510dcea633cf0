package nodes

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Errors returned by Store implementations and the persistent side of
// the node registry.
var (
	ErrNodeNotFound    = errors.New("nodes: node not found")
	ErrNodeRevoked     = errors.New("nodes: node access revoked")
	ErrPermissionDenied = errors.New("nodes: permission denied")
)

// Store persists paired node identities, their capability permissions,
// and an audit trail. The WebSocket connection layer (NodeConn) is
// strictly in-memory and never touches Store directly.
type Store interface {
	SaveNode(ctx context.Context, node *NodeRecord) error
	GetNode(ctx context.Context, id NodeID) (*NodeRecord, error)
	ListNodes(ctx context.Context, ownerID string) ([]*NodeRecord, error)
	DeleteNode(ctx context.Context, id NodeID) error

	SavePermissions(ctx context.Context, perms *NodePermissions) error
	GetPermissions(ctx context.Context, nodeID NodeID) (*NodePermissions, error)

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, nodeID NodeID, limit int) ([]*AuditEntry, error)
}

// MemoryStore is an in-memory Store, suitable for single-process
// deployments and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	nodes       map[NodeID]*NodeRecord
	permissions map[NodeID]*NodePermissions
	audit       map[NodeID][]*AuditEntry
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:       make(map[NodeID]*NodeRecord),
		permissions: make(map[NodeID]*NodePermissions),
		audit:       make(map[NodeID][]*AuditEntry),
	}
}

func (s *MemoryStore) SaveNode(ctx context.Context, node *NodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *node
	s.nodes[node.ID] = &cp
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, id NodeID) (*NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	cp := *node
	return &cp, nil
}

func (s *MemoryStore) ListNodes(ctx context.Context, ownerID string) ([]*NodeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*NodeRecord
	for _, node := range s.nodes {
		if ownerID == "" || node.OwnerID == ownerID {
			cp := *node
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *MemoryStore) DeleteNode(ctx context.Context, id NodeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	delete(s.permissions, id)
	delete(s.audit, id)
	return nil
}

func (s *MemoryStore) SavePermissions(ctx context.Context, perms *NodePermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := &NodePermissions{NodeID: perms.NodeID, Permissions: make(map[string]*CapabilityPermission, len(perms.Permissions))}
	for prefix, perm := range perms.Permissions {
		permCopy := *perm
		cp.Permissions[prefix] = &permCopy
	}
	s.permissions[perms.NodeID] = cp
	return nil
}

func (s *MemoryStore) GetPermissions(ctx context.Context, nodeID NodeID) (*NodePermissions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perms, ok := s.permissions[nodeID]
	if !ok {
		return nil, ErrNodeNotFound
	}
	cp := &NodePermissions{NodeID: perms.NodeID, Permissions: make(map[string]*CapabilityPermission, len(perms.Permissions))}
	for prefix, perm := range perms.Permissions {
		permCopy := *perm
		cp.Permissions[prefix] = &permCopy
	}
	return cp, nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.audit[entry.NodeID] = append(s.audit[entry.NodeID], &cp)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, nodeID NodeID, limit int) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.audit[nodeID]
	start := 0
	if limit > 0 && len(entries) > limit {
		start = len(entries) - limit
	}
	result := make([]*AuditEntry, 0, len(entries)-start)
	for i := len(entries) - 1; i >= start; i-- {
		cp := *entries[i]
		result = append(result, &cp)
	}
	return result, nil
}

var _ Store = (*MemoryStore)(nil)

// newAuditEntry stamps a new audit entry with a fresh ID and timestamp.
func newAuditEntry(nodeID NodeID, action, actorID string, details map[string]any) *AuditEntry {
	return &AuditEntry{
		ID:        uuid.New().String(),
		NodeID:    nodeID,
		Action:    action,
		ActorID:   actorID,
		Details:   details,
		Timestamp: time.Now(),
	}
}
