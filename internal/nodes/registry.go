package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolution is the outcome of resolving a tool name for dispatch.
type Resolution struct {
	Kind   ResolutionKind
	NodeID NodeID
}

// ResolutionKind tags the variant of a Resolution.
type ResolutionKind int

const (
	ResolveUnknown ResolutionKind = iota
	ResolveLocalExec
	ResolveLocalProcess
	ResolveNode
)

// Errors returned by dispatch.
var (
	ErrNodeNotConnected = errors.New("nodes: node not connected")
	ErrSendFailed       = errors.New("nodes: outbound send failed")
	ErrDispatchTimeout  = errors.New("nodes: tool dispatch timed out")
	ErrNodeDisconnected = errors.New("nodes: node disconnected before responding")
)

// NodeConn is the ephemeral, in-memory state of one connected node's
// WebSocket. It is created by WSServer on a successful handshake and
// discarded on disconnect; it never touches Store directly.
type NodeConn struct {
	id           NodeID
	info         NodeInfo
	capabilities []string
	sender       frameSender
	cancel       context.CancelFunc

	mu       sync.RWMutex
	lastSeen time.Time
}

// frameSender abstracts the transport so registry.go has no WebSocket
// dependency; ws_server.go supplies the concrete implementation.
type frameSender interface {
	// send enqueues f for delivery, returning false if the outbound
	// buffer is full.
	send(f Frame) bool
}

// NewNodeConn builds the ephemeral connection state for a just-paired
// or reconnected node. ws_server.go owns construction and wiring of
// sender/cancel.
func NewNodeConn(id NodeID, info NodeInfo, capabilities []string, sender frameSender, cancel context.CancelFunc) *NodeConn {
	return &NodeConn{
		id:           id,
		info:         info,
		capabilities: capabilities,
		sender:       sender,
		cancel:       cancel,
		lastSeen:     time.Now(),
	}
}

// Touch records that a frame was just received from this node.
func (nc *NodeConn) Touch() {
	nc.mu.Lock()
	nc.lastSeen = time.Now()
	nc.mu.Unlock()
}

// LastSeen returns when a frame was last received from this node.
func (nc *NodeConn) LastSeen() time.Time {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.lastSeen
}

// Capabilities returns the node's advertised capability prefixes.
func (nc *NodeConn) Capabilities() []string { return append([]string(nil), nc.capabilities...) }

// ID returns the node's persistent identity.
func (nc *NodeConn) ID() NodeID { return nc.id }

// pendingRequest tracks one in-flight dispatch_to_node call.
type pendingRequest struct {
	nodeID NodeID
	result chan Frame
}

// Router holds the set of connected nodes and the pending tool request
// table. It is the tool router: Resolve decides
// where a call goes, DispatchToNode carries it out.
type Router struct {
	mu      sync.RWMutex
	conns   map[NodeID]*NodeConn
	pending map[string]*pendingRequest

	store   Store
	aliases *AliasTable
	log     *zap.SugaredLogger

	defaultTimeout time.Duration
}

// NewRouter builds a Router backed by store for persistent node/permission
// lookups. defaultTimeout bounds DispatchToNode when the caller passes 0.
func NewRouter(store Store, aliases *AliasTable, defaultTimeout time.Duration, log *zap.SugaredLogger) *Router {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if aliases == nil {
		aliases = NewAliasTable(nil)
	}
	return &Router{
		conns:          make(map[NodeID]*NodeConn),
		pending:        make(map[string]*pendingRequest),
		store:          store,
		aliases:        aliases,
		log:            log,
		defaultTimeout: defaultTimeout,
	}
}

// AddNode registers a freshly connected node, replacing any prior
// connection under the same id (a reconnect wins over the stale one).
func (r *Router) AddNode(nc *NodeConn) {
	r.mu.Lock()
	old, existed := r.conns[nc.id]
	r.conns[nc.id] = nc
	r.mu.Unlock()

	if existed && old.cancel != nil {
		old.cancel()
	}

	if r.store == nil {
		return
	}

	ctx := context.Background()
	now := time.Now()
	record, err := r.store.GetNode(ctx, nc.id)
	if err != nil {
		record = &NodeRecord{ID: nc.id, CreatedAt: now}
	}
	record.Name = nc.info.Name
	record.NodeType = nc.info.NodeType
	record.Tags = nc.info.Tags
	record.Capabilities = nc.capabilities
	record.Status = StatusOnline
	record.LastSeenAt = &now
	record.UpdatedAt = now
	if err := r.store.SaveNode(ctx, record); err != nil {
		r.log.Warnw("failed to persist node record", "node_id", nc.id, "error", err)
	}
	r.ensureDefaultPermissions(ctx, record)
	r.audit(ctx, nc.id, "connected", "", nil)
}

// RemoveNode drops a node from the connection registry, marking its
// persistent record offline.
func (r *Router) RemoveNode(id NodeID) {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	ctx := context.Background()
	record, err := r.store.GetNode(ctx, id)
	if err != nil {
		return
	}
	now := time.Now()
	record.Status = StatusOffline
	record.LastSeenAt = &now
	record.UpdatedAt = now
	if err := r.store.SaveNode(ctx, record); err != nil {
		r.log.Warnw("failed to persist node disconnect", "node_id", id, "error", err)
	}
	r.audit(ctx, id, "disconnected", "", nil)
}

// ConnectedNodes lists the ids of all currently connected nodes.
func (r *Router) ConnectedNodes() []NodeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// Resolve decides where a tool call should execute:
// exec/process stay local, a matching connected node's capability
// prefix routes remotely, anything else is Unknown. Resolution is
// case-insensitive and consults the alias table first.
func (r *Router) Resolve(toolName string) Resolution {
	name := strings.ToLower(strings.TrimSpace(r.aliases.Apply(toolName)))
	switch name {
	case "exec":
		return Resolution{Kind: ResolveLocalExec}
	case "process":
		return Resolution{Kind: ResolveLocalProcess}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, nc := range r.conns {
		for _, prefix := range nc.capabilities {
			if name == prefix || strings.HasPrefix(name, prefix+".") {
				return Resolution{Kind: ResolveNode, NodeID: id}
			}
		}
	}
	return Resolution{Kind: ResolveUnknown}
}

// DispatchToNode sends a tool_request to nodeID and waits for the
// matching tool_response.
func (r *Router) DispatchToNode(ctx context.Context, nodeID NodeID, tool string, args json.RawMessage, sessionKey string, timeout time.Duration) (ok bool, result json.RawMessage, toolErr *ToolError, err error) {
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}

	requestID := uuid.New().String()
	resultCh := make(chan Frame, 1)

	r.mu.Lock()
	nc, connected := r.conns[nodeID]
	if !connected {
		r.mu.Unlock()
		return false, nil, nil, ErrNodeNotConnected
	}
	r.pending[requestID] = &pendingRequest{nodeID: nodeID, result: resultCh}
	r.mu.Unlock()

	if !nc.sender.send(ToolRequestFrame(requestID, tool, args, sessionKey)) {
		r.removePending(requestID)
		return false, nil, nil, ErrSendFailed
	}

	select {
	case frame, chanOK := <-resultCh:
		if !chanOK {
			return false, nil, nil, ErrNodeDisconnected
		}
		return frame.OK, frame.Result, frame.Error, nil
	case <-time.After(timeout):
		r.removePending(requestID)
		return false, nil, nil, ErrDispatchTimeout
	case <-ctx.Done():
		r.removePending(requestID)
		return false, nil, nil, ctx.Err()
	}
}

// CompleteRequest resolves a pending dispatch with the node's
// tool_response.
func (r *Router) CompleteRequest(requestID string, ok bool, result json.RawMessage, toolErr *ToolError) {
	r.mu.Lock()
	pending, found := r.pending[requestID]
	if found {
		delete(r.pending, requestID)
	}
	r.mu.Unlock()
	if !found {
		return
	}
	pending.result <- Frame{OK: ok, Result: result, Error: toolErr}
}

// FailPendingForNode resolves every pending request owned by nodeID
// with a disconnected error, and
// returns how many were failed.
func (r *Router) FailPendingForNode(nodeID NodeID) int {
	r.mu.Lock()
	var failed []*pendingRequest
	for id, pending := range r.pending {
		if pending.nodeID == nodeID {
			failed = append(failed, pending)
			delete(r.pending, id)
		}
	}
	r.mu.Unlock()

	for _, pending := range failed {
		close(pending.result)
	}
	return len(failed)
}

func (r *Router) removePending(requestID string) {
	r.mu.Lock()
	delete(r.pending, requestID)
	r.mu.Unlock()
}

// CheckApproval reports whether a dispatch to a capability prefix on
// nodeID requires an operator decision before it may proceed. An error
// of ErrPermissionDenied or ErrNodeRevoked means the call must not
// proceed at all, approval or not.
func (r *Router) CheckApproval(ctx context.Context, nodeID NodeID, prefix string) (requiresApproval bool, err error) {
	if r.store == nil {
		return false, nil
	}
	record, err := r.store.GetNode(ctx, nodeID)
	if err != nil {
		return true, err
	}
	if record.Status == StatusRevoked {
		return false, ErrNodeRevoked
	}
	perms, err := r.store.GetPermissions(ctx, nodeID)
	if err != nil {
		if errors.Is(err, ErrNodeNotFound) {
			return true, nil
		}
		return true, err
	}
	if !perms.IsAllowed(prefix) {
		return false, ErrPermissionDenied
	}
	return perms.RequiresApproval(prefix), nil
}

func (r *Router) ensureDefaultPermissions(ctx context.Context, record *NodeRecord) {
	existing, err := r.store.GetPermissions(ctx, record.ID)
	if err == nil && existing != nil {
		// Merge in any newly advertised prefixes without clobbering
		// operator-adjusted settings for previously known ones.
		changed := false
		for _, prefix := range record.Capabilities {
			if _, ok := existing.Permissions[prefix]; !ok {
				existing.Permissions[prefix] = &CapabilityPermission{
					Prefix: prefix, Allowed: true, RequireApproval: isSensitivePrefix(prefix),
				}
				changed = true
			}
		}
		if changed {
			if err := r.store.SavePermissions(ctx, existing); err != nil {
				r.log.Warnw("failed to extend node permissions", "node_id", record.ID, "error", err)
			}
		}
		return
	}

	perms := &NodePermissions{NodeID: record.ID, Permissions: make(map[string]*CapabilityPermission, len(record.Capabilities))}
	for _, prefix := range record.Capabilities {
		perms.Permissions[prefix] = &CapabilityPermission{
			Prefix: prefix, Allowed: true, RequireApproval: isSensitivePrefix(prefix),
		}
	}
	if err := r.store.SavePermissions(ctx, perms); err != nil {
		r.log.Warnw("failed to save default node permissions", "node_id", record.ID, "error", err)
	}
}

func (r *Router) audit(ctx context.Context, nodeID NodeID, action, actorID string, details map[string]any) {
	if r.store == nil {
		return
	}
	if err := r.store.AppendAudit(ctx, newAuditEntry(nodeID, action, actorID, details)); err != nil {
		r.log.Warnw("failed to write node audit entry", "node_id", nodeID, "action", action, "error", err)
	}
}

// RevokeNode marks a paired node revoked and disconnects it if online.
func (r *Router) RevokeNode(ctx context.Context, id NodeID, actorID string) error {
	if r.store == nil {
		return fmt.Errorf("nodes: no persistent store configured")
	}
	record, err := r.store.GetNode(ctx, id)
	if err != nil {
		return err
	}
	record.Status = StatusRevoked
	record.UpdatedAt = time.Now()
	if err := r.store.SaveNode(ctx, record); err != nil {
		return err
	}
	r.audit(ctx, id, "revoked", actorID, nil)

	r.mu.Lock()
	nc, connected := r.conns[id]
	r.mu.Unlock()
	if connected && nc.cancel != nil {
		nc.cancel()
	}
	return nil
}
