// Package nodes implements the node WebSocket protocol and tool router:
// remote processes that advertise tool capability prefixes and execute
// tool calls the gateway dispatches to them over a persistent WebSocket
// connection.
//
// A node has two lifetimes. NodeRecord is its persistent identity —
// paired once, surviving reconnects and gateway restarts. NodeConn is
// its ephemeral connection state — the live socket, outbound channel,
// and advertised capabilities for the current session. The Router joins
// the two: it resolves a tool name against currently connected nodes
// and consults the paired NodeRecord's permissions before dispatch.
package nodes

import "time"

// NodeID uniquely identifies a paired node across reconnects.
type NodeID string

// NodeRecordStatus is the lifecycle state of a paired node.
type NodeRecordStatus string

const (
	StatusPending NodeRecordStatus = "pending"
	StatusOnline  NodeRecordStatus = "online"
	StatusOffline NodeRecordStatus = "offline"
	StatusRevoked NodeRecordStatus = "revoked"
)

// NodeRecord is the persistent identity of a paired node.
type NodeRecord struct {
	ID       NodeID           `json:"id"`
	Name     string           `json:"name"`
	NodeType string           `json:"node_type"`
	OwnerID  string           `json:"owner_id"`
	Status   NodeRecordStatus `json:"status"`

	// Capabilities are the lowercased, dot-stripped prefixes this node
	// declared at its most recent handshake.
	Capabilities []string          `json:"capabilities"`
	Tags         []string          `json:"tags,omitempty"`
	LastSeenAt   *time.Time        `json:"last_seen_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// CapabilityPermission controls whether calls matching a capability
// prefix require explicit, per-call operator approval before dispatch.
type CapabilityPermission struct {
	Prefix          string `json:"prefix"`
	Allowed         bool   `json:"allowed"`
	RequireApproval bool   `json:"require_approval"`
}

// NodePermissions is the approval policy for one paired node's
// capability prefixes.
type NodePermissions struct {
	NodeID      NodeID                            `json:"node_id"`
	Permissions map[string]*CapabilityPermission `json:"permissions"`
}

// RequiresApproval reports whether a call matching prefix needs an
// operator decision before dispatch. Unknown prefixes default to
// requiring approval.
func (p *NodePermissions) RequiresApproval(prefix string) bool {
	if p == nil {
		return true
	}
	perm, ok := p.Permissions[prefix]
	if !ok {
		return true
	}
	return perm.RequireApproval
}

// IsAllowed reports whether prefix may be dispatched at all.
func (p *NodePermissions) IsAllowed(prefix string) bool {
	if p == nil {
		return false
	}
	perm, ok := p.Permissions[prefix]
	return ok && perm.Allowed
}

// sensitivePrefixes require approval by default when a node first
// pairs: privileged device actions should not run unattended.
var sensitivePrefixes = map[string]bool{
	"camera":     true,
	"screen":     true,
	"location":   true,
	"filesystem": true,
	"shell":      true,
}

func isSensitivePrefix(prefix string) bool {
	return sensitivePrefixes[prefix]
}

// AuditEntry records a lifecycle or dispatch event for a paired node.
type AuditEntry struct {
	ID        string         `json:"id"`
	NodeID    NodeID         `json:"node_id"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actor_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
