package models

import "time"

// ConnectedNode is a live entry in the node registry. At most one entry
// exists per NodeID; a second connect evicts the first.
type ConnectedNode struct {
	NodeID       string    `json:"node_id"`
	NodeType     string    `json:"node_type"`
	Capabilities []string  `json:"capabilities"`
	Version      string    `json:"version"`
	Tags         []string  `json:"tags,omitempty"`
	SessionID    string    `json:"session_id"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// PendingToolRequest lives in the tool router between dispatch and
// completion (or failure, on disconnect/timeout).
type PendingToolRequest struct {
	RequestID string
	NodeID    string
	ToolName  string
	CreatedAt time.Time
}

// NodeToolError is a structured tool failure reported by a node or
// synthesized by the router on disconnect/timeout.
type NodeToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (e *NodeToolError) Error() string { return e.Kind + ": " + e.Message }

// Well-known NodeToolError kinds.
const (
	NodeErrDisconnected = "disconnected"
	NodeErrTimeout      = "timeout"
	NodeErrNotConnected = "not_connected"
	NodeErrSendFailed   = "send_failed"
)
