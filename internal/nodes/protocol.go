// Package nodes implements the node WebSocket protocol and tool router.
//
// Nodes are remote processes (desktop agents, phones, edge boxes) that
// advertise tool capability prefixes and execute tool calls the gateway
// dispatches to them over a single persistent WebSocket connection.
package nodes

import "encoding/json"

// MaxToolResponseBytes bounds a single tool_response frame. Nodes that
// exceed it should truncate their result and signal accordingly.
const MaxToolResponseBytes = 4 << 20 // 4 MiB

// HandshakeTimeoutSeconds is how long the gateway waits for node_hello
// after accepting the WebSocket upgrade before closing the connection.
const HandshakeTimeoutSeconds = 10

// FrameType tags the envelope's payload variant.
type FrameType string

const (
	FrameNodeHello      FrameType = "node_hello"
	FrameGatewayWelcome FrameType = "gateway_welcome"
	FrameToolRequest    FrameType = "tool_request"
	FrameToolResponse   FrameType = "tool_response"
	FramePing           FrameType = "ping"
	FramePong           FrameType = "pong"
)

// NodeInfo identifies a connecting node, carried in node_hello.
type NodeInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	NodeType string   `json:"node_type"`
	Version  string   `json:"version"`
	Tags     []string `json:"tags,omitempty"`
}

// ToolError is the structured error shape of a failed tool_response.
type ToolError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Frame is the single‑line JSON envelope exchanged over the node socket.
// Exactly one of the payload fields is populated, selected by Type.
type Frame struct {
	Type FrameType `json:"type"`

	// node_hello
	Node         *NodeInfo `json:"node,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`

	// gateway_welcome
	GatewayVersion string `json:"gateway_version,omitempty"`

	// tool_request / tool_response
	RequestID  string          `json:"request_id,omitempty"`
	Tool       string          `json:"tool,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	SessionKey string          `json:"session_key,omitempty"`
	OK         bool            `json:"ok,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *ToolError      `json:"error,omitempty"`

	// ping / pong
	Timestamp int64 `json:"timestamp,omitempty"`
}

// NodeHelloFrame builds a node_hello frame. Used by tests and by the
// reference node client helpers.
func NodeHelloFrame(node NodeInfo, capabilities []string) Frame {
	return Frame{Type: FrameNodeHello, Node: &node, Capabilities: capabilities}
}

// GatewayWelcomeFrame builds the gateway's handshake reply.
func GatewayWelcomeFrame(gatewayVersion string) Frame {
	return Frame{Type: FrameGatewayWelcome, GatewayVersion: gatewayVersion}
}

// ToolRequestFrame builds a gateway → node tool dispatch frame.
func ToolRequestFrame(requestID, tool string, args json.RawMessage, sessionKey string) Frame {
	return Frame{Type: FrameToolRequest, RequestID: requestID, Tool: tool, Args: args, SessionKey: sessionKey}
}

// ToolResponseFrame builds a node → gateway result frame.
func ToolResponseFrame(requestID string, ok bool, result json.RawMessage, toolErr *ToolError) Frame {
	return Frame{Type: FrameToolResponse, RequestID: requestID, OK: ok, Result: result, Error: toolErr}
}

// PingFrame and PongFrame carry a unix millisecond timestamp.
func PingFrame(timestamp int64) Frame { return Frame{Type: FramePing, Timestamp: timestamp} }
func PongFrame(timestamp int64) Frame { return Frame{Type: FramePong, Timestamp: timestamp} }
