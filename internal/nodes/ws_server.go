package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/auth"
)

const (
	outboundBufferSize = 64
	writeWait          = 10 * time.Second
	readIdleTimeout    = 60 * time.Second
)

// WSServer accepts node WebSocket connections at /v1/nodes/ws, performs
// the node_hello/gateway_welcome handshake, and runs each
// node's connection loop.
type WSServer struct {
	router         *Router
	nodeAuth       *auth.NodeAuthenticator
	pairing        *auth.PairingIssuer
	gatewayVersion string
	log            *zap.SugaredLogger
}

// NewWSServer wires a router against the node handshake auth policy and
// pairing token issuer.
func NewWSServer(router *Router, nodeAuth *auth.NodeAuthenticator, pairing *auth.PairingIssuer, gatewayVersion string, log *zap.SugaredLogger) *WSServer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WSServer{
		router:         router,
		nodeAuth:       nodeAuth,
		pairing:        pairing,
		gatewayVersion: gatewayVersion,
		log:            log,
	}
}

// ServeHTTP upgrades the request and runs the node's connection loop
// until it disconnects.
func (s *WSServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}

	handshakeCtx, cancelHandshake := context.WithTimeout(r.Context(), HandshakeTimeoutSeconds*time.Second)
	defer cancelHandshake()

	hello, err := s.readHandshake(handshakeCtx, conn)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	token := tokenFromRequest(r)
	if err := s.authenticate(hello.Node.ID, token); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	capabilities := normalizeCapabilities(hello.Capabilities)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ns := &nodeSocket{
		conn:     conn,
		ctx:      ctx,
		outbound: make(chan Frame, outboundBufferSize),
	}

	nc := NewNodeConn(NodeID(hello.Node.ID), *hello.Node, capabilities, ns, cancel)
	s.router.AddNode(nc)
	defer func() {
		s.router.RemoveNode(nc.id)
		failed := s.router.FailPendingForNode(nc.id)
		if failed > 0 {
			s.log.Infow("failed pending requests on node disconnect", "node_id", nc.id, "count", failed)
		}
	}()

	if err := writeFrame(ctx, conn, GatewayWelcomeFrame(s.gatewayVersion)); err != nil {
		return
	}

	go ns.writeLoop()
	s.readLoop(ctx, conn, nc)
}

// authenticate accepts either a pre-shared node token (SA_NODE_TOKEN(S))
// or a one-time pairing token issued out of band through the admin
// surface. A pairing token must be scoped to the connecting node's id.
func (s *WSServer) authenticate(nodeID, token string) error {
	if s.nodeAuth != nil {
		if err := s.nodeAuth.Authenticate(nodeID, token); err == nil {
			return nil
		} else if s.pairing == nil {
			return err
		}
	}
	if s.pairing == nil {
		return nil
	}
	grant, err := s.pairing.Verify(token)
	if err != nil {
		return err
	}
	if grant.NodeID != nodeID {
		return fmt.Errorf("nodes: pairing token scoped to a different node id")
	}
	return nil
}

// readHandshake waits for node_hello as the very first frame.
func (s *WSServer) readHandshake(ctx context.Context, conn *websocket.Conn) (*Frame, error) {
	frame, err := readFrame(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("nodes: handshake read failed: %w", err)
	}
	if frame.Type != FrameNodeHello || frame.Node == nil || frame.Node.ID == "" {
		return nil, fmt.Errorf("nodes: expected node_hello as first frame")
	}
	return frame, nil
}

// readLoop dispatches inbound frames for the lifetime of the connection.
// Every frame, including ping, touches last_seen.
func (s *WSServer) readLoop(ctx context.Context, conn *websocket.Conn, nc *NodeConn) {
	for {
		readCtx, cancel := context.WithTimeout(ctx, readIdleTimeout)
		frame, err := readFrame(readCtx, conn)
		cancel()
		if err != nil {
			return
		}
		nc.Touch()

		switch frame.Type {
		case FrameToolResponse:
			if frame.RequestID == "" {
				continue
			}
			s.router.CompleteRequest(frame.RequestID, frame.OK, frame.Result, frame.Error)
		case FramePing:
			_ = writeFrame(ctx, conn, PongFrame(frame.Timestamp))
		case FramePong:
			// no-op, Touch already recorded liveness
		default:
			s.log.Debugw("ignoring unexpected frame from node", "node_id", nc.id, "type", frame.Type)
		}
	}
}

// nodeSocket implements frameSender by pumping a bounded outbound
// channel into the WebSocket connection on a dedicated writer
// goroutine, mirroring the gateway's other connection loops.
type nodeSocket struct {
	conn     *websocket.Conn
	ctx      context.Context
	outbound chan Frame

	mu     sync.Mutex
	closed bool
}

func (ns *nodeSocket) send(f Frame) bool {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if ns.closed {
		return false
	}
	select {
	case ns.outbound <- f:
		return true
	default:
		return false
	}
}

func (ns *nodeSocket) writeLoop() {
	for {
		select {
		case <-ns.ctx.Done():
			ns.mu.Lock()
			ns.closed = true
			ns.mu.Unlock()
			return
		case frame, ok := <-ns.outbound:
			if !ok {
				return
			}
			if err := writeFrame(ns.ctx, ns.conn, frame); err != nil {
				return
			}
		}
	}
}

// readFrame reads one single-line JSON frame, enforcing the tool
// response size cap.
func readFrame(ctx context.Context, conn *websocket.Conn) (*Frame, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("nodes: unexpected binary frame")
	}
	if len(data) > MaxToolResponseBytes {
		return nil, fmt.Errorf("nodes: frame exceeds %d bytes", MaxToolResponseBytes)
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("nodes: invalid frame: %w", err)
	}
	return &frame, nil
}

// writeFrame marshals and writes one frame with a bounded deadline.
func writeFrame(ctx context.Context, conn *websocket.Conn, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// tokenFromRequest extracts the node's pre-shared token from the
// Authorization header, falling back to a ?token= query parameter for
// node clients that can't set headers on a WebSocket upgrade.
func tokenFromRequest(r *http.Request) string {
	if token := auth.ExtractBearer(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// normalizeCapabilities lowercases each prefix and strips a trailing
// dot, matching the resolution rule in Router.Resolve.
func normalizeCapabilities(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		c = strings.ToLower(strings.TrimSpace(c))
		c = strings.TrimSuffix(c, ".")
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}
