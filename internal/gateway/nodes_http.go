package gateway

import (
	"net/http"

	"github.com/relaygate/relaygate/internal/approval"
	"github.com/relaygate/relaygate/internal/nodes"
)

// nodeBody is the admin-facing view of a paired node's persistent
// identity, omitting nothing but matching the NodeRecord field order.
type nodeBody = nodes.NodeRecord

// handleNodesList implements GET /v1/nodes.
func (s *Server) handleNodesList(w http.ResponseWriter, r *http.Request) {
	if s.deps.NodeStore == nil {
		writeJSON(w, http.StatusOK, map[string]any{"nodes": []nodeBody{}})
		return
	}
	list, err := s.deps.NodeStore.ListNodes(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": list})
}

type pairRequest struct {
	NodeID       string   `json:"node_id"`
	Capabilities []string `json:"capabilities"`
}

type pairResponse struct {
	Token string `json:"token"`
}

// handleNodePair implements POST /v1/nodes/pair: mints a one-time pairing
// token an operator hands to a node out of band, redeemed during the
// /v1/nodes/ws handshake.
func (s *Server) handleNodePair(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "node_id is required")
		return
	}
	if s.deps.Pairing == nil {
		writeError(w, http.StatusServiceUnavailable, "node pairing not configured")
		return
	}
	token, err := s.deps.Pairing.Issue(req.NodeID, req.Capabilities)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, pairResponse{Token: token})
}

// handleNodeRevoke implements DELETE /v1/nodes/{id}: removes the node's
// persistent record and permissions. A currently connected socket is not
// force-closed here; it loses dispatch eligibility on its next lookup and
// is dropped on its next reconnect attempt.
func (s *Server) handleNodeRevoke(w http.ResponseWriter, r *http.Request) {
	if s.deps.NodeStore == nil {
		writeError(w, http.StatusServiceUnavailable, "node store not configured")
		return
	}
	id := nodes.NodeID(r.PathValue("id"))
	if _, err := s.deps.NodeStore.GetNode(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "unknown node")
		return
	}
	if err := s.deps.NodeStore.DeleteNode(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// handleNodeWS implements GET /v1/nodes/ws: the node protocol handshake
// and frame loop, delegated entirely to nodes.WSServer.
func (s *Server) handleNodeWS(w http.ResponseWriter, r *http.Request) {
	if s.deps.NodeWS == nil {
		writeError(w, http.StatusServiceUnavailable, "node protocol not configured")
		return
	}
	s.deps.NodeWS.ServeHTTP(w, r)
}

// handleApprovalsList implements GET /v1/approvals.
func (s *Server) handleApprovalsList(w http.ResponseWriter, r *http.Request) {
	if s.deps.Approvals == nil {
		writeJSON(w, http.StatusOK, map[string]any{"approvals": []approval.Info{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": s.deps.Approvals.ListPending()})
}

// handleApprovalApprove implements POST /v1/approvals/{id}/approve.
func (s *Server) handleApprovalApprove(w http.ResponseWriter, r *http.Request) {
	if s.deps.Approvals == nil || !s.deps.Approvals.Approve(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "unknown or already-resolved approval")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

type denyRequest struct {
	Reason string `json:"reason,omitempty"`
}

// handleApprovalDeny implements POST /v1/approvals/{id}/deny.
func (s *Server) handleApprovalDeny(w http.ResponseWriter, r *http.Request) {
	var req denyRequest
	_ = decodeJSON(r, &req)
	if s.deps.Approvals == nil || !s.deps.Approvals.Deny(r.PathValue("id"), req.Reason) {
		writeError(w, http.StatusNotFound, "unknown or already-resolved approval")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "denied"})
}

// handleQuotaSnapshot implements GET /v1/quota: every agent's today's
// usage against its configured daily limits.
func (s *Server) handleQuotaSnapshot(w http.ResponseWriter, r *http.Request) {
	if s.deps.Quota == nil {
		writeJSON(w, http.StatusOK, map[string]any{"agents": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.deps.Quota.Snapshot()})
}
