package gateway

import (
	"net/http"
	"time"

	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/internal/sessions"
	"github.com/relaygate/relaygate/pkg/models"
)

// inboundAttachment is a channel-connector attachment reference, passed
// through untouched — the gateway has no media pipeline of its own.
type inboundAttachment struct {
	Kind string `json:"kind"`
	URL  string `json:"url"`
}

// inboundEnvelope is the channel-connector entry envelope.
type inboundEnvelope struct {
	Channel     string              `json:"channel"`
	AccountID   string              `json:"account_id,omitempty"`
	PeerID      string              `json:"peer_id"`
	ChatType    string              `json:"chat_type"`
	GroupID     string              `json:"group_id,omitempty"`
	ThreadID    string              `json:"thread_id,omitempty"`
	Display     string              `json:"display,omitempty"`
	Text        string              `json:"text"`
	Attachments []inboundAttachment `json:"attachments,omitempty"`
	Model       string              `json:"model,omitempty"`
	Agent       string              `json:"agent,omitempty"`
}

type inboundAction struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

type inboundResponse struct {
	SessionKey string          `json:"session_key"`
	SessionID  string          `json:"session_id"`
	Actions    []inboundAction `json:"actions"`
	Policy     string          `json:"policy,omitempty"`
}

// sendPolicy decides whether an inbound message is allowed to trigger a
// turn at all, and if not, the reason reported back to the connector.
// Direct messages always proceed; group and thread messages are denied by
// default until a channel explicitly opts a group/thread in, since no
// per-channel allow list is configured in this deployment.
func sendPolicy(chatType string) (allowed bool, reason string) {
	switch chatType {
	case "direct", "":
		return true, ""
	case "group":
		return false, "denied:group"
	default:
		return false, "denied:channel"
	}
}

// handleInbound implements POST /v1/inbound: resolves the session key via
// identity resolution, enforces the send policy, and — if allowed — drives
// a turn the same way /v1/chat does, translating the result into the
// connector's outbound action list.
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var env inboundEnvelope
	if err := decodeJSON(r, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if env.PeerID == "" || env.Text == "" {
		writeError(w, http.StatusBadRequest, "peer_id and text are required")
		return
	}

	agent := env.Agent
	if agent == "" {
		agent = s.deps.DefaultAgentID
	}

	meta := sessions.SessionKeyMetadata{
		Channel:   env.Channel,
		AccountID: env.AccountID,
		PeerID:    env.PeerID,
		GroupID:   env.GroupID,
		ThreadID:  env.ThreadID,
		IsDirect:  env.ChatType == "direct" || env.ChatType == "",
	}
	sessionKey := sessions.ComputeSessionKey(agent, sessions.DMScopeMain, meta, s.deps.Identity)

	now := time.Now()
	entry := s.deps.Sessions.ResolveOrCreate(sessionKey, models.Origin{
		Channel: models.ChannelType(env.Channel), AccountID: env.AccountID, PeerID: env.PeerID, GroupID: env.GroupID,
	}, now)

	allowed, reason := sendPolicy(env.ChatType)
	if !allowed {
		writeJSON(w, http.StatusOK, inboundResponse{
			SessionKey: sessionKey,
			SessionID:  entry.SessionID,
			Actions:    []inboundAction{{Type: "none"}},
			Policy:     reason,
		})
		return
	}

	if s.deps.Quota != nil {
		if err := s.deps.Quota.CheckQuota(agent); err != nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
	}
	if s.deps.ProviderRegistry == nil || s.deps.ProviderRegistry.IsEmpty() {
		writeError(w, http.StatusServiceUnavailable, "no LLM providers configured")
		return
	}

	if s.deps.Expiry != nil && s.deps.Expiry.CheckExpiry(entry, models.ChannelType(env.Channel), "dm") {
		entry, _ = s.deps.Sessions.Reset(sessionKey, now)
	}

	permit, err := s.deps.Locks.TryAcquire(sessionKey)
	if err != nil {
		writeError(w, http.StatusTooManyRequests, "session busy")
		return
	}
	defer permit.Release()

	in := orchestrator.TurnInput{
		SessionKey:  sessionKey,
		SessionID:   entry.SessionID,
		UserMessage: env.Text,
		Model:       env.Model,
		Agent:       agent,
		System:      orchestrator.BuildSystemContext(orchestrator.SystemContextInput{}),
	}

	ctx, end := s.beginTurn(r.Context(), sessionKey)
	defer end()

	run := s.startRun(sessionKey, agent)
	outcome := s.driveTurn(ctx, run.ID, in, nil)

	actions := []inboundAction{{Type: "text", Text: outcome.Text}}
	if outcome.IsError {
		actions = []inboundAction{{Type: "text", Text: "error: " + outcome.ErrorMsg}}
	}

	writeJSON(w, http.StatusOK, inboundResponse{
		SessionKey: sessionKey,
		SessionID:  entry.SessionID,
		Actions:    actions,
	})
}
