// Package gateway wires the turn orchestrator, node router, session
// substrate, scheduler, and process manager behind one HTTP/WS surface.
// Grounded on internal/gateway's http_server.go mux-and-middleware shape
// (ServeMux + chained handlers + a ReadHeaderTimeout'd http.Server),
// rebuilt against this module's own domain types rather than a
// channel-connector surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relaygate/relaygate/internal/approval"
	"github.com/relaygate/relaygate/internal/auth"
	"github.com/relaygate/relaygate/internal/compaction"
	"github.com/relaygate/relaygate/internal/cron"
	"github.com/relaygate/relaygate/internal/nodes"
	"github.com/relaygate/relaygate/internal/orchestrator"
	"github.com/relaygate/relaygate/internal/process"
	"github.com/relaygate/relaygate/internal/providers"
	"github.com/relaygate/relaygate/internal/quota"
	"github.com/relaygate/relaygate/internal/sessions"
)

// Deps aggregates every component the gateway's HTTP surface wires
// together. cmd/relaygate constructs one of these from internal/config and
// hands it to New.
type Deps struct {
	Logger *zap.SugaredLogger

	Sessions        *sessions.Store
	Transcripts     *sessions.TranscriptStore
	TranscriptIndex *sessions.TranscriptIndex
	Identity        *sessions.IdentityResolver
	Expiry          *sessions.SessionExpiry

	ProviderRegistry *providers.Registry
	ProviderRouter   *providers.Router

	NodeRouter *nodes.Router
	NodeStore  nodes.Store
	NodeWS     *nodes.WSServer
	Pairing    *auth.PairingIssuer

	Turn  *orchestrator.Turn
	Runs  *orchestrator.RunStore
	Locks *orchestrator.SessionLocks

	Processes      *process.Manager
	Approvals      *approval.Store
	ApprovalPolicy approval.Policy
	Quota          *quota.Tracker
	Compaction     *compaction.Manager
	Summarize      compaction.Summarizer

	Schedules  *cron.ScheduleStore
	Deliveries *cron.DeliveryStore
	Runner     *cron.ScheduleRunner

	ClientAuth *auth.BearerAuthenticator
	AdminAuth  *auth.BearerAuthenticator

	DefaultAgentID string
}

// Server is the gateway's HTTP/WS surface.
type Server struct {
	deps    Deps
	mux     *http.ServeMux
	history *runEventHistory

	activeTurns sync.Map // session_key -> context.CancelFunc
	activeRuns  sync.Map // run_id -> context.CancelFunc
}

// New builds a Server and registers every route over deps. deps.Turn must
// already be wired (see BuildTurn) with its ToolCatalog/LocalTools/Approvals
// set, since the HTTP surface only drives turns — it does not construct one.
func New(deps Deps) *Server {
	s := &Server{
		deps:    deps,
		mux:     http.NewServeMux(),
		history: newRunEventHistory(500),
	}
	s.routes()
	return s
}

func (s *Server) log() *zap.SugaredLogger {
	if s.deps.Logger != nil {
		return s.deps.Logger
	}
	return zap.NewNop().Sugar()
}

func (s *Server) routes() {
	mux := s.mux

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("POST /v1/chat", s.client(http.HandlerFunc(s.handleChat)))
	mux.Handle("POST /v1/chat/stream", s.client(http.HandlerFunc(s.handleChatStream)))
	mux.Handle("POST /v1/chat/completions", s.client(http.HandlerFunc(s.handleOpenAICompletions)))
	mux.Handle("POST /v1/inbound", s.client(http.HandlerFunc(s.handleInbound)))

	mux.Handle("GET /v1/sessions", s.client(http.HandlerFunc(s.handleSessionsList)))
	mux.Handle("GET /v1/sessions/search", s.client(http.HandlerFunc(s.handleSessionsSearch)))
	mux.Handle("GET /v1/sessions/{key}", s.client(http.HandlerFunc(s.handleSessionGet)))
	mux.Handle("GET /v1/sessions/{key}/transcript", s.client(http.HandlerFunc(s.handleSessionTranscript)))
	mux.Handle("POST /v1/sessions/{key}/reset", s.client(http.HandlerFunc(s.handleSessionReset)))
	mux.Handle("POST /v1/sessions/{key}/stop", s.client(http.HandlerFunc(s.handleSessionStop)))
	mux.Handle("POST /v1/sessions/{key}/compact", s.client(http.HandlerFunc(s.handleSessionCompact)))

	mux.Handle("POST /v1/tasks", s.client(http.HandlerFunc(s.handleTaskCreate)))
	mux.Handle("GET /v1/tasks/{id}", s.client(http.HandlerFunc(s.handleTaskGet)))
	mux.Handle("DELETE /v1/tasks/{id}", s.client(http.HandlerFunc(s.handleTaskDelete)))
	mux.Handle("GET /v1/tasks/{id}/events", s.client(http.HandlerFunc(s.handleTaskEvents)))

	mux.Handle("GET /v1/runs", s.client(http.HandlerFunc(s.handleRunsList)))
	mux.Handle("GET /v1/runs/{id}", s.client(http.HandlerFunc(s.handleRunGet)))
	mux.Handle("GET /v1/runs/{id}/nodes", s.client(http.HandlerFunc(s.handleRunNodes)))
	mux.Handle("GET /v1/runs/{id}/events", s.client(http.HandlerFunc(s.handleRunEvents)))

	mux.Handle("GET /v1/schedules", s.client(http.HandlerFunc(s.handleSchedulesList)))
	mux.Handle("POST /v1/schedules", s.client(http.HandlerFunc(s.handleScheduleCreate)))
	mux.Handle("GET /v1/schedules/{id}", s.client(http.HandlerFunc(s.handleScheduleGet)))
	mux.Handle("PATCH /v1/schedules/{id}", s.client(http.HandlerFunc(s.handleScheduleUpdate)))
	mux.Handle("DELETE /v1/schedules/{id}", s.client(http.HandlerFunc(s.handleScheduleDelete)))
	mux.Handle("POST /v1/schedules/{id}/run-now", s.client(http.HandlerFunc(s.handleScheduleRunNow)))
	mux.Handle("GET /v1/schedules/{id}/deliveries", s.client(http.HandlerFunc(s.handleScheduleDeliveries)))
	mux.Handle("GET /v1/schedules/events", s.client(http.HandlerFunc(s.handleSchedulesEvents)))

	mux.Handle("GET /v1/nodes", s.admin(http.HandlerFunc(s.handleNodesList)))
	mux.Handle("POST /v1/nodes/pair", s.admin(http.HandlerFunc(s.handleNodePair)))
	mux.Handle("DELETE /v1/nodes/{id}", s.admin(http.HandlerFunc(s.handleNodeRevoke)))
	mux.Handle("GET /v1/nodes/ws", http.HandlerFunc(s.handleNodeWS))

	mux.Handle("GET /v1/approvals", s.admin(http.HandlerFunc(s.handleApprovalsList)))
	mux.Handle("POST /v1/approvals/{id}/approve", s.admin(http.HandlerFunc(s.handleApprovalApprove)))
	mux.Handle("POST /v1/approvals/{id}/deny", s.admin(http.HandlerFunc(s.handleApprovalDeny)))

	mux.Handle("GET /v1/quota", s.admin(http.HandlerFunc(s.handleQuotaSnapshot)))
}

func (s *Server) client(next http.Handler) http.Handler {
	return withLogging(s.log(), requireBearer(s.deps.ClientAuth, next))
}

func (s *Server) admin(next http.Handler) http.Handler {
	return withLogging(s.log(), requireBearer(s.deps.AdminAuth, next))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// beginTurn derives a cancelable context for a turn on sessionKey and
// registers its cancel func so a concurrent /stop call can interrupt it.
// The returned end func must be deferred by the caller: it both releases
// the registry entry and cancels the context as a safety net.
func (s *Server) beginTurn(ctx context.Context, sessionKey string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.activeTurns.Store(sessionKey, cancel)
	return ctx, func() {
		s.activeTurns.Delete(sessionKey)
		cancel()
	}
}

// stopTurn cancels the in-flight turn for sessionKey, if any. Returns false
// if no turn is currently running on that session.
func (s *Server) stopTurn(sessionKey string) bool {
	v, ok := s.activeTurns.Load(sessionKey)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// beginTask is beginTurn's counterpart for background runs, keyed by run
// id rather than session_key so DELETE /v1/tasks/{id} can cancel the exact
// run a caller asked about even if other tasks share its session.
func (s *Server) beginTask(ctx context.Context, runID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	s.activeRuns.Store(runID, cancel)
	return ctx, func() {
		s.activeRuns.Delete(runID)
		cancel()
	}
}

// stopTask cancels the background run runID, if still active.
func (s *Server) stopTask(runID string) bool {
	v, ok := s.activeRuns.Load(runID)
	if !ok {
		return false
	}
	v.(context.CancelFunc)()
	return true
}

// Handler exposes the built mux, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Run starts the HTTP listener at addr and blocks until ctx is canceled or
// the listener fails, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- err
			return
		}
		s.log().Infow("gateway listening", "addr", addr)
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("gateway: serve %s: %w", addr, err)
		}
		return nil
	}
}
