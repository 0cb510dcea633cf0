package gateway

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/relaygate/relaygate/internal/cron"
	"github.com/relaygate/relaygate/pkg/models"
)

type scheduleRequest struct {
	Name            string            `json:"name"`
	Cron            string            `json:"cron"`
	Timezone        string            `json:"timezone,omitempty"`
	Enabled         *bool             `json:"enabled,omitempty"`
	AgentID         string            `json:"agent_id"`
	PromptTemplate  string            `json:"prompt_template"`
	Sources         []string          `json:"sources,omitempty"`
	DeliveryTargets []string          `json:"delivery_targets,omitempty"`
	MissedPolicy    models.MissedPolicy `json:"missed_policy,omitempty"`
	MaxConcurrency  int               `json:"max_concurrency,omitempty"`
	MaxCatchupRuns  int               `json:"max_catchup_runs,omitempty"`
	FetchConfig     models.FetchConfig `json:"fetch_config,omitempty"`
}

var errMissingScheduleFields = errors.New("name, cron, and agent_id are required")

func (req scheduleRequest) validate() error {
	if req.Name == "" || req.Cron == "" || req.AgentID == "" {
		return errMissingScheduleFields
	}
	if err := cron.ValidateCronExpr(req.Cron); err != nil {
		return err
	}
	if req.Timezone != "" {
		if err := cron.ValidateTimezone(req.Timezone); err != nil {
			return err
		}
	}
	for _, src := range req.Sources {
		if err := cron.ValidateFetchURL(src); err != nil {
			return err
		}
	}
	return nil
}

// handleSchedulesList implements GET /v1/schedules.
func (s *Server) handleSchedulesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"schedules": s.deps.Schedules.List()})
}

// handleScheduleCreate implements POST /v1/schedules.
func (s *Server) handleScheduleCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	sched := &models.Schedule{
		Name:            req.Name,
		Cron:            req.Cron,
		Timezone:        timezone,
		Enabled:         enabled,
		AgentID:         req.AgentID,
		PromptTemplate:  req.PromptTemplate,
		Sources:         req.Sources,
		DeliveryTargets: req.DeliveryTargets,
		MissedPolicy:    req.MissedPolicy,
		MaxConcurrency:  req.MaxConcurrency,
		MaxCatchupRuns:  req.MaxCatchupRuns,
		FetchConfig:     req.FetchConfig,
	}
	sched = s.deps.Schedules.Insert(sched, time.Now())
	writeJSON(w, http.StatusCreated, sched)
}

func (s *Server) lookupSchedule(w http.ResponseWriter, r *http.Request) (*models.Schedule, bool) {
	sched, ok := s.deps.Schedules.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown schedule")
		return nil, false
	}
	return sched, true
}

// handleScheduleGet implements GET /v1/schedules/{id}.
func (s *Server) handleScheduleGet(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.lookupSchedule(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleScheduleUpdate implements PATCH /v1/schedules/{id}: every field in
// the request body is applied; zero-valued fields are left untouched
// except Enabled, which always takes the request's value when present.
func (s *Server) handleScheduleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Cron != "" {
		if err := cron.ValidateCronExpr(req.Cron); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Timezone != "" {
		if err := cron.ValidateTimezone(req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	sched, ok := s.deps.Schedules.Update(id, time.Now(), func(sc *models.Schedule) {
		if req.Name != "" {
			sc.Name = req.Name
		}
		if req.Cron != "" {
			sc.Cron = req.Cron
		}
		if req.Timezone != "" {
			sc.Timezone = req.Timezone
		}
		if req.Enabled != nil {
			sc.Enabled = *req.Enabled
		}
		if req.AgentID != "" {
			sc.AgentID = req.AgentID
		}
		if req.PromptTemplate != "" {
			sc.PromptTemplate = req.PromptTemplate
		}
		if req.Sources != nil {
			sc.Sources = req.Sources
		}
		if req.DeliveryTargets != nil {
			sc.DeliveryTargets = req.DeliveryTargets
		}
		if req.MissedPolicy != "" {
			sc.MissedPolicy = req.MissedPolicy
		}
	})
	if !ok {
		writeError(w, http.StatusNotFound, "unknown schedule")
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleScheduleDelete implements DELETE /v1/schedules/{id}.
func (s *Server) handleScheduleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Schedules.Delete(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, "unknown schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleScheduleRunNow implements POST /v1/schedules/{id}/run-now: fires
// the schedule immediately through the same spawn path the ticker uses.
func (s *Server) handleScheduleRunNow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.lookupSchedule(w, r); !ok {
		return
	}
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	if err := s.deps.Runner.RunNow(r.Context(), id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

// handleScheduleDeliveries implements GET /v1/schedules/{id}/deliveries,
// paginated with limit/offset query params.
func (s *Server) handleScheduleDeliveries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.lookupSchedule(w, r); !ok {
		return
	}
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if s.deps.Deliveries == nil {
		writeJSON(w, http.StatusOK, map[string]any{"deliveries": []models.Delivery{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": s.deps.Deliveries.List(id, limit, offset)})
}

// handleSchedulesEvents implements GET /v1/schedules/events (SSE):
// currently only the "ready" handshake event, since schedule firing is a
// background tick rather than a per-request stream — clients poll
// /v1/schedules/{id}/deliveries for outcomes instead.
func (s *Server) handleSchedulesEvents(w http.ResponseWriter, r *http.Request) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	_ = sse.send("ready", map[string]string{})
	<-r.Context().Done()
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
