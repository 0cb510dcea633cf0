package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/pkg/models"
)

// scheduleDocument is the on-disk shape of schedules.json.
type scheduleDocument struct {
	Version   int                         `json:"version"`
	Schedules map[string]*models.Schedule `json:"schedules"`
}

// ScheduleStore is the in-memory, periodically-flushed schedule registry
// keyed by schedule id, backed by a single schedules.json document.
// Grounded on internal/sessions.Store's load/flush/dirty-flag shape and on
// original_source's ScheduleStore (schedules/store.rs) for the mutation
// surface (record_run/record_success/record_failure/due_schedules/
// update_source_states).
type ScheduleStore struct {
	mu        sync.RWMutex
	path      string
	schedules map[string]*models.Schedule
	dirty     bool

	flushInterval time.Duration
	stopCh        chan struct{}
	stopped       chan struct{}
}

// NewScheduleStore loads schedules.json from dir, if present, and starts
// the periodic flush loop.
func NewScheduleStore(dir string) (*ScheduleStore, error) {
	s := &ScheduleStore{
		path:          filepath.Join(dir, "schedules.json"),
		schedules:     make(map[string]*models.Schedule),
		flushInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	go s.flushLoop()
	return s, nil
}

func (s *ScheduleStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc scheduleDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("cron: parse %s: %w", s.path, err)
	}
	if doc.Schedules != nil {
		s.schedules = doc.Schedules
	}
	return nil
}

func (s *ScheduleStore) flushLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.Flush()
		case <-s.stopCh:
			_ = s.Flush()
			return
		}
	}
}

// Close stops the flush loop after a final flush.
func (s *ScheduleStore) Close() {
	close(s.stopCh)
	<-s.stopped
}

// Flush persists the schedule table to disk if dirty.
func (s *ScheduleStore) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	doc := scheduleDocument{Version: 1, Schedules: make(map[string]*models.Schedule, len(s.schedules))}
	for k, v := range s.schedules {
		cp := *v
		doc.Schedules[k] = &cp
	}
	s.dirty = false
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Insert stores a new schedule, computing its initial next_run_at if
// enabled.
func (s *ScheduleStore) Insert(sched *models.Schedule, now time.Time) *models.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sched.ID == "" {
		sched.ID = uuid.NewString()
	}
	if sched.Enabled {
		if next, ok, err := NextTZ(sched.Cron, now, ParseTZ(sched.Timezone)); err == nil && ok {
			sched.NextRunAt = &next
		}
	}
	s.schedules[sched.ID] = sched
	s.dirty = true
	return sched
}

// Get returns the schedule for id.
func (s *ScheduleStore) Get(id string) (*models.Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	return sched, ok
}

// List returns all schedules.
func (s *ScheduleStore) List() []*models.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a schedule, reporting whether it existed.
func (s *ScheduleStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return false
	}
	delete(s.schedules, id)
	s.dirty = true
	return true
}

// Update mutates the schedule for id under the store's lock.
func (s *ScheduleStore) Update(id string, now time.Time, f func(*models.Schedule)) (*models.Schedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, false
	}
	f(sched)
	s.dirty = true
	return sched, true
}

// DueSchedules returns enabled schedules whose next_run_at has arrived and
// whose cooldown, if any, has elapsed.
func (s *ScheduleStore) DueSchedules(now time.Time) []*models.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*models.Schedule
	for _, sched := range s.schedules {
		if !sched.Enabled {
			continue
		}
		if sched.NextRunAt == nil || sched.NextRunAt.After(now) {
			continue
		}
		if sched.CooldownUntil != nil && sched.CooldownUntil.After(now) {
			continue
		}
		due = append(due, sched)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due
}

// RecordRunStart stamps last_run_id/last_run_at and advances next_run_at.
func (s *ScheduleStore) RecordRunStart(id, runID string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return
	}
	sched.LastRunID = runID
	sched.LastRunAt = &now
	if next, ok, err := NextTZ(sched.Cron, now, ParseTZ(sched.Timezone)); err == nil && ok {
		sched.NextRunAt = &next
	}
	s.dirty = true
}

// AdvanceNextRun advances next_run_at without recording a run, used when a
// missed-policy evaluation decides to fire zero runs this tick.
func (s *ScheduleStore) AdvanceNextRun(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return
	}
	if next, ok, err := NextTZ(sched.Cron, now, ParseTZ(sched.Timezone)); err == nil && ok {
		sched.NextRunAt = &next
	}
	s.dirty = true
}

// RecordSuccess clears failure tracking and cooldown.
func (s *ScheduleStore) RecordSuccess(id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return
	}
	sched.ConsecutiveFailures = 0
	sched.LastError = ""
	sched.LastErrorAt = nil
	sched.CooldownUntil = nil
	s.dirty = true
}

// RecordFailure increments the failure counter, stores the error, and sets
// an exponential-backoff cooldown (capped at 24h).
func (s *ScheduleStore) RecordFailure(id, errMsg string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return
	}
	sched.ConsecutiveFailures++
	sched.LastError = errMsg
	sched.LastErrorAt = &now
	cooldown := now.Add(time.Duration(CooldownMinutes(sched.ConsecutiveFailures)) * time.Minute)
	sched.CooldownUntil = &cooldown
	s.dirty = true
}

// AddUsage accumulates token usage from a completed scheduled run.
func (s *ScheduleStore) AddUsage(id string, input, output int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return
	}
	sched.UsageTotals.Add(input, output)
	s.dirty = true
}

// UpdateSourceStates replaces the per-source change-detection state after a
// digest fetch.
func (s *ScheduleStore) UpdateSourceStates(id string, states []models.SourceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[id]
	if !ok {
		return
	}
	sched.SourceStates = states
	s.dirty = true
}
