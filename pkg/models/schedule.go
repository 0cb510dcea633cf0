package models

import "time"

// MissedPolicy controls how a schedule catches up on windows that elapsed
// without a run (e.g. the process was down).
type MissedPolicy string

const (
	MissedSkip     MissedPolicy = "skip"
	MissedRunOnce  MissedPolicy = "run_once"
	MissedCatchUp  MissedPolicy = "catch_up"
)

// DigestMode controls how fetched sources are summarized into a run prompt.
type DigestMode string

const (
	DigestFull        DigestMode = "full"
	DigestChangesOnly DigestMode = "changes_only"
)

// ScheduleStatus is derived, never persisted.
type ScheduleStatus string

const (
	ScheduleStatusPaused ScheduleStatus = "paused"
	ScheduleStatusError  ScheduleStatus = "error"
	ScheduleStatusActive ScheduleStatus = "active"
)

// FetchConfig controls how a schedule's sources are retrieved.
type FetchConfig struct {
	TimeoutSec int    `json:"timeout_sec,omitempty" toml:"timeout_sec,omitempty"`
	UserAgent  string `json:"user_agent,omitempty" toml:"user_agent,omitempty"`
	MaxBytes   int64  `json:"max_bytes,omitempty" toml:"max_bytes,omitempty"`
}

// SourceState tracks the last observed content hash for one schedule source,
// used to build changes-only digests.
type SourceState struct {
	URL        string    `json:"url"`
	ContentSHA string    `json:"content_sha256"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Schedule is a cron-driven job definition.
type Schedule struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	Cron               string            `json:"cron"`
	Timezone           string            `json:"timezone"`
	Enabled            bool              `json:"enabled"`
	AgentID            string            `json:"agent_id"`
	PromptTemplate     string            `json:"prompt_template"`
	Sources            []string          `json:"sources,omitempty"`
	DeliveryTargets    []string          `json:"delivery_targets,omitempty"`
	MissedPolicy       MissedPolicy      `json:"missed_policy"`
	MaxConcurrency     int               `json:"max_concurrency"`
	MaxCatchupRuns     int               `json:"max_catchup_runs"`
	TimeoutMs          *int64            `json:"timeout_ms,omitempty"`
	DigestMode         DigestMode        `json:"digest_mode,omitempty"`
	FetchConfig        FetchConfig       `json:"fetch_config"`
	SourceStates       []SourceState     `json:"source_states,omitempty"`
	LastRunID          string            `json:"last_run_id,omitempty"`
	LastRunAt          *time.Time        `json:"last_run_at,omitempty"`
	NextRunAt          *time.Time        `json:"next_run_at,omitempty"`
	LastError          string            `json:"last_error,omitempty"`
	LastErrorAt        *time.Time        `json:"last_error_at,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	CooldownUntil      *time.Time        `json:"cooldown_until,omitempty"`
	UsageTotals        TokenTotals       `json:"usage_totals"`
}

// Status derives a non-persisted status field from enabled/failure state.
func (s Schedule) Status() ScheduleStatus {
	if !s.Enabled {
		return ScheduleStatusPaused
	}
	if s.ConsecutiveFailures > 0 {
		return ScheduleStatusError
	}
	return ScheduleStatusActive
}

// Delivery is one item produced by a schedule run or ad-hoc run, kept in a
// bounded ring of at most 1000 (oldest evicted on overflow).
type Delivery struct {
	ID         string         `json:"id"`
	ScheduleID string         `json:"schedule_id,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	Title      string         `json:"title"`
	Body       string         `json:"body"`
	Sources    []string       `json:"sources,omitempty"`
	Read       bool           `json:"read"`
	Tokens     TokenTotals    `json:"tokens"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// MaxDeliveries is the bounded ring size for a schedule's delivery history.
const MaxDeliveries = 1000
