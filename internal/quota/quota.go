// Package quota enforces per-agent UTC-daily token and cost caps.
// Grounded on original_source's crates/gateway/src/runtime/quota.rs:
// an in-memory, lock-protected tracker that auto-rolls its counters when the
// UTC date changes and lets per-agent overrides shadow the configured
// defaults.
package quota

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// AgentQuota overrides the default daily limits for a single agent id. A nil
// field means "fall back to the default".
type AgentQuota struct {
	DailyTokens  *int64
	DailyCostUSD *float64
}

// Config is the quota layer's static configuration: defaults plus per-agent
// overrides.
type Config struct {
	DefaultDailyTokens  *int64
	DefaultDailyCostUSD *float64
	PerAgent            map[string]AgentQuota
}

// defaultAgentKey is used when a caller passes no agent id.
const defaultAgentKey = "default"

// Exceeded reports which limit was hit and by how much.
type Exceeded struct {
	Kind  string // "tokens" or "cost"
	Used  float64
	Limit float64
}

func (e *Exceeded) Error() string {
	return fmt.Sprintf("quota exceeded: %s used %.2f of limit %.2f", e.Kind, e.Used, e.Limit)
}

// Status is a snapshot of one agent's usage and configured limits.
type Status struct {
	AgentID      string
	Date         string
	TokensUsed   int64
	TokensLimit  *int64
	CostUsedUSD  float64
	CostLimitUSD *float64
}

type dailyUsage struct {
	date    string
	tokens  int64
	costUSD float64
}

// Tracker is the in-memory daily quota tracker. Thread-safe; auto-resets a
// per-agent bucket the first time it's touched on a new UTC day.
type Tracker struct {
	mu     sync.RWMutex
	config Config
	usage  map[string]*dailyUsage
	now    func() time.Time
}

// New builds a Tracker over the given config.
func New(config Config) *Tracker {
	return &Tracker{
		config: config,
		usage:  make(map[string]*dailyUsage),
		now:    time.Now,
	}
}

func today(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

func agentKey(agentID string) string {
	if agentID == "" {
		return defaultAgentKey
	}
	return agentID
}

// CheckQuota reports whether agentID is still within its daily limits. No
// usage recorded today (or no limits configured) always passes.
func (t *Tracker) CheckQuota(agentID string) error {
	key := agentKey(agentID)
	day := today(t.now())

	t.mu.RLock()
	entry, ok := t.usage[key]
	t.mu.RUnlock()
	if !ok || entry.date != day {
		return nil
	}

	tokenLimit, costLimit := t.resolveLimits(key)
	if tokenLimit != nil && entry.tokens >= *tokenLimit {
		return &Exceeded{Kind: "tokens", Used: float64(entry.tokens), Limit: float64(*tokenLimit)}
	}
	if costLimit != nil && entry.costUSD >= *costLimit {
		return &Exceeded{Kind: "cost", Used: entry.costUSD, Limit: *costLimit}
	}
	return nil
}

// RecordUsage adds tokens/cost to agentID's bucket for today, rolling the
// bucket over first if the UTC date has changed since it was last touched.
func (t *Tracker) RecordUsage(agentID string, tokens int64, costUSD float64) {
	key := agentKey(agentID)
	day := today(t.now())

	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.usage[key]
	if !ok {
		entry = &dailyUsage{date: day}
		t.usage[key] = entry
	}
	if entry.date != day {
		entry.date = day
		entry.tokens = 0
		entry.costUSD = 0
	}
	entry.tokens += tokens
	entry.costUSD += costUSD
}

// Snapshot returns every agent with usage today or a configured override,
// sorted by agent id.
func (t *Tracker) Snapshot() []Status {
	day := today(t.now())

	t.mu.RLock()
	defer t.mu.RUnlock()

	emitted := make(map[string]bool)
	result := make([]Status, 0, len(t.usage)+len(t.config.PerAgent)+1)

	for key, entry := range t.usage {
		if entry.date != day {
			continue
		}
		tokenLimit, costLimit := t.resolveLimits(key)
		result = append(result, Status{
			AgentID: key, Date: day,
			TokensUsed: entry.tokens, TokensLimit: tokenLimit,
			CostUsedUSD: entry.costUSD, CostLimitUSD: costLimit,
		})
		emitted[key] = true
	}

	for key := range t.config.PerAgent {
		if emitted[key] {
			continue
		}
		tokenLimit, costLimit := t.resolveLimits(key)
		result = append(result, Status{AgentID: key, Date: day, TokensLimit: tokenLimit, CostLimitUSD: costLimit})
		emitted[key] = true
	}

	if !emitted[defaultAgentKey] && (t.config.DefaultDailyTokens != nil || t.config.DefaultDailyCostUSD != nil) {
		result = append(result, Status{
			AgentID: defaultAgentKey, Date: day,
			TokensLimit: t.config.DefaultDailyTokens, CostLimitUSD: t.config.DefaultDailyCostUSD,
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].AgentID < result[j].AgentID })
	return result
}

func (t *Tracker) resolveLimits(key string) (*int64, *float64) {
	if override, ok := t.config.PerAgent[key]; ok {
		tokens := override.DailyTokens
		if tokens == nil {
			tokens = t.config.DefaultDailyTokens
		}
		cost := override.DailyCostUSD
		if cost == nil {
			cost = t.config.DefaultDailyCostUSD
		}
		return tokens, cost
	}
	return t.config.DefaultDailyTokens, t.config.DefaultDailyCostUSD
}
