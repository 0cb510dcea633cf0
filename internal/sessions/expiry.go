package sessions

import (
	"strings"
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

// ResetMode constants for session expiry.
const (
	ResetModeNever     = "never"
	ResetModeDaily     = "daily"
	ResetModeIdle      = "idle"
	ResetModeDailyIdle = "daily+idle"
)

// ConversationType constants for reset configuration.
const (
	ConvTypeDM     = "dm"
	ConvTypeGroup  = "group"
	ConvTypeThread = "thread"
)

// minResetGap short-circuits daily reset evaluation when the boundary was
// crossed less than this long ago, to avoid reset races on clock skew.
const minResetGap = 60 * time.Second

// ResetConfig controls when sessions are automatically reset.
type ResetConfig struct {
	Mode        string
	AtHour      int
	IdleMinutes int
}

// ScopeConfig holds the reset-policy fallback chain: global -> per-type ->
// per-channel, with per-channel winning.
type ScopeConfig struct {
	Reset          ResetConfig
	ResetByType    map[string]ResetConfig
	ResetByChannel map[string]ResetConfig
}

// SessionExpiry checks whether sessions should be reset based on configuration.
type SessionExpiry struct {
	cfg      ScopeConfig
	nowFunc  func() time.Time
	location *time.Location
}

// NewSessionExpiry creates a new SessionExpiry checker evaluating daily
// boundaries in UTC.
func NewSessionExpiry(cfg ScopeConfig) *SessionExpiry {
	return &SessionExpiry{cfg: cfg, nowFunc: time.Now, location: time.UTC}
}

// SetNowFunc sets a custom time function for testing.
func (e *SessionExpiry) SetNowFunc(fn func() time.Time) { e.nowFunc = fn }

// CheckExpiry returns true if the session should be reset, applying the
// channel -> type -> global fallback order (per-channel wins).
func (e *SessionExpiry) CheckExpiry(session *models.SessionEntry, channel models.ChannelType, convType string) bool {
	if session == nil {
		return false
	}
	return e.checkResetConfig(session, e.getResetConfig(channel, convType))
}

func (e *SessionExpiry) getResetConfig(channel models.ChannelType, convType string) ResetConfig {
	if e.cfg.ResetByChannel != nil {
		if cfg, ok := e.cfg.ResetByChannel[string(channel)]; ok {
			return cfg
		}
	}
	if e.cfg.ResetByType != nil {
		if cfg, ok := e.cfg.ResetByType[convType]; ok {
			return cfg
		}
	}
	return e.cfg.Reset
}

func (e *SessionExpiry) checkResetConfig(session *models.SessionEntry, cfg ResetConfig) bool {
	now := e.nowFunc()
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case ResetModeNever, "":
		return false
	case ResetModeDaily:
		return e.checkDailyReset(session, cfg.AtHour, now)
	case ResetModeIdle:
		return e.checkIdleReset(session, cfg.IdleMinutes, now)
	case ResetModeDailyIdle:
		return e.checkDailyReset(session, cfg.AtHour, now) || e.checkIdleReset(session, cfg.IdleMinutes, now)
	default:
		return false
	}
}

// checkDailyReset resets iff the last activity occurred strictly before the
// most recent HH:00 boundary and now is at or after it. A boundary crossed
// less than minResetGap ago short-circuits to "no reset".
func (e *SessionExpiry) checkDailyReset(session *models.SessionEntry, atHour int, now time.Time) bool {
	if atHour < 0 || atHour > 23 {
		atHour = 0
	}
	lastActivity := session.UpdatedAt
	if lastActivity.IsZero() {
		lastActivity = session.CreatedAt
	}
	if lastActivity.IsZero() {
		return false
	}

	nowInLoc := now.In(e.location)
	lastInLoc := lastActivity.In(e.location)

	boundary := time.Date(nowInLoc.Year(), nowInLoc.Month(), nowInLoc.Day(), atHour, 0, 0, 0, e.location)
	if nowInLoc.Before(boundary) {
		boundary = boundary.AddDate(0, 0, -1)
	}

	if nowInLoc.Sub(boundary) < minResetGap {
		return false
	}

	return lastInLoc.Before(boundary)
}

func (e *SessionExpiry) checkIdleReset(session *models.SessionEntry, idleMinutes int, now time.Time) bool {
	if idleMinutes <= 0 {
		return false
	}
	lastActivity := session.UpdatedAt
	if lastActivity.IsZero() {
		lastActivity = session.CreatedAt
	}
	if lastActivity.IsZero() {
		return false
	}
	return now.Sub(lastActivity) >= time.Duration(idleMinutes)*time.Minute
}

// GetNextResetTime returns the next scheduled daily reset time, or the zero
// time if the effective mode has no daily component.
func (e *SessionExpiry) GetNextResetTime(channel models.ChannelType, convType string) time.Time {
	resetCfg := e.getResetConfig(channel, convType)
	mode := strings.ToLower(strings.TrimSpace(resetCfg.Mode))
	if mode != ResetModeDaily && mode != ResetModeDailyIdle {
		return time.Time{}
	}

	now := e.nowFunc().In(e.location)
	atHour := resetCfg.AtHour
	if atHour < 0 || atHour > 23 {
		atHour = 0
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), atHour, 0, 0, 0, e.location)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// ShouldResetSession checks a session against the default reset config.
func ShouldResetSession(session *models.SessionEntry, cfg ScopeConfig) bool {
	return NewSessionExpiry(cfg).CheckExpiry(session, session.Origin.Channel, ConvTypeDM)
}

// ShouldResetSessionWithType checks a session with an explicit conversation type.
func ShouldResetSessionWithType(session *models.SessionEntry, cfg ScopeConfig, convType string) bool {
	return NewSessionExpiry(cfg).CheckExpiry(session, session.Origin.Channel, convType)
}
