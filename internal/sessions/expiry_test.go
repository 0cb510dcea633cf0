package sessions

import (
	"testing"
	"time"

	"github.com/relaygate/relaygate/pkg/models"
)

func TestSessionExpiryNeverMode(t *testing.T) {
	expiry := NewSessionExpiry(ScopeConfig{Reset: ResetConfig{Mode: ResetModeNever}})
	session := &models.SessionEntry{UpdatedAt: time.Now().Add(-365 * 24 * time.Hour)}
	if expiry.CheckExpiry(session, models.ChannelSlack, ConvTypeDM) {
		t.Error("never mode must never reset")
	}
}

func TestSessionExpiryDailyMode(t *testing.T) {
	fixedNow := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	expiry := NewSessionExpiry(ScopeConfig{Reset: ResetConfig{Mode: ResetModeDaily, AtHour: 9}})
	expiry.SetNowFunc(func() time.Time { return fixedNow })

	cases := []struct {
		name      string
		updatedAt time.Time
		want      bool
	}{
		{"before today's boundary resets", time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC), true},
		{"after today's boundary does not reset", time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), false},
		{"yesterday resets", time.Date(2024, 1, 14, 20, 0, 0, 0, time.UTC), true},
	}
	for _, c := range cases {
		session := &models.SessionEntry{UpdatedAt: c.updatedAt}
		if got := expiry.CheckExpiry(session, models.ChannelSlack, ConvTypeDM); got != c.want {
			t.Errorf("%s: got %v want %v", c.name, got, c.want)
		}
	}
}

func TestSessionExpiryDailyModeShortCircuitsNearBoundary(t *testing.T) {
	fixedNow := time.Date(2024, 1, 15, 9, 0, 30, 0, time.UTC)
	expiry := NewSessionExpiry(ScopeConfig{Reset: ResetConfig{Mode: ResetModeDaily, AtHour: 9}})
	expiry.SetNowFunc(func() time.Time { return fixedNow })
	session := &models.SessionEntry{UpdatedAt: time.Date(2024, 1, 15, 8, 59, 0, 0, time.UTC)}
	if expiry.CheckExpiry(session, models.ChannelSlack, ConvTypeDM) {
		t.Error("gap under 60s must short-circuit to no reset")
	}
}

func TestSessionExpiryIdleMode(t *testing.T) {
	now := time.Now()
	expiry := NewSessionExpiry(ScopeConfig{Reset: ResetConfig{Mode: ResetModeIdle, IdleMinutes: 30}})
	expiry.SetNowFunc(func() time.Time { return now })

	stale := &models.SessionEntry{UpdatedAt: now.Add(-31 * time.Minute)}
	fresh := &models.SessionEntry{UpdatedAt: now.Add(-5 * time.Minute)}
	if !expiry.CheckExpiry(stale, models.ChannelSlack, ConvTypeDM) {
		t.Error("expected idle reset for stale session")
	}
	if expiry.CheckExpiry(fresh, models.ChannelSlack, ConvTypeDM) {
		t.Error("did not expect idle reset for fresh session")
	}
}

func TestSessionExpiryPerChannelWinsOverType(t *testing.T) {
	cfg := ScopeConfig{
		Reset:          ResetConfig{Mode: ResetModeNever},
		ResetByType:    map[string]ResetConfig{ConvTypeDM: {Mode: ResetModeDaily, AtHour: 0}},
		ResetByChannel: map[string]ResetConfig{"slack": {Mode: ResetModeNever}},
	}
	expiry := NewSessionExpiry(cfg)
	fixedNow := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	expiry.SetNowFunc(func() time.Time { return fixedNow })
	session := &models.SessionEntry{UpdatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if expiry.CheckExpiry(session, models.ChannelSlack, ConvTypeDM) {
		t.Error("per-channel config must win over per-type config")
	}
}
