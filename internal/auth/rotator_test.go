package auth

import (
	"strings"
	"testing"
	"time"
)

func TestRotatorSingleKeyAlwaysReturnsSame(t *testing.T) {
	r, err := NewRotatorWithCooldown([]string{"key-a"}, time.Minute)
	if err != nil {
		t.Fatalf("NewRotatorWithCooldown: %v", err)
	}
	e1 := r.Next()
	e2 := r.Next()
	if e1.Key != "key-a" || e2.Key != "key-a" || e1.Index != 0 {
		t.Fatalf("unexpected entries: %+v %+v", e1, e2)
	}
}

func TestRotatorRoundRobinCyclesThroughKeys(t *testing.T) {
	r, err := NewRotatorWithCooldown([]string{"a", "b", "c"}, time.Minute)
	if err != nil {
		t.Fatalf("NewRotatorWithCooldown: %v", err)
	}
	var seen []string
	for i := 0; i < 6; i++ {
		seen = append(seen, r.Next().Key)
	}
	want := "a,b,c,a,b,c"
	if strings.Join(seen, ",") != want {
		t.Fatalf("got %v want %s", seen, want)
	}
}

func TestRotatorMarkFailedSkipsKey(t *testing.T) {
	r, err := NewRotatorWithCooldown([]string{"a", "b", "c"}, time.Minute)
	if err != nil {
		t.Fatalf("NewRotatorWithCooldown: %v", err)
	}

	if e := r.Next(); e.Key != "a" {
		t.Fatalf("expected a, got %q", e.Key)
	}
	r.MarkFailed(1) // "b"

	if e := r.Next(); e.Key != "c" {
		t.Fatalf("expected c (b in cooldown), got %q", e.Key)
	}
	if e := r.Next(); e.Key != "c" {
		t.Fatalf("expected c, got %q", e.Key)
	}
	if e := r.Next(); e.Key != "a" {
		t.Fatalf("expected a, got %q", e.Key)
	}
	if e := r.Next(); e.Key != "c" {
		t.Fatalf("expected c (b still in cooldown), got %q", e.Key)
	}
}

func TestRotatorAllFailedReturnsLeastRecentlyFailed(t *testing.T) {
	r, err := NewRotatorWithCooldown([]string{"a", "b"}, time.Minute)
	if err != nil {
		t.Fatalf("NewRotatorWithCooldown: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.setNowFunc(func() time.Time { return base })
	r.MarkFailed(0)
	r.setNowFunc(func() time.Time { return base.Add(10 * time.Millisecond) })
	r.MarkFailed(1)
	r.setNowFunc(func() time.Time { return base.Add(20 * time.Millisecond) })

	if e := r.Next(); e.Key != "a" {
		t.Fatalf("expected a (failed longest ago), got %q", e.Key)
	}
}

func TestRotatorExpiredCooldownKeyIsAvailable(t *testing.T) {
	r, err := NewRotatorWithCooldown([]string{"a", "b"}, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewRotatorWithCooldown: %v", err)
	}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.setNowFunc(func() time.Time { return base })
	r.MarkFailed(0)
	r.setNowFunc(func() time.Time { return base.Add(100 * time.Millisecond) })

	if e := r.Next(); e.Key != "a" {
		t.Fatalf("expected a to be available again after cooldown, got %q", e.Key)
	}
}

func TestNewRotatorEmptyKeysReturnsError(t *testing.T) {
	if _, err := NewRotator(nil); err != ErrNoKeys {
		t.Fatalf("expected ErrNoKeys, got %v", err)
	}
}

func TestRotatorStringDoesNotLeakKeys(t *testing.T) {
	r, err := NewRotatorWithCooldown([]string{"secret-key"}, time.Minute)
	if err != nil {
		t.Fatalf("NewRotatorWithCooldown: %v", err)
	}
	s := r.String()
	if strings.Contains(s, "secret-key") {
		t.Fatalf("String() leaked key value: %s", s)
	}
	if !strings.Contains(s, "keys=1") {
		t.Fatalf("expected key count in String(), got %s", s)
	}
}
