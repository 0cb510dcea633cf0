package approval

import (
	"testing"
	"time"
)

func TestInsertAndListPending(t *testing.T) {
	store := NewStore(5 * time.Minute)
	_, _, info := store.Insert("rm -rf /tmp/test", "sk_test")

	list := store.ListPending()
	if len(list) != 1 || list[0].ID != info.ID {
		t.Fatalf("expected the inserted approval to be listed, got %+v", list)
	}
}

func TestApproveResolvesChannel(t *testing.T) {
	store := NewStore(time.Minute)
	p, respond, _ := store.Insert("rm -rf /tmp/test", "sk_test")

	if !store.Approve(p.ID) {
		t.Fatal("expected Approve to find the pending approval")
	}
	decision := <-respond
	if !decision.Approved {
		t.Fatalf("expected an approved decision, got %+v", decision)
	}
	if len(store.ListPending()) != 0 {
		t.Fatal("expected the approval to be removed once resolved")
	}
}

func TestDenyResolvesChannelWithReason(t *testing.T) {
	store := NewStore(time.Minute)
	p, respond, _ := store.Insert("rm -rf /", "sk_test")

	if !store.Deny(p.ID, "too dangerous") {
		t.Fatal("expected Deny to find the pending approval")
	}
	decision := <-respond
	if decision.Approved || decision.Reason != "too dangerous" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}

func TestApproveNonexistentReturnsFalse(t *testing.T) {
	store := NewStore(time.Minute)
	if store.Approve("missing") {
		t.Fatal("expected Approve of an unknown id to report false")
	}
}

func TestDenyNonexistentReturnsFalse(t *testing.T) {
	store := NewStore(time.Minute)
	if store.Deny("missing", "") {
		t.Fatal("expected Deny of an unknown id to report false")
	}
}

func TestRemoveExpired(t *testing.T) {
	store := NewStore(time.Minute)
	p, _, _ := store.Insert("sudo reboot", "sk_test")
	store.RemoveExpired(p.ID)
	if len(store.ListPending()) != 0 {
		t.Fatal("expected the expired approval to be removed")
	}
}

func TestTimeoutReturnsConfiguredDuration(t *testing.T) {
	store := NewStore(60 * time.Second)
	if store.Timeout() != 60*time.Second {
		t.Fatalf("expected configured timeout, got %v", store.Timeout())
	}
}

func TestPolicyGatePrecedence(t *testing.T) {
	policy := Policy{
		Denylist:        []string{"rm -rf /"},
		RequireApproval: []string{"rm *", "sudo *"},
		Allowlist:       []string{"cat *"},
	}

	if requires, denied := policy.Gate("rm -rf /"); !denied || requires {
		t.Fatalf("expected denylist to win, got requires=%v denied=%v", requires, denied)
	}
	if requires, denied := policy.Gate("rm -rf /tmp"); denied || !requires {
		t.Fatalf("expected require_approval match, got requires=%v denied=%v", requires, denied)
	}
	if requires, denied := policy.Gate("cat file.txt"); denied || requires {
		t.Fatalf("expected allowlisted command to pass straight through, got requires=%v denied=%v", requires, denied)
	}
	if requires, denied := policy.Gate("ls -la"); denied || requires {
		t.Fatalf("expected an unmatched command to pass straight through, got requires=%v denied=%v", requires, denied)
	}
}
