package auth

import (
	"testing"
	"time"
)

func TestPairingIssuerIssueAndVerify(t *testing.T) {
	issuer := NewPairingIssuer("secret", time.Hour)

	token, err := issuer.Issue("node-1", []string{"fs.", "exec"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	grant, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if grant.NodeID != "node-1" {
		t.Fatalf("expected node-1, got %q", grant.NodeID)
	}
	if len(grant.Capabilities) != 2 || grant.Capabilities[0] != "fs." {
		t.Fatalf("unexpected capabilities: %+v", grant.Capabilities)
	}
}

func TestPairingIssuerRejectsWrongSecret(t *testing.T) {
	issuer := NewPairingIssuer("secret-a", time.Hour)
	token, err := issuer.Issue("node-1", nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other := NewPairingIssuer("secret-b", time.Hour)
	if _, err := other.Verify(token); err != ErrPairingTokenInvalid {
		t.Fatalf("expected ErrPairingTokenInvalid, got %v", err)
	}
}

func TestPairingIssuerRejectsEmptyNodeID(t *testing.T) {
	issuer := NewPairingIssuer("secret", time.Hour)
	if _, err := issuer.Issue("", nil); err == nil {
		t.Fatal("expected error for empty node id")
	}
}

func TestPairingIssuerRejectsGarbageToken(t *testing.T) {
	issuer := NewPairingIssuer("secret", time.Hour)
	if _, err := issuer.Verify("not-a-jwt"); err != ErrPairingTokenInvalid {
		t.Fatalf("expected ErrPairingTokenInvalid, got %v", err)
	}
}
