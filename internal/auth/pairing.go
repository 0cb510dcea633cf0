package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrPairingTokenInvalid is returned for any pairing token that fails
// signature verification, is expired, or carries an empty node id.
var ErrPairingTokenInvalid = errors.New("auth: invalid pairing token")

// DefaultPairingTokenTTL bounds how long an issued pairing token may be
// redeemed before a node must request a new one.
const DefaultPairingTokenTTL = 15 * time.Minute

// pairingClaims embeds the node identity and requested capability
// prefixes into a signed JWT issued by the node registry's admin
// pairing surface.
type pairingClaims struct {
	Capabilities []string `json:"capabilities,omitempty"`
	jwt.RegisteredClaims
}

// PairingIssuer signs and verifies one-time node pairing tokens. An admin
// calls Issue to hand a node operator a token out of band; the node
// presents it back during the /v1/nodes/ws handshake in place of (or in
// addition to) a pre-shared SA_NODE_TOKEN.
type PairingIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewPairingIssuer builds an issuer signing with the given HMAC secret.
func NewPairingIssuer(secret string, ttl time.Duration) *PairingIssuer {
	if ttl <= 0 {
		ttl = DefaultPairingTokenTTL
	}
	return &PairingIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a pairing token scoped to nodeID and the requested
// capability prefixes.
func (p *PairingIssuer) Issue(nodeID string, capabilities []string) (string, error) {
	if p == nil || len(p.secret) == 0 {
		return "", errors.New("auth: pairing issuer has no signing secret configured")
	}
	nodeID = strings.TrimSpace(nodeID)
	if nodeID == "" {
		return "", errors.New("auth: node id required")
	}

	now := time.Now()
	claims := pairingClaims{
		Capabilities: capabilities,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   nodeID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// PairingGrant is the verified identity and capability set carried by a
// redeemed pairing token.
type PairingGrant struct {
	NodeID       string
	Capabilities []string
}

// Verify parses and validates a pairing token, returning the node identity
// and capability prefixes it was issued for.
func (p *PairingIssuer) Verify(token string) (PairingGrant, error) {
	if p == nil || len(p.secret) == 0 {
		return PairingGrant{}, ErrPairingTokenInvalid
	}

	parsed, err := jwt.ParseWithClaims(token, &pairingClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil {
		return PairingGrant{}, ErrPairingTokenInvalid
	}

	claims, ok := parsed.Claims.(*pairingClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return PairingGrant{}, ErrPairingTokenInvalid
	}

	return PairingGrant{NodeID: claims.Subject, Capabilities: claims.Capabilities}, nil
}
