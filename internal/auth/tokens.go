// Package auth mints and verifies agent bearer tokens. A token is 32 random
// bytes rendered as 64 lowercase hex characters; only its SHA-256 digest is
// ever persisted, so the plaintext exists exactly once: in the register
// (or rotate) response that minted it.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/okanyucel2/genesis-bigr-discovery-sub001/internal/models"
)

var (
	// ErrNoToken means the Authorization header was missing or malformed.
	ErrNoToken = errors.New("missing bearer token")
	// ErrInvalidToken means no active agent matches the token digest.
	ErrInvalidToken = errors.New("invalid or revoked token")
)

// AgentLookup is the slice of the store the verifier needs.
type AgentLookup interface {
	AgentByTokenDigest(ctx context.Context, digest string) (*models.Agent, error)
}

// MintToken returns a fresh bearer token and its storable digest.
func MintToken() (token, digest string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = hex.EncodeToString(buf)
	return token, Digest(token), nil
}

// Digest returns the hex SHA-256 of a plaintext token.
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SecretMatches compares a registration secret in constant time.
func SecretMatches(configured, presented string) bool {
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}

// Verifier resolves bearer tokens to active agents.
type Verifier struct {
	store AgentLookup
}

func NewVerifier(store AgentLookup) *Verifier {
	return &Verifier{store: store}
}

// VerifyBearer parses an Authorization header value and returns the agent
// whose token_digest matches, provided the agent is still active.
func (v *Verifier) VerifyBearer(ctx context.Context, authorization string) (*models.Agent, error) {
	token, ok := parseBearer(authorization)
	if !ok {
		return nil, ErrNoToken
	}
	agent, err := v.store.AgentByTokenDigest(ctx, Digest(token))
	if err != nil || agent == nil {
		return nil, ErrInvalidToken
	}
	if !agent.IsActive {
		return nil, ErrInvalidToken
	}
	return agent, nil
}

func parseBearer(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
