package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// TokenPrefix marks a bearer value as a portal session token.
	TokenPrefix = "alsh_"
	// TokenLength is the count of random bytes behind each token.
	TokenLength = 32

	displayChars = 8
)

var tokenEncoding = base64.RawURLEncoding

// TokenGenerator mints opaque session tokens. Only the SHA-256 digest of a
// token is ever persisted; the plaintext goes back to the caller once.
type TokenGenerator struct{}

func NewTokenGenerator() *TokenGenerator {
	return &TokenGenerator{}
}

// GenerateToken returns the plaintext token, its storage digest, and a
// short display prefix safe to show in listings and logs.
func (tg *TokenGenerator) GenerateToken() (token, digest, display string, err error) {
	raw := make([]byte, TokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("read session entropy: %w", err)
	}

	body := tokenEncoding.EncodeToString(raw)
	token = TokenPrefix + body
	return token, tg.HashToken(token), TokenPrefix + body[:displayChars], nil
}

// HashToken is the lookup key for a session in its store.
func (tg *TokenGenerator) HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// ValidateTokenFormat rejects values that could not have come from
// GenerateToken, so malformed bearers never reach the session store.
func (tg *TokenGenerator) ValidateTokenFormat(token string) error {
	body, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return fmt.Errorf("token must start with %q", TokenPrefix)
	}
	if body == "" {
		return errors.New("token has no body")
	}
	raw, err := tokenEncoding.DecodeString(body)
	if err != nil {
		return fmt.Errorf("token body is not base64url: %w", err)
	}
	if len(raw) != TokenLength {
		return fmt.Errorf("token carries %d random bytes, want %d", len(raw), TokenLength)
	}
	return nil
}
