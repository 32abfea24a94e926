package auth

import (
	"strings"
	"testing"
)

func TestTokenGenerator_GenerateToken(t *testing.T) {
	tg := NewTokenGenerator()

	token, tokenHash, tokenPrefix, err := tg.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	if !strings.HasPrefix(token, TokenPrefix) {
		t.Errorf("Token should start with %q, got %q", TokenPrefix, token)
	}

	// SHA256 = 64 hex chars
	if len(tokenHash) != 64 {
		t.Errorf("TokenHash length = %d, want 64", len(tokenHash))
	}
	if tokenHash != tg.HashToken(token) {
		t.Error("TokenHash should be the hash of the token")
	}

	if len(tokenPrefix) != len(TokenPrefix)+8 || !strings.HasPrefix(token, tokenPrefix) {
		t.Errorf("TokenPrefix = %q, want the first 8 characters after %q", tokenPrefix, TokenPrefix)
	}

	if err := tg.ValidateTokenFormat(token); err != nil {
		t.Errorf("generated token failed validation: %v", err)
	}
}

func TestTokenGenerator_GenerateToken_Uniqueness(t *testing.T) {
	tg := NewTokenGenerator()

	tokens := make(map[string]bool)
	hashes := make(map[string]bool)

	for i := 0; i < 100; i++ {
		token, tokenHash, _, err := tg.GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}

		if tokens[token] {
			t.Errorf("Duplicate token generated: %s", token)
		}
		if hashes[tokenHash] {
			t.Errorf("Duplicate token hash generated: %s", tokenHash)
		}

		tokens[token] = true
		hashes[tokenHash] = true
	}
}

func TestTokenGenerator_HashToken(t *testing.T) {
	tg := NewTokenGenerator()

	token := "alsh_test123456789"
	hash1 := tg.HashToken(token)
	hash2 := tg.HashToken(token)

	if hash1 != hash2 {
		t.Error("Same token should produce same hash")
	}
	if len(hash1) != 64 {
		t.Errorf("Hash length = %d, want 64", len(hash1))
	}
	if hash1 == tg.HashToken("alsh_different") {
		t.Error("Different tokens should produce different hashes")
	}
}

func TestTokenGenerator_ValidateTokenFormat(t *testing.T) {
	tg := NewTokenGenerator()
	valid, _, _, err := tg.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{
			name:    "valid token",
			token:   valid,
			wantErr: false,
		},
		{
			name:    "missing prefix",
			token:   strings.TrimPrefix(valid, TokenPrefix),
			wantErr: true,
		},
		{
			name:    "wrong prefix",
			token:   "other_" + strings.TrimPrefix(valid, TokenPrefix),
			wantErr: true,
		},
		{
			name:    "empty token part",
			token:   TokenPrefix,
			wantErr: true,
		},
		{
			name:    "invalid base64",
			token:   TokenPrefix + "!!!invalid!!!",
			wantErr: true,
		},
		{
			name:    "too few random bytes",
			token:   TokenPrefix + "abc123def456",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tg.ValidateTokenFormat(tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTokenFormat() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthContext_PrincipalID(t *testing.T) {
	var nilCtx *AuthContext
	if got := nilCtx.PrincipalID(); got != "" {
		t.Errorf("nil AuthContext PrincipalID() = %q, want empty", got)
	}
	if got := (&AuthContext{}).PrincipalID(); got != "" {
		t.Errorf("empty AuthContext PrincipalID() = %q, want empty", got)
	}
	ac := &AuthContext{Principal: &Principal{ID: "p-1", Status: StatusActive}}
	if got := ac.PrincipalID(); got != "p-1" {
		t.Errorf("PrincipalID() = %q, want %q", got, "p-1")
	}
}

func TestPrincipal_IsActive(t *testing.T) {
	if !(&Principal{Status: StatusActive}).IsActive() {
		t.Error("active principal should be active")
	}
	if (&Principal{Status: StatusSuspended}).IsActive() {
		t.Error("suspended principal should not be active")
	}
}
