package httpapi

import (
	"errors"
	"testing"
	"time"
)

// TestJWTAuth tests basic token generation and validation
func TestJWTAuth(t *testing.T) {
	auth := NewJWTAuth("test-secret", 0)

	token, expiresAt, err := auth.GenerateToken("test-client", false)
	if err != nil {
		t.Fatalf("Expected no error generating token, got %v", err)
	}
	if token == "" {
		t.Error("Expected non-empty token")
	}
	if d := time.Until(expiresAt); d < 23*time.Hour || d > DefaultTokenTTL {
		t.Errorf("Expected expiry about %v from now, got %v", DefaultTokenTTL, d)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Expected no error validating token, got %v", err)
	}
	if claims.ClientID != "test-client" {
		t.Errorf("Expected ClientID 'test-client', got '%s'", claims.ClientID)
	}
	if claims.IsAdmin {
		t.Error("Expected IsAdmin to be false")
	}
	if claims.Issuer != tokenIssuer {
		t.Errorf("Expected issuer %q, got %q", tokenIssuer, claims.Issuer)
	}

	// Bearer prefix is accepted
	if _, err := auth.ValidateToken("Bearer " + token); err != nil {
		t.Errorf("Expected Bearer token to validate, got %v", err)
	}
}

func TestJWTAuth_AdminClaim(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	token, _, err := auth.GenerateToken("admin", true)
	if err != nil {
		t.Fatalf("Expected no error generating admin token, got %v", err)
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		t.Fatalf("Expected no error validating admin token, got %v", err)
	}
	if !claims.IsAdmin {
		t.Error("Expected IsAdmin to be true for admin token")
	}
}

func TestJWTAuth_Rejections(t *testing.T) {
	auth := NewJWTAuth("test-secret", time.Hour)

	t.Run("empty_client_id", func(t *testing.T) {
		if _, _, err := auth.GenerateToken("", false); !errors.Is(err, ErrEmptyClientID) {
			t.Errorf("Expected ErrEmptyClientID, got %v", err)
		}
	})

	t.Run("empty_token", func(t *testing.T) {
		if _, err := auth.ValidateToken(""); !errors.Is(err, ErrEmptyToken) {
			t.Errorf("Expected ErrEmptyToken, got %v", err)
		}
	})

	t.Run("garbage_token", func(t *testing.T) {
		if _, err := auth.ValidateToken("invalid-token"); err == nil {
			t.Error("Expected error for invalid token")
		}
	})

	t.Run("wrong_secret", func(t *testing.T) {
		other := NewJWTAuth("other-secret", time.Hour)
		token, _, err := other.GenerateToken("client", false)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for token signed with another secret")
		}
	})

	t.Run("expired_token", func(t *testing.T) {
		past := NewJWTAuth("test-secret", time.Minute)
		past.now = func() time.Time { return time.Now().Add(-time.Hour) }
		token, _, err := past.GenerateToken("client", false)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := auth.ValidateToken(token); err == nil {
			t.Error("Expected error for expired token")
		}
	})
}
