package transport

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	nonceSize = 32
	// challengeTTL is how long a signed challenge response stays valid
	challengeTTL = 30 * time.Second
	// clockLeeway tolerates clock drift between the two nodes
	clockLeeway = time.Minute
)

// challengeClaims are the claims of a challenge response token
type challengeClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

func newNonce() ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return nonce, nil
}

// signChallenge answers a server challenge with an HS256 token keyed by the preshared key
func signChallenge(presharedKey string, nonce []byte) (string, error) {
	now := time.Now()
	claims := challengeClaims{
		Nonce: base64.RawURLEncoding.EncodeToString(nonce),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(challengeTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(presharedKey))
	if err != nil {
		return "", fmt.Errorf("sign challenge: %w", err)
	}
	return signed, nil
}

// verifyChallenge checks that token was signed with presharedKey for nonce
func verifyChallenge(presharedKey string, nonce []byte, tokenString string) error {
	if tokenString == "" {
		return errors.New("empty challenge response")
	}

	token, err := jwt.ParseWithClaims(tokenString, &challengeClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(presharedKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithLeeway(clockLeeway), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("invalid challenge response: %w", err)
	}

	claims, ok := token.Claims.(*challengeClaims)
	if !ok || !token.Valid {
		return errors.New("invalid challenge response claims")
	}

	expected := base64.RawURLEncoding.EncodeToString(nonce)
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(expected)) != 1 {
		return errors.New("challenge nonce mismatch")
	}
	return nil
}
