// Package middleware provides authentication and request logging for the
// rollout HTTP and gRPC transports. API keys are environment scoped tokens
// of the form "id.secret" whose secret is stored as a bcrypt hash.
package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHashCost = bcrypt.DefaultCost

// HashAPIKey returns a salted bcrypt hash for an API key secret.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), apiKeyHashCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyMatchesHash compares an API key secret against a stored hash.
// Hex encoded SHA-256 hashes are accepted for keys seeded by hand.
func APIKeyMatchesHash(expectedHash, apiKey string) bool {
	if strings.HasPrefix(expectedHash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(expectedHash), []byte(apiKey)) == nil
	}

	return sha256MatchesHash(expectedHash, apiKey)
}

func sha256MatchesHash(expectedHash, apiKey string) bool {
	expectedBytes, err := hex.DecodeString(expectedHash)
	if err != nil {
		return false
	}

	actual := sha256.Sum256([]byte(apiKey))
	if len(expectedBytes) != len(actual) {
		return false
	}

	return subtle.ConstantTimeCompare(expectedBytes, actual[:]) == 1
}

// SplitAPIKey splits a token into its key ID and secret.
func SplitAPIKey(token string) (id, secret string, ok bool) {
	id, secret, ok = strings.Cut(token, ".")
	if !ok || strings.TrimSpace(id) == "" || secret == "" {
		return "", "", false
	}
	return id, secret, true
}
