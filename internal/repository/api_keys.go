package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ValidateAPIKey returns the stored hash and environment for a non-revoked
// key ID. Callers compare the secret outside this package.
func (r *PostgresRepository) ValidateAPIKey(ctx context.Context, id string) (string, string, error) {
	var keyHash string
	var environment string
	if err := r.pool.QueryRow(ctx, `
		SELECT key_hash, environment
		FROM api_keys
		WHERE id = $1
		  AND revoked_at IS NULL
	`, id).Scan(&keyHash, &environment); err != nil {
		return "", "", fmt.Errorf("validate api key: %w", err)
	}

	return keyHash, environment, nil
}

// CreateAPIKey generates a key for an environment and stores a bcrypt hash
// of its secret. The raw secret is returned exactly once.
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, environment string) (string, string, error) {
	keyID, err := generateRandomHex(16)
	if err != nil {
		return "", "", fmt.Errorf("generate key id: %w", err)
	}

	secret, err := generateRandomHex(32)
	if err != nil {
		return "", "", fmt.Errorf("generate secret: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash api key: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO api_keys (id, environment, name, key_hash)
		VALUES ($1, $2, $3, $4)
	`, keyID, environment, "api-key-"+keyID[:8], string(hash))
	if err != nil {
		return "", "", fmt.Errorf("create api key: %w", err)
	}

	return keyID, secret, nil
}

func generateRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
