package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/matt-riley/rollout/internal/middleware"
)

type apiKeyHashLookup interface {
	ValidateAPIKey(ctx context.Context, id string) (hash string, environment string, err error)
}

type apiKeyCreator interface {
	CreateAPIKey(ctx context.Context, environment string) (id string, secret string, err error)
}

// apiKeyTokenValidator checks "id.secret" bearer tokens against the stored
// key hashes and returns the key's environment.
type apiKeyTokenValidator struct {
	lookup apiKeyHashLookup
}

func (v *apiKeyTokenValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	if v == nil || v.lookup == nil {
		return "", errors.New("api key validator is nil")
	}

	keyID, rawSecret, ok := middleware.SplitAPIKey(token)
	if !ok {
		return "", errors.New("invalid token format")
	}

	keyHash, environment, err := v.lookup.ValidateAPIKey(ctx, keyID)
	if err != nil {
		return "", fmt.Errorf("lookup key hash: %w", err)
	}
	if !middleware.APIKeyMatchesHash(keyHash, rawSecret) {
		return "", errors.New("invalid token")
	}

	return environment, nil
}

// createAPIKey mints a key and prints the bearer token. The secret is not
// stored and cannot be shown again.
func createAPIKey(ctx context.Context, creator apiKeyCreator, environment string, out io.Writer) error {
	environment = strings.TrimSpace(environment)
	if environment == "" {
		return errors.New("environment is required")
	}

	id, secret, err := creator.CreateAPIKey(ctx, environment)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	_, err = fmt.Fprintf(out, "%s.%s\n", id, secret)
	return err
}
