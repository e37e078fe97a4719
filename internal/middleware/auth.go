package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

var (
	errMissingAuthorizationHeader = errors.New("missing authorization header")
	errInvalidAuthorizationHeader = errors.New("invalid authorization header")
	errEnvironmentMismatch        = errors.New("api key belongs to another environment")
)

// TokenValidator validates a bearer token and returns the environment the
// token is scoped to.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// AuthOption configures optional auth middleware parameters.
type AuthOption func(*authConfig)

type authConfig struct {
	onFailure   func()
	rateLimiter *RateLimiter
	environment string
}

// WithOnAuthFailure registers a callback invoked on every authentication
// failure (e.g. to increment a Prometheus counter).
func WithOnAuthFailure(fn func()) AuthOption {
	return func(c *authConfig) { c.onFailure = fn }
}

// WithRateLimiter attaches a per-IP rate limiter that throttles repeated
// authentication failures.
func WithRateLimiter(rl *RateLimiter) AuthOption {
	return func(c *authConfig) { c.rateLimiter = rl }
}

// WithRequiredEnvironment rejects valid keys issued for any other
// environment.
func WithRequiredEnvironment(environment string) AuthOption {
	return func(c *authConfig) { c.environment = environment }
}

func newAuthConfig(opts []AuthOption) authConfig {
	cfg := authConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// failed reports the failure and returns false when ip has exhausted its
// failed attempt budget.
func (c authConfig) failed(ip string) bool {
	if c.onFailure != nil {
		c.onFailure()
	}
	if c.rateLimiter != nil && ip != "" {
		return c.rateLimiter.RecordFailureAndAllow(ip)
	}
	return true
}

func (c authConfig) blocked(ip string) bool {
	return c.rateLimiter != nil && ip != "" && c.rateLimiter.Blocked(ip)
}

func (c authConfig) checkEnvironment(environment string) error {
	if c.environment != "" && environment != c.environment {
		return errEnvironmentMismatch
	}
	return nil
}

// HTTPBearerAuthMiddleware enforces bearer-token auth for HTTP handlers.
func HTTPBearerAuthMiddleware(validator TokenValidator, opts ...AuthOption) func(http.Handler) http.Handler {
	cfg := newAuthConfig(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ExtractIP(r.RemoteAddr)
			if cfg.blocked(ip) {
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}

			header := r.Header.Get("Authorization")
			environment, err := authorizeHTTP(r.Context(), header, validator)
			if err == nil {
				err = cfg.checkEnvironment(environment)
			}
			if err != nil {
				if !cfg.failed(ip) {
					http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
					return
				}
				if errors.Is(err, errEnvironmentMismatch) {
					http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
					return
				}
				writeHTTPUnauthorized(w)
				return
			}

			ctx := NewContextWithEnvironment(r.Context(), environment)
			if keyID := apiKeyIDFromBearer(header); keyID != "" {
				ctx = NewContextWithAPIKeyID(ctx, keyID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UnaryBearerAuthInterceptor enforces bearer-token auth for unary gRPC requests.
func UnaryBearerAuthInterceptor(validator TokenValidator, opts ...AuthOption) grpc.UnaryServerInterceptor {
	cfg := newAuthConfig(opts)
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ip := extractGRPCPeerIP(ctx)
		if cfg.blocked(ip) {
			return nil, status.Error(codes.ResourceExhausted, "too many failed auth attempts")
		}

		environment, err := authorizeGRPC(ctx, validator)
		if err == nil {
			err = cfg.checkEnvironment(environment)
		}
		if err != nil {
			if !cfg.failed(ip) {
				return nil, status.Error(codes.ResourceExhausted, "too many failed auth attempts")
			}
			if errors.Is(err, errEnvironmentMismatch) {
				return nil, status.Error(codes.PermissionDenied, "api key is not valid for this environment")
			}
			return nil, status.Error(codes.Unauthenticated, "unauthorized")
		}

		newCtx := NewContextWithEnvironment(ctx, environment)
		if keyID := apiKeyIDFromGRPCMetadata(ctx); keyID != "" {
			newCtx = NewContextWithAPIKeyID(newCtx, keyID)
		}
		return handler(newCtx, req)
	}
}

type contextKey string

const (
	environmentKey contextKey = "environment"
	apiKeyIDKey    contextKey = "api_key_id"
)

// EnvironmentFromContext retrieves the authenticated environment.
func EnvironmentFromContext(ctx context.Context) (string, bool) {
	env, ok := ctx.Value(environmentKey).(string)
	return env, ok
}

func NewContextWithEnvironment(ctx context.Context, environment string) context.Context {
	return context.WithValue(ctx, environmentKey, environment)
}

// APIKeyIDFromContext retrieves the API key ID from the context.
func APIKeyIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(apiKeyIDKey).(string)
	return id, ok
}

func NewContextWithAPIKeyID(ctx context.Context, keyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDKey, keyID)
}

func authorizeHTTP(ctx context.Context, authorizationHeader string, validator TokenValidator) (string, error) {
	if validator == nil {
		return "", errors.New("token validator is nil")
	}
	if strings.TrimSpace(authorizationHeader) == "" {
		return "", errMissingAuthorizationHeader
	}

	token, err := parseBearerToken(authorizationHeader)
	if err != nil {
		return "", err
	}
	environment, err := validator.ValidateToken(ctx, token)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(environment) == "" {
		return "", errInvalidAuthorizationHeader
	}
	return environment, nil
}

func authorizeGRPC(ctx context.Context, validator TokenValidator) (string, error) {
	if validator == nil {
		return "", errors.New("token validator is nil")
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", errMissingAuthorizationHeader
	}

	authorizationHeaders := md.Get("authorization")
	if len(authorizationHeaders) == 0 {
		return "", errMissingAuthorizationHeader
	}

	for _, authorizationHeader := range authorizationHeaders {
		token, err := parseBearerToken(authorizationHeader)
		if err != nil {
			continue
		}
		environment, err := validator.ValidateToken(ctx, token)
		if err == nil {
			if strings.TrimSpace(environment) == "" {
				return "", errInvalidAuthorizationHeader
			}
			return environment, nil
		}
	}

	return "", errInvalidAuthorizationHeader
}

func parseBearerToken(authorizationHeader string) (string, error) {
	parts := strings.Fields(authorizationHeader)
	if len(parts) != 2 {
		return "", errInvalidAuthorizationHeader
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", errInvalidAuthorizationHeader
	}
	if parts[1] == "" {
		return "", errInvalidAuthorizationHeader
	}

	return parts[1], nil
}

func writeHTTPUnauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
}

// apiKeyIDFromBearer extracts the key ID from a "Bearer keyID.secret" header.
func apiKeyIDFromBearer(authHeader string) string {
	token, err := parseBearerToken(authHeader)
	if err != nil {
		return ""
	}
	keyID, _, ok := SplitAPIKey(token)
	if !ok {
		return ""
	}
	return keyID
}

func apiKeyIDFromGRPCMetadata(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, h := range md.Get("authorization") {
		if keyID := apiKeyIDFromBearer(h); keyID != "" {
			return keyID
		}
	}
	return ""
}

func extractGRPCPeerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return ExtractIP(p.Addr.String())
}
