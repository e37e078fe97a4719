package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/matt-riley/rollout/internal/core"
	"github.com/matt-riley/rollout/internal/repository"
	"github.com/matt-riley/rollout/internal/usage"
)

const (
	tracerName = "github.com/matt-riley/rollout/internal/service"

	ReasonFlagNotFound core.Reason = "flag_not_found"
)

var (
	ErrFlagNotFound     = errors.New("flag not found")
	ErrInvalidRules     = errors.New("invalid rules")
	ErrInvalidFlag      = errors.New("invalid flag")
	ErrFlagNameRequired = errors.New("flag name is required")
	ErrUserIDRequired   = errors.New("user id is required")
	ErrInvalidArgument  = errors.New("invalid argument")
)

type Repository interface {
	SaveFlag(ctx context.Context, flag repository.Flag) (repository.Flag, error)
	GetFlag(ctx context.Context, environment, name string) (repository.Flag, error)
	ListFlags(ctx context.Context, environment string) ([]repository.Flag, error)
	DeleteFlag(ctx context.Context, environment, name string) error
	CountUniqueUsers(ctx context.Context, environment, feature string, from, to *time.Time) (int64, error)
	CountUsages(ctx context.Context, environment, feature string, from, to *time.Time) (int64, error)
	DailyUsage(ctx context.Context, environment, feature string, since time.Time) ([]repository.DailyCount, error)
	RecentUsages(ctx context.Context, environment string, limit int) ([]usage.Event, error)
}

// UsageQueue accepts usage events without blocking the caller.
type UsageQueue interface {
	Enqueue(event usage.Event) bool
}

type EvaluateRequest struct {
	Flag       string
	Context    core.EvaluationContext
	TrackUsage bool
}

type EvaluateResult struct {
	Flag    string      `json:"flag"`
	Enabled bool        `json:"enabled"`
	Reason  core.Reason `json:"reason"`
}

// Service evaluates and schedules the flags of a single environment.
type Service struct {
	repo        Repository
	environment string
	usage       UsageQueue
	tracking    bool
	now         func() time.Time
	local       *time.Location
	logger      *slog.Logger
	tracer      trace.Tracer
	onDecision  func(core.Decision)
	onSchedule  func(operation string)
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithUsageQueue sets where usage events go when tracking is on.
func WithUsageQueue(queue UsageQueue) Option {
	return func(s *Service) {
		s.usage = queue
	}
}

// WithTracking turns usage tracking on or off for the life of the service.
// Evaluations still need to ask for tracking per call.
func WithTracking(enabled bool) Option {
	return func(s *Service) {
		s.tracking = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocalTimeZone sets the zone used to read schedule times given without
// an explicit time zone. It defaults to the host's zone.
func WithLocalTimeZone(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.local = loc
		}
	}
}

func WithDecisionHook(hook func(core.Decision)) Option {
	return func(s *Service) {
		if hook != nil {
			s.onDecision = hook
		}
	}
}

func WithScheduleHook(hook func(operation string)) Option {
	return func(s *Service) {
		if hook != nil {
			s.onSchedule = hook
		}
	}
}

func New(repo Repository, environment string, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("repository is nil")
	}
	if strings.TrimSpace(environment) == "" {
		return nil, errors.New("environment is required")
	}

	svc := &Service{
		repo:        repo,
		environment: environment,
		now:         time.Now,
		local:       time.Local,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:      otel.Tracer(tracerName),
		onDecision:  func(core.Decision) {},
		onSchedule:  func(string) {},
	}
	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Environment is the environment every flag of this service belongs to.
func (s *Service) Environment() string {
	return s.environment
}

func (s *Service) TrackingEnabled() bool {
	return s.tracking && s.usage != nil
}

// Evaluate decides whether the named feature is on for the context's user.
// An unknown flag is off. When the result is on and tracking is requested
// and enabled, a usage event is queued in the background.
func (s *Service) Evaluate(ctx context.Context, name string, evalCtx core.EvaluationContext, trackUsage bool) (bool, error) {
	decision, err := s.Decide(ctx, name, evalCtx, trackUsage)
	if err != nil {
		return false, err
	}
	return decision.Enabled, nil
}

func (s *Service) Decide(ctx context.Context, name string, evalCtx core.EvaluationContext, trackUsage bool) (core.Decision, error) {
	if strings.TrimSpace(name) == "" {
		return core.Decision{}, ErrFlagNameRequired
	}
	if strings.TrimSpace(evalCtx.UserID) == "" {
		return core.Decision{}, ErrUserIDRequired
	}

	ctx, span := s.tracer.Start(ctx, "service.Decide", trace.WithAttributes(
		attribute.String("flag.name", name),
		attribute.String("flag.environment", s.environment),
	))
	defer span.End()

	flag, err := s.GetFlag(ctx, name)
	if err != nil {
		if errors.Is(err, ErrFlagNotFound) {
			span.SetAttributes(attribute.String("flag.reason", string(ReasonFlagNotFound)))
			return core.Decision{Reason: ReasonFlagNotFound}, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "get flag")
		return core.Decision{}, err
	}

	decision := core.Decide(flag, evalCtx, s.now())
	s.onDecision(decision)
	span.SetAttributes(
		attribute.Bool("flag.enabled", decision.Enabled),
		attribute.String("flag.reason", string(decision.Reason)),
	)

	if decision.Enabled && trackUsage {
		s.enqueueUsage(name, evalCtx.UserID, nil)
	}

	return decision, nil
}

func (s *Service) EvaluateBatch(ctx context.Context, requests []EvaluateRequest) ([]EvaluateResult, error) {
	results := make([]EvaluateResult, 0, len(requests))
	for _, request := range requests {
		decision, err := s.Decide(ctx, request.Flag, request.Context, request.TrackUsage)
		if err != nil {
			return nil, fmt.Errorf("evaluate %q: %w", request.Flag, err)
		}

		results = append(results, EvaluateResult{
			Flag:    request.Flag,
			Enabled: decision.Enabled,
			Reason:  decision.Reason,
		})
	}

	return results, nil
}

// EvaluateAll decides every flag of the environment for one user. Usage is
// not tracked.
func (s *Service) EvaluateAll(ctx context.Context, evalCtx core.EvaluationContext) (map[string]bool, error) {
	if strings.TrimSpace(evalCtx.UserID) == "" {
		return nil, ErrUserIDRequired
	}

	ctx, span := s.tracer.Start(ctx, "service.EvaluateAll", trace.WithAttributes(
		attribute.String("flag.environment", s.environment),
	))
	defer span.End()

	flags, err := s.ListFlags(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list flags")
		return nil, err
	}

	now := s.now()
	results := make(map[string]bool, len(flags))
	for _, flag := range flags {
		decision := core.Decide(flag, evalCtx, now)
		s.onDecision(decision)
		results[flag.Name] = decision.Enabled
	}

	return results, nil
}

// IsFlagEnabled checks the kill switch and schedule window only. It needs no
// user and applies no targeting.
func (s *Service) IsFlagEnabled(ctx context.Context, name string) (bool, error) {
	flag, err := s.GetFlag(ctx, name)
	if err != nil {
		if errors.Is(err, ErrFlagNotFound) {
			return false, nil
		}
		return false, err
	}

	return flag.Enabled && core.IsActive(flag, s.now()), nil
}

// TrackUsage records that a user used a feature, if tracking is enabled.
func (s *Service) TrackUsage(_ context.Context, name, userID string, additionalData map[string]string) error {
	if strings.TrimSpace(name) == "" {
		return ErrFlagNameRequired
	}
	if strings.TrimSpace(userID) == "" {
		return ErrUserIDRequired
	}

	s.enqueueUsage(name, userID, additionalData)
	return nil
}

func (s *Service) enqueueUsage(name, userID string, additionalData map[string]string) {
	if !s.TrackingEnabled() {
		return
	}

	event := usage.NewEvent(name, userID, s.environment, additionalData, s.now())
	if !s.usage.Enqueue(event) {
		s.logger.Debug("usage event not queued",
			slog.String("flag", name),
			slog.String("environment", s.environment),
		)
	}
}

func (s *Service) GetFlag(ctx context.Context, name string) (core.Flag, error) {
	if strings.TrimSpace(name) == "" {
		return core.Flag{}, ErrFlagNameRequired
	}

	stored, err := s.repo.GetFlag(ctx, s.environment, name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return core.Flag{}, ErrFlagNotFound
		}
		return core.Flag{}, fmt.Errorf("get flag: %w", err)
	}

	flag, err := repositoryFlagToCore(stored)
	if err != nil {
		return core.Flag{}, fmt.Errorf("decode flag %q: %w", name, err)
	}

	return flag, nil
}

// ListFlags returns the environment's flags. Flags whose stored rules cannot
// be decoded are logged and skipped.
func (s *Service) ListFlags(ctx context.Context) ([]core.Flag, error) {
	stored, err := s.repo.ListFlags(ctx, s.environment)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}

	flags := make([]core.Flag, 0, len(stored))
	for _, row := range stored {
		flag, err := repositoryFlagToCore(row)
		if err != nil {
			s.logger.Warn("skipping undecodable flag",
				slog.String("flag", row.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		flags = append(flags, flag)
	}

	return flags, nil
}

// SaveFlag validates and stores a flag in the service's environment.
func (s *Service) SaveFlag(ctx context.Context, flag core.Flag) (core.Flag, error) {
	if strings.TrimSpace(flag.Name) == "" {
		return core.Flag{}, ErrFlagNameRequired
	}
	if err := core.ValidateFlag(flag); err != nil {
		return core.Flag{}, fmt.Errorf("%w: %w", ErrInvalidFlag, err)
	}
	flag.Environment = s.environment

	row, err := coreFlagToRepository(flag)
	if err != nil {
		return core.Flag{}, err
	}

	saved, err := s.repo.SaveFlag(ctx, row)
	if err != nil {
		return core.Flag{}, fmt.Errorf("save flag: %w", err)
	}

	return repositoryFlagToCore(saved)
}

func (s *Service) DeleteFlag(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrFlagNameRequired
	}

	if err := s.repo.DeleteFlag(ctx, s.environment, name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrFlagNotFound
		}
		return fmt.Errorf("delete flag: %w", err)
	}

	return nil
}
