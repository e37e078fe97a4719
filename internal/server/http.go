package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matt-riley/rollout/internal/core"
	"github.com/matt-riley/rollout/internal/middleware"
	"github.com/matt-riley/rollout/internal/repository"
	"github.com/matt-riley/rollout/internal/service"
	"github.com/matt-riley/rollout/internal/usage"
)

const (
	defaultMaxJSONBodyBytes = 1 << 20

	defaultWithinHours = 24
	defaultUsageDays   = 7
	defaultRecentCount = 50
	maxRecentCount     = 1000
)

var errJSONBodyTooLarge = errors.New("json request body too large")

// HTTPMetrics observes finished requests.
type HTTPMetrics interface {
	ObserveHTTPRequest(method, route string, statusCode int, elapsed time.Duration)
	Handler() http.Handler
}

type HTTPServer struct {
	service          Service
	metrics          HTTPMetrics
	healthCheck      func(context.Context) error
	maxJSONBodyBytes int64
}

type HTTPOption func(*HTTPServer)

// WithMetrics records request metrics and serves them on GET /metrics.
func WithMetrics(m HTTPMetrics) HTTPOption {
	return func(s *HTTPServer) { s.metrics = m }
}

// WithHealthCheck makes /healthz report 503 while check fails.
func WithHealthCheck(check func(context.Context) error) HTTPOption {
	return func(s *HTTPServer) { s.healthCheck = check }
}

func WithMaxJSONBodySize(n int64) HTTPOption {
	return func(s *HTTPServer) {
		if n > 0 {
			s.maxJSONBodyBytes = n
		}
	}
}

type evaluateJSONItem struct {
	Flag       string         `json:"flag"`
	UserID     string         `json:"user_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	TrackUsage *bool          `json:"track_usage,omitempty"`
}

// trackUsage defaults to true when track_usage is omitted.
func (item evaluateJSONItem) trackUsage() bool {
	return item.TrackUsage == nil || *item.TrackUsage
}

type evaluateJSONRequest struct {
	evaluateJSONItem
	Requests []evaluateJSONItem `json:"requests,omitempty"`
}

type evaluateJSONResponse struct {
	Results []service.EvaluateResult `json:"results"`
}

type evaluateAllJSONRequest struct {
	UserID     string         `json:"user_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

type evaluateAllJSONResponse struct {
	Flags map[string]bool `json:"flags"`
}

type trackUsageJSONRequest struct {
	Flag           string            `json:"flag"`
	UserID         string            `json:"user_id"`
	AdditionalData map[string]string `json:"additional_data,omitempty"`
}

type activationJSONRequest struct {
	StartTime string `json:"start_time"`
	Duration  string `json:"duration,omitempty"`
	TimeZone  string `json:"time_zone,omitempty"`
}

type temporaryActivationJSONRequest struct {
	Duration string `json:"duration"`
}

type deactivationJSONRequest struct {
	EndTime string `json:"end_time"`
}

type upcomingChangeJSON struct {
	core.ScheduledChange
	SecondsUntil int64 `json:"seconds_until"`
}

type usageCountsJSONResponse struct {
	Flag        string `json:"flag"`
	UniqueUsers int64  `json:"unique_users"`
	Total       int64  `json:"total"`
}

type dailyUsageJSONResponse struct {
	Flag string                  `json:"flag"`
	Days []repository.DailyCount `json:"days"`
}

type recentUsageJSONResponse struct {
	Events []usage.Event `json:"events"`
}

// NewHTTPHandler routes the /v1 API, /healthz and, with WithMetrics,
// /metrics. Authentication is applied by the caller.
func NewHTTPHandler(svc Service, opts ...HTTPOption) http.Handler {
	if svc == nil {
		panic("service is nil")
	}

	server := &HTTPServer{
		service:          svc,
		maxJSONBodyBytes: defaultMaxJSONBodyBytes,
	}
	for _, opt := range opts {
		opt(server)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/evaluate", server.handleEvaluate)
	mux.HandleFunc("POST /v1/evaluate/all", server.handleEvaluateAll)
	mux.HandleFunc("POST /v1/usage", server.handleTrackUsage)
	mux.HandleFunc("GET /v1/usage/recent", server.handleRecentUsages)
	mux.HandleFunc("GET /v1/flags", server.handleListFlags)
	mux.HandleFunc("GET /v1/flags/{name}", server.handleGetFlag)
	mux.HandleFunc("PUT /v1/flags/{name}", server.handlePutFlag)
	mux.HandleFunc("DELETE /v1/flags/{name}", server.handleDeleteFlag)
	mux.HandleFunc("POST /v1/flags/{name}/schedule/activation", server.handleScheduleActivation)
	mux.HandleFunc("POST /v1/flags/{name}/schedule/temporary", server.handleScheduleTemporary)
	mux.HandleFunc("POST /v1/flags/{name}/schedule/deactivation", server.handleScheduleDeactivation)
	mux.HandleFunc("DELETE /v1/flags/{name}/schedule", server.handleRemoveScheduling)
	mux.HandleFunc("GET /v1/flags/{name}/usage", server.handleUsageCounts)
	mux.HandleFunc("GET /v1/flags/{name}/usage/daily", server.handleDailyUsage)
	mux.HandleFunc("GET /v1/schedule/upcoming", server.handleUpcomingChanges)
	mux.HandleFunc("GET /healthz", server.handleHealthz)

	if server.metrics == nil {
		return mux
	}
	mux.Handle("GET /metrics", server.metrics.Handler())
	return server.withMetrics(mux)
}

func (s *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		// The mux stores the matched pattern on r.
		s.metrics.ObserveHTTPRequest(r.Method, r.Pattern, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *HTTPServer) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var request evaluateJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	var items []evaluateJSONItem
	switch {
	case len(request.Requests) > 0 && strings.TrimSpace(request.Flag) != "":
		writeJSONError(w, http.StatusBadRequest, "use either flag or requests")
		return
	case len(request.Requests) > 0:
		items = request.Requests
	case strings.TrimSpace(request.Flag) != "":
		items = []evaluateJSONItem{request.evaluateJSONItem}
	default:
		writeJSONError(w, http.StatusBadRequest, "flag or requests is required")
		return
	}

	requests := make([]service.EvaluateRequest, 0, len(items))
	for idx, item := range items {
		if strings.TrimSpace(item.Flag) == "" {
			writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("requests[%d].flag is required", idx))
			return
		}
		evalCtx, err := evaluationContext(item.UserID, item.Attributes)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		requests = append(requests, service.EvaluateRequest{
			Flag:       item.Flag,
			Context:    evalCtx,
			TrackUsage: item.trackUsage(),
		})
	}

	results, err := s.service.EvaluateBatch(r.Context(), requests)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluateJSONResponse{Results: results})
}

func (s *HTTPServer) handleEvaluateAll(w http.ResponseWriter, r *http.Request) {
	var request evaluateAllJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	evalCtx, err := evaluationContext(request.UserID, request.Attributes)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flags, err := s.service.EvaluateAll(r.Context(), evalCtx)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, evaluateAllJSONResponse{Flags: flags})
}

func (s *HTTPServer) handleTrackUsage(w http.ResponseWriter, r *http.Request) {
	var request trackUsageJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if err := s.service.TrackUsage(r.Context(), request.Flag, request.UserID, request.AdditionalData); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *HTTPServer) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.service.ListFlags(r.Context())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, flagsToJSON(flags))
}

func (s *HTTPServer) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	flag, err := s.service.GetFlag(r.Context(), r.PathValue("name"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, flagToJSON(flag))
}

func (s *HTTPServer) handlePutFlag(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.PathValue("name"))

	var body flagJSON
	if err := s.decodeJSONBody(w, r, &body); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	if strings.TrimSpace(body.Name) != "" && body.Name != name {
		writeJSONError(w, http.StatusBadRequest, "path name and body name must match")
		return
	}
	body.Name = name

	flag, err := body.toCore()
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := s.service.SaveFlag(r.Context(), flag)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, flagToJSON(saved))
}

func (s *HTTPServer) handleDeleteFlag(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteFlag(r.Context(), r.PathValue("name")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleScheduleActivation(w http.ResponseWriter, r *http.Request) {
	var request activationJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	start, err := parseWallClock(request.StartTime)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "start_time: "+err.Error())
		return
	}
	var duration *time.Duration
	if request.Duration != "" {
		d, err := parseDuration(request.Duration)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		duration = &d
	}

	flag, err := s.service.ScheduleActivation(r.Context(), r.PathValue("name"), start, duration, request.TimeZone)
	s.writeFlagResult(w, r, flag, err)
}

func (s *HTTPServer) handleScheduleTemporary(w http.ResponseWriter, r *http.Request) {
	var request temporaryActivationJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	duration, err := parseDuration(request.Duration)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	flag, err := s.service.ScheduleTemporaryActivation(r.Context(), r.PathValue("name"), duration)
	s.writeFlagResult(w, r, flag, err)
}

func (s *HTTPServer) handleScheduleDeactivation(w http.ResponseWriter, r *http.Request) {
	var request deactivationJSONRequest
	if err := s.decodeJSONBody(w, r, &request); err != nil {
		writeJSONDecodeError(w, err)
		return
	}

	end, err := parseWallClock(request.EndTime)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "end_time: "+err.Error())
		return
	}

	flag, err := s.service.ScheduleDeactivation(r.Context(), r.PathValue("name"), end)
	s.writeFlagResult(w, r, flag, err)
}

func (s *HTTPServer) handleRemoveScheduling(w http.ResponseWriter, r *http.Request) {
	flag, err := s.service.RemoveScheduling(r.Context(), r.PathValue("name"))
	s.writeFlagResult(w, r, flag, err)
}

func (s *HTTPServer) writeFlagResult(w http.ResponseWriter, r *http.Request, flag core.Flag, err error) {
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, flagToJSON(flag))
}

func (s *HTTPServer) handleUpcomingChanges(w http.ResponseWriter, r *http.Request) {
	withinHours, err := queryInt(r, "within_hours", defaultWithinHours)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	changes, err := s.service.UpcomingChanges(r.Context(), withinHours)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	now := time.Now()
	out := make([]upcomingChangeJSON, 0, len(changes))
	for _, change := range changes {
		out = append(out, upcomingChangeJSON{
			ScheduledChange: change,
			SecondsUntil:    int64(change.TimeUntil(now).Seconds()),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"changes": out})
}

func (s *HTTPServer) handleUsageCounts(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	from, err := queryTime(r, "from")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	unique, err := s.service.UniqueUserCount(r.Context(), name, from, to)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	total, err := s.service.TotalUsages(r.Context(), name, from, to)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, usageCountsJSONResponse{Flag: name, UniqueUsers: unique, Total: total})
}

func (s *HTTPServer) handleDailyUsage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	days, err := queryInt(r, "days", defaultUsageDays)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if days > service.MaxUsageDays {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("days must be at most %d", service.MaxUsageDays))
		return
	}

	counts, err := s.service.UsageByDay(r.Context(), name, days)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, dailyUsageJSONResponse{Flag: name, Days: counts})
}

func (s *HTTPServer) handleRecentUsages(w http.ResponseWriter, r *http.Request) {
	count, err := queryInt(r, "count", defaultRecentCount)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	count = min(count, maxRecentCount)

	events, err := s.service.RecentUsages(r.Context(), count)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, recentUsageJSONResponse{Events: events})
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck != nil {
		if err := s.healthCheck(r.Context()); err != nil {
			middleware.LoggerFromContext(r.Context()).Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func queryTime(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}

func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status := serviceErrorStatus(err)
	var message string
	switch {
	case status < http.StatusInternalServerError:
		message = err.Error()
	case errors.Is(err, context.Canceled):
		message = "request canceled"
	default:
		middleware.LoggerFromContext(ctx).Error("request failed", "error", err)
		message = "internal server error"
	}
	writeJSONError(w, status, message)
}

func serviceErrorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrFlagNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidRules),
		errors.Is(err, service.ErrInvalidFlag),
		errors.Is(err, service.ErrFlagNameRequired),
		errors.Is(err, service.ErrUserIDRequired),
		errors.Is(err, service.ErrInvalidArgument),
		errors.Is(err, core.ErrInvalidTimeZone),
		errors.Is(err, core.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSONDecodeError(w http.ResponseWriter, err error) {
	if errors.Is(err, errJSONBodyTooLarge) {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *HTTPServer) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return io.EOF
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxJSONBodyBytes))
	decoder.DisallowUnknownFields()
	decoder.UseNumber()

	if err := decoder.Decode(dst); err != nil {
		return normalizeJSONDecodeError(err)
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("request body must contain a single JSON object")
		}
		return normalizeJSONDecodeError(err)
	}

	return nil
}

func normalizeJSONDecodeError(err error) error {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return errJSONBodyTooLarge
	}
	return err
}
