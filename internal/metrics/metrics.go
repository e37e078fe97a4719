// Package metrics provides Prometheus instrumentation for the rollout server.
//
// All metrics are registered in a custom [prometheus.Registry] (not the global
// default) so that only rollout metrics appear on the /metrics endpoint.
package metrics

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/matt-riley/rollout/internal/core"
	"github.com/matt-riley/rollout/internal/usage"
)

// Metrics holds all Prometheus collectors used by the rollout server.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	GRPCRequestsTotal      *prometheus.CounterVec
	GRPCRequestDuration    *prometheus.HistogramVec
	EvaluationsTotal       *prometheus.CounterVec
	UsageEventsTotal       *prometheus.CounterVec
	ScheduleMutationsTotal *prometheus.CounterVec
	AuthFailuresTotal      prometheus.Counter
}

// New creates and registers all rollout metrics in a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollout_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),

		GRPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_grpc_requests_total",
			Help: "Total number of gRPC requests.",
		}, []string{"method", "status"}),

		GRPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollout_grpc_request_duration_seconds",
			Help:    "gRPC request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),

		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_flag_evaluations_total",
			Help: "Total number of flag evaluations by result and reason.",
		}, []string{"result", "reason"}),

		UsageEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_usage_events_total",
			Help: "Usage events by dispatch outcome.",
		}, []string{"outcome"}),

		ScheduleMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_schedule_mutations_total",
			Help: "Total number of schedule changes applied to flags.",
		}, []string{"operation"}),

		AuthFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rollout_auth_failures_total",
			Help: "Total number of failed authentication attempts.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
		m.EvaluationsTotal,
		m.UsageEventsTotal,
		m.ScheduleMutationsTotal,
		m.AuthFailuresTotal,
	)

	return m
}

// Handler returns an [http.Handler] that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one finished HTTP request. Route is the
// ServeMux pattern that matched, so path parameters do not explode the
// label space.
func (m *Metrics) ObserveHTTPRequest(method, route string, statusCode int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	code := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(elapsed.Seconds())
}

// UnaryServerInterceptor returns a gRPC unary interceptor that records
// request count and latency for each method.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		method := path.Base(info.FullMethod)
		code := status.Code(err).String()
		m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
		m.GRPCRequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
		return resp, err
	}
}

// RecordDecision counts one evaluation by its result and reason.
func (m *Metrics) RecordDecision(decision core.Decision) {
	m.EvaluationsTotal.WithLabelValues(strconv.FormatBool(decision.Enabled), string(decision.Reason)).Inc()
}

func (m *Metrics) RecordUsageEvent(outcome usage.Outcome) {
	m.UsageEventsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) RecordScheduleMutation(operation string) {
	m.ScheduleMutationsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) IncAuthFailures() {
	m.AuthFailuresTotal.Inc()
}
