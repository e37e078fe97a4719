// Package tracing provides opt-in OpenTelemetry tracing for the rollout
// server. Tracing is enabled only when an OTLP endpoint is configured;
// otherwise [Init] leaves the global provider alone and returns a no-op
// shutdown function.
package tracing

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "rollout"

// Options configures the tracer provider.
type Options struct {
	// Endpoint is the OTLP/HTTP collector URL, e.g. http://collector:4318.
	Endpoint    string
	ServiceName string
	Environment string
	// SampleRatio is the fraction of root spans sampled, between 0 and 1.
	SampleRatio float64
}

// Init configures the global OpenTelemetry tracer provider with an OTLP HTTP
// exporter. The returned function flushes pending spans and should be called
// on shutdown.
func Init(ctx context.Context, opts Options) (shutdown func(context.Context) error, err error) {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, resourceAttributes(opts)...),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("invalid OTLP endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid OTLP endpoint %q: want http(s)://host[:port]", endpoint)
	}
	return nil
}

func resourceAttributes(opts Options) []attribute.KeyValue {
	name := strings.TrimSpace(opts.ServiceName)
	if name == "" {
		name = defaultServiceName
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if env := strings.TrimSpace(opts.Environment); env != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(env))
	}
	return attrs
}
