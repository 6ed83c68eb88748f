// Package telemetry wires OpenTelemetry tracing and mints identifiers.
package telemetry

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName    = "gtd-copilot"
	instrumentName = "github.com/cchalm/gtd-copilot"
)

// ServiceVersion is reported with every span. The CLI overrides it from build info.
var ServiceVersion = "dev"

// TelemetryConfig holds the configuration for telemetry
type TelemetryConfig struct {
	Enabled bool
	// Endpoint is the OTLP/HTTP collector address, e.g. "localhost:4318"
	Endpoint string
}

// Provider owns the tracer provider and flushes it on shutdown
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider installs a global tracer provider that exports over OTLP/HTTP. When telemetry is disabled the global
// no-op provider stays in place and spans cost nothing.
func NewProvider(ctx context.Context, config TelemetryConfig) (*Provider, error) {
	if !config.Enabled {
		log.Printf("Telemetry disabled")
		return &Provider{}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
	if config.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(config.Endpoint))
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", ServiceVersion),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Printf("Telemetry enabled, exporting traces to %s", config.Endpoint)
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}

// Tracer returns the tracer all packages of this module share
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentName)
}

// EndSpan records err on the span, if any, and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// NewConversationID generates a new conversation UUID
func NewConversationID() string {
	return uuid.New().String()
}

// NewExchangeID generates a new exchange UUID
func NewExchangeID() string {
	return uuid.New().String()
}

// NewMessageID generates a new message UUID
func NewMessageID() string {
	return uuid.New().String()
}
