package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "pfsap"

// TraceOptions selects the span exporter. With no writer spans are dropped.
type TraceOptions struct {
	// Writer receives stdout-exporter JSON spans when set.
	Writer      io.Writer
	PrettyPrint bool
	ServiceName string
}

// InitTracing installs a global tracer provider and returns its shutdown.
func InitTracing(opts TraceOptions) (func(context.Context) error, error) {
	tp, err := NewTracerProvider(opts)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewTracerProvider builds an SDK provider exporting synchronously so that
// spans are flushed by the time a CLI command returns.
func NewTracerProvider(opts TraceOptions) (*sdktrace.TracerProvider, error) {
	name := opts.ServiceName
	if name == "" {
		name = tracerName
	}
	res := resource.NewWithAttributes("", attribute.String("service.name", name))

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if opts.Writer != nil {
		exporterOpts := []stdouttrace.Option{stdouttrace.WithWriter(opts.Writer)}
		if opts.PrettyPrint {
			exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
		}
		exporter, err := stdouttrace.New(exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithSyncer(exporter))
	}
	return sdktrace.NewTracerProvider(providerOpts...), nil
}

// Tracer returns the package tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// RunAttributes are the span attributes shared by run and write spans.
func RunAttributes(testID, pillar, controller string, seed int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("pfsap.test_id", testID),
		attribute.String("pfsap.pillar", pillar),
		attribute.String("pfsap.controller", controller),
		attribute.Int64("pfsap.seed", seed),
	}
}
