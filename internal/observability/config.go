package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	JaegerEndpoint string
	Environment    string
	// TracingEnabled turns on the OTLP exporter. When false spans are still
	// created (and carry IDs for log correlation) but never exported.
	TracingEnabled bool
	LogLevel       string
	LogFormat      string
	LogOutput      io.Writer
	// Registerer receives the Prometheus collector. Defaults to
	// prometheus.DefaultRegisterer, which is what promhttp.Handler serves.
	Registerer promclient.Registerer
}

type Observability struct {
	Config   Config
	Tracer   trace.Tracer
	Meter    metric.Meter
	Logger   *slog.Logger
	Handler  *ObservabilityHandler
	shutdown func(context.Context) error
}

func NewObservability(config Config) (*Observability, error) {
	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}
	if config.TracingEnabled {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(config.JaegerEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, err
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExporter))
	}
	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer := tracerProvider.Tracer(config.ServiceName)

	registerer := config.Registerer
	if registerer == nil {
		registerer = promclient.DefaultRegisterer
	}
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registerer))
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	)

	otel.SetMeterProvider(meterProvider)
	meter := meterProvider.Meter(config.ServiceName)

	out := config.LogOutput
	if out == nil {
		out = os.Stdout
	}
	handler, err := NewObservabilityHandler(meter, config.ServiceName, HandlerOptions{
		Level:  ParseLevel(config.LogLevel),
		Writer: out,
		Format: config.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	obs := &Observability{
		Config:  config,
		Tracer:  tracer,
		Meter:   meter,
		Logger:  slog.New(handler),
		Handler: handler,
		shutdown: func(ctx context.Context) error {
			if err := tracerProvider.Shutdown(ctx); err != nil {
				return err
			}
			return meterProvider.Shutdown(ctx)
		},
	}

	return obs, nil
}

func (o *Observability) Shutdown(ctx context.Context) error {
	if o.shutdown == nil {
		return nil
	}
	return o.shutdown(ctx)
}

func DefaultConfig(serviceName string) Config {
	return Config{
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		JaegerEndpoint: "127.0.0.1:4317",
		Environment:    "development",
		TracingEnabled: true,
		LogLevel:       "INFO",
		LogFormat:      "json",
	}
}

// ParseLevel maps DEBUG/INFO/WARN/ERROR (any case) to a slog level, INFO
// otherwise.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
