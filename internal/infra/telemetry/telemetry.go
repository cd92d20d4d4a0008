// Package telemetry configures OpenTelemetry metrics for the finance service.
package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const defaultServiceName = "finance-brokerd"

var (
	environmentMu sync.RWMutex
	environment   string
)

// Config controls metric export behaviour. An empty OTLPEndpoint disables
// export entirely and installs a noop provider.
type Config struct {
	OTLPEndpoint string
	ServiceName  string
	Environment  string
	Interval     time.Duration
}

// Init configures the global meter provider based on cfg and returns a
// shutdown function to flush pending metrics.
func Init(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	SetEnvironment(cfg.Environment)

	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		otel.SetMeterProvider(noop.NewMeterProvider())
		return func(context.Context) error { return nil }, nil
	}

	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = defaultServiceName
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	host, insecure, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(host)}
	if insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(provider)

	return provider.Shutdown, nil
}

// SetEnvironment records the deployment environment used as a metric label.
func SetEnvironment(env string) {
	environmentMu.Lock()
	defer environmentMu.Unlock()
	environment = strings.TrimSpace(env)
}

// Environment returns the configured environment name for metric labels.
func Environment() string {
	environmentMu.RLock()
	defer environmentMu.RUnlock()
	if environment == "" {
		return "development"
	}
	return environment
}

func parseEndpoint(raw string) (string, bool, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse otlp endpoint: %w", err)
	}
	host := parsed.Host
	if host == "" {
		host = raw
	}
	insecure := parsed.Scheme != "https"
	return host, insecure, nil
}
