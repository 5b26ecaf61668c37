package observe

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Provider bundles a meter provider with the handler that serves its
// metrics in Prometheus text format.
type Provider struct {
	MeterProvider metric.MeterProvider
	Handler       http.Handler
	Shutdown      func(ctx context.Context) error
}

// NewPrometheusProvider builds a meter provider exporting to a private
// Prometheus registry, so several providers can coexist in one process.
func NewPrometheusProvider(serviceName, version string) (*Provider, error) {
	if serviceName == "" {
		serviceName = "chorus"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	return &Provider{
		MeterProvider: mp,
		Handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:      mp.Shutdown,
	}, nil
}

// NewNoopProvider is used when metrics are disabled.
func NewNoopProvider() *Provider {
	return &Provider{
		MeterProvider: noop.NewMeterProvider(),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics disabled", http.StatusNotFound)
		}),
		Shutdown: func(context.Context) error { return nil },
	}
}
