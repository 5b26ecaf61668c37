package components

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/daemon"
	"github.com/harunnryd/chorus/internal/observe"
)

const ObserveName = "Observe"

type ObserveComponent struct {
	cfg      config.ObserveConfig
	version  string
	provider *observe.Provider
	metrics  *observe.Metrics
	mu       sync.RWMutex
}

func NewObserveComponent(cfg config.ObserveConfig, version string) *ObserveComponent {
	return &ObserveComponent{cfg: cfg, version: version}
}

func (o *ObserveComponent) Name() string {
	return ObserveName
}

func (o *ObserveComponent) Dependencies() []string {
	return nil
}

func (o *ObserveComponent) Init(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	provider := observe.NewNoopProvider()
	if o.cfg.MetricsEnabled {
		p, err := observe.NewPrometheusProvider(o.cfg.ServiceName, o.version)
		if err != nil {
			return err
		}
		provider = p
	}

	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return err
	}

	o.provider = provider
	o.metrics = metrics
	slog.Info("Observe initialized", "component", o.Name(), "metrics_enabled", o.cfg.MetricsEnabled)
	return nil
}

func (o *ObserveComponent) Start(ctx context.Context) error {
	return nil
}

func (o *ObserveComponent) Stop(ctx context.Context) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.provider == nil {
		return nil
	}
	return o.provider.Shutdown(ctx)
}

func (o *ObserveComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.metrics == nil {
		return daemon.NotReady(o.Name(), "not initialized"), nil
	}
	return daemon.Healthy(o.Name(), map[string]string{
		"metrics_enabled": strconv.FormatBool(o.cfg.MetricsEnabled),
	}), nil
}

func (o *ObserveComponent) Metrics() *observe.Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.metrics
}

func (o *ObserveComponent) Provider() *observe.Provider {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.provider
}
