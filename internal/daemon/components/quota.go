package components

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/daemon"
	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/quota/postgres"
	"github.com/harunnryd/chorus/internal/quota/sqlite"
	"github.com/harunnryd/chorus/internal/store"
)

const QuotaGateName = "QuotaGate"

// OpenCounter builds the counter backend named by cfg.Backend. The returned
// close function releases whatever the backend holds.
func OpenCounter(ctx context.Context, cfg config.QuotaConfig, worker *store.Worker) (quota.Counter, func() error, error) {
	noop := func() error { return nil }

	switch backendName(cfg.Backend) {
	case "store":
		if worker == nil {
			return nil, nil, fmt.Errorf("store counter needs a store worker")
		}
		return worker.Counters(), noop, nil

	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			if worker == nil {
				return nil, nil, fmt.Errorf("quota.sqlite_path is required without a workspace")
			}
			path = filepath.Join(worker.BasePath(), "governance", "counters.db")
		}
		c, err := sqlite.Open(path)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("quota.postgres_dsn is required for the postgres backend")
		}
		c, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return c, func() error { c.Close(); return nil }, nil

	case "memory":
		return quota.NewMemoryCounter(), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown quota backend %q", cfg.Backend)
	}
}

func backendName(backend string) string {
	if b := strings.ToLower(strings.TrimSpace(backend)); b != "" {
		return b
	}
	return config.DefaultQuotaBackend
}

// GateOptions converts the quota section of the loaded configuration.
func GateOptions(cfg config.QuotaConfig) quota.Options {
	return quota.Options{
		Limit:            int64(cfg.MessageLimit),
		WarningRemaining: int64(cfg.WarningRemaining),
		Unlimited:        cfg.UnlimitedPrincipals,
	}
}

type QuotaGateComponent struct {
	cfg       config.QuotaConfig
	storeComp *StoreWorkerComponent
	gate      *quota.Gate
	closeFn   func() error
	mu        sync.RWMutex
}

func NewQuotaGateComponent(cfg config.QuotaConfig, storeComp *StoreWorkerComponent) *QuotaGateComponent {
	return &QuotaGateComponent{cfg: cfg, storeComp: storeComp}
}

func (q *QuotaGateComponent) Name() string {
	return QuotaGateName
}

func (q *QuotaGateComponent) Dependencies() []string {
	return []string{StoreWorkerName}
}

func (q *QuotaGateComponent) Init(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var worker *store.Worker
	if q.storeComp != nil {
		worker = q.storeComp.Worker()
	}

	counter, closeFn, err := OpenCounter(ctx, q.cfg, worker)
	if err != nil {
		return fmt.Errorf("open %s message counter: %w", q.cfg.Backend, err)
	}

	q.gate = quota.NewGate(counter, GateOptions(q.cfg))
	q.closeFn = closeFn
	slog.Info("QuotaGate initialized",
		"component", q.Name(),
		"backend", q.cfg.Backend,
		"limit", q.cfg.MessageLimit,
		"unlimited_principals", len(q.cfg.UnlimitedPrincipals),
	)
	return nil
}

func (q *QuotaGateComponent) Start(ctx context.Context) error {
	return nil
}

func (q *QuotaGateComponent) Stop(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closeFn == nil {
		return nil
	}
	err := q.closeFn()
	q.closeFn = nil
	return err
}

func (q *QuotaGateComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.gate == nil {
		return daemon.NotReady(q.Name(), "not initialized"), nil
	}
	return daemon.Healthy(q.Name(), map[string]string{
		"backend": backendName(q.cfg.Backend),
		"limit":   strconv.FormatInt(q.gate.Limit(), 10),
	}), nil
}

func (q *QuotaGateComponent) Gate() *quota.Gate {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.gate
}
