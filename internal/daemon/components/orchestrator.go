package components

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/daemon"
	"github.com/harunnryd/chorus/internal/library"
	"github.com/harunnryd/chorus/internal/model"
	"github.com/harunnryd/chorus/internal/orchestrator"
	"github.com/harunnryd/chorus/internal/session"
	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/tool"

	// Built-in tools register themselves.
	_ "github.com/harunnryd/chorus/internal/tool/builtin"
)

const OrchestratorName = "Orchestrator"

// LanguageModel is a model client that can also embed text.
type LanguageModel interface {
	model.Client
	model.Embedder
}

type OrchestratorComponent struct {
	cfg         *config.Config
	storeComp   *StoreWorkerComponent
	observeComp *ObserveComponent

	llm      LanguageModel
	health   func(ctx context.Context) error
	catalog  *speaker.Catalog
	loop     *orchestrator.Loop
	sessions *session.Manager
	mu       sync.RWMutex
}

type OrchestratorOption func(*OrchestratorComponent)

// WithLanguageModel replaces the provider router built from models config.
func WithLanguageModel(llm LanguageModel) OrchestratorOption {
	return func(o *OrchestratorComponent) { o.llm = llm }
}

func NewOrchestratorComponent(cfg *config.Config, storeComp *StoreWorkerComponent, observeComp *ObserveComponent, opts ...OrchestratorOption) *OrchestratorComponent {
	o := &OrchestratorComponent{
		cfg:         cfg,
		storeComp:   storeComp,
		observeComp: observeComp,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *OrchestratorComponent) Name() string {
	return OrchestratorName
}

func (o *OrchestratorComponent) Dependencies() []string {
	return []string{StoreWorkerName, ObserveName}
}

func (o *OrchestratorComponent) Init(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.storeComp == nil || o.observeComp == nil {
		return fmt.Errorf("required component dependencies not provided")
	}
	worker := o.storeComp.Worker()
	metrics := o.observeComp.Metrics()
	if worker == nil || metrics == nil {
		return fmt.Errorf("required dependencies not initialized")
	}

	if o.llm == nil {
		router, err := model.NewRouter(o.cfg.Models)
		if err != nil {
			return fmt.Errorf("initialize model router: %w", err)
		}
		o.llm = router
		o.health = router.Health
	}

	catalog, err := speaker.LoadCatalog(o.cfg.Speakers.CatalogPath, speaker.Speaker(o.cfg.Speakers.Default))
	if err != nil {
		return fmt.Errorf("load persona catalog: %w", err)
	}

	tools, err := tool.InstantiateBuiltins(tool.BuiltinOptions{
		Speakers:      catalog,
		Bookmarks:     library.NewBookmarks(worker, o.llm, o.cfg.Tools.Bookmarks.Collection),
		Documents:     library.NewDocuments(worker),
		BookmarkLimit: o.cfg.Tools.Bookmarks.DefaultLimit,
	}, o.cfg.Tools.Enabled...)
	if err != nil {
		return fmt.Errorf("initialize tools: %w", err)
	}
	registry := tool.NewRegistry()
	for _, t := range tools {
		registry.Register(t)
	}

	toolTimeout, err := config.DurationOrDefault(o.cfg.Tools.Timeout, config.DefaultToolsTimeout)
	if err != nil {
		return fmt.Errorf("parse tools timeout: %w", err)
	}
	engine := tool.NewEngine(registry,
		tool.WithTimeout(toolTimeout),
		tool.WithObserver(metrics.RecordToolCall),
	)

	opts := orchestrator.OptionsFrom(o.cfg.Orchestrator)
	opts.Model = o.cfg.Models.Default

	o.catalog = catalog
	o.loop = orchestrator.NewLoop(o.llm, engine, catalog, opts)
	o.sessions = session.NewManager(worker, o.cfg.Orchestrator.HistoryLimit)

	slog.Info("Orchestrator initialized",
		"component", o.Name(),
		"model", o.cfg.Models.Default,
		"tools", registry.Names(),
		"personas", catalog.IDs(),
		"max_rounds", opts.MaxRounds,
	)
	return nil
}

func (o *OrchestratorComponent) Start(ctx context.Context) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.loop == nil {
		return fmt.Errorf("orchestrator not initialized")
	}
	return nil
}

func (o *OrchestratorComponent) Stop(ctx context.Context) error {
	return nil
}

func (o *OrchestratorComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.loop == nil {
		return daemon.NotReady(o.Name(), "not initialized"), nil
	}
	if o.health != nil {
		if err := o.health(ctx); err != nil {
			return daemon.Unhealthy(o.Name(), err), nil
		}
	}
	return daemon.Healthy(o.Name(), map[string]string{
		"model":    o.cfg.Models.Default,
		"personas": strings.Join(o.catalog.IDs(), ","),
	}), nil
}

func (o *OrchestratorComponent) Loop() *orchestrator.Loop {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.loop
}

func (o *OrchestratorComponent) Sessions() *session.Manager {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.sessions
}

func (o *OrchestratorComponent) Catalog() *speaker.Catalog {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog
}
