// Package daemon runs the service as a set of components with declared
// dependencies: ordered startup, periodic health probes and reverse-order
// shutdown. Signal handling belongs to the caller's context.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/store"
)

type timings struct {
	shutdown        time.Duration
	startupShutdown time.Duration
	staleLockTTL    time.Duration
	healthInterval  time.Duration
}

func parseTimings(c config.DaemonConfig) (timings, error) {
	var t timings
	for _, f := range []struct {
		name  string
		value string
		def   string
		dst   *time.Duration
	}{
		{"shutdown_timeout", c.ShutdownTimeout, config.DefaultDaemonShutdownTimeout, &t.shutdown},
		{"startup_shutdown_timeout", c.StartupShutdownTimeout, config.DefaultDaemonStartupShutdownTimeout, &t.startupShutdown},
		{"stale_lock_ttl", c.StaleLockTTL, config.DefaultDaemonStaleLockTTL, &t.staleLockTTL},
		{"health_check_interval", c.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval, &t.healthInterval},
	} {
		d, err := config.DurationOrDefault(f.value, f.def)
		if err != nil {
			return timings{}, fmt.Errorf("daemon.%s: %w", f.name, err)
		}
		*f.dst = d
	}
	if t.healthInterval == 0 {
		return timings{}, fmt.Errorf("daemon.health_check_interval must be positive")
	}
	return t, nil
}

type Daemon struct {
	cfg         *config.Config
	workspaceID string
	timings     timings

	mu           sync.RWMutex
	components   []Component
	started      []string // init order of components that came up
	health       HealthStatus
	runningSince time.Time
	forceCleanup bool

	// last known health per component, owned by the monitor goroutine
	lastHealthy map[string]bool
}

func NewDaemon(workspaceID string, cfg *config.Config) (*Daemon, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace ID cannot be empty")
	}
	t, err := parseTimings(cfg.Daemon)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		cfg:         cfg,
		workspaceID: workspaceID,
		timings:     t,
		health:      StatusStarting,
		lastHealthy: make(map[string]bool),
	}, nil
}

func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.components = append(d.components, comp)
	slog.Debug("Component registered", "component", comp.Name(), "total_components", len(d.components))
}

// Start brings every component up and blocks until ctx is done, then stops
// them in reverse order. It returns ctx.Err() after a clean shutdown.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Chorus daemon starting", "workspace", d.workspaceID)

	if err := d.prepareWorkspace(); err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := d.initializeComponents(ctx); err != nil {
		d.rollback(context.WithoutCancel(ctx))
		return fmt.Errorf("component initialization failed: %w", err)
	}

	if err := d.startComponents(ctx); err != nil {
		_ = d.gracefulShutdown(context.WithoutCancel(ctx), d.timings.startupShutdown)
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.mu.Lock()
	d.health = StatusRunning
	d.runningSince = time.Now()
	d.mu.Unlock()
	slog.Info("Chorus daemon is running", "workspace", d.workspaceID, "components", len(d.components))

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		d.monitorHealth(monitorCtx)
	}()

	<-ctx.Done()
	stopMonitor()
	<-monitorDone

	slog.Info("Shutting down", "workspace", d.workspaceID, "reason", context.Cause(ctx))
	d.setHealth(StatusStopping)
	if err := d.gracefulShutdown(context.Background(), d.timings.shutdown); err != nil {
		return err
	}
	return ctx.Err()
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

// Uptime is zero until the daemon is running.
func (d *Daemon) Uptime() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.runningSince.IsZero() {
		return 0
	}
	return time.Since(d.runningSince)
}

func (d *Daemon) WorkspaceID() string {
	return d.workspaceID
}

// SetForceCleanup removes workspace locks regardless of age on the next start.
func (d *Daemon) SetForceCleanup(force bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forceCleanup = force
}

// ComponentHealth probes every registered component. A probe error or a nil
// report counts as unhealthy.
func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	result := make(map[string]*ComponentHealth)
	for _, comp := range d.snapshot() {
		health, err := comp.Health(context.Background())
		switch {
		case err != nil:
			health = Unhealthy(comp.Name(), err)
		case health == nil:
			health = NotReady(comp.Name(), "no health report")
		}
		result[comp.Name()] = health
	}
	return result
}

func (d *Daemon) Component(name string) Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(name)
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

func (d *Daemon) snapshot() []Component {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.components)
}

// lookup expects d.mu to be held.
func (d *Daemon) lookup(name string) Component {
	for _, comp := range d.components {
		if comp.Name() == name {
			return comp
		}
	}
	return nil
}

// prepareWorkspace checks the listen port, creates the workspace directory and
// clears locks left behind by a crashed process.
func (d *Daemon) prepareWorkspace() error {
	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", d.cfg.Server.Port)
	}

	workspacePath, err := store.GetWorkspacePath(d.workspaceID, d.cfg.Daemon.WorkspacePath)
	if err != nil {
		return fmt.Errorf("resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(workspacePath, 0755); err != nil {
		return fmt.Errorf("create workspace directory: %w", err)
	}

	d.mu.RLock()
	force := d.forceCleanup
	d.mu.RUnlock()
	if err := store.CleanupStaleLocks(workspacePath, d.timings.staleLockTTL, force); err != nil {
		slog.Warn("Failed to cleanup stale locks", "workspace", d.workspaceID, "error", err)
	}

	slog.Info("Workspace ready", "workspace", d.workspaceID, "path", workspacePath, "port", d.cfg.Server.Port)
	return nil
}

func (d *Daemon) initializeComponents(ctx context.Context) error {
	order, err := d.initOrder()
	if err != nil {
		return err
	}

	for _, comp := range order {
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", comp.Name(), "error", err)
			return fmt.Errorf("component %s init failed: %w", comp.Name(), err)
		}
		d.mu.Lock()
		d.started = append(d.started, comp.Name())
		d.mu.Unlock()
		slog.Debug("Component initialized", "component", comp.Name())
	}

	slog.Info("All components initialized", "count", len(order))
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	d.mu.RLock()
	names := slices.Clone(d.started)
	d.mu.RUnlock()

	for _, name := range names {
		if err := d.Component(name).Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		slog.Debug("Component started", "component", name)
	}

	slog.Info("All components started", "count", len(names))
	return nil
}

func (d *Daemon) gracefulShutdown(ctx context.Context, timeout time.Duration) error {
	slog.Info("Graceful shutdown initiated", "workspace", d.workspaceID, "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.shutdownComponents(shutdownCtx) }()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Shutdown completed with error", "workspace", d.workspaceID, "error", err)
		} else {
			slog.Info("Graceful shutdown completed", "workspace", d.workspaceID)
		}
		return err
	case <-shutdownCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
		slog.Error("Shutdown timeout exceeded", "workspace", d.workspaceID, "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// shutdownComponents stops started components newest first. A failing Stop
// is recorded and the rest still get stopped.
func (d *Daemon) shutdownComponents(ctx context.Context) error {
	d.mu.Lock()
	names := d.started
	d.started = nil
	d.mu.Unlock()

	var errs []error
	for _, name := range slices.Backward(names) {
		comp := d.Component(name)
		if comp == nil {
			continue
		}
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		slog.Debug("Component stopped", "component", name)
	}

	d.setHealth(StatusStopped)
	return errors.Join(errs...)
}

func (d *Daemon) rollback(ctx context.Context) {
	slog.Warn("Rolling back initialized components", "workspace", d.workspaceID)
	if err := d.shutdownComponents(ctx); err != nil {
		slog.Error("Rollback incomplete", "error", err)
	}
}

func (d *Daemon) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(d.timings.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.checkComponentHealth()
		}
	}
}

// checkComponentHealth logs components whose health changed since the last
// probe and returns their names.
func (d *Daemon) checkComponentHealth() []string {
	var changed []string
	for name, h := range d.ComponentHealth() {
		prev, seen := d.lastHealthy[name]
		d.lastHealthy[name] = h.Healthy
		if seen && prev == h.Healthy || !seen && h.Healthy {
			continue
		}
		changed = append(changed, name)
		if h.Healthy {
			slog.Info("Component recovered", "component", name)
		} else {
			slog.Warn("Component unhealthy", "component", name, "error", h.Error, "details", h.Details)
		}
	}
	slices.Sort(changed)
	return changed
}

// initOrder sorts components so each comes after its dependencies. Among
// components whose dependencies are satisfied, registration order wins.
func (d *Daemon) initOrder() ([]Component, error) {
	comps := d.snapshot()

	pending := make(map[string]int, len(comps))
	dependents := make(map[string][]string)
	for _, comp := range comps {
		pending[comp.Name()] = 0
	}
	for _, comp := range comps {
		for _, dep := range comp.Dependencies() {
			if _, ok := pending[dep]; !ok {
				return nil, fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), dep)
			}
			pending[comp.Name()]++
			dependents[dep] = append(dependents[dep], comp.Name())
		}
	}

	order := make([]Component, 0, len(comps))
	placed := make(map[string]bool, len(comps))
	for len(order) < len(comps) {
		progressed := false
		for _, comp := range comps {
			name := comp.Name()
			if placed[name] || pending[name] > 0 {
				continue
			}
			placed[name] = true
			order = append(order, comp)
			for _, next := range dependents[name] {
				pending[next]--
			}
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, comp := range comps {
				if !placed[comp.Name()] {
					stuck = append(stuck, comp.Name())
				}
			}
			return nil, fmt.Errorf("circular dependency among %v", stuck)
		}
	}
	return order, nil
}
