package components

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/chorus/internal/api"
	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/daemon"
)

const HTTPServerName = "HTTPServer"

type HTTPServerComponent struct {
	daemon      *daemon.Daemon
	cfg         *config.Config
	version     string
	gateComp    *QuotaGateComponent
	orchComp    *OrchestratorComponent
	observeComp *ObserveComponent
	storeComp   *StoreWorkerComponent

	server      *http.Server
	listener    net.Listener
	shutdownTTL time.Duration
	initialized bool
	started     bool
	mu          sync.RWMutex
}

func NewHTTPServerComponent(
	d *daemon.Daemon,
	cfg *config.Config,
	version string,
	storeComp *StoreWorkerComponent,
	gateComp *QuotaGateComponent,
	orchComp *OrchestratorComponent,
	observeComp *ObserveComponent,
) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:      d,
		cfg:         cfg,
		version:     version,
		storeComp:   storeComp,
		gateComp:    gateComp,
		orchComp:    orchComp,
		observeComp: observeComp,
	}
}

func (h *HTTPServerComponent) Name() string {
	return HTTPServerName
}

func (h *HTTPServerComponent) Dependencies() []string {
	return []string{StoreWorkerName, QuotaGateName, OrchestratorName, ObserveName}
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	apiOpts, err := api.OptionsFrom(h.cfg)
	if err != nil {
		return fmt.Errorf("parse stream options: %w", err)
	}

	apiServer, err := api.NewServer(h.gateComp.Gate(), h.orchComp.Loop(), apiOpts,
		api.WithSessions(h.orchComp.Sessions()),
		api.WithSessionLister(h.storeComp.Worker()),
		api.WithMetrics(h.observeComp.Metrics()),
	)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}

	mux := http.NewServeMux()
	apiServer.Register(mux)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", h.observeComp.Provider().Handler)

	server := h.cfg.Server
	readTimeout, err := config.DurationOrDefault(server.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(server.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(server.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(server.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	// WriteTimeout stays zero by default: streams can outlive any fixed bound,
	// and each frame has its own deadline instead.
	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", server.Port),
		Handler:      apiServer.Wrap(mux),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", server.Port)
	return nil
}

func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	// Listening synchronously surfaces "address in use" as a startup failure.
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
		}
	}()

	h.started = true
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case !h.initialized:
		return daemon.NotReady(h.Name(), "not initialized"), nil
	case !h.started:
		return daemon.NotReady(h.Name(), "not started"), nil
	}
	return daemon.Healthy(h.Name(), map[string]string{"addr": h.listener.Addr().String()}), nil
}

// Addr is the bound listener address once started.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}

type componentStatus struct {
	Healthy bool              `json:"healthy"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Components map[string]componentStatus `json:"components"`
}

func (h *HTTPServerComponent) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "ok",
		Version:    h.version,
		Components: map[string]componentStatus{},
	}
	code := http.StatusOK

	if h.daemon != nil {
		resp.Uptime = h.daemon.Uptime().Truncate(time.Second).String()
		for name, ch := range h.daemon.ComponentHealth() {
			status := componentStatus{Healthy: ch.Healthy, Details: ch.Details}
			if ch.Error != nil {
				status.Error = ch.Error.Error()
			}
			if !ch.Healthy {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
			resp.Components[name] = status
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
