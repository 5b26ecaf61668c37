package components

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/daemon"
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/store"
	"github.com/harunnryd/chorus/internal/stream"
	"github.com/harunnryd/chorus/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedModel hands off to taylor when asked to, and otherwise answers
// in plain text.
type scriptedModel struct {
	mu       sync.Mutex
	requests []contract.CompletionRequest
}

func (m *scriptedModel) record(req contract.CompletionRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
}

func (m *scriptedModel) Create(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	m.record(req)
	last := req.Messages[len(req.Messages)-1]
	if strings.Contains(last.Content, "handoff") {
		return &contract.CompletionResponse{
			Text: "Let me get Taylor.",
			ToolCalls: []contract.ToolCall{{
				ID:    "call-1",
				Name:  tool.NameSwitchSpeaker,
				Input: json.RawMessage(`{"speaker":"taylor","reason":"blunt feedback"}`),
			}},
			StopReason: contract.StopToolUse,
			Usage:      contract.Usage{InputTokens: 10, OutputTokens: 5},
		}, nil
	}
	return &contract.CompletionResponse{Text: "Still here.", StopReason: contract.StopEndTurn}, nil
}

func (m *scriptedModel) Continue(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	m.record(req)
	return &contract.CompletionResponse{
		Text:       "Your plan lacks a budget.",
		StopReason: contract.StopEndTurn,
		Usage:      contract.Usage{InputTokens: 20, OutputTokens: 7},
	}, nil
}

func (m *scriptedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (m *scriptedModel) lastRequest() contract.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[len(m.requests)-1]
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{Port: freePort(t)},
		Models: config.ModelsConfig{Default: "scripted"},
		Quota: config.QuotaConfig{
			Backend:          "store",
			MessageLimit:     2,
			WarningRemaining: 1,
		},
		Orchestrator: config.OrchestratorConfig{MaxRounds: 5, SystemPrompt: "You are helpful."},
		Stream:       config.StreamConfig{BufferSize: 8},
		Speakers:     config.SpeakersConfig{Default: "assistant"},
		Tools: config.ToolsConfig{
			Bookmarks: config.BookmarksConfig{Collection: "bookmarks", DefaultLimit: 3},
		},
		Daemon: config.DaemonConfig{
			WorkspacePath:       t.TempDir(),
			HealthCheckInterval: "1h",
			ShutdownTimeout:     "5s",
		},
		Observe: config.ObserveConfig{MetricsEnabled: true, ServiceName: "chorus-test"},
	}
}

func startDaemon(t *testing.T, cfg *config.Config, llm LanguageModel) (string, func()) {
	t.Helper()

	d, err := daemon.NewDaemon("it", cfg)
	require.NoError(t, err)

	storeComp := NewStoreWorkerComponent("it", cfg.Daemon.WorkspacePath, cfg.Store)
	observeComp := NewObserveComponent(cfg.Observe, "test")
	gateComp := NewQuotaGateComponent(cfg.Quota, storeComp)
	orchComp := NewOrchestratorComponent(cfg, storeComp, observeComp, WithLanguageModel(llm))
	httpComp := NewHTTPServerComponent(d, cfg, "test", storeComp, gateComp, orchComp, observeComp)

	// Registration order differs from dependency order on purpose.
	d.AddComponent(httpComp)
	d.AddComponent(orchComp)
	d.AddComponent(gateComp)
	d.AddComponent(observeComp)
	d.AddComponent(storeComp)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return d.Health() == daemon.StatusRunning }, 5*time.Second, 10*time.Millisecond)

	stop := func() {
		cancel()
		select {
		case err := <-errCh:
			assert.True(t, err == nil || errors.Is(err, context.Canceled), "unexpected daemon error: %v", err)
		case <-time.After(10 * time.Second):
			t.Error("daemon did not stop")
		}
	}
	return fmt.Sprintf("http://%s", httpComp.Addr()), stop
}

func chat(t *testing.T, baseURL, sessionID, message string) (*http.Response, []stream.Event) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"message": message,
		"session": map[string]any{"id": sessionID, "principal": "user@example.com"},
	})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	var events []stream.Event
	require.NoError(t, stream.Decode(resp.Body, func(ev stream.Event) error {
		events = append(events, ev)
		return nil
	}))
	return resp, events
}

func TestDaemon_ChatEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	llm := &scriptedModel{}
	baseURL, stop := startDaemon(t, cfg, llm)
	defer stop()

	resp, events := chat(t, baseURL, "s-1", "please handoff my plan")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, events)

	var types []stream.EventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []stream.EventType{
		stream.TypeMetadata, stream.TypeContent, stream.TypeSpeakerChange, stream.TypeContent, stream.TypeComplete,
	}, types)

	complete := events[len(events)-1]
	assert.Equal(t, "taylor", complete.Speaker)
	require.NotNil(t, complete.LimitStatus)
	assert.Equal(t, int64(1), complete.LimitStatus.CurrentCount)
	assert.True(t, complete.LimitStatus.WarningThreshold)
	assert.Equal(t, int64(42), complete.Usage.Total())

	// The second turn replays the stored transcript and keeps Taylor speaking.
	resp, events = chat(t, baseURL, "s-1", "what next?")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "taylor", events[0].Metadata["speaker"])

	req := llm.lastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "please handoff my plan", req.Messages[0].Content)
	assert.Equal(t, "Let me get Taylor.\n\nYour plan lacks a budget.", req.Messages[1].Content)
	assert.Contains(t, req.System, "Taylor")

	resp, _ = chat(t, baseURL, "s-1", "one more")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	limitResp, err := http.Get(baseURL + "/api/v1/sessions/s-1/limit")
	require.NoError(t, err)
	defer limitResp.Body.Close()
	var status map[string]any
	require.NoError(t, json.NewDecoder(limitResp.Body).Decode(&status))
	assert.Equal(t, true, status["limitReached"])
	assert.EqualValues(t, 3, status["currentCount"])

	sessResp, err := http.Get(baseURL + "/api/v1/sessions")
	require.NoError(t, err)
	defer sessResp.Body.Close()
	var listing struct {
		Sessions []store.SessionMeta `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(sessResp.Body).Decode(&listing))
	require.Len(t, listing.Sessions, 1)
	assert.Equal(t, 2, listing.Sessions[0].Turns)
	assert.Equal(t, "taylor", listing.Sessions[0].Speaker)
}

func TestDaemon_HealthAndMetrics(t *testing.T) {
	cfg := testConfig(t)
	baseURL, stop := startDaemon(t, cfg, &scriptedModel{})
	defer stop()

	resp, _ := chat(t, baseURL, "s-2", "hello")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	healthResp, err := http.Get(baseURL + "/health")
	require.NoError(t, err)
	defer healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)

	var health healthResponse
	require.NoError(t, json.NewDecoder(healthResp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	for _, name := range []string{StoreWorkerName, QuotaGateName, OrchestratorName, ObserveName, HTTPServerName} {
		assert.True(t, health.Components[name].Healthy, name)
	}
	assert.Equal(t, "store", health.Components[QuotaGateName].Details["backend"])
	assert.Equal(t, "2", health.Components[QuotaGateName].Details["limit"])
	assert.Contains(t, health.Components[OrchestratorName].Details["personas"], "taylor")
	assert.NotEmpty(t, health.Components[HTTPServerName].Details["addr"])

	metricsResp, err := http.Get(baseURL + "/metrics")
	require.NoError(t, err)
	defer metricsResp.Body.Close()
	data, err := io.ReadAll(metricsResp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chorus_quota_decisions")
	assert.Contains(t, string(data), "chorus_chat_requests")
}

func TestDaemon_SecondInstanceIsLockedOut(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.LockTimeout = "50ms"
	cfg.Store.LockRetry = "10ms"
	_, stop := startDaemon(t, cfg, &scriptedModel{})
	defer stop()

	second := NewStoreWorkerComponent("it", cfg.Daemon.WorkspacePath, cfg.Store)
	err := second.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrWorkspaceLocked)
}

func TestOpenCounter(t *testing.T) {
	ctx := context.Background()

	c, closeFn, err := OpenCounter(ctx, config.QuotaConfig{Backend: "memory"}, nil)
	require.NoError(t, err)
	n, err := c.Increment(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, closeFn())

	path := t.TempDir() + "/counters.db"
	c, closeFn, err = OpenCounter(ctx, config.QuotaConfig{Backend: "sqlite", SQLitePath: path}, nil)
	require.NoError(t, err)
	n, err = c.Increment(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, closeFn())

	_, _, err = OpenCounter(ctx, config.QuotaConfig{Backend: "store"}, nil)
	assert.Error(t, err)
	_, _, err = OpenCounter(ctx, config.QuotaConfig{Backend: "postgres"}, nil)
	assert.Error(t, err)
	_, _, err = OpenCounter(ctx, config.QuotaConfig{Backend: "redis"}, nil)
	assert.Error(t, err)
}
