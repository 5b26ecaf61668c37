package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	chorusErrors "github.com/harunnryd/chorus/internal/errors"
	"github.com/harunnryd/chorus/internal/logger"
	"github.com/harunnryd/chorus/internal/model/contract"
)

// UnknownToolMessage is the error message for calls naming no registered tool.
const UnknownToolMessage = "unknown tool"

// Result is the outcome of one tool call. Data is set only when Success is true.
// ErrorMessage is what the model sees; Err is the same failure wrapped in
// ErrToolFailed for the service's own logs.
type Result struct {
	ToolCallID   string
	ToolName     string
	Success      bool
	Data         Payload
	ErrorMessage string
	Err          error
}

// Observer is notified once per executed call.
type Observer func(ctx context.Context, name string, success bool, elapsed time.Duration)

type Engine struct {
	registry *Registry
	timeout  time.Duration
	observer Observer
}

type EngineOption func(*Engine)

// WithTimeout bounds each individual tool call. Zero means no bound.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

func WithObserver(o Observer) EngineOption {
	return func(e *Engine) { e.observer = o }
}

func NewEngine(registry *Registry, opts ...EngineOption) *Engine {
	if registry == nil {
		registry = NewRegistry()
	}
	e := &Engine{registry: registry}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Definitions() []contract.ToolDef {
	return e.registry.Definitions()
}

// ExecuteAll runs calls sequentially in the given order and returns exactly
// one Result per call at the same index. A failing call never affects the
// others.
func (e *Engine) ExecuteAll(ctx context.Context, calls []contract.ToolCall) []Result {
	results := make([]Result, len(calls))
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			results[i] = failed(call, fmt.Sprintf("cancelled: %v", err))
			continue
		}
		results[i] = e.execute(ctx, call)
	}
	return results
}

func (e *Engine) execute(ctx context.Context, call contract.ToolCall) (res Result) {
	log := logger.From(ctx)
	name := NormalizeToolName(call.Name)

	t, ok := e.registry.Get(name)
	if !ok {
		log.Warn("Unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return failed(call, UnknownToolMessage)
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if err := ValidateInput(t.Parameters(), input); err != nil {
		log.Warn("Tool input validation failed", "tool", name, "error", err)
		return failed(call, fmt.Sprintf("invalid input: %v", err))
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("Tool panicked", "tool", name, "panic", r)
			res = failed(call, fmt.Sprintf("tool panicked: %v", r))
		}
		if e.observer != nil {
			e.observer(ctx, name, res.Success, time.Since(start))
		}
	}()

	log.Info("Executing tool", "tool", name, "call_id", call.ID)
	payload, err := t.Execute(callCtx, input)
	duration := time.Since(start)
	if err != nil {
		res = failed(call, err.Error())
		log.Warn("Tool execution failed", "tool", name, "error", res.Err, "duration", duration)
		return res
	}
	if payload == nil {
		return failed(call, "tool returned no data")
	}

	log.Info("Tool execution success", "tool", name, "duration", duration)
	return Result{
		ToolCallID: call.ID,
		ToolName:   name,
		Success:    true,
		Data:       payload,
	}
}

func failed(call contract.ToolCall, msg string) Result {
	return Result{
		ToolCallID:   call.ID,
		ToolName:     call.Name,
		Success:      false,
		ErrorMessage: msg,
		Err:          fmt.Errorf("tool %s: %w: %s", call.Name, chorusErrors.ErrToolFailed, msg),
	}
}
