// Package orchestrator runs the agentic tool-calling loop for one user
// message: call the model, run the tools it asks for, feed the results back,
// and repeat until it answers or the round limit is hit.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/logger"
	"github.com/harunnryd/chorus/internal/model"
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/stream"
	"github.com/harunnryd/chorus/internal/tool"
)

// MaxRoundsSuffix is appended to the answer when the model keeps asking for
// tools past the round limit.
const MaxRoundsSuffix = "\n\n[Processing limit reached. Please continue the conversation if you need more help.]"

type Request struct {
	Message   string
	History   []contract.Message
	SessionID string
	UseTools  bool
	// Speaker starts the run. Empty means the catalog default.
	Speaker speaker.Speaker
}

type Options struct {
	MaxRounds    int
	SystemPrompt string
	MaxTokens    int
	Model        string
}

// OptionsFrom converts the orchestrator section of the loaded configuration.
func OptionsFrom(cfg config.OrchestratorConfig) Options {
	return Options{
		MaxRounds:    cfg.MaxRounds,
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
	}
}

type Loop struct {
	client  model.Client
	engine  *tool.Engine
	tracker *speaker.Tracker
	catalog *speaker.Catalog
	opts    Options
}

func NewLoop(client model.Client, engine *tool.Engine, catalog *speaker.Catalog, opts Options) *Loop {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = config.DefaultOrchestratorMaxRounds
	}
	if engine == nil {
		engine = tool.NewEngine(nil)
	}
	return &Loop{
		client:  client,
		engine:  engine,
		tracker: speaker.NewTracker(),
		catalog: catalog,
		opts:    opts,
	}
}

// Run drives one message to completion. Content and speaker_change events are
// sent on events in order; events may be nil. The caller owns events and
// closes it after Run returns.
//
// Model failures end the run with an error. Tool failures never do.
func (l *Loop) Run(ctx context.Context, req Request, events chan<- stream.Event) (*Result, error) {
	log := logger.From(ctx)

	state := &LoopState{
		CurrentSpeaker: l.startSpeaker(req.Speaker),
		step:           stateCallingModel,
	}
	// The caller's history is never appended to.
	state.messages = make([]contract.Message, 0, len(req.History)+1)
	state.messages = append(state.messages, req.History...)
	state.messages = append(state.messages, contract.Message{Role: contract.RoleUser, Content: req.Message})

	// At most MaxRounds tool steps, each followed by one model call.
	for guard := 0; state.step != stateDone; guard++ {
		if guard > 2*l.opts.MaxRounds+2 {
			return nil, fmt.Errorf("conversation loop did not terminate after %d steps", guard)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var err error
		switch state.step {
		case stateCallingModel:
			err = l.callModel(ctx, req, state, events)
		case stateExecutingTools:
			err = l.executeTools(ctx, req, state, events)
		}
		if err != nil {
			return nil, err
		}
	}

	// The last segment names the speaker the run ends with, text or not.
	if state.PendingHandoff != nil {
		if err := l.announceHandoff(ctx, state, events); err != nil {
			return nil, err
		}
	}

	log.Info("Conversation loop finished",
		"rounds", state.Round,
		"stop_reason", state.StopReason,
		"speaker", state.CurrentSpeaker,
		"tools", len(state.ToolsExecuted),
	)
	return state.snapshot(), nil
}

func (l *Loop) startSpeaker(requested speaker.Speaker) speaker.Speaker {
	if l.catalog == nil {
		if requested != "" {
			return speaker.Normalize(string(requested))
		}
		return speaker.Default
	}
	if requested != "" && l.catalog.Has(string(requested)) {
		return speaker.Normalize(string(requested))
	}
	return l.catalog.Default()
}

func (l *Loop) completionRequest(req Request, state *LoopState) contract.CompletionRequest {
	system := l.opts.SystemPrompt
	if l.catalog != nil {
		system = l.catalog.SystemPrompt(system, state.CurrentSpeaker)
	}

	cr := contract.CompletionRequest{
		Model:     l.opts.Model,
		System:    system,
		Messages:  state.messages,
		MaxTokens: l.opts.MaxTokens,
	}
	if req.UseTools {
		cr.Tools = l.engine.Definitions()
	}
	return cr
}

// callModel is the CALLING_MODEL step. The first call opens the run, later
// ones continue it with the accumulated tool exchange.
func (l *Loop) callModel(ctx context.Context, req Request, state *LoopState, events chan<- stream.Event) error {
	cr := l.completionRequest(req, state)

	var (
		resp *contract.CompletionResponse
		err  error
	)
	if state.Round == 0 {
		resp, err = l.client.Create(ctx, cr)
	} else {
		resp, err = l.client.Continue(ctx, cr)
	}
	if err != nil {
		return fmt.Errorf("model call in round %d: %w", state.Round, err)
	}
	if resp == nil {
		return fmt.Errorf("model call in round %d: empty response", state.Round)
	}

	state.Usage = state.Usage.Add(resp.Usage)
	state.last = resp

	if err := l.appendText(ctx, state, resp.Text, events); err != nil {
		return err
	}

	if req.UseTools && resp.WantsTools() {
		state.step = stateExecutingTools
		return nil
	}

	state.StopReason = resp.StopReason
	if state.StopReason == contract.StopToolUse || state.StopReason == "" {
		// tool_use with nothing to run is an ordinary end of turn.
		state.StopReason = contract.StopEndTurn
	}
	state.step = stateDone
	return nil
}

// executeTools is the EXECUTING_TOOLS step.
func (l *Loop) executeTools(ctx context.Context, req Request, state *LoopState, events chan<- stream.Event) error {
	log := logger.From(ctx)

	if state.Round >= l.opts.MaxRounds {
		log.Warn("Tool round limit reached", "max_rounds", l.opts.MaxRounds)
		state.StopReason = contract.StopMaxRounds
		state.step = stateDone
		return l.appendText(ctx, state, MaxRoundsSuffix, events)
	}
	state.Round++

	resp := state.last
	toolCtx := tool.WithInvocation(ctx, tool.Invocation{
		SessionID: req.SessionID,
		Speaker:   string(state.CurrentSpeaker),
	})
	results := l.engine.ExecuteAll(toolCtx, resp.ToolCalls)
	state.ToolsExecuted = append(state.ToolsExecuted, tool.Summarize(results)...)

	if err := ctx.Err(); err != nil {
		return err
	}

	previous := state.CurrentSpeaker
	next, reason, switched := l.tracker.ApplyResults(results, state.CurrentSpeaker)
	if switched {
		log.Info("Speaker handoff", "from", previous, "to", next, "reason", reason, "round", state.Round)
		state.CurrentSpeaker = next
		from := previous
		if state.PendingHandoff != nil {
			from = state.PendingHandoff.From
		}
		state.PendingHandoff = &speaker.Handoff{From: from, To: next, Reason: reason}
	}

	state.messages = append(state.messages,
		resp.AssistantMessage(),
		contract.Message{Role: contract.RoleUser, Blocks: tool.FormatResults(results)},
	)
	state.step = stateCallingModel
	return nil
}

// appendText adds model text to the answer. Text from a new round opens a
// new segment; a pending handoff is announced before the text it applies to.
func (l *Loop) appendText(ctx context.Context, state *LoopState, text string, events chan<- stream.Event) error {
	if text == "" {
		return nil
	}

	if state.PendingHandoff != nil {
		if err := l.announceHandoff(ctx, state, events); err != nil {
			return err
		}
	} else if n := len(state.Segments); n == 0 || state.Segments[n-1].Round != state.Round || state.Segments[n-1].Speaker != state.CurrentSpeaker {
		state.Segments = append(state.Segments, speaker.Segment{
			Speaker: state.CurrentSpeaker,
			Round:   state.Round,
		})
	}

	if needsSeparator(state.AccumulatedText, text) {
		text = "\n\n" + text
	}

	seg := &state.Segments[len(state.Segments)-1]
	seg.Content += text
	state.AccumulatedText += text

	return emit(ctx, events, stream.Content(text, string(state.CurrentSpeaker)))
}

// announceHandoff emits the pending speaker_change and opens the new
// speaker's segment, empty until text arrives.
func (l *Loop) announceHandoff(ctx context.Context, state *LoopState, events chan<- stream.Event) error {
	handoff := state.PendingHandoff
	state.PendingHandoff = nil
	if handoff.To != handoff.From {
		if err := emit(ctx, events, stream.SpeakerChange(string(handoff.To), handoff.Reason)); err != nil {
			return err
		}
	}
	state.Segments = append(state.Segments, speaker.Segment{
		Speaker:       state.CurrentSpeaker,
		HandoffReason: handoff.Reason,
		Round:         state.Round,
	})
	return nil
}

func needsSeparator(before, next string) bool {
	if before == "" {
		return false
	}
	return strings.TrimRight(before, " \t\r\n") == before && strings.TrimLeft(next, " \t\r\n") == next
}

func emit(ctx context.Context, events chan<- stream.Event, ev stream.Event) error {
	if events == nil {
		return nil
	}
	select {
	case events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
