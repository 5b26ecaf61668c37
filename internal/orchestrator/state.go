package orchestrator

import (
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/tool"
)

type loopStep int

const (
	stateCallingModel loopStep = iota
	stateExecutingTools
	stateDone
)

func (s loopStep) String() string {
	switch s {
	case stateCallingModel:
		return "calling_model"
	case stateExecutingTools:
		return "executing_tools"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// LoopState is owned by a single run and threaded through the step
// functions by pointer.
type LoopState struct {
	Round           int
	CurrentSpeaker  speaker.Speaker
	AccumulatedText string
	ToolsExecuted   []tool.Summary
	Segments        []speaker.Segment
	StopReason      contract.StopReason
	// PendingHandoff is a speaker change not yet announced to the client.
	PendingHandoff *speaker.Handoff
	Usage           contract.Usage

	step     loopStep
	messages []contract.Message
	last     *contract.CompletionResponse
}

// Result is the caller's copy of a finished run.
type Result struct {
	FinalText      string
	ToolsExecuted  []tool.Summary
	Rounds         int
	Segments       []speaker.Segment
	CurrentSpeaker speaker.Speaker
	StopReason     contract.StopReason
	Usage          contract.Usage
}

func (s *LoopState) snapshot() *Result {
	tools := make([]tool.Summary, len(s.ToolsExecuted))
	copy(tools, s.ToolsExecuted)
	segments := make([]speaker.Segment, len(s.Segments))
	copy(segments, s.Segments)

	return &Result{
		FinalText:      s.AccumulatedText,
		ToolsExecuted:  tools,
		Rounds:         s.Round,
		Segments:       segments,
		CurrentSpeaker: s.CurrentSpeaker,
		StopReason:     s.StopReason,
		Usage:          s.Usage,
	}
}
