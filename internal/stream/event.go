package stream

import (
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/tool"
)

type EventType string

const (
	TypeMetadata      EventType = "metadata"
	TypeContent       EventType = "content"
	TypeSpeakerChange EventType = "speaker_change"
	TypeComplete      EventType = "complete"
	TypeError         EventType = "error"
)

// DoneSentinel is the payload of the terminal frame.
const DoneSentinel = "[DONE]"

// Event is one decoded frame. Which fields are populated depends on Type.
type Event struct {
	Type EventType `json:"type"`

	// metadata
	Metadata map[string]any `json:"metadata,omitempty"`

	// content and speaker_change
	Content       string `json:"content,omitempty"`
	Speaker       string `json:"speaker,omitempty"`
	HandoffReason string `json:"handoffReason,omitempty"`

	// complete
	Usage         *contract.Usage `json:"usage,omitempty"`
	LimitStatus   *quota.Status   `json:"limitStatus,omitempty"`
	ToolsExecuted []tool.Summary  `json:"toolsExecuted,omitempty"`
	Rounds        *int            `json:"rounds,omitempty"`

	// error
	Error      string `json:"error,omitempty"`
	Retryable  *bool  `json:"retryable,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Completion is the summary carried by the complete frame.
type Completion struct {
	Usage         *contract.Usage
	LimitStatus   *quota.Status
	ToolsExecuted []tool.Summary
	Rounds        int
	Speaker       string
}

// Metadata opens a stream with whatever session context the server echoes.
func Metadata(meta map[string]any) Event {
	return Event{Type: TypeMetadata, Metadata: meta}
}

func Content(content, speaker string) Event {
	return Event{Type: TypeContent, Content: content, Speaker: speaker}
}

func SpeakerChange(speaker, reason string) Event {
	return Event{Type: TypeSpeakerChange, Speaker: speaker, HandoffReason: reason}
}

func Complete(c Completion) Event {
	rounds := c.Rounds
	tools := c.ToolsExecuted
	if tools == nil {
		tools = []tool.Summary{}
	}
	return Event{
		Type:          TypeComplete,
		Usage:         c.Usage,
		LimitStatus:   c.LimitStatus,
		ToolsExecuted: tools,
		Rounds:        &rounds,
		Speaker:       c.Speaker,
	}
}

func Error(message string, retryable bool, suggestion string) Event {
	return Event{Type: TypeError, Error: message, Retryable: &retryable, Suggestion: suggestion}
}
