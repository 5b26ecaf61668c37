package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	toolcore "github.com/harunnryd/chorus/internal/tool"
)

func init() {
	toolcore.RegisterBuiltin(toolcore.NameSwitchSpeaker, func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		if options.Speakers == nil {
			return nil, fmt.Errorf("speaker directory is required")
		}
		return &SwitchSpeakerTool{speakers: options.Speakers}, nil
	})
}

// SwitchSpeakerTool hands the conversation to another persona. It only
// validates and reports the switch; the conversation loop applies it.
type SwitchSpeakerTool struct {
	speakers toolcore.SpeakerDirectory
}

func (t *SwitchSpeakerTool) Name() string {
	return toolcore.NameSwitchSpeaker
}

func (t *SwitchSpeakerTool) Description() string {
	return "Hand the rest of this answer to another persona. Use when the user asks for a different voice or expertise. Available speakers: " +
		strings.Join(t.speakers.IDs(), ", ") + "."
}

func (t *SwitchSpeakerTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"speaker": map[string]interface{}{
				"type":        "string",
				"description": "Id of the persona that should speak next",
				"enum":        t.speakers.IDs(),
			},
			"reason": map[string]interface{}{
				"type":        "string",
				"description": "Short, user-visible reason for the handoff",
			},
		},
		"required": []string{"speaker"},
	}
}

func (t *SwitchSpeakerTool) Execute(ctx context.Context, input json.RawMessage) (toolcore.Payload, error) {
	var args struct {
		Speaker string `json:"speaker"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	speaker := strings.ToLower(strings.TrimSpace(args.Speaker))
	if !t.speakers.Has(speaker) {
		return nil, fmt.Errorf("unknown speaker %q", args.Speaker)
	}

	return toolcore.SwitchSpeakerOutcome{
		NewSpeaker: speaker,
		Reason:     strings.TrimSpace(args.Reason),
	}, nil
}
