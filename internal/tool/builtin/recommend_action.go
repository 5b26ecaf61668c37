package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	toolcore "github.com/harunnryd/chorus/internal/tool"
)

func init() {
	toolcore.RegisterBuiltin(toolcore.NameRecommendAction, func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		return &RecommendActionTool{}, nil
	})
}

// RecommendActionTool records a concrete next step for the user.
type RecommendActionTool struct{}

func (t *RecommendActionTool) Name() string {
	return toolcore.NameRecommendAction
}

func (t *RecommendActionTool) Description() string {
	return "Recommend one concrete next action to the user, with a rationale and a priority."
}

func (t *RecommendActionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "The action, phrased as an instruction",
				"minLength":   1,
			},
			"rationale": map[string]interface{}{
				"type":        "string",
				"description": "Why this action helps",
			},
			"priority": map[string]interface{}{
				"type": "string",
				"enum": []string{string(toolcore.PriorityLow), string(toolcore.PriorityMedium), string(toolcore.PriorityHigh)},
			},
		},
		"required": []string{"action"},
	}
}

func (t *RecommendActionTool) Execute(ctx context.Context, input json.RawMessage) (toolcore.Payload, error) {
	var args struct {
		Action    string `json:"action"`
		Rationale string `json:"rationale"`
		Priority  string `json:"priority"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}

	action := strings.TrimSpace(args.Action)
	if action == "" {
		return nil, fmt.Errorf("action is required")
	}

	priority := toolcore.Priority(strings.ToLower(strings.TrimSpace(args.Priority)))
	if priority == "" {
		priority = toolcore.PriorityMedium
	}

	return toolcore.RecommendationOutcome{
		Action:    action,
		Rationale: strings.TrimSpace(args.Rationale),
		Priority:  priority,
	}, nil
}
