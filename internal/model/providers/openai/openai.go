package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/chorus/internal/model/contract"

	"github.com/sashabaranov/go-openai"
)

type Provider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func New(apiKey, baseURL, model string, maxTokens int) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	return &Provider{client: openai.NewClientWithConfig(cfg), model: model, maxTokens: maxTokens}
}

func (p *Provider) Name() string {
	return "openai"
}

func (p *Provider) Type() string {
	return "openai"
}

func (p *Provider) Health(ctx context.Context) error {
	return nil
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	messages := toChatMessages(req)

	var tools []openai.Tool
	for _, t := range req.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("invalid model output: no choices returned")
	}

	choice := resp.Choices[0]
	result := &contract.CompletionResponse{
		Text: choice.Message.Content,
		Usage: contract.Usage{
			InputTokens:  int64(resp.Usage.PromptTokens),
			OutputTokens: int64(resp.Usage.CompletionTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", len(result.ToolCalls)+1)
		}
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		result.ToolCalls = append(result.ToolCalls, contract.ToolCall{
			ID:    id,
			Name:  tc.Function.Name,
			Input: args,
		})
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		result.StopReason = contract.StopToolUse
	case openai.FinishReasonLength:
		result.StopReason = contract.StopMaxTokens
	default:
		result.StopReason = contract.StopEndTurn
	}

	return result, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

// toChatMessages flattens block-structured turns into the chat completion
// shape: tool_use blocks become assistant tool_calls and every tool_result
// block becomes its own "tool" message.
func toChatMessages(req contract.CompletionRequest) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}

	for _, m := range req.Messages {
		if len(m.Blocks) == 0 {
			messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
			continue
		}

		var text strings.Builder
		var calls []openai.ToolCall
		for _, b := range m.Blocks {
			switch b.Type {
			case contract.BlockText:
				text.WriteString(b.Text)
			case contract.BlockToolUse:
				calls = append(calls, openai.ToolCall{
					ID:   b.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Name,
						Arguments: string(b.Input),
					},
				})
			case contract.BlockToolResult:
				messages = append(messages, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.Content,
					ToolCallID: b.ToolUseID,
				})
			}
		}

		if text.Len() > 0 || len(calls) > 0 {
			messages = append(messages, openai.ChatCompletionMessage{
				Role:      m.Role,
				Content:   text.String(),
				ToolCalls: calls,
			})
		}
	}

	return messages
}
