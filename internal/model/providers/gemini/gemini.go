package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/harunnryd/chorus/internal/model/contract"

	"google.golang.org/genai"
)

const defaultEmbeddingModel = "text-embedding-004"

type Provider struct {
	client    *genai.Client
	model     string
	maxTokens int
}

func New(apiKey, model string, maxTokens int) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model, maxTokens: maxTokens}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) Type() string {
	return "gemini"
}

func (p *Provider) Health(ctx context.Context) error {
	return nil
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	contents := toContents(req.Messages)

	var tools []*genai.Tool
	if len(req.Tools) > 0 {
		var decls []*genai.FunctionDeclaration
		for _, t := range req.Tools {
			b, _ := json.Marshal(t.Parameters)
			var schema genai.Schema
			_ = json.Unmarshal(b, &schema)
			decls = append(decls, &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: &schema})
		}
		tools = append(tools, &genai.Tool{FunctionDeclarations: decls})
	}

	cfg := &genai.GenerateContentConfig{Tools: tools}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	out := &contract.CompletionResponse{StopReason: contract.StopEndTurn}
	if resp == nil {
		return out, nil
	}

	for i, fc := range resp.FunctionCalls() {
		argsJSON, _ := json.Marshal(fc.Args)
		id := fc.ID
		if id == "" {
			id = fmt.Sprintf("%s_%d", fc.Name, i+1)
		}
		out.ToolCalls = append(out.ToolCalls, contract.ToolCall{ID: id, Name: fc.Name, Input: argsJSON})
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part.Text != "" {
				out.Text += part.Text
			}
		}
		if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
			out.StopReason = contract.StopMaxTokens
		}
	}

	// Gemini reports STOP even when it asks for functions.
	if len(out.ToolCalls) > 0 {
		out.StopReason = contract.StopToolUse
	}

	if resp.UsageMetadata != nil {
		out.Usage = contract.Usage{
			InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
		}
	}

	return out, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Models.EmbedContent(ctx, defaultEmbeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini embedding returned empty result")
	}

	return resp.Embeddings[0].Values, nil
}

func toContents(messages []contract.Message) []*genai.Content {
	// Function responses are keyed by name, so remember which call id named what.
	names := make(map[string]string)
	var contents []*genai.Content

	for _, m := range messages {
		role := "user"
		if m.Role == contract.RoleAssistant {
			role = "model"
		}

		var parts []*genai.Part
		for _, b := range m.ContentBlocks() {
			switch b.Type {
			case contract.BlockText:
				parts = append(parts, &genai.Part{Text: b.Text})
			case contract.BlockToolUse:
				var args map[string]any
				_ = json.Unmarshal(b.Input, &args)
				names[b.ID] = b.Name
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{ID: b.ID, Name: b.Name, Args: args}})
			case contract.BlockToolResult:
				var obj map[string]any
				if err := json.Unmarshal([]byte(b.Content), &obj); err != nil {
					obj = map[string]any{"output": b.Content}
				}
				name := names[b.ToolUseID]
				if name == "" {
					name = b.ToolUseID
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{ID: b.ToolUseID, Name: name, Response: obj}})
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}

	return contents
}
