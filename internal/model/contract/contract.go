package contract

import "encoding/json"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one structured piece of a message. Which fields are set
// depends on Type: Text for text, ID/Name/Input for tool_use,
// ToolUseID/Content/IsError for tool_result.
type ContentBlock struct {
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Message is a single conversation turn. When Blocks is non-empty it is
// authoritative and Content is ignored by providers.
type Message struct {
	Role    string         `json:"role"`
	Content string         `json:"content"`
	Blocks  []ContentBlock `json:"blocks,omitempty"`
}

// ContentBlocks returns the message as blocks, lifting plain Content into a
// single text block.
func (m Message) ContentBlocks() []ContentBlock {
	if len(m.Blocks) > 0 {
		return m.Blocks
	}
	if m.Content == "" {
		return nil
	}
	return []ContentBlock{TextBlock(m.Content)}
}

func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

func ToolUseBlock(call ToolCall) ContentBlock {
	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	return ContentBlock{Type: BlockToolUse, ID: call.ID, Name: call.Name, Input: input}
}

func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Content: content, IsError: isError}
}

type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	// StopMaxRounds is set by the conversation loop, never by a provider.
	StopMaxRounds StopReason = "max_rounds"
)

type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

func (u Usage) Total() int64 {
	return u.InputTokens + u.OutputTokens
}

type CompletionRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Tools     []ToolDef `json:"tools,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type CompletionResponse struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason StopReason `json:"stop_reason"`
	Usage      Usage      `json:"usage"`
}

// AssistantMessage renders the response as the assistant turn that must
// precede tool results when the conversation continues.
func (r *CompletionResponse) AssistantMessage() Message {
	blocks := make([]ContentBlock, 0, len(r.ToolCalls)+1)
	if r.Text != "" {
		blocks = append(blocks, TextBlock(r.Text))
	}
	for _, call := range r.ToolCalls {
		blocks = append(blocks, ToolUseBlock(call))
	}
	return Message{Role: RoleAssistant, Content: r.Text, Blocks: blocks}
}

// WantsTools reports whether the model stopped to run tools and named at least one.
func (r *CompletionResponse) WantsTools() bool {
	return r.StopReason == StopToolUse && len(r.ToolCalls) > 0
}
