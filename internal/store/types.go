package store

import "time"

// --- Session Index (sessions/index.json) ---

type SessionMeta struct {
	ID        string    `json:"id"`
	Principal string    `json:"principal,omitempty"`
	Speaker   string    `json:"speaker"` // active persona at the end of the last run
	Turns     int       `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SessionIndex struct {
	Sessions map[string]SessionMeta `json:"sessions"`
}

// --- Transcript (sessions/<id>.jsonl) ---

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type TranscriptEntry struct {
	ID         string         `json:"id"` // ULID
	Timestamp  time.Time      `json:"ts"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Speaker    string         `json:"speaker,omitempty"`
	Name       string         `json:"name,omitempty"`         // tool name
	ToolCallID string         `json:"tool_call_id,omitempty"` // links a tool result to its call
	Metadata   map[string]any `json:"meta,omitempty"`         // tokens, rounds, stop reason
}

// --- Message counters (governance/message_counters.json) ---

type CounterFile struct {
	Counters  map[string]int64 `json:"counters"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// --- Vectors ---

type VectorResult struct {
	ID       string
	Score    float32
	Metadata map[string]string
	Content  string
}
