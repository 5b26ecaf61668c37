// Package session keeps each conversation's transcript and metadata in the
// workspace store and rebuilds model history from it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/chorus/internal/config"
	"github.com/harunnryd/chorus/internal/logger"
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/orchestrator"
	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/store"

	"github.com/oklog/ulid/v2"
)

type Store interface {
	WriteTranscript(ctx context.Context, sessionID string, data []byte) error
	ReadTranscript(ctx context.Context, sessionID string, limit int) ([]string, error)
	GetSession(ctx context.Context, id string) (*store.SessionMeta, error)
	SaveSession(ctx context.Context, sess store.SessionMeta) error
}

type Manager struct {
	store        Store
	historyLimit int
	now          func() time.Time
}

func NewManager(s Store, historyLimit int) *Manager {
	if historyLimit <= 0 {
		historyLimit = config.DefaultOrchestratorHistoryLimit
	}
	return &Manager{store: s, historyLimit: historyLimit, now: time.Now}
}

// Turn is one finished request: the user's message and what the loop made
// of it.
type Turn struct {
	SessionID string
	Principal string
	Message   string
	Result    *orchestrator.Result
}

// History rebuilds the conversation as plain user/assistant messages. Tool
// exchanges are not replayed; consecutive assistant segments are merged.
func (m *Manager) History(ctx context.Context, sessionID string) ([]contract.Message, error) {
	lines, err := m.store.ReadTranscript(ctx, sessionID, m.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var messages []contract.Message
	for _, line := range lines {
		var entry store.TranscriptEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("Skipping unreadable transcript line", "session_id", sessionID, "error", err)
			continue
		}

		var role string
		switch entry.Role {
		case store.RoleUser:
			role = contract.RoleUser
		case store.RoleAssistant:
			role = contract.RoleAssistant
		default:
			continue
		}

		if n := len(messages); n > 0 && messages[n-1].Role == role && role == contract.RoleAssistant {
			messages[n-1].Content += entry.Content
			continue
		}
		messages = append(messages, contract.Message{Role: role, Content: entry.Content})
	}

	// A window that starts mid-turn would open with an assistant message.
	for len(messages) > 0 && messages[0].Role != contract.RoleUser {
		messages = messages[1:]
	}
	return messages, nil
}

// Speaker returns the persona that ended the session's last turn, or "" for
// a new session.
func (m *Manager) Speaker(ctx context.Context, sessionID string) (speaker.Speaker, error) {
	meta, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", nil
	}
	return speaker.Speaker(meta.Speaker), nil
}

// RecordTurn appends the turn to the transcript and updates the session
// index. Each non-empty assistant segment becomes its own entry tagged with
// its speaker.
func (m *Manager) RecordTurn(ctx context.Context, turn Turn) error {
	log := logger.From(ctx)
	now := m.now().UTC()

	entries := []store.TranscriptEntry{{
		ID:        ulid.Make().String(),
		Timestamp: now,
		Role:      store.RoleUser,
		Content:   turn.Message,
	}}

	if turn.Result != nil {
		for _, t := range turn.Result.ToolsExecuted {
			entries = append(entries, store.TranscriptEntry{
				ID:        ulid.Make().String(),
				Timestamp: now,
				Role:      store.RoleTool,
				Name:      t.Name,
				Metadata:  map[string]any{"success": t.Success},
			})
		}
		for _, seg := range turn.Result.Segments {
			// A handoff with no text after it lives on in meta.Speaker only.
			if seg.Content == "" {
				continue
			}
			entry := store.TranscriptEntry{
				ID:        ulid.Make().String(),
				Timestamp: now,
				Role:      store.RoleAssistant,
				Content:   seg.Content,
				Speaker:   string(seg.Speaker),
				Metadata:  map[string]any{"round": seg.Round},
			}
			if seg.HandoffReason != "" {
				entry.Metadata["handoff_reason"] = seg.HandoffReason
			}
			entries = append(entries, entry)
		}
	}

	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal transcript entry: %w", err)
		}
		if err := m.store.WriteTranscript(ctx, turn.SessionID, line); err != nil {
			return fmt.Errorf("write transcript: %w", err)
		}
	}

	meta, err := m.store.GetSession(ctx, turn.SessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if meta == nil {
		meta = &store.SessionMeta{ID: turn.SessionID, CreatedAt: now}
		log.Info("New session", "principal", turn.Principal)
	}
	if turn.Principal != "" {
		meta.Principal = turn.Principal
	}
	if turn.Result != nil {
		meta.Speaker = string(turn.Result.CurrentSpeaker)
	}
	meta.Turns++
	meta.UpdatedAt = now

	if err := m.store.SaveSession(ctx, *meta); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
