package store

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/natefinch/atomic"
)

func (w *Worker) sessionIndexPath() string {
	return filepath.Join(w.basePath, "sessions", "index.json")
}

func (w *Worker) saveSession(sess SessionMeta) error {
	if err := validateName("session id", sess.ID); err != nil {
		return err
	}
	w.sessionIndex.Sessions[sess.ID] = sess
	return w.saveSessionIndex()
}

func (w *Worker) saveSessionIndex() error {
	data, err := json.MarshalIndent(w.sessionIndex, "", "  ")
	if err != nil {
		return err
	}
	return atomic.WriteFile(w.sessionIndexPath(), bytes.NewReader(data))
}

// resetSession drops the transcript and index entry. The message counter is
// untouched; clearing a conversation does not restore its allowance.
func (w *Worker) resetSession(sessionID string) error {
	if err := validateName("session id", sessionID); err != nil {
		return err
	}
	if err := os.Remove(w.transcriptPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return err
	}
	delete(w.sessionIndex.Sessions, sessionID)
	return w.saveSessionIndex()
}

func (w *Worker) listSessions() []SessionMeta {
	out := make([]SessionMeta, 0, len(w.sessionIndex.Sessions))
	for _, sess := range w.sessionIndex.Sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// GetSession returns nil without error when the session is unknown.
func (w *Worker) GetSession(ctx context.Context, id string) (*SessionMeta, error) {
	v, err := w.submit(ctx, OpGetSession, SessionPayload{SessionID: id})
	if err != nil {
		return nil, err
	}
	return v.(*SessionMeta), nil
}

func (w *Worker) SaveSession(ctx context.Context, sess SessionMeta) error {
	_, err := w.submit(ctx, OpSaveSession, SaveSessionPayload{Session: sess})
	return err
}

func (w *Worker) ResetSession(ctx context.Context, id string) error {
	_, err := w.submit(ctx, OpResetSession, SessionPayload{SessionID: id})
	return err
}

// ListSessions returns indexed sessions, most recently updated first.
func (w *Worker) ListSessions(ctx context.Context) ([]SessionMeta, error) {
	v, err := w.submit(ctx, OpListSessions, nil)
	if err != nil {
		return nil, err
	}
	return v.([]SessionMeta), nil
}
