package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

func (w *Worker) transcriptPath(sessionID string) string {
	return filepath.Join(w.basePath, "sessions", sessionID+".jsonl")
}

func (w *Worker) appendTranscript(sessionID string, data []byte) error {
	if err := validateName("session id", sessionID); err != nil {
		return err
	}
	path := w.transcriptPath(sessionID)

	if err := w.checkAndRotate(sessionID, path); err != nil {
		slog.Warn("Failed to rotate transcript", "session", sessionID, "error", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	if _, err := f.WriteString("\n"); err != nil {
		return err
	}
	return f.Sync()
}

func (w *Worker) readTranscript(sessionID string, limit int) ([]string, error) {
	if err := validateName("session id", sessionID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(w.transcriptPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return []string{}, nil
	}
	lines := strings.Split(trimmed, "\n")
	if limit > 0 && len(lines) > limit {
		return lines[len(lines)-limit:], nil
	}
	return lines, nil
}

// checkAndRotate moves a transcript aside once it reaches the size limit.
func (w *Worker) checkAndRotate(sessionID, path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Size() < w.rotateMaxBytes {
		return nil
	}

	slog.Info("Rotating transcript", "session", sessionID, "size", info.Size())

	backupPath := fmt.Sprintf("%s.%s.bak", path, w.now().Format("20060102150405"))
	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("failed to rename: %w", err)
	}
	return nil
}

func (w *Worker) WriteTranscript(ctx context.Context, sessionID string, data []byte) error {
	_, err := w.submit(ctx, OpWriteTranscript, TranscriptPayload{SessionID: sessionID, Data: data})
	return err
}

// ReadTranscript returns the last limit lines of a transcript, or all of
// them when limit is 0.
func (w *Worker) ReadTranscript(ctx context.Context, sessionID string, limit int) ([]string, error) {
	v, err := w.submit(ctx, OpReadTranscript, ReadTranscriptPayload{SessionID: sessionID, Limit: limit})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}
