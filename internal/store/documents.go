package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

func (w *Worker) writeDocument(p WriteDocumentPayload) (string, error) {
	if err := validateName("session id", p.SessionID); err != nil {
		return "", err
	}
	if err := validateName("document name", p.Name); err != nil {
		return "", err
	}

	dir := filepath.Join(w.basePath, "documents", p.SessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create document dir: %w", err)
	}
	path := filepath.Join(dir, p.Name)
	if err := atomic.WriteFile(path, bytes.NewReader(p.Data)); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return path, nil
}

// WriteDocument stores data under documents/<session>/<name> and returns the
// absolute path.
func (w *Worker) WriteDocument(ctx context.Context, sessionID, name string, data []byte) (string, error) {
	v, err := w.submit(ctx, OpWriteDocument, WriteDocumentPayload{SessionID: sessionID, Name: name, Data: data})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
