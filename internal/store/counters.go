package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/natefinch/atomic"
)

func (w *Worker) countersPath() string {
	return filepath.Join(w.basePath, "governance", "message_counters.json")
}

// incrementCounter bumps the session counter and persists it before
// answering. A failed write rolls the in-memory value back, so the caller
// never sees a count that is not on disk.
func (w *Worker) incrementCounter(sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session id is empty")
	}
	prev, existed := w.counters.Counters[sessionID]
	next := prev + 1
	w.counters.Counters[sessionID] = next

	if err := w.saveCounters(); err != nil {
		if existed {
			w.counters.Counters[sessionID] = prev
		} else {
			delete(w.counters.Counters, sessionID)
		}
		return 0, err
	}
	return next, nil
}

func (w *Worker) resetCounter(sessionID string) error {
	prev, existed := w.counters.Counters[sessionID]
	if !existed {
		return nil
	}
	delete(w.counters.Counters, sessionID)
	if err := w.saveCounters(); err != nil {
		w.counters.Counters[sessionID] = prev
		return err
	}
	return nil
}

func (w *Worker) saveCounters() error {
	w.counters.UpdatedAt = w.now().UTC()
	data, err := json.MarshalIndent(w.counters, "", "  ")
	if err != nil {
		return fmt.Errorf("encode message counters: %w", err)
	}
	if err := atomic.WriteFile(w.countersPath(), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write message counters: %w", err)
	}
	return nil
}

// Counters exposes the worker's message counters as a quota.Counter.
func (w *Worker) Counters() *Counters {
	return &Counters{w: w}
}

type Counters struct {
	w *Worker
}

func (c *Counters) Increment(ctx context.Context, sessionID string) (int64, error) {
	v, err := c.w.submit(ctx, OpIncrementCounter, SessionPayload{SessionID: sessionID})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *Counters) Get(ctx context.Context, sessionID string) (int64, error) {
	v, err := c.w.submit(ctx, OpGetCounter, SessionPayload{SessionID: sessionID})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *Counters) Reset(ctx context.Context, sessionID string) error {
	_, err := c.w.submit(ctx, OpResetCounter, SessionPayload{SessionID: sessionID})
	return err
}
