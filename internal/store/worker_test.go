package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harunnryd/chorus/internal/quota"
	"github.com/harunnryd/chorus/internal/quota/quotatest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, root string, cfg RuntimeConfig) *Worker {
	t.Helper()
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = time.Second
		cfg.LockRetry = 10 * time.Millisecond
	}
	w, err := NewWorker(context.Background(), "test-ws", root, cfg)
	require.NoError(t, err)
	w.Start()
	t.Cleanup(w.Stop)
	return w
}

func TestWorker_CounterContract(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	quotatest.CounterContract(t, w.Counters())
}

func TestWorker_ConcurrentConsume(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	gate := quota.NewGate(w.Counters(), quota.Options{Limit: 10})
	quotatest.ConsumeConcurrently(t, gate, "fresh", 40)
}

func TestWorker_CountersSurviveRestart(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	w, err := NewWorker(ctx, "test-ws", root, RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	for i := 0; i < 3; i++ {
		_, err := w.Counters().Increment(ctx, "s-1")
		require.NoError(t, err)
	}
	w.Stop()

	w = newTestWorker(t, root, RuntimeConfig{})
	got, err := w.Counters().Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)

	next, err := w.Counters().Increment(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), next)
}

func TestWorker_CorruptCounterFileIsFatal(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "test-ws", "governance")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "message_counters.json"), []byte("{broken"), 0644))

	_, err := NewWorker(context.Background(), "test-ws", root, RuntimeConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse message counters")
}

func TestWorker_StoppedRejectsRequests(t *testing.T) {
	w, err := NewWorker(context.Background(), "test-ws", t.TempDir(), RuntimeConfig{})
	require.NoError(t, err)
	w.Start()
	assert.True(t, w.IsRunning())
	w.Stop()
	w.Stop()

	assert.False(t, w.IsRunning())
	assert.False(t, w.IsLockHeld())
	_, err = w.Counters().Increment(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrWorkerStopped)
}

func TestWorker_SecondWorkerIsLockedOut(t *testing.T) {
	root := t.TempDir()
	newTestWorker(t, root, RuntimeConfig{})

	_, err := NewWorker(context.Background(), "test-ws", root, RuntimeConfig{
		LockTimeout: 50 * time.Millisecond,
		LockRetry:   10 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrWorkspaceLocked)
}

func TestWorker_Transcript(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	ctx := context.Background()

	for _, line := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		require.NoError(t, w.WriteTranscript(ctx, "s-1", []byte(line)))
	}

	all, err := w.ReadTranscript(ctx, "s-1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, all)

	last, err := w.ReadTranscript(ctx, "s-1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":2}`, `{"n":3}`}, last)

	empty, err := w.ReadTranscript(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.Error(t, w.WriteTranscript(ctx, "../escape", []byte("{}")))
}

func TestWorker_TranscriptRotation(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{TranscriptRotateMaxBytes: 1024})
	ctx := context.Background()

	chunk := make([]byte, 400)
	for i := range chunk {
		chunk[i] = 'x'
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, w.WriteTranscript(ctx, "rotate", chunk))
	}

	path := filepath.Join(w.BasePath(), "sessions", "rotate.jsonl")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024))

	matches, err := filepath.Glob(path + ".*.bak")
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}

func TestWorker_Sessions(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	ctx := context.Background()

	missing, err := w.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	now := time.Now().UTC()
	require.NoError(t, w.SaveSession(ctx, SessionMeta{ID: "s-1", Speaker: "assistant", Turns: 1, CreatedAt: now, UpdatedAt: now}))
	require.NoError(t, w.SaveSession(ctx, SessionMeta{ID: "s-2", Speaker: "taylor", Turns: 2, CreatedAt: now, UpdatedAt: now.Add(time.Minute)}))

	got, err := w.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "assistant", got.Speaker)

	list, err := w.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "s-2", list[0].ID)

	_, err = w.Counters().Increment(ctx, "s-1")
	require.NoError(t, err)
	require.NoError(t, w.WriteTranscript(ctx, "s-1", []byte("{}")))
	require.NoError(t, w.ResetSession(ctx, "s-1"))

	got, err = w.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Nil(t, got)
	lines, err := w.ReadTranscript(ctx, "s-1", 0)
	require.NoError(t, err)
	assert.Empty(t, lines)

	count, err := w.Counters().Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "resetting a session keeps its message count")
}

func TestWorker_WriteDocument(t *testing.T) {
	w := newTestWorker(t, t.TempDir(), RuntimeConfig{})
	ctx := context.Background()

	path, err := w.WriteDocument(ctx, "s-1", "01HX.md", []byte("# Plan\n"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.BasePath(), "documents", "s-1", "01HX.md"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Plan\n", string(data))

	_, err = w.WriteDocument(ctx, "s-1", "../../etc/passwd", []byte("x"))
	assert.Error(t, err)
}

func TestWorker_SubmitHonoursCancelledContext(t *testing.T) {
	w, err := NewWorker(context.Background(), "test-ws", t.TempDir(), RuntimeConfig{InboxSize: 1})
	require.NoError(t, err)
	defer w.Stop()
	// Running but not draining: mark running without starting the loop.
	w.running.Store(true)
	w.inbox <- Request{Op: OpListSessions}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = w.Counters().Increment(ctx, "s-1")
	assert.ErrorIs(t, err, context.Canceled)
}
