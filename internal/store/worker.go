package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/harunnryd/chorus/internal/config"

	"github.com/philippgille/chromem-go"
)

// ErrWorkerStopped is returned for requests submitted after Stop.
var ErrWorkerStopped = errors.New("store worker is not running")

type Operation int

const (
	OpWriteTranscript Operation = iota
	OpReadTranscript
	OpResetSession
	OpGetSession
	OpSaveSession
	OpListSessions
	OpUpsertVector
	OpSearchVectors
	OpIncrementCounter
	OpGetCounter
	OpResetCounter
	OpWriteDocument
)

func (op Operation) String() string {
	switch op {
	case OpWriteTranscript:
		return "write_transcript"
	case OpReadTranscript:
		return "read_transcript"
	case OpResetSession:
		return "reset_session"
	case OpGetSession:
		return "get_session"
	case OpSaveSession:
		return "save_session"
	case OpListSessions:
		return "list_sessions"
	case OpUpsertVector:
		return "upsert_vector"
	case OpSearchVectors:
		return "search_vectors"
	case OpIncrementCounter:
		return "increment_counter"
	case OpGetCounter:
		return "get_counter"
	case OpResetCounter:
		return "reset_counter"
	case OpWriteDocument:
		return "write_document"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// Request is one mailbox entry. Reply is buffered so the worker never blocks
// on a caller that went away.
type Request struct {
	Op      Operation
	Payload interface{}
	Reply   chan Reply
}

type Reply struct {
	Value interface{}
	Err   error
}

type TranscriptPayload struct {
	SessionID string
	Data      []byte // one JSON line
}

type ReadTranscriptPayload struct {
	SessionID string
	Limit     int // 0 = all
}

type SessionPayload struct {
	SessionID string
}

type SaveSessionPayload struct {
	Session SessionMeta
}

type UpsertVectorPayload struct {
	Collection string
	ID         string
	Vector     []float32
	Metadata   map[string]string
	Content    string
}

type SearchVectorsPayload struct {
	Collection string
	Vector     []float32
	Limit      int
	Where      map[string]string
}

type WriteDocumentPayload struct {
	SessionID string
	Name      string
	Data      []byte
}

// Worker owns every file in a workspace. All mutations run on its single
// goroutine, so read-modify-write sequences such as counter increments are
// atomic with respect to each other.
type Worker struct {
	workspaceID    string
	basePath       string
	inbox          chan Request
	lock           *FileLock
	quit           chan struct{}
	done           chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
	running        stdatomic.Bool
	sessionIndex   *SessionIndex
	counters       *CounterFile
	vectorDB       *chromem.DB
	rotateMaxBytes int64
	now            func() time.Time
}

type RuntimeConfig struct {
	LockTimeout              time.Duration
	LockRetry                time.Duration
	InboxSize                int
	TranscriptRotateMaxBytes int64
}

// RuntimeConfigFrom converts the store section of the loaded configuration.
func RuntimeConfigFrom(cfg config.StoreConfig) (RuntimeConfig, error) {
	lockTimeout, err := config.DurationOrDefault(cfg.LockTimeout, config.DefaultStoreLockTimeout)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("store.lock_timeout: %w", err)
	}
	lockRetry, err := config.DurationOrDefault(cfg.LockRetry, config.DefaultStoreLockRetry)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("store.lock_retry: %w", err)
	}
	return RuntimeConfig{
		LockTimeout:              lockTimeout,
		LockRetry:                lockRetry,
		InboxSize:                cfg.InboxSize,
		TranscriptRotateMaxBytes: cfg.TranscriptRotateMaxBytes,
	}, nil
}

func NewWorker(ctx context.Context, workspaceID string, workspaceRootPath string, runtimeCfg RuntimeConfig) (*Worker, error) {
	basePath, err := GetWorkspacePath(workspaceID, workspaceRootPath)
	if err != nil {
		return nil, err
	}

	for _, d := range []string{"sessions", "governance", "documents", "vectors"} {
		if err := os.MkdirAll(filepath.Join(basePath, d), 0755); err != nil {
			return nil, fmt.Errorf("failed to create dir %s: %w", d, err)
		}
	}

	if runtimeCfg.InboxSize <= 0 {
		runtimeCfg.InboxSize = config.DefaultStoreInboxSize
	}
	if runtimeCfg.TranscriptRotateMaxBytes <= 0 {
		runtimeCfg.TranscriptRotateMaxBytes = config.DefaultStoreTranscriptRotateMaxBytes
	}

	lock, err := AcquireFileLock(ctx, workspaceID, basePath, FileLockConfig{
		Timeout: runtimeCfg.LockTimeout,
		Retry:   runtimeCfg.LockRetry,
	})
	if err != nil {
		return nil, err
	}

	w := &Worker{
		workspaceID:    workspaceID,
		basePath:       basePath,
		inbox:          make(chan Request, runtimeCfg.InboxSize),
		lock:           lock,
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		rotateMaxBytes: runtimeCfg.TranscriptRotateMaxBytes,
		now:            time.Now,
	}

	if err := w.loadState(); err != nil {
		lock.Unlock()
		return nil, err
	}

	// Embeddings are supplied by the caller, so no embedding func is set.
	vectorDB, err := chromem.NewPersistentDB(filepath.Join(basePath, "vectors"), false)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to init vector db: %w", err)
	}
	w.vectorDB = vectorDB

	return w, nil
}

func (w *Worker) loadState() error {
	w.sessionIndex = &SessionIndex{Sessions: make(map[string]SessionMeta)}
	if data, err := os.ReadFile(w.sessionIndexPath()); err == nil {
		if err := json.Unmarshal(data, w.sessionIndex); err != nil {
			slog.Warn("Failed to parse session index, starting fresh", "error", err)
			w.sessionIndex = &SessionIndex{Sessions: make(map[string]SessionMeta)}
		}
	}
	if w.sessionIndex.Sessions == nil {
		w.sessionIndex.Sessions = make(map[string]SessionMeta)
	}

	w.counters = &CounterFile{Counters: make(map[string]int64)}
	data, err := os.ReadFile(w.countersPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read message counters: %w", err)
	}
	// A corrupt counter file must not silently reset everyone's allowance.
	if err := json.Unmarshal(data, w.counters); err != nil {
		return fmt.Errorf("parse message counters %s: %w", w.countersPath(), err)
	}
	if w.counters.Counters == nil {
		w.counters.Counters = make(map[string]int64)
	}
	return nil
}

func (w *Worker) Start() {
	w.running.Store(true)
	w.wg.Add(1)
	go w.loop()
}

func (w *Worker) loop() {
	slog.Info("StoreWorker started", "workspace", w.workspaceID)
	defer func() {
		close(w.done)
		w.wg.Done()
	}()

	for {
		select {
		case req := <-w.inbox:
			value, err := w.handle(req)
			if err != nil {
				slog.Debug("Store operation failed", "op", req.Op, "error", err)
			}
			if req.Reply != nil {
				req.Reply <- Reply{Value: value, Err: err}
			}
		case <-w.quit:
			w.drain()
			slog.Info("StoreWorker stopping", "workspace", w.workspaceID)
			return
		}
	}
}

// drain fails whatever is still queued so no caller waits forever.
func (w *Worker) drain() {
	for {
		select {
		case req := <-w.inbox:
			if req.Reply != nil {
				req.Reply <- Reply{Err: ErrWorkerStopped}
			}
		default:
			return
		}
	}
}

func (w *Worker) handle(req Request) (interface{}, error) {
	switch req.Op {
	case OpWriteTranscript:
		p, ok := req.Payload.(TranscriptPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return nil, w.appendTranscript(p.SessionID, p.Data)
	case OpReadTranscript:
		p, ok := req.Payload.(ReadTranscriptPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return w.readTranscript(p.SessionID, p.Limit)
	case OpResetSession:
		p, ok := req.Payload.(SessionPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return nil, w.resetSession(p.SessionID)
	case OpGetSession:
		p, ok := req.Payload.(SessionPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		if sess, ok := w.sessionIndex.Sessions[p.SessionID]; ok {
			return &sess, nil
		}
		return (*SessionMeta)(nil), nil
	case OpSaveSession:
		p, ok := req.Payload.(SaveSessionPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return nil, w.saveSession(p.Session)
	case OpListSessions:
		return w.listSessions(), nil
	case OpUpsertVector:
		p, ok := req.Payload.(UpsertVectorPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return nil, w.upsertVector(p)
	case OpSearchVectors:
		p, ok := req.Payload.(SearchVectorsPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return w.searchVectors(p)
	case OpIncrementCounter:
		p, ok := req.Payload.(SessionPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return w.incrementCounter(p.SessionID)
	case OpGetCounter:
		p, ok := req.Payload.(SessionPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return w.counters.Counters[p.SessionID], nil
	case OpResetCounter:
		p, ok := req.Payload.(SessionPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return nil, w.resetCounter(p.SessionID)
	case OpWriteDocument:
		p, ok := req.Payload.(WriteDocumentPayload)
		if !ok {
			return nil, invalidPayload(req.Op)
		}
		return w.writeDocument(p)
	default:
		return nil, fmt.Errorf("unknown operation: %d", req.Op)
	}
}

func invalidPayload(op Operation) error {
	return fmt.Errorf("invalid payload for %s", op)
}

// submit queues req and waits for its reply. Once accepted, an operation runs
// to completion even if ctx is cancelled, and its outcome is returned.
func (w *Worker) submit(ctx context.Context, op Operation, payload interface{}) (interface{}, error) {
	if !w.running.Load() {
		return nil, ErrWorkerStopped
	}

	req := Request{Op: op, Payload: payload, Reply: make(chan Reply, 1)}
	select {
	case w.inbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, ErrWorkerStopped
	}

	select {
	case reply := <-req.Reply:
		return reply.Value, reply.Err
	case <-w.done:
		select {
		case reply := <-req.Reply:
			return reply.Value, reply.Err
		default:
			return nil, ErrWorkerStopped
		}
	}
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		slog.Info("StoreWorker Stop called", "workspace", w.workspaceID, "lock_held", w.lock.IsLocked())
		w.running.Store(false)
		close(w.quit)
		w.wg.Wait()
		w.lock.Unlock()
	})
}

func (w *Worker) IsLockHeld() bool {
	return w.lock.IsLocked()
}

func (w *Worker) IsRunning() bool {
	return w.lock.IsLocked() && w.running.Load()
}

func (w *Worker) BasePath() string {
	return w.basePath
}

// validateName rejects ids that would escape their directory when used as a
// file name.
func validateName(kind, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%s is empty", kind)
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%s %q is not a valid file name", kind, name)
	}
	return nil
}
