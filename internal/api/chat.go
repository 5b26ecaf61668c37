package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	chorusErrors "github.com/harunnryd/chorus/internal/errors"
	"github.com/harunnryd/chorus/internal/logger"
	"github.com/harunnryd/chorus/internal/model/contract"
	"github.com/harunnryd/chorus/internal/observe"
	"github.com/harunnryd/chorus/internal/orchestrator"
	"github.com/harunnryd/chorus/internal/session"
	"github.com/harunnryd/chorus/internal/speaker"
	"github.com/harunnryd/chorus/internal/stream"

	"golang.org/x/sync/errgroup"
)

type ChatSession struct {
	ID        string `json:"id"`
	Principal string `json:"principal,omitempty"`
	Speaker   string `json:"speaker,omitempty"`
}

type ChatRequest struct {
	Message string      `json:"message"`
	Session ChatSession `json:"session"`
	// History replaces the stored transcript when present.
	History  []contract.Message `json:"history,omitempty"`
	UseTools *bool              `json:"useTools,omitempty"`
}

// Chat outcomes recorded on observe.Metrics.ChatRequests.
const (
	outcomeCompleted    = "completed"
	outcomeFailed       = "failed"
	outcomeRejected     = "rejected"
	outcomeInvalid      = "invalid"
	outcomeDisconnected = "disconnected"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)).Decode(&req); err != nil {
		s.metrics.RecordChat(ctx, outcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorBody{Code: CodeInvalidRequest, Error: "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.metrics.RecordChat(ctx, outcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorBody{Code: CodeInvalidRequest, Error: "message is required"})
		return
	}
	if strings.TrimSpace(req.Session.ID) == "" {
		s.metrics.RecordChat(ctx, outcomeInvalid)
		writeJSON(w, http.StatusBadRequest, errorBody{Code: CodeInvalidRequest, Error: "session.id is required"})
		return
	}

	ctx = logger.WithPrincipal(logger.WithSessionID(ctx, req.Session.ID), req.Session.Principal)
	log := logger.From(ctx)

	decision, err := s.gate.TryConsume(ctx, req.Session.ID, req.Session.Principal)
	if err != nil {
		if errors.Is(err, chorusErrors.ErrInvalidInput) {
			s.metrics.RecordChat(ctx, outcomeInvalid)
			writeJSON(w, http.StatusBadRequest, errorBody{Code: CodeInvalidRequest, Error: err.Error()})
			return
		}
		s.metrics.RecordQuota(ctx, observe.QuotaFailed)
		s.metrics.RecordChat(ctx, outcomeFailed)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: CodeQuotaTrackingFailed, Error: "could not record message"})
		return
	}
	if !decision.Allowed {
		s.metrics.RecordQuota(ctx, observe.QuotaRejected)
		s.metrics.RecordChat(ctx, outcomeRejected)
		status := decision.Status
		rejected := fmt.Errorf("session %s: %w", req.Session.ID, chorusErrors.ErrQuotaExceeded)
		log.Info("Message rejected", "error", rejected, "count", status.CurrentCount, "limit", status.MessageLimit)
		writeJSON(w, http.StatusTooManyRequests, errorBody{Code: CodeMessageLimitReached, Error: rejected.Error(), LimitStatus: &status})
		return
	}
	if decision.Status.Unlimited {
		s.metrics.RecordQuota(ctx, observe.QuotaUnlimited)
	} else {
		s.metrics.RecordQuota(ctx, observe.QuotaAllowed)
	}

	runReq := s.buildRunRequest(ctx, req)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := stream.NewWriter(w, stream.WithFrameTimeout(s.opts.FrameTimeout))

	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	meta := map[string]any{"sessionId": req.Session.ID, "limitStatus": decision.Status}
	if runReq.Speaker != "" {
		meta["speaker"] = string(runReq.Speaker)
	}
	if traceID := logger.GetTraceID(ctx); traceID != "" {
		meta["traceId"] = traceID
	}
	if err := sw.Write(stream.Metadata(meta)); err != nil {
		log.Warn("Client went away before the stream started", "error", err)
		s.metrics.RecordChat(ctx, outcomeDisconnected)
		return
	}

	run, err := s.pump(ctx, sw, runReq)
	if run.err == nil && run.result != nil {
		s.recordRun(ctx, req, run.result)
	}
	if err != nil || ctx.Err() != nil {
		log.Warn("Stream aborted", "error", errors.Join(err, ctx.Err()))
		s.metrics.RecordChat(ctx, outcomeDisconnected)
		return
	}

	result, runErr := run.result, run.err
	if runErr != nil {
		log.Error("Conversation failed", "error", runErr, "category", chorusErrors.Category(chorusErrors.MapError(runErr)))
		s.metrics.RecordChat(ctx, outcomeFailed)
		if err := sw.Write(stream.ErrorEvent(runErr)); err == nil {
			_ = sw.Done()
		}
		return
	}

	usage := result.Usage
	status := decision.Status
	complete := stream.Complete(stream.Completion{
		Usage:         &usage,
		LimitStatus:   &status,
		ToolsExecuted: result.ToolsExecuted,
		Rounds:        result.Rounds,
		Speaker:       string(result.CurrentSpeaker),
	})
	if err := sw.Write(complete); err != nil {
		log.Warn("Failed to write completion", "error", err)
		s.metrics.RecordChat(ctx, outcomeDisconnected)
		return
	}
	if err := sw.Done(); err != nil {
		log.Warn("Failed to write terminal frame", "error", err)
	}
	s.metrics.RecordChat(ctx, outcomeCompleted)
}

// recordRun stores a finished turn and its metrics. The turn happened even if
// the client is gone by now, so the request's cancellation is ignored.
func (s *Server) recordRun(ctx context.Context, req ChatRequest, result *orchestrator.Result) {
	ctx = context.WithoutCancel(ctx)

	s.metrics.RecordRounds(ctx, result.Rounds, string(result.StopReason))
	for _, seg := range result.Segments {
		if seg.HandoffReason != "" {
			s.metrics.RecordSpeakerChange(ctx, string(seg.Speaker))
		}
	}

	if s.sessions == nil {
		return
	}
	turn := session.Turn{
		SessionID: req.Session.ID,
		Principal: req.Session.Principal,
		Message:   req.Message,
		Result:    result,
	}
	if err := s.sessions.RecordTurn(ctx, turn); err != nil {
		logger.From(ctx).Error("Failed to record turn", "error", err)
	}
}

func (s *Server) buildRunRequest(ctx context.Context, req ChatRequest) orchestrator.Request {
	log := logger.From(ctx)

	useTools := true
	if req.UseTools != nil {
		useTools = *req.UseTools
	}
	runReq := orchestrator.Request{
		Message:   req.Message,
		History:   req.History,
		SessionID: req.Session.ID,
		UseTools:  useTools,
		Speaker:   speaker.Normalize(req.Session.Speaker),
	}

	if s.sessions == nil {
		return runReq
	}
	if req.History == nil {
		history, err := s.sessions.History(ctx, req.Session.ID)
		if err != nil {
			log.Warn("Failed to load session history", "error", err)
		} else {
			runReq.History = history
		}
	}
	if runReq.Speaker == "" {
		sp, err := s.sessions.Speaker(ctx, req.Session.ID)
		if err != nil {
			log.Warn("Failed to load session speaker", "error", err)
		} else {
			runReq.Speaker = sp
		}
	}
	return runReq
}

type runOutcome struct {
	result *orchestrator.Result
	err    error
}

// pump runs the loop and drains its events to sw concurrently. The returned
// error is a write failure, which also cancels the loop; loop failures are
// reported in the outcome.
func (s *Server) pump(ctx context.Context, sw *stream.Writer, req orchestrator.Request) (runOutcome, error) {
	events := make(chan stream.Event, s.opts.BufferSize)
	g, gctx := errgroup.WithContext(ctx)

	var run runOutcome
	g.Go(func() error {
		defer close(events)
		run.result, run.err = s.runner.Run(gctx, req, events)
		return nil
	})
	g.Go(func() error {
		for ev := range events {
			if err := s.forward(gctx, sw, ev); err != nil {
				return err
			}
		}
		return nil
	})

	err := g.Wait()
	return run, err
}

func (s *Server) forward(ctx context.Context, sw *stream.Writer, ev stream.Event) error {
	if ev.Type != stream.TypeContent || !s.pacer.Enabled() {
		return sw.Write(ev)
	}
	return s.pacer.Emit(ctx, ev.Content, func(fragment string) error {
		return sw.Write(stream.Content(fragment, ev.Speaker))
	})
}
