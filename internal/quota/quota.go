// Package quota guards entry into the conversation loop with a per-session
// message allowance.
//
// The gate increments first and checks second. The increment is the only
// serialization point, so two concurrent requests can never both observe
// "under limit" for the same slot.
package quota

import (
	"context"
	"fmt"
	"strings"

	chorusErrors "github.com/harunnryd/chorus/internal/errors"
	"github.com/harunnryd/chorus/internal/logger"
)

// Status is the read-only view of a session's allowance. It is derived on
// every check and never cached.
type Status struct {
	CurrentCount     int64 `json:"currentCount"`
	MessageLimit     int64 `json:"messageLimit"`
	Remaining        int64 `json:"remaining"`
	LimitReached     bool  `json:"limitReached"`
	WarningThreshold bool  `json:"warningThreshold"`
	Unlimited        bool  `json:"unlimited,omitempty"`
}

// Counter is a durable per-session message counter. Increment must be a
// single atomic operation returning the post-increment value.
type Counter interface {
	Increment(ctx context.Context, sessionID string) (int64, error)
	Get(ctx context.Context, sessionID string) (int64, error)
	Reset(ctx context.Context, sessionID string) error
}

// Decision is the outcome of TryConsume. Allowed is false exactly when
// Status.LimitReached is true.
type Decision struct {
	Allowed bool
	Status  Status
}

type Options struct {
	Limit            int64
	WarningRemaining int64
	// Unlimited lists principals that bypass the gate. Matching ignores case.
	Unlimited []string
}

type Gate struct {
	counter   Counter
	opts      Options
	unlimited map[string]struct{}
}

func NewGate(counter Counter, opts Options) *Gate {
	unlimited := make(map[string]struct{}, len(opts.Unlimited))
	for _, p := range opts.Unlimited {
		if p = normalizePrincipal(p); p != "" {
			unlimited[p] = struct{}{}
		}
	}
	return &Gate{counter: counter, opts: opts, unlimited: unlimited}
}

func (g *Gate) Limit() int64 {
	return g.opts.Limit
}

// IsUnlimited reports whether principal bypasses the gate.
func (g *Gate) IsUnlimited(principal string) bool {
	_, ok := g.unlimited[normalizePrincipal(principal)]
	return ok
}

// TryConsume records one message for sessionID and reports whether it may
// proceed. A failed increment returns an error wrapping ErrQuotaTracking and
// the caller must reject the request. Unlimited principals cause no counter
// mutation.
func (g *Gate) TryConsume(ctx context.Context, sessionID, principal string) (Decision, error) {
	if g.IsUnlimited(principal) {
		return Decision{Allowed: true, Status: UnlimitedStatus()}, nil
	}
	if strings.TrimSpace(sessionID) == "" {
		return Decision{}, chorusErrors.InvalidInput("session id is required")
	}

	count, err := g.counter.Increment(ctx, sessionID)
	if err != nil {
		logger.From(ctx).Error("Message counter increment failed", "session_id", sessionID, "error", err)
		return Decision{}, chorusErrors.WrapWithCategory(err, fmt.Sprintf("increment counter for session %s", sessionID), chorusErrors.ErrQuotaTracking)
	}

	status := Compute(count, g.opts.Limit, g.opts.WarningRemaining)
	if status.LimitReached {
		logger.From(ctx).Info("Message limit reached", "session_id", sessionID, "count", count, "limit", g.opts.Limit)
	}
	return Decision{Allowed: !status.LimitReached, Status: status}, nil
}

// Status reports the allowance for sessionID without consuming it.
func (g *Gate) Status(ctx context.Context, sessionID, principal string) (Status, error) {
	if g.IsUnlimited(principal) {
		return UnlimitedStatus(), nil
	}
	count, err := g.counter.Get(ctx, sessionID)
	if err != nil {
		return Status{}, chorusErrors.WrapWithCategory(err, fmt.Sprintf("read counter for session %s", sessionID), chorusErrors.ErrQuotaTracking)
	}
	return Compute(count, g.opts.Limit, g.opts.WarningRemaining), nil
}

// Reset clears the counter for sessionID.
func (g *Gate) Reset(ctx context.Context, sessionID string) error {
	if err := g.counter.Reset(ctx, sessionID); err != nil {
		return chorusErrors.WrapWithCategory(err, fmt.Sprintf("reset counter for session %s", sessionID), chorusErrors.ErrQuotaTracking)
	}
	logger.From(ctx).Info("Message counter reset", "session_id", sessionID)
	return nil
}

// Compute derives the status for a post-increment count. Reaching the limit
// exactly is still allowed; only exceeding it is not.
func Compute(count, limit, warningRemaining int64) Status {
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	reached := count > limit
	return Status{
		CurrentCount:     count,
		MessageLimit:     limit,
		Remaining:        remaining,
		LimitReached:     reached,
		WarningThreshold: !reached && remaining <= warningRemaining,
	}
}

// UnlimitedStatus is reported for principals that bypass the gate, so clients
// never show a warning for them.
func UnlimitedStatus() Status {
	return Status{Remaining: -1, Unlimited: true}
}

func normalizePrincipal(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}
