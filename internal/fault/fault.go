// Package fault wraps item-level pipeline operations with checkpoint-first
// execution, bounded retry with a fixed backoff schedule, and graceful
// degradation for permanently failed items. Item errors never escape this
// boundary; callers always receive a structured phase result.
package fault

import (
	"context"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/stacks/internal/checkpoint"
	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/work"
)

// DefaultDelays is the backoff schedule between attempts. Attempts beyond
// the schedule reuse its last entry.
var DefaultDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Config tunes the manager.
type Config struct {
	// MaxRetries is the number of re-invocations after the first attempt.
	// The default of 3 yields exactly four invocations before an item is
	// given up on.
	MaxRetries int

	// Delays overrides the backoff schedule.
	Delays []time.Duration

	// OpTimeout bounds every single attempt. Zero disables the per-attempt
	// deadline.
	OpTimeout time.Duration
}

// Op executes one phase for one item. A nil error means result is the
// success envelope to checkpoint; a non-nil error is classified through the
// taxonomy to decide retry vs permanent failure.
type Op func(ctx context.Context) (*work.PhaseResult, error)

// Manager runs ops with checkpoint-first semantics and retry.
type Manager struct {
	store      checkpoint.Store
	metrics    *metrics.SessionMetrics
	logger     *slog.Logger
	maxRetries int
	delays     []time.Duration
	opTimeout  time.Duration
}

// NewManager creates a manager. metrics may be nil; store must not be.
func NewManager(store checkpoint.Store, m *metrics.SessionMetrics, cfg Config, logger *slog.Logger) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if len(cfg.Delays) == 0 {
		cfg.Delays = DefaultDelays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		metrics:    m,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		delays:     cfg.Delays,
		opTimeout:  cfg.OpTimeout,
	}
}

// Run executes op for the keyed (item, phase) pair. A checkpoint hit returns
// the stored result without invoking op. On success the result is
// checkpointed. On permanent failure a failure envelope is returned; Run
// never returns an item-level error or panics past this boundary.
func (m *Manager) Run(ctx context.Context, key checkpoint.Key, op Op) *work.PhaseResult {
	if cached, err := m.store.Get(ctx, key); err != nil {
		// A broken checkpoint store must not block processing; fall through
		// to a fresh execution.
		m.logger.Warn("checkpoint read failed, re-executing",
			"item_id", key.ItemID, "phase", key.Phase, "error", err)
	} else if cached != nil {
		hit := *cached
		hit.CheckpointHit = true
		if m.metrics != nil {
			m.metrics.AddCheckpointHits(1)
		}
		return &hit
	}

	started := time.Now().UTC()
	attempts := 0

	result, err := retry.DoWithData(
		func() (*work.PhaseResult, error) {
			attempts++
			return m.attempt(ctx, op)
		},
		retry.Context(ctx),
		retry.Attempts(uint(m.maxRetries+1)),
		retry.RetryIf(errdefs.IsRetryable),
		retry.DelayType(m.delayType),
		retry.LastErrorOnly(true),
	)

	if m.metrics != nil && attempts > 1 {
		m.metrics.AddRetries(int64(attempts - 1))
	}

	if err != nil {
		m.logger.Debug("operation permanently failed",
			"item_id", key.ItemID,
			"phase", key.Phase,
			"attempts", attempts,
			"kind", errdefs.KindOf(err),
			"error", err,
		)
		failed := work.Failed(key.ItemID, key.Phase, err)
		failed.Attempts = attempts
		failed.StartedAt = started
		failed.Duration = time.Since(started)
		return failed
	}

	result.Attempts = attempts
	result.StartedAt = started
	result.Duration = time.Since(started)

	if putErr := m.store.Put(ctx, key, result); putErr != nil {
		// The result is still good; the session merely loses resumability
		// for this pair.
		m.logger.Warn("checkpoint write failed",
			"item_id", key.ItemID, "phase", key.Phase, "error", putErr)
	}
	return result
}

// attempt runs one invocation under the per-attempt deadline.
func (m *Manager) attempt(ctx context.Context, op Op) (*work.PhaseResult, error) {
	if m.opTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opTimeout)
		defer cancel()
	}
	result, err := op(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			// A timed-out call is handled exactly like a thrown transient
			// error.
			return nil, errdefs.WrapTransient(err, "operation timed out")
		}
		return nil, errdefs.Classify(err)
	}
	return result, nil
}

// delayType indexes the fixed schedule by attempt number, reusing the last
// entry once the schedule is exhausted.
func (m *Manager) delayType(n uint, _ error, _ *retry.Config) time.Duration {
	idx := int(n)
	if idx >= len(m.delays) {
		idx = len(m.delays) - 1
	}
	return m.delays[idx]
}
