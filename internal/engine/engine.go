// Package engine implements the top-level session orchestrator: it plans
// concurrency from a resource snapshot, partitions items into batches, runs
// batches with bounded parallelism, degrades stragglers, and finalizes
// metrics and the session report. A registry of live sessions allows
// multiple concurrent, independently stoppable runs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/stacks/internal/checkpoint"
	"github.com/jackzampolin/stacks/internal/errdefs"
	"github.com/jackzampolin/stacks/internal/fault"
	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/planner"
	"github.com/jackzampolin/stacks/internal/progress"
	"github.com/jackzampolin/stacks/internal/providers"
	"github.com/jackzampolin/stacks/internal/resource"
	"github.com/jackzampolin/stacks/internal/store"
	"github.com/jackzampolin/stacks/internal/work"
)

// Config tunes one session. Zero values are filled with defaults; invalid
// values fail fast at StartSession.
type Config struct {
	// SessionID resumes a prior session's checkpoint namespace when set.
	SessionID string

	// TargetCount caps how many of the supplied items are processed.
	// Zero means all.
	TargetCount int

	// MaxConcurrentBatches bounds simultaneous batch runs. Default 2.
	MaxConcurrentBatches int

	// SampleInterval is the resource tracker cadence. Default 1s.
	SampleInterval time.Duration

	Tuning planner.Tuning
	Fault  fault.Config
}

func (c *Config) normalize() {
	if c.MaxConcurrentBatches == 0 {
		c.MaxConcurrentBatches = 2
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = time.Second
	}
	if c.Tuning == (planner.Tuning{}) {
		c.Tuning = planner.DefaultTuning()
	}
}

// Validate rejects configurations the session could not run under.
func (c Config) Validate() error {
	if c.TargetCount < 0 {
		return fmt.Errorf("target_count must not be negative, got %d", c.TargetCount)
	}
	if c.MaxConcurrentBatches < 1 {
		return fmt.Errorf("max_concurrent_batches must be at least 1, got %d", c.MaxConcurrentBatches)
	}
	if c.Fault.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.Fault.MaxRetries)
	}
	return c.Tuning.Validate()
}

// Deps are the processor's collaborators.
type Deps struct {
	Monitor     resource.Monitor
	Checkpoints checkpoint.Store
	Records     Records
	Sink        store.Sink
	Extractor   providers.Extractor
	Analyzer    providers.Analyzer
	Reporter    *progress.Reporter
	Logger      *slog.Logger
}

// Processor is the orchestrator. One processor serves many sessions.
type Processor struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewProcessor creates a processor over its collaborators. Monitor,
// Checkpoints, Sink, Extractor, and Analyzer are required; Records and
// Reporter default to in-memory implementations.
func NewProcessor(deps Deps) (*Processor, error) {
	switch {
	case deps.Monitor == nil:
		return nil, fmt.Errorf("engine: monitor is required")
	case deps.Checkpoints == nil:
		return nil, fmt.Errorf("engine: checkpoint store is required")
	case deps.Sink == nil:
		return nil, fmt.Errorf("engine: persistence sink is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("engine: extractor is required")
	case deps.Analyzer == nil:
		return nil, fmt.Errorf("engine: analyzer is required")
	}
	if deps.Records == nil {
		deps.Records = NewMemoryRecords()
	}
	if deps.Reporter == nil {
		deps.Reporter = progress.NewReporter(progress.ReporterConfig{})
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Processor{
		deps:     deps,
		logger:   deps.Logger,
		sessions: make(map[string]*session),
	}, nil
}

// StartSession validates the configuration, registers a session, and starts
// processing asynchronously. It returns the session ID immediately.
func (p *Processor) StartSession(ctx context.Context, items []work.Item, targetCount int, cfg Config) (string, error) {
	cfg.TargetCount = targetCount
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid session config: %w", err)
	}

	if cfg.TargetCount > 0 && len(items) > cfg.TargetCount {
		items = items[:cfg.TargetCount]
	}
	prepared := make([]work.Item, len(items))
	for i, item := range items {
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.Status = work.StatusPending
		prepared[i] = item
	}

	id := cfg.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	sess := newSession(id, cfg, prepared)

	p.mu.Lock()
	if existing, ok := p.sessions[id]; ok && !existing.getState().Terminal() {
		p.mu.Unlock()
		return "", fmt.Errorf("session %s is already running", id)
	}
	p.sessions[id] = sess
	p.mu.Unlock()

	if err := p.deps.Records.Save(ctx, sess.record()); err != nil {
		p.mu.Lock()
		delete(p.sessions, id)
		p.mu.Unlock()
		return "", errdefs.WrapInfrastructure(err, "session could not be created")
	}

	// The session outlives the caller's request context.
	runCtx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel
	metrics.SessionStarted()

	go p.run(runCtx, sess)
	return id, nil
}

// GetStatus returns the polling view of a live or persisted session.
func (p *Processor) GetStatus(sessionID string) (Status, error) {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()

	if ok {
		status := Status{
			SessionID: sessionID,
			State:     sess.getState(),
			Metrics:   sess.metrics.Snapshot(),
		}
		sess.mu.RLock()
		status.CurrentStep = sess.currentStep
		status.StartedAt = sess.startedAt
		status.EndedAt = sess.endedAt
		sess.mu.RUnlock()
		if snap, ok := p.deps.Reporter.Get(sessionID); ok {
			status.Percent = snap.Percent
		}
		return status, nil
	}

	record, err := p.deps.Records.Get(context.Background(), sessionID)
	if err != nil {
		return Status{}, err
	}
	if record == nil {
		return Status{}, ErrSessionNotFound
	}
	status := Status{
		SessionID:   record.ID,
		State:       record.State,
		CurrentStep: record.CurrentStep,
		Metrics:     record.Metrics,
		StartedAt:   record.StartedAt,
		EndedAt:     record.EndedAt,
	}
	if record.State == StateCompleted {
		status.Percent = 100
	}
	return status, nil
}

// StopSession requests a cooperative stop: in-flight batches finish their
// current phase and no new batch starts. With saveCheckpoint false the
// session's checkpoints are wiped during finalization.
func (p *Processor) StopSession(_ context.Context, sessionID string, saveCheckpoint bool) error {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	if sess.getState().Terminal() {
		return nil
	}

	sess.saveCheckpoint.Store(saveCheckpoint)
	sess.stopRequested.Store(true)
	p.logger.Info("stop requested",
		"session_id", sessionID,
		"save_checkpoint", saveCheckpoint,
	)
	return nil
}

// GenerateReport builds the session report. For running sessions it reflects
// progress so far; for finished or persisted sessions the frozen report.
func (p *Processor) GenerateReport(sessionID string, detailed bool) (*Report, error) {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()

	if ok {
		sess.mu.RLock()
		frozen := sess.report
		stats := sess.phaseStatsCopy()
		sess.mu.RUnlock()

		var report *Report
		if frozen != nil {
			clone := *frozen
			report = &clone
		} else {
			report = buildReport(sess, detailed, stats)
		}
		if !detailed {
			report.Outcomes = nil
		}
		return report, nil
	}

	record, err := p.deps.Records.Get(context.Background(), sessionID)
	if err != nil {
		return nil, err
	}
	if record == nil || record.Report == nil {
		return nil, ErrSessionNotFound
	}
	clone := *record.Report
	if !detailed {
		clone.Outcomes = nil
	}
	return &clone, nil
}

// Wait blocks until the session reaches a terminal state or ctx is done.
func (p *Processor) Wait(ctx context.Context, sessionID string) error {
	p.mu.RLock()
	sess, ok := p.sessions[sessionID]
	p.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions lists the IDs of sessions known to this processor.
func (p *Processor) Sessions() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close cancels all live sessions and waits for them to finalize.
func (p *Processor) Close() {
	p.mu.RLock()
	sessions := make([]*session, 0, len(p.sessions))
	for _, sess := range p.sessions {
		sessions = append(sessions, sess)
	}
	p.mu.RUnlock()

	for _, sess := range sessions {
		sess.stopRequested.Store(true)
	}
	for _, sess := range sessions {
		<-sess.done
	}
}
