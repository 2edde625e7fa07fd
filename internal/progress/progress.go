// Package progress tracks the latest progress snapshot per session and
// pushes updates to an external sink on a best-effort basis. Push failures
// are logged and never propagate into the pipeline.
package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Snapshot is the latest progress state of one session.
type Snapshot struct {
	SessionID string         `json:"session_id"`
	Percent   float64        `json:"percent"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	At        time.Time      `json:"at"`
}

// Sink receives progress snapshots. Implementations must tolerate concurrent
// pushes; errors are logged by the reporter and otherwise ignored.
type Sink interface {
	Push(ctx context.Context, snap Snapshot) error
}

// LogSink writes snapshots to the logger. The default sink when no external
// consumer is wired.
type LogSink struct {
	Logger *slog.Logger
}

// Push implements Sink.
func (s *LogSink) Push(_ context.Context, snap Snapshot) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("progress",
		"session_id", snap.SessionID,
		"percent", snap.Percent,
		"message", snap.Message,
	)
	return nil
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	Sink        Sink          // nil disables pushing
	QueueSize   int           // push queue buffer (default 256)
	PushTimeout time.Duration // per-push deadline (default 5s)
	Logger      *slog.Logger
}

// Reporter stores the latest snapshot per session and forwards updates to
// the sink through a buffered queue. A full queue drops the update rather
// than stalling a phase executor.
type Reporter struct {
	sink        Sink
	pushTimeout time.Duration
	logger      *slog.Logger

	mu        sync.RWMutex
	snapshots map[string]Snapshot

	queue    chan Snapshot
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewReporter creates a reporter and starts its push worker when a sink is
// configured. Call Stop to flush and shut the worker down.
func NewReporter(cfg ReporterConfig) *Reporter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := &Reporter{
		sink:        cfg.Sink,
		pushTimeout: cfg.PushTimeout,
		logger:      cfg.Logger,
		snapshots:   make(map[string]Snapshot),
		queue:       make(chan Snapshot, cfg.QueueSize),
	}

	if r.sink != nil {
		r.wg.Add(1)
		go r.pushLoop()
	}
	return r
}

// Update records the latest snapshot for a session. Percent never moves
// backward for a session; concurrent batch streams may interleave, but polls
// stay monotonic until the session is forgotten.
func (r *Reporter) Update(sessionID string, percent float64, message string, details map[string]any) {
	r.mu.Lock()
	if prev, ok := r.snapshots[sessionID]; ok && percent < prev.Percent {
		percent = prev.Percent
	}
	snap := Snapshot{
		SessionID: sessionID,
		Percent:   percent,
		Message:   message,
		Details:   details,
		At:        time.Now().UTC(),
	}
	r.snapshots[sessionID] = snap
	r.mu.Unlock()

	r.enqueue(snap)
}

// Get returns the latest snapshot for a session.
func (r *Reporter) Get(sessionID string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[sessionID]
	return snap, ok
}

// Forget discards a session's snapshot after terminal cleanup.
func (r *Reporter) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, sessionID)
}

// Stop drains the push queue and waits for the worker to exit.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() {
		close(r.queue)
		r.wg.Wait()
	})
}

// enqueue hands a snapshot to the push worker without blocking the caller.
func (r *Reporter) enqueue(snap Snapshot) {
	if r.sink == nil {
		return
	}

	// The queue closes during Stop; a racing phase executor must not panic.
	defer func() {
		if recover() != nil {
			r.logger.Debug("progress reporter stopped, dropping update",
				"session_id", snap.SessionID)
		}
	}()

	select {
	case r.queue <- snap:
	default:
		r.logger.Warn("progress queue full, dropping update",
			"session_id", snap.SessionID,
			"percent", snap.Percent,
		)
	}
}

func (r *Reporter) pushLoop() {
	defer r.wg.Done()
	for snap := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.pushTimeout)
		if err := r.sink.Push(ctx, snap); err != nil {
			r.logger.Warn("progress push failed",
				"session_id", snap.SessionID,
				"error", err,
			)
		}
		cancel()
	}
}
