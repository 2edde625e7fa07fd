package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/stacks/internal/metrics"
	"github.com/jackzampolin/stacks/internal/pipeline"
	"github.com/jackzampolin/stacks/internal/planner"
	"github.com/jackzampolin/stacks/internal/work"
)

// State is the orchestrator state machine position of one session.
type State string

const (
	StateInitializing    State = "INITIALIZING"
	StatePlanning        State = "PLANNING"
	StateBatchProcessing State = "BATCH_PROCESSING"
	StateDegrading       State = "DEGRADING"
	StateFinalizing      State = "FINALIZING"
	StateCompleted       State = "COMPLETED"
	StateFailed          State = "FAILED"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Status is the polling view of a session.
type Status struct {
	SessionID   string           `json:"session_id"`
	State       State            `json:"state"`
	Percent     float64          `json:"percent"`
	CurrentStep string           `json:"current_step"`
	Metrics     metrics.Snapshot `json:"metrics"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     time.Time        `json:"ended_at,omitempty"`
}

// session is the live state of one run. Mutable fields are guarded by mu;
// counters live in the metrics set, per-item outcomes in the tracker.
type session struct {
	id    string
	cfg   Config
	items []work.Item

	metrics  *metrics.SessionMetrics
	outcomes *pipeline.Tracker[pipeline.Outcome]

	stopRequested  atomic.Bool
	saveCheckpoint atomic.Bool
	cancel         context.CancelFunc
	done           chan struct{}

	mu          sync.RWMutex
	state       State
	currentStep string
	plan        planner.Plan
	startedAt   time.Time
	endedAt     time.Time
	failure     error
	report      *Report
	phaseStats  map[work.Phase]pipeline.PhaseStat

	completedBatches atomic.Int64
	totalBatches     int
}

func newSession(id string, cfg Config, items []work.Item) *session {
	s := &session{
		id:        id,
		cfg:       cfg,
		items:     items,
		metrics:   metrics.New(),
		outcomes:  pipeline.NewTracker[pipeline.Outcome](),
		done:      make(chan struct{}),
		state:     StateInitializing,
		startedAt: time.Now().UTC(),
	}
	s.saveCheckpoint.Store(true)
	s.metrics.SetSubmitted(int64(len(items)))
	return s
}

func (s *session) setState(state State, step string) {
	s.mu.Lock()
	s.state = state
	s.currentStep = step
	if state.Terminal() {
		s.endedAt = time.Now().UTC()
	}
	s.mu.Unlock()
}

func (s *session) setStep(step string) {
	s.mu.Lock()
	s.currentStep = step
	s.mu.Unlock()
}

func (s *session) setPlan(plan planner.Plan) {
	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()
}

// mergePhaseStats folds one batch's stats into the session aggregate.
func (s *session) mergePhaseStats(stats map[work.Phase]pipeline.PhaseStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phaseStats == nil {
		s.phaseStats = make(map[work.Phase]pipeline.PhaseStat, len(stats))
	}
	for phase, stat := range stats {
		agg := s.phaseStats[phase]
		agg.Ran += stat.Ran
		agg.Succeeded += stat.Succeeded
		agg.Failed += stat.Failed
		agg.Duration += stat.Duration
		s.phaseStats[phase] = agg
	}
}

// phaseStatsCopy returns a copy of the aggregate. The caller holds mu.
func (s *session) phaseStatsCopy() map[work.Phase]pipeline.PhaseStat {
	out := make(map[work.Phase]pipeline.PhaseStat, len(s.phaseStats))
	for phase, stat := range s.phaseStats {
		out[phase] = stat
	}
	return out
}

func (s *session) getState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *session) elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	end := s.endedAt
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return end.Sub(s.startedAt)
}

// record converts the session into its durable form.
func (s *session) record() SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionRecord{
		ID:             s.id,
		State:          s.state,
		RequestedCount: s.cfg.TargetCount,
		SubmittedCount: len(s.items),
		Plan:           s.plan,
		CurrentStep:    s.currentStep,
		StartedAt:      s.startedAt,
		EndedAt:        s.endedAt,
		Metrics:        s.metrics.Snapshot(),
		Report:         s.report,
	}
}

// SessionRecord is the persisted form of a session, written at every state
// transition so status and report queries survive the process.
type SessionRecord struct {
	ID             string           `json:"id"`
	State          State            `json:"state"`
	RequestedCount int              `json:"requested_count"`
	SubmittedCount int              `json:"submitted_count"`
	Plan           planner.Plan     `json:"plan"`
	CurrentStep    string           `json:"current_step"`
	StartedAt      time.Time        `json:"started_at"`
	EndedAt        time.Time        `json:"ended_at,omitempty"`
	Metrics        metrics.Snapshot `json:"metrics"`
	Report         *Report          `json:"report,omitempty"`
}
