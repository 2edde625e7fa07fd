// Package work defines the data model shared by every stage of the
// literature processing engine: items, phases, per-phase results, and the
// checkpoint-serializable result envelope.
package work

import (
	"time"

	"github.com/jackzampolin/stacks/internal/errdefs"
)

// Phase is one pipeline stage.
type Phase string

const (
	PhaseExtraction  Phase = "extraction"
	PhaseAnalysis    Phase = "analysis"
	PhaseStructuring Phase = "structuring"
	PhasePersistence Phase = "persistence"
)

// Phases returns the pipeline stages in execution order.
func Phases() []Phase {
	return []Phase{PhaseExtraction, PhaseAnalysis, PhaseStructuring, PhasePersistence}
}

// Status is the lifecycle state of an item.
type Status string

const (
	StatusPending     Status = "pending"
	StatusExtracting  Status = "extracting"
	StatusAnalyzing   Status = "analyzing"
	StatusStructuring Status = "structuring"
	StatusPersisted   Status = "persisted"
	StatusFailed      Status = "failed"
	StatusDegraded    Status = "degraded"
)

// Item is a single document processed through the pipeline. Each item is
// owned by exactly one batch within a session.
type Item struct {
	ID       string            `json:"id"`
	Title    string            `json:"title"`
	Source   string            `json:"source,omitempty"`
	Abstract string            `json:"abstract,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Phase     Phase  `json:"phase,omitempty"`
	Status    Status `json:"status,omitempty"`
	Attempts  int    `json:"attempts,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Segment classification kinds produced by the structuring phase.
const (
	SegmentMethodology  = "methodology"
	SegmentResults      = "results"
	SegmentIntroduction = "introduction"
	SegmentDiscussion   = "discussion"
	SegmentGeneral      = "general"
	SegmentSummary      = "summary"
)

// Segment is one persistable unit of structured content.
type Segment struct {
	Index int    `json:"index"`
	Kind  string `json:"kind"`
	Text  string `json:"text"`
}

// ExtractionResult is the payload of a successful extraction phase.
type ExtractionResult struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Source   string            `json:"source"`
	Pages    int               `json:"pages,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
}

// AnalysisResult is the payload of a successful analysis phase.
type AnalysisResult struct {
	Summary    string   `json:"summary"`
	Segments   []string `json:"segments,omitempty"`
	Confidence float64  `json:"confidence"`
	Model      string   `json:"model,omitempty"`
	Tokens     int64    `json:"tokens,omitempty"`
	CostUSD    float64  `json:"cost_usd,omitempty"`
}

// StructuringResult is the payload of a successful structuring phase.
type StructuringResult struct {
	Segments []Segment `json:"segments"`
}

// PersistenceResult is the payload of a successful persistence phase.
type PersistenceResult struct {
	SegmentCount int `json:"segment_count"`
}

// Failure describes why a phase permanently failed for one item.
type Failure struct {
	Kind    errdefs.Kind `json:"kind"`
	Message string       `json:"message"`
	Phase   Phase        `json:"phase"`
}

// PhaseResult is the immutable record of one phase execution for one item.
// Exactly one payload pointer is set on success; Failure is set otherwise.
// The whole envelope round-trips through JSON for checkpointing.
type PhaseResult struct {
	ItemID        string        `json:"item_id"`
	Phase         Phase         `json:"phase"`
	Success       bool          `json:"success"`
	Degraded      bool          `json:"degraded,omitempty"`
	CheckpointHit bool          `json:"-"`
	Attempts      int           `json:"attempts,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`

	Extraction  *ExtractionResult  `json:"extraction,omitempty"`
	Analysis    *AnalysisResult    `json:"analysis,omitempty"`
	Structuring *StructuringResult `json:"structuring,omitempty"`
	Persistence *PersistenceResult `json:"persistence,omitempty"`
	Failure     *Failure           `json:"failure,omitempty"`
}

// Succeeded creates a success envelope. The caller sets the phase payload.
func Succeeded(itemID string, phase Phase) *PhaseResult {
	return &PhaseResult{
		ItemID:    itemID,
		Phase:     phase,
		Success:   true,
		StartedAt: time.Now().UTC(),
	}
}

// Failed creates a failure envelope, classifying err through the taxonomy.
func Failed(itemID string, phase Phase, err error) *PhaseResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &PhaseResult{
		ItemID:    itemID,
		Phase:     phase,
		Success:   false,
		StartedAt: time.Now().UTC(),
		Failure: &Failure{
			Kind:    errdefs.KindOf(err),
			Message: msg,
			Phase:   phase,
		},
	}
}
