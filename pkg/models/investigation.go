package models

import "time"

// Investigation is the envelope carrying one workflow run: its ordered
// steps, collected findings, fused verdicts and sealed evidence. The
// investigation exclusively owns its steps and evidence.

// InvestigationStatus is the workflow state machine:
// created → running → (completed | failed).
type InvestigationStatus string

const (
	InvestigationCreated   InvestigationStatus = "created"
	InvestigationRunning   InvestigationStatus = "running"
	InvestigationCompleted InvestigationStatus = "completed"
	InvestigationFailed    InvestigationStatus = "failed"
)

// StepStatus is the per-step state machine:
// pending → running → (completed | failed).
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// TargetType discriminates what an investigation runs against.
type TargetType string

const (
	TargetAddress     TargetType = "address"
	TargetTransaction TargetType = "transaction"
	TargetFlow        TargetType = "flow"
	TargetBatch       TargetType = "batch"
)

// Step is one unit of work inside an investigation, executed by a single
// provider or engine. Failure of an optional step does not fail the
// investigation; failure of a mandatory one does.
type Step struct {
	StepID      string     `json:"stepId"`
	Name        string     `json:"name"`
	SourceID    string     `json:"sourceId"`
	Mandatory   bool       `json:"mandatory"`
	Status      StepStatus `json:"status"`
	StartedAt   time.Time  `json:"startedAt,omitempty"`
	CompletedAt time.Time  `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Investigation is one run of a workflow on one target.
type Investigation struct {
	ID           string                     `json:"id"`
	Target       string                     `json:"target"`
	TargetType   TargetType                 `json:"targetType"`
	Chain        string                     `json:"chain,omitempty"`
	Capabilities []string                   `json:"requestedCapabilities,omitempty"`
	Status       InvestigationStatus        `json:"status"`
	Steps        []Step                     `json:"steps"`
	Findings     []Finding                  `json:"findings"`
	Attribution  *Attribution               `json:"attribution,omitempty"`
	Attributions map[string]*Attribution    `json:"attributions,omitempty"` // batch runs, keyed by address key
	Risk         *RiskAssessment            `json:"risk,omitempty"`
	Risks        map[string]*RiskAssessment `json:"risks,omitempty"` // batch runs, keyed by address key
	// ConfidenceDistribution buckets the per-address attribution
	// confidence levels of a batch run.
	ConfidenceDistribution map[ConfidenceLevel]int `json:"confidenceDistribution,omitempty"`
	Flow                   *FundFlow               `json:"flow,omitempty"`
	Evidence               []Evidence              `json:"evidence"`
	Partial                bool                    `json:"partial"`
	FailureReason          string                  `json:"failureReason,omitempty"`
	CreatedAt              time.Time               `json:"createdAt"`
	ProcessingTime         time.Duration           `json:"processingTime"`
}

// FailedSteps returns the steps that ended in failure.
func (inv *Investigation) FailedSteps() []Step {
	var failed []Step
	for _, s := range inv.Steps {
		if s.Status == StepFailed {
			failed = append(failed, s)
		}
	}
	return failed
}
