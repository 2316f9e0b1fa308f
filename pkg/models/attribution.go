package models

import "time"

// Attribution is the consolidated identity claim for an address, produced
// by the fusion layer from one or more source findings. The confidence
// level is always derived from the numeric score by ConfidenceLevelFor and
// never stored disagreeing.

// ConfidenceLevel buckets a 0-1 confidence score.
type ConfidenceLevel string

const (
	ConfidenceVeryLow    ConfidenceLevel = "very_low"
	ConfidenceLow        ConfidenceLevel = "low"
	ConfidenceMedium     ConfidenceLevel = "medium"
	ConfidenceHigh       ConfidenceLevel = "high"
	ConfidenceVeryHigh   ConfidenceLevel = "very_high"
	ConfidenceDefinitive ConfidenceLevel = "definitive"
)

// ConfidenceLevelFor is the single source of truth for confidence bucketing.
func ConfidenceLevelFor(score float64) ConfidenceLevel {
	switch {
	case score < 0.2:
		return ConfidenceVeryLow
	case score < 0.4:
		return ConfidenceLow
	case score < 0.6:
		return ConfidenceMedium
	case score < 0.8:
		return ConfidenceHigh
	case score < 0.95:
		return ConfidenceVeryHigh
	default:
		return ConfidenceDefinitive
	}
}

// EntityType classifies what kind of actor an address belongs to.
type EntityType string

const (
	EntityExchange      EntityType = "exchange"
	EntityMixer         EntityType = "mixer"
	EntityPrivacyTool   EntityType = "privacy_tool"
	EntityInstitutional EntityType = "institutional"
	EntityRetail        EntityType = "retail"
	EntityWhale         EntityType = "whale"
	EntityScam          EntityType = "scam"
	EntityGambling      EntityType = "gambling"
	EntityDeFi          EntityType = "defi"
	EntityMining        EntityType = "mining"
	EntityBridge        EntityType = "bridge"
	EntityUnknown       EntityType = "unknown"
)

// VerificationStatus tracks analyst review of an attribution.
type VerificationStatus string

const (
	VerificationUnverified    VerificationStatus = "unverified"
	VerificationVerified      VerificationStatus = "verified"
	VerificationFalsePositive VerificationStatus = "false_positive"
	VerificationInvestigating VerificationStatus = "investigating"
)

// SourceDetail records how one source contributed to an attribution.
type SourceDetail struct {
	Confidence  float64 `json:"confidence"`
	Reliability float64 `json:"reliability"`
	Coverage    float64 `json:"coverage"`
}

// SourceConflict records a pair of sources whose claimed labels differ.
type SourceConflict struct {
	SourceA string `json:"sourceA"`
	LabelA  string `json:"labelA"`
	SourceB string `json:"sourceB"`
	LabelB  string `json:"labelB"`
}

// Attribution is the fused identity verdict for one address.
type Attribution struct {
	ID                  string                  `json:"id"`
	Subject             Subject                 `json:"subject"`
	EntityLabel         string                  `json:"entityLabel,omitempty"`
	EntityType          EntityType              `json:"entityType"`
	ConfidenceScore     float64                 `json:"confidenceScore"`
	ConfidenceLevel     ConfidenceLevel         `json:"confidenceLevel"`
	ContributingSources []string                `json:"contributingSources"`
	SourceDetails       map[string]SourceDetail `json:"sourceDetails,omitempty"`
	Conflicts           []SourceConflict        `json:"conflicts,omitempty"`
	SourceAgreement     float64                 `json:"sourceAgreement"`
	VerificationStatus  VerificationStatus      `json:"verificationStatus"`
	CreatedAt           time.Time               `json:"createdAt"`
	LastUpdated         time.Time               `json:"lastUpdated"`
}

// SetConfidence stores the score and keeps the derived level consistent.
func (a *Attribution) SetConfidence(score float64) {
	a.ConfidenceScore = Clamp01(score)
	a.ConfidenceLevel = ConfidenceLevelFor(a.ConfidenceScore)
}
