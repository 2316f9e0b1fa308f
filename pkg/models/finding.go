package models

import (
	"time"

	"github.com/google/uuid"
)

// Finding is one discrete observation from one source — the atomic unit
// consumed by the fusion layer. Providers and engines never raise errors
// across their boundary; failures become Findings with an error kind and
// zero confidence.

// FindingKind is the closed set of observation kinds.
type FindingKind string

const (
	KindSanctionsHit      FindingKind = "sanctions_hit"
	KindRiskScore         FindingKind = "risk_score"
	KindLabel             FindingKind = "label"
	KindPattern           FindingKind = "pattern"
	KindBridgeTransfer    FindingKind = "bridge_transfer"
	KindMixerUse          FindingKind = "mixer_use"
	KindPrivacyToolUse    FindingKind = "privacy_tool_use"
	KindClusterMembership FindingKind = "cluster_membership"
	KindAttribution       FindingKind = "attribution"

	// Failure kinds. These carry confidence 0 and are absorbed into the
	// investigation outcome rather than propagated as errors.
	KindError       FindingKind = "error"
	KindRateLimited FindingKind = "rate_limited"
	KindDropped     FindingKind = "dropped"
)

// Severity orders findings by impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for threshold comparisons.
var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// AtLeast reports whether s is at or above the given minimum severity.
func (s Severity) AtLeast(minimum Severity) bool {
	return severityRank[s] >= severityRank[minimum]
}

// SubjectType discriminates what a finding is about.
type SubjectType string

const (
	SubjectAddress     SubjectType = "address"
	SubjectTransaction SubjectType = "transaction"
	SubjectFlow        SubjectType = "flow"
)

// Subject identifies the entity a finding refers to. Exactly one of the
// identity fields beyond Chain is populated, matching Type.
type Subject struct {
	Type    SubjectType `json:"type"`
	Chain   string      `json:"chain,omitempty"`
	Address string      `json:"address,omitempty"`
	TxHash  string      `json:"txHash,omitempty"`
	FlowID  string      `json:"flowId,omitempty"`
}

// AddressSubject builds a subject for a chain-qualified address.
func AddressSubject(addr Address) Subject {
	return Subject{Type: SubjectAddress, Chain: addr.Chain, Address: addr.Address}
}

// TransactionSubject builds a subject for a transaction.
func TransactionSubject(tx Transaction) Subject {
	return Subject{Type: SubjectTransaction, Chain: tx.Chain, TxHash: tx.Hash}
}

// FlowSubject builds a subject for a traced fund flow.
func FlowSubject(flowID string) Subject {
	return Subject{Type: SubjectFlow, FlowID: flowID}
}

// Finding is one observation from one registered provider or engine.
// Invariants: Confidence ∈ [0,1]; SourceID resolves to a registered source.
type Finding struct {
	ID         string         `json:"id"`
	Subject    Subject        `json:"subject"`
	Kind       FindingKind    `json:"kind"`
	Severity   Severity       `json:"severity"`
	Confidence float64        `json:"confidence"`
	SourceID   string         `json:"sourceId"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// NewFinding constructs a finding with a fresh UUID and clamped confidence.
func NewFinding(subject Subject, kind FindingKind, severity Severity, confidence float64, sourceID string, payload map[string]any) Finding {
	return Finding{
		ID:         uuid.NewString(),
		Subject:    subject,
		Kind:       kind,
		Severity:   severity,
		Confidence: Clamp01(confidence),
		SourceID:   sourceID,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}
}

// ErrorFinding wraps a source-side failure as a zero-confidence finding.
func ErrorFinding(subject Subject, sourceID string, kind FindingKind, reason string) Finding {
	return NewFinding(subject, kind, SeverityLow, 0, sourceID, map[string]any{"reason": reason})
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
