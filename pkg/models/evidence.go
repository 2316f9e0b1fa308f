package models

import "time"

// Evidence is a sealed, tamper-evident record of a finding attached to an
// investigation. The content hash is SHA-256 over the canonical (RFC 8785)
// serialization of the payload; verification recomputes it from the stored
// bytes. Entries are append-only — the only removal path is the retention
// task, which prunes whole investigations past the configured age.
type Evidence struct {
	ID              string    `json:"id"`
	InvestigationID string    `json:"investigationId"`
	FindingID       string    `json:"findingId"`
	Sequence        int       `json:"sequence"`
	Source          string    `json:"source"`
	Timestamp       time.Time `json:"timestamp"`
	ContentHash     string    `json:"contentHash"`
	Payload         []byte    `json:"payload"`
}
