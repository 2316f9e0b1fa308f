package provider

import (
	"context"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Provider Adapter — a uniform wrapper over one external intelligence
// source (sanctions screening, risk scoring, labels, entity attribution).
//
// Adapters hide transport, auth, rate limits and caching. They never raise
// across their boundary: every operation returns a Finding, and failures
// come back as error-kind Findings with zero confidence.

// Capability names one operation an adapter supports.
type Capability string

const (
	CapScreenAddress     Capability = "screen_address"
	CapScreenTransaction Capability = "screen_transaction"
	CapScreenEntity      Capability = "screen_entity"
	CapScreenIP          Capability = "screen_ip"
	CapGetLabels         Capability = "get_labels"
)

// EntityQuery carries the fields of an entity screening request.
type EntityQuery struct {
	Name     string `json:"name"`
	IDNumber string `json:"idNumber,omitempty"`
	Country  string `json:"country,omitempty"`
	Kind     string `json:"kind"` // "individual" or "organization"
}

// Provider is the uniform adapter contract consumed by the orchestrator.
type Provider interface {
	ID() string
	Capabilities() []Capability

	// Reliability is this source's weight in attribution fusion, 0-1.
	Reliability() float64

	ScreenAddress(ctx context.Context, chainTag, address string) models.Finding
	ScreenTransaction(ctx context.Context, chainTag, hash string) models.Finding
	ScreenEntity(ctx context.Context, query EntityQuery) models.Finding
	ScreenIP(ctx context.Context, ip string) models.Finding
	GetLabels(ctx context.Context, chainTag, address string) models.Finding
}

// Has reports whether the provider declares the given capability.
func Has(p Provider, c Capability) bool {
	for _, cap := range p.Capabilities() {
		if cap == c {
			return true
		}
	}
	return false
}
