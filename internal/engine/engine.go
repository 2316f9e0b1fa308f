package engine

import (
	"context"
	"time"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Analysis Engines — pluggable producers of findings.
//
// Every engine exposes the same contract: analyze a target, return
// findings. Engines are stateless between calls and safe to invoke in
// parallel. They never persist evidence themselves and never raise across
// the boundary — store failures surface as error-kind findings and the
// orchestrator absorbs them into the investigation outcome.

// Target is what an engine analyzes: an address with history, or a single
// seed transaction.
type Target struct {
	Type        models.TargetType
	Address     models.Address
	Transaction models.Transaction
}

// Options tunes one analysis run.
type Options struct {
	// Window bounds the history lookback from Now. Zero selects each
	// engine's default.
	Window time.Duration

	// MaxDepth bounds flow tracing (1-10).
	MaxDepth int

	// Now anchors window arithmetic; zero means wall clock. Tests pin it.
	Now time.Time
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC()
	}
	return o.Now
}

func (o Options) window(fallback time.Duration) time.Duration {
	if o.Window <= 0 {
		return fallback
	}
	return o.Window
}

// Engine is the polymorphic analysis contract.
type Engine interface {
	ID() string
	Analyze(ctx context.Context, target Target, opts Options) []models.Finding
}

// storeErrorFinding wraps a graph-store failure for a target.
func storeErrorFinding(target Target, engineID string, err error) []models.Finding {
	var subject models.Subject
	if target.Type == models.TargetTransaction {
		subject = models.TransactionSubject(target.Transaction)
	} else {
		subject = models.AddressSubject(target.Address)
	}
	return []models.Finding{models.ErrorFinding(subject, engineID, models.KindError, err.Error())}
}
