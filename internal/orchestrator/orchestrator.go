package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rawblock/chainintel-engine/internal/alert"
	"github.com/rawblock/chainintel-engine/internal/engine"
	"github.com/rawblock/chainintel-engine/internal/evidence"
	"github.com/rawblock/chainintel-engine/internal/fusion"
	"github.com/rawblock/chainintel-engine/internal/metrics"
	"github.com/rawblock/chainintel-engine/internal/provider"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Investigation Orchestrator
//
// Owns the investigation lifecycle: builds a step per registered source,
// fans the steps out with bounded concurrency, collects findings over a
// bounded channel, fuses the verdicts and seals every accepted finding as
// evidence. The report is always sealed — deadline hits and cancellations
// produce a failed investigation carrying whatever evidence was collected,
// marked partial.
//
// Error discipline at this boundary: sources never return errors (they
// return error-kind findings); the orchestrator itself returns sentinel
// errors only for caller mistakes and infrastructure failures.

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInternal         = errors.New("internal error")
	ErrNotFound         = errors.New("investigation not found")
)

// Config bounds orchestrator execution.
type Config struct {
	MaxConcurrency int           // parallel steps, default 16
	FindingsBuffer int           // findings channel capacity, default 256
	ScanDeadline   time.Duration // address/transaction/batch workflows, default 60s
	TraceDeadline  time.Duration // fund-flow trace workflow, default 120s
	MaxBatchSize   int           // batch attribution ceiling, default 100
	MaxHistory     int           // retained investigations, default 1000
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 16,
		FindingsBuffer: 256,
		ScanDeadline:   60 * time.Second,
		TraceDeadline:  120 * time.Second,
		MaxBatchSize:   100,
		MaxHistory:     1000,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = d.MaxConcurrency
	}
	if c.FindingsBuffer <= 0 {
		c.FindingsBuffer = d.FindingsBuffer
	}
	if c.ScanDeadline <= 0 {
		c.ScanDeadline = d.ScanDeadline
	}
	if c.TraceDeadline <= 0 {
		c.TraceDeadline = d.TraceDeadline
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = d.MaxBatchSize
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
}

// FlowTracer is the extra contract the fund-flow workflow needs beyond the
// plain engine interface.
type FlowTracer interface {
	TraceFlow(ctx context.Context, seed models.Transaction, opts engine.Options) (*models.FundFlow, error)
}

// Orchestrator coordinates providers, engines and fusion into
// investigations.
type Orchestrator struct {
	cfg         Config
	providers   []provider.Provider
	engines     []engine.Engine
	flowTracer  FlowTracer
	attribution *fusion.AttributionFuser
	risk        *fusion.RiskFuser
	evidence    *evidence.Store
	alerts      *alert.Manager
	metrics     *metrics.Metrics
	logger      *zap.Logger

	mu             sync.RWMutex
	investigations map[string]*models.Investigation
	order          []string
}

// New wires the orchestrator. The fund-flow tracer is discovered among the
// engines; flow workflows fail with ErrInvalidInput when none is present.
func New(cfg Config, providers []provider.Provider, engines []engine.Engine,
	attribution *fusion.AttributionFuser, risk *fusion.RiskFuser,
	ev *evidence.Store, alerts *alert.Manager, logger *zap.Logger) *Orchestrator {

	cfg.applyDefaults()
	o := &Orchestrator{
		cfg:            cfg,
		providers:      providers,
		engines:        engines,
		attribution:    attribution,
		risk:           risk,
		evidence:       ev,
		alerts:         alerts,
		logger:         logger.Named("orchestrator"),
		investigations: make(map[string]*models.Investigation),
	}
	for _, e := range engines {
		if tracer, ok := e.(FlowTracer); ok {
			o.flowTracer = tracer
			break
		}
	}
	return o
}

// SetMetrics installs the instrumentation sink; nil disables it.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) { o.metrics = m }

// Get returns a stored investigation by ID.
func (o *Orchestrator) Get(id string) (*models.Investigation, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	inv, ok := o.investigations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return inv, nil
}

// List returns the most recent investigations, newest first.
func (o *Orchestrator) List(limit int) []*models.Investigation {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if limit <= 0 || limit > len(o.order) {
		limit = len(o.order)
	}
	out := make([]*models.Investigation, 0, limit)
	for i := len(o.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, o.investigations[o.order[i]])
	}
	return out
}

func (o *Orchestrator) remember(inv *models.Investigation) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.investigations[inv.ID] = inv
	o.order = append(o.order, inv.ID)
	for len(o.order) > o.cfg.MaxHistory {
		delete(o.investigations, o.order[0])
		o.order = o.order[1:]
	}
}

// step pairs a unit of work with its bookkeeping entry.
type step struct {
	meta models.Step
	run  func(ctx context.Context) []models.Finding
}

func newStep(name, sourceID string, mandatory bool, run func(ctx context.Context) []models.Finding) step {
	return step{
		meta: models.Step{
			StepID:    uuid.NewString(),
			Name:      name,
			SourceID:  sourceID,
			Mandatory: mandatory,
			Status:    models.StepPending,
		},
		run: run,
	}
}

// execute fans the steps out and collects findings. It fills inv.Steps,
// inv.Findings and inv.Partial; the caller owns fusion and sealing.
func (o *Orchestrator) execute(ctx context.Context, inv *models.Investigation, subject models.Subject, steps []step) {
	findings := make(chan models.Finding, o.cfg.FindingsBuffer)

	var dropMu sync.Mutex
	var dropped []models.Finding

	inv.Steps = make([]models.Step, len(steps))
	for i := range steps {
		inv.Steps[i] = steps[i].meta
	}

	var collected []models.Finding
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range findings {
			collected = append(collected, f)
		}
	}()

	g, stepCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrency)

	var stepMu sync.Mutex
	for i := range steps {
		i := i
		g.Go(func() error {
			stepMu.Lock()
			inv.Steps[i].Status = models.StepRunning
			inv.Steps[i].StartedAt = time.Now().UTC()
			stepMu.Unlock()

			if stepCtx.Err() != nil {
				stepMu.Lock()
				inv.Steps[i].Status = models.StepFailed
				inv.Steps[i].Error = stepCtx.Err().Error()
				inv.Steps[i].CompletedAt = time.Now().UTC()
				stepMu.Unlock()
				return nil
			}

			results := steps[i].run(stepCtx)

			failed := len(results) > 0
			for _, f := range results {
				if f.Kind != models.KindError && f.Kind != models.KindRateLimited {
					failed = false
				}
				select {
				case findings <- f:
				default:
					// Buffer full: record a dropped marker instead of
					// blocking the producer pool.
					dropMu.Lock()
					dropped = append(dropped, models.NewFinding(subject, models.KindDropped,
						models.SeverityLow, 0, f.SourceID, map[string]any{"droppedFinding": f.ID}))
					dropMu.Unlock()
				}
			}

			stepMu.Lock()
			if failed {
				inv.Steps[i].Status = models.StepFailed
				if len(results) > 0 {
					if reason, ok := results[0].Payload["reason"].(string); ok {
						inv.Steps[i].Error = reason
					}
				}
			} else {
				inv.Steps[i].Status = models.StepCompleted
			}
			inv.Steps[i].CompletedAt = time.Now().UTC()
			stepMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	close(findings)
	<-done

	collected = append(collected, dropped...)
	inv.Findings = collected

	mandatoryFailed := false
	for _, s := range inv.Steps {
		if s.Status == models.StepFailed {
			inv.Partial = true
			if s.Mandatory {
				mandatoryFailed = true
			}
		}
	}
	if len(dropped) > 0 {
		inv.Partial = true
	}

	switch {
	case ctx.Err() != nil:
		inv.Status = models.InvestigationFailed
		inv.Partial = true
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			inv.FailureReason = "deadline exceeded"
		} else {
			inv.FailureReason = "cancelled"
		}
	case mandatoryFailed:
		inv.Status = models.InvestigationFailed
		inv.FailureReason = "mandatory step failed"
	default:
		inv.Status = models.InvestigationCompleted
	}
}

// seal appends every collected finding to the evidence store. Sealing is
// best-effort per finding; a failing backend marks the report partial
// rather than losing the rest of the chain.
func (o *Orchestrator) seal(ctx context.Context, inv *models.Investigation) {
	// Sealing must survive workflow deadline expiry.
	sealCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for _, f := range inv.Findings {
		entry, err := o.evidence.Append(sealCtx, inv.ID, f)
		if err != nil {
			o.logger.Error("evidence seal failed",
				zap.String("investigation", inv.ID), zap.Error(err))
			inv.Partial = true
			continue
		}
		inv.Evidence = append(inv.Evidence, entry)
	}
}

// fuse runs both fusers over the collected findings and emits an alert on
// a high fused risk.
func (o *Orchestrator) fuse(inv *models.Investigation, subject models.Subject) {
	inv.Attribution = o.attribution.Fuse(subject, inv.Findings)
	inv.Risk = o.risk.Fuse(subject, inv.Findings)
	if inv.Risk != nil {
		o.alerts.EmitFromAssessment(inv.ID, *inv.Risk)
	}
}

func (o *Orchestrator) finish(inv *models.Investigation, started time.Time) {
	inv.ProcessingTime = time.Since(started)
	o.remember(inv)
	o.metrics.ObserveInvestigation(string(inv.TargetType), string(inv.Status), inv.ProcessingTime)
	for _, f := range inv.Findings {
		o.metrics.ObserveSourceFinding(f.SourceID, string(f.Kind))
	}
	o.logger.Info("investigation finished",
		zap.String("id", inv.ID),
		zap.String("type", string(inv.TargetType)),
		zap.String("status", string(inv.Status)),
		zap.Bool("partial", inv.Partial),
		zap.Int("findings", len(inv.Findings)),
		zap.Duration("took", inv.ProcessingTime))
}
