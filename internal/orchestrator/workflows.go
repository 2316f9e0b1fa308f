package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/chainintel-engine/internal/chain"
	"github.com/rawblock/chainintel-engine/internal/engine"
	"github.com/rawblock/chainintel-engine/internal/provider"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// The four workflows. Each builds its step list, runs the shared execution
// core under its deadline, fuses and seals, and always returns a stored
// investigation — even failed runs carry their partial evidence.

// InvestigateAddress runs the deep-scan workflow: every screening-capable
// provider plus every analysis engine against one address.
func (o *Orchestrator) InvestigateAddress(ctx context.Context, chainTag, address string) (*models.Investigation, error) {
	canonical, err := chain.Canonical(chainTag, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, err)
	}
	chainTag = strings.ToLower(strings.TrimSpace(chainTag))
	addr := models.Address{Chain: chainTag, Address: canonical}
	subject := models.AddressSubject(addr)

	inv := o.newInvestigation(addr.Key(), models.TargetAddress, chainTag)
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanDeadline)
	defer cancel()

	var steps []step
	for _, p := range o.providers {
		p := p
		if provider.Has(p, provider.CapScreenAddress) {
			steps = append(steps, newStep("screen_address", p.ID(), false, func(ctx context.Context) []models.Finding {
				return []models.Finding{p.ScreenAddress(ctx, chainTag, canonical)}
			}))
		}
		if provider.Has(p, provider.CapGetLabels) {
			steps = append(steps, newStep("get_labels", p.ID(), false, func(ctx context.Context) []models.Finding {
				return []models.Finding{p.GetLabels(ctx, chainTag, canonical)}
			}))
		}
	}
	target := engine.Target{Type: models.TargetAddress, Address: addr}
	for _, e := range o.engines {
		e := e
		steps = append(steps, newStep("analyze", e.ID(), false, func(ctx context.Context) []models.Finding {
			return e.Analyze(ctx, target, engine.Options{})
		}))
	}

	o.execute(runCtx, inv, subject, steps)
	o.fuse(inv, subject)
	o.seal(runCtx, inv)
	o.finish(inv, started)
	return inv, nil
}

// InvestigateTransaction screens one transaction and runs the engines
// against it.
func (o *Orchestrator) InvestigateTransaction(ctx context.Context, tx models.Transaction) (*models.Investigation, error) {
	if tx.Hash == "" || !chain.Supported(tx.Chain) {
		return nil, fmt.Errorf("%w: transaction needs a hash and a supported chain", ErrInvalidInput)
	}
	subject := models.TransactionSubject(tx)

	inv := o.newInvestigation(tx.Key(), models.TargetTransaction, tx.Chain)
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanDeadline)
	defer cancel()

	var steps []step
	for _, p := range o.providers {
		p := p
		if provider.Has(p, provider.CapScreenTransaction) {
			steps = append(steps, newStep("screen_transaction", p.ID(), false, func(ctx context.Context) []models.Finding {
				return []models.Finding{p.ScreenTransaction(ctx, tx.Chain, tx.Hash)}
			}))
		}
	}
	target := engine.Target{Type: models.TargetTransaction, Transaction: tx}
	for _, e := range o.engines {
		e := e
		steps = append(steps, newStep("analyze", e.ID(), false, func(ctx context.Context) []models.Finding {
			return e.Analyze(ctx, target, engine.Options{})
		}))
	}

	o.execute(runCtx, inv, subject, steps)
	o.fuse(inv, subject)
	o.seal(runCtx, inv)
	o.finish(inv, started)
	return inv, nil
}

// TraceFundFlow traces value forward from a seed transaction. maxDepth
// must lie in [1,10].
func (o *Orchestrator) TraceFundFlow(ctx context.Context, seed models.Transaction, maxDepth int) (*models.Investigation, error) {
	if maxDepth < 1 || maxDepth > 10 {
		return nil, fmt.Errorf("%w: max depth %d outside [1,10]", ErrInvalidInput, maxDepth)
	}
	if seed.Hash == "" || !chain.Supported(seed.Chain) {
		return nil, fmt.Errorf("%w: seed transaction needs a hash and a supported chain", ErrInvalidInput)
	}
	if o.flowTracer == nil {
		return nil, fmt.Errorf("%w: no flow-capable engine registered", ErrInternal)
	}

	inv := o.newInvestigation(seed.Key(), models.TargetFlow, seed.Chain)
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.TraceDeadline)
	defer cancel()

	flow, err := o.flowTracer.TraceFlow(runCtx, seed, engine.Options{MaxDepth: maxDepth})
	if err != nil {
		inv.Status = models.InvestigationFailed
		inv.Partial = true
		inv.FailureReason = err.Error()
		o.finish(inv, started)
		return inv, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	if flow == nil {
		inv.Status = models.InvestigationFailed
		inv.FailureReason = "seed transaction is not traceable"
		o.finish(inv, started)
		return inv, nil
	}
	inv.Flow = flow
	subject := models.FlowSubject(flow.FlowID)

	// Screen both endpoints of the flow alongside the trace result.
	var steps []step
	for _, p := range o.providers {
		p := p
		if !provider.Has(p, provider.CapScreenAddress) {
			continue
		}
		for _, endpoint := range []models.Address{flow.Start, flow.End} {
			endpoint := endpoint
			steps = append(steps, newStep("screen_endpoint", p.ID(), false, func(ctx context.Context) []models.Finding {
				return []models.Finding{p.ScreenAddress(ctx, endpoint.Chain, endpoint.Address)}
			}))
		}
	}
	steps = append(steps, newStep("trace_result", "orchestrator", false, func(context.Context) []models.Finding {
		return []models.Finding{flowFinding(subject, flow)}
	}))

	o.execute(runCtx, inv, subject, steps)
	o.fuse(inv, subject)
	o.seal(runCtx, inv)
	o.finish(inv, started)
	return inv, nil
}

// BatchAttribution runs the address deep-scan multiplexed over up to
// MaxBatchSize addresses: every screening- or label-capable provider and
// every engine fans out per address, and fusion produces a per-address
// attribution and risk verdict plus the aggregate confidence
// distribution.
func (o *Orchestrator) BatchAttribution(ctx context.Context, addrs []models.Address) (*models.Investigation, error) {
	if len(addrs) == 0 || len(addrs) > o.cfg.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d outside [1,%d]", ErrInvalidInput, len(addrs), o.cfg.MaxBatchSize)
	}
	canonical := make([]models.Address, len(addrs))
	for i, a := range addrs {
		c, err := chain.Canonical(a.Chain, a.Address)
		if err != nil {
			return nil, fmt.Errorf("%w: address %d: %s", ErrInvalidInput, i, err)
		}
		canonical[i] = models.Address{Chain: strings.ToLower(strings.TrimSpace(a.Chain)), Address: c}
	}

	inv := o.newInvestigation(fmt.Sprintf("batch:%d", len(canonical)), models.TargetBatch, "")
	inv.Attributions = make(map[string]*models.Attribution)
	inv.Risks = make(map[string]*models.RiskAssessment)
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.ScanDeadline)
	defer cancel()

	var steps []step
	for _, addr := range canonical {
		addr := addr
		for _, p := range o.providers {
			p := p
			if provider.Has(p, provider.CapScreenAddress) {
				steps = append(steps, newStep("screen_address", p.ID(), false, func(ctx context.Context) []models.Finding {
					return []models.Finding{p.ScreenAddress(ctx, addr.Chain, addr.Address)}
				}))
			}
			if provider.Has(p, provider.CapGetLabels) {
				steps = append(steps, newStep("get_labels", p.ID(), false, func(ctx context.Context) []models.Finding {
					return []models.Finding{p.GetLabels(ctx, addr.Chain, addr.Address)}
				}))
			}
		}
		target := engine.Target{Type: models.TargetAddress, Address: addr}
		for _, e := range o.engines {
			e := e
			steps = append(steps, newStep("analyze", e.ID(), false, func(ctx context.Context) []models.Finding {
				return e.Analyze(ctx, target, engine.Options{})
			}))
		}
	}

	batchSubject := models.Subject{Type: models.SubjectAddress, Address: inv.Target}
	o.execute(runCtx, inv, batchSubject, steps)

	// Fuse per address over its own findings, then aggregate the
	// attribution confidence levels across the batch.
	inv.ConfidenceDistribution = make(map[models.ConfidenceLevel]int)
	for _, addr := range canonical {
		subject := models.AddressSubject(addr)
		var own []models.Finding
		for _, f := range inv.Findings {
			if f.Subject.Address == addr.Address && f.Subject.Chain == addr.Chain {
				own = append(own, f)
			}
		}
		if attr := o.attribution.Fuse(subject, own); attr != nil {
			inv.Attributions[addr.Key()] = attr
			inv.ConfidenceDistribution[attr.ConfidenceLevel]++
		}
		if risk := o.risk.Fuse(subject, own); risk != nil {
			inv.Risks[addr.Key()] = risk
			o.alerts.EmitFromAssessment(inv.ID, *risk)
		}
	}

	o.seal(runCtx, inv)
	o.finish(inv, started)
	return inv, nil
}

func (o *Orchestrator) newInvestigation(target string, targetType models.TargetType, chainTag string) *models.Investigation {
	return &models.Investigation{
		ID:         uuid.NewString(),
		Target:     target,
		TargetType: targetType,
		Chain:      chainTag,
		Status:     models.InvestigationRunning,
		CreatedAt:  time.Now().UTC(),
	}
}

// flowFinding wraps a traced flow as a finding so risk fusion and the
// evidence chain see the trace result itself.
func flowFinding(subject models.Subject, flow *models.FundFlow) models.Finding {
	return models.NewFinding(subject, models.KindPattern, severityForFlow(flow), flow.Confidence, "orchestrator", map[string]any{
		"pattern":     "fund_flow",
		"flowType":    string(flow.FlowType),
		"riskScore":   flow.RiskScore,
		"hopCount":    flow.HopCount,
		"totalAmount": flow.TotalAmount,
		"blockchains": flow.Blockchains,
	})
}

func severityForFlow(flow *models.FundFlow) models.Severity {
	switch {
	case flow.RiskScore >= 0.8:
		return models.SeverityCritical
	case flow.RiskScore >= 0.6:
		return models.SeverityHigh
	case flow.RiskScore >= 0.4:
		return models.SeverityMedium
	}
	return models.SeverityLow
}
