package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Stablecoin Flow Engine
//
// Traces stablecoin value as it moves hop by hop from a seed transaction,
// classifies the assembled flow, and scores it with a deterministic
// formula: a base risk per flow type plus bounded terms for hop count,
// duration, chain spread and mixer involvement.
//
//   risk = base(type)
//        + min(0.3, 0.05 × hops)
//        + min(0.2, 0.01 × durationHours)
//        + min(0.3, 0.1 × chains)
//        + min(0.4, 0.2 × mixerHops)         (capped at 1.0)

// flowBaseRisk is the per-classification base term.
var flowBaseRisk = map[models.FlowType]float64{
	models.FlowMixing:         0.9,
	models.FlowCircular:       0.8,
	models.FlowPrivacy:        0.7,
	models.FlowLayerHopping:   0.6,
	models.FlowSuspicious:     0.5,
	models.FlowHighVolume:     0.4,
	models.FlowCrossChainSwap: 0.3,
	models.FlowBridgeTransfer: 0.2,
	models.FlowDexSwap:        0.1,
}

// StablecoinFlowConfig tunes tracing and classification.
type StablecoinFlowConfig struct {
	MaxDepth        int
	HopWindow       time.Duration // how long after a hop the next may occur
	HighVolumeFloor float64
}

func DefaultStablecoinFlowConfig() StablecoinFlowConfig {
	return StablecoinFlowConfig{
		MaxDepth:        5,
		HopWindow:       24 * time.Hour,
		HighVolumeFloor: 500_000,
	}
}

// StablecoinFlowEngine traces and scores stablecoin fund flows.
type StablecoinFlowEngine struct {
	store    graph.Store
	registry *registry.Registry
	cfg      StablecoinFlowConfig
	logger   *zap.Logger
}

func NewStablecoinFlowEngine(store graph.Store, reg *registry.Registry, cfg StablecoinFlowConfig, logger *zap.Logger) *StablecoinFlowEngine {
	return &StablecoinFlowEngine{store: store, registry: reg, cfg: cfg, logger: logger.Named("engine.stablecoin_flow")}
}

func (e *StablecoinFlowEngine) ID() string { return "engine_stablecoin_flow" }

func (e *StablecoinFlowEngine) Analyze(ctx context.Context, target Target, opts Options) []models.Finding {
	var seeds []models.Transaction
	switch target.Type {
	case models.TargetTransaction:
		if !isStablecoin(target.Transaction.TokenSymbol) {
			return nil
		}
		seeds = []models.Transaction{target.Transaction}
	default:
		now := opts.now()
		window := opts.window(7 * 24 * time.Hour)
		txs, err := e.store.TransactionsByAddress(ctx, target.Address, now.Add(-window), now)
		if err != nil {
			return storeErrorFinding(target, e.ID(), err)
		}
		for _, tx := range txs {
			if isStablecoin(tx.TokenSymbol) && tx.From == target.Address.Address {
				seeds = append(seeds, tx)
				break // one representative flow per analysis run
			}
		}
	}
	if len(seeds) == 0 {
		return nil
	}

	var findings []models.Finding
	for _, seed := range seeds {
		flow, err := e.TraceFlow(ctx, seed, opts)
		if err != nil {
			findings = append(findings, storeErrorFinding(target, e.ID(), err)...)
			continue
		}
		if flow == nil {
			continue
		}
		severity := models.SeverityMedium
		if flow.RiskScore >= 0.7 {
			severity = models.SeverityHigh
		}
		findings = append(findings, models.NewFinding(models.FlowSubject(flow.FlowID), models.KindPattern, severity, flow.Confidence, e.ID(), map[string]any{
			"pattern":     "stablecoin_flow",
			"flowType":    string(flow.FlowType),
			"riskScore":   flow.RiskScore,
			"hopCount":    flow.HopCount,
			"totalAmount": flow.TotalAmount,
			"blockchains": flow.Blockchains,
			"startKey":    flow.Start.Key(),
			"endKey":      flow.End.Key(),
			"seedTx":      seed.Hash,
		}))
	}
	return findings
}

// TraceFlow assembles the hop path forward from a seed transaction and
// returns the scored flow. Depth is bounded by opts.MaxDepth (1-10,
// default from config); nil is returned when the seed is not a stablecoin
// transfer.
func (e *StablecoinFlowEngine) TraceFlow(ctx context.Context, seed models.Transaction, opts Options) (*models.FundFlow, error) {
	if !isStablecoin(seed.TokenSymbol) {
		return nil, nil
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 || maxDepth > 10 {
		maxDepth = e.cfg.MaxDepth
	}

	path := []models.Transaction{seed}
	visited := map[string]bool{seed.From: true, seed.To: true}
	current := models.Address{Chain: seed.Chain, Address: seed.To}
	last := seed

	for len(path) < maxDepth {
		next, err := e.nextHop(ctx, current, last, visited)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		path = append(path, *next)
		visited[next.To] = true
		current = models.Address{Chain: next.Chain, Address: next.To}
		last = *next
	}

	flow := &models.FundFlow{
		FlowID: uuid.NewString(),
		Start:  models.Address{Chain: seed.Chain, Address: seed.From},
		End:    current,
		Path:   path,
	}
	flow.Finalize()
	flow.FlowType = e.classify(flow)
	flow.RiskScore = e.score(flow)
	flow.Confidence = models.Clamp01(0.6 + 0.05*float64(flow.HopCount))

	e.logger.Debug("stablecoin flow traced",
		zap.String("flowId", flow.FlowID),
		zap.Int("hops", flow.HopCount),
		zap.String("type", string(flow.FlowType)),
		zap.Float64("risk", flow.RiskScore))
	return flow, nil
}

// nextHop picks the earliest onward stablecoin transfer from the current
// holder within the hop window, preferring an amount close to the last hop.
func (e *StablecoinFlowEngine) nextHop(ctx context.Context, current models.Address, last models.Transaction, visited map[string]bool) (*models.Transaction, error) {
	txs, err := e.store.TransactionsByAddress(ctx, current, last.Timestamp, last.Timestamp.Add(e.cfg.HopWindow))
	if err != nil {
		return nil, err
	}

	var candidates []models.Transaction
	for _, tx := range txs {
		if tx.From != current.Address || !isStablecoin(tx.TokenSymbol) {
			continue
		}
		if !tx.Timestamp.After(last.Timestamp) {
			continue
		}
		if visited[tx.To] {
			// A return to a visited address closes the loop; keep it as the
			// final hop so classification sees the cycle.
			candidates = append(candidates, tx)
			continue
		}
		candidates = append(candidates, tx)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		di := math.Abs(candidates[i].Value - last.Value)
		dj := math.Abs(candidates[j].Value - last.Value)
		if di != dj {
			return di < dj
		}
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})
	return &candidates[0], nil
}

// classify picks the flow type by precedence: mixer involvement dominates,
// then circularity, privacy tools, layer hopping, bridges, volume, swaps.
func (e *StablecoinFlowEngine) classify(flow *models.FundFlow) models.FlowType {
	var bridges, dexes, privacy int
	for _, tx := range flow.Path {
		if hit := e.registry.Classify(tx.To, tx.Chain); hit != nil {
			switch hit.Type {
			case models.ProtocolMixer:
				return models.FlowMixing
			case models.ProtocolPrivacyTool:
				privacy++
			case models.ProtocolBridge:
				bridges++
			case models.ProtocolDex:
				dexes++
			}
		}
	}
	if flow.End.Address == flow.Start.Address && flow.HopCount > 1 {
		return models.FlowCircular
	}
	if privacy > 0 {
		return models.FlowPrivacy
	}
	if len(flow.Blockchains) >= 3 {
		return models.FlowLayerHopping
	}
	if bridges > 0 && dexes > 0 {
		return models.FlowCrossChainSwap
	}
	if bridges > 0 {
		return models.FlowBridgeTransfer
	}
	if flow.TotalAmount >= e.cfg.HighVolumeFloor {
		return models.FlowHighVolume
	}
	if dexes > 0 {
		return models.FlowDexSwap
	}
	if flow.HopCount >= 4 {
		return models.FlowSuspicious
	}
	return models.FlowDexSwap
}

// score applies the deterministic risk formula.
func (e *StablecoinFlowEngine) score(flow *models.FundFlow) float64 {
	mixerHops := 0
	for _, tx := range flow.Path {
		if hit := e.registry.Classify(tx.To, tx.Chain); hit != nil && hit.Type == models.ProtocolMixer {
			mixerHops++
		}
	}

	risk := flowBaseRisk[flow.FlowType]
	risk += math.Min(0.3, 0.05*float64(flow.HopCount))
	risk += math.Min(0.2, 0.01*flow.Duration.Hours())
	risk += math.Min(0.3, 0.1*float64(len(flow.Blockchains)))
	risk += math.Min(0.4, 0.2*float64(mixerHops))
	return models.Clamp01(risk)
}
