package engine

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Cross-Chain Tracer
//
// Follows an address's activity across chains and scores the movement
// patterns it exhibits. Each recognized pattern carries a fixed weight;
// the address-level risk is min(1, Σ weights of distinct patterns) and
// the confidence grows with the number of patterns plus a bonus when
// related counterparties were discovered.

// patternWeights maps each movement pattern to its risk contribution.
var patternWeights = map[string]float64{
	"mixer_use":         0.8,
	"privacy_tool":      0.7,
	"circular_trading":  0.9,
	"layer_hopping":     0.6,
	"suspicious_timing": 0.5,
	"high_frequency":    0.5,
	"bridge_transfer":   0.4,
	"large_amount":      0.4,
	"stablecoin_flow":   0.3,
	"dex_swap":          0.2,
}

// CrossChainTracerConfig tunes the pattern thresholds.
type CrossChainTracerConfig struct {
	Window          time.Duration
	LargeAmount     float64 // absolute value threshold
	HighFrequency   int     // sends per hour
	LayerHopMinimum int     // distinct chains to count as layer hopping
}

func DefaultCrossChainTracerConfig() CrossChainTracerConfig {
	return CrossChainTracerConfig{
		Window:          7 * 24 * time.Hour,
		LargeAmount:     100_000,
		HighFrequency:   10,
		LayerHopMinimum: 3,
	}
}

// CrossChainTracer scores cross-chain movement patterns for an address.
type CrossChainTracer struct {
	store    graph.Store
	registry *registry.Registry
	cfg      CrossChainTracerConfig
	logger   *zap.Logger
}

func NewCrossChainTracer(store graph.Store, reg *registry.Registry, cfg CrossChainTracerConfig, logger *zap.Logger) *CrossChainTracer {
	return &CrossChainTracer{store: store, registry: reg, cfg: cfg, logger: logger.Named("engine.crosschain_tracer")}
}

func (e *CrossChainTracer) ID() string { return "engine_crosschain_tracer" }

func (e *CrossChainTracer) Analyze(ctx context.Context, target Target, opts Options) []models.Finding {
	addr := target.Address
	if target.Type == models.TargetTransaction {
		addr = models.Address{Chain: target.Transaction.Chain, Address: target.Transaction.From}
	}

	now := opts.now()
	window := opts.window(e.cfg.Window)
	txs, err := e.store.TransactionsByAddress(ctx, addr, now.Add(-window), now)
	if err != nil {
		return storeErrorFinding(target, e.ID(), err)
	}
	if len(txs) == 0 {
		return nil
	}

	patterns := e.detectPatterns(addr, txs)
	if len(patterns) == 0 {
		return nil
	}

	related := relatedAddresses(addr, txs)

	var risk float64
	names := make([]string, 0, len(patterns))
	for name := range patterns {
		risk += patternWeights[name]
		names = append(names, name)
	}
	if risk > 1 {
		risk = 1
	}
	sort.Strings(names)

	confidence := 0.5 + 0.1*float64(len(patterns))
	if len(related) > 0 {
		confidence += 0.2
	}
	confidence = models.Clamp01(confidence)

	severity := models.SeverityMedium
	switch {
	case risk >= 0.8:
		severity = models.SeverityCritical
	case risk >= 0.6:
		severity = models.SeverityHigh
	}

	e.logger.Debug("cross-chain patterns scored",
		zap.String("address", addr.Key()),
		zap.Strings("patterns", names),
		zap.Float64("risk", risk))

	findings := []models.Finding{models.NewFinding(models.AddressSubject(addr), models.KindRiskScore, severity, confidence, e.ID(), map[string]any{
		"riskScore":        risk,
		"riskLevel":        string(models.RiskLevelFor(risk)),
		"patterns":         names,
		"relatedAddresses": related,
	})}

	// One pattern finding per detection with its evidence slice.
	for _, name := range names {
		detail := patterns[name]
		findings = append(findings, models.NewFinding(models.AddressSubject(addr), models.KindPattern, severity, confidence, e.ID(), map[string]any{
			"pattern": name,
			"weight":  patternWeights[name],
			"detail":  detail,
		}))
	}
	return findings
}

// detectPatterns evaluates every movement pattern over the history; the
// result maps pattern name to a short evidence payload.
func (e *CrossChainTracer) detectPatterns(addr models.Address, txs []models.Transaction) map[string]map[string]any {
	patterns := make(map[string]map[string]any)

	chains := make(map[string]struct{})
	counterparties := make(map[string]int)
	var largest float64
	for _, tx := range txs {
		chains[tx.Chain] = struct{}{}
		if tx.Value > largest {
			largest = tx.Value
		}
		if tx.From == addr.Address {
			counterparties[tx.To]++
		} else {
			counterparties[tx.From]++
		}

		if hit := e.registry.Classify(tx.To, tx.Chain); hit != nil {
			switch hit.Type {
			case models.ProtocolMixer:
				patterns["mixer_use"] = map[string]any{"protocol": hit.Name, "txHash": tx.Hash}
			case models.ProtocolPrivacyTool:
				patterns["privacy_tool"] = map[string]any{"protocol": hit.Name, "txHash": tx.Hash}
			case models.ProtocolBridge:
				patterns["bridge_transfer"] = map[string]any{"protocol": hit.Name, "txHash": tx.Hash}
			case models.ProtocolDex:
				patterns["dex_swap"] = map[string]any{"protocol": hit.Name, "txHash": tx.Hash}
			}
		}
		if isStablecoin(tx.TokenSymbol) {
			patterns["stablecoin_flow"] = map[string]any{"token": tx.TokenSymbol, "txHash": tx.Hash}
		}
	}

	if largest >= e.cfg.LargeAmount {
		patterns["large_amount"] = map[string]any{"amount": largest}
	}
	if len(chains) >= e.cfg.LayerHopMinimum {
		patterns["layer_hopping"] = map[string]any{"chains": len(chains)}
	}
	if circ := circularFlow(addr, txs); circ != nil {
		patterns["circular_trading"] = circ
	}
	if freq := peakHourlySends(addr, txs); freq > e.cfg.HighFrequency {
		patterns["high_frequency"] = map[string]any{"peakPerHour": freq}
	}
	if timing := deadHourShare(txs); timing > 0.3 {
		patterns["suspicious_timing"] = map[string]any{"nightShare": timing}
	}
	return patterns
}

// circularFlow reports when value sent to a counterparty comes back to the
// origin later in the window.
func circularFlow(addr models.Address, txs []models.Transaction) map[string]any {
	sentTo := make(map[string]time.Time)
	for _, tx := range txs {
		if tx.From == addr.Address {
			if _, ok := sentTo[tx.To]; !ok {
				sentTo[tx.To] = tx.Timestamp
			}
		}
	}
	for _, tx := range txs {
		if tx.To != addr.Address {
			continue
		}
		if sentAt, ok := sentTo[tx.From]; ok && tx.Timestamp.After(sentAt) {
			return map[string]any{"via": tx.From, "returnTx": tx.Hash}
		}
	}
	return nil
}

// peakHourlySends returns the busiest outbound hour bucket.
func peakHourlySends(addr models.Address, txs []models.Transaction) int {
	buckets := make(map[int64]int)
	peak := 0
	for _, tx := range txs {
		if tx.From != addr.Address {
			continue
		}
		b := tx.Timestamp.Unix() / 3600
		buckets[b]++
		if buckets[b] > peak {
			peak = buckets[b]
		}
	}
	return peak
}

// deadHourShare is the fraction of activity in the 02:00-04:59 UTC window.
func deadHourShare(txs []models.Transaction) float64 {
	if len(txs) == 0 {
		return 0
	}
	night := 0
	for _, tx := range txs {
		h := tx.Timestamp.UTC().Hour()
		if h >= 2 && h <= 4 {
			night++
		}
	}
	return float64(night) / float64(len(txs))
}

// stablecoinSymbols covers the majors the tracer recognizes.
var stablecoinSymbols = map[string]struct{}{
	"USDT": {}, "USDC": {}, "DAI": {}, "BUSD": {}, "TUSD": {}, "FRAX": {}, "USDP": {},
}

func isStablecoin(symbol string) bool {
	_, ok := stablecoinSymbols[symbol]
	return ok
}

// relatedAddresses lists counterparties seen more than once, sorted for
// deterministic output.
func relatedAddresses(addr models.Address, txs []models.Transaction) []string {
	counts := make(map[string]int)
	for _, tx := range txs {
		other := tx.To
		if tx.To == addr.Address {
			other = tx.From
		}
		if other != addr.Address {
			counts[other]++
		}
	}
	var related []string
	for other, n := range counts {
		if n > 1 {
			related = append(related, other)
		}
	}
	sort.Strings(related)
	return related
}
