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

// Pattern Detector
//
// Evaluates a catalog of laundering macro-patterns over an address's
// transaction history. Each detector is an independent predicate producing
// at most one pattern finding; the catalog runs in a fixed order so the
// output is deterministic for a given history.

// PatternDetectorConfig tunes the pattern predicates.
type PatternDetectorConfig struct {
	Window time.Duration

	// Structuring: at least StructuringCount transfers, each below
	// StructuringCeiling, summing above StructuringFloor inside one hour.
	StructuringCount   int
	StructuringCeiling float64
	StructuringFloor   float64

	// Synchronized: at least SyncCount same-sender transfers in one 5-minute
	// bucket.
	SyncCount int

	// Rapid chain switching: consecutive transfers on different chains less
	// than SwitchGap apart.
	SwitchGap time.Duration

	// High frequency: more than FrequencyPerHour sends in any hour bucket.
	FrequencyPerHour int

	// Fan-out / fan-in: minimum distinct counterparties inside one hour.
	FanWidth int

	// Dormancy: quiet period before a burst of activity.
	DormantGap time.Duration

	RoundTolerance float64
}

func DefaultPatternDetectorConfig() PatternDetectorConfig {
	return PatternDetectorConfig{
		Window:             30 * 24 * time.Hour,
		StructuringCount:   3,
		StructuringCeiling: 50_000,
		StructuringFloor:   10_000,
		SyncCount:          3,
		SwitchGap:          30 * time.Minute,
		FrequencyPerHour:   10,
		FanWidth:           5,
		DormantGap:         90 * 24 * time.Hour,
		RoundTolerance:     0.01,
	}
}

// patternSpec ties a detector predicate to its reported severity and
// confidence.
type patternSpec struct {
	name       string
	severity   models.Severity
	confidence float64
	detect     func(d *PatternDetector, addr models.Address, txs []models.Transaction) map[string]any
}

// PatternDetector runs the macro-pattern catalog.
type PatternDetector struct {
	store    graph.Store
	registry *registry.Registry
	cfg      PatternDetectorConfig
	logger   *zap.Logger
	catalog  []patternSpec
}

func NewPatternDetector(store graph.Store, reg *registry.Registry, cfg PatternDetectorConfig, logger *zap.Logger) *PatternDetector {
	d := &PatternDetector{store: store, registry: reg, cfg: cfg, logger: logger.Named("engine.pattern_detector")}
	d.catalog = []patternSpec{
		{"structuring", models.SeverityHigh, 0.8, (*PatternDetector).detectStructuring},
		{"synchronized_transfers", models.SeverityMedium, 0.7, (*PatternDetector).detectSynchronized},
		{"rapid_chain_switching", models.SeverityHigh, 0.75, (*PatternDetector).detectRapidChainSwitch},
		{"round_amounts", models.SeverityMedium, 0.6, (*PatternDetector).detectRoundAmounts},
		{"high_frequency", models.SeverityMedium, 0.65, (*PatternDetector).detectHighFrequency},
		{"fan_out", models.SeverityMedium, 0.65, (*PatternDetector).detectFanOut},
		{"fan_in", models.SeverityMedium, 0.65, (*PatternDetector).detectFanIn},
		{"peel_chain", models.SeverityHigh, 0.7, (*PatternDetector).detectPeelChain},
		{"circular_trading", models.SeverityHigh, 0.8, (*PatternDetector).detectCircular},
		{"dormant_reactivation", models.SeverityMedium, 0.6, (*PatternDetector).detectDormantReactivation},
		{"peak_off_hours", models.SeverityLow, 0.55, (*PatternDetector).detectPeakOffHours},
		{"mixer_usage", models.SeverityCritical, 0.75, (*PatternDetector).detectMixerUsage},
		{"privacy_tool_usage", models.SeverityMedium, 0.7, (*PatternDetector).detectPrivacyToolUsage},
		{"bridge_hopping", models.SeverityMedium, 0.65, (*PatternDetector).detectBridgeHopping},
		{"dex_hopping", models.SeverityMedium, 0.6, (*PatternDetector).detectDexHopping},
		{"zero_value_probes", models.SeverityLow, 0.5, (*PatternDetector).detectZeroValueProbes},
	}
	return d
}

func (d *PatternDetector) ID() string { return "engine_pattern_detector" }

func (d *PatternDetector) Analyze(ctx context.Context, target Target, opts Options) []models.Finding {
	addr := target.Address
	if target.Type == models.TargetTransaction {
		addr = models.Address{Chain: target.Transaction.Chain, Address: target.Transaction.From}
	}

	now := opts.now()
	window := opts.window(d.cfg.Window)
	txs, err := d.store.TransactionsByAddress(ctx, addr, now.Add(-window), now)
	if err != nil {
		return storeErrorFinding(target, d.ID(), err)
	}
	if len(txs) == 0 {
		return nil
	}

	sort.Slice(txs, func(i, j int) bool { return txs[i].Timestamp.Before(txs[j].Timestamp) })

	var findings []models.Finding
	for _, spec := range d.catalog {
		detail := spec.detect(d, addr, txs)
		if detail == nil {
			continue
		}
		detail["pattern"] = spec.name
		findings = append(findings, models.NewFinding(
			models.AddressSubject(addr), models.KindPattern, spec.severity, spec.confidence, d.ID(), detail))
	}

	if len(findings) > 0 {
		d.logger.Debug("macro-patterns detected",
			zap.String("address", addr.Key()), zap.Int("count", len(findings)))
	}
	return findings
}

// ─── predicates ──────────────────────────────────────────────────────────

// detectStructuring finds bursts of small transfers that sum past the
// reporting floor inside a sliding one-hour window.
func (d *PatternDetector) detectStructuring(addr models.Address, txs []models.Transaction) map[string]any {
	var sends []models.Transaction
	for _, tx := range txs {
		if tx.From == addr.Address && tx.Value < d.cfg.StructuringCeiling {
			sends = append(sends, tx)
		}
	}
	for i := range sends {
		count := 0
		sum := 0.0
		for j := i; j < len(sends); j++ {
			if sends[j].Timestamp.Sub(sends[i].Timestamp) > time.Hour {
				break
			}
			count++
			sum += sends[j].Value
		}
		if count >= d.cfg.StructuringCount && sum > d.cfg.StructuringFloor {
			return map[string]any{"transferCount": count, "totalAmount": sum, "windowStart": sends[i].Timestamp}
		}
	}
	return nil
}

// detectSynchronized finds same-sender transfers batched into one 5-minute
// bucket.
func (d *PatternDetector) detectSynchronized(addr models.Address, txs []models.Transaction) map[string]any {
	buckets := make(map[int64]int)
	for _, tx := range txs {
		if tx.From == addr.Address {
			buckets[tx.Timestamp.Unix()/300]++
		}
	}
	for bucket, n := range buckets {
		if n >= d.cfg.SyncCount {
			return map[string]any{"transferCount": n, "bucketStart": time.Unix(bucket*300, 0).UTC()}
		}
	}
	return nil
}

// detectRapidChainSwitch finds consecutive activity on different chains
// inside the switch gap.
func (d *PatternDetector) detectRapidChainSwitch(addr models.Address, txs []models.Transaction) map[string]any {
	switches := 0
	for i := 1; i < len(txs); i++ {
		if txs[i].Chain != txs[i-1].Chain && txs[i].Timestamp.Sub(txs[i-1].Timestamp) < d.cfg.SwitchGap {
			switches++
		}
	}
	if switches > 0 {
		return map[string]any{"switchCount": switches}
	}
	return nil
}

// detectRoundAmounts flags a history where a majority of sends land on
// common denominations.
func (d *PatternDetector) detectRoundAmounts(addr models.Address, txs []models.Transaction) map[string]any {
	sends, round := 0, 0
	for _, tx := range txs {
		if tx.From != addr.Address {
			continue
		}
		sends++
		if isRoundAmount(tx.Value, d.cfg.RoundTolerance) {
			round++
		}
	}
	if sends >= 3 && float64(round) > float64(sends)/2 {
		return map[string]any{"roundCount": round, "sendCount": sends}
	}
	return nil
}

func (d *PatternDetector) detectHighFrequency(addr models.Address, txs []models.Transaction) map[string]any {
	peak := peakHourlySends(addr, txs)
	if peak > d.cfg.FrequencyPerHour {
		return map[string]any{"peakPerHour": peak}
	}
	return nil
}

// detectFanOut finds a burst distributing to many distinct recipients
// inside one hour.
func (d *PatternDetector) detectFanOut(addr models.Address, txs []models.Transaction) map[string]any {
	return d.detectFan(addr, txs, true)
}

// detectFanIn finds consolidation from many distinct senders inside one
// hour.
func (d *PatternDetector) detectFanIn(addr models.Address, txs []models.Transaction) map[string]any {
	return d.detectFan(addr, txs, false)
}

func (d *PatternDetector) detectFan(addr models.Address, txs []models.Transaction, outbound bool) map[string]any {
	type hit struct {
		at    time.Time
		other string
	}
	var hits []hit
	for _, tx := range txs {
		if outbound && tx.From == addr.Address {
			hits = append(hits, hit{tx.Timestamp, tx.To})
		} else if !outbound && tx.To == addr.Address {
			hits = append(hits, hit{tx.Timestamp, tx.From})
		}
	}
	for i := range hits {
		distinct := make(map[string]struct{})
		for j := i; j < len(hits); j++ {
			if hits[j].at.Sub(hits[i].at) > time.Hour {
				break
			}
			distinct[hits[j].other] = struct{}{}
		}
		if len(distinct) >= d.cfg.FanWidth {
			return map[string]any{"counterparties": len(distinct), "windowStart": hits[i].at}
		}
	}
	return nil
}

// detectPeelChain finds the classic peel shape: repeated sends where a
// small slice peels off and the bulk moves on, amounts strictly
// decreasing across at least three hops.
func (d *PatternDetector) detectPeelChain(addr models.Address, txs []models.Transaction) map[string]any {
	var sends []models.Transaction
	for _, tx := range txs {
		if tx.From == addr.Address && tx.Value > 0 {
			sends = append(sends, tx)
		}
	}
	if len(sends) < 3 {
		return nil
	}
	run := 1
	best := 1
	for i := 1; i < len(sends); i++ {
		// Each hop keeps 70-99% of the previous amount.
		ratio := sends[i].Value / sends[i-1].Value
		if ratio >= 0.7 && ratio < 1.0 {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 1
		}
	}
	if best >= 3 {
		return map[string]any{"chainLength": best}
	}
	return nil
}

func (d *PatternDetector) detectCircular(addr models.Address, txs []models.Transaction) map[string]any {
	return circularFlow(addr, txs)
}

// detectDormantReactivation finds a long quiet gap followed by a burst.
func (d *PatternDetector) detectDormantReactivation(addr models.Address, txs []models.Transaction) map[string]any {
	for i := 1; i < len(txs); i++ {
		gap := txs[i].Timestamp.Sub(txs[i-1].Timestamp)
		if gap >= d.cfg.DormantGap && len(txs)-i >= 3 {
			return map[string]any{"dormantDays": int(gap.Hours() / 24), "burstSize": len(txs) - i}
		}
	}
	return nil
}

func (d *PatternDetector) detectPeakOffHours(addr models.Address, txs []models.Transaction) map[string]any {
	if len(txs) < 5 {
		return nil
	}
	share := deadHourShare(txs)
	if share > 0.3 {
		return map[string]any{"nightShare": share}
	}
	return nil
}

// detectMixerUsage flags counterparties that are themselves registered
// mixers, one hop out.
func (d *PatternDetector) detectMixerUsage(addr models.Address, txs []models.Transaction) map[string]any {
	for _, tx := range txs {
		counterpart := tx.To
		if tx.To == addr.Address {
			counterpart = tx.From
		}
		if hit := d.registry.Classify(counterpart, tx.Chain); hit != nil && hit.Type == models.ProtocolMixer {
			return map[string]any{"mixer": hit.Name, "txHash": tx.Hash}
		}
	}
	return nil
}

// detectPrivacyToolUsage flags interactions with registered privacy
// protocols.
func (d *PatternDetector) detectPrivacyToolUsage(addr models.Address, txs []models.Transaction) map[string]any {
	for _, tx := range txs {
		counterpart := tx.To
		if tx.To == addr.Address {
			counterpart = tx.From
		}
		if hit := d.registry.Classify(counterpart, tx.Chain); hit != nil && hit.Type == models.ProtocolPrivacyTool {
			return map[string]any{"protocol": hit.Name, "txHash": tx.Hash}
		}
	}
	return nil
}

// detectBridgeHopping finds two or more bridge crossings in sequence.
func (d *PatternDetector) detectBridgeHopping(addr models.Address, txs []models.Transaction) map[string]any {
	crossings := 0
	for _, tx := range txs {
		if hit := d.registry.Classify(tx.To, tx.Chain); hit != nil && hit.Type == models.ProtocolBridge {
			crossings++
		}
	}
	if crossings >= 2 {
		return map[string]any{"crossings": crossings}
	}
	return nil
}

// detectDexHopping finds swaps routed through two or more distinct DEX
// protocols, the obfuscation analogue of bridge hopping.
func (d *PatternDetector) detectDexHopping(addr models.Address, txs []models.Transaction) map[string]any {
	dexes := make(map[string]struct{})
	swaps := 0
	for _, tx := range txs {
		if hit := d.registry.Classify(tx.To, tx.Chain); hit != nil && hit.Type == models.ProtocolDex {
			dexes[hit.Name] = struct{}{}
			swaps++
		}
	}
	if len(dexes) >= 2 {
		return map[string]any{"distinctDexes": len(dexes), "swapCount": swaps}
	}
	return nil
}

// detectZeroValueProbes finds dust/zero-value sends used to probe or
// poison address books.
func (d *PatternDetector) detectZeroValueProbes(addr models.Address, txs []models.Transaction) map[string]any {
	probes := 0
	for _, tx := range txs {
		if tx.From == addr.Address && tx.Value == 0 {
			probes++
		}
	}
	if probes >= 3 {
		return map[string]any{"probeCount": probes}
	}
	return nil
}
