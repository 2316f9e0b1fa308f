package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Mixer Detector
//
// Flags interactions with registered mixers and privacy tools. Every
// transaction hitting a registered mixer pool yields its own mixer_use
// finding at a 0.8 base risk; aggravating factors over the whole window
// push each one toward 1.0 and are additionally reported as pattern
// findings with their evidence:
//
//   frequent_mixer    three or more mixer transactions in the window
//   multiple_mixers   more than one distinct mixer protocol
//   large_amounts     any mixer deposit at or above the large threshold
//   suspicious_timing mixer activity concentrated in the 02-04 UTC hours
//   round_amounts     deposits at common denomination values
//
// Privacy-tool interactions are reported separately at a lower base since
// legitimate privacy usage is common.

// MixerDetectorConfig tunes the aggravating-factor thresholds.
type MixerDetectorConfig struct {
	Window         time.Duration
	FrequentCount  int
	LargeAmount    float64
	RoundTolerance float64
}

func DefaultMixerDetectorConfig() MixerDetectorConfig {
	return MixerDetectorConfig{
		Window:         30 * 24 * time.Hour,
		FrequentCount:  3,
		LargeAmount:    50_000,
		RoundTolerance: 0.01,
	}
}

// MixerDetector detects mixer and privacy-tool usage for an address.
type MixerDetector struct {
	store    graph.Store
	registry *registry.Registry
	cfg      MixerDetectorConfig
	logger   *zap.Logger
}

func NewMixerDetector(store graph.Store, reg *registry.Registry, cfg MixerDetectorConfig, logger *zap.Logger) *MixerDetector {
	return &MixerDetector{store: store, registry: reg, cfg: cfg, logger: logger.Named("engine.mixer_detector")}
}

func (e *MixerDetector) ID() string { return "engine_mixer_detector" }

func (e *MixerDetector) Analyze(ctx context.Context, target Target, opts Options) []models.Finding {
	addr := target.Address
	var txs []models.Transaction
	var err error

	if target.Type == models.TargetTransaction {
		txs = []models.Transaction{target.Transaction}
		addr = models.Address{Chain: target.Transaction.Chain, Address: target.Transaction.From}
	} else {
		now := opts.now()
		window := opts.window(e.cfg.Window)
		txs, err = e.store.TransactionsByAddress(ctx, addr, now.Add(-window), now)
		if err != nil {
			return storeErrorFinding(target, e.ID(), err)
		}
	}

	type mixerHit struct {
		tx       models.Transaction
		protocol string
	}
	var hits []mixerHit
	var mixerTxs []models.Transaction
	mixers := make(map[string]struct{})
	var privacyFindings []models.Finding

	for _, tx := range txs {
		counterpart := tx.To
		if tx.To == addr.Address {
			counterpart = tx.From
		}
		hit := e.registry.Classify(counterpart, tx.Chain)
		if hit == nil {
			continue
		}
		switch hit.Type {
		case models.ProtocolMixer:
			hits = append(hits, mixerHit{tx: tx, protocol: hit.Name})
			mixerTxs = append(mixerTxs, tx)
			mixers[hit.Name] = struct{}{}
		case models.ProtocolPrivacyTool:
			privacyFindings = append(privacyFindings, models.NewFinding(
				models.AddressSubject(addr), models.KindPrivacyToolUse, models.SeverityMedium, 0.6, e.ID(), map[string]any{
					"protocol": hit.Name,
					"txHash":   tx.Hash,
					"amount":   tx.Value,
				}))
		}
	}

	if len(hits) == 0 {
		return privacyFindings
	}

	// Window-level aggravating factors. Each raises the per-transaction
	// risk and becomes its own pattern finding.
	risk := 0.8
	var factors []string
	factorDetails := make(map[string]map[string]any)

	if len(mixerTxs) >= e.cfg.FrequentCount {
		risk += 0.05
		factors = append(factors, "frequent_mixer")
		factorDetails["frequent_mixer"] = map[string]any{"transactionCount": len(mixerTxs)}
	}
	if len(mixers) > 1 {
		risk += 0.05
		factors = append(factors, "multiple_mixers")
		factorDetails["multiple_mixers"] = map[string]any{"distinctMixers": len(mixers)}
	}
	var largest float64
	for _, tx := range mixerTxs {
		if tx.Value > largest {
			largest = tx.Value
		}
	}
	if largest >= e.cfg.LargeAmount {
		risk += 0.05
		factors = append(factors, "large_amounts")
		factorDetails["large_amounts"] = map[string]any{"largestAmount": largest}
	}
	if share := deadHourShare(mixerTxs); share > 0.3 {
		risk += 0.03
		factors = append(factors, "suspicious_timing")
		factorDetails["suspicious_timing"] = map[string]any{"nightShare": share}
	}
	if hasRoundAmounts(mixerTxs, e.cfg.RoundTolerance) {
		risk += 0.02
		factors = append(factors, "round_amounts")
		factorDetails["round_amounts"] = map[string]any{"tolerance": e.cfg.RoundTolerance}
	}
	risk = models.Clamp01(risk)
	sort.Strings(factors)

	e.logger.Debug("mixer usage detected",
		zap.String("address", addr.Key()),
		zap.Int("transactions", len(hits)),
		zap.Strings("factors", factors))

	findings := privacyFindings
	for _, h := range hits {
		findings = append(findings, models.NewFinding(
			models.AddressSubject(addr), models.KindMixerUse, models.SeverityCritical, risk, e.ID(), map[string]any{
				"riskScore": risk,
				"riskLevel": string(models.RiskLevelFor(risk)),
				"mixer":     h.protocol,
				"txHash":    h.tx.Hash,
				"amount":    h.tx.Value,
				"factors":   factors,
			}))
	}
	for _, name := range factors {
		detail := factorDetails[name]
		detail["pattern"] = name
		findings = append(findings, models.NewFinding(
			models.AddressSubject(addr), models.KindPattern, models.SeverityHigh, 0.7, e.ID(), detail))
	}
	return findings
}

// roundDenominations are the common structuring amounts checked within a
// relative tolerance.
var roundDenominations = []float64{1000, 5000, 10_000, 25_000, 50_000, 100_000, 250_000, 500_000, 1_000_000}

func hasRoundAmounts(txs []models.Transaction, tolerance float64) bool {
	for _, tx := range txs {
		if isRoundAmount(tx.Value, tolerance) {
			return true
		}
	}
	return false
}

func isRoundAmount(amount, tolerance float64) bool {
	for _, d := range roundDenominations {
		if math.Abs(amount-d) <= d*tolerance {
			return true
		}
	}
	return false
}
