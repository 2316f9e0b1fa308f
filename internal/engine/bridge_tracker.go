package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Bridge Tracker
//
// Watches transactions touching registered bridge contracts and emits a
// bridge_transfer finding per crossing, with direction and the counterpart
// chain when the registry can determine it. On top of the per-transfer
// findings, three anomaly checks run over a rolling one-hour window per
// bridge:
//
//   volume:    max(amount) > VolumeMultiple × mean(amount)
//   frequency: max 1-minute bucket count > FrequencyMultiple × mean bucket
//   timing:    more than NightShare of hour-bucketed transfers fall into
//              the 02:00-04:59 UTC dead hours

// BridgeTrackerConfig holds the anomaly thresholds.
type BridgeTrackerConfig struct {
	Window            time.Duration
	VolumeMultiple    float64
	FrequencyMultiple float64
	NightShare        float64
}

// DefaultBridgeTrackerConfig returns the spec thresholds.
func DefaultBridgeTrackerConfig() BridgeTrackerConfig {
	return BridgeTrackerConfig{
		Window:            time.Hour,
		VolumeMultiple:    10,
		FrequencyMultiple: 5,
		NightShare:        0.30,
	}
}

// BridgeTracker detects bridge crossings and bridge-level anomalies.
type BridgeTracker struct {
	store    graph.Store
	registry *registry.Registry
	cfg      BridgeTrackerConfig
	logger   *zap.Logger
}

// NewBridgeTracker creates the engine.
func NewBridgeTracker(store graph.Store, reg *registry.Registry, cfg BridgeTrackerConfig, logger *zap.Logger) *BridgeTracker {
	return &BridgeTracker{store: store, registry: reg, cfg: cfg, logger: logger.Named("engine.bridge_tracker")}
}

func (e *BridgeTracker) ID() string { return "engine_bridge_tracker" }

func (e *BridgeTracker) Analyze(ctx context.Context, target Target, opts Options) []models.Finding {
	now := opts.now()
	window := opts.window(e.cfg.Window)

	var txs []models.Transaction
	var err error
	switch target.Type {
	case models.TargetTransaction:
		txs = []models.Transaction{target.Transaction}
	default:
		txs, err = e.store.TransactionsByAddress(ctx, target.Address, now.Add(-window), now)
		if err != nil {
			return storeErrorFinding(target, e.ID(), err)
		}
	}

	var findings []models.Finding
	perBridge := make(map[string][]models.Transaction)

	for _, tx := range txs {
		entry, direction, counterpartAddr := e.bridgeSide(tx)
		if entry == nil {
			continue
		}
		perBridge[entry.Name] = append(perBridge[entry.Name], tx)

		payload := map[string]any{
			"bridge":             entry.Name,
			"direction":          direction,
			"amount":             tx.Value,
			"txHash":             tx.Hash,
			"counterpartAddress": counterpartAddr,
		}
		if counterpart := counterpartChain(entry, tx.Chain); counterpart != "" {
			payload["counterpartChain"] = counterpart
		}

		findings = append(findings, models.NewFinding(
			models.TransactionSubject(tx), models.KindBridgeTransfer, models.SeverityLow, 0.9, e.ID(), payload))
	}

	for bridge, transfers := range perBridge {
		findings = append(findings, e.anomalies(target, bridge, transfers)...)
	}
	return findings
}

// bridgeSide classifies a transaction against the bridge registry.
// Sending to a bridge contract is an outbound crossing; receiving from one
// is inbound.
func (e *BridgeTracker) bridgeSide(tx models.Transaction) (entry *models.ProtocolEntry, direction, counterpart string) {
	if hit := e.registry.Classify(tx.To, tx.Chain); hit != nil && hit.Type == models.ProtocolBridge {
		return hit, "bridge_out", tx.From
	}
	if hit := e.registry.Classify(tx.From, tx.Chain); hit != nil && hit.Type == models.ProtocolBridge {
		return hit, "bridge_in", tx.To
	}
	return nil, "", ""
}

// counterpartChain picks the destination chain when the bridge deployment
// spans exactly one other chain; ambiguous deployments return "".
func counterpartChain(entry *models.ProtocolEntry, current string) string {
	var others []string
	for _, c := range entry.Chains {
		if c != current {
			others = append(others, c)
		}
	}
	if len(others) == 1 {
		return others[0]
	}
	return ""
}

// anomalies runs the three rolling-window checks for one bridge.
func (e *BridgeTracker) anomalies(target Target, bridge string, transfers []models.Transaction) []models.Finding {
	if len(transfers) < 2 {
		return nil
	}
	subject := anomalySubject(target, transfers)
	var findings []models.Finding

	// Volume anomaly.
	var sum, maxAmount float64
	for _, tx := range transfers {
		sum += tx.Value
		if tx.Value > maxAmount {
			maxAmount = tx.Value
		}
	}
	mean := sum / float64(len(transfers))
	if mean > 0 && maxAmount > e.cfg.VolumeMultiple*mean {
		findings = append(findings, models.NewFinding(subject, models.KindPattern, models.SeverityHigh, 0.75, e.ID(), map[string]any{
			"pattern":   "bridge_volume_anomaly",
			"bridge":    bridge,
			"maxAmount": maxAmount,
			"mean":      mean,
		}))
	}

	// Frequency anomaly: 1-minute buckets.
	buckets := make(map[int64]int)
	for _, tx := range transfers {
		buckets[tx.Timestamp.Unix()/60]++
	}
	maxBucket, total := 0, 0
	for _, n := range buckets {
		total += n
		if n > maxBucket {
			maxBucket = n
		}
	}
	bucketMean := float64(total) / float64(len(buckets))
	if bucketMean > 0 && float64(maxBucket) > e.cfg.FrequencyMultiple*bucketMean {
		findings = append(findings, models.NewFinding(subject, models.KindPattern, models.SeverityMedium, 0.7, e.ID(), map[string]any{
			"pattern":     "bridge_frequency_anomaly",
			"bridge":      bridge,
			"peakPerMin":  maxBucket,
			"meanPerMin":  bucketMean,
			"bucketCount": len(buckets),
		}))
	}

	// Timing anomaly: share of transfers in the 02-04 UTC dead hours.
	night := 0
	for _, tx := range transfers {
		h := tx.Timestamp.UTC().Hour()
		if h >= 2 && h <= 4 {
			night++
		}
	}
	share := float64(night) / float64(len(transfers))
	if share > e.cfg.NightShare {
		findings = append(findings, models.NewFinding(subject, models.KindPattern, models.SeverityMedium, 0.65, e.ID(), map[string]any{
			"pattern":    "bridge_timing_anomaly",
			"bridge":     bridge,
			"nightShare": share,
		}))
	}

	if len(findings) > 0 {
		e.logger.Debug("bridge anomalies detected",
			zap.String("bridge", bridge), zap.Int("count", len(findings)))
	}
	return findings
}

func anomalySubject(target Target, transfers []models.Transaction) models.Subject {
	if target.Type == models.TargetAddress {
		return models.AddressSubject(target.Address)
	}
	return models.TransactionSubject(transfers[0])
}
