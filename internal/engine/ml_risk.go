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

// ML Risk Scorer
//
// Extracts a fixed behavioural feature vector from an address's history
// and scores it with a linear model whose weights are pinned so the same
// history always produces the same score. The same vectors feed a simple
// agglomerative clustering pass that groups the target with its frequent
// counterparties when their behaviour is close; clusters of three or more
// members produce cluster_membership findings typed by the dominant
// behaviour.

// featureWeights is the pinned linear model.
var featureWeights = map[string]float64{
	"mixer_usage":            0.20,
	"privacy_tool_usage":     0.15,
	"transaction_frequency":  0.15,
	"amount_variance":        0.12,
	"counterparty_diversity": 0.10,
	"cross_chain_activity":   0.10,
	"large_amounts":          0.10,
	"temporal_patterns":      0.08,
}

// MLRiskConfig tunes feature extraction and clustering.
type MLRiskConfig struct {
	Window           time.Duration
	LargeAmount      float64
	ClusterDistance  float64 // max euclidean distance to merge
	MinClusterSize   int
	MaxClusterSeeds  int // counterparties considered for clustering
	FrequencyCeiling float64
}

func DefaultMLRiskConfig() MLRiskConfig {
	return MLRiskConfig{
		Window:           30 * 24 * time.Hour,
		LargeAmount:      100_000,
		ClusterDistance:  0.35,
		MinClusterSize:   3,
		MaxClusterSeeds:  20,
		FrequencyCeiling: 20,
	}
}

// MLRiskScorer runs the linear model and behavioural clustering.
type MLRiskScorer struct {
	store    graph.Store
	registry *registry.Registry
	cfg      MLRiskConfig
	logger   *zap.Logger
}

func NewMLRiskScorer(store graph.Store, reg *registry.Registry, cfg MLRiskConfig, logger *zap.Logger) *MLRiskScorer {
	return &MLRiskScorer{store: store, registry: reg, cfg: cfg, logger: logger.Named("engine.ml_risk")}
}

func (e *MLRiskScorer) ID() string { return "engine_ml_risk" }

func (e *MLRiskScorer) Analyze(ctx context.Context, target Target, opts Options) []models.Finding {
	addr := target.Address
	if target.Type == models.TargetTransaction {
		addr = models.Address{Chain: target.Transaction.Chain, Address: target.Transaction.From}
	}

	now := opts.now()
	window := opts.window(e.cfg.Window)
	from := now.Add(-window)

	txs, err := e.store.TransactionsByAddress(ctx, addr, from, now)
	if err != nil {
		return storeErrorFinding(target, e.ID(), err)
	}
	if len(txs) == 0 {
		return nil
	}

	features := e.extractFeatures(addr, txs)
	score := linearScore(features)

	severity := models.SeverityLow
	switch {
	case score >= 0.8:
		severity = models.SeverityCritical
	case score >= 0.6:
		severity = models.SeverityHigh
	case score >= 0.4:
		severity = models.SeverityMedium
	}

	confidence := models.Clamp01(0.5 + 0.02*float64(len(txs)))

	findings := []models.Finding{models.NewFinding(models.AddressSubject(addr), models.KindRiskScore, severity, confidence, e.ID(), map[string]any{
		"riskScore": score,
		"riskLevel": string(models.RiskLevelFor(score)),
		"features":  features,
		"model":     "linear_v1",
	})}

	if cluster := e.cluster(ctx, addr, features, from, now); cluster != nil {
		findings = append(findings, *cluster)
	}
	return findings
}

// extractFeatures builds the fixed vector, every component normalized to
// [0,1].
func (e *MLRiskScorer) extractFeatures(addr models.Address, txs []models.Transaction) map[string]float64 {
	var mixer, privacy, large float64
	chains := make(map[string]struct{})
	counterparties := make(map[string]struct{})
	amounts := make([]float64, 0, len(txs))

	for _, tx := range txs {
		chains[tx.Chain] = struct{}{}
		amounts = append(amounts, tx.Value)

		other := tx.To
		if tx.To == addr.Address {
			other = tx.From
		}
		counterparties[other] = struct{}{}

		if hit := e.registry.Classify(other, tx.Chain); hit != nil {
			switch hit.Type {
			case models.ProtocolMixer:
				mixer = 1
			case models.ProtocolPrivacyTool:
				privacy = 1
			}
		}
		if tx.Value >= e.cfg.LargeAmount {
			large = 1
		}
	}

	frequency := math.Min(1, float64(peakHourlySends(addr, txs))/e.cfg.FrequencyCeiling)
	variance := normalizedVariance(amounts)
	diversity := math.Min(1, float64(len(counterparties))/20.0)
	crossChain := math.Min(1, float64(len(chains)-1)/3.0)
	temporal := math.Min(1, deadHourShare(txs)/0.3)

	return map[string]float64{
		"mixer_usage":            mixer,
		"privacy_tool_usage":     privacy,
		"transaction_frequency":  frequency,
		"amount_variance":        variance,
		"counterparty_diversity": diversity,
		"cross_chain_activity":   crossChain,
		"large_amounts":          large,
		"temporal_patterns":      temporal,
	}
}

// linearScore applies the pinned weights; the weight mass sums to 1 so the
// score is already in [0,1].
func linearScore(features map[string]float64) float64 {
	var score float64
	for name, w := range featureWeights {
		score += w * features[name]
	}
	return models.Clamp01(score)
}

// cluster groups the target with behaviourally-close frequent
// counterparties via single-linkage agglomeration; below the minimum size
// no finding is produced.
func (e *MLRiskScorer) cluster(ctx context.Context, addr models.Address, targetFeatures map[string]float64, from, to time.Time) *models.Finding {
	txs, err := e.store.TransactionsByAddress(ctx, addr, from, to)
	if err != nil || len(txs) == 0 {
		return nil
	}

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
	seeds := make([]string, 0, len(counts))
	for other, n := range counts {
		if n > 1 {
			seeds = append(seeds, other)
		}
	}
	sort.Strings(seeds)
	if len(seeds) > e.cfg.MaxClusterSeeds {
		seeds = seeds[:e.cfg.MaxClusterSeeds]
	}

	members := []string{addr.Address}
	behaviours := make(map[string]float64)
	for _, seed := range seeds {
		seedAddr := models.Address{Chain: addr.Chain, Address: seed}
		seedTxs, err := e.store.TransactionsByAddress(ctx, seedAddr, from, to)
		if err != nil || len(seedTxs) == 0 {
			continue
		}
		features := e.extractFeatures(seedAddr, seedTxs)
		if featureDistance(targetFeatures, features) <= e.cfg.ClusterDistance {
			members = append(members, seed)
			for name, v := range features {
				behaviours[name] += v
			}
		}
	}
	if len(members) < e.cfg.MinClusterSize {
		return nil
	}

	dominant := dominantBehaviour(behaviours)
	e.logger.Debug("behavioural cluster formed",
		zap.String("address", addr.Key()),
		zap.Int("members", len(members)),
		zap.String("behaviour", dominant))

	f := models.NewFinding(models.AddressSubject(addr), models.KindClusterMembership, models.SeverityMedium,
		models.Clamp01(0.5+0.05*float64(len(members))), e.ID(), map[string]any{
			"clusterId":         uuid.NewString(),
			"members":           members,
			"memberCount":       len(members),
			"dominantBehaviour": dominant,
		})
	return &f
}

// featureDistance is the euclidean distance over the shared feature space.
func featureDistance(a, b map[string]float64) float64 {
	var sum float64
	for name := range featureWeights {
		d := a[name] - b[name]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// dominantBehaviour names the cluster by its heaviest aggregate feature.
func dominantBehaviour(totals map[string]float64) string {
	best, bestVal := "generic", 0.0
	names := make([]string, 0, len(totals))
	for name := range totals {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if totals[name] > bestVal {
			best, bestVal = name, totals[name]
		}
	}
	return best
}

// normalizedVariance maps the coefficient of variation of amounts into
// [0,1].
func normalizedVariance(amounts []float64) float64 {
	if len(amounts) < 2 {
		return 0
	}
	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean := sum / float64(len(amounts))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, a := range amounts {
		d := a - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(amounts)))
	return math.Min(1, stddev/mean/2)
}
