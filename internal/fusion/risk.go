package fusion

import (
	"sort"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Risk Fusion
//
// Folds every risk-bearing finding for one subject into a single
// assessment. Each finding contributes to a fixed feature vector; the
// fused score is the weighted sum over that vector. A confirmed sanctions
// hit overrides the weighted blend — the fused score can never fall below
// the sanctions confidence, so a sanctioned subject lands at critical
// regardless of how quiet the rest of its profile looks.

// riskFeatureWeights is the pinned fusion weight table; the mass sums to 1.
var riskFeatureWeights = map[models.RiskFactor]float64{
	models.FactorMixerUsage:            0.20,
	models.FactorPrivacyToolUsage:      0.15,
	models.FactorTransactionFrequency:  0.15,
	models.FactorAmountVariance:        0.12,
	models.FactorCounterpartyDiversity: 0.10,
	models.FactorCrossChainActivity:    0.10,
	models.FactorLargeAmounts:          0.10,
	models.FactorTemporalPatterns:      0.08,
}

// primaryFactorFloor is the score a feature needs before it is reported
// as a factor at all; primaryWeightFloor then separates primary factors
// (real weight in the blend) from secondary ones.
const (
	primaryFactorFloor = 0.7
	primaryWeightFloor = 0.15
)

// RiskFuser folds findings into risk assessments.
type RiskFuser struct {
	logger *zap.Logger
}

func NewRiskFuser(logger *zap.Logger) *RiskFuser {
	return &RiskFuser{logger: logger.Named("fusion.risk")}
}

// Fuse computes the consolidated assessment for one subject. Returns nil
// when no finding carries risk signal.
func (f *RiskFuser) Fuse(subject models.Subject, findings []models.Finding) *models.RiskAssessment {
	sorted := make([]models.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	features := make(map[models.RiskFactor]float64)
	var sanctionsConfidence float64
	var clusterID string
	signal := false

	for _, fd := range sorted {
		switch fd.Kind {
		case models.KindSanctionsHit:
			if fd.Confidence > sanctionsConfidence {
				sanctionsConfidence = fd.Confidence
			}
			signal = true
		case models.KindMixerUse:
			raiseFeature(features, models.FactorMixerUsage, fd.Confidence)
			signal = true
		case models.KindPrivacyToolUse:
			raiseFeature(features, models.FactorPrivacyToolUsage, fd.Confidence)
			signal = true
		case models.KindBridgeTransfer:
			raiseFeature(features, models.FactorCrossChainActivity, fd.Confidence)
			signal = true
		case models.KindClusterMembership:
			if id, ok := fd.Payload["clusterId"].(string); ok && clusterID == "" {
				clusterID = id
			}
		case models.KindRiskScore:
			mergeFeatureVector(features, fd)
			signal = true
		case models.KindPattern:
			mergePattern(features, fd)
			signal = true
		}
	}
	if !signal {
		return nil
	}

	var weighted float64
	for factor, value := range features {
		weighted += riskFeatureWeights[factor] * value
	}

	score := weighted
	if sanctionsConfidence > score {
		// Sanctions override: a confirmed listing floors the score at the
		// listing confidence.
		score = sanctionsConfidence
	}

	assessment := &models.RiskAssessment{
		Subject:            subject,
		Confidence:         fusedConfidence(sorted),
		ClusterAffiliation: clusterID,
	}
	assessment.SetScore(score)
	assessment.PrimaryFactors, assessment.SecondaryFactors = splitFactors(features)

	f.logger.Debug("risk fused",
		zap.String("subject", subject.Address),
		zap.Float64("weighted", weighted),
		zap.Float64("score", assessment.RiskScore),
		zap.String("level", string(assessment.RiskLevel)))
	return assessment
}

// raiseFeature keeps the maximum observed value per factor.
func raiseFeature(features map[models.RiskFactor]float64, factor models.RiskFactor, value float64) {
	if value > features[factor] {
		features[factor] = value
	}
}

// mergeFeatureVector folds a risk_score finding's feature breakdown in;
// findings without a breakdown raise every factor proportionally to the
// reported score so bare vendor scores still move the blend.
func mergeFeatureVector(features map[models.RiskFactor]float64, fd models.Finding) {
	if raw, ok := fd.Payload["features"].(map[string]float64); ok {
		for name, value := range raw {
			raiseFeature(features, models.RiskFactor(name), value)
		}
		return
	}
	if raw, ok := fd.Payload["features"].(map[string]any); ok {
		for name, v := range raw {
			if value, ok := v.(float64); ok {
				raiseFeature(features, models.RiskFactor(name), value)
			}
		}
		return
	}
	if score, ok := fd.Payload["riskScore"].(float64); ok {
		for factor := range riskFeatureWeights {
			raiseFeature(features, factor, score)
		}
	}
}

// mergePattern maps a detected pattern onto the feature it evidences.
var patternFactors = map[string]models.RiskFactor{
	"mixer_use":                models.FactorMixerUsage,
	"mixer_usage":              models.FactorMixerUsage,
	"frequent_mixer":           models.FactorMixerUsage,
	"multiple_mixers":          models.FactorMixerUsage,
	"privacy_tool":             models.FactorPrivacyToolUsage,
	"privacy_tool_usage":       models.FactorPrivacyToolUsage,
	"bridge_transfer":          models.FactorCrossChainActivity,
	"bridge_hopping":           models.FactorCrossChainActivity,
	"rapid_chain_switching":    models.FactorCrossChainActivity,
	"layer_hopping":            models.FactorCrossChainActivity,
	"stablecoin_flow":          models.FactorCrossChainActivity,
	"fund_flow":                models.FactorCrossChainActivity,
	"large_amount":             models.FactorLargeAmounts,
	"large_amounts":            models.FactorLargeAmounts,
	"structuring":              models.FactorAmountVariance,
	"round_amounts":            models.FactorAmountVariance,
	"high_frequency":           models.FactorTransactionFrequency,
	"synchronized_transfers":   models.FactorTransactionFrequency,
	"fan_out":                  models.FactorCounterpartyDiversity,
	"fan_in":                   models.FactorCounterpartyDiversity,
	"dex_hopping":              models.FactorCounterpartyDiversity,
	"peel_chain":               models.FactorAmountVariance,
	"circular_trading":         models.FactorAmountVariance,
	"peak_off_hours":           models.FactorTemporalPatterns,
	"suspicious_timing":        models.FactorTemporalPatterns,
	"bridge_timing_anomaly":    models.FactorTemporalPatterns,
	"bridge_volume_anomaly":    models.FactorLargeAmounts,
	"bridge_frequency_anomaly": models.FactorTransactionFrequency,
	"dormant_reactivation":     models.FactorTemporalPatterns,
}

func mergePattern(features map[models.RiskFactor]float64, fd models.Finding) {
	name, _ := fd.Payload["pattern"].(string)
	if factor, ok := patternFactors[name]; ok {
		raiseFeature(features, factor, fd.Confidence)
	}
}

// fusedConfidence grows with the number of independent contributing
// sources.
func fusedConfidence(findings []models.Finding) float64 {
	sources := make(map[string]struct{})
	var sum float64
	n := 0
	for _, fd := range findings {
		if fd.Confidence <= 0 {
			continue
		}
		sources[fd.SourceID] = struct{}{}
		sum += fd.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	base := sum / float64(n)
	bonus := 0.05 * float64(len(sources)-1)
	if bonus > 0.2 {
		bonus = 0.2
	}
	return models.Clamp01(base + bonus)
}

// splitFactors orders the high-scoring factors: only features above the
// score floor are reported at all, and the weight floor divides them into
// primary and secondary, both sorted by contribution.
func splitFactors(features map[models.RiskFactor]float64) (primary, secondary []models.RiskFactor) {
	type scored struct {
		factor       models.RiskFactor
		contribution float64
	}
	var all []scored
	for factor, value := range features {
		if value <= primaryFactorFloor {
			continue
		}
		all = append(all, scored{factor, riskFeatureWeights[factor] * value})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].contribution != all[j].contribution {
			return all[i].contribution > all[j].contribution
		}
		return all[i].factor < all[j].factor
	})

	for _, s := range all {
		if riskFeatureWeights[s.factor] > primaryWeightFloor {
			primary = append(primary, s.factor)
		} else {
			secondary = append(secondary, s.factor)
		}
	}
	return primary, secondary
}
