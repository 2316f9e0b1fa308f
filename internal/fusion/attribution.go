package fusion

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Attribution Fusion
//
// Consolidates per-source identity claims (attribution and label findings)
// into a single verdict per subject. Three strategies are supported:
//
//   weighted_average    source confidence weighted by source reliability
//                       (the default)
//   highest_confidence  take the single strongest claim
//   consensus           require agreement from a majority quorum of
//                       ⌈n/2⌉+1 sources before accepting a label
//
// Fusion is idempotent and commutative: findings are sorted by ID before
// aggregation so the same set always produces the same verdict, whatever
// order the sources answered in.

// Strategy selects how attribution claims combine.
type Strategy string

const (
	StrategyWeightedAverage   Strategy = "weighted_average"
	StrategyHighestConfidence Strategy = "highest_confidence"
	StrategyConsensus         Strategy = "consensus"
)

// MinConfidenceThreshold is the per-source floor: claims below it are
// discarded before fusion, so one weak source never drags down a verdict
// the remaining sources support.
const MinConfidenceThreshold = 0.3

// SourceReliability resolves a source ID to its configured reliability.
type SourceReliability func(sourceID string) float64

// AttributionFuser combines identity claims into attributions.
type AttributionFuser struct {
	strategy    Strategy
	reliability SourceReliability
	logger      *zap.Logger
}

// NewAttributionFuser builds a fuser; a nil reliability resolver treats
// every source as 0.5.
func NewAttributionFuser(strategy Strategy, reliability SourceReliability, logger *zap.Logger) *AttributionFuser {
	if strategy == "" {
		strategy = StrategyWeightedAverage
	}
	if reliability == nil {
		reliability = func(string) float64 { return 0.5 }
	}
	return &AttributionFuser{strategy: strategy, reliability: reliability, logger: logger.Named("fusion.attribution")}
}

// claim is one source's normalized identity assertion.
type claim struct {
	sourceID   string
	label      string
	entityType models.EntityType
	confidence float64
	coverage   float64
}

// Fuse consolidates the identity claims among the findings for one subject.
// Returns nil when no claim survives the confidence floor.
func (f *AttributionFuser) Fuse(subject models.Subject, findings []models.Finding) *models.Attribution {
	claims := extractClaims(findings)
	if len(claims) == 0 {
		return nil
	}

	attr := &models.Attribution{
		ID:                 uuid.NewString(),
		Subject:            subject,
		EntityType:         models.EntityUnknown,
		SourceDetails:      make(map[string]models.SourceDetail),
		VerificationStatus: models.VerificationUnverified,
		CreatedAt:          time.Now().UTC(),
		LastUpdated:        time.Now().UTC(),
	}

	for _, c := range claims {
		attr.ContributingSources = append(attr.ContributingSources, c.sourceID)
		attr.SourceDetails[c.sourceID] = models.SourceDetail{
			Confidence:  c.confidence,
			Reliability: f.reliability(c.sourceID),
			Coverage:    c.coverage,
		}
	}
	attr.Conflicts = conflicts(claims)
	attr.SourceAgreement = agreement(claims)

	var label string
	var entityType models.EntityType
	var confidence float64

	switch f.strategy {
	case StrategyHighestConfidence:
		label, entityType, confidence = f.highestConfidence(claims)
	case StrategyConsensus:
		label, entityType, confidence = f.consensus(claims)
	default:
		label, entityType, confidence = f.weightedAverage(claims)
	}

	if label == "" || confidence <= 0 {
		f.logger.Debug("no attribution survived fusion",
			zap.String("subject", subject.Address))
		return nil
	}

	attr.EntityLabel = label
	attr.EntityType = entityType
	attr.SetConfidence(confidence)
	return attr
}

// extractClaims pulls the identity assertions out of a finding batch,
// sorted by finding ID for order independence. Claims below the
// per-source confidence floor are discarded here, before any strategy
// sees them.
func extractClaims(findings []models.Finding) []claim {
	sorted := make([]models.Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var claims []claim
	for _, fd := range sorted {
		if fd.Kind != models.KindAttribution && fd.Kind != models.KindLabel {
			continue
		}
		if fd.Confidence < MinConfidenceThreshold {
			continue
		}
		label, _ := fd.Payload["label"].(string)
		if label == "" {
			continue
		}
		entityType, _ := fd.Payload["entityType"].(string)
		coverage, _ := fd.Payload["coverage"].(float64)
		claims = append(claims, claim{
			sourceID:   fd.SourceID,
			label:      label,
			entityType: normalizeEntityType(entityType),
			confidence: fd.Confidence,
			coverage:   coverage,
		})
	}
	return claims
}

// weightedAverage picks the label claimed by the reliability-weighted
// plurality of sources; the fused confidence is the reliability-weighted
// mean Σ(reliability×confidence) / Σ(reliability) over the claims.
func (f *AttributionFuser) weightedAverage(claims []claim) (string, models.EntityType, float64) {
	type bucket struct {
		weight     float64
		entityType models.EntityType
	}
	buckets := make(map[string]*bucket)
	var weightedSum, reliabilitySum float64

	for _, c := range claims {
		r := f.reliability(c.sourceID)
		weightedSum += r * c.confidence
		reliabilitySum += r
		b, ok := buckets[c.label]
		if !ok {
			b = &bucket{entityType: c.entityType}
			buckets[c.label] = b
		}
		b.weight += r * c.confidence
	}
	if reliabilitySum == 0 {
		return "", models.EntityUnknown, 0
	}

	labels := make([]string, 0, len(buckets))
	for label := range buckets {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	best, bestWeight := "", -1.0
	for _, label := range labels {
		if buckets[label].weight > bestWeight {
			best, bestWeight = label, buckets[label].weight
		}
	}
	return best, buckets[best].entityType, weightedSum / reliabilitySum
}

// highestConfidence takes the single strongest claim, reliability breaking
// ties.
func (f *AttributionFuser) highestConfidence(claims []claim) (string, models.EntityType, float64) {
	best := claims[0]
	bestScore := best.confidence * f.reliability(best.sourceID)
	for _, c := range claims[1:] {
		score := c.confidence * f.reliability(c.sourceID)
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best.label, best.entityType, best.confidence
}

// consensus requires a majority quorum of ⌈n/2⌉+1 sources agreeing on one
// label; the fused confidence is the quorum's mean.
func (f *AttributionFuser) consensus(claims []claim) (string, models.EntityType, float64) {
	quorum := int(math.Ceil(float64(len(claims))/2)) + 1
	if quorum > len(claims) {
		quorum = len(claims)
	}

	byLabel := make(map[string][]claim)
	for _, c := range claims {
		byLabel[c.label] = append(byLabel[c.label], c)
	}

	labels := make([]string, 0, len(byLabel))
	for label := range byLabel {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	for _, label := range labels {
		group := byLabel[label]
		if len(group) >= quorum {
			var sum float64
			for _, c := range group {
				sum += c.confidence
			}
			return label, group[0].entityType, sum / float64(len(group))
		}
	}
	return "", models.EntityUnknown, 0
}

// conflicts pairs up sources whose labels disagree.
func conflicts(claims []claim) []models.SourceConflict {
	var out []models.SourceConflict
	for i := 0; i < len(claims); i++ {
		for j := i + 1; j < len(claims); j++ {
			if claims[i].label != claims[j].label {
				out = append(out, models.SourceConflict{
					SourceA: claims[i].sourceID, LabelA: claims[i].label,
					SourceB: claims[j].sourceID, LabelB: claims[j].label,
				})
			}
		}
	}
	return out
}

// agreement is the share of claims backing the most common label.
func agreement(claims []claim) float64 {
	if len(claims) == 0 {
		return 0
	}
	counts := make(map[string]int)
	best := 0
	for _, c := range claims {
		counts[c.label]++
		if counts[c.label] > best {
			best = counts[c.label]
		}
	}
	return float64(best) / float64(len(claims))
}

func normalizeEntityType(raw string) models.EntityType {
	switch models.EntityType(raw) {
	case models.EntityExchange, models.EntityMixer, models.EntityPrivacyTool,
		models.EntityInstitutional, models.EntityRetail, models.EntityWhale,
		models.EntityScam, models.EntityGambling, models.EntityDeFi,
		models.EntityMining, models.EntityBridge:
		return models.EntityType(raw)
	default:
		return models.EntityUnknown
	}
}
