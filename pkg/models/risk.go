package models

// RiskLevel buckets a 0-1 risk score. Internal scale is 0-1 everywhere;
// adapters receiving 0-100 scores divide at ingress.
type RiskLevel string

const (
	RiskVeryLow  RiskLevel = "very_low"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
	RiskCritical RiskLevel = "critical"
	RiskUnknown  RiskLevel = "unknown"
)

// RiskLevelFor is the single source of truth for risk bucketing.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score < 0.2:
		return RiskVeryLow
	case score < 0.4:
		return RiskLow
	case score < 0.6:
		return RiskMedium
	case score < 0.8:
		return RiskHigh
	case score < 0.9:
		return RiskVeryHigh
	default:
		return RiskCritical
	}
}

// RiskFactor is one of the fixed features entering risk fusion.
type RiskFactor string

const (
	FactorTransactionFrequency  RiskFactor = "transaction_frequency"
	FactorAmountVariance        RiskFactor = "amount_variance"
	FactorCounterpartyDiversity RiskFactor = "counterparty_diversity"
	FactorTemporalPatterns      RiskFactor = "temporal_patterns"
	FactorMixerUsage            RiskFactor = "mixer_usage"
	FactorPrivacyToolUsage      RiskFactor = "privacy_tool_usage"
	FactorCrossChainActivity    RiskFactor = "cross_chain_activity"
	FactorLargeAmounts          RiskFactor = "large_amounts"
)

// RecommendedAction is an entry from the fixed action catalog.
type RecommendedAction string

const (
	ActionNoAction           RecommendedAction = "no_action"
	ActionMonitorActivity    RecommendedAction = "monitor_activity"
	ActionEnhancedDueDilig   RecommendedAction = "enhanced_due_diligence"
	ActionManualReview       RecommendedAction = "manual_review"
	ActionRestrictActivity   RecommendedAction = "restrict_high_value_activity"
	ActionBlockAllActivities RecommendedAction = "block_all_activities"
	ActionReportToCompliance RecommendedAction = "report_to_compliance"
)

// ActionsForLevel maps a risk level to the recommended response, ordered by
// escalation. The engine emits recommendations only; enforcement is
// downstream.
func ActionsForLevel(level RiskLevel) []RecommendedAction {
	switch level {
	case RiskVeryLow:
		return []RecommendedAction{ActionNoAction}
	case RiskLow:
		return []RecommendedAction{ActionMonitorActivity}
	case RiskMedium:
		return []RecommendedAction{ActionMonitorActivity, ActionEnhancedDueDilig}
	case RiskHigh:
		return []RecommendedAction{ActionEnhancedDueDilig, ActionManualReview}
	case RiskVeryHigh:
		return []RecommendedAction{ActionManualReview, ActionRestrictActivity, ActionReportToCompliance}
	case RiskCritical:
		return []RecommendedAction{ActionBlockAllActivities, ActionReportToCompliance}
	default:
		return []RecommendedAction{ActionManualReview}
	}
}

// RiskAssessment is the fused risk verdict for one subject.
type RiskAssessment struct {
	Subject            Subject             `json:"subject"`
	RiskScore          float64             `json:"riskScore"`
	RiskLevel          RiskLevel           `json:"riskLevel"`
	Confidence         float64             `json:"confidence"`
	PrimaryFactors     []RiskFactor        `json:"primaryFactors"`
	SecondaryFactors   []RiskFactor        `json:"secondaryFactors"`
	ClusterAffiliation string              `json:"clusterAffiliation,omitempty"`
	RecommendedActions []RecommendedAction `json:"recommendedActions"`
}

// SetScore stores the score and keeps the derived level and action list
// consistent.
func (r *RiskAssessment) SetScore(score float64) {
	r.RiskScore = Clamp01(score)
	r.RiskLevel = RiskLevelFor(r.RiskScore)
	r.RecommendedActions = ActionsForLevel(r.RiskLevel)
}
