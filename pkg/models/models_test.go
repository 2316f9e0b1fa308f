package models

import (
	"testing"
	"time"
)

func TestConfidenceLevelFor(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected ConfidenceLevel
	}{
		{"Zero", 0.0, ConfidenceVeryLow},
		{"Just below low boundary", 0.19, ConfidenceVeryLow},
		{"Low boundary", 0.2, ConfidenceLow},
		{"Medium boundary", 0.4, ConfidenceMedium},
		{"High boundary", 0.6, ConfidenceHigh},
		{"Very high boundary", 0.8, ConfidenceVeryHigh},
		{"Definitive boundary", 0.95, ConfidenceDefinitive},
		{"Certainty", 1.0, ConfidenceDefinitive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConfidenceLevelFor(tt.score); got != tt.expected {
				t.Errorf("ConfidenceLevelFor(%v) = %v, want %v", tt.score, got, tt.expected)
			}
		})
	}
}

func TestRiskLevelFor(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected RiskLevel
	}{
		{"Zero", 0.0, RiskVeryLow},
		{"Low boundary", 0.2, RiskLow},
		{"Medium boundary", 0.4, RiskMedium},
		{"High boundary", 0.6, RiskHigh},
		{"Very high boundary", 0.8, RiskVeryHigh},
		{"Critical boundary", 0.9, RiskCritical},
		{"Maximum", 1.0, RiskCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RiskLevelFor(tt.score); got != tt.expected {
				t.Errorf("RiskLevelFor(%v) = %v, want %v", tt.score, got, tt.expected)
			}
		})
	}
}

func TestSetConfidenceKeepsLevelConsistent(t *testing.T) {
	var a Attribution
	for _, score := range []float64{0.0, 0.15, 0.33, 0.5, 0.77, 0.9, 0.96, 1.2, -0.1} {
		a.SetConfidence(score)
		if a.ConfidenceLevel != ConfidenceLevelFor(a.ConfidenceScore) {
			t.Errorf("score %v: stored level %v disagrees with bucketing %v",
				score, a.ConfidenceLevel, ConfidenceLevelFor(a.ConfidenceScore))
		}
		if a.ConfidenceScore < 0 || a.ConfidenceScore > 1 {
			t.Errorf("score %v was not clamped: %v", score, a.ConfidenceScore)
		}
	}
}

func TestRiskSetScoreDerivesActions(t *testing.T) {
	var r RiskAssessment
	r.SetScore(0.95)
	if r.RiskLevel != RiskCritical {
		t.Fatalf("expected critical, got %v", r.RiskLevel)
	}

	hasBlock, hasReport := false, false
	for _, a := range r.RecommendedActions {
		if a == ActionBlockAllActivities {
			hasBlock = true
		}
		if a == ActionReportToCompliance {
			hasReport = true
		}
	}
	if !hasBlock || !hasReport {
		t.Errorf("critical level must recommend block_all_activities and report_to_compliance, got %v", r.RecommendedActions)
	}
}

func TestFundFlowFinalize(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	flow := FundFlow{
		Path: []Transaction{
			{Chain: "ethereum", Hash: "0xa", Value: 5000, Timestamp: base},
			{Chain: "polygon", Hash: "0xb", Value: 4800, Timestamp: base.Add(3 * time.Minute)},
		},
	}
	flow.Finalize()

	if flow.HopCount != 2 {
		t.Errorf("hop count = %d, want 2", flow.HopCount)
	}
	// Representative amount is the max hop, never the sum.
	if flow.TotalAmount != 5000 {
		t.Errorf("total amount = %v, want 5000", flow.TotalAmount)
	}
	if len(flow.Blockchains) != 2 {
		t.Errorf("blockchains = %v, want {ethereum, polygon}", flow.Blockchains)
	}
	if flow.Duration != 3*time.Minute {
		t.Errorf("duration = %v, want 3m", flow.Duration)
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should meet a high threshold")
	}
	if SeverityLow.AtLeast(SeverityMedium) {
		t.Error("low should not meet a medium threshold")
	}
}
