package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/cache"
	chainpkg "github.com/rawblock/chainintel-engine/internal/chain"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// RiskVendorAdapter wraps a third-party risk scoring service. Vendors score
// on a 0-100 scale; the internal scale is 0-1, so scores are divided by 100
// at ingress. Vendors that return only a categorical verdict go through the
// per-adapter verdict table; if neither a score nor a verdict is present,
// confidence collapses to 0 and the risk level is unknown.
type RiskVendorAdapter struct {
	*base
	verdictTable map[string]float64
}

// defaultVerdictTable maps categorical vendor verdicts to 0-1 scores.
var defaultVerdictTable = map[string]float64{
	"severe":  0.95,
	"high":    0.75,
	"medium":  0.5,
	"low":     0.25,
	"minimal": 0.1,
	"no_risk": 0.0,
	"unknown": 0.0,
}

// NewRiskVendorAdapter wires a risk scoring source. A nil verdict table
// selects the default mapping.
func NewRiskVendorAdapter(cfg Config, store cache.Cache, logger *zap.Logger, verdicts map[string]float64) *RiskVendorAdapter {
	if verdicts == nil {
		verdicts = defaultVerdictTable
	}
	return &RiskVendorAdapter{base: newBase(cfg, store, logger), verdictTable: verdicts}
}

func (a *RiskVendorAdapter) Capabilities() []Capability {
	return []Capability{CapScreenAddress, CapScreenTransaction, CapGetLabels}
}

// riskResponse is the vendor wire format. Score is a pointer so an absent
// field is distinguishable from an explicit zero.
type riskResponse struct {
	Score    *float64 `json:"riskScore,omitempty"` // 0-100
	Verdict  string   `json:"verdict,omitempty"`
	Category string   `json:"category,omitempty"`
	Label    string   `json:"label,omitempty"`
}

func (a *RiskVendorAdapter) ScreenAddress(ctx context.Context, chainTag, address string) models.Finding {
	canonical, err := chainpkg.Canonical(chainTag, address)
	if err != nil {
		return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address},
			a.ID(), models.KindError, err.Error())
	}
	subject := models.AddressSubject(models.Address{Chain: chainTag, Address: canonical})

	return a.call(ctx, subject, "screen_address", []string{chainTag, canonical}, func(ctx context.Context) (models.Finding, error) {
		var resp riskResponse
		if err := a.postJSON(ctx, "/v2/address/risk", map[string]string{"chain": chainTag, "address": canonical}, &resp); err != nil {
			return models.Finding{}, err
		}
		return a.riskFinding(subject, resp)
	})
}

func (a *RiskVendorAdapter) ScreenTransaction(ctx context.Context, chainTag, hash string) models.Finding {
	subject := models.Subject{Type: models.SubjectTransaction, Chain: chainTag, TxHash: hash}
	if !chainpkg.Supported(chainTag) {
		return models.ErrorFinding(subject, a.ID(), models.KindError, "unsupported chain: "+chainTag)
	}

	return a.call(ctx, subject, "screen_transaction", []string{chainTag, hash}, func(ctx context.Context) (models.Finding, error) {
		var resp riskResponse
		if err := a.postJSON(ctx, "/v2/transaction/risk", map[string]string{"chain": chainTag, "hash": hash}, &resp); err != nil {
			return models.Finding{}, err
		}
		return a.riskFinding(subject, resp)
	})
}

func (a *RiskVendorAdapter) GetLabels(ctx context.Context, chainTag, address string) models.Finding {
	canonical, err := chainpkg.Canonical(chainTag, address)
	if err != nil {
		return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address},
			a.ID(), models.KindError, err.Error())
	}
	subject := models.AddressSubject(models.Address{Chain: chainTag, Address: canonical})

	return a.call(ctx, subject, "get_labels", []string{chainTag, canonical}, func(ctx context.Context) (models.Finding, error) {
		var resp riskResponse
		if err := a.postJSON(ctx, "/v2/address/labels", map[string]string{"chain": chainTag, "address": canonical}, &resp); err != nil {
			return models.Finding{}, err
		}
		if resp.Label == "" {
			return models.NewFinding(subject, models.KindLabel, models.SeverityLow, 0, a.ID(), map[string]any{"matched": false}), nil
		}
		return models.NewFinding(subject, models.KindLabel, models.SeverityLow, 0.7, a.ID(), map[string]any{
			"label":    resp.Label,
			"category": resp.Category,
		}), nil
	})
}

func (a *RiskVendorAdapter) ScreenEntity(ctx context.Context, query EntityQuery) models.Finding {
	return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Address: query.Name},
		a.ID(), models.KindError, "capability screen_entity not supported")
}

func (a *RiskVendorAdapter) ScreenIP(ctx context.Context, ip string) models.Finding {
	return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Address: ip},
		a.ID(), models.KindError, "capability screen_ip not supported")
}

// riskFinding normalizes the vendor response onto the internal 0-1 scale.
func (a *RiskVendorAdapter) riskFinding(subject models.Subject, resp riskResponse) (models.Finding, error) {
	var score float64
	switch {
	case resp.Score != nil:
		if *resp.Score < 0 || *resp.Score > 100 {
			return models.Finding{}, &terminalError{status: 422, body: fmt.Sprintf("risk score out of range: %v", *resp.Score)}
		}
		score = *resp.Score / 100.0

	case resp.Verdict != "":
		mapped, known := a.verdictTable[resp.Verdict]
		if !known {
			return models.NewFinding(subject, models.KindRiskScore, models.SeverityLow, 0, a.ID(), map[string]any{
				"riskLevel": string(models.RiskUnknown),
				"verdict":   resp.Verdict,
			}), nil
		}
		score = mapped

	default:
		return models.NewFinding(subject, models.KindRiskScore, models.SeverityLow, 0, a.ID(), map[string]any{
			"riskLevel": string(models.RiskUnknown),
		}), nil
	}

	level := models.RiskLevelFor(score)
	return models.NewFinding(subject, models.KindRiskScore, severityForRisk(level), 0.8, a.ID(), map[string]any{
		"riskScore": score,
		"riskLevel": string(level),
	}), nil
}

// severityForRisk maps a risk level onto finding severity.
func severityForRisk(level models.RiskLevel) models.Severity {
	switch level {
	case models.RiskCritical, models.RiskVeryHigh:
		return models.SeverityCritical
	case models.RiskHigh:
		return models.SeverityHigh
	case models.RiskMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}
