package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/cache"
	chainpkg "github.com/rawblock/chainintel-engine/internal/chain"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// LabelAdapter wraps an entity attribution vendor: given an address it
// returns the claimed owner label and entity type. These findings are the
// main input to attribution fusion.
type LabelAdapter struct {
	*base
}

// NewLabelAdapter wires an attribution/label source.
func NewLabelAdapter(cfg Config, store cache.Cache, logger *zap.Logger) *LabelAdapter {
	return &LabelAdapter{base: newBase(cfg, store, logger)}
}

func (a *LabelAdapter) Capabilities() []Capability {
	return []Capability{CapGetLabels, CapScreenAddress}
}

type labelResponse struct {
	Label      string  `json:"label,omitempty"`
	EntityType string  `json:"entityType,omitempty"`
	Confidence float64 `json:"confidence"`
	Coverage   float64 `json:"coverage,omitempty"`
}

func (a *LabelAdapter) GetLabels(ctx context.Context, chainTag, address string) models.Finding {
	canonical, err := chainpkg.Canonical(chainTag, address)
	if err != nil {
		return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address},
			a.ID(), models.KindError, err.Error())
	}
	subject := models.AddressSubject(models.Address{Chain: chainTag, Address: canonical})

	return a.call(ctx, subject, "get_labels", []string{chainTag, canonical}, func(ctx context.Context) (models.Finding, error) {
		var resp labelResponse
		if err := a.postJSON(ctx, "/v1/labels", map[string]string{"chain": chainTag, "address": canonical}, &resp); err != nil {
			return models.Finding{}, err
		}
		if resp.Label == "" && resp.EntityType == "" {
			return models.NewFinding(subject, models.KindLabel, models.SeverityLow, 0, a.ID(), map[string]any{"matched": false}), nil
		}
		return models.NewFinding(subject, models.KindAttribution, models.SeverityLow, models.Clamp01(resp.Confidence), a.ID(), map[string]any{
			"label":      resp.Label,
			"entityType": resp.EntityType,
			"coverage":   resp.Coverage,
		}), nil
	})
}

// ScreenAddress delegates to the label lookup — this vendor's screening is
// attribution-based.
func (a *LabelAdapter) ScreenAddress(ctx context.Context, chainTag, address string) models.Finding {
	return a.GetLabels(ctx, chainTag, address)
}

func (a *LabelAdapter) ScreenTransaction(ctx context.Context, chainTag, hash string) models.Finding {
	return models.ErrorFinding(models.Subject{Type: models.SubjectTransaction, Chain: chainTag, TxHash: hash},
		a.ID(), models.KindError, "capability screen_transaction not supported")
}

func (a *LabelAdapter) ScreenEntity(ctx context.Context, query EntityQuery) models.Finding {
	return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Address: query.Name},
		a.ID(), models.KindError, "capability screen_entity not supported")
}

func (a *LabelAdapter) ScreenIP(ctx context.Context, ip string) models.Finding {
	return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Address: ip},
		a.ID(), models.KindError, "capability screen_ip not supported")
}
