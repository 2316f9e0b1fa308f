package provider

import (
	"context"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/cache"
	chainpkg "github.com/rawblock/chainintel-engine/internal/chain"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// SanctionsAdapter screens addresses, transactions, entities and IPs
// against a sanctions list vendor (OFAC SDN-style). A match produces a
// critical sanctions_hit finding; a clean screen produces a zero-confidence
// label finding that fusion discards below its confidence floor.
type SanctionsAdapter struct {
	*base
}

// NewSanctionsAdapter wires a sanctions screening source.
func NewSanctionsAdapter(cfg Config, store cache.Cache, logger *zap.Logger) *SanctionsAdapter {
	return &SanctionsAdapter{base: newBase(cfg, store, logger)}
}

func (a *SanctionsAdapter) Capabilities() []Capability {
	return []Capability{CapScreenAddress, CapScreenTransaction, CapScreenEntity, CapScreenIP}
}

// screenResponse is the vendor wire format.
type screenResponse struct {
	Matched    bool     `json:"matched"`
	Listings   []string `json:"listings,omitempty"`
	EntityName string   `json:"entityName,omitempty"`
	Confidence float64  `json:"confidence"`
}

func (a *SanctionsAdapter) ScreenAddress(ctx context.Context, chainTag, address string) models.Finding {
	canonical, err := chainpkg.Canonical(chainTag, address)
	if err != nil {
		return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address},
			a.ID(), models.KindError, err.Error())
	}
	subject := models.AddressSubject(models.Address{Chain: chainTag, Address: canonical})

	return a.call(ctx, subject, "screen_address", []string{chainTag, canonical}, func(ctx context.Context) (models.Finding, error) {
		var resp screenResponse
		if err := a.postJSON(ctx, "/v1/screen/address", map[string]string{"chain": chainTag, "address": canonical}, &resp); err != nil {
			return models.Finding{}, err
		}
		return a.screenFinding(subject, resp), nil
	})
}

func (a *SanctionsAdapter) ScreenTransaction(ctx context.Context, chainTag, hash string) models.Finding {
	subject := models.Subject{Type: models.SubjectTransaction, Chain: chainTag, TxHash: hash}
	if !chainpkg.Supported(chainTag) {
		return models.ErrorFinding(subject, a.ID(), models.KindError, "unsupported chain: "+chainTag)
	}

	return a.call(ctx, subject, "screen_transaction", []string{chainTag, hash}, func(ctx context.Context) (models.Finding, error) {
		var resp screenResponse
		if err := a.postJSON(ctx, "/v1/screen/transaction", map[string]string{"chain": chainTag, "hash": hash}, &resp); err != nil {
			return models.Finding{}, err
		}
		return a.screenFinding(subject, resp), nil
	})
}

func (a *SanctionsAdapter) ScreenEntity(ctx context.Context, query EntityQuery) models.Finding {
	subject := models.Subject{Type: models.SubjectAddress, Address: query.Name}
	if query.Name == "" {
		return models.ErrorFinding(subject, a.ID(), models.KindError, "entity name required")
	}

	return a.call(ctx, subject, "screen_entity", []string{query.Name, query.IDNumber, query.Country, query.Kind}, func(ctx context.Context) (models.Finding, error) {
		var resp screenResponse
		if err := a.postJSON(ctx, "/v1/screen/entity", query, &resp); err != nil {
			return models.Finding{}, err
		}
		return a.screenFinding(subject, resp), nil
	})
}

func (a *SanctionsAdapter) ScreenIP(ctx context.Context, ip string) models.Finding {
	subject := models.Subject{Type: models.SubjectAddress, Address: ip}
	return a.call(ctx, subject, "screen_ip", []string{ip}, func(ctx context.Context) (models.Finding, error) {
		var resp screenResponse
		if err := a.postJSON(ctx, "/v1/screen/ip", map[string]string{"ip": ip}, &resp); err != nil {
			return models.Finding{}, err
		}
		return a.screenFinding(subject, resp), nil
	})
}

// GetLabels is not offered by sanctions vendors.
func (a *SanctionsAdapter) GetLabels(ctx context.Context, chainTag, address string) models.Finding {
	subject := models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address}
	return models.ErrorFinding(subject, a.ID(), models.KindError, "capability get_labels not supported")
}

func (a *SanctionsAdapter) screenFinding(subject models.Subject, resp screenResponse) models.Finding {
	if !resp.Matched {
		return models.NewFinding(subject, models.KindLabel, models.SeverityLow, 0, a.ID(),
			map[string]any{"matched": false})
	}

	confidence := resp.Confidence
	if confidence <= 0 {
		// Listed but no score from the vendor — a listing is itself strong.
		confidence = 0.95
	}
	return models.NewFinding(subject, models.KindSanctionsHit, models.SeverityCritical, confidence, a.ID(),
		map[string]any{
			"matched":    true,
			"listings":   resp.Listings,
			"entityName": resp.EntityName,
		})
}
