package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/alert"
	"github.com/rawblock/chainintel-engine/internal/engine"
	"github.com/rawblock/chainintel-engine/internal/evidence"
	"github.com/rawblock/chainintel-engine/internal/fusion"
	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/internal/provider"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

const cleanAddr = "0xab5801a7d398351b8be11c439e05c5b3259aec9b"

// fakeProvider returns scripted findings keyed by operation.
type fakeProvider struct {
	id          string
	caps        []provider.Capability
	reliability float64
	screen      func(subject models.Subject) models.Finding
	labels      func(subject models.Subject) models.Finding
	delay       time.Duration
}

func (p *fakeProvider) ID() string                          { return p.id }
func (p *fakeProvider) Capabilities() []provider.Capability { return p.caps }
func (p *fakeProvider) Reliability() float64 {
	if p.reliability == 0 {
		return 0.8
	}
	return p.reliability
}

func (p *fakeProvider) ScreenAddress(ctx context.Context, chainTag, address string) models.Finding {
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address}, p.id, models.KindError, ctx.Err().Error())
		case <-time.After(p.delay):
		}
	}
	return p.screen(models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address})
}

func (p *fakeProvider) ScreenTransaction(ctx context.Context, chainTag, hash string) models.Finding {
	return p.screen(models.Subject{Type: models.SubjectTransaction, Chain: chainTag, TxHash: hash})
}

func (p *fakeProvider) ScreenEntity(ctx context.Context, q provider.EntityQuery) models.Finding {
	return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Address: q.Name}, p.id, models.KindError, "unsupported")
}

func (p *fakeProvider) ScreenIP(ctx context.Context, ip string) models.Finding {
	return models.ErrorFinding(models.Subject{Type: models.SubjectAddress, Address: ip}, p.id, models.KindError, "unsupported")
}

func (p *fakeProvider) GetLabels(ctx context.Context, chainTag, address string) models.Finding {
	return p.labels(models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address})
}

func sanctionsProvider() *fakeProvider {
	return &fakeProvider{
		id:   "ofac",
		caps: []provider.Capability{provider.CapScreenAddress, provider.CapScreenTransaction},
		screen: func(subject models.Subject) models.Finding {
			return models.NewFinding(subject, models.KindSanctionsHit, models.SeverityCritical, 1.0, "ofac",
				map[string]any{"listings": []string{"SDN"}})
		},
	}
}

func labelProvider() *fakeProvider {
	return &fakeProvider{
		id:   "labels",
		caps: []provider.Capability{provider.CapGetLabels},
		labels: func(subject models.Subject) models.Finding {
			return models.NewFinding(subject, models.KindAttribution, models.SeverityLow, 0.9, "labels",
				map[string]any{"label": "Retail Wallet", "entityType": "retail", "coverage": 0.7})
		},
	}
}

func cleanProvider() *fakeProvider {
	return &fakeProvider{
		id:   "vendor",
		caps: []provider.Capability{provider.CapScreenAddress},
		screen: func(subject models.Subject) models.Finding {
			return models.NewFinding(subject, models.KindRiskScore, models.SeverityLow, 0.8, "vendor",
				map[string]any{"riskScore": 0.05, "riskLevel": string(models.RiskVeryLow)})
		},
	}
}

func newTestOrchestrator(t *testing.T, providers []provider.Provider, engines []engine.Engine) (*Orchestrator, *alert.Manager) {
	t.Helper()
	logger := zap.NewNop()
	store := graph.NewMemoryStore()
	alerts := alert.NewManager(nil, logger)
	reliability := func(string) float64 { return 0.8 }
	o := New(DefaultConfig(), providers, engines,
		fusion.NewAttributionFuser(fusion.StrategyWeightedAverage, reliability, logger),
		fusion.NewRiskFuser(logger),
		evidence.NewStore(store, logger), alerts, logger)
	return o, alerts
}

func TestSanctionedAddressLandsCritical(t *testing.T) {
	o, alerts := newTestOrchestrator(t, []provider.Provider{sanctionsProvider(), labelProvider()}, nil)

	inv, err := o.InvestigateAddress(context.Background(), "ethereum", cleanAddr)
	require.NoError(t, err)
	require.Equal(t, models.InvestigationCompleted, inv.Status)
	require.False(t, inv.Partial)

	require.NotNil(t, inv.Risk)
	require.Equal(t, 1.0, inv.Risk.RiskScore)
	require.Equal(t, models.RiskCritical, inv.Risk.RiskLevel)
	require.Contains(t, inv.Risk.RecommendedActions, models.ActionBlockAllActivities)

	// Alert fired for the critical verdict.
	recent := alerts.Recent(1)
	require.Len(t, recent, 1)
	require.Equal(t, "critical_risk", recent[0].AlertType)

	// Every finding is sealed with gapless monotonic sequences.
	require.Len(t, inv.Evidence, len(inv.Findings))
	for i, ev := range inv.Evidence {
		require.Equal(t, i+1, ev.Sequence)
		require.True(t, evidence.Verify(ev))
	}
}

func TestCleanAddressCompletesQuiet(t *testing.T) {
	o, alerts := newTestOrchestrator(t, []provider.Provider{cleanProvider(), labelProvider()}, nil)

	inv, err := o.InvestigateAddress(context.Background(), "ethereum", cleanAddr)
	require.NoError(t, err)
	require.Equal(t, models.InvestigationCompleted, inv.Status)

	require.NotNil(t, inv.Attribution)
	require.Equal(t, "Retail Wallet", inv.Attribution.EntityLabel)
	require.Equal(t, models.EntityRetail, inv.Attribution.EntityType)

	require.NotNil(t, inv.Risk)
	require.Less(t, inv.Risk.RiskScore, 0.2)
	require.Empty(t, alerts.Recent(10))
}

func TestInvalidAddressRejected(t *testing.T) {
	o, _ := newTestOrchestrator(t, []provider.Provider{cleanProvider()}, nil)

	_, err := o.InvestigateAddress(context.Background(), "ethereum", "not-an-address")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = o.InvestigateAddress(context.Background(), "unknown-chain", cleanAddr)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestBatchSizeCeiling(t *testing.T) {
	o, _ := newTestOrchestrator(t, []provider.Provider{labelProvider()}, nil)

	over := make([]models.Address, 101)
	for i := range over {
		over[i] = models.Address{Chain: "ethereum", Address: cleanAddr}
	}
	_, err := o.BatchAttribution(context.Background(), over)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = o.BatchAttribution(context.Background(), nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestBatchAttributionPerAddress(t *testing.T) {
	o, _ := newTestOrchestrator(t, []provider.Provider{labelProvider()}, nil)

	second := "0x1111111111111111111111111111111111111111"
	inv, err := o.BatchAttribution(context.Background(), []models.Address{
		{Chain: "ethereum", Address: cleanAddr},
		{Chain: "ethereum", Address: second},
	})
	require.NoError(t, err)
	require.Equal(t, models.InvestigationCompleted, inv.Status)
	require.Len(t, inv.Attributions, 2)
	require.Equal(t, "Retail Wallet", inv.Attributions["ethereum:"+cleanAddr].EntityLabel)
	require.Equal(t, "Retail Wallet", inv.Attributions["ethereum:"+second].EntityLabel)

	// Every resolved address contributes to the aggregate distribution.
	total := 0
	for _, n := range inv.ConfidenceDistribution {
		total += n
	}
	require.Equal(t, 2, total)
}

func TestBatchRunsFullDeepScanPerAddress(t *testing.T) {
	o, _ := newTestOrchestrator(t, []provider.Provider{sanctionsProvider(), labelProvider()}, nil)

	second := "0x1111111111111111111111111111111111111111"
	inv, err := o.BatchAttribution(context.Background(), []models.Address{
		{Chain: "ethereum", Address: cleanAddr},
		{Chain: "ethereum", Address: second},
	})
	require.NoError(t, err)
	require.Equal(t, models.InvestigationCompleted, inv.Status)

	// Screening fans out per address alongside labels, so the sanctions
	// hit lands in each address's own risk verdict.
	require.Len(t, inv.Risks, 2)
	for _, key := range []string{"ethereum:" + cleanAddr, "ethereum:" + second} {
		require.NotNil(t, inv.Risks[key])
		require.Equal(t, models.RiskCritical, inv.Risks[key].RiskLevel)
	}

	screens := 0
	for _, s := range inv.Steps {
		if s.Name == "screen_address" {
			screens++
		}
	}
	require.Equal(t, 2, screens)
}

func TestTraceDepthBounds(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	seed := models.Transaction{Chain: "ethereum", Hash: "0xseed", From: cleanAddr, To: cleanAddr, TokenSymbol: "USDC", Timestamp: time.Now()}

	_, err := o.TraceFundFlow(context.Background(), seed, 0)
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = o.TraceFundFlow(context.Background(), seed, 11)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestCancellationProducesPartialFailedReport(t *testing.T) {
	slow := &fakeProvider{
		id:    "slow",
		caps:  []provider.Capability{provider.CapScreenAddress},
		delay: 5 * time.Second,
		screen: func(subject models.Subject) models.Finding {
			return models.NewFinding(subject, models.KindRiskScore, models.SeverityLow, 0.5, "slow", nil)
		},
	}
	o, _ := newTestOrchestrator(t, []provider.Provider{slow, sanctionsProvider()}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	inv, err := o.InvestigateAddress(ctx, "ethereum", cleanAddr)
	require.NoError(t, err)
	require.Equal(t, models.InvestigationFailed, inv.Status)
	require.True(t, inv.Partial)
	require.Equal(t, "cancelled", inv.FailureReason)

	// The fast provider's finding still made it into sealed evidence.
	require.NotEmpty(t, inv.Findings)
	require.Len(t, inv.Evidence, len(inv.Findings))
}

func TestGetUnknownInvestigation(t *testing.T) {
	o, _ := newTestOrchestrator(t, nil, nil)
	_, err := o.Get("nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInvestigationIsRetrievable(t *testing.T) {
	o, _ := newTestOrchestrator(t, []provider.Provider{cleanProvider()}, nil)

	inv, err := o.InvestigateAddress(context.Background(), "ethereum", cleanAddr)
	require.NoError(t, err)

	got, err := o.Get(inv.ID)
	require.NoError(t, err)
	require.Equal(t, inv.ID, got.ID)

	listed := o.List(5)
	require.NotEmpty(t, listed)
	require.Equal(t, inv.ID, listed[0].ID)
}
