package scheduler

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/alert"
	"github.com/rawblock/chainintel-engine/internal/provider"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

type fakeInvestigator struct {
	calls int64
}

func (f *fakeInvestigator) InvestigateAddress(ctx context.Context, chainTag, address string) (*models.Investigation, error) {
	atomic.AddInt64(&f.calls, 1)
	return &models.Investigation{ID: "inv", Status: models.InvestigationCompleted}, nil
}

func (f *fakeInvestigator) List(limit int) []*models.Investigation { return nil }

type fakeSanctions struct {
	hit bool
}

func (f *fakeSanctions) ID() string                          { return "sanctions" }
func (f *fakeSanctions) Capabilities() []provider.Capability { return nil }
func (f *fakeSanctions) Reliability() float64                { return 0.95 }

func (f *fakeSanctions) ScreenAddress(ctx context.Context, chainTag, address string) models.Finding {
	subject := models.Subject{Type: models.SubjectAddress, Chain: chainTag, Address: address}
	if f.hit {
		return models.NewFinding(subject, models.KindSanctionsHit, models.SeverityCritical, 1.0,
			"sanctions", map[string]any{"list": "OFAC SDN"})
	}
	return models.NewFinding(subject, models.KindRiskScore, models.SeverityLow, 0.9,
		"sanctions", map[string]any{"riskScore": 0.0})
}

func (f *fakeSanctions) ScreenTransaction(ctx context.Context, chainTag, hash string) models.Finding {
	return models.Finding{}
}
func (f *fakeSanctions) ScreenEntity(ctx context.Context, q provider.EntityQuery) models.Finding {
	return models.Finding{}
}
func (f *fakeSanctions) ScreenIP(ctx context.Context, ip string) models.Finding {
	return models.Finding{}
}
func (f *fakeSanctions) GetLabels(ctx context.Context, chainTag, address string) models.Finding {
	return models.Finding{}
}

func watchlist() []models.Address {
	return []models.Address{models.NewAddress("ethereum", "0x1111111111111111111111111111111111111111")}
}

func TestBuiltinsGateOnDependencies(t *testing.T) {
	s := New(Config{}, nil, zap.NewNop())

	// Nothing wired: nothing registers.
	require.NoError(t, Builtins{}.Register(s))
	require.Empty(t, s.Status())

	// Orchestrator plus watchlist enables the analysis tasks but nothing
	// that needs the relational store.
	s2 := New(Config{}, nil, zap.NewNop())
	require.NoError(t, Builtins{Orchestrator: &fakeInvestigator{}, Watchlist: watchlist()}.Register(s2))

	ids := make(map[string]bool)
	for _, st := range s2.Status() {
		ids[st.ID] = true
	}
	require.True(t, ids["daily_comprehensive"])
	require.True(t, ids["anomaly_scan"])
	require.False(t, ids["hourly_benchmark"], "benchmark needs the store")
	require.False(t, ids["db_maintenance"], "maintenance needs the store")
	require.False(t, ids["sanctions_refresh"], "re-screen needs the sanctions provider")
}

func TestSanctionsRefreshAlertsOnHit(t *testing.T) {
	var broadcasts int64
	alerts := alert.NewManager(func(alert.Alert) { atomic.AddInt64(&broadcasts, 1) }, zap.NewNop())

	s := New(Config{}, alerts, zap.NewNop())
	require.NoError(t, Builtins{
		Sanctions: &fakeSanctions{hit: true},
		Alerts:    alerts,
		Watchlist: watchlist(),
	}.Register(s))

	require.NoError(t, s.RunNow(context.Background(), "sanctions_refresh"))
	require.Equal(t, int64(1), atomic.LoadInt64(&broadcasts))

	got := alerts.Recent(1)
	require.Len(t, got, 1)
	require.Equal(t, "sanctions_hit", got[0].AlertType)
	require.Equal(t, models.SeverityCritical, got[0].Severity)
}

func TestSanctionsRefreshQuietOnClean(t *testing.T) {
	var broadcasts int64
	alerts := alert.NewManager(func(alert.Alert) { atomic.AddInt64(&broadcasts, 1) }, zap.NewNop())

	s := New(Config{}, alerts, zap.NewNop())
	require.NoError(t, Builtins{
		Sanctions: &fakeSanctions{hit: false},
		Alerts:    alerts,
		Watchlist: watchlist(),
	}.Register(s))

	require.NoError(t, s.RunNow(context.Background(), "sanctions_refresh"))
	require.Equal(t, int64(0), atomic.LoadInt64(&broadcasts))
}

func TestComprehensiveSweepRunsWholeWatchlist(t *testing.T) {
	inv := &fakeInvestigator{}
	s := New(Config{}, nil, zap.NewNop())
	list := []models.Address{
		models.NewAddress("ethereum", "0x1111111111111111111111111111111111111111"),
		models.NewAddress("polygon", "0x2222222222222222222222222222222222222222"),
		models.NewAddress("bitcoin", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"),
	}
	require.NoError(t, Builtins{Orchestrator: inv, Watchlist: list}.Register(s))

	require.NoError(t, s.RunNow(context.Background(), "daily_comprehensive"))
	require.Equal(t, int64(3), atomic.LoadInt64(&inv.calls))
}
