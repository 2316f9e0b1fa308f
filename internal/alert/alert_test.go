package alert

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

func TestEmitStoresHistoryNewestFirst(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	m.Emit(Alert{Severity: models.SeverityLow, AlertType: "a", Title: "first"})
	m.Emit(Alert{Severity: models.SeverityHigh, AlertType: "b", Title: "second"})

	recent := m.Recent(10)
	require.Len(t, recent, 2)
	require.Equal(t, "second", recent[0].Title)
	require.Equal(t, "first", recent[1].Title)
	require.NotEmpty(t, recent[0].ID)
	require.False(t, recent[0].Timestamp.IsZero())
}

func TestWebhookSeverityThreshold(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
	}))
	defer srv.Close()

	m := NewManager(nil, zap.NewNop())
	m.RegisterWebhook("siem", srv.URL, models.SeverityHigh, nil)

	m.Emit(Alert{Severity: models.SeverityLow, Title: "quiet"})
	m.Emit(Alert{Severity: models.SeverityCritical, Title: "loud"})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&hits) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestEmitFromAssessmentHighRiskOnly(t *testing.T) {
	var broadcasts int64
	m := NewManager(func(Alert) { atomic.AddInt64(&broadcasts, 1) }, zap.NewNop())

	low := models.RiskAssessment{Subject: models.Subject{Address: "0xabc"}}
	low.SetScore(0.3)
	m.EmitFromAssessment("inv-1", low)
	require.Equal(t, int64(0), atomic.LoadInt64(&broadcasts))

	critical := models.RiskAssessment{Subject: models.Subject{Address: "0xabc"}}
	critical.SetScore(0.95)
	m.EmitFromAssessment("inv-1", critical)
	require.Equal(t, int64(1), atomic.LoadInt64(&broadcasts))

	recent := m.Recent(1)
	require.Len(t, recent, 1)
	require.Equal(t, "critical_risk", recent[0].AlertType)
	require.Equal(t, models.SeverityCritical, recent[0].Severity)
	require.Equal(t, "inv-1", recent[0].InvestigationID)
}

func TestBySeverityFilters(t *testing.T) {
	m := NewManager(nil, zap.NewNop())
	m.Emit(Alert{Severity: models.SeverityLow, Title: "a"})
	m.Emit(Alert{Severity: models.SeverityMedium, Title: "b"})
	m.Emit(Alert{Severity: models.SeverityCritical, Title: "c"})

	require.Len(t, m.BySeverity(models.SeverityMedium), 2)
	require.Len(t, m.BySeverity(models.SeverityLow), 3)
}
