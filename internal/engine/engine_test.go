package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/graph"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

const (
	subjectAddr = "0xaaaa000000000000000000000000000000000001"
	mixerAddr   = "0xmix0000000000000000000000000000000000001"
	bridgeAddr  = "0xbridge00000000000000000000000000000000b1"
	plainAddr   = "0xcccc000000000000000000000000000000000003"
	privacyAddr = "0xpriv000000000000000000000000000000000001"
	dexAddrA    = "0xdexa000000000000000000000000000000000001"
	dexAddrB    = "0xdexb000000000000000000000000000000000002"
)

var anchor = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(zap.NewNop())
	_, err := reg.Refresh([]models.ProtocolEntry{
		{
			Name: "Test Mixer", Type: models.ProtocolMixer,
			Chains:    []string{"ethereum"},
			Addresses: map[string][]string{"ethereum": {mixerAddr}},
			RiskLevel: models.RiskCritical,
		},
		{
			Name: "Test Bridge", Type: models.ProtocolBridge,
			Chains:    []string{"ethereum", "polygon"},
			Addresses: map[string][]string{"ethereum": {bridgeAddr}},
			RiskLevel: models.RiskMedium,
		},
		{
			Name: "Test Privacy Tool", Type: models.ProtocolPrivacyTool,
			Chains:    []string{"ethereum"},
			Addresses: map[string][]string{"ethereum": {privacyAddr}},
			RiskLevel: models.RiskHigh,
		},
		{
			Name: "Test DEX A", Type: models.ProtocolDex,
			Chains:    []string{"ethereum"},
			Addresses: map[string][]string{"ethereum": {dexAddrA}},
			RiskLevel: models.RiskLow,
		},
		{
			Name: "Test DEX B", Type: models.ProtocolDex,
			Chains:    []string{"ethereum"},
			Addresses: map[string][]string{"ethereum": {dexAddrB}},
			RiskLevel: models.RiskLow,
		},
	})
	require.NoError(t, err)
	return reg
}

func seedStore(t *testing.T, txs []models.Transaction) *graph.MemoryStore {
	t.Helper()
	store := graph.NewMemoryStore()
	ctx := context.Background()
	for _, tx := range txs {
		require.NoError(t, store.UpsertTransaction(ctx, tx))
	}
	return store
}

func tx(hash, from, to string, value float64, at time.Time) models.Transaction {
	return models.Transaction{Chain: "ethereum", Hash: hash, From: from, To: to, Value: value, Timestamp: at}
}

func addressTarget(addr string) Target {
	return Target{Type: models.TargetAddress, Address: models.Address{Chain: "ethereum", Address: addr}}
}

func findByKind(findings []models.Finding, kind models.FindingKind) []models.Finding {
	var out []models.Finding
	for _, f := range findings {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func findPattern(findings []models.Finding, name string) *models.Finding {
	for _, f := range findings {
		if f.Kind == models.KindPattern && f.Payload["pattern"] == name {
			return &f
		}
	}
	return nil
}

// ─── mixer detector ──────────────────────────────────────────────────────

func TestMixerDetectorFindingPerPoolTransaction(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, mixerAddr, 50_000, anchor),
		tx("t2", subjectAddr, mixerAddr, 10_000, anchor.Add(time.Hour)),
		tx("t3", subjectAddr, mixerAddr, 200, anchor.Add(2*time.Hour)),
	})
	e := NewMixerDetector(store, testRegistry(t), DefaultMixerDetectorConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(3 * time.Hour)})
	mixer := findByKind(findings, models.KindMixerUse)
	require.Len(t, mixer, 3)

	for _, f := range mixer {
		require.Equal(t, models.SeverityCritical, f.Severity)
		require.GreaterOrEqual(t, f.Confidence, 0.8)
		require.Equal(t, "Test Mixer", f.Payload["mixer"])
		require.Contains(t, f.Payload["factors"], "frequent_mixer")
		require.Contains(t, f.Payload["factors"], "large_amounts")
	}

	// Aggravating factors become their own pattern findings.
	require.NotNil(t, findPattern(findings, "frequent_mixer"))
	require.NotNil(t, findPattern(findings, "large_amounts"))
	require.Nil(t, findPattern(findings, "multiple_mixers"))
}

func TestMixerDetectorFiveDeposits(t *testing.T) {
	var txs []models.Transaction
	for i := 0; i < 5; i++ {
		txs = append(txs, tx("d"+string(rune('0'+i)), subjectAddr, mixerAddr, 100, anchor.Add(time.Duration(i)*time.Hour)))
	}
	store := seedStore(t, txs)
	e := NewMixerDetector(store, testRegistry(t), DefaultMixerDetectorConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(24 * time.Hour)})
	require.Len(t, findByKind(findings, models.KindMixerUse), 5)
}

func TestMixerDetectorCleanHistory(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, plainAddr, 100, anchor),
	})
	e := NewMixerDetector(store, testRegistry(t), DefaultMixerDetectorConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	require.Empty(t, findings)
}

// ─── bridge tracker ──────────────────────────────────────────────────────

func TestBridgeTrackerTransferAndVolumeAnomaly(t *testing.T) {
	// Ten small crossings plus one huge outlier; spread over distinct
	// minutes and outside the dead hours so only the volume check fires.
	var txs []models.Transaction
	for i := 0; i < 10; i++ {
		txs = append(txs, tx("s"+string(rune('0'+i)), subjectAddr, bridgeAddr, 1, anchor.Add(time.Duration(i)*2*time.Minute)))
	}
	txs = append(txs, tx("big", subjectAddr, bridgeAddr, 10_000, anchor.Add(25*time.Minute)))

	store := seedStore(t, txs)
	e := NewBridgeTracker(store, testRegistry(t), DefaultBridgeTrackerConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})

	transfers := findByKind(findings, models.KindBridgeTransfer)
	require.Len(t, transfers, 11)
	require.Equal(t, "bridge_out", transfers[0].Payload["direction"])
	require.Equal(t, "polygon", transfers[0].Payload["counterpartChain"])

	require.NotNil(t, findPattern(findings, "bridge_volume_anomaly"))
	require.Nil(t, findPattern(findings, "bridge_frequency_anomaly"))
	require.Nil(t, findPattern(findings, "bridge_timing_anomaly"))
}

func TestBridgeTrackerInboundDirection(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("in1", bridgeAddr, subjectAddr, 500, anchor),
	})
	e := NewBridgeTracker(store, testRegistry(t), DefaultBridgeTrackerConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	transfers := findByKind(findings, models.KindBridgeTransfer)
	require.Len(t, transfers, 1)
	require.Equal(t, "bridge_in", transfers[0].Payload["direction"])
}

// ─── cross-chain tracer ──────────────────────────────────────────────────

func TestCrossChainTracerMixerPattern(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, mixerAddr, 100, anchor),
	})
	e := NewCrossChainTracer(store, testRegistry(t), DefaultCrossChainTracerConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})

	risks := findByKind(findings, models.KindRiskScore)
	require.Len(t, risks, 1)
	require.InDelta(t, 0.8, risks[0].Payload["riskScore"], 1e-9)
	require.InDelta(t, 0.6, risks[0].Confidence, 1e-9) // one pattern, no related addresses
	require.NotNil(t, findPattern(findings, "mixer_use"))
}

func TestCrossChainTracerRiskSaturates(t *testing.T) {
	// Mixer (0.8) + large amount (0.4) exceeds 1.0 and must clamp.
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, mixerAddr, 100, anchor),
		tx("t2", subjectAddr, plainAddr, 150_000, anchor.Add(time.Hour)),
	})
	e := NewCrossChainTracer(store, testRegistry(t), DefaultCrossChainTracerConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(2 * time.Hour)})
	risks := findByKind(findings, models.KindRiskScore)
	require.Len(t, risks, 1)
	require.InDelta(t, 1.0, risks[0].Payload["riskScore"], 1e-9)
	require.Equal(t, models.SeverityCritical, risks[0].Severity)
}

func TestCrossChainTracerQuietHistory(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, plainAddr, 100, anchor),
	})
	e := NewCrossChainTracer(store, testRegistry(t), DefaultCrossChainTracerConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	require.Empty(t, findings)
}

// ─── pattern detector ────────────────────────────────────────────────────

func TestPatternDetectorStructuring(t *testing.T) {
	// Three sub-ceiling transfers summing past the floor within an hour,
	// spaced so no other predicate fires.
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, plainAddr, 4000, anchor),
		tx("t2", subjectAddr, plainAddr, 4000, anchor.Add(10*time.Minute)),
		tx("t3", subjectAddr, plainAddr, 4000, anchor.Add(20*time.Minute)),
	})
	d := NewPatternDetector(store, testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())

	findings := d.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	require.Len(t, findings, 1)

	f := findPattern(findings, "structuring")
	require.NotNil(t, f)
	require.Equal(t, 3, f.Payload["transferCount"])
	require.InDelta(t, 12_000.0, f.Payload["totalAmount"], 1e-9)
}

func TestPatternDetectorSynchronizedTransfers(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, "0xr1", 10, anchor),
		tx("t2", subjectAddr, "0xr2", 10, anchor.Add(time.Minute)),
		tx("t3", subjectAddr, "0xr3", 10, anchor.Add(2*time.Minute)),
	})
	d := NewPatternDetector(store, testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())

	findings := d.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	require.NotNil(t, findPattern(findings, "synchronized_transfers"))
}

func TestPatternDetectorRoundAmounts(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, plainAddr, 10_000, anchor),
		tx("t2", subjectAddr, plainAddr, 50_050, anchor.Add(2*time.Hour)), // within 1% of 50k
		tx("t3", subjectAddr, plainAddr, 100_000, anchor.Add(4*time.Hour)),
		tx("t4", subjectAddr, plainAddr, 77_777, anchor.Add(6*time.Hour)),
	})
	d := NewPatternDetector(store, testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())

	findings := d.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(8 * time.Hour)})
	f := findPattern(findings, "round_amounts")
	require.NotNil(t, f)
	require.Equal(t, 3, f.Payload["roundCount"])
	require.Equal(t, 4, f.Payload["sendCount"])
}

func TestPatternDetectorRapidChainSwitch(t *testing.T) {
	other := models.Transaction{Chain: "polygon", Hash: "p1", From: subjectAddr, To: plainAddr, Value: 10, Timestamp: anchor.Add(10 * time.Minute)}
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, plainAddr, 10, anchor),
		other,
	})
	d := NewPatternDetector(store, testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())

	findings := d.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	f := findPattern(findings, "rapid_chain_switching")
	require.NotNil(t, f)
	require.Equal(t, 1, f.Payload["switchCount"])
}

func TestPatternDetectorMixerUsageIsCritical(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, mixerAddr, 100, anchor),
	})
	d := NewPatternDetector(store, testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())

	findings := d.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	f := findPattern(findings, "mixer_usage")
	require.NotNil(t, f)
	require.Equal(t, models.SeverityCritical, f.Severity)
	require.Equal(t, "Test Mixer", f.Payload["mixer"])
}

func TestPatternDetectorPrivacyToolUsage(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, privacyAddr, 100, anchor),
	})
	d := NewPatternDetector(store, testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())

	findings := d.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	f := findPattern(findings, "privacy_tool_usage")
	require.NotNil(t, f)
	require.Equal(t, "Test Privacy Tool", f.Payload["protocol"])
}

func TestPatternDetectorDexHopping(t *testing.T) {
	// Two swaps through one DEX is routine; a second distinct DEX is not.
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, dexAddrA, 100, anchor),
		tx("t2", subjectAddr, dexAddrA, 100, anchor.Add(time.Hour)),
	})
	d := NewPatternDetector(store, testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())
	findings := d.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(2 * time.Hour)})
	require.Nil(t, findPattern(findings, "dex_hopping"))

	store2 := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, dexAddrA, 100, anchor),
		tx("t2", subjectAddr, dexAddrB, 100, anchor.Add(time.Hour)),
	})
	d2 := NewPatternDetector(store2, testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())
	findings2 := d2.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(2 * time.Hour)})
	f := findPattern(findings2, "dex_hopping")
	require.NotNil(t, f)
	require.Equal(t, 2, f.Payload["distinctDexes"])
}

func TestPatternDetectorEmptyHistory(t *testing.T) {
	d := NewPatternDetector(graph.NewMemoryStore(), testRegistry(t), DefaultPatternDetectorConfig(), zap.NewNop())
	findings := d.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor})
	require.Empty(t, findings)
}

// ─── ML risk scorer ──────────────────────────────────────────────────────

func TestMLRiskScoreIsDeterministic(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, mixerAddr, 150_000, anchor),
	})
	e := NewMLRiskScorer(store, testRegistry(t), DefaultMLRiskConfig(), zap.NewNop())
	opts := Options{Now: anchor.Add(time.Hour)}

	first := e.Analyze(context.Background(), addressTarget(subjectAddr), opts)
	second := e.Analyze(context.Background(), addressTarget(subjectAddr), opts)

	require.Len(t, first, 1)
	require.Equal(t, models.KindRiskScore, first[0].Kind)

	// mixer_usage (0.20) + large_amounts (0.10) + frequency 0.05·0.15 +
	// diversity 0.05·0.10 = 0.3125
	require.InDelta(t, 0.3125, first[0].Payload["riskScore"], 1e-9)
	require.Equal(t, first[0].Payload["riskScore"], second[0].Payload["riskScore"])
}

func TestMLRiskNoClusterBelowMinimumSize(t *testing.T) {
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, plainAddr, 100, anchor),
		tx("t2", subjectAddr, plainAddr, 100, anchor.Add(time.Hour)),
	})
	e := NewMLRiskScorer(store, testRegistry(t), DefaultMLRiskConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(2 * time.Hour)})
	require.Empty(t, findByKind(findings, models.KindClusterMembership))
}

func TestMLRiskClusterFormsAcrossPeers(t *testing.T) {
	// Three addresses trading with each other repeatedly share the same
	// quiet behavioural profile, so single-linkage merges them.
	peer1 := "0xbbbb000000000000000000000000000000000002"
	peer2 := "0xdddd000000000000000000000000000000000004"
	store := seedStore(t, []models.Transaction{
		tx("t1", subjectAddr, peer1, 100, anchor),
		tx("t2", peer1, subjectAddr, 100, anchor.Add(10*time.Minute)),
		tx("t3", subjectAddr, peer2, 100, anchor.Add(20*time.Minute)),
		tx("t4", peer2, subjectAddr, 100, anchor.Add(30*time.Minute)),
	})
	e := NewMLRiskScorer(store, testRegistry(t), DefaultMLRiskConfig(), zap.NewNop())

	findings := e.Analyze(context.Background(), addressTarget(subjectAddr), Options{Now: anchor.Add(time.Hour)})
	clusters := findByKind(findings, models.KindClusterMembership)
	require.Len(t, clusters, 1)
	require.Equal(t, 3, clusters[0].Payload["memberCount"])
	require.Contains(t, clusters[0].Payload["members"], peer1)
	require.Contains(t, clusters[0].Payload["members"], peer2)
}
