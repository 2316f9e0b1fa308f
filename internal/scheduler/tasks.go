package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/alert"
	"github.com/rawblock/chainintel-engine/internal/evidence"
	"github.com/rawblock/chainintel-engine/internal/provider"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Built-in tasks
//
// The standing maintenance and analysis jobs the engine ships with. Each
// is registered with its cadence from the schedule grammar; operators can
// disable or RunNow any of them through the control surface.

// Bookkeeper is the relational store surface the built-ins write to.
type Bookkeeper interface {
	RecordBenchmark(ctx context.Context, name string, durationMS float64, meta map[string]any) error
	SaveReport(ctx context.Context, kind string, payload []byte) error
	RecordMetric(ctx context.Context, name string, value float64) error
	PruneMetrics(ctx context.Context, before time.Time) (int64, error)
	Maintain(ctx context.Context) error
}

// Investigator is the orchestrator surface the analysis tasks drive.
type Investigator interface {
	InvestigateAddress(ctx context.Context, chainTag, address string) (*models.Investigation, error)
	List(limit int) []*models.Investigation
}

// RegistrySource re-reads the protocol registry seed.
type RegistrySource func() ([]models.ProtocolEntry, error)

// Builtins carries the dependencies of the standing tasks. Nil fields skip
// the tasks that need them.
type Builtins struct {
	Store             Bookkeeper
	Orchestrator      Investigator
	Evidence          *evidence.Store
	Registry          *registry.Registry
	RegistrySource    RegistrySource
	Sanctions         provider.Provider // drives the daily sanctions re-screen
	Alerts            *alert.Manager
	Watchlist         []models.Address // addresses swept by the anomaly scan
	EvidenceRetention time.Duration    // default 90 days
	MetricsRetention  time.Duration    // default 30 days
	Logger            *zap.Logger
}

// Register installs the standing tasks on the scheduler.
func (b Builtins) Register(s *Scheduler) error {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if b.EvidenceRetention <= 0 {
		b.EvidenceRetention = 90 * 24 * time.Hour
	}
	if b.MetricsRetention <= 0 {
		b.MetricsRetention = 30 * 24 * time.Hour
	}

	type entry struct {
		id, name, schedule string
		cooldown           time.Duration
		run                TaskFunc
		enabled            bool
	}

	entries := []entry{
		{
			id: "hourly_benchmark", name: "Hourly performance benchmark",
			schedule: "every hour on minute 0", cooldown: 30 * time.Minute,
			run: b.benchmarkTask(logger), enabled: b.Store != nil && b.Orchestrator != nil,
		},
		{
			id: "daily_comprehensive", name: "Daily comprehensive analysis",
			schedule: "daily at 1", cooldown: 12 * time.Hour,
			run: b.comprehensiveTask(logger), enabled: b.Orchestrator != nil,
		},
		{
			id: "weekly_executive_report", name: "Weekly executive report",
			schedule: "weekly on monday at 6", cooldown: 24 * time.Hour,
			run: b.reportTask("executive", logger), enabled: b.Store != nil && b.Orchestrator != nil,
		},
		{
			id: "monthly_cost_analysis", name: "Monthly cost analysis",
			schedule: "monthly on day 1 at 4", cooldown: 24 * time.Hour,
			run: b.reportTask("cost", logger), enabled: b.Store != nil && b.Orchestrator != nil,
		},
		{
			id: "anomaly_scan", name: "Watchlist anomaly scan",
			schedule: "every 30 minutes", cooldown: 10 * time.Minute,
			run: b.anomalyScanTask(logger), enabled: b.Orchestrator != nil && len(b.Watchlist) > 0,
		},
		{
			id: "db_maintenance", name: "Daily database maintenance",
			schedule: "daily at 3", cooldown: 12 * time.Hour,
			run: b.maintenanceTask(logger), enabled: b.Store != nil,
		},
		{
			id: "model_retrain", name: "Weekly model retrain",
			schedule: "weekly on sunday at 2", cooldown: 24 * time.Hour,
			run: b.retrainTask(logger), enabled: b.Store != nil && b.Orchestrator != nil,
		},
		{
			id: "sanctions_refresh", name: "Daily sanctions re-screen",
			schedule: "daily at 0", cooldown: 12 * time.Hour,
			run: b.sanctionsRefreshTask(logger), enabled: b.Sanctions != nil && len(b.Watchlist) > 0,
		},
		{
			id: "registry_refresh", name: "Protocol registry refresh",
			schedule: "daily at 5", cooldown: time.Hour,
			run: b.registryRefreshTask(logger), enabled: b.Registry != nil && b.RegistrySource != nil,
		},
		{
			id: "evidence_retention", name: "Evidence retention pruning",
			schedule: "daily at 4", cooldown: 12 * time.Hour,
			run: b.evidenceRetentionTask(logger), enabled: b.Evidence != nil,
		},
		{
			id: "metrics_retention", name: "Metrics retention pruning",
			schedule: "daily at 4", cooldown: 12 * time.Hour,
			run: b.metricsRetentionTask(logger), enabled: b.Store != nil,
		},
	}

	for _, e := range entries {
		if !e.enabled {
			continue
		}
		if err := s.Register(e.id, e.name, e.schedule, e.cooldown, e.run); err != nil {
			return err
		}
	}
	return nil
}

// benchmarkTask times a representative investigation against a well-known
// address and records the duration.
func (b Builtins) benchmarkTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		canary := models.Address{Chain: "ethereum", Address: "0x0000000000000000000000000000000000000000"}
		if len(b.Watchlist) > 0 {
			canary = b.Watchlist[0]
		}
		started := time.Now()
		if _, err := b.Orchestrator.InvestigateAddress(ctx, canary.Chain, canary.Address); err != nil {
			return fmt.Errorf("benchmark investigation: %w", err)
		}
		elapsed := float64(time.Since(started).Milliseconds())
		return b.Store.RecordBenchmark(ctx, "address_deep_scan", elapsed, map[string]any{"chain": canary.Chain})
	}
}

// comprehensiveTask sweeps the whole watchlist once.
func (b Builtins) comprehensiveTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		var failed int
		for _, addr := range b.Watchlist {
			if _, err := b.Orchestrator.InvestigateAddress(ctx, addr.Chain, addr.Address); err != nil {
				failed++
				logger.Warn("comprehensive sweep entry failed",
					zap.String("address", addr.Key()), zap.Error(err))
			}
		}
		if failed == len(b.Watchlist) && failed > 0 {
			return fmt.Errorf("comprehensive sweep: all %d entries failed", failed)
		}
		return nil
	}
}

// reportTask summarizes recent investigations into a stored report.
func (b Builtins) reportTask(kind string, logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		recent := b.Orchestrator.List(1000)

		summary := map[string]any{
			"kind":        kind,
			"generatedAt": time.Now().UTC(),
			"total":       len(recent),
		}
		byStatus := make(map[string]int)
		byLevel := make(map[string]int)
		for _, inv := range recent {
			byStatus[string(inv.Status)]++
			if inv.Risk != nil {
				byLevel[string(inv.Risk.RiskLevel)]++
			}
		}
		summary["byStatus"] = byStatus
		summary["byRiskLevel"] = byLevel

		payload, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		return b.Store.SaveReport(ctx, kind, payload)
	}
}

// anomalyScanTask re-investigates the watchlist and counts high-risk
// verdicts as a metric.
func (b Builtins) anomalyScanTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		high := 0
		for _, addr := range b.Watchlist {
			inv, err := b.Orchestrator.InvestigateAddress(ctx, addr.Chain, addr.Address)
			if err != nil {
				continue
			}
			if inv.Risk != nil && inv.Risk.RiskScore >= 0.6 {
				high++
			}
		}
		if b.Store != nil {
			return b.Store.RecordMetric(ctx, "anomaly_scan_high_risk", float64(high))
		}
		return nil
	}
}

func (b Builtins) maintenanceTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		return b.Store.Maintain(ctx)
	}
}

// retrainTask recomputes model calibration stats from recent verdicts and
// stores them as a report; the weights themselves stay pinned.
func (b Builtins) retrainTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		recent := b.Orchestrator.List(1000)
		var scores []float64
		for _, inv := range recent {
			if inv.Risk != nil {
				scores = append(scores, inv.Risk.RiskScore)
			}
		}
		payload, err := json.Marshal(map[string]any{
			"samples":     len(scores),
			"generatedAt": time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return b.Store.SaveReport(ctx, "model_calibration", payload)
	}
}

// sanctionsRefreshTask re-screens the watchlist against the sanctions
// source. The provider cache has expired by the time this runs (daily
// cadence against a 300s TTL), so every answer reflects the current list;
// each hit raises a critical alert.
func (b Builtins) sanctionsRefreshTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		hits := 0
		for _, addr := range b.Watchlist {
			f := b.Sanctions.ScreenAddress(ctx, addr.Chain, addr.Address)
			if f.Kind != models.KindSanctionsHit {
				continue
			}
			hits++
			if b.Alerts != nil {
				b.Alerts.Emit(alert.Alert{
					Severity:    models.SeverityCritical,
					AlertType:   "sanctions_hit",
					Title:       "Watchlist address on sanctions list: " + addr.Key(),
					Description: "Daily sanctions re-screen matched " + addr.Key(),
					Subject:     &f.Subject,
				})
			}
		}
		if b.Store != nil {
			return b.Store.RecordMetric(ctx, "sanctions_refresh_hits", float64(hits))
		}
		return nil
	}
}

func (b Builtins) registryRefreshTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		entries, err := b.RegistrySource()
		if err != nil {
			return fmt.Errorf("registry source: %w", err)
		}
		delta, err := b.Registry.Refresh(entries)
		if err != nil {
			return err
		}
		logger.Info("protocol registry refreshed by task", zap.Int("delta", delta))
		return nil
	}
}

func (b Builtins) evidenceRetentionTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-b.EvidenceRetention)
		purged, err := b.Evidence.Purge(ctx, cutoff)
		if err != nil {
			return err
		}
		if purged > 0 {
			logger.Info("evidence retention pruned", zap.Int("investigations", purged))
		}
		return nil
	}
}

func (b Builtins) metricsRetentionTask(logger *zap.Logger) TaskFunc {
	return func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-b.MetricsRetention)
		pruned, err := b.Store.PruneMetrics(ctx, cutoff)
		if err != nil {
			return err
		}
		if pruned > 0 {
			logger.Info("metrics retention pruned", zap.Int64("rows", pruned))
		}
		return nil
	}
}
