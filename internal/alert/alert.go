package alert

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/pkg/models"
)

// Alert & Webhook System
//
// Structured alert emission for compliance operations. Alerts are:
//   1. Broadcast via the WebSocket callback to connected dashboards
//   2. Pushed to registered webhook endpoints (Slack, Discord, SIEM)
//   3. Stored in memory for recent alert history
//
// Webhook payloads follow a common JSON format compatible with Slack
// incoming webhooks, Discord webhooks, and PagerDuty Events API.

// Alert is one structured compliance alert.
type Alert struct {
	ID              string                 `json:"id"`
	Timestamp       time.Time              `json:"timestamp"`
	Severity        models.Severity        `json:"severity"`
	AlertType       string                 `json:"alertType"` // high_risk/sanctions_hit/task_failure/...
	Title           string                 `json:"title"`
	Description     string                 `json:"description"`
	InvestigationID string                 `json:"investigationId,omitempty"`
	Subject         *models.Subject        `json:"subject,omitempty"`
	Assessment      *models.RiskAssessment `json:"assessment,omitempty"`
}

// WebhookEndpoint is a registered webhook receiver.
type WebhookEndpoint struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Enabled     bool              `json:"enabled"`
	Headers     map[string]string `json:"headers,omitempty"`
	MinSeverity models.Severity   `json:"minSeverity"`
}

// Manager handles alert emission and webhook delivery.
type Manager struct {
	mu           sync.RWMutex
	webhooks     []WebhookEndpoint
	recentAlerts []Alert
	maxHistory   int

	httpClient *http.Client
	broadcast  func(Alert) // WebSocket broadcast callback
	logger     *zap.Logger
}

// NewManager creates the alert system; broadcastFn may be nil.
func NewManager(broadcastFn func(Alert), logger *zap.Logger) *Manager {
	return &Manager{
		maxHistory: 1000,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		broadcast:  broadcastFn,
		logger:     logger.Named("alerts"),
	}
}

// SetBroadcast installs the WebSocket callback after construction, for
// wiring orders where the hub comes up later.
func (m *Manager) SetBroadcast(fn func(Alert)) {
	m.mu.Lock()
	m.broadcast = fn
	m.mu.Unlock()
}

// RegisterWebhook adds a webhook endpoint.
func (m *Manager) RegisterWebhook(name, url string, minSeverity models.Severity, headers map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.webhooks = append(m.webhooks, WebhookEndpoint{
		Name:        name,
		URL:         url,
		Enabled:     true,
		Headers:     headers,
		MinSeverity: minSeverity,
	})
	m.logger.Info("webhook registered",
		zap.String("name", name), zap.String("minSeverity", string(minSeverity)))
}

// RemoveWebhook removes a webhook by name.
func (m *Manager) RemoveWebhook(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, wh := range m.webhooks {
		if wh.Name == name {
			m.webhooks = append(m.webhooks[:i], m.webhooks[i+1:]...)
			return
		}
	}
}

// Emit processes and distributes an alert.
func (m *Manager) Emit(alert Alert) {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now().UTC()
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}

	m.mu.Lock()
	m.recentAlerts = append(m.recentAlerts, alert)
	if len(m.recentAlerts) > m.maxHistory {
		m.recentAlerts = m.recentAlerts[len(m.recentAlerts)-m.maxHistory:]
	}
	webhooks := make([]WebhookEndpoint, len(m.webhooks))
	copy(webhooks, m.webhooks)
	broadcast := m.broadcast
	m.mu.Unlock()

	if broadcast != nil {
		broadcast(alert)
	}

	// Webhook delivery is async and best-effort.
	for _, wh := range webhooks {
		if !wh.Enabled || !alert.Severity.AtLeast(wh.MinSeverity) {
			continue
		}
		go m.sendWebhook(wh, alert)
	}

	m.logger.Info("alert emitted",
		zap.String("severity", string(alert.Severity)),
		zap.String("type", alert.AlertType),
		zap.String("title", alert.Title))
}

// EmitFromAssessment creates and emits an alert from a fused risk verdict.
// Assessments below high risk do not alert.
func (m *Manager) EmitFromAssessment(investigationID string, assessment models.RiskAssessment) {
	if !riskAtLeastHigh(assessment.RiskLevel) {
		return
	}

	severity := models.SeverityHigh
	alertType := "high_risk"
	title := "High-risk subject: " + assessment.Subject.Address
	if assessment.RiskLevel == models.RiskCritical {
		severity = models.SeverityCritical
		alertType = "critical_risk"
		title = "Critical-risk subject: " + assessment.Subject.Address
	}

	m.Emit(Alert{
		Severity:        severity,
		AlertType:       alertType,
		Title:           title,
		Description:     describeAssessment(assessment),
		InvestigationID: investigationID,
		Subject:         &assessment.Subject,
		Assessment:      &assessment,
	})
}

// Recent returns the most recent alerts, newest first.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.recentAlerts) {
		limit = len(m.recentAlerts)
	}
	start := len(m.recentAlerts) - limit
	result := make([]Alert, limit)
	for i := 0; i < limit; i++ {
		result[i] = m.recentAlerts[start+limit-1-i]
	}
	return result
}

// BySeverity returns history entries at or above a minimum severity.
func (m *Manager) BySeverity(minimum models.Severity) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var filtered []Alert
	for _, alert := range m.recentAlerts {
		if alert.Severity.AtLeast(minimum) {
			filtered = append(filtered, alert)
		}
	}
	return filtered
}

func (m *Manager) sendWebhook(wh WebhookEndpoint, alert Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("webhook marshal failed", zap.Error(err))
		return
	}

	req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewBuffer(payload))
	if err != nil {
		m.logger.Error("webhook request build failed", zap.String("name", wh.Name), zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, val := range wh.Headers {
		req.Header.Set(key, val)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn("webhook delivery failed", zap.String("name", wh.Name), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		m.logger.Warn("webhook rejected alert",
			zap.String("name", wh.Name), zap.Int("status", resp.StatusCode))
	}
}

func riskAtLeastHigh(level models.RiskLevel) bool {
	switch level {
	case models.RiskHigh, models.RiskVeryHigh, models.RiskCritical:
		return true
	}
	return false
}

func describeAssessment(a models.RiskAssessment) string {
	desc := "Fused risk " + string(a.RiskLevel)
	if len(a.PrimaryFactors) > 0 {
		desc += "; primary factor " + string(a.PrimaryFactors[0])
	}
	if a.ClusterAffiliation != "" {
		desc += "; cluster " + a.ClusterAffiliation
	}
	return desc
}
