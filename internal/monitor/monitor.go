// Package monitor tracks scoring throughput, latency, and fraud rates, and
// raises edge-triggered operational alerts.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// windowSize caps the rolling processing-time window.
const windowSize = 1000

// maxIncidents caps the retained high-risk incident list.
const maxIncidents = 100

// minRequests is the observation floor before alert conditions are
// evaluated, so a handful of early requests cannot trip thresholds.
const minRequests = 50

// Incident is one retained high-risk scoring event.
type Incident struct {
	ResultID  string          `json:"resultId"`
	UserID    string          `json:"userId"`
	Score     float64         `json:"score"`
	RiskTier  domain.RiskTier `json:"riskTier"`
	Timestamp time.Time       `json:"timestamp"`
}

// Monitor accumulates scoring telemetry. All methods are safe for
// concurrent use; state is guarded by a single mutex since updates are
// cheap counter work.
type Monitor struct {
	mu sync.Mutex

	logger *slog.Logger
	bus    domain.EventBus // nil disables alert publication

	procTimes []float64 // rolling, most recent last
	hourly    [24]int
	perUser   map[string]int

	totalRequests int
	suspicious    int
	errors        int

	incidents []Incident
	alerts    map[string]*alertState

	startedAt time.Time
}

// New creates a Monitor. The bus may be nil; alerts are then only logged.
func New(logger *slog.Logger, bus domain.EventBus) *Monitor {
	return &Monitor{
		logger:    logger,
		bus:       bus,
		perUser:   make(map[string]int),
		alerts:    newAlertStates(),
		startedAt: time.Now().UTC(),
	}
}

// Record ingests one completed scoring result and re-evaluates alerts.
func (m *Monitor) Record(ctx context.Context, res *domain.ScoreResult) {
	m.mu.Lock()

	m.totalRequests++
	if res.IsSuspicious {
		m.suspicious++
	}

	m.procTimes = append(m.procTimes, res.ProcessingMs)
	if len(m.procTimes) > windowSize {
		m.procTimes = m.procTimes[len(m.procTimes)-windowSize:]
	}

	hour := res.Timestamp.Hour()
	m.hourly[hour]++
	m.perUser[res.UserID]++

	if res.HighRisk() {
		m.incidents = append(m.incidents, Incident{
			ResultID:  res.ID,
			UserID:    res.UserID,
			Score:     res.FinalScore,
			RiskTier:  res.RiskTier,
			Timestamp: res.Timestamp,
		})
		if len(m.incidents) > maxIncidents {
			m.incidents = m.incidents[len(m.incidents)-maxIncidents:]
		}
	}

	fired := m.evaluateAlerts()
	m.mu.Unlock()

	m.publishAlerts(ctx, fired)
}

// RecordError counts a scoring failure and re-evaluates alerts.
func (m *Monitor) RecordError(ctx context.Context) {
	m.mu.Lock()
	m.totalRequests++
	m.errors++
	fired := m.evaluateAlerts()
	m.mu.Unlock()

	m.publishAlerts(ctx, fired)
}

func (m *Monitor) publishAlerts(ctx context.Context, fired []Alert) {
	for _, alert := range fired {
		m.logger.Warn("monitoring alert raised",
			"alert", alert.Name,
			"message", alert.Message,
			"value", alert.Value,
			"threshold", alert.Threshold)

		if m.bus == nil {
			continue
		}
		payload, err := json.Marshal(alert)
		if err != nil {
			continue
		}
		if err := m.bus.Publish(ctx, domain.TopicMonitorAlert, payload); err != nil {
			m.logger.Error("failed to publish alert", "alert", alert.Name, "error", err)
		}
	}
}

// locked accessors used by alert evaluation and snapshots

func (m *Monitor) fraudRate() float64 {
	if m.totalRequests == 0 {
		return 0
	}
	return float64(m.suspicious) / float64(m.totalRequests)
}

func (m *Monitor) errorRate() float64 {
	if m.totalRequests == 0 {
		return 0
	}
	return float64(m.errors) / float64(m.totalRequests)
}

func (m *Monitor) avgProcessingMs() float64 {
	if len(m.procTimes) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.procTimes {
		sum += v
	}
	return sum / float64(len(m.procTimes))
}

// maxUserShare returns the largest single-user fraction of all requests.
func (m *Monitor) maxUserShare() (string, float64) {
	if m.totalRequests == 0 {
		return "", 0
	}
	var topUser string
	var topCount int
	for user, count := range m.perUser {
		if count > topCount {
			topUser, topCount = user, count
		}
	}
	return topUser, float64(topCount) / float64(m.totalRequests)
}

// Metrics is the snapshot served by the metrics endpoint.
type Metrics struct {
	TotalRequests   int         `json:"totalRequests"`
	SuspiciousCount int         `json:"suspiciousCount"`
	ErrorCount      int         `json:"errorCount"`
	FraudRate       float64     `json:"fraudRate"`
	ErrorRate       float64     `json:"errorRate"`
	AvgProcessingMs float64     `json:"avgProcessingMs"`
	RequestsByHour  map[int]int `json:"requestsByHour"`
	ActiveUsers     int         `json:"activeUsers"`
	ActiveAlerts    []Alert     `json:"activeAlerts"`
	UptimeSeconds   float64     `json:"uptimeSeconds"`
}

// Snapshot returns current metrics.
func (m *Monitor) Snapshot() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	byHour := make(map[int]int)
	for h, n := range m.hourly {
		if n > 0 {
			byHour[h] = n
		}
	}

	return Metrics{
		TotalRequests:   m.totalRequests,
		SuspiciousCount: m.suspicious,
		ErrorCount:      m.errors,
		FraudRate:       m.fraudRate(),
		ErrorRate:       m.errorRate(),
		AvgProcessingMs: m.avgProcessingMs(),
		RequestsByHour:  byHour,
		ActiveUsers:     len(m.perUser),
		ActiveAlerts:    m.activeAlerts(),
		UptimeSeconds:   time.Since(m.startedAt).Seconds(),
	}
}

// Incidents returns the retained high-risk incidents, most recent last.
func (m *Monitor) Incidents() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Incident, len(m.incidents))
	copy(out, m.incidents)
	return out
}

// Health is the summarized system condition.
type Health struct {
	Score        int     `json:"score"`
	Status       string  `json:"status"`
	FraudRate    float64 `json:"fraudRate"`
	ErrorRate    float64 `json:"errorRate"`
	AvgMs        float64 `json:"avgProcessingMs"`
	ActiveAlerts int     `json:"activeAlerts"`
}

// HealthSummary grades the system. The score starts at 100 and loses points
// for elevated fraud rate, slow responses, errors, and each active alert.
func (m *Monitor) HealthSummary() Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	fraud := m.fraudRate()
	errRate := m.errorRate()
	avg := m.avgProcessingMs()
	active := len(m.activeAlerts())

	score := 100
	if fraud > 0.1 {
		score -= 20
	}
	if avg > 150 {
		score -= 15
	}
	if errRate > 0.02 {
		score -= 25
	}
	score -= 10 * active
	if score < 0 {
		score = 0
	}

	status := "POOR"
	switch {
	case score >= 90:
		status = "EXCELLENT"
	case score >= 70:
		status = "GOOD"
	case score >= 50:
		status = "FAIR"
	}

	return Health{
		Score:        score,
		Status:       status,
		FraudRate:    fraud,
		ErrorRate:    errRate,
		AvgMs:        avg,
		ActiveAlerts: active,
	}
}

// Dashboard bundles everything the operations view renders in one call.
type Dashboard struct {
	Metrics   Metrics    `json:"metrics"`
	Health    Health     `json:"health"`
	Incidents []Incident `json:"recentIncidents"`
}

// DashboardSnapshot returns the combined operations view.
func (m *Monitor) DashboardSnapshot() Dashboard {
	return Dashboard{
		Metrics:   m.Snapshot(),
		Health:    m.HealthSummary(),
		Incidents: m.Incidents(),
	}
}
