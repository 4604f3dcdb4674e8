package monitor

import (
	"fmt"
	"time"
)

// Alert condition names.
const (
	AlertHighFraudRate   = "high_fraud_rate"
	AlertSlowResponse    = "slow_response"
	AlertModelErrors     = "model_errors"
	AlertUnusualActivity = "unusual_activity"
)

// Alert thresholds.
const (
	fraudRateThreshold = 0.15
	avgMsThreshold     = 200.0
	errorRateThreshold = 0.05
	userShareThreshold = 0.5
)

// Alert is one raised alert condition, published on the monitor topic.
type Alert struct {
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Since     time.Time `json:"since"`
}

// alertState tracks one condition's two-state machine. An alert fires only
// on the inactive-to-active edge; staying active is silent, and recovery
// clears without an event.
type alertState struct {
	active bool
	since  time.Time
}

func newAlertStates() map[string]*alertState {
	return map[string]*alertState{
		AlertHighFraudRate:   {},
		AlertSlowResponse:    {},
		AlertModelErrors:     {},
		AlertUnusualActivity: {},
	}
}

// evaluateAlerts recomputes every condition and returns alerts that fired on
// this evaluation. Caller holds the mutex.
func (m *Monitor) evaluateAlerts() []Alert {
	if m.totalRequests < minRequests {
		return nil
	}

	now := time.Now().UTC()
	var fired []Alert

	check := func(name string, conditionMet bool, value, threshold float64, message string) {
		st := m.alerts[name]
		switch {
		case conditionMet && !st.active:
			st.active = true
			st.since = now
			fired = append(fired, Alert{
				Name:      name,
				Message:   message,
				Value:     value,
				Threshold: threshold,
				Since:     now,
			})
		case !conditionMet && st.active:
			st.active = false
		}
	}

	fraud := m.fraudRate()
	check(AlertHighFraudRate, fraud > fraudRateThreshold, fraud, fraudRateThreshold,
		fmt.Sprintf("fraud rate %.1f%% exceeds %.0f%%", fraud*100, fraudRateThreshold*100))

	avg := m.avgProcessingMs()
	check(AlertSlowResponse, avg > avgMsThreshold, avg, avgMsThreshold,
		fmt.Sprintf("average scoring latency %.1fms exceeds %.0fms", avg, avgMsThreshold))

	errRate := m.errorRate()
	check(AlertModelErrors, errRate > errorRateThreshold, errRate, errorRateThreshold,
		fmt.Sprintf("error rate %.1f%% exceeds %.0f%%", errRate*100, errorRateThreshold*100))

	user, share := m.maxUserShare()
	check(AlertUnusualActivity, share > userShareThreshold, share, userShareThreshold,
		fmt.Sprintf("user %s accounts for %.0f%% of all requests", user, share*100))

	return fired
}

// activeAlerts returns the currently active conditions. Caller holds the
// mutex.
func (m *Monitor) activeAlerts() []Alert {
	var out []Alert
	for name, st := range m.alerts {
		if st.active {
			out = append(out, Alert{Name: name, Since: st.since})
		}
	}
	return out
}
