// Package rules scores transactions against deterministic heuristics and
// optional CEL-defined custom rules.
package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Trigger names for the builtin heuristics.
const (
	TriggerHighAmount       = "high_amount"
	TriggerAmountVsAverage  = "amount_vs_average"
	TriggerUnusualHour      = "unusual_hour"
	TriggerHighRiskCategory = "high_risk_category"
	TriggerWeekendNight     = "weekend_night"
)

// highRiskCategories are penalized regardless of user history.
var highRiskCategories = map[string]bool{
	"electronics":  true,
	"jewelry":      true,
	"travel":       true,
	"cash_advance": true,
}

// Heuristics evaluates the builtin rule table. The profile may be nil for
// users without history; history-relative checks are skipped then. The
// returned score is the uncapped sum; Evaluate applies the 1.0 cap after
// custom rules are added.
func Heuristics(tx *domain.Transaction, profile *domain.UserProfile) (float64, []string) {
	var score float64
	var triggers []string

	if tx.Amount > 5000 {
		score += 0.3
		triggers = append(triggers, TriggerHighAmount)
	}

	if profile != nil && profile.AvgAmount > 0 && tx.Amount > 10*profile.AvgAmount {
		score += 0.4
		triggers = append(triggers, TriggerAmountVsAverage)
	}

	if tx.Hour >= 0 && tx.Hour <= 5 {
		score += 0.2
		triggers = append(triggers, TriggerUnusualHour)
	}

	if highRiskCategories[tx.MerchantCategory] {
		score += 0.2
		triggers = append(triggers, TriggerHighRiskCategory)
	}

	if tx.IsWeekend() && lateNight(tx.Hour) {
		score += 0.15
		triggers = append(triggers, TriggerWeekendNight)
	}

	return score, triggers
}

func lateNight(hour int) bool {
	return hour >= 22 || hour <= 2
}

// Cap clamps a rule score to the [0, 1] range.
func Cap(score float64) float64 {
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}
