// Package explain renders score results into plain-English statements.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/attribution"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Build produces the ordered explanation list for a scored transaction.
// Statements follow a fixed priority: amount deviation, timing, category,
// weekend pattern, model attribution, ensemble verdict, then a trailing
// confidence line. The list is never empty.
func Build(tx *domain.Transaction, profile *domain.UserProfile, res *domain.ScoreResult) []string {
	var out []string

	if s := amountStatement(tx, profile); s != "" {
		out = append(out, s)
	}
	if s := hourStatement(tx, profile); s != "" {
		out = append(out, s)
	}
	if s := categoryStatement(tx, profile); s != "" {
		out = append(out, s)
	}
	if s := weekendStatement(tx, profile); s != "" {
		out = append(out, s)
	}
	if s := attributionStatement(res.Attribution); s != "" {
		out = append(out, s)
	}
	if s := ensembleStatement(res.EnsembleScore); s != "" {
		out = append(out, s)
	}

	if len(out) == 0 {
		out = append(out, "Transaction appears normal for this user's spending pattern.")
	}

	out = append(out, fmt.Sprintf(
		"Combined ML and rule analysis produced a %s risk verdict with %.0f%% confidence.",
		strings.ToLower(string(res.RiskTier)), res.Confidence*100))

	return out
}

func amountStatement(tx *domain.Transaction, profile *domain.UserProfile) string {
	if profile == nil || profile.StdAmount <= 0 {
		return ""
	}
	dev := (tx.Amount - profile.AvgAmount) / profile.StdAmount
	switch {
	case dev > 3:
		return fmt.Sprintf("Amount $%.2f is far above this user's typical spending (avg $%.2f).",
			tx.Amount, profile.AvgAmount)
	case dev > 2:
		return fmt.Sprintf("Amount $%.2f is above this user's typical spending (avg $%.2f).",
			tx.Amount, profile.AvgAmount)
	}
	return ""
}

func hourStatement(tx *domain.Transaction, profile *domain.UserProfile) string {
	if profile == nil {
		return ""
	}
	for _, h := range profile.TopHours(5) {
		if h == tx.Hour {
			return ""
		}
	}
	if tx.Hour <= 5 {
		return fmt.Sprintf("Transaction at %02d:00 is at a very unusual time for this user.", tx.Hour)
	}
	return fmt.Sprintf("Transaction at %02d:00 falls outside this user's usual active hours.", tx.Hour)
}

// highRiskCategories get a sharper statement than merely novel ones.
var highRiskCategories = map[string]bool{
	"electronics": true,
	"jewelry":     true,
	"travel":      true,
}

func categoryStatement(tx *domain.Transaction, profile *domain.UserProfile) string {
	if profile == nil {
		return ""
	}
	for _, c := range profile.TopCategories(3) {
		if c == tx.MerchantCategory {
			return ""
		}
	}
	if highRiskCategories[tx.MerchantCategory] {
		return fmt.Sprintf("High-risk merchant category %q is unusual for this user.", tx.MerchantCategory)
	}
	return fmt.Sprintf("Merchant category %q is new for this user.", tx.MerchantCategory)
}

func weekendStatement(tx *domain.Transaction, profile *domain.UserProfile) string {
	if profile == nil || !tx.IsWeekend() || profile.WeekendRatio >= 0.2 {
		return ""
	}
	return "Weekend transaction from a user who rarely transacts on weekends."
}

func attributionStatement(attr *domain.AttributionResult) string {
	if attr == nil || !attr.Available {
		return ""
	}

	notable := make([]domain.FeatureContribution, 0, len(attr.Contributions))
	for _, c := range attr.Contributions {
		if math.Abs(c.Value) >= attribution.Notable {
			notable = append(notable, c)
		}
	}
	if len(notable) == 0 {
		return ""
	}
	sort.Slice(notable, func(i, j int) bool {
		return math.Abs(notable[i].Value) > math.Abs(notable[j].Value)
	})
	if len(notable) > 3 {
		notable = notable[:3]
	}

	parts := make([]string, 0, len(notable))
	for _, c := range notable {
		direction := "raised"
		if c.Value < 0 {
			direction = "lowered"
		}
		if math.Abs(c.Value) >= attribution.Strong {
			parts = append(parts, fmt.Sprintf("%s strongly %s the risk", c.Feature, direction))
		} else {
			parts = append(parts, fmt.Sprintf("%s %s the risk", c.Feature, direction))
		}
	}
	return "Model attribution: " + strings.Join(parts, "; ") + "."
}

func ensembleStatement(score *float64) string {
	if score == nil {
		return ""
	}
	if *score >= 0.5 {
		return fmt.Sprintf("Supervised ensemble classified this as fraud-like (probability %.2f).", *score)
	}
	return fmt.Sprintf("Supervised ensemble classified this as legitimate (probability %.2f).", *score)
}
