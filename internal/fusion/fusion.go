// Package fusion combines model and rule scores into a final risk verdict.
package fusion

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Blend weights for the unsupervised path.
const (
	AnomalyWeight = 0.7
	RuleWeight    = 0.3
)

// Combine produces the final score. The weighted anomaly+rule blend is the
// default; when an ensemble probability is present it supersedes the blend
// entirely rather than averaging with it, since the supervised model already
// saw the same signals. The result is clamped to [0, 1].
func Combine(anomalyScore, ruleScore float64, ensembleScore *float64) float64 {
	final := AnomalyWeight*anomalyScore + RuleWeight*ruleScore
	if ensembleScore != nil {
		final = *ensembleScore
	}
	return clamp01(final)
}

// Tier buckets a final score. Boundaries are inclusive on the lower edge of
// MEDIUM and on the upper edge of each band: 0.5 is MEDIUM, 0.7 is MEDIUM,
// 0.9 is HIGH.
func Tier(score float64) domain.RiskTier {
	switch {
	case score > 0.9:
		return domain.TierCritical
	case score > 0.7:
		return domain.TierHigh
	case score >= 0.5:
		return domain.TierMedium
	default:
		return domain.TierLow
	}
}

// Suspicious reports whether a tier warrants flagging.
func Suspicious(tier domain.RiskTier) bool {
	switch tier {
	case domain.TierMedium, domain.TierHigh, domain.TierCritical:
		return true
	default:
		return false
	}
}

// Confidence measures distance from the decision boundary: 0 at a 0.5 score,
// 1 at either extreme.
func Confidence(score float64) float64 {
	c := score - 0.5
	if c < 0 {
		c = -c
	}
	return clamp01(c * 2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
