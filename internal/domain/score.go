package domain

import (
	"time"
)

// RiskTier is the discrete risk bucket derived from the final score.
type RiskTier string

const (
	TierLow      RiskTier = "LOW"
	TierMedium   RiskTier = "MEDIUM"
	TierHigh     RiskTier = "HIGH"
	TierCritical RiskTier = "CRITICAL"

	// TierUnknown is returned when scoring is requested for a user
	// without a trained model. Never suspicious.
	TierUnknown RiskTier = "UNKNOWN"
)

// FeatureContribution is one feature's signed share of a model prediction.
type FeatureContribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
}

// AttributionResult is the additive decomposition of a single prediction.
// Contributions sum approximately to Prediction - Baseline. Available is
// false when the explainer could not be constructed for the model.
type AttributionResult struct {
	Available     bool                  `json:"available"`
	Baseline      float64               `json:"baseline,omitempty"`
	Prediction    float64               `json:"prediction,omitempty"`
	Contributions []FeatureContribution `json:"contributions,omitempty"`
}

// ScoreResult is the complete outcome of scoring one transaction.
// All scores are in [0,1].
type ScoreResult struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	// TransactionID echoes the input transaction's ID when present.
	TransactionID string `json:"transactionId,omitempty"`

	AnomalyScore float64 `json:"anomalyScore"`
	RuleScore    float64 `json:"ruleScore"`

	// EnsembleScore is nil when the user's ensemble model is unavailable.
	EnsembleScore *float64 `json:"ensembleScore,omitempty"`

	FinalScore   float64  `json:"finalScore"`
	RiskTier     RiskTier `json:"riskTier"`
	IsSuspicious bool     `json:"isSuspicious"`
	Confidence   float64  `json:"confidence"`

	Explanations []string `json:"explanations"`

	// RuleTriggers names the builtin heuristics and custom rules that
	// contributed to RuleScore.
	RuleTriggers []string `json:"ruleTriggers,omitempty"`

	Attribution *AttributionResult `json:"attribution,omitempty"`

	// RecentRequests counts this user's scoring requests over the last
	// minute, including this one. Zero when no cache is configured.
	RecentRequests int64 `json:"recentRequests,omitempty"`

	ProcessingMs float64   `json:"processingMs"`
	Timestamp    time.Time `json:"timestamp"`
}

// HighRisk reports whether the result lands in the incident tiers.
func (r *ScoreResult) HighRisk() bool {
	return r.RiskTier == TierHigh || r.RiskTier == TierCritical
}
