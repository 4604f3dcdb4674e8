package domain

import (
	"time"
)

// CategoryCount pairs a merchant category with its observed frequency.
// Profiles keep these sorted by count descending.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// UserProfile holds the descriptive statistics of a user's transaction
// history. Profiles are built once on training and replaced wholesale on
// retraining; a scored transaction never mutates its profile.
type UserProfile struct {
	UserID           string `json:"userId"`
	TransactionCount int    `json:"transactionCount"`

	// Amount statistics
	AvgAmount    float64 `json:"avgAmount"`
	StdAmount    float64 `json:"stdAmount"`
	MedianAmount float64 `json:"medianAmount"`
	MinAmount    float64 `json:"minAmount"`
	MaxAmount    float64 `json:"maxAmount"`

	// Behavioral patterns, most frequent first
	CommonCategories []CategoryCount `json:"commonCategories"`
	ActiveHours      []int           `json:"activeHours"`
	ActiveDays       []int           `json:"activeDays"`

	// Ratios over the training history
	WeekendRatio    float64 `json:"weekendRatio"`
	NightRatio      float64 `json:"nightRatio"`
	HighAmountRatio float64 `json:"highAmountRatio"`

	// Transactions per day, assuming a 30-day history window
	SpendingVelocity float64 `json:"spendingVelocity"`

	CreatedAt    time.Time `json:"createdAt"`
	LastUpdated  time.Time `json:"lastUpdated"`
	ModelVersion string    `json:"modelVersion"`
}

// TopCategories returns up to n of the user's most common categories.
func (p *UserProfile) TopCategories(n int) []string {
	if n > len(p.CommonCategories) {
		n = len(p.CommonCategories)
	}
	out := make([]string, 0, n)
	for _, c := range p.CommonCategories[:n] {
		out = append(out, c.Category)
	}
	return out
}

// TopHours returns up to n of the user's most active hours.
func (p *UserProfile) TopHours(n int) []int {
	if n > len(p.ActiveHours) {
		n = len(p.ActiveHours)
	}
	return p.ActiveHours[:n]
}
