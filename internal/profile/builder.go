// Package profile computes descriptive behavioral statistics per user.
package profile

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// MinTransactions is the minimum history needed to build a reliable profile.
const MinTransactions = 15

// ModelVersion is stamped on every profile built by this code.
const ModelVersion = "kestrel-1.0"

// historyWindowDays is the assumed span of a training history, used for the
// spending velocity estimate.
const historyWindowDays = 30

// Build computes a UserProfile from a user's transaction history. Pure: the
// caller owns the result. All aggregates are order-independent. Returns
// domain.ErrInsufficientData when fewer than min transactions are supplied;
// min values below one fall back to MinTransactions.
func Build(userID string, txs []*domain.Transaction, min int) (*domain.UserProfile, error) {
	if min <= 0 {
		min = MinTransactions
	}
	if len(txs) < min {
		return nil, fmt.Errorf("%w: need at least %d transactions, got %d",
			domain.ErrInsufficientData, min, len(txs))
	}

	amounts := make([]float64, len(txs))
	catCounts := make(map[string]int)
	hourCounts := make(map[int]int)
	dayCounts := make(map[int]int)

	var sum float64
	var weekend, night int
	for i, tx := range txs {
		amounts[i] = tx.Amount
		sum += tx.Amount
		catCounts[tx.MerchantCategory]++
		hourCounts[tx.Hour]++
		dayCounts[tx.DayOfWeek]++
		if tx.IsWeekend() {
			weekend++
		}
		if tx.IsNight() {
			night++
		}
	}

	n := float64(len(txs))
	mean := sum / n

	var variance float64
	for _, a := range amounts {
		d := a - mean
		variance += d * d
	}
	// Sample standard deviation.
	std := 0.0
	if len(txs) > 1 {
		variance /= n - 1
		std = math.Sqrt(variance)
	}

	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)

	p90 := quantile(sorted, 0.9)
	var highAmount int
	for _, a := range amounts {
		if a > p90 {
			highAmount++
		}
	}

	now := time.Now().UTC()

	return &domain.UserProfile{
		UserID:           userID,
		TransactionCount: len(txs),
		AvgAmount:        mean,
		StdAmount:        std,
		MedianAmount:     quantile(sorted, 0.5),
		MinAmount:        sorted[0],
		MaxAmount:        sorted[len(sorted)-1],
		CommonCategories: topCategories(catCounts, 5),
		ActiveHours:      topInts(hourCounts, 8),
		ActiveDays:       topInts(dayCounts, 5),
		WeekendRatio:     float64(weekend) / n,
		NightRatio:       float64(night) / n,
		HighAmountRatio:  float64(highAmount) / n,
		SpendingVelocity: n / historyWindowDays,
		CreatedAt:        now,
		LastUpdated:      now,
		ModelVersion:     ModelVersion,
	}, nil
}

// quantile returns the linearly interpolated q-quantile of sorted data.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}

// topCategories returns up to k categories by count descending. Ties break
// alphabetically so the result is deterministic.
func topCategories(counts map[string]int, k int) []domain.CategoryCount {
	out := make([]domain.CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, domain.CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// topInts returns up to k keys by count descending, smaller key first on ties.
func topInts(counts map[int]int, k int) []int {
	keys := make([]int, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > k {
		keys = keys[:k]
	}
	return keys
}
