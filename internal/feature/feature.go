// Package feature maps raw transactions into fixed-length numeric vectors.
package feature

import (
	"hash/fnv"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Vector layout. The order is fixed: models, scalers, and attribution all
// index features by these positions.
const (
	IdxAmount = iota
	IdxHour
	IdxDayOfWeek
	IdxCategoryCode
	IdxIsWeekend
	IdxIsNight

	NumFeatures
)

// CategoryBuckets is the modulus for categorical hashing. Collisions are an
// accepted approximation, not a defect.
const CategoryBuckets = 1000

// Names lists the feature names in vector order.
var Names = [NumFeatures]string{
	"amount",
	"hour",
	"day_of_week",
	"category_code",
	"is_weekend",
	"is_night",
}

// CategoryCode encodes a merchant category label as a stable integer.
// FNV-1a (32-bit) reduced mod CategoryBuckets, so encodings are reproducible
// across processes and implementations.
func CategoryCode(category string) int {
	h := fnv.New32a()
	h.Write([]byte(category))
	return int(h.Sum32() % CategoryBuckets)
}

// Extract builds the feature vector for one transaction.
func Extract(tx *domain.Transaction) []float64 {
	v := make([]float64, NumFeatures)
	v[IdxAmount] = tx.Amount
	v[IdxHour] = float64(tx.Hour)
	v[IdxDayOfWeek] = float64(tx.DayOfWeek)
	v[IdxCategoryCode] = float64(CategoryCode(tx.MerchantCategory))
	if tx.IsWeekend() {
		v[IdxIsWeekend] = 1
	}
	if tx.IsNight() {
		v[IdxIsNight] = 1
	}
	return v
}

// ExtractAll builds feature vectors for a batch of transactions.
func ExtractAll(txs []*domain.Transaction) [][]float64 {
	out := make([][]float64, len(txs))
	for i, tx := range txs {
		out[i] = Extract(tx)
	}
	return out
}
