package ensemble

import (
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// highRiskCategories are the merchant categories synthetic fraud is drawn
// from, matching the categories the heuristic rules penalize.
var highRiskCategories = []string{"electronics", "jewelry", "travel", "cash_advance"}

// nightHours are the hours synthetic fraud timestamps are drawn from.
var nightHours = []int{0, 1, 2, 3, 22, 23}

// Synthesize fabricates fraud-like counterexamples from a user's real
// history, roughly one per three real transactions. Synthetic transactions
// inflate the amount 3x to 10x, move to a high-risk category, and shift to
// night or weekend timing, so the classifier sees a minority class to
// separate even when the user has no labeled fraud.
func Synthesize(rng *rand.Rand, txs []*domain.Transaction) []*domain.Transaction {
	n := len(txs) / 3
	if n == 0 && len(txs) > 0 {
		n = 1
	}

	out := make([]*domain.Transaction, 0, n)
	for i := 0; i < n; i++ {
		base := txs[rng.Intn(len(txs))]

		synth := *base
		synth.Amount = base.Amount * (3 + rng.Float64()*7)
		synth.MerchantCategory = highRiskCategories[rng.Intn(len(highRiskCategories))]
		if rng.Intn(2) == 0 {
			synth.Hour = nightHours[rng.Intn(len(nightHours))]
		} else {
			synth.DayOfWeek = 5 + rng.Intn(2)
			synth.Hour = nightHours[rng.Intn(len(nightHours))]
		}
		out = append(out, &synth)
	}
	return out
}
