// Package attribution decomposes model predictions into additive per-feature
// contributions via sampled feature permutations.
package attribution

import (
	"fmt"
	"math/rand"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Thresholds used when turning contributions into narrative.
const (
	// Notable is the minimum absolute contribution worth mentioning.
	Notable = 0.01

	// Strong marks a contribution that dominates the prediction.
	Strong = 0.1
)

// PredictFunc scores one feature vector.
type PredictFunc func([]float64) float64

// Explainer computes permutation-sampled additive attributions against a
// fixed background sample drawn from training data.
type Explainer struct {
	background [][]float64
	names      []string
	samples    int
	rng        *rand.Rand
}

// Option configures an Explainer.
type Option func(*Explainer)

// WithSamples sets the number of sampled permutations per explanation.
func WithSamples(n int) Option {
	return func(e *Explainer) { e.samples = n }
}

// WithSeed fixes the random source so explanations are reproducible.
func WithSeed(seed int64) Option {
	return func(e *Explainer) { e.rng = rand.New(rand.NewSource(seed)) }
}

// New builds an Explainer over a background sample. The background is
// subsampled to at most 50 rows to bound explanation cost.
func New(background [][]float64, names []string, opts ...Option) (*Explainer, error) {
	if len(background) == 0 {
		return nil, fmt.Errorf("%w: empty background sample", domain.ErrAttributionUnavailable)
	}
	for _, row := range background {
		if len(row) != len(names) {
			return nil, fmt.Errorf("%w: background width %d does not match %d features",
				domain.ErrAttributionUnavailable, len(row), len(names))
		}
	}

	e := &Explainer{
		background: background,
		names:      names,
		samples:    30,
		rng:        rand.New(rand.NewSource(42)),
	}
	for _, opt := range opts {
		opt(e)
	}

	if len(e.background) > 50 {
		idx := e.rng.Perm(len(e.background))[:50]
		sub := make([][]float64, 50)
		for i, k := range idx {
			sub[i] = e.background[k]
		}
		e.background = sub
	}
	return e, nil
}

// Explain attributes a prediction on x across the features. For each sampled
// permutation a background row is morphed into x one feature at a time; the
// marginal prediction deltas telescope, so averaged contributions sum to
// Prediction - Baseline exactly.
func (e *Explainer) Explain(predict PredictFunc, x []float64) (*domain.AttributionResult, error) {
	if len(x) != len(e.names) {
		return nil, fmt.Errorf("%w: vector width %d does not match %d features",
			domain.ErrAttributionUnavailable, len(x), len(e.names))
	}

	nFeatures := len(x)
	contrib := make([]float64, nFeatures)
	var baselineSum float64

	for s := 0; s < e.samples; s++ {
		ref := e.background[e.rng.Intn(len(e.background))]

		z := make([]float64, nFeatures)
		copy(z, ref)
		prev := predict(z)
		baselineSum += prev

		for _, f := range e.rng.Perm(nFeatures) {
			z[f] = x[f]
			cur := predict(z)
			contrib[f] += cur - prev
			prev = cur
		}
	}

	n := float64(e.samples)
	baseline := baselineSum / n

	out := make([]domain.FeatureContribution, nFeatures)
	for i := range contrib {
		out[i] = domain.FeatureContribution{
			Feature: e.names[i],
			Value:   contrib[i] / n,
		}
	}

	return &domain.AttributionResult{
		Available:     true,
		Baseline:      baseline,
		Prediction:    predict(x),
		Contributions: out,
	}, nil
}

// Unavailable is the sentinel result used when an explainer could not be
// built or failed at scoring time.
func Unavailable() *domain.AttributionResult {
	return &domain.AttributionResult{Available: false}
}
