package attribution

import (
	"errors"
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var names3 = []string{"a", "b", "c"}

func TestNewRejectsEmptyBackground(t *testing.T) {
	_, err := New(nil, names3)
	if !errors.Is(err, domain.ErrAttributionUnavailable) {
		t.Fatalf("expected ErrAttributionUnavailable, got %v", err)
	}
}

func TestNewRejectsWidthMismatch(t *testing.T) {
	_, err := New([][]float64{{1, 2}}, names3)
	if !errors.Is(err, domain.ErrAttributionUnavailable) {
		t.Fatalf("expected ErrAttributionUnavailable, got %v", err)
	}
}

func TestContributionsSumToPredictionMinusBaseline(t *testing.T) {
	background := [][]float64{
		{0, 0, 0},
		{1, 1, 1},
		{2, 0, 1},
		{0, 2, 2},
	}
	predict := func(x []float64) float64 {
		return 0.3*x[0] + 0.5*x[1] - 0.2*x[2] + 0.1
	}

	e, err := New(background, names3, WithSamples(40), WithSeed(42))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := e.Explain(predict, []float64{3, 1, 2})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}
	if !res.Available {
		t.Fatal("result not marked available")
	}

	var sum float64
	for _, c := range res.Contributions {
		sum += c.Value
	}
	want := res.Prediction - res.Baseline
	if math.Abs(sum-want) > 1e-9 {
		t.Errorf("contributions sum %v, want %v", sum, want)
	}
}

func TestLinearModelAttribution(t *testing.T) {
	// Single background point makes exact linear attributions computable:
	// contribution of feature i is w_i * (x_i - ref_i).
	background := [][]float64{{1, 1, 1}}
	predict := func(x []float64) float64 {
		return 2*x[0] - 1*x[1] + 0.5*x[2]
	}

	e, err := New(background, names3, WithSamples(10), WithSeed(7))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := e.Explain(predict, []float64{2, 3, 1})
	if err != nil {
		t.Fatalf("Explain: %v", err)
	}

	want := map[string]float64{"a": 2, "b": -2, "c": 0}
	for _, c := range res.Contributions {
		if math.Abs(c.Value-want[c.Feature]) > 1e-9 {
			t.Errorf("contribution[%s] = %v, want %v", c.Feature, c.Value, want[c.Feature])
		}
	}
}

func TestSeedReproducibility(t *testing.T) {
	background := [][]float64{{0, 0, 0}, {1, 2, 3}, {4, 5, 6}}
	predict := func(x []float64) float64 {
		v := x[0]*x[1] + x[2]
		return v
	}
	x := []float64{2, 2, 2}

	a, _ := New(background, names3, WithSamples(20), WithSeed(42))
	b, _ := New(background, names3, WithSamples(20), WithSeed(42))

	ra, err := a.Explain(predict, x)
	if err != nil {
		t.Fatalf("Explain a: %v", err)
	}
	rb, err := b.Explain(predict, x)
	if err != nil {
		t.Fatalf("Explain b: %v", err)
	}

	for i := range ra.Contributions {
		if ra.Contributions[i] != rb.Contributions[i] {
			t.Errorf("same seed produced different contributions: %v vs %v",
				ra.Contributions, rb.Contributions)
		}
	}
}

func TestExplainWidthMismatch(t *testing.T) {
	e, err := New([][]float64{{0, 0, 0}}, names3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Explain(func(x []float64) float64 { return 0 }, []float64{1})
	if !errors.Is(err, domain.ErrAttributionUnavailable) {
		t.Fatalf("expected ErrAttributionUnavailable, got %v", err)
	}
}

func TestUnavailable(t *testing.T) {
	res := Unavailable()
	if res.Available {
		t.Error("Unavailable() marked available")
	}
	if len(res.Contributions) != 0 {
		t.Errorf("Unavailable() has contributions: %v", res.Contributions)
	}
}
