package feature

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestExtract(t *testing.T) {
	tx := &domain.Transaction{
		UserID:           "u1",
		Amount:           125.50,
		MerchantCategory: "grocery",
		Hour:             23,
		DayOfWeek:        5,
	}

	v := Extract(tx)

	if len(v) != NumFeatures {
		t.Fatalf("expected %d features, got %d", NumFeatures, len(v))
	}
	if v[IdxAmount] != 125.50 {
		t.Errorf("expected amount 125.50, got %f", v[IdxAmount])
	}
	if v[IdxHour] != 23 {
		t.Errorf("expected hour 23, got %f", v[IdxHour])
	}
	if v[IdxDayOfWeek] != 5 {
		t.Errorf("expected day 5, got %f", v[IdxDayOfWeek])
	}
	if v[IdxIsWeekend] != 1 {
		t.Errorf("day 5 should be weekend")
	}
	if v[IdxIsNight] != 1 {
		t.Errorf("hour 23 should be night")
	}

	code := v[IdxCategoryCode]
	if code < 0 || code >= CategoryBuckets {
		t.Errorf("category code out of range: %f", code)
	}
}

func TestExtractDaytimeWeekday(t *testing.T) {
	tx := &domain.Transaction{
		UserID:           "u1",
		Amount:           40,
		MerchantCategory: "fuel",
		Hour:             12,
		DayOfWeek:        2,
	}

	v := Extract(tx)

	if v[IdxIsWeekend] != 0 {
		t.Error("day 2 should not be weekend")
	}
	if v[IdxIsNight] != 0 {
		t.Error("hour 12 should not be night")
	}
}

func TestCategoryCodeStable(t *testing.T) {
	a := CategoryCode("electronics")
	b := CategoryCode("electronics")
	if a != b {
		t.Errorf("category code not stable: %d vs %d", a, b)
	}

	if CategoryCode("grocery") == CategoryCode("jewelry") {
		t.Error("distinct categories should usually hash differently")
	}
}

func TestScaler(t *testing.T) {
	data := [][]float64{
		{1, 10},
		{2, 10},
		{3, 10},
	}

	scaler, err := FitScaler(data)
	if err != nil {
		t.Fatalf("FitScaler failed: %v", err)
	}

	if scaler.Mean[0] != 2 {
		t.Errorf("expected mean 2, got %f", scaler.Mean[0])
	}

	// Column 1 has zero variance and should center without dividing
	out := scaler.Transform([]float64{2, 10})
	if out[0] != 0 {
		t.Errorf("expected scaled mean value 0, got %f", out[0])
	}
	if out[1] != 0 {
		t.Errorf("expected constant column centered to 0, got %f", out[1])
	}

	// Scaled training column should have unit variance
	scaled := scaler.TransformAll(data)
	var sumSq float64
	for _, row := range scaled {
		sumSq += row[0] * row[0]
	}
	variance := sumSq / float64(len(scaled))
	if math.Abs(variance-1) > 1e-9 {
		t.Errorf("expected unit variance, got %f", variance)
	}
}

func TestScalerEmptyData(t *testing.T) {
	if _, err := FitScaler(nil); err == nil {
		t.Error("expected error for empty training data")
	}
}

func TestScalerEncodeDecode(t *testing.T) {
	scaler, err := FitScaler([][]float64{{1, 5}, {3, 9}})
	if err != nil {
		t.Fatalf("FitScaler failed: %v", err)
	}

	blob, err := scaler.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	restored, err := DecodeScaler(blob)
	if err != nil {
		t.Fatalf("DecodeScaler failed: %v", err)
	}

	in := []float64{2, 7}
	want := scaler.Transform(in)
	got := restored.Transform(in)
	for j := range want {
		if want[j] != got[j] {
			t.Errorf("feature %d: expected %f, got %f", j, want[j], got[j])
		}
	}
}
