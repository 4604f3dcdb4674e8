package profile

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func mkTx(userID string, amount float64, category string, hour, day int) *domain.Transaction {
	return &domain.Transaction{
		UserID:           userID,
		Amount:           amount,
		MerchantCategory: category,
		Hour:             hour,
		DayOfWeek:        day,
		Timestamp:        time.Now().UTC(),
	}
}

func TestBuildRejectsShortHistory(t *testing.T) {
	txs := make([]*domain.Transaction, MinTransactions-1)
	for i := range txs {
		txs[i] = mkTx("u1", 50, "grocery", 12, 1)
	}

	_, err := Build("u1", txs, 0)
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestBuildHonorsCustomMinimum(t *testing.T) {
	txs := make([]*domain.Transaction, 20)
	for i := range txs {
		txs[i] = mkTx("u1", 50, "grocery", 12, 1)
	}

	// Twenty transactions clear the default floor but not a raised one.
	if _, err := Build("u1", txs, 0); err != nil {
		t.Fatalf("Build with default minimum: %v", err)
	}
	if _, err := Build("u1", txs, 25); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData with minimum 25, got %v", err)
	}
}

func TestBuildStatistics(t *testing.T) {
	txs := make([]*domain.Transaction, 0, 20)
	for i := 0; i < 20; i++ {
		amount := 100.0
		if i == 0 {
			amount = 500.0
		}
		txs = append(txs, mkTx("u1", amount, "grocery", 12, 2))
	}

	p, err := Build("u1", txs, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if p.TransactionCount != 20 {
		t.Errorf("TransactionCount = %d, want 20", p.TransactionCount)
	}
	wantAvg := (19*100.0 + 500.0) / 20.0
	if math.Abs(p.AvgAmount-wantAvg) > 1e-9 {
		t.Errorf("AvgAmount = %v, want %v", p.AvgAmount, wantAvg)
	}
	if p.MinAmount != 100 || p.MaxAmount != 500 {
		t.Errorf("Min/Max = %v/%v, want 100/500", p.MinAmount, p.MaxAmount)
	}
	if p.MedianAmount != 100 {
		t.Errorf("MedianAmount = %v, want 100", p.MedianAmount)
	}
	if p.StdAmount <= 0 {
		t.Errorf("StdAmount = %v, want > 0", p.StdAmount)
	}
	if p.ModelVersion != ModelVersion {
		t.Errorf("ModelVersion = %q, want %q", p.ModelVersion, ModelVersion)
	}
}

func TestBuildCategoryAndTimeAggregates(t *testing.T) {
	var txs []*domain.Transaction
	// 10 grocery on weekday noon, 5 electronics at night, 5 travel on weekend.
	for i := 0; i < 10; i++ {
		txs = append(txs, mkTx("u1", 40, "grocery", 12, 1))
	}
	for i := 0; i < 5; i++ {
		txs = append(txs, mkTx("u1", 900, "electronics", 23, 3))
	}
	for i := 0; i < 5; i++ {
		txs = append(txs, mkTx("u1", 200, "travel", 14, 6))
	}

	p, err := Build("u1", txs, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(p.CommonCategories) != 3 {
		t.Fatalf("CommonCategories len = %d, want 3", len(p.CommonCategories))
	}
	if p.CommonCategories[0].Category != "grocery" || p.CommonCategories[0].Count != 10 {
		t.Errorf("top category = %+v, want grocery/10", p.CommonCategories[0])
	}

	if got := p.WeekendRatio; math.Abs(got-0.25) > 1e-9 {
		t.Errorf("WeekendRatio = %v, want 0.25", got)
	}
	if got := p.NightRatio; math.Abs(got-0.25) > 1e-9 {
		t.Errorf("NightRatio = %v, want 0.25", got)
	}

	if len(p.ActiveHours) == 0 || p.ActiveHours[0] != 12 {
		t.Errorf("ActiveHours = %v, want 12 first", p.ActiveHours)
	}
	if len(p.ActiveDays) == 0 || p.ActiveDays[0] != 1 {
		t.Errorf("ActiveDays = %v, want 1 first", p.ActiveDays)
	}

	wantVelocity := 20.0 / 30.0
	if math.Abs(p.SpendingVelocity-wantVelocity) > 1e-9 {
		t.Errorf("SpendingVelocity = %v, want %v", p.SpendingVelocity, wantVelocity)
	}
}

func TestBuildOrderIndependence(t *testing.T) {
	var a, b []*domain.Transaction
	for i := 0; i < 30; i++ {
		a = append(a, mkTx("u1", float64(10+i*7%90), "grocery", i%24, i%7))
	}
	for i := len(a) - 1; i >= 0; i-- {
		b = append(b, a[i])
	}

	pa, err := Build("u1", a, 0)
	if err != nil {
		t.Fatalf("Build a: %v", err)
	}
	pb, err := Build("u1", b, 0)
	if err != nil {
		t.Fatalf("Build b: %v", err)
	}

	if pa.AvgAmount != pb.AvgAmount || pa.StdAmount != pb.StdAmount ||
		pa.MedianAmount != pb.MedianAmount || pa.WeekendRatio != pb.WeekendRatio {
		t.Errorf("profiles differ across orderings: %+v vs %+v", pa, pb)
	}
	for i := range pa.CommonCategories {
		if pa.CommonCategories[i] != pb.CommonCategories[i] {
			t.Errorf("category order differs: %v vs %v", pa.CommonCategories, pb.CommonCategories)
		}
	}
}
