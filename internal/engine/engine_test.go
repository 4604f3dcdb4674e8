package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/monitor"
	"github.com/opensource-finance/kestrel/internal/rules"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() domain.EngineConfig {
	return domain.EngineConfig{
		MinTrainingTransactions: 15,
		AnomalyTrees:            60,
		Contamination:           0.1,
		Seed:                    42,
		TrainEnsemble:           true,
	}
}

func newTestEngine(t *testing.T, store domain.ModelStore, cfg domain.EngineConfig) *Engine {
	t.Helper()
	ruleEngine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("rules.NewEngine: %v", err)
	}
	mon := monitor.New(testLogger(), nil)
	return New(cfg, testLogger(), store, nil, nil, ruleEngine, mon)
}

// benignHistory fabricates a plausible weekday grocery/restaurant history.
func benignHistory(userID string, n int) []*domain.Transaction {
	categories := []string{"grocery", "restaurant", "fuel"}
	txs := make([]*domain.Transaction, n)
	for i := range txs {
		txs[i] = &domain.Transaction{
			UserID:           userID,
			Amount:           40 + float64(i%5)*12,
			MerchantCategory: categories[i%len(categories)],
			Hour:             11 + i%4,
			DayOfWeek:        i % 5,
			Timestamp:        time.Now().UTC(),
		}
	}
	return txs
}

// fakeStore is an in-memory ModelStore.
type fakeStore struct {
	mu      sync.Mutex
	bundles map[string]*domain.ModelBundle
}

func newFakeStore() *fakeStore {
	return &fakeStore{bundles: make(map[string]*domain.ModelBundle)}
}

func (s *fakeStore) SaveBundle(_ context.Context, b *domain.ModelBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bundles[b.UserID] = b
	return nil
}

func (s *fakeStore) LoadBundle(_ context.Context, userID string) (*domain.ModelBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bundles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *fakeStore) ListUsers(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.bundles))
	for id := range s.bundles {
		out = append(out, id)
	}
	return out, nil
}

func (s *fakeStore) DeleteBundle(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bundles[userID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.bundles, userID)
	return nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

func TestTrainInsufficientData(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())

	_, err := e.Train(context.Background(), "u1", benignHistory("u1", 10))
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestTrainHonorsConfiguredMinimum(t *testing.T) {
	cfg := testConfig()
	cfg.MinTrainingTransactions = 25
	e := newTestEngine(t, nil, cfg)

	// Twenty transactions satisfy the default floor but not the raised one.
	_, err := e.Train(context.Background(), "u1", benignHistory("u1", 20))
	if !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData at minimum 25, got %v", err)
	}

	if _, err := e.Train(context.Background(), "u1", benignHistory("u1", 25)); err != nil {
		t.Fatalf("Train with exactly the minimum: %v", err)
	}
}

func TestTrainRejectsInvalidTransaction(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())

	txs := benignHistory("u1", 20)
	txs[3].Hour = 99
	_, err := e.Train(context.Background(), "u1", txs)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestDetectUnknownUser(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())

	res, err := e.Detect(context.Background(), &domain.Transaction{
		UserID: "stranger", Amount: 50, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 1,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.RiskTier != domain.TierUnknown {
		t.Errorf("RiskTier = %v, want UNKNOWN", res.RiskTier)
	}
	if res.IsSuspicious {
		t.Error("unknown user flagged suspicious")
	}
	if len(res.Explanations) == 0 {
		t.Error("unknown result has no explanation")
	}
	if res.Attribution == nil || res.Attribution.Available {
		t.Error("unknown result should carry unavailable attribution")
	}
}

func TestDetectInvalidTransaction(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())

	_, err := e.Detect(context.Background(), &domain.Transaction{
		UserID: "u1", Amount: -5, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 1,
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestTrainAndDetect(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())
	ctx := context.Background()

	prof, err := e.Train(ctx, "u1", benignHistory("u1", 40))
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	if prof.TransactionCount != 40 {
		t.Errorf("profile count = %d, want 40", prof.TransactionCount)
	}

	// A transaction matching the training pattern scores low.
	benign, err := e.Detect(ctx, &domain.Transaction{
		UserID: "u1", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
	})
	if err != nil {
		t.Fatalf("Detect benign: %v", err)
	}
	if benign.RiskTier != domain.TierLow {
		t.Errorf("benign tier = %v (score %v), want LOW", benign.RiskTier, benign.FinalScore)
	}
	if benign.IsSuspicious {
		t.Error("benign transaction flagged suspicious")
	}
	if len(benign.Explanations) == 0 {
		t.Error("explanations empty")
	}
	if benign.ID == "" {
		t.Error("result ID not assigned")
	}

	// A fraud-shaped transaction scores suspicious.
	fraud, err := e.Detect(ctx, &domain.Transaction{
		UserID: "u1", Amount: 5500, MerchantCategory: "jewelry", Hour: 2, DayOfWeek: 6,
	})
	if err != nil {
		t.Fatalf("Detect fraud: %v", err)
	}
	if !fraud.IsSuspicious {
		t.Errorf("fraud-shaped transaction not suspicious: score %v tier %v", fraud.FinalScore, fraud.RiskTier)
	}
	if len(fraud.RuleTriggers) == 0 {
		t.Error("fraud-shaped transaction triggered no rules")
	}
	if fraud.FinalScore <= benign.FinalScore {
		t.Errorf("fraud score %v not above benign score %v", fraud.FinalScore, benign.FinalScore)
	}
}

func TestDetectAttributionAvailableAfterTraining(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())
	ctx := context.Background()

	if _, err := e.Train(ctx, "u1", benignHistory("u1", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	res, err := e.Detect(ctx, &domain.Transaction{
		UserID: "u1", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Attribution == nil || !res.Attribution.Available {
		t.Fatal("attribution unavailable after in-memory training")
	}
	if len(res.Attribution.Contributions) == 0 {
		t.Error("attribution has no contributions")
	}
}

func TestEnsembleDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.TrainEnsemble = false
	e := newTestEngine(t, nil, cfg)
	ctx := context.Background()

	if _, err := e.Train(ctx, "u1", benignHistory("u1", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	res, err := e.Detect(ctx, &domain.Transaction{
		UserID: "u1", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.EnsembleScore != nil {
		t.Errorf("EnsembleScore = %v, want nil when disabled", *res.EnsembleScore)
	}
}

func TestLoadOnDemandFromStore(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	trainer := newTestEngine(t, store, testConfig())
	if _, err := trainer.Train(ctx, "u1", benignHistory("u1", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	// Fresh engine sharing the store simulates a restart.
	scorer := newTestEngine(t, store, testConfig())
	res, err := scorer.Detect(ctx, &domain.Transaction{
		UserID: "u1", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
	})
	if err != nil {
		t.Fatalf("Detect after restart: %v", err)
	}
	if res.RiskTier == domain.TierUnknown {
		t.Fatal("restored model not used, got UNKNOWN")
	}
	// The explainer is not persisted.
	if res.Attribution.Available {
		t.Error("attribution available on restored model")
	}
}

func TestUsersAndDelete(t *testing.T) {
	store := newFakeStore()
	e := newTestEngine(t, store, testConfig())
	ctx := context.Background()

	if _, err := e.Train(ctx, "u1", benignHistory("u1", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if _, err := e.Train(ctx, "u2", benignHistory("u2", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	users, err := e.Users(ctx)
	if err != nil {
		t.Fatalf("Users: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Errorf("Users = %v, want [u1 u2]", users)
	}

	if err := e.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	res, err := e.Detect(ctx, &domain.Transaction{
		UserID: "u1", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
	})
	if err != nil {
		t.Fatalf("Detect after delete: %v", err)
	}
	if res.RiskTier != domain.TierUnknown {
		t.Errorf("tier after delete = %v, want UNKNOWN", res.RiskTier)
	}

	if err := e.DeleteUser(ctx, "u1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestProfileLookup(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())
	ctx := context.Background()

	if _, err := e.Profile(ctx, "nobody"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := e.Train(ctx, "u1", benignHistory("u1", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	prof, err := e.Profile(ctx, "u1")
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if prof.UserID != "u1" || prof.TransactionCount != 30 {
		t.Errorf("profile = %+v", prof)
	}
}

func TestDetectCountsUserScoringRate(t *testing.T) {
	ruleEngine, err := rules.NewEngine(4)
	if err != nil {
		t.Fatalf("rules.NewEngine: %v", err)
	}
	c := cache.NewLRUCache(100)
	e := New(testConfig(), testLogger(), nil, c, nil, ruleEngine, monitor.New(testLogger(), nil))
	ctx := context.Background()

	if _, err := e.Train(ctx, "u1", benignHistory("u1", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	tx := &domain.Transaction{
		UserID: "u1", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
	}
	first, err := e.Detect(ctx, tx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if first.RecentRequests != 1 {
		t.Errorf("RecentRequests = %d, want 1 on first detect", first.RecentRequests)
	}

	second, err := e.Detect(ctx, tx)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if second.RecentRequests != 2 {
		t.Errorf("RecentRequests = %d, want 2 on second detect", second.RecentRequests)
	}

	// Unknown users count too; the counter keys on the user, not the model.
	unknown, err := e.Detect(ctx, &domain.Transaction{
		UserID: "stranger", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
	})
	if err != nil {
		t.Fatalf("Detect unknown: %v", err)
	}
	if unknown.RecentRequests != 1 {
		t.Errorf("unknown RecentRequests = %d, want 1", unknown.RecentRequests)
	}
}

func TestDetectWithoutCacheReportsNoRate(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())
	ctx := context.Background()

	if _, err := e.Train(ctx, "u1", benignHistory("u1", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}
	res, err := e.Detect(ctx, &domain.Transaction{
		UserID: "u1", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
	})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.RecentRequests != 0 {
		t.Errorf("RecentRequests = %d, want 0 without a cache", res.RecentRequests)
	}
}

func TestConcurrentTrainAndDetect(t *testing.T) {
	e := newTestEngine(t, nil, testConfig())
	ctx := context.Background()

	if _, err := e.Train(ctx, "u1", benignHistory("u1", 30)); err != nil {
		t.Fatalf("Train: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := e.Detect(ctx, &domain.Transaction{
					UserID: "u1", Amount: 52, MerchantCategory: "grocery", Hour: 12, DayOfWeek: 2,
				})
				if err != nil {
					t.Errorf("Detect: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := e.Train(ctx, "u1", benignHistory("u1", 45)); err != nil {
			t.Errorf("retrain: %v", err)
		}
	}()
	wg.Wait()
}
