// Package engine orchestrates training and scoring across the feature,
// model, rule, and monitoring layers.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/anomaly"
	"github.com/opensource-finance/kestrel/internal/attribution"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ensemble"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/feature"
	"github.com/opensource-finance/kestrel/internal/fusion"
	"github.com/opensource-finance/kestrel/internal/monitor"
	"github.com/opensource-finance/kestrel/internal/profile"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// profileCacheTTL bounds how long read endpoints may serve a cached profile.
const profileCacheTTL = 5 * time.Minute

// rateWindow is the sliding window for the per-user scoring-rate counter.
const rateWindow = time.Minute

// userModel is one user's trained artifacts. Published atomically into the
// registry: a model is either fully present or absent, never partial.
type userModel struct {
	profile    *domain.UserProfile
	scaler     *feature.Scaler
	forest     *anomaly.Forest
	classifier *ensemble.Classifier   // nil when ensemble training failed
	explainer  *attribution.Explainer // nil when unavailable
}

// Engine is the scoring orchestrator.
type Engine struct {
	cfg     domain.EngineConfig
	logger  *slog.Logger
	store   domain.ModelStore
	cache   domain.Cache
	bus     domain.EventBus
	rules   *rules.Engine
	monitor *monitor.Monitor

	mu     sync.RWMutex
	models map[string]*userModel

	// per-user training serialization
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates an Engine. Store, cache, and bus may be nil in tests; the
// engine then runs memory-only.
func New(cfg domain.EngineConfig, logger *slog.Logger, store domain.ModelStore, cache domain.Cache, bus domain.EventBus, ruleEngine *rules.Engine, mon *monitor.Monitor) *Engine {
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		cache:   cache,
		bus:     bus,
		rules:   ruleEngine,
		monitor: mon,
		models:  make(map[string]*userModel),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Rules exposes the rule engine for rule management endpoints.
func (e *Engine) Rules() *rules.Engine { return e.rules }

// Monitor exposes the telemetry collector for monitoring endpoints.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

func (e *Engine) trainLock(userID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	l, ok := e.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[userID] = l
	}
	return l
}

// Train builds a user's complete model set from their transaction history.
// Concurrent Train calls for the same user are serialized; the new model
// replaces the old one atomically, so scoring never observes a partial
// state. Persistence and caching are best-effort.
func (e *Engine) Train(ctx context.Context, userID string, txs []*domain.Transaction) (*domain.UserProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}
	for i, tx := range txs {
		if err := tx.Validate(); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
	}

	lock := e.trainLock(userID)
	lock.Lock()
	defer lock.Unlock()

	prof, err := profile.Build(userID, txs, e.cfg.MinTrainingTransactions)
	if err != nil {
		return nil, err
	}

	raw := feature.ExtractAll(txs)
	scaler, err := feature.FitScaler(raw)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	scaled := scaler.TransformAll(raw)

	forest := anomaly.New(
		anomaly.WithTrees(e.cfg.AnomalyTrees),
		anomaly.WithContamination(e.cfg.Contamination),
		anomaly.WithSeed(e.cfg.Seed),
	)
	if err := forest.Fit(scaled); err != nil {
		return nil, fmt.Errorf("fit anomaly model: %w", err)
	}

	var classifier *ensemble.Classifier
	if e.cfg.TrainEnsemble {
		classifier = e.trainEnsemble(userID, txs, scaler, scaled)
	}

	explainer, err := attribution.New(scaled, feature.Names[:], attribution.WithSeed(e.cfg.Seed))
	if err != nil {
		e.logger.Warn("explainer unavailable", "userId", userID, "error", err)
		explainer = nil
	}

	model := &userModel{
		profile:    prof,
		scaler:     scaler,
		forest:     forest,
		classifier: classifier,
		explainer:  explainer,
	}

	e.mu.Lock()
	e.models[userID] = model
	e.mu.Unlock()

	e.persist(ctx, userID, model)

	if e.cache != nil {
		if err := e.cache.SetProfile(ctx, userID, prof, profileCacheTTL); err != nil {
			e.logger.Warn("profile cache write failed", "userId", userID, "error", err)
		}
	}

	e.logger.Info("user model trained",
		"userId", userID,
		"transactions", len(txs),
		"ensemble", classifier != nil)

	return prof, nil
}

// trainEnsemble fits the supervised classifier against real history plus
// synthetic fraud. Failure is non-fatal and returns nil.
func (e *Engine) trainEnsemble(userID string, txs []*domain.Transaction, scaler *feature.Scaler, scaledReal [][]float64) *ensemble.Classifier {
	rng := rand.New(rand.NewSource(e.cfg.Seed))
	synth := ensemble.Synthesize(rng, txs)
	scaledSynth := scaler.TransformAll(feature.ExtractAll(synth))

	X := make([][]float64, 0, len(scaledReal)+len(scaledSynth))
	y := make([]int, 0, cap(X))
	for _, row := range scaledReal {
		X = append(X, row)
		y = append(y, 0)
	}
	for _, row := range scaledSynth {
		X = append(X, row)
		y = append(y, 1)
	}

	classifier := ensemble.New(ensemble.WithSeed(e.cfg.Seed))
	if err := classifier.Fit(X, y); err != nil {
		e.logger.Warn("ensemble training failed, degrading to unsupervised blend",
			"userId", userID, "error", fmt.Errorf("%w: %v", domain.ErrEnsembleTraining, err))
		return nil
	}
	return classifier
}

// persist writes the trained bundle to the store. Failures are logged, not
// returned: the in-memory model already serves traffic.
func (e *Engine) persist(ctx context.Context, userID string, model *userModel) {
	if e.store == nil {
		return
	}

	forestBlob, err := model.forest.Save()
	if err != nil {
		e.logger.Warn("model bundle not persisted", "userId", userID, "error", err)
		return
	}
	scalerBlob, err := model.scaler.Encode()
	if err != nil {
		e.logger.Warn("model bundle not persisted", "userId", userID, "error", err)
		return
	}

	var ensembleBlob []byte
	if model.classifier != nil {
		ensembleBlob, err = model.classifier.Save()
		if err != nil {
			e.logger.Warn("ensemble not persisted", "userId", userID, "error", err)
			ensembleBlob = nil
		}
	}

	bundle := &domain.ModelBundle{
		UserID:   userID,
		Profile:  model.profile,
		Anomaly:  forestBlob,
		Scaler:   scalerBlob,
		Ensemble: ensembleBlob,
		SavedAt:  time.Now().UTC(),
	}
	if err := e.store.SaveBundle(ctx, bundle); err != nil {
		e.logger.Warn("model bundle not persisted", "userId", userID, "error", err)
	}
}

// Detect scores one transaction. Users without a trained model receive a
// well-formed UNKNOWN result rather than an error.
func (e *Engine) Detect(ctx context.Context, tx *domain.Transaction) (*domain.ScoreResult, error) {
	start := time.Now()

	if err := tx.Validate(); err != nil {
		return nil, err
	}

	recent := e.userRate(ctx, tx.UserID)

	model, err := e.modelFor(ctx, tx.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUntrainedModel) {
			res := e.unknownResult(tx, start)
			res.RecentRequests = recent
			e.monitor.Record(ctx, res)
			return res, nil
		}
		e.monitor.RecordError(ctx)
		return nil, err
	}

	scaled := model.scaler.Transform(feature.Extract(tx))

	anomalyScore, err := model.forest.Score(scaled)
	if err != nil {
		e.monitor.RecordError(ctx)
		return nil, fmt.Errorf("anomaly scoring: %w", err)
	}

	ruleScore, triggers := e.rules.Evaluate(ctx, tx, model.profile)

	var ensembleScore *float64
	if model.classifier != nil {
		if p, err := model.classifier.PredictProb(scaled); err == nil {
			ensembleScore = &p
		} else {
			e.logger.Warn("ensemble prediction failed", "userId", tx.UserID, "error", err)
		}
	}

	final := fusion.Combine(anomalyScore, ruleScore, ensembleScore)
	tier := fusion.Tier(final)

	res := &domain.ScoreResult{
		ID:             uuid.NewString(),
		UserID:         tx.UserID,
		TransactionID:  tx.TransactionID,
		AnomalyScore:   anomalyScore,
		RuleScore:      ruleScore,
		EnsembleScore:  ensembleScore,
		FinalScore:     final,
		RiskTier:       tier,
		IsSuspicious:   fusion.Suspicious(tier),
		Confidence:     fusion.Confidence(final),
		RuleTriggers:   triggers,
		Attribution:    e.attribute(model, scaled),
		RecentRequests: recent,
		Timestamp:      time.Now().UTC(),
	}
	res.Explanations = explain.Build(tx, model.profile, res)
	res.ProcessingMs = float64(time.Since(start).Microseconds()) / 1000.0

	e.monitor.Record(ctx, res)
	e.publishIncident(ctx, res)

	return res, nil
}

// userRate bumps the per-user scoring counter. Best effort: zero without a
// cache or when the counter backend fails.
func (e *Engine) userRate(ctx context.Context, userID string) int64 {
	if e.cache == nil {
		return 0
	}
	n, err := e.cache.IncrementCounter(ctx, "rate:"+userID, rateWindow)
	if err != nil {
		e.logger.Warn("rate counter failed", "userId", userID, "error", err)
		return 0
	}
	return n
}

// attribute explains the strongest available model: the classifier when
// present, the anomaly score otherwise.
func (e *Engine) attribute(model *userModel, scaled []float64) *domain.AttributionResult {
	if model.explainer == nil {
		return attribution.Unavailable()
	}

	predict := func(x []float64) float64 {
		if model.classifier != nil {
			if p, err := model.classifier.PredictProb(x); err == nil {
				return p
			}
		}
		s, err := model.forest.Score(x)
		if err != nil {
			return 0
		}
		return s
	}

	res, err := model.explainer.Explain(predict, scaled)
	if err != nil {
		return attribution.Unavailable()
	}
	return res
}

func (e *Engine) unknownResult(tx *domain.Transaction, start time.Time) *domain.ScoreResult {
	return &domain.ScoreResult{
		ID:            uuid.NewString(),
		UserID:        tx.UserID,
		TransactionID: tx.TransactionID,
		RiskTier:      domain.TierUnknown,
		IsSuspicious:  false,
		Attribution:   attribution.Unavailable(),
		Explanations: []string{fmt.Sprintf(
			"No trained model for this user. Train with at least %d transactions to enable scoring.",
			e.cfg.MinTrainingTransactions)},
		ProcessingMs: float64(time.Since(start).Microseconds()) / 1000.0,
		Timestamp:    time.Now().UTC(),
	}
}

func (e *Engine) publishIncident(ctx context.Context, res *domain.ScoreResult) {
	if e.bus == nil || !res.HighRisk() {
		return
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, domain.TopicHighRiskIncident, payload); err != nil {
		e.logger.Error("failed to publish incident", "resultId", res.ID, "error", err)
	}
}

// modelFor returns the user's model, loading it from the store on demand.
func (e *Engine) modelFor(ctx context.Context, userID string) (*userModel, error) {
	e.mu.RLock()
	model, ok := e.models[userID]
	e.mu.RUnlock()
	if ok {
		return model, nil
	}

	if e.store == nil {
		return nil, domain.ErrUntrainedModel
	}

	bundle, err := e.store.LoadBundle(ctx, userID)
	if err != nil {
		return nil, err
	}
	model, err = restore(bundle)
	if err != nil {
		return nil, fmt.Errorf("restore bundle for %s: %w", userID, err)
	}

	e.mu.Lock()
	// Another goroutine may have loaded or retrained concurrently; keep the
	// registry's copy if so.
	if existing, ok := e.models[userID]; ok {
		model = existing
	} else {
		e.models[userID] = model
	}
	e.mu.Unlock()

	e.logger.Info("user model restored from store", "userId", userID)
	return model, nil
}

// restore rebuilds a userModel from persisted blobs. The explainer is not
// persisted (it needs training vectors), so restored models score without
// attribution until retrained.
func restore(bundle *domain.ModelBundle) (*userModel, error) {
	scaler, err := feature.DecodeScaler(bundle.Scaler)
	if err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}

	forest := anomaly.New()
	if err := forest.Load(bundle.Anomaly); err != nil {
		return nil, fmt.Errorf("load anomaly model: %w", err)
	}

	var classifier *ensemble.Classifier
	if len(bundle.Ensemble) > 0 {
		classifier = ensemble.New()
		if err := classifier.Load(bundle.Ensemble); err != nil {
			classifier = nil
		}
	}

	return &userModel{
		profile:    bundle.Profile,
		scaler:     scaler,
		forest:     forest,
		classifier: classifier,
	}, nil
}

// Profile returns a user's profile, preferring memory, then cache, then the
// store. Returns domain.ErrNotFound for unknown users.
func (e *Engine) Profile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	e.mu.RLock()
	model, ok := e.models[userID]
	e.mu.RUnlock()
	if ok {
		return model.profile, nil
	}

	if e.cache != nil {
		if prof, err := e.cache.GetProfile(ctx, userID); err == nil && prof != nil {
			return prof, nil
		}
	}

	if e.store != nil {
		bundle, err := e.store.LoadBundle(ctx, userID)
		if err == nil {
			return bundle.Profile, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	return nil, domain.ErrNotFound
}

// Users lists every user with a trained model, in memory or persisted.
func (e *Engine) Users(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)

	e.mu.RLock()
	for userID := range e.models {
		seen[userID] = true
	}
	e.mu.RUnlock()

	if e.store != nil {
		stored, err := e.store.ListUsers(ctx)
		if err != nil {
			return nil, err
		}
		for _, userID := range stored {
			seen[userID] = true
		}
	}

	out := make([]string, 0, len(seen))
	for userID := range seen {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out, nil
}

// DeleteUser removes a user's model from memory, cache, and store. Returns
// domain.ErrNotFound when the user had no model anywhere.
func (e *Engine) DeleteUser(ctx context.Context, userID string) error {
	e.mu.Lock()
	_, hadModel := e.models[userID]
	delete(e.models, userID)
	e.mu.Unlock()

	if e.cache != nil {
		if err := e.cache.Delete(ctx, "profile:"+userID); err != nil {
			e.logger.Warn("profile cache delete failed", "userId", userID, "error", err)
		}
	}

	if e.store != nil {
		err := e.store.DeleteBundle(ctx, userID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
	}

	if !hadModel {
		return domain.ErrNotFound
	}
	return nil
}
