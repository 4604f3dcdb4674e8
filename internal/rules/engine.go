package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates the builtin heuristics plus hot-reloadable CEL rules.
// No custom rules are loaded by default; the engine then reduces to the
// builtin table.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a rule engine with an empty custom rule set.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("day_of_week", cel.IntType),
		cel.Variable("category", cel.StringType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("is_night", cel.BoolType),
		// Profile variables, zero for users without history
		cel.Variable("avg_amount", cel.DoubleType),
		cel.Variable("std_amount", cel.DoubleType),
		cel.Variable("max_amount", cel.DoubleType),
		cel.Variable("transaction_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled
	return nil
}

// LoadRules compiles and loads the enabled rules from a set.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReloadRules atomically replaces the loaded rule set.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// RulesCount returns the number of loaded custom rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// Evaluate scores a transaction: builtin heuristics first, then every loaded
// custom rule weighted and added, then the 1.0 cap. The trigger list names
// each heuristic and custom rule that contributed.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction, profile *domain.UserProfile) (float64, []string) {
	score, triggers := Heuristics(tx, profile)

	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) > 0 {
		activation := activationFor(tx, profile)

		type outcome struct {
			name  string
			score float64
		}
		results := make([]outcome, len(rules))

		var wg sync.WaitGroup
		sem := make(chan struct{}, e.maxWorkers)
		for i, rule := range rules {
			wg.Add(1)
			go func(idx int, r *CompiledRule) {
				defer wg.Done()

				sem <- struct{}{}
				defer func() { <-sem }()

				out, _, err := r.Program.Eval(activation)
				if err != nil {
					return
				}
				results[idx] = outcome{
					name:  r.Config.Name,
					score: toScore(out) * r.Config.Weight,
				}
			}(i, rule)
		}
		wg.Wait()

		for _, res := range results {
			if res.score != 0 {
				score += res.score
				triggers = append(triggers, res.name)
			}
		}
	}

	return Cap(score), triggers
}

func activationFor(tx *domain.Transaction, profile *domain.UserProfile) map[string]any {
	activation := map[string]any{
		"amount":            tx.Amount,
		"hour":              tx.Hour,
		"day_of_week":       tx.DayOfWeek,
		"category":          tx.MerchantCategory,
		"is_weekend":        tx.IsWeekend(),
		"is_night":          tx.IsNight(),
		"avg_amount":        0.0,
		"std_amount":        0.0,
		"max_amount":        0.0,
		"transaction_count": 0,
	}
	if profile != nil {
		activation["avg_amount"] = profile.AvgAmount
		activation["std_amount"] = profile.StdAmount
		activation["max_amount"] = profile.MaxAmount
		activation["transaction_count"] = profile.TransactionCount
	}
	return activation
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close clears the loaded rule set.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
