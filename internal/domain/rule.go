package domain

// RuleConfig defines a custom scoring rule evaluated alongside the builtin
// heuristics. The CEL expression must return bool, int, or double; its
// numeric value is added to the heuristic sum before the 1.0 cap.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression to evaluate
	Expression string `json:"expression"`

	// Multiplier applied to the expression's score before summing
	Weight float64 `json:"weight"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}
