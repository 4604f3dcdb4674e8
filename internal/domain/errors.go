package domain

import (
	"errors"
)

// Error taxonomy. Nothing here is fatal to the process: callers either
// degrade to a partial result or surface the sentinel to their own caller.
var (
	// ErrInsufficientData is returned when a training request carries
	// fewer transactions than the reliable-model minimum.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrUntrainedModel marks a scoring request for a user without a
	// trained model. The engine reports this as a well-formed UNKNOWN
	// result rather than failing the call.
	ErrUntrainedModel = errors.New("model not trained for user")

	// ErrEnsembleTraining marks a non-fatal ensemble training failure;
	// scoring degrades to the anomaly+rule blend.
	ErrEnsembleTraining = errors.New("ensemble training failed")

	// ErrAttributionUnavailable marks a non-fatal explainer failure;
	// results omit attribution statements.
	ErrAttributionUnavailable = errors.New("attribution unavailable")

	// ErrNotFound is returned by stores and caches for missing records.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput marks malformed boundary input.
	ErrInvalidInput = errors.New("invalid input")
)
