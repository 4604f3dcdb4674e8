// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"fmt"
	"time"
)

// Transaction represents a single card transaction to be scored.
// Immutable once received.
type Transaction struct {
	UserID           string  `json:"userId"`
	Amount           float64 `json:"amount"`
	MerchantCategory string  `json:"merchantCategory"`

	// Hour of day [0,23] and day of week [0,6] (0 = Monday).
	Hour      int `json:"hour"`
	DayOfWeek int `json:"dayOfWeek"`

	// Optional metadata
	Location      string `json:"location,omitempty"`
	MerchantID    string `json:"merchantId,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Validate checks field ranges on a transaction received at the boundary.
func (t *Transaction) Validate() error {
	if t.UserID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if t.Amount < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidInput)
	}
	if t.Hour < 0 || t.Hour > 23 {
		return fmt.Errorf("%w: hour must be in [0,23]", ErrInvalidInput)
	}
	if t.DayOfWeek < 0 || t.DayOfWeek > 6 {
		return fmt.Errorf("%w: dayOfWeek must be in [0,6]", ErrInvalidInput)
	}
	if t.MerchantCategory == "" {
		return fmt.Errorf("%w: merchantCategory is required", ErrInvalidInput)
	}
	return nil
}

// IsWeekend reports whether the transaction falls on Saturday or Sunday.
func (t *Transaction) IsWeekend() bool {
	return t.DayOfWeek == 5 || t.DayOfWeek == 6
}

// IsNight reports whether the transaction falls in the night window.
func (t *Transaction) IsNight() bool {
	return t.Hour >= 22 || t.Hour <= 5
}
