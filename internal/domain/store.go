package domain

import (
	"context"
	"time"
)

// ModelBundle packages everything persisted for one trained user. The model
// and scaler payloads are opaque gob blobs owned by the engine; the store
// never inspects them. Ensemble is empty when ensemble training failed.
type ModelBundle struct {
	UserID   string       `json:"userId"`
	Profile  *UserProfile `json:"profile"`
	Anomaly  []byte       `json:"-"`
	Scaler   []byte       `json:"-"`
	Ensemble []byte       `json:"-"`
	SavedAt  time.Time    `json:"savedAt"`
}

// ModelStore persists per-user model bundles. Save failures are best-effort
// from the engine's point of view: training still succeeds in memory.
type ModelStore interface {
	// SaveBundle stores or replaces a user's bundle.
	SaveBundle(ctx context.Context, bundle *ModelBundle) error

	// LoadBundle retrieves a user's bundle. Returns ErrNotFound when the
	// user has no saved bundle.
	LoadBundle(ctx context.Context, userID string) (*ModelBundle, error)

	// ListUsers returns the user IDs with saved bundles.
	ListUsers(ctx context.Context) ([]string, error)

	// DeleteBundle removes a user's bundle. Returns ErrNotFound when
	// nothing was saved for the user.
	DeleteBundle(ctx context.Context, userID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for model store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
