// Package store persists trained model bundles.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLStore implements domain.ModelStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a model store based on configuration.
func New(cfg domain.StoreConfig) (domain.ModelStore, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if s.driver == "postgres" {
			schema = strings.ReplaceAll(schema, "BLOB", "BYTEA")
		}
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveBundle stores or replaces a user's model bundle.
func (s *SQLStore) SaveBundle(ctx context.Context, bundle *domain.ModelBundle) error {
	if bundle.UserID == "" {
		return fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}

	profileJSON, err := json.Marshal(bundle.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	query := `
		INSERT INTO model_bundles (
			user_id, profile, anomaly, scaler, ensemble, saved_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			profile = excluded.profile,
			anomaly = excluded.anomaly,
			scaler = excluded.scaler,
			ensemble = excluded.ensemble,
			saved_at = excluded.saved_at
	`

	_, err = s.db.ExecContext(ctx, s.rebind(query),
		bundle.UserID, string(profileJSON),
		bundle.Anomaly, bundle.Scaler, bundle.Ensemble,
		bundle.SavedAt,
	)
	return err
}

// LoadBundle retrieves a user's model bundle.
func (s *SQLStore) LoadBundle(ctx context.Context, userID string) (*domain.ModelBundle, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}

	query := `
		SELECT user_id, profile, anomaly, scaler, ensemble, saved_at
		FROM model_bundles
		WHERE user_id = ?
	`

	var bundle domain.ModelBundle
	var profileJSON string

	err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(
		&bundle.UserID, &profileJSON,
		&bundle.Anomaly, &bundle.Scaler, &bundle.Ensemble,
		&bundle.SavedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(profileJSON), &bundle.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	return &bundle, nil
}

// ListUsers returns the user IDs with saved bundles.
func (s *SQLStore) ListUsers(ctx context.Context) ([]string, error) {
	query := `SELECT user_id FROM model_bundles ORDER BY user_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		users = append(users, userID)
	}
	return users, rows.Err()
}

// DeleteBundle removes a user's model bundle.
func (s *SQLStore) DeleteBundle(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: userId is required", domain.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM model_bundles WHERE user_id = ?`), userID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
