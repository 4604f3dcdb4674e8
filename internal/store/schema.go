package store

// Schema definitions for the Kestrel model store.
// Compatible with both SQLite and PostgreSQL.

const schemaModelBundles = `
CREATE TABLE IF NOT EXISTS model_bundles (
    user_id TEXT PRIMARY KEY,
    profile TEXT NOT NULL,
    anomaly BLOB NOT NULL,
    scaler BLOB NOT NULL,
    ensemble BLOB,
    saved_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_model_bundles_saved_at ON model_bundles(saved_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaModelBundles,
	}
}
