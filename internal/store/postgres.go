package store

import (
	"context"

	"github.com/nestauk/asf-core-data/internal/db"
)

// NewPostgres connects to Postgres through lib/pq. An empty databaseURL
// falls back to the PG* environment variables.
func NewPostgres(ctx context.Context, databaseURL string) (*SQLStore, error) {
	conn, err := db.NewConnection(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: conn.DB, dialect: dialect{name: "postgres", migration: postgresMigration, numbered: true}}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS match_run (
	id                 UUID PRIMARY KEY,
	status             TEXT NOT NULL DEFAULT 'running',
	epc_path           TEXT NOT NULL DEFAULT '',
	mcs_path           TEXT NOT NULL DEFAULT '',
	matching_parameter DOUBLE PRECISION NOT NULL,
	mode               TEXT NOT NULL,
	stats              TEXT,
	error              TEXT,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS match_result (
	id            BIGSERIAL PRIMARY KEY,
	run_id        UUID NOT NULL REFERENCES match_run(id) ON DELETE CASCADE,
	mcs_row       INTEGER NOT NULL,
	epc_row       INTEGER NOT NULL,
	uprn          TEXT NOT NULL,
	mcs_address   TEXT NOT NULL DEFAULT '',
	epc_address   TEXT NOT NULL DEFAULT '',
	postcode      TEXT NOT NULL DEFAULT '',
	address_score DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS reconciled_property (
	run_id                 UUID NOT NULL REFERENCES match_run(id) ON DELETE CASCADE,
	uprn                   TEXT NOT NULL,
	lmk_key                TEXT NOT NULL DEFAULT '',
	inspection_date        TEXT,
	heating_system         TEXT NOT NULL DEFAULT '',
	hp_installed           BOOLEAN NOT NULL,
	hp_type                TEXT NOT NULL DEFAULT '',
	hp_install_date        TEXT,
	hp_install_date_source TEXT NOT NULL DEFAULT '',
	mcs_available          BOOLEAN NOT NULL,
	has_hp_at_some_point   BOOLEAN NOT NULL,
	artificially_dupl      BOOLEAN NOT NULL,
	hp_anomaly             TEXT NOT NULL DEFAULT '',
	mcs_tech_type          TEXT NOT NULL DEFAULT '',
	mcs_capacity           DOUBLE PRECISION,
	mcs_cost               DOUBLE PRECISION,
	mcs_installer          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, uprn)
);

CREATE INDEX IF NOT EXISTS idx_match_run_status ON match_run(status);
CREATE INDEX IF NOT EXISTS idx_match_result_run_id ON match_result(run_id);
CREATE INDEX IF NOT EXISTS idx_match_result_uprn ON match_result(uprn);
`
