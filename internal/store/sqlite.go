package store

import (
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLStore{db: db, dialect: dialect{name: "sqlite", migration: sqliteMigration}}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS match_run (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL DEFAULT 'running',
	epc_path           TEXT NOT NULL DEFAULT '',
	mcs_path           TEXT NOT NULL DEFAULT '',
	matching_parameter REAL NOT NULL,
	mode               TEXT NOT NULL,
	stats              TEXT,
	error              TEXT,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS match_result (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL REFERENCES match_run(id) ON DELETE CASCADE,
	mcs_row       INTEGER NOT NULL,
	epc_row       INTEGER NOT NULL,
	uprn          TEXT NOT NULL,
	mcs_address   TEXT NOT NULL DEFAULT '',
	epc_address   TEXT NOT NULL DEFAULT '',
	postcode      TEXT NOT NULL DEFAULT '',
	address_score REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS reconciled_property (
	run_id                 TEXT NOT NULL REFERENCES match_run(id) ON DELETE CASCADE,
	uprn                   TEXT NOT NULL,
	lmk_key                TEXT NOT NULL DEFAULT '',
	inspection_date        TEXT,
	heating_system         TEXT NOT NULL DEFAULT '',
	hp_installed           INTEGER NOT NULL,
	hp_type                TEXT NOT NULL DEFAULT '',
	hp_install_date        TEXT,
	hp_install_date_source TEXT NOT NULL DEFAULT '',
	mcs_available          INTEGER NOT NULL,
	has_hp_at_some_point   INTEGER NOT NULL,
	artificially_dupl      INTEGER NOT NULL,
	hp_anomaly             TEXT NOT NULL DEFAULT '',
	mcs_tech_type          TEXT NOT NULL DEFAULT '',
	mcs_capacity           REAL,
	mcs_cost               REAL,
	mcs_installer          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, uprn)
);

CREATE INDEX IF NOT EXISTS idx_match_run_status ON match_run(status);
CREATE INDEX IF NOT EXISTS idx_match_result_run_id ON match_result(run_id);
CREATE INDEX IF NOT EXISTS idx_match_result_uprn ON match_result(uprn);
`
