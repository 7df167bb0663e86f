package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// dialect captures what differs between the SQL backends
type dialect struct {
	name      string
	migration string
	numbered  bool
}

// SQLStore implements Store over database/sql
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

// DB exposes the underlying handle
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// rebind rewrites ? placeholders as $n for numbered dialects
func (s *SQLStore) rebind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.dialect.migration)
	return eris.Wrapf(err, "%s: migrate", s.dialect.name)
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return eris.Wrapf(s.db.PingContext(ctx), "%s: ping", s.dialect.name)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) CreateRun(ctx context.Context, input RunInput) (*Run, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO match_run (id, status, epc_path, mcs_path, matching_parameter, mode, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		id, string(RunStatusRunning), input.EPCPath, input.MCSPath, input.MatchingParameter, input.Mode, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: insert run", s.dialect.name)
	}

	return &Run{
		ID:        id,
		Status:    RunStatusRunning,
		Input:     input,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLStore) CompleteRun(ctx context.Context, runID string, stats RunStats) error {
	if err := checkRunID(runID); err != nil {
		return err
	}

	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "store: marshal stats")
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE match_run SET status = ?, stats = ?, updated_at = ? WHERE id = ?`),
		string(RunStatusComplete), string(statsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "%s: complete run %s", s.dialect.name, runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLStore) FailRun(ctx context.Context, runID string, reason string) error {
	if err := checkRunID(runID); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE match_run SET status = ?, error = ?, updated_at = ? WHERE id = ?`),
		string(RunStatusFailed), reason, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "%s: fail run %s", s.dialect.name, runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, status, epc_path, mcs_path, matching_parameter, mode, stats, error, created_at, updated_at`

func (s *SQLStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+runColumns+` FROM match_run WHERE id = ?`), runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "%s: get run %s", s.dialect.name, runID)
	}
	return run, nil
}

func (s *SQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM match_run WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list runs", s.dialect.name)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "%s: scan run", s.dialect.name)
		}
		runs = append(runs, *run)
	}
	return runs, eris.Wrapf(rows.Err(), "%s: iterate runs", s.dialect.name)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run      Run
		status   string
		stats    sql.NullString
		errorMsg sql.NullString
	)
	err := row.Scan(&run.ID, &status, &run.Input.EPCPath, &run.Input.MCSPath, &run.Input.MatchingParameter,
		&run.Input.Mode, &stats, &errorMsg, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.Error = errorMsg.String
	if stats.Valid && stats.String != "" {
		var rs RunStats
		if err := json.Unmarshal([]byte(stats.String), &rs); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal stats")
		}
		run.Stats = &rs
	}
	return &run, nil
}

func (s *SQLStore) SaveMatches(ctx context.Context, runID string, matches []MatchRecord) error {
	if err := checkRunID(runID); err != nil {
		return err
	}

	return s.inTx(ctx, "save matches", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(
			`INSERT INTO match_result (run_id, mcs_row, epc_row, uprn, mcs_address, epc_address, postcode, address_score)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range matches {
			if _, err := stmt.ExecContext(ctx, runID, m.MCSRow, m.EPCRow, m.UPRN, m.MCSAddress, m.EPCAddress, m.Postcode, m.AddressScore); err != nil {
				return eris.Wrapf(err, "mcs row %d", m.MCSRow)
			}
		}
		return nil
	})
}

func (s *SQLStore) ListMatches(ctx context.Context, runID string) ([]MatchRecord, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT mcs_row, epc_row, uprn, mcs_address, epc_address, postcode, address_score
		 FROM match_result WHERE run_id = ? ORDER BY mcs_row, epc_row`), runID)
	if err != nil {
		return nil, eris.Wrapf(err, "%s: list matches %s", s.dialect.name, runID)
	}
	defer rows.Close()

	var out []MatchRecord
	for rows.Next() {
		var m MatchRecord
		if err := rows.Scan(&m.MCSRow, &m.EPCRow, &m.UPRN, &m.MCSAddress, &m.EPCAddress, &m.Postcode, &m.AddressScore); err != nil {
			return nil, eris.Wrapf(err, "%s: scan match", s.dialect.name)
		}
		out = append(out, m)
	}
	return out, eris.Wrapf(rows.Err(), "%s: iterate matches", s.dialect.name)
}

func (s *SQLStore) SaveProperties(ctx context.Context, runID string, properties []PropertyRecord) error {
	if err := checkRunID(runID); err != nil {
		return err
	}

	return s.inTx(ctx, "save properties", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.rebind(
			`INSERT INTO reconciled_property (run_id, uprn, lmk_key, inspection_date, heating_system, hp_installed, hp_type,
			   hp_install_date, hp_install_date_source, mcs_available, has_hp_at_some_point, artificially_dupl, hp_anomaly,
			   mcs_tech_type, mcs_capacity, mcs_cost, mcs_installer)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range properties {
			_, err := stmt.ExecContext(ctx, runID, p.UPRN, p.LMKKey, nullDate(p.InspectionDate), p.HeatingSystem, p.HPInstalled, p.HPType,
				nullDate(p.InstallDate), p.InstallDateSource, p.MCSAvailable, p.HasHPAtSomePoint, p.Synthetic, p.Anomaly,
				p.MCSTechType, nullFloat(p.MCSCapacity), nullFloat(p.MCSCost), p.MCSInstaller)
			if err != nil {
				return eris.Wrapf(err, "uprn %s", p.UPRN)
			}
		}
		return nil
	})
}

func (s *SQLStore) GetProperty(ctx context.Context, runID, uprn string) (*PropertyRecord, error) {
	if err := checkRunID(runID); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT uprn, lmk_key, inspection_date, heating_system, hp_installed, hp_type, hp_install_date,
		   hp_install_date_source, mcs_available, has_hp_at_some_point, artificially_dupl, hp_anomaly,
		   mcs_tech_type, mcs_capacity, mcs_cost, mcs_installer
		 FROM reconciled_property WHERE run_id = ? AND uprn = ?`), runID, uprn)

	var (
		p                   PropertyRecord
		inspection, install sql.NullString
		capacity, cost      sql.NullFloat64
	)
	err := row.Scan(&p.UPRN, &p.LMKKey, &inspection, &p.HeatingSystem, &p.HPInstalled, &p.HPType, &install,
		&p.InstallDateSource, &p.MCSAvailable, &p.HasHPAtSomePoint, &p.Synthetic, &p.Anomaly,
		&p.MCSTechType, &capacity, &cost, &p.MCSInstaller)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "property %s in run %s", uprn, runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "%s: get property %s", s.dialect.name, uprn)
	}

	p.InspectionDate = parseDate(inspection)
	p.InstallDate = parseDate(install)
	if capacity.Valid {
		p.MCSCapacity = &capacity.Float64
	}
	if cost.Valid {
		p.MCSCost = &cost.Float64
	}
	return &p, nil
}

func (s *SQLStore) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "%s: begin %s", s.dialect.name, op)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return eris.Wrapf(err, "%s: %s", s.dialect.name, op)
	}
	return eris.Wrapf(tx.Commit(), "%s: commit %s", s.dialect.name, op)
}

// checkRunID rejects ids that cannot name a run. Postgres stores ids as UUID
// and would fail the cast instead of finding nothing.
func checkRunID(runID string) error {
	if _, err := uuid.Parse(runID); err != nil {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// dates are stored as ISO text so both backends scan them the same way
func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format("2006-01-02"), Valid: true}
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
