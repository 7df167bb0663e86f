// Package store persists linkage runs, their matches and the reconciled
// properties in Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned when a run or property does not exist
var ErrNotFound = eris.New("store: not found")

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunInput describes a run when it starts
type RunInput struct {
	EPCPath           string  `json:"epc_path"`
	MCSPath           string  `json:"mcs_path"`
	MatchingParameter float64 `json:"matching_parameter"`
	Mode              string  `json:"mode"`
}

// RunStats are the headline counts of a finished run
type RunStats struct {
	EPCRecords   int   `json:"epc_records"`
	MCSRecords   int   `json:"mcs_records"`
	Candidates   int   `json:"candidates"`
	Matches      int   `json:"matches"`
	MatchedMCS   int   `json:"matched_mcs"`
	Properties   int   `json:"properties"`
	WithHeatPump int   `json:"with_heat_pump"`
	MCSDated     int   `json:"mcs_dated"`
	Synthetic    int   `json:"synthetic"`
	Anomalies    int   `json:"anomalies"`
	DurationMS   int64 `json:"duration_ms"`
}

// Run is one persisted pipeline run
type Run struct {
	ID        string    `json:"id"`
	Status    RunStatus `json:"status"`
	Input     RunInput  `json:"input"`
	Stats     *RunStats `json:"stats,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MatchRecord is one linked MCS installation and EPC property
type MatchRecord struct {
	MCSRow       int     `json:"mcs_row"`
	EPCRow       int     `json:"epc_row"`
	UPRN         string  `json:"uprn"`
	MCSAddress   string  `json:"mcs_address"`
	EPCAddress   string  `json:"epc_address"`
	Postcode     string  `json:"postcode"`
	AddressScore float64 `json:"address_score"`
}

// PropertyRecord is the reconciled state of one property
type PropertyRecord struct {
	UPRN              string     `json:"uprn"`
	LMKKey            string     `json:"lmk_key"`
	InspectionDate    *time.Time `json:"inspection_date,omitempty"`
	HeatingSystem     string     `json:"heating_system"`
	HPInstalled       bool       `json:"hp_installed"`
	HPType            string     `json:"hp_type,omitempty"`
	InstallDate       *time.Time `json:"hp_install_date,omitempty"`
	InstallDateSource string     `json:"hp_install_date_source,omitempty"`
	MCSAvailable      bool       `json:"mcs_available"`
	HasHPAtSomePoint  bool       `json:"has_hp_at_some_point"`
	Synthetic         bool       `json:"artificially_dupl"`
	Anomaly           string     `json:"hp_anomaly,omitempty"`
	MCSTechType       string     `json:"mcs_tech_type,omitempty"`
	MCSCapacity       *float64   `json:"mcs_capacity,omitempty"`
	MCSCost           *float64   `json:"mcs_cost,omitempty"`
	MCSInstaller      string     `json:"mcs_installer,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status RunStatus `json:"status,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for linkage runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, input RunInput) (*Run, error)
	CompleteRun(ctx context.Context, runID string, stats RunStats) error
	FailRun(ctx context.Context, runID string, reason string) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)

	// Results
	SaveMatches(ctx context.Context, runID string, matches []MatchRecord) error
	SaveProperties(ctx context.Context, runID string, properties []PropertyRecord) error
	ListMatches(ctx context.Context, runID string) ([]MatchRecord, error)
	GetProperty(ctx context.Context, runID, uprn string) (*PropertyRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open picks the backend by driver name
func Open(ctx context.Context, driver, databaseURL string) (Store, error) {
	switch driver {
	case "postgres":
		st, err := NewPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := NewSQLite(databaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
