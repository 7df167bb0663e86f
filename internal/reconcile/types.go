// Package reconcile derives one heat pump installation date per property
// from its EPC history and any linked MCS installations.
package reconcile

import (
	"strings"
	"time"
)

// Source records where an install date came from
type Source int

const (
	SourceNone Source = iota
	SourceEPC
	SourceMCS
)

func (s Source) String() string {
	switch s {
	case SourceEPC:
		return "EPC"
	case SourceMCS:
		return "MCS"
	default:
		return ""
	}
}

// InstallDate is a real date with its provenance, or absent. The derived
// flags are methods so they can never disagree with the date.
type InstallDate struct {
	Date   *time.Time
	Source Source
}

// MCSAvailable reports whether the date comes from an MCS certificate
func (d InstallDate) MCSAvailable() bool {
	return d.Date != nil && d.Source == SourceMCS
}

// HasHeatPump reports whether the property had a heat pump at some point
func (d InstallDate) HasHeatPump() bool {
	return d.Date != nil
}

// String is the ISO date, empty when absent
func (d InstallDate) String() string {
	if d.Date == nil {
		return ""
	}
	return d.Date.Format("2006-01-02")
}

func installed(date time.Time, source Source) InstallDate {
	return InstallDate{Date: &date, Source: source}
}

// Anomaly tags properties where EPC and MCS disagree
type Anomaly string

const (
	// AnomalyEPCBeforeMCS: an EPC showed a heat pump before the MCS install
	AnomalyEPCBeforeMCS Anomaly = "EPC_HP_BEFORE_MCS"
	// AnomalyNoEPCAfterMCS: EPCs after the MCS install show no heat pump
	AnomalyNoEPCAfterMCS Anomaly = "NO_EPC_HP_AFTER_MCS"
)

// Anomalies is the set of tags raised for one property, in the order raised
type Anomalies []Anomaly

func (a Anomalies) String() string {
	parts := make([]string, len(a))
	for i, x := range a {
		parts[i] = string(x)
	}
	return strings.Join(parts, ";")
}

// Has reports whether a tag was raised
func (a Anomalies) Has(tag Anomaly) bool {
	for _, x := range a {
		if x == tag {
			return true
		}
	}
	return false
}

// Inspection is one dated EPC observation of a property. Ref points back to
// the caller's record.
type Inspection struct {
	UPRN        string
	Date        *time.Time
	HPInstalled bool
	Ref         int
}

// MCSInstall is one MCS certificate resolved to a property
type MCSInstall struct {
	UPRN           string
	CommissionDate *time.Time
	Ref            int
}

// Row is a reconciled inspection. A synthetic row copies the latest real
// inspection (same Ref) and is dated at the MCS install.
type Row struct {
	Inspection
	InstallDate InstallDate
	Synthetic   bool
	Anomalies   Anomalies
}

// Summary counts reconciliation outcomes across properties
type Summary struct {
	Properties         int
	WithHeatPump       int
	MCSDated           int
	EPCDated           int
	Synthetic          int
	EPCBeforeMCS       int
	NoEPCAfterMCS      int
	HPInstalledCurrent int
}

// Summarise counts outcomes over one row per property
func Summarise(rows []Row) Summary {
	s := Summary{Properties: len(rows)}
	for _, r := range rows {
		if r.InstallDate.HasHeatPump() {
			s.WithHeatPump++
		}
		switch r.InstallDate.Source {
		case SourceMCS:
			s.MCSDated++
		case SourceEPC:
			s.EPCDated++
		}
		if r.Synthetic {
			s.Synthetic++
		}
		if r.Anomalies.Has(AnomalyEPCBeforeMCS) {
			s.EPCBeforeMCS++
		}
		if r.Anomalies.Has(AnomalyNoEPCAfterMCS) {
			s.NoEPCAfterMCS++
		}
		if r.HPInstalled {
			s.HPInstalledCurrent++
		}
	}
	return s
}
