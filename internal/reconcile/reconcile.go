package reconcile

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/nestauk/asf-core-data/internal/debug"
	"github.com/nestauk/asf-core-data/internal/normalize"
)

// MapMCSDatesToProperties returns the earliest commission date per UPRN.
// Installs without a UPRN or a date are ignored.
func MapMCSDatesToProperties(installs []MCSInstall) map[string]time.Time {
	dates := make(map[string]time.Time)
	for _, in := range installs {
		if normalize.IsMissing(in.UPRN) || in.CommissionDate == nil {
			continue
		}
		if current, ok := dates[in.UPRN]; !ok || in.CommissionDate.Before(current) {
			dates[in.UPRN] = *in.CommissionDate
		}
	}
	return dates
}

// Reconcile applies the install date rules to every property and keeps the
// latest row of each, in order of first appearance
func Reconcile(history []Inspection, mcsDates map[string]time.Time) []Row {
	return ReconcileDebug(false, history, mcsDates)
}

// ReconcileDebug is Reconcile with optional debug output
func ReconcileDebug(localDebug bool, history []Inspection, mcsDates map[string]time.Time) []Row {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	timelines := ReconcileHistoryDebug(localDebug, history, mcsDates)
	out := make([]Row, 0, len(timelines))
	for _, rows := range timelines {
		out = append(out, rows[len(rows)-1])
	}

	s := Summarise(out)
	zap.L().Info("reconcile: properties reconciled",
		zap.Int("properties", s.Properties),
		zap.Int("with_heat_pump", s.WithHeatPump),
		zap.Int("mcs_dated", s.MCSDated),
		zap.Int("epc_dated", s.EPCDated),
		zap.Int("synthetic", s.Synthetic),
		zap.Int("epc_before_mcs", s.EPCBeforeMCS),
		zap.Int("no_epc_after_mcs", s.NoEPCAfterMCS),
	)
	return out
}

// ReconcileHistory returns every reconciled row per property, each timeline
// ordered by date with equal dates in input order
func ReconcileHistory(history []Inspection, mcsDates map[string]time.Time) [][]Row {
	return ReconcileHistoryDebug(false, history, mcsDates)
}

// ReconcileHistoryDebug is ReconcileHistory with optional debug output
func ReconcileHistoryDebug(localDebug bool, history []Inspection, mcsDates map[string]time.Time) [][]Row {
	groups := make(map[string][]Row)
	var order []string
	dropped := 0

	for _, in := range history {
		if normalize.IsMissing(in.UPRN) || in.Date == nil {
			dropped++
			continue
		}
		if _, seen := groups[in.UPRN]; !seen {
			order = append(order, in.UPRN)
		}
		groups[in.UPRN] = append(groups[in.UPRN], Row{Inspection: in})
	}
	debug.DebugOutput(localDebug, "Grouped %d inspections into %d properties, dropped %d", len(history)-dropped, len(order), dropped)

	out := make([][]Row, 0, len(order))
	for _, uprn := range order {
		rows := groups[uprn]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(*rows[j].Date) })

		var mcs *time.Time
		if d, ok := mcsDates[uprn]; ok {
			mcs = &d
		}
		rows = reconcileProperty(rows, mcs)
		debug.DebugOutput(localDebug, "UPRN %s: %d rows, install %s (%s) %s", uprn, len(rows), rows[0].InstallDate, rows[0].InstallDate.Source, rows[0].Anomalies)
		out = append(out, rows)
	}
	return out
}

// reconcileProperty applies the decision table to one date-ordered timeline
func reconcileProperty(rows []Row, mcs *time.Time) []Row {
	first := firstHeatPump(rows)

	if mcs == nil {
		if first != nil {
			stamp(rows, installed(*first, SourceEPC), nil)
		}
		return rows
	}

	var anomalies Anomalies
	var cleared map[int]bool

	if first != nil && first.Before(*mcs) {
		anomalies = append(anomalies, AnomalyEPCBeforeMCS)
		cleared = make(map[int]bool)
		for i := range rows {
			if rows[i].HPInstalled && rows[i].Date.Before(*mcs) {
				rows[i].HPInstalled = false
				cleared[i] = true
			}
		}
		first = firstHeatPump(rows)
	}

	date := installed(*mcs, SourceMCS)

	switch {
	case first != nil:
		stamp(rows, date, cleared)

	case hasRowFrom(rows, *mcs):
		anomalies = append(anomalies, AnomalyNoEPCAfterMCS)
		for i := range rows {
			if !rows[i].Date.Before(*mcs) {
				rows[i].HPInstalled = true
			}
		}
		stamp(rows, date, cleared)

	default:
		latest := rows[len(rows)-1]
		synthetic := Row{
			Inspection:  latest.Inspection,
			InstallDate: date,
			Synthetic:   true,
		}
		synthetic.Date = date.Date
		synthetic.HPInstalled = true
		rows = append(rows, synthetic)
	}

	for i := range rows {
		rows[i].Anomalies = anomalies
	}
	return rows
}

// stamp sets the install date on every row except those cleared
func stamp(rows []Row, date InstallDate, cleared map[int]bool) {
	for i := range rows {
		if cleared[i] {
			continue
		}
		rows[i].InstallDate = date
	}
}

func firstHeatPump(rows []Row) *time.Time {
	for _, r := range rows {
		if r.HPInstalled {
			d := *r.Date
			return &d
		}
	}
	return nil
}

func hasRowFrom(rows []Row, from time.Time) bool {
	for _, r := range rows {
		if !r.Date.Before(from) {
			return true
		}
	}
	return false
}
