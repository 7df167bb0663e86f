package pipeline

import (
	"context"

	"github.com/nestauk/asf-core-data/internal/normalize"
	"github.com/nestauk/asf-core-data/internal/store"
)

// RunInput describes a run for the store
func RunInput(opts Options) store.RunInput {
	return store.RunInput{
		EPCPath:           opts.EPCPath,
		MCSPath:           opts.MCSPath,
		MatchingParameter: opts.Linkage.MatchingParameter,
		Mode:              opts.Linkage.Mode.String(),
	}
}

// RunStats flattens pipeline stats for the store
func RunStats(s Stats) store.RunStats {
	return store.RunStats{
		EPCRecords:   s.EPCRecords,
		MCSRecords:   s.MCSRecords,
		Candidates:   s.Candidates,
		Matches:      s.Matches,
		MatchedMCS:   s.MatchedMCS,
		Properties:   s.Reconcile.Properties,
		WithHeatPump: s.Reconcile.WithHeatPump,
		MCSDated:     s.Reconcile.MCSDated,
		Synthetic:    s.Reconcile.Synthetic,
		Anomalies:    s.Reconcile.EPCBeforeMCS + s.Reconcile.NoEPCAfterMCS,
		DurationMS:   s.Took.Milliseconds(),
	}
}

// MatchRecords converts links for the store
func MatchRecords(links []Link) []store.MatchRecord {
	out := make([]store.MatchRecord, len(links))
	for i, l := range links {
		out[i] = store.MatchRecord{
			MCSRow:       l.MCS.Row,
			EPCRow:       l.EPC.Row,
			UPRN:         l.EPC.UPRN,
			MCSAddress:   normalize.NormalizeAddress(l.MCS.AddressLines()...),
			EPCAddress:   normalize.NormalizeAddress(l.EPC.AddressLines()...),
			Postcode:     normalize.NormalizePostcode(l.EPC.Postcode),
			AddressScore: l.AddressScore,
		}
	}
	return out
}

// PropertyRecords converts reconciled properties for the store
func PropertyRecords(properties []Property) []store.PropertyRecord {
	out := make([]store.PropertyRecord, len(properties))
	for i, p := range properties {
		rec := store.PropertyRecord{
			UPRN:              p.Row.UPRN,
			LMKKey:            p.EPC.LMKKey,
			InspectionDate:    p.Row.Date,
			HeatingSystem:     p.EPC.HeatingSystem,
			HPInstalled:       p.Row.HPInstalled,
			HPType:            p.HPType(),
			InstallDate:       p.Row.InstallDate.Date,
			InstallDateSource: p.Row.InstallDate.Source.String(),
			MCSAvailable:      p.Row.InstallDate.MCSAvailable(),
			HasHPAtSomePoint:  p.Row.InstallDate.HasHeatPump(),
			Synthetic:         p.Row.Synthetic,
			Anomaly:           p.Row.Anomalies.String(),
		}
		if p.MCS != nil {
			rec.MCSTechType = p.MCS.TechType
			rec.MCSCapacity = p.MCS.Capacity
			rec.MCSCost = p.MCS.Cost
			rec.MCSInstaller = p.MCS.InstallerName
		}
		out[i] = rec
	}
	return out
}

// Persist records a run in the store. A failed pipeline is recorded as a
// failed run and its error returned unchanged.
func Persist(ctx context.Context, st store.Store, opts Options, run func() (*Output, error)) (*store.Run, *Output, error) {
	rec, err := st.CreateRun(ctx, RunInput(opts))
	if err != nil {
		return nil, nil, err
	}

	out, runErr := run()
	if runErr != nil {
		if err := st.FailRun(ctx, rec.ID, runErr.Error()); err != nil {
			return rec, nil, err
		}
		return rec, nil, runErr
	}

	if err := st.SaveMatches(ctx, rec.ID, MatchRecords(out.Linked.Links)); err != nil {
		return rec, out, err
	}
	if err := st.SaveProperties(ctx, rec.ID, PropertyRecords(out.Properties)); err != nil {
		return rec, out, err
	}
	if err := st.CompleteRun(ctx, rec.ID, RunStats(out.Stats)); err != nil {
		return rec, out, err
	}

	final, err := st.GetRun(ctx, rec.ID)
	if err != nil {
		return rec, out, err
	}
	return final, out, nil
}
