// Package pipeline runs the load, link and reconcile stages end to end.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nestauk/asf-core-data/internal/dataset"
	"github.com/nestauk/asf-core-data/internal/debug"
	"github.com/nestauk/asf-core-data/internal/heating"
	"github.com/nestauk/asf-core-data/internal/linkage"
	"github.com/nestauk/asf-core-data/internal/normalize"
	"github.com/nestauk/asf-core-data/internal/reconcile"
)

// Options configures one pipeline run
type Options struct {
	EPCPath    string
	MCSPath    string
	MCSSheet   string
	Linkage    linkage.Config
	Classifier *heating.Classifier
}

// Inputs are the loaded and cleaned source tables
type Inputs struct {
	EPC        *dataset.EPCTable
	MCS        *dataset.MCSTable
	CleanStats dataset.CleanStats
}

// Link ties one MCS installation to the property it was matched to
type Link struct {
	MCS          dataset.MCSRecord
	EPC          dataset.EPCRecord
	AddressScore float64
}

// Linked is the outcome of the linkage stage
type Linked struct {
	Representatives []dataset.EPCRecord
	Result          *linkage.Result
	Links           []Link
	Installs        []reconcile.MCSInstall
}

// Property is one reconciled property with its source EPC record and the
// MCS installation its date came from, if any
type Property struct {
	Row reconcile.Row
	EPC dataset.EPCRecord
	MCS *dataset.MCSRecord
}

// GenericHPType is the heat pump type of a row with no recorded subtype
const GenericHPType = "heat pump"

// HPType is the heat pump subtype of the reconciled row. A row reconciled to
// a heat pump without an EPC subtype takes the linked MCS tech type; a row
// reconciled to no heat pump has none.
func (p Property) HPType() string {
	if !p.Row.HPInstalled {
		return ""
	}
	if p.EPC.HPType != "" {
		return p.EPC.HPType
	}
	if p.MCS != nil && p.MCS.TechType != "" {
		return p.MCS.TechType
	}
	return GenericHPType
}

// Stats summarises a run
type Stats struct {
	EPCRecords      int
	MCSRecords      int
	Representatives int
	Blocks          int
	Candidates      int
	Matches         int
	MatchedMCS      int
	MCSWithUPRN     int
	Reconcile       reconcile.Summary
	Took            time.Duration
}

// Output is everything a run produced
type Output struct {
	Inputs     *Inputs
	Linked     *Linked
	MCSDates   map[string]time.Time
	Properties []Property
	Stats      Stats
}

// Load reads the EPC and MCS tables concurrently, classifies EPC heating
// and cleans the MCS installations
func Load(ctx context.Context, opts Options) (*Inputs, error) {
	var (
		epc *dataset.EPCTable
		mcs *dataset.MCSTable
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := dataset.LoadEPCFile(opts.EPCPath)
		if err != nil {
			return err
		}
		epc = t
		return ctx.Err()
	})
	g.Go(func() error {
		t, err := dataset.LoadMCSFile(opts.MCSPath, opts.MCSSheet)
		if err != nil {
			return err
		}
		mcs = t
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "pipeline: load inputs")
	}

	classifier := opts.Classifier
	if classifier == nil {
		classifier = heating.Default()
	}
	epc.Classify(classifier)

	cleaned, stats := dataset.CleanMCS(mcs)
	zap.L().Info("pipeline: inputs loaded",
		zap.Int("epc_records", len(epc.Records)),
		zap.Int("mcs_records", len(cleaned.Records)),
	)
	return &Inputs{EPC: epc, MCS: cleaned, CleanStats: stats}, nil
}

// LinkInputs matches MCS installations against the latest EPC record of each
// property and resolves a UPRN for every matched installation. An MCS record
// with its own UPRN keeps it; in all-ties mode an installation may resolve to
// several properties.
func LinkInputs(localDebug bool, in *Inputs, cfg linkage.Config) (*Linked, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	engine, err := linkage.NewEngine(cfg)
	if err != nil {
		return nil, err
	}

	var reps []dataset.EPCRecord
	for _, rec := range dataset.LatestPerProperty(in.EPC.Records) {
		if rec.HasUPRN() {
			reps = append(reps, rec)
		}
	}

	mcsAddrs := make([]normalize.Address, len(in.MCS.Records))
	for i, rec := range in.MCS.Records {
		mcsAddrs[i] = normalize.Prepare(i, rec.AddressLines(), rec.Postcode, cfg.MaxTokenLength)
	}
	epcAddrs := make([]normalize.Address, len(reps))
	for i, rec := range reps {
		epcAddrs[i] = normalize.Prepare(i, rec.AddressLines(), rec.Postcode, cfg.MaxTokenLength)
	}
	debug.DebugOutput(localDebug, "Prepared %d MCS and %d EPC addresses", len(mcsAddrs), len(epcAddrs))

	result, err := engine.LinkDebug(localDebug, mcsAddrs, epcAddrs)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: link")
	}

	linked := &Linked{Representatives: reps, Result: result}
	byMCS := result.ByMCS()

	for i, rec := range in.MCS.Records {
		matches := byMCS[i]
		for _, m := range matches {
			linked.Links = append(linked.Links, Link{
				MCS:          rec,
				EPC:          reps[m.EPCIndex],
				AddressScore: m.AddressScore,
			})
		}

		switch {
		case rec.UPRN != "":
			linked.Installs = append(linked.Installs, reconcile.MCSInstall{UPRN: rec.UPRN, CommissionDate: rec.CommissionDate, Ref: rec.Row})
		default:
			for _, m := range matches {
				linked.Installs = append(linked.Installs, reconcile.MCSInstall{UPRN: reps[m.EPCIndex].UPRN, CommissionDate: rec.CommissionDate, Ref: rec.Row})
			}
		}
	}

	debug.DebugOutput(localDebug, "Resolved %d MCS installs to properties", len(linked.Installs))
	return linked, nil
}

// ReconcileInputs builds the EPC history, applies the install date rules and
// attaches the earliest MCS installation of each property
func ReconcileInputs(localDebug bool, in *Inputs, linked *Linked) (map[string]time.Time, []Property) {
	mcsDates := reconcile.MapMCSDatesToProperties(linked.Installs)

	history := make([]reconcile.Inspection, len(in.EPC.Records))
	for i, rec := range in.EPC.Records {
		history[i] = reconcile.Inspection{
			UPRN:        rec.UPRN,
			Date:        rec.InspectionDate,
			HPInstalled: rec.HPInstalled,
			Ref:         rec.Row,
		}
	}

	rows := reconcile.ReconcileDebug(localDebug, history, mcsDates)
	earliest := earliestInstalls(linked.Installs)

	properties := make([]Property, len(rows))
	for i, row := range rows {
		p := Property{Row: row, EPC: in.EPC.Records[row.Ref]}
		if ref, ok := earliest[row.UPRN]; ok {
			mcs := in.MCS.Records[ref]
			p.MCS = &mcs
		}
		properties[i] = p
	}
	return mcsDates, properties
}

// earliestInstalls maps each UPRN to the MCS row with its earliest
// commission date, first seen on ties
func earliestInstalls(installs []reconcile.MCSInstall) map[string]int {
	refs := make(map[string]int)
	dates := make(map[string]time.Time)
	for _, in := range installs {
		if in.UPRN == "" || in.CommissionDate == nil {
			continue
		}
		if d, ok := dates[in.UPRN]; !ok || in.CommissionDate.Before(d) {
			dates[in.UPRN] = *in.CommissionDate
			refs[in.UPRN] = in.Ref
		}
	}
	return refs
}

// Run executes every stage
func Run(ctx context.Context, localDebug bool, opts Options) (*Output, error) {
	defer debug.DebugTiming(localDebug, "pipeline run")()
	start := time.Now()

	in, err := Load(ctx, opts)
	if err != nil {
		return nil, err
	}
	return RunInputs(localDebug, in, opts.Linkage, start)
}

// RunInputs links and reconciles already loaded inputs
func RunInputs(localDebug bool, in *Inputs, cfg linkage.Config, start time.Time) (*Output, error) {
	linked, err := LinkInputs(localDebug, in, cfg)
	if err != nil {
		return nil, err
	}

	mcsDates, properties := ReconcileInputs(localDebug, in, linked)

	rows := make([]reconcile.Row, len(properties))
	for i, p := range properties {
		rows[i] = p.Row
	}

	out := &Output{
		Inputs:     in,
		Linked:     linked,
		MCSDates:   mcsDates,
		Properties: properties,
		Stats: Stats{
			EPCRecords:      len(in.EPC.Records),
			MCSRecords:      len(in.MCS.Records),
			Representatives: len(linked.Representatives),
			Blocks:          linked.Result.Blocks,
			Candidates:      linked.Result.Candidates,
			Matches:         len(linked.Result.Matches),
			MatchedMCS:      linked.Result.MatchedMCS(),
			MCSWithUPRN:     len(mcsDates),
			Reconcile:       reconcile.Summarise(rows),
			Took:            time.Since(start),
		},
	}

	zap.L().Info("pipeline: run complete",
		zap.Int("properties", len(properties)),
		zap.Int("matched_mcs", out.Stats.MatchedMCS),
		zap.Int("mcs_properties", out.Stats.MCSWithUPRN),
		zap.Duration("took", out.Stats.Took),
	)
	return out, nil
}
