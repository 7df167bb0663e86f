package linkage

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nestauk/asf-core-data/internal/debug"
	"github.com/nestauk/asf-core-data/internal/normalize"
)

// Engine runs blocking, scoring and selection over prepared addresses
type Engine struct {
	config Config
}

// NewEngine validates the config and builds an engine
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Engine{config: config}, nil
}

// Config returns the settings the engine runs with
func (e *Engine) Config() Config {
	return e.config
}

// block is every MCS and EPC record sharing one standardised postcode
type block struct {
	postcode string
	mcs      []int
	epc      []int
}

// BlockCandidates pairs every MCS record with every EPC record of the same
// standardised postcode, MCS index ascending then EPC index ascending. The
// unknown postcode never blocks.
func BlockCandidates(mcs, epc []normalize.Address) []Pair {
	epcByPostcode := indexByPostcode(epc)

	var pairs []Pair
	for i, m := range mcs {
		if !blockable(m.Postcode) {
			continue
		}
		for _, j := range epcByPostcode[m.Postcode] {
			pairs = append(pairs, Pair{MCSIndex: i, EPCIndex: j})
		}
	}
	return pairs
}

// ScoreCandidates computes numeric token agreement and address similarity
// for each blocked pair
func ScoreCandidates(mcs, epc []normalize.Address, pairs []Pair) []CandidatePair {
	out := make([]CandidatePair, len(pairs))
	for i, p := range pairs {
		out[i] = score(mcs[p.MCSIndex], epc[p.EPCIndex], p)
	}
	return out
}

func score(m, e normalize.Address, p Pair) CandidatePair {
	return CandidatePair{
		MCSIndex:     p.MCSIndex,
		EPCIndex:     p.EPCIndex,
		NumericMatch: m.Tokens.Equal(e.Tokens),
		AddressScore: AddressSimilarity(m.Normalised, e.Normalised),
	}
}

// SelectMatches keeps candidates with agreeing numeric tokens and a score at
// or above the matching parameter, then per MCS record the top-scoring ones:
// all ties when allRecords is set, otherwise the first in candidate order.
// Output is MCS index ascending with candidate order inside each group.
func SelectMatches(candidates []CandidatePair, matchingParameter float64, allRecords bool) ([]Match, error) {
	if err := validateThreshold(matchingParameter); err != nil {
		return nil, err
	}

	groups := make(map[int][]CandidatePair)
	var order []int
	for _, c := range candidates {
		if !c.NumericMatch || c.AddressScore < matchingParameter {
			continue
		}
		if _, seen := groups[c.MCSIndex]; !seen {
			order = append(order, c.MCSIndex)
		}
		groups[c.MCSIndex] = append(groups[c.MCSIndex], c)
	}
	sort.Ints(order)

	var matches []Match
	for _, mcsIndex := range order {
		group := groups[mcsIndex]
		best := group[0].AddressScore
		for _, c := range group[1:] {
			if c.AddressScore > best {
				best = c.AddressScore
			}
		}
		for _, c := range group {
			if c.AddressScore != best {
				continue
			}
			matches = append(matches, Match{MCSIndex: c.MCSIndex, EPCIndex: c.EPCIndex, AddressScore: c.AddressScore})
			if !allRecords {
				break
			}
		}
	}
	return matches, nil
}

// Link runs the full linkage
func (e *Engine) Link(mcs, epc []normalize.Address) (*Result, error) {
	return e.LinkDebug(false, mcs, epc)
}

// LinkDebug runs block, score and select one postcode block at a time so the
// full candidate list is never held in memory. With more than one worker the
// blocks are scored concurrently; the result is identical to a sequential run.
func (e *Engine) LinkDebug(localDebug bool, mcs, epc []normalize.Address) (*Result, error) {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)
	start := time.Now()

	blocks := buildBlocks(mcs, epc)
	debug.DebugOutput(localDebug, "Built %d postcode blocks from %d MCS and %d EPC records", len(blocks), len(mcs), len(epc))

	type blockResult struct {
		matches    []Match
		candidates int
	}
	results := make([]blockResult, len(blocks))
	allRecords := e.config.Mode == ModeAll

	run := func(i int) error {
		b := blocks[i]
		candidates := make([]CandidatePair, 0, len(b.mcs)*len(b.epc))
		for _, m := range b.mcs {
			for _, j := range b.epc {
				candidates = append(candidates, score(mcs[m], epc[j], Pair{MCSIndex: m, EPCIndex: j}))
			}
		}
		matches, err := SelectMatches(candidates, e.config.MatchingParameter, allRecords)
		if err != nil {
			return eris.Wrapf(err, "linkage: block %s", b.postcode)
		}
		results[i] = blockResult{matches: matches, candidates: len(candidates)}
		return nil
	}

	if e.config.Workers > 1 {
		var g errgroup.Group
		g.SetLimit(e.config.Workers)
		for i := range blocks {
			i := i
			g.Go(func() error { return run(i) })
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i := range blocks {
			if err := run(i); err != nil {
				return nil, err
			}
		}
	}

	res := &Result{Blocks: len(blocks), MCSRecords: len(mcs), EPCRecords: len(epc)}
	for _, br := range results {
		res.Matches = append(res.Matches, br.matches...)
		res.Candidates += br.candidates
	}
	// an MCS record belongs to exactly one block, so a stable sort keeps
	// candidate order inside each group
	sort.SliceStable(res.Matches, func(i, j int) bool {
		return res.Matches[i].MCSIndex < res.Matches[j].MCSIndex
	})

	debug.DebugOutput(localDebug, "Scored %d candidates, kept %d matches", res.Candidates, len(res.Matches))
	zap.L().Info("linkage: run complete",
		zap.Int("mcs", len(mcs)),
		zap.Int("epc", len(epc)),
		zap.Int("blocks", res.Blocks),
		zap.Int("candidates", res.Candidates),
		zap.Int("matches", len(res.Matches)),
		zap.Int("matched_mcs", res.MatchedMCS()),
		zap.String("mode", e.config.Mode.String()),
		zap.Duration("took", time.Since(start)),
	)
	return res, nil
}

func blockable(postcode string) bool {
	return postcode != "" && postcode != normalize.UnknownPostcode
}

func indexByPostcode(addrs []normalize.Address) map[string][]int {
	index := make(map[string][]int)
	for i, a := range addrs {
		if !blockable(a.Postcode) {
			continue
		}
		index[a.Postcode] = append(index[a.Postcode], i)
	}
	return index
}

// buildBlocks groups records by postcode in order of first MCS appearance.
// Postcodes with no record on one side produce no block.
func buildBlocks(mcs, epc []normalize.Address) []block {
	epcByPostcode := indexByPostcode(epc)

	var blocks []block
	position := make(map[string]int)
	for i, m := range mcs {
		if !blockable(m.Postcode) {
			continue
		}
		epcIdx, ok := epcByPostcode[m.Postcode]
		if !ok {
			continue
		}
		pos, seen := position[m.Postcode]
		if !seen {
			pos = len(blocks)
			position[m.Postcode] = pos
			blocks = append(blocks, block{postcode: m.Postcode, epc: epcIdx})
		}
		blocks[pos].mcs = append(blocks[pos].mcs, i)
	}
	return blocks
}
