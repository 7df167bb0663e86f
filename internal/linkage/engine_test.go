package linkage

import (
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestauk/asf-core-data/internal/normalize"
)

func addr(id int, postcode string, lines ...string) normalize.Address {
	return normalize.Prepare(id, lines, postcode, normalize.DefaultMaxTokenLength)
}

func TestAddressSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, AddressSimilarity("flat 3 12 high street", "flat 3 12 high street"))
	assert.Equal(t, 0.0, AddressSimilarity("", "flat 3"))
	assert.Equal(t, 0.0, AddressSimilarity("flat 3", ""))

	close := AddressSimilarity("12 high street", "12 high st")
	far := AddressSimilarity("12 high street", "rose cottage")
	assert.Greater(t, close, 0.9)
	assert.Less(t, far, close)
	assert.GreaterOrEqual(t, far, 0.0)
}

func TestBlockCandidates(t *testing.T) {
	mcs := []normalize.Address{
		addr(0, "AB1 2CD", "1 High St"),
		addr(1, "", "2 High St"),
		addr(2, "ab12cd", "3 High St"),
		addr(3, "ZZ9 9ZZ", "4 High St"),
	}
	epc := []normalize.Address{
		addr(0, "AB1 2CD", "3 High St"),
		addr(1, "nan", "2 High St"),
		addr(2, "XY1 1XY", "4 High St"),
		addr(3, "AB12CD", "1 High St"),
	}

	pairs := BlockCandidates(mcs, epc)
	assert.Equal(t, []Pair{
		{MCSIndex: 0, EPCIndex: 0},
		{MCSIndex: 0, EPCIndex: 3},
		{MCSIndex: 2, EPCIndex: 0},
		{MCSIndex: 2, EPCIndex: 3},
	}, pairs)

	for _, p := range pairs {
		assert.Equal(t, mcs[p.MCSIndex].Postcode, epc[p.EPCIndex].Postcode)
		assert.NotEqual(t, normalize.UnknownPostcode, mcs[p.MCSIndex].Postcode)
	}
}

func TestExactMatchScenario(t *testing.T) {
	mcs := []normalize.Address{addr(0, "AB1 2CD", "Flat 3", "12 High Street")}
	epc := []normalize.Address{addr(0, "AB1 2CD", "Flat 3", "12 High Street")}

	scored := ScoreCandidates(mcs, epc, BlockCandidates(mcs, epc))
	require.Len(t, scored, 1)
	assert.True(t, scored[0].NumericMatch)
	assert.Equal(t, 1.0, scored[0].AddressScore)

	matches, err := SelectMatches(scored, DefaultMatchingParameter, false)
	require.NoError(t, err)
	assert.Equal(t, []Match{{MCSIndex: 0, EPCIndex: 0, AddressScore: 1.0}}, matches)
}

func TestNumericMismatchExcluded(t *testing.T) {
	mcs := []normalize.Address{addr(0, "AB1 2CD", "Flat 4", "12 High Street")}
	epc := []normalize.Address{addr(0, "AB1 2CD", "Flat 3", "12 High Street")}

	scored := ScoreCandidates(mcs, epc, BlockCandidates(mcs, epc))
	require.Len(t, scored, 1)
	assert.False(t, scored[0].NumericMatch)
	assert.Greater(t, scored[0].AddressScore, DefaultMatchingParameter)

	matches, err := SelectMatches(scored, DefaultMatchingParameter, true)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSelectMatches(t *testing.T) {
	candidates := []CandidatePair{
		{MCSIndex: 2, EPCIndex: 5, NumericMatch: true, AddressScore: 0.9},
		{MCSIndex: 0, EPCIndex: 1, NumericMatch: true, AddressScore: 0.8},
		{MCSIndex: 0, EPCIndex: 2, NumericMatch: true, AddressScore: 0.95},
		{MCSIndex: 0, EPCIndex: 3, NumericMatch: true, AddressScore: 0.95},
		{MCSIndex: 0, EPCIndex: 4, NumericMatch: false, AddressScore: 0.99},
		{MCSIndex: 1, EPCIndex: 1, NumericMatch: true, AddressScore: 0.69},
		{MCSIndex: 2, EPCIndex: 6, NumericMatch: true, AddressScore: 0.7},
	}

	tests := []struct {
		name       string
		threshold  float64
		allRecords bool
		want       []Match
	}{
		{
			name:      "best only keeps first tie",
			threshold: 0.7,
			want: []Match{
				{MCSIndex: 0, EPCIndex: 2, AddressScore: 0.95},
				{MCSIndex: 2, EPCIndex: 5, AddressScore: 0.9},
			},
		},
		{
			name:       "all records keeps every tie",
			threshold:  0.7,
			allRecords: true,
			want: []Match{
				{MCSIndex: 0, EPCIndex: 2, AddressScore: 0.95},
				{MCSIndex: 0, EPCIndex: 3, AddressScore: 0.95},
				{MCSIndex: 2, EPCIndex: 5, AddressScore: 0.9},
			},
		},
		{
			name:      "threshold is inclusive",
			threshold: 0.9,
			want: []Match{
				{MCSIndex: 0, EPCIndex: 2, AddressScore: 0.95},
				{MCSIndex: 2, EPCIndex: 5, AddressScore: 0.9},
			},
		},
		{
			name:      "nothing clears a high threshold",
			threshold: 1.0,
			want:      nil,
		},
		{
			name:      "zero threshold still needs numeric agreement",
			threshold: 0,
			want: []Match{
				{MCSIndex: 0, EPCIndex: 2, AddressScore: 0.95},
				{MCSIndex: 1, EPCIndex: 1, AddressScore: 0.69},
				{MCSIndex: 2, EPCIndex: 5, AddressScore: 0.9},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectMatches(candidates, tt.threshold, tt.allRecords)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := SelectMatches(candidates, tt.threshold, tt.allRecords)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestSelectMatchesRejectsBadThreshold(t *testing.T) {
	for _, threshold := range []float64{-0.1, 1.01} {
		_, err := SelectMatches(nil, threshold, false)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrInvalidConfig))
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"threshold above one", func(c *Config) { c.MatchingParameter = 1.5 }, true},
		{"negative threshold", func(c *Config) { c.MatchingParameter = -1 }, true},
		{"zero token length", func(c *Config) { c.MaxTokenLength = 0 }, true},
		{"unknown mode", func(c *Config) { c.Mode = Mode(7) }, true},
		{"negative workers", func(c *Config) { c.Workers = -2 }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := NewEngine(cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, eris.Is(err, ErrInvalidConfig))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("ALL")
	require.NoError(t, err)
	assert.Equal(t, ModeAll, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBest, m)
	assert.Equal(t, "best", m.String())

	_, err = ParseMode("some")
	assert.True(t, eris.Is(err, ErrInvalidConfig))
}

func syntheticAddresses() (mcs, epc []normalize.Address) {
	streets := []string{"High Street", "Mill Lane", "Church Road"}
	postcodes := []string{"AB1 2CD", "EF3 4GH", "IJ5 6KL", "MN7 8OP"}

	for i := 0; i < 40; i++ {
		pc := postcodes[i%len(postcodes)]
		street := streets[i%len(streets)]
		epc = append(epc, addr(len(epc), pc, fmt.Sprintf("%d %s", i, street)))
		if i%5 == 0 {
			// duplicate EPC address to exercise ties
			epc = append(epc, addr(len(epc), pc, fmt.Sprintf("%d %s", i, street)))
		}
		if i%2 == 0 {
			mcs = append(mcs, addr(len(mcs), pc, fmt.Sprintf("%d %s", i, street)))
		}
		if i%7 == 0 {
			mcs = append(mcs, addr(len(mcs), pc, fmt.Sprintf("%d %s", i+100, street)))
		}
	}
	mcs = append(mcs, addr(len(mcs), "", "1 High Street"))
	return mcs, epc
}

func TestLinkMatchesDirectPipeline(t *testing.T) {
	mcs, epc := syntheticAddresses()

	for _, mode := range []Mode{ModeBest, ModeAll} {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Mode = mode
			engine, err := NewEngine(cfg)
			require.NoError(t, err)

			res, err := engine.Link(mcs, epc)
			require.NoError(t, err)

			scored := ScoreCandidates(mcs, epc, BlockCandidates(mcs, epc))
			want, err := SelectMatches(scored, cfg.MatchingParameter, mode == ModeAll)
			require.NoError(t, err)

			assert.Equal(t, want, res.Matches)
			assert.Equal(t, len(scored), res.Candidates)
			assert.Equal(t, len(mcs), res.MCSRecords)
			assert.NotEmpty(t, res.Matches)

			for _, m := range res.Matches {
				assert.Equal(t, mcs[m.MCSIndex].Postcode, epc[m.EPCIndex].Postcode)
				assert.True(t, mcs[m.MCSIndex].Tokens.Equal(epc[m.EPCIndex].Tokens))
				assert.GreaterOrEqual(t, m.AddressScore, cfg.MatchingParameter)
			}
		})
	}
}

func TestLinkWorkersMatchSequential(t *testing.T) {
	mcs, epc := syntheticAddresses()

	seqCfg := DefaultConfig()
	seqCfg.Mode = ModeAll
	seq, err := NewEngine(seqCfg)
	require.NoError(t, err)

	parCfg := seqCfg
	parCfg.Workers = 4
	par, err := NewEngine(parCfg)
	require.NoError(t, err)

	want, err := seq.Link(mcs, epc)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		got, err := par.Link(mcs, epc)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestLinkTiesBestVersusAll(t *testing.T) {
	mcs := []normalize.Address{addr(0, "AB1 2CD", "7 Mill Lane")}
	epc := []normalize.Address{
		addr(0, "AB1 2CD", "7 Mill Lane"),
		addr(1, "AB1 2CD", "8 Mill Lane"),
		addr(2, "AB1 2CD", "7 Mill Lane"),
	}

	best, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	res, err := best.Link(mcs, epc)
	require.NoError(t, err)
	assert.Equal(t, []Match{{MCSIndex: 0, EPCIndex: 0, AddressScore: 1}}, res.Matches)
	assert.Equal(t, 1, res.MatchedMCS())

	cfg := DefaultConfig()
	cfg.Mode = ModeAll
	all, err := NewEngine(cfg)
	require.NoError(t, err)
	res, err = all.Link(mcs, epc)
	require.NoError(t, err)
	assert.Equal(t, []Match{
		{MCSIndex: 0, EPCIndex: 0, AddressScore: 1},
		{MCSIndex: 0, EPCIndex: 2, AddressScore: 1},
	}, res.Matches)
	assert.Len(t, res.ByMCS()[0], 2)
	assert.Equal(t, 1, res.MatchedMCS())
}

func TestLinkEmptyInputs(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)

	res, err := engine.Link(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	assert.Zero(t, res.Blocks)
}
