// Package linkage matches MCS installation addresses to EPC addresses within
// postcode blocks.
package linkage

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/nestauk/asf-core-data/internal/normalize"
)

// ErrInvalidConfig is returned for out-of-range linkage settings
var ErrInvalidConfig = eris.New("linkage: invalid config")

// DefaultMatchingParameter is the minimum address score a match needs
const DefaultMatchingParameter = 0.7

// Mode selects how many EPC records an MCS record may link to
type Mode int

const (
	// ModeBest keeps the first top-scoring candidate
	ModeBest Mode = iota
	// ModeAll keeps every candidate tied at the top score
	ModeAll
)

func (m Mode) String() string {
	switch m {
	case ModeAll:
		return "all"
	default:
		return "best"
	}
}

// ParseMode reads "best" or "all"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best":
		return ModeBest, nil
	case "all":
		return ModeAll, nil
	default:
		return ModeBest, eris.Wrapf(ErrInvalidConfig, "unknown mode %q", s)
	}
}

// Config holds the linkage knobs
type Config struct {
	MatchingParameter float64
	MaxTokenLength    int
	Mode              Mode
	Workers           int
}

// DefaultConfig returns the standard linkage settings
func DefaultConfig() Config {
	return Config{
		MatchingParameter: DefaultMatchingParameter,
		MaxTokenLength:    normalize.DefaultMaxTokenLength,
		Mode:              ModeBest,
		Workers:           1,
	}
}

// Validate rejects settings that would make linkage meaningless
func (c Config) Validate() error {
	if err := validateThreshold(c.MatchingParameter); err != nil {
		return err
	}
	if c.MaxTokenLength < 1 {
		return eris.Wrapf(ErrInvalidConfig, "max token length %d must be at least 1", c.MaxTokenLength)
	}
	if c.Mode != ModeBest && c.Mode != ModeAll {
		return eris.Wrapf(ErrInvalidConfig, "unknown mode %d", int(c.Mode))
	}
	if c.Workers < 0 {
		return eris.Wrapf(ErrInvalidConfig, "workers %d must not be negative", c.Workers)
	}
	return nil
}

func validateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return eris.Wrapf(ErrInvalidConfig, "matching parameter %v outside [0,1]", threshold)
	}
	return nil
}

// Pair is a blocked candidate, indices into the MCS and EPC inputs
type Pair struct {
	MCSIndex int
	EPCIndex int
}

// CandidatePair is a scored candidate
type CandidatePair struct {
	MCSIndex     int
	EPCIndex     int
	NumericMatch bool
	AddressScore float64
}

// Match is a retained candidate
type Match struct {
	MCSIndex     int
	EPCIndex     int
	AddressScore float64
}

// Result is the outcome of one linkage run
type Result struct {
	Matches    []Match
	Blocks     int
	Candidates int
	MCSRecords int
	EPCRecords int
}

// MatchedMCS counts distinct MCS records with at least one match
func (r *Result) MatchedMCS() int {
	seen := make(map[int]struct{}, len(r.Matches))
	for _, m := range r.Matches {
		seen[m.MCSIndex] = struct{}{}
	}
	return len(seen)
}

// ByMCS groups matches by MCS index, keeping candidate order
func (r *Result) ByMCS() map[int][]Match {
	out := make(map[int][]Match)
	for _, m := range r.Matches {
		out[m.MCSIndex] = append(out[m.MCSIndex], m)
	}
	return out
}
