package linkage

import "github.com/xrash/smetrics"

// Jaro-Winkler boost threshold and prefix length
const (
	boostThreshold = 0.7
	prefixSize     = 4
)

// AddressSimilarity scores two standardised addresses in [0,1]. An empty
// address never resembles anything.
func AddressSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	score := smetrics.JaroWinkler(a, b, boostThreshold, prefixSize)
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
