package dataset

import (
	"strings"

	"go.uber.org/zap"
)

// CleanStats counts what CleanMCS removed
type CleanStats struct {
	Input       int
	NonDomestic int
	Duplicates  int
	NotHeatPump int
	Output      int
}

// CleanMCS keeps domestic heat pump installations, drops exact duplicate
// rows and canonicalises technology types. Row indices are renumbered so
// they stay dense after filtering.
func CleanMCS(table *MCSTable) (*MCSTable, CleanStats) {
	stats := CleanStats{Input: len(table.Records)}
	out := &MCSTable{Header: table.Header}
	seen := make(map[string]struct{}, len(table.Records))

	for _, rec := range table.Records {
		if rec.InstallationType != "" && !isDomestic(rec.InstallationType) {
			stats.NonDomestic++
			continue
		}
		if rec.TechType != "" && !strings.Contains(strings.ToLower(rec.TechType), "heat pump") {
			stats.NotHeatPump++
			continue
		}

		key := strings.Join(rec.Values, "\x1f")
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}

		rec.TechType = NormaliseTechType(rec.TechType)
		rec.Row = len(out.Records)
		out.Records = append(out.Records, rec)
	}

	stats.Output = len(out.Records)
	zap.L().Info("dataset: cleaned mcs installations",
		zap.Int("input", stats.Input),
		zap.Int("non_domestic", stats.NonDomestic),
		zap.Int("not_heat_pump", stats.NotHeatPump),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("output", stats.Output),
	)
	return out, stats
}

func isDomestic(installationType string) bool {
	t := strings.ToLower(installationType)
	return strings.Contains(t, "domestic") && !strings.Contains(t, "non-domestic") && !strings.Contains(t, "non domestic")
}

// NormaliseTechType maps MCS technology labels onto the heat pump types
// used for EPC descriptions
func NormaliseTechType(raw string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case t == "":
		return ""
	case strings.Contains(t, "exhaust air"):
		return "exhaust air heat pump"
	case strings.Contains(t, "air source"):
		return "air source heat pump"
	case strings.Contains(t, "ground/water"), strings.Contains(t, "ground source"):
		return "ground source heat pump"
	case strings.Contains(t, "water source"):
		return "water source heat pump"
	case strings.Contains(t, "hybrid"):
		return "hybrid heat pump"
	default:
		return t
	}
}
