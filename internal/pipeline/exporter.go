package pipeline

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Output file names inside the output directory
const (
	MatchesFile    = "mcs_epc_matches.csv"
	PropertiesFile = "epc_hp_install_dates.csv"
)

// Columns appended to the original EPC columns
var propertyColumns = []string{
	"HEATING_SYSTEM",
	"HP_TYPE",
	"HP_INSTALLED",
	"HP_INSTALL_DATE",
	"HP_INSTALL_DATE_SOURCE",
	"MCS_AVAILABLE",
	"HAS_HP_AT_SOME_POINT",
	"ARTIFICIALLY_DUPL",
	"HP_ANOMALY",
	"MCS_TECH_TYPE",
	"MCS_CAPACITY",
	"MCS_COST",
	"MCS_INSTALLER",
}

// MatchRow is one line of the matches export
type MatchRow struct {
	MCSRow         int     `csv:"mcs_row"`
	MCSAddress1    string  `csv:"mcs_address_1"`
	MCSAddress2    string  `csv:"mcs_address_2"`
	MCSPostcode    string  `csv:"mcs_postcode"`
	CommissionDate string  `csv:"commission_date"`
	EPCRow         int     `csv:"epc_row"`
	UPRN           string  `csv:"UPRN"`
	EPCAddress1    string  `csv:"epc_address_1"`
	EPCAddress2    string  `csv:"epc_address_2"`
	EPCPostcode    string  `csv:"epc_postcode"`
	AddressScore   float64 `csv:"address_score"`
}

// MatchRows flattens links into export rows
func MatchRows(links []Link) []MatchRow {
	rows := make([]MatchRow, len(links))
	for i, l := range links {
		rows[i] = MatchRow{
			MCSRow:         l.MCS.Row,
			MCSAddress1:    l.MCS.Address1,
			MCSAddress2:    l.MCS.Address2,
			MCSPostcode:    l.MCS.Postcode,
			CommissionDate: formatDate(l.MCS.CommissionDate),
			EPCRow:         l.EPC.Row,
			UPRN:           l.EPC.UPRN,
			EPCAddress1:    l.EPC.Address1,
			EPCAddress2:    l.EPC.Address2,
			EPCPostcode:    l.EPC.Postcode,
			AddressScore:   l.AddressScore,
		}
	}
	return rows
}

// WriteMatches writes the linked pairs as CSV
func WriteMatches(w io.Writer, links []Link) error {
	writer := csv.NewWriter(w)
	enc := csvutil.NewEncoder(writer)

	if err := enc.EncodeHeader(MatchRow{}); err != nil {
		return eris.Wrap(err, "pipeline: write match header")
	}
	for _, row := range MatchRows(links) {
		if err := enc.Encode(row); err != nil {
			return eris.Wrapf(err, "pipeline: write match for mcs row %d", row.MCSRow)
		}
	}

	writer.Flush()
	return eris.Wrap(writer.Error(), "pipeline: flush matches")
}

// PropertyHeader is the original EPC header followed by the derived columns
func PropertyHeader(epcHeader []string) []string {
	header := make([]string, 0, len(epcHeader)+len(propertyColumns))
	header = append(header, epcHeader...)
	return append(header, propertyColumns...)
}

// PropertyRecord renders one reconciled property in PropertyHeader order.
// A synthetic row carries its own inspection date.
func PropertyRecord(epcHeader []string, p Property) []string {
	values := make([]string, len(epcHeader))
	copy(values, p.EPC.Values)

	if p.Row.Synthetic {
		for i, col := range epcHeader {
			if col == "INSPECTION_DATE" {
				values[i] = formatDate(p.Row.Date)
			}
		}
	}

	var techType, capacity, cost, installer string
	if p.MCS != nil {
		techType = p.MCS.TechType
		capacity = formatFloat(p.MCS.Capacity)
		cost = formatFloat(p.MCS.Cost)
		installer = p.MCS.InstallerName
	}

	return append(values,
		p.EPC.HeatingSystem,
		p.HPType(),
		strconv.FormatBool(p.Row.HPInstalled),
		p.Row.InstallDate.String(),
		p.Row.InstallDate.Source.String(),
		strconv.FormatBool(p.Row.InstallDate.MCSAvailable()),
		strconv.FormatBool(p.Row.InstallDate.HasHeatPump()),
		strconv.FormatBool(p.Row.Synthetic),
		p.Row.Anomalies.String(),
		techType,
		capacity,
		cost,
		installer,
	)
}

// WriteProperties writes one reconciled row per property as CSV
func WriteProperties(w io.Writer, epcHeader []string, properties []Property) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(PropertyHeader(epcHeader)); err != nil {
		return eris.Wrap(err, "pipeline: write property header")
	}
	for _, p := range properties {
		if err := writer.Write(PropertyRecord(epcHeader, p)); err != nil {
			return eris.Wrapf(err, "pipeline: write property %s", p.Row.UPRN)
		}
	}

	writer.Flush()
	return eris.Wrap(writer.Error(), "pipeline: flush properties")
}

// Export writes the matches and properties files into dir
func Export(dir string, out *Output) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "pipeline: create output directory %s", dir)
	}

	if err := writeFile(filepath.Join(dir, MatchesFile), func(w io.Writer) error {
		return WriteMatches(w, out.Linked.Links)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(dir, PropertiesFile), func(w io.Writer) error {
		return WriteProperties(w, out.Inputs.EPC.Header, out.Properties)
	}); err != nil {
		return err
	}

	zap.L().Info("pipeline: exported",
		zap.String("dir", dir),
		zap.Int("matches", len(out.Linked.Links)),
		zap.Int("properties", len(out.Properties)),
	)
	return nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "pipeline: create %s", path)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "pipeline: close %s", path)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
