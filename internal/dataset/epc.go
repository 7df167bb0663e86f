// Package dataset loads and cleans the EPC and MCS source tables.
package dataset

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nestauk/asf-core-data/internal/heating"
	"github.com/nestauk/asf-core-data/internal/normalize"
)

// EPCRecord is one EPC inspection. Values keeps every original column in
// header order so the reconciled output can carry them through.
type EPCRecord struct {
	Row                 int        `csv:"-"`
	UPRN                string     `csv:"UPRN"`
	LMKKey              string     `csv:"LMK_KEY"`
	Address1            string     `csv:"ADDRESS1"`
	Address2            string     `csv:"ADDRESS2"`
	Postcode            string     `csv:"POSTCODE"`
	InspectionDateRaw   string     `csv:"INSPECTION_DATE"`
	MainheatDescription string     `csv:"MAINHEAT_DESCRIPTION"`
	InspectionDate      *time.Time `csv:"-"`
	HeatingSystem       string     `csv:"-"`
	HPInstalled         bool       `csv:"-"`
	HPType              string     `csv:"-"`
	Values              []string   `csv:"-"`
}

// AddressLines returns the address fields used for matching
func (r EPCRecord) AddressLines() []string {
	return []string{r.Address1, r.Address2}
}

// HasUPRN reports whether the record carries a usable property id
func (r EPCRecord) HasUPRN() bool {
	return !normalize.IsMissing(r.UPRN)
}

// EPCTable is a loaded EPC extract
type EPCTable struct {
	Header  []string
	Records []EPCRecord
	Skipped int
}

// LoadEPCFile opens and decodes an EPC certificates CSV
func LoadEPCFile(path string) (*EPCTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open epc %s", path)
	}
	defer f.Close()

	table, err := LoadEPC(f)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: load epc %s", path)
	}
	return table, nil
}

// LoadEPC decodes an EPC CSV by header name. Rows with the wrong number of
// fields are skipped and counted rather than failing the load.
func LoadEPC(r io.Reader) (*EPCTable, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true

	dec, err := csvutil.NewDecoder(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("dataset: epc file is empty")
		}
		return nil, eris.Wrap(err, "dataset: read epc header")
	}

	table := &EPCTable{Header: append([]string(nil), dec.Header()...)}

	for {
		var rec EPCRecord
		err := dec.Decode(&rec)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, csvutil.ErrFieldCount) || errors.Is(err, csv.ErrFieldCount) {
				table.Skipped++
				continue
			}
			return nil, eris.Wrapf(err, "dataset: decode epc row %d", len(table.Records)+table.Skipped+1)
		}

		rec.Row = len(table.Records)
		rec.UPRN = cleanUPRN(rec.UPRN)
		rec.InspectionDate = parseDatePtr(rec.InspectionDateRaw)
		rec.Values = append([]string(nil), dec.Record()...)
		table.Records = append(table.Records, rec)
	}

	if table.Skipped > 0 {
		zap.L().Warn("dataset: skipped malformed epc rows", zap.Int("skipped", table.Skipped))
	}
	return table, nil
}

// Classify derives the heating system and heat pump flags of every record
func (t *EPCTable) Classify(c *heating.Classifier) {
	for i := range t.Records {
		res := c.Classify(t.Records[i].MainheatDescription)
		t.Records[i].HeatingSystem = res.Category
		t.Records[i].HPInstalled = res.HeatPump
		t.Records[i].HPType = res.HPType()
	}
}

// LatestPerProperty keeps the most recent inspection of every UPRN, ordered
// by input row. Records without a UPRN are all kept since they cannot be
// grouped.
func LatestPerProperty(records []EPCRecord) []EPCRecord {
	latest := make(map[string]int)
	var out []EPCRecord

	for _, rec := range records {
		if !rec.HasUPRN() {
			out = append(out, rec)
			continue
		}
		idx, seen := latest[rec.UPRN]
		if !seen {
			latest[rec.UPRN] = len(out)
			out = append(out, rec)
			continue
		}
		if newerOrEqual(rec.InspectionDate, out[idx].InspectionDate) {
			out[idx] = rec
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

// newerOrEqual orders dated records after undated ones; later input wins ties
func newerOrEqual(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b == nil
	case b == nil:
		return true
	default:
		return !a.Before(*b)
	}
}

// cleanUPRN strips the float formatting pandas exports give integer ids
func cleanUPRN(raw string) string {
	s := strings.TrimSpace(raw)
	if normalize.IsMissing(s) {
		return ""
	}
	return strings.TrimSuffix(s, ".0")
}
