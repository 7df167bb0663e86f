package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/nestauk/asf-core-data/internal/normalize"
)

// MCSRecord is one MCS heat pump installation
type MCSRecord struct {
	Row              int
	Address1         string
	Address2         string
	Address3         string
	Postcode         string
	CommissionDate   *time.Time
	UPRN             string
	TechType         string
	Capacity         *float64
	Cost             *float64
	InstallerName    string
	InstallationType string
	Values           []string
}

// AddressLines returns the address fields used for matching
func (r MCSRecord) AddressLines() []string {
	return []string{r.Address1, r.Address2, r.Address3}
}

// MCSTable is a loaded MCS installations extract
type MCSTable struct {
	Header  []string
	Records []MCSRecord
}

// MCS exports rename columns between releases; every alias is matched after
// header normalisation
var mcsColumns = map[string][]string{
	"address_1":       {"address_1", "address1", "address_line_1", "address_line1"},
	"address_2":       {"address_2", "address2", "address_line_2", "address_line2"},
	"address_3":       {"address_3", "address3", "address_line_3", "address_line3"},
	"postcode":        {"postcode", "post_code"},
	"commission_date": {"commission_date", "commissioning_date", "date_of_commissioning"},
	"uprn":            {"uprn"},
	"tech_type":       {"tech_type", "technology_type", "product_technology"},
	"capacity":        {"capacity", "installed_capacity", "installed_capacity_kw"},
	"cost":            {"cost", "installation_cost", "total_installation_cost"},
	"installer_name":  {"installer_name", "installation_company_name", "installer"},
	"install_type":    {"end_user_installation_type", "installation_type"},
}

var headerCleaner = regexp.MustCompile(`[^a-z0-9]+`)

func normaliseHeader(h string) string {
	return strings.Trim(headerCleaner.ReplaceAllString(strings.ToLower(strings.TrimSpace(h)), "_"), "_")
}

// columnIndex resolves the canonical MCS columns against a header row.
// Missing optional columns map to -1.
func columnIndex(header []string) (map[string]int, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := normaliseHeader(h)
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}

	index := make(map[string]int, len(mcsColumns))
	for canonical, aliases := range mcsColumns {
		index[canonical] = -1
		for _, alias := range aliases {
			if pos, ok := positions[alias]; ok {
				index[canonical] = pos
				break
			}
		}
	}

	for _, required := range []string{"address_1", "postcode", "commission_date"} {
		if index[required] < 0 {
			return nil, eris.Errorf("dataset: mcs header has no %s column", required)
		}
	}
	return index, nil
}

// LoadMCSFile picks the loader from the file extension
func LoadMCSFile(path, sheet string) (*MCSTable, error) {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xlsm") {
		return LoadMCSWorkbook(path, sheet)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open mcs %s", path)
	}
	defer f.Close()

	table, err := LoadMCSCSV(f)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: load mcs %s", path)
	}
	return table, nil
}

// LoadMCSCSV reads MCS installations from CSV
func LoadMCSCSV(r io.Reader) (*MCSTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read mcs csv")
	}
	return mcsFromRows(rows)
}

// LoadMCSWorkbook reads MCS installations from an Excel workbook. An empty
// sheet name selects the first sheet.
func LoadMCSWorkbook(path, sheet string) (*MCSTable, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open mcs workbook %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("dataset: workbook %s has no sheets", path)
	}

	s := f.Sheets[0]
	if sheet != "" {
		found, ok := f.Sheet[sheet]
		if !ok {
			return nil, eris.Errorf("dataset: workbook %s has no sheet %q", path, sheet)
		}
		s = found
	}

	rows := make([][]string, 0, len(s.Rows))
	for _, row := range s.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		values := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			if cell == nil {
				continue
			}
			// raw values so date cells arrive as Excel serials
			values[i] = strings.TrimSpace(cell.Value)
		}
		rows = append(rows, values)
	}

	table, err := mcsFromRows(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: load mcs workbook %s", path)
	}
	return table, nil
}

func mcsFromRows(rows [][]string) (*MCSTable, error) {
	if len(rows) == 0 {
		return nil, eris.New("dataset: mcs table is empty")
	}

	header := rows[0]
	index, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	table := &MCSTable{Header: append([]string(nil), header...)}
	undated := 0

	for _, values := range rows[1:] {
		if blankRow(values) {
			continue
		}
		get := func(column string) string {
			pos := index[column]
			if pos < 0 || pos >= len(values) {
				return ""
			}
			v := strings.TrimSpace(values[pos])
			if normalize.IsMissing(v) {
				return ""
			}
			return v
		}

		rec := MCSRecord{
			Row:              len(table.Records),
			Address1:         get("address_1"),
			Address2:         get("address_2"),
			Address3:         get("address_3"),
			Postcode:         get("postcode"),
			CommissionDate:   parseDatePtr(get("commission_date")),
			UPRN:             cleanUPRN(get("uprn")),
			TechType:         get("tech_type"),
			Capacity:         parseFloat(get("capacity")),
			Cost:             parseFloat(get("cost")),
			InstallerName:    get("installer_name"),
			InstallationType: get("install_type"),
			Values:           padRow(values, len(header)),
		}
		if rec.CommissionDate == nil {
			undated++
		}
		table.Records = append(table.Records, rec)
	}

	if undated > 0 {
		zap.L().Warn("dataset: mcs rows without a commission date", zap.Int("rows", undated))
	}
	return table, nil
}

func blankRow(values []string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func padRow(values []string, width int) []string {
	out := make([]string, width)
	copy(out, values)
	return out
}
