package dataset

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nestauk/asf-core-data/internal/normalize"
)

// Layouts seen in EPC exports, MCS workbooks and hand-edited CSVs. Day-first
// forms come before month-first ones since both sources are British.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05.000000",
	"02/01/2006",
	"2/1/2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"02/01/06",
	"2/1/06",
	"02-01-2006",
	"02.01.2006",
	"2 January 2006",
	"2 Jan 2006",
}

// Excel serial day zero for the 1900 date system
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Serials below 10000 (before 1927-05-18) are bare years or counts, not dates
const (
	minExcelSerial = 10000
	maxExcelSerial = 2958466
)

// ParseDate converts a raw cell into a calendar date in UTC
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if normalize.IsMissing(s) {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return truncateDay(t), true
		}
	}

	if serial, err := strconv.ParseFloat(s, 64); err == nil && serial >= minExcelSerial && serial < maxExcelSerial {
		days := math.Floor(serial)
		return excelEpoch.AddDate(0, 0, int(days)), true
	}

	return time.Time{}, false
}

// parseDatePtr is ParseDate for optional fields
func parseDatePtr(raw string) *time.Time {
	t, ok := ParseDate(raw)
	if !ok {
		return nil
	}
	return &t
}

// parseFloat safely converts a cell to a float pointer, ignoring currency
// symbols and thousands separators
func parseFloat(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if normalize.IsMissing(s) {
		return nil
	}
	s = strings.NewReplacer("£", "", ",", "", " ", "").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
