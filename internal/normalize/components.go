package normalize

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrParserUnavailable is returned when the binary was built without libpostal
var ErrParserUnavailable = eris.New("normalize: address parser not compiled in")

// Components maps libpostal labels to their values
type Components map[string]string

// HouseNumber is the parsed house or flat number, if any
func (c Components) HouseNumber() string {
	return c["house_number"]
}

// Postcode is the parsed postcode, standardised
func (c Components) Postcode() string {
	return NormalizePostcode(c["postcode"])
}

// String renders components as sorted label=value pairs
func (c Components) String() string {
	labels := make([]string, 0, len(c))
	for label := range c {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	parts := make([]string, 0, len(labels))
	for _, label := range labels {
		parts = append(parts, label+"="+c[label])
	}
	return strings.Join(parts, " ")
}
