//go:build libpostal

package normalize

import (
	postal "github.com/openvenues/gopostal/parser"
)

// ParserAvailable reports whether libpostal was compiled in
const ParserAvailable = true

// ParseComponents splits a free-text address into libpostal components
// (house_number, road, city, postcode, ...). Repeated labels keep the first
// value.
func ParseComponents(address string) (Components, error) {
	if IsMissing(address) {
		return Components{}, nil
	}

	components := make(Components)
	for _, comp := range postal.ParseAddress(address) {
		if _, ok := components[comp.Label]; ok {
			continue
		}
		components[comp.Label] = comp.Value
	}
	return components, nil
}
