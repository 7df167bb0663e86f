//go:build !libpostal

package normalize

// ParserAvailable reports whether libpostal was compiled in
const ParserAvailable = false

// ParseComponents needs libpostal; build with -tags libpostal.
func ParseComponents(address string) (Components, error) {
	return nil, ErrParserUnavailable
}
