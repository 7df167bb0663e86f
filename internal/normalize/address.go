package normalize

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/nestauk/asf-core-data/internal/debug"
)

// UnknownPostcode is the standardised value of a missing postcode. It never
// takes part in blocking.
const UnknownPostcode = "UNKNOWN"

// DefaultMaxTokenLength bounds numeric tokens; longer runs are usually
// certificate or reference numbers pasted into an address line.
const DefaultMaxTokenLength = 8

// Textual placeholders that dataframe exports write for empty cells
var missingValues = map[string]bool{
	"":     true,
	"nan":  true,
	"nat":  true,
	"none": true,
	"null": true,
	"<na>": true,
}

// IsMissing reports whether a raw cell value should be treated as absent
func IsMissing(value string) bool {
	return missingValues[strings.ToLower(strings.TrimSpace(value))]
}

// Address is one address record with its derived comparison fields
type Address struct {
	SourceID    int
	Lines       []string
	RawPostcode string
	Postcode    string
	Normalised  string
	Tokens      TokenSet
}

// Prepare builds the standardised form of an address record
func Prepare(sourceID int, lines []string, postcode string, maxTokenLength int) Address {
	return PrepareDebug(false, sourceID, lines, postcode, maxTokenLength)
}

// PrepareDebug builds the standardised form of an address record with optional debug output
func PrepareDebug(localDebug bool, sourceID int, lines []string, postcode string, maxTokenLength int) Address {
	debug.DebugHeader(localDebug)
	defer debug.DebugFooter(localDebug)

	addr := Address{
		SourceID:    sourceID,
		Lines:       lines,
		RawPostcode: postcode,
		Postcode:    NormalizePostcode(postcode),
		Normalised:  NormalizeAddress(lines...),
	}
	addr.Tokens = ExtractNumericTokens(addr.Normalised, postcode, maxTokenLength)

	debug.DebugOutput(localDebug, "Input: %q postcode %q", lines, postcode)
	debug.DebugOutput(localDebug, "Standardised: %q postcode %s", addr.Normalised, addr.Postcode)
	debug.DebugOutput(localDebug, "Numeric tokens: %s", addr.Tokens)

	return addr
}

// NormalizeAddress lowercases each present line, turns slashes and hyphens
// into underscores, drops all other punctuation and joins the non-empty lines
// with a single space.
func NormalizeAddress(lines ...string) string {
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if IsMissing(line) {
			continue
		}
		// "None." only reads as a placeholder once its punctuation is gone
		if part := normalizeLine(line); !IsMissing(part) {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, " ")
}

func normalizeLine(line string) string {
	s := foldAccents(strings.ToLower(strings.TrimSpace(line)))

	b := strings.Builder{}
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '/' || r == '-':
			b.WriteRune('_')
		case r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// foldAccents strips combining marks so "Cafe" and "Café" compare equal.
// transform chains are stateful, so one is built per call.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// NormalizePostcode uppercases a postcode and removes all whitespace
func NormalizePostcode(postcode string) string {
	if IsMissing(postcode) {
		return UnknownPostcode
	}
	return strings.Join(strings.Fields(strings.ToUpper(postcode)), "")
}

// ExtractNumericTokens returns the short alphanumeric tokens of an address
// that contain a digit, excluding the postcode and its outward and inward
// halves.
func ExtractNumericTokens(address, postcode string, maxTokenLength int) TokenSet {
	if maxTokenLength <= 0 {
		maxTokenLength = DefaultMaxTokenLength
	}
	excluded := postcodeParts(postcode)

	tokens := TokenSet{}
	for _, tok := range wordRuns(strings.ToLower(address)) {
		if !hasDigit(tok) || utf8.RuneCountInString(tok) >= maxTokenLength || excluded[tok] {
			continue
		}
		tokens[tok] = struct{}{}
	}
	return tokens
}

// postcodeParts returns the lowercased full postcode and, when it is written
// with a space, its outward and inward halves. An unspaced postcode is never
// split, so "1aa" in "flat 1aa" survives a postcode of "A11AA".
func postcodeParts(postcode string) map[string]bool {
	parts := map[string]bool{}
	if IsMissing(postcode) {
		return parts
	}

	lower := strings.ToLower(strings.TrimSpace(postcode))
	fields := strings.Fields(lower)
	full := strings.Join(fields, "")
	parts[full] = true

	if len(fields) == 2 {
		parts[fields[0]] = true
		parts[fields[1]] = true
	}
	return parts
}

func wordRuns(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
}

func hasDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// TokenSet is an unordered set of numeric tokens
type TokenSet map[string]struct{}

// NewTokenSet builds a set from the given tokens
func NewTokenSet(tokens ...string) TokenSet {
	set := make(TokenSet, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Equal reports set equality; two empty sets are equal
func (ts TokenSet) Equal(other TokenSet) bool {
	if len(ts) != len(other) {
		return false
	}
	for tok := range ts {
		if _, ok := other[tok]; !ok {
			return false
		}
	}
	return true
}

// Sorted returns the tokens in lexical order
func (ts TokenSet) Sorted() []string {
	out := make([]string, 0, len(ts))
	for tok := range ts {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Key is a canonical string form, equal for equal sets
func (ts TokenSet) Key() string {
	return strings.Join(ts.Sorted(), " ")
}

func (ts TokenSet) String() string {
	return "{" + strings.Join(ts.Sorted(), ",") + "}"
}
