package normalize

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestComponents(t *testing.T) {
	c := Components{"road": "high street", "house_number": "12", "postcode": "ab1 2cd"}

	assert.Equal(t, "12", c.HouseNumber())
	assert.Equal(t, "AB12CD", c.Postcode())
	assert.Equal(t, "house_number=12 postcode=ab1 2cd road=high street", c.String())
	assert.Equal(t, "", Components{}.String())
}

func TestParseComponents_WithoutLibpostal(t *testing.T) {
	if ParserAvailable {
		t.Skip("built with libpostal")
	}
	_, err := ParseComponents("12 High Street, Leeds")
	assert.True(t, eris.Is(err, ErrParserUnavailable))
}
