package normalizers

import (
	"testing"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		expected   string
		normalized bool
	}{
		{name: "uppercases and strips punctuation", input: "A.B.C. Development, L.L.C.", expected: "ABC DEVELOPMENT LLC", normalized: true},
		{name: "collapses whitespace", input: "  acme   roofing  ", expected: "ACME ROOFING", normalized: true},
		{name: "ampersand becomes AND", input: "Smith & Jones", expected: "SMITH AND JONES", normalized: true},
		{name: "hyphen separates words", input: "Jones-Smith Holdings", expected: "JONES SMITH HOLDINGS", normalized: true},
		{name: "punctuation only passes through", input: "--//..", expected: "--//..", normalized: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeName(tt.input)
			assert.Equal(t, tt.expected, got.Value)
			assert.Equal(t, tt.normalized, got.Normalized)
			assert.Equal(t, tt.input, got.Raw)
		})
	}
}

func TestNameTokens(t *testing.T) {
	assert.Equal(t, []string{"ABC", "DEVELOPMENT"}, NameTokens("ABC DEVELOPMENT LLC", models.EntityTypeCompany))
	assert.Equal(t, []string{"JOHN", "SMITH"}, NameTokens("JOHN SMITH JR", models.EntityTypePerson))
	assert.Equal(t, []string{"XYZ", "HOLDINGS"}, NameTokens("THE XYZ HOLDINGS INC", models.EntityTypeUnknown))
	assert.Equal(t, []string{"LLC"}, NameTokens("LLC", models.EntityTypeCompany), "a name of only designators keeps its tokens")
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		input      string
		expected   string
		normalized bool
	}{
		{input: "(407) 555-0100", expected: "4075550100", normalized: true},
		{input: "+1 407.555.0100", expected: "4075550100", normalized: true},
		{input: "555-0100", expected: "555-0100", normalized: false},
		{input: "ext. 12", expected: "ext. 12", normalized: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := NormalizePhone(tt.input)
			assert.Equal(t, tt.expected, got.Value)
			assert.Equal(t, tt.normalized, got.Normalized)
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	e := NormalizeEmail("  Info@ACME-Roofing.com ")
	assert.True(t, e.Normalized)
	assert.Equal(t, "info@acme-roofing.com", e.Value)
	assert.Equal(t, "acme-roofing.com", EmailDomain(e))

	bad := NormalizeEmail("not-an-email")
	assert.False(t, bad.Normalized)
	assert.Equal(t, "not-an-email", bad.Value)
	assert.Equal(t, "", EmailDomain(bad))
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected models.NormalizedAddress
	}{
		{
			name:  "comma separated with suite",
			input: "123 Main Street, Suite 200, Orlando, FL 32801",
			expected: models.NormalizedAddress{
				Raw: "123 Main Street, Suite 200, Orlando, FL 32801", Number: "123", Street: "main st",
				Unit: "suite 200", City: "orlando", State: "fl", Zip: "32801", Normalized: true,
			},
		},
		{
			name:  "single line",
			input: "123 Main St. Orlando FL 32801-1234",
			expected: models.NormalizedAddress{
				Raw: "123 Main St. Orlando FL 32801-1234", Number: "123", Street: "main st",
				City: "orlando", State: "fl", Zip: "32801", Normalized: true,
			},
		},
		{
			name:  "directional abbreviation",
			input: "9 North Orange Avenue, Winter Park",
			expected: models.NormalizedAddress{
				Raw: "9 North Orange Avenue, Winter Park", Number: "9", Street: "n orange ave",
				City: "winter park", Normalized: true,
			},
		},
		{
			name:     "po box is passed through",
			input:    "PO Box 77, Orlando FL",
			expected: models.NormalizedAddress{Raw: "PO Box 77, Orlando FL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseAddress(tt.input))
		})
	}
}

func TestParseAddress_KeyIgnoresFormatting(t *testing.T) {
	a := ParseAddress("123 Main Street, Orlando, FL")
	b := ParseAddress("123 MAIN ST., ORLANDO FL 32801")
	assert.Equal(t, "123 main st, orlando", a.Key())
	assert.Equal(t, a.Key(), b.Key())
}

func TestNormalizeRecord(t *testing.T) {
	r := models.CandidateRecord{
		RawName:               "ABC Development, LLC",
		Addresses:             []string{"123 Main Street, Orlando, FL", "123 MAIN ST, ORLANDO"},
		Phones:                []string{"(407) 555-0100", "407-555-0100"},
		Emails:                []string{"a@abc.com", "b@ABC.com"},
		DefinitiveIdentifiers: map[string]string{"documentNumber": " l-123 "},
		Officers:              []string{"Jane Doe", "JANE DOE"},
		RegisteredAgent:       "CT Corporation System",
		Context:               models.RecordContext{Source: "sunbiz"},
	}

	n := NormalizeRecord(r)
	assert.Equal(t, models.EntityTypeUnknown, n.EntityType)
	assert.Equal(t, "ABC DEVELOPMENT LLC", n.Name.Value)
	assert.Equal(t, []string{"ABC", "DEVELOPMENT"}, n.NameTokens)
	assert.Len(t, n.Addresses, 1)
	assert.Len(t, n.Phones, 1)
	assert.Len(t, n.Emails, 2)
	assert.Equal(t, []string{"abc.com"}, n.EmailDomains)
	assert.Equal(t, map[string]string{"documentNumber": "L123"}, n.Identifiers)
	assert.Equal(t, []string{"JANE DOE"}, n.Officers)
	assert.Equal(t, "CT CORPORATION SYSTEM", n.Agent)
	assert.Equal(t, "sunbiz", n.Source)
}

func TestApplyChain(t *testing.T) {
	assert.Equal(t, "4075550100", ApplyChain(" (407) 555-0100 ", "trim", "nphone"))
	assert.Equal(t, "abc", ApplyChain("ABC", "unknown", "lowercase"))
}

func TestValidateChain(t *testing.T) {
	assert.NoError(t, ValidateChain("trim", "digits_only"))
	assert.EqualError(t, ValidateChain("trim", "rot13"), `unknown normalizer "rot13"`)
}

func TestNormalizeRecordWithIdentifierChain(t *testing.T) {
	r := models.CandidateRecord{DefinitiveIdentifiers: map[string]string{
		"parcelId":       "12-34-56 A",
		"documentNumber": "l-123 45",
	}}
	opts := Options{IdentifierChains: map[string][]string{"parcelId": {"digits_only"}}}

	n := NormalizeRecordWith(r, opts)
	assert.Equal(t, "123456", n.Identifiers["parcelId"])
	assert.Equal(t, "L12345", n.Identifiers["documentNumber"])
	assert.Equal(t, "", opts.Identifier("parcelId", "N/A"))
}
