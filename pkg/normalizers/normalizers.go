// Package normalizers canonicalizes raw record fields into comparable forms.
// Every function is pure. Input that cannot be parsed is passed through with
// Normalized=false instead of failing.
package normalizers

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Normalizer is a function that normalizes a string value
type Normalizer func(string) string

// registry holds named normalizers so scoring profiles can reference chains by name
var registry = make(map[string]Normalizer)

func init() {
	Register("uppercase", strings.ToUpper)
	Register("lowercase", strings.ToLower)
	Register("trim", strings.TrimSpace)
	Register("nname", func(s string) string { return NormalizeName(s).Value })
	Register("nphone", func(s string) string { return NormalizePhone(s).Value })
	Register("nemail", func(s string) string { return NormalizeEmail(s).Value })
	Register("naddress", func(s string) string { return ParseAddress(s).Key() })
	Register("nidentifier", NormalizeIdentifier)
	Register("digits_only", DigitsOnly)
}

// Register adds a normalizer to the registry
func Register(name string, fn Normalizer) {
	registry[name] = fn
}

// Get retrieves a normalizer by name
func Get(name string) (Normalizer, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// ValidateChain fails on the first name missing from the registry
func ValidateChain(names ...string) error {
	for _, name := range names {
		if _, ok := Get(name); !ok {
			return fmt.Errorf("unknown normalizer %q", name)
		}
	}
	return nil
}

// ApplyChain applies named normalizers in sequence. Unknown names are skipped.
func ApplyChain(value string, names ...string) string {
	for _, name := range names {
		if fn, ok := registry[name]; ok {
			value = fn(value)
		}
	}
	return value
}

// Legal designators dropped from company names before comparison
var designators = map[string]struct{}{
	"LLC": {}, "INC": {}, "CORP": {}, "CORPORATION": {}, "CO": {}, "COMPANY": {},
	"LTD": {}, "LP": {}, "LLP": {}, "PLLC": {}, "PA": {}, "PC": {}, "INCORPORATED": {},
	"LIMITED": {}, "THE": {},
}

// Generational and professional suffixes dropped from person names
var personSuffixes = map[string]struct{}{
	"JR": {}, "SR": {}, "II": {}, "III": {}, "IV": {}, "PHD": {}, "MD": {}, "DDS": {}, "ESQ": {},
}

// NormalizeName uppercases and strips punctuation. '&' becomes AND, hyphens
// and slashes separate words.
func NormalizeName(s string) models.NormalizedValue {
	raw := s
	var b strings.Builder
	prevSpace := true
	hasAlnum := false
	space := func() {
		if !prevSpace {
			b.WriteRune(' ')
			prevSpace = true
		}
	}
	for _, r := range strings.ToUpper(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevSpace = false
			hasAlnum = true
		case r == '&':
			space()
			b.WriteString("AND")
			prevSpace = false
			space()
		case unicode.IsSpace(r) || r == '-' || r == '/' || r == '_':
			space()
		}
	}
	if !hasAlnum {
		return models.NormalizedValue{Value: raw, Raw: raw, Normalized: false}
	}
	return models.NormalizedValue{Value: strings.TrimSpace(b.String()), Raw: raw, Normalized: true}
}

// NameTokens splits a normalized name into comparison tokens, dropping legal
// designators for organizations and suffixes for people. A name made only of
// dropped words keeps its original tokens.
func NameTokens(normalized string, entityType models.EntityType) []string {
	all := strings.Fields(normalized)
	tokens := make([]string, 0, len(all))
	for _, t := range all {
		if _, ok := designators[t]; ok && entityType != models.EntityTypePerson {
			continue
		}
		if _, ok := personSuffixes[t]; ok && entityType != models.EntityTypeCompany {
			continue
		}
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		return all
	}
	return tokens
}

// NormalizePhone keeps digits and drops a leading US country code. Anything
// that is not a 10 digit number is passed through unnormalized.
func NormalizePhone(s string) models.NormalizedValue {
	digits := DigitsOnly(s)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return models.NormalizedValue{Value: s, Raw: s, Normalized: false}
	}
	return models.NormalizedValue{Value: digits, Raw: s, Normalized: true}
}

// NormalizeEmail lowercases and trims. Addresses without a dotted domain are
// passed through unnormalized.
func NormalizeEmail(s string) models.NormalizedValue {
	email := strings.ToLower(strings.TrimSpace(s))
	at := strings.LastIndex(email, "@")
	if at <= 0 || strings.Count(email, "@") != 1 || !strings.Contains(email[at+1:], ".") {
		return models.NormalizedValue{Value: s, Raw: s, Normalized: false}
	}
	return models.NormalizedValue{Value: email, Raw: s, Normalized: true}
}

// EmailDomain returns the domain of a normalized email, or "" when unknown
func EmailDomain(email models.NormalizedValue) string {
	if !email.Normalized {
		return ""
	}
	return email.Value[strings.LastIndex(email.Value, "@")+1:]
}

// NormalizeIdentifier uppercases and removes separators so "l-123 45" == "L12345"
func NormalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DigitsOnly keeps only digit characters
func DigitsOnly(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
