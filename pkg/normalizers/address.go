package normalizers

import (
	"strings"
	"unicode"

	"github.com/Ramsey-B/clover/pkg/models"
)

var streetAbbreviations = map[string]string{
	"street": "st", "avenue": "ave", "av": "ave", "boulevard": "blvd", "drive": "dr",
	"road": "rd", "lane": "ln", "court": "ct", "circle": "cir", "place": "pl",
	"parkway": "pkwy", "highway": "hwy", "terrace": "ter", "trail": "trl",
	"square": "sq", "way": "way", "north": "n", "south": "s", "east": "e", "west": "w",
	"northeast": "ne", "northwest": "nw", "southeast": "se", "southwest": "sw",
}

// Words that end the street name in a single-line address
var streetSuffixes = map[string]struct{}{
	"st": {}, "ave": {}, "blvd": {}, "dr": {}, "rd": {}, "ln": {}, "ct": {}, "cir": {},
	"pl": {}, "pkwy": {}, "hwy": {}, "ter": {}, "trl": {}, "sq": {}, "way": {},
}

var unitMarkers = map[string]struct{}{
	"suite": {}, "ste": {}, "apt": {}, "apartment": {}, "unit": {}, "#": {},
	"floor": {}, "rm": {}, "room": {}, "bldg": {}, "building": {},
}

// ParseAddress parses "123 Main Street, Suite 200, Orlando, FL 32801" into
// street number, street, unit, city, state and zip, all lowercase. Addresses
// that do not start with a street number are returned unnormalized.
func ParseAddress(s string) models.NormalizedAddress {
	unparsed := models.NormalizedAddress{Raw: s}

	parts := splitAddress(s)
	if len(parts) == 0 {
		return unparsed
	}

	first := strings.Fields(parts[0])
	if len(first) < 2 || !startsWithDigit(first[0]) {
		return unparsed
	}

	addr := models.NormalizedAddress{Raw: s, Number: first[0], Normalized: true}

	var street []string
	rest := first[1:]
	for i, w := range rest {
		if _, ok := unitMarkers[w]; ok {
			addr.Unit = strings.Join(rest[i:], " ")
			rest = nil
			break
		}
		street = append(street, abbreviate(w))
	}

	parts = parts[1:]
	if len(parts) == 0 {
		// single line: street words run up to the last street suffix, the rest is city/state/zip
		cut := -1
		for i, w := range street {
			if _, ok := streetSuffixes[w]; ok && i > 0 {
				cut = i
			}
		}
		if cut >= 0 && cut < len(street)-1 {
			tail := street[cut+1:]
			street = street[:cut+1]
			addr.City, addr.State, addr.Zip = splitCityStateZip(tail)
		}
	}
	addr.Street = strings.Join(street, " ")
	if addr.Street == "" {
		return unparsed
	}

	for _, p := range parts {
		words := strings.Fields(p)
		if len(words) == 0 {
			continue
		}
		if _, ok := unitMarkers[words[0]]; ok {
			if addr.Unit == "" {
				addr.Unit = p
			}
			continue
		}
		city, state, zip := splitCityStateZip(words)
		if addr.City == "" && city != "" {
			addr.City = city
		}
		if state != "" {
			addr.State = state
		}
		if zip != "" {
			addr.Zip = zip
		}
	}
	return addr
}

func splitAddress(s string) []string {
	s = strings.ToLower(s)
	s = strings.NewReplacer(".", "", "#", " # ", "\n", ",", ";", ",").Replace(s)
	var parts []string
	for _, p := range strings.Split(s, ",") {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func abbreviate(w string) string {
	if a, ok := streetAbbreviations[w]; ok {
		return a
	}
	return w
}

func startsWithDigit(s string) bool {
	return s != "" && unicode.IsDigit(rune(s[0]))
}

func isZip(w string) bool {
	d := DigitsOnly(w)
	return (len(d) == 5 || len(d) == 9) && len(d) >= len(w)-1
}

func isState(w string) bool {
	if len(w) != 2 {
		return false
	}
	for _, r := range w {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

// splitCityStateZip peels a trailing zip and two-letter state off a word list
func splitCityStateZip(words []string) (city, state, zip string) {
	end := len(words)
	if end > 0 && isZip(words[end-1]) {
		zip = DigitsOnly(words[end-1])[:5]
		end--
	}
	if end > 0 && isState(words[end-1]) {
		state = words[end-1]
		end--
	}
	city = strings.Join(words[:end], " ")
	return city, state, zip
}
