package matching

import (
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0, 1]
func JaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}

	jaro := Jaro(a, b)

	prefixLen := 0
	for i := 0; i < len(a) && i < len(b) && i < 4; i++ {
		if a[i] != b[i] {
			break
		}
		prefixLen++
	}
	return jaro + float64(prefixLen)*0.1*(1.0-jaro)
}

// Jaro returns the Jaro similarity of a and b in [0, 1]
func Jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matchDist := max(len(a), len(b))/2 - 1
	if matchDist < 0 {
		matchDist = 0
	}

	aMatches := make([]bool, len(a))
	bMatches := make([]bool, len(b))
	matches := 0
	for i := 0; i < len(a); i++ {
		for j := max(0, i-matchDist); j < min(len(b), i+matchDist+1); j++ {
			if bMatches[j] || a[i] != b[j] {
				continue
			}
			aMatches[i], bMatches[j] = true, true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions := 0
	k := 0
	for i := 0; i < len(a); i++ {
		if !aMatches[i] {
			continue
		}
		for !bMatches[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	t := float64(transpositions) / 2
	return (m/float64(len(a)) + m/float64(len(b)) + (m-t)/m) / 3
}

// TokenSimilarity is an order-insensitive soft Dice coefficient: each token of
// a pairs with its most similar unused token of b, pairs below threshold count
// as zero.
func TokenSimilarity(a, b []string, threshold float64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	used := make([]bool, len(b))
	total := 0.0
	for _, ta := range a {
		best, bestIdx := 0.0, -1
		for j, tb := range b {
			if used[j] {
				continue
			}
			if sim := JaroWinkler(ta, tb); sim > best {
				best, bestIdx = sim, j
			}
		}
		if bestIdx >= 0 && best >= threshold {
			used[bestIdx] = true
			total += best
		}
	}
	return 2 * total / float64(len(a)+len(b))
}

// Jaccard returns |a ∩ b| / |a ∪ b| over string sets
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = false
	}
	union := len(set)
	inter := 0
	for _, v := range b {
		seen, ok := set[v]
		switch {
		case !ok:
			set[v] = true
			union++
		case !seen:
			set[v] = true
			inter++
		}
	}
	return float64(inter) / float64(union)
}

// Address similarity levels
const (
	AddressExact       = 1.0
	AddressCityMissing = 0.9
	AddressSameStreet  = 0.5
	AddressOtherCity   = 0.3
	AddressCityOnly    = 0.2
)

// AddressSimilarity compares two parsed addresses. Unparsed addresses only
// match on case-insensitive raw equality.
func AddressSimilarity(a, b models.NormalizedAddress) float64 {
	if !a.Normalized || !b.Normalized {
		if strings.EqualFold(strings.Join(strings.Fields(a.Raw), " "), strings.Join(strings.Fields(b.Raw), " ")) {
			return AddressExact
		}
		return 0
	}

	sameCity := a.City != "" && a.City == b.City
	cityMissing := a.City == "" || b.City == ""

	switch {
	case a.Number == b.Number && a.Street == b.Street && sameCity:
		return AddressExact
	case a.Number == b.Number && a.Street == b.Street && cityMissing:
		return AddressCityMissing
	case a.Number == b.Number && a.Street == b.Street:
		return AddressOtherCity
	case a.Street == b.Street && (sameCity || cityMissing):
		return AddressSameStreet
	case sameCity:
		return AddressCityOnly
	default:
		return 0
	}
}
