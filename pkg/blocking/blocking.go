// Package blocking derives the attribute index keys shared by the registry
// (when indexing entities) and the candidate retriever (when probing).
package blocking

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// KindNameToken indexes the first significant token of every known name
const KindNameToken = "nameToken"

// BlockingKinds are probed by the candidate retriever
var BlockingKinds = []string{KindNameToken, models.FactPhone, models.FactAddress}

// FactKinds are indexed from fact attributes and eligible for distinctiveness tracking
var FactKinds = []string{
	models.FactAddress,
	models.FactPhone,
	models.FactEmailDomain,
	models.FactRegisteredAgent,
	models.FactOfficer,
}

const minNameTokenLength = 2

// NameKey returns the name-token key for a normalized name, if it has one
func NameKey(normalizedName string, entityType models.EntityType) (models.AttributeKey, bool) {
	tokens := normalizers.NameTokens(normalizedName, entityType)
	if len(tokens) == 0 || len(tokens[0]) < minNameTokenLength {
		return models.AttributeKey{}, false
	}
	return models.AttributeKey{Kind: KindNameToken, Value: tokens[0]}, true
}

// KeysForRecord returns the blocking keys probed for a record. Unparsed
// addresses and phones are not used for blocking.
func KeysForRecord(n models.NormalizedRecord) []models.AttributeKey {
	var keys []models.AttributeKey
	if len(n.NameTokens) > 0 && len(n.NameTokens[0]) >= minNameTokenLength {
		keys = append(keys, models.AttributeKey{Kind: KindNameToken, Value: n.NameTokens[0]})
	}
	for _, p := range n.Phones {
		if p.Normalized {
			keys = append(keys, models.AttributeKey{Kind: models.FactPhone, Value: p.Value})
		}
	}
	for _, a := range n.Addresses {
		if a.Normalized {
			keys = append(keys, models.AttributeKey{Kind: models.FactAddress, Value: a.Key()})
		}
	}
	return dedupe(keys)
}

// IndexKeys returns every attribute index row for an entity
func IndexKeys(e *models.CanonicalEntity) []models.AttributeKey {
	var keys []models.AttributeKey
	for _, name := range e.Names() {
		if k, ok := NameKey(name, e.EntityType); ok {
			keys = append(keys, k)
		}
	}
	for _, kind := range FactKinds {
		for _, v := range e.Facts(kind) {
			keys = append(keys, models.AttributeKey{Kind: kind, Value: v})
		}
	}
	return dedupe(keys)
}

func dedupe(keys []models.AttributeKey) []models.AttributeKey {
	seen := make(map[models.AttributeKey]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Value < out[j].Value
	})
	return out
}
