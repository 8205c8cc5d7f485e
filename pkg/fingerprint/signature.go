package fingerprint

import (
	"sort"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Signature returns the near-duplicate signature used to serialize entity
// creation. Two records describing the same emerging entity should share it.
// Preference order: comparison name tokens (order-insensitive), then the first
// normalized phone, then the first parsed address, then identifiers.
func Signature(n models.NormalizedRecord) string {
	switch {
	case len(n.NameTokens) > 0:
		tokens := append([]string(nil), n.NameTokens...)
		sort.Strings(tokens)
		return "name:" + Generate(map[string]any{"tokens": tokens, "type": string(entityClass(n.EntityType))})
	case firstPhone(n) != "":
		return "phone:" + Generate(map[string]any{"phone": firstPhone(n)})
	case firstAddress(n) != "":
		return "address:" + Generate(map[string]any{"address": firstAddress(n)})
	case len(n.Identifiers) > 0:
		ids := make(map[string]any, len(n.Identifiers))
		for k, v := range n.Identifiers {
			ids[k] = v
		}
		return "ids:" + Generate(ids)
	default:
		return "raw:" + Generate(map[string]any{"name": n.Name.Raw})
	}
}

// people and organizations never collide on a name signature
func entityClass(t models.EntityType) models.EntityType {
	if t == models.EntityTypePerson {
		return t
	}
	return models.EntityTypeCompany
}

func firstPhone(n models.NormalizedRecord) string {
	for _, p := range n.Phones {
		if p.Normalized {
			return p.Value
		}
	}
	return ""
}

func firstAddress(n models.NormalizedRecord) string {
	for _, a := range n.Addresses {
		if a.Normalized {
			return a.Key()
		}
	}
	return ""
}
