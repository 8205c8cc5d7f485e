package normalizers

import (
	"sort"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Options adjusts record normalization
type Options struct {
	// IdentifierChains maps an identifier kind to the named normalizers
	// applied in place of NormalizeIdentifier
	IdentifierChains map[string][]string
}

// Identifier normalizes one definitive identifier value of the given kind
func (o Options) Identifier(kind, value string) string {
	if chain, ok := o.IdentifierChains[kind]; ok && len(chain) > 0 {
		return ApplyChain(value, chain...)
	}
	return NormalizeIdentifier(value)
}

// NormalizeRecord produces the comparable form of a candidate record.
// Duplicate values collapse; order of first appearance is kept.
func NormalizeRecord(r models.CandidateRecord) models.NormalizedRecord {
	return NormalizeRecordWith(r, Options{})
}

func NormalizeRecordWith(r models.CandidateRecord, opts Options) models.NormalizedRecord {
	entityType := r.EntityTypeHint
	if entityType == "" {
		entityType = models.EntityTypeUnknown
	}

	n := models.NormalizedRecord{
		EntityType: entityType,
		Source:     r.Context.Source,
	}

	if strings.TrimSpace(r.RawName) != "" {
		n.Name = NormalizeName(r.RawName)
		if n.Name.Normalized {
			n.NameTokens = NameTokens(n.Name.Value, entityType)
		}
	}

	seen := map[string]struct{}{}
	for _, raw := range r.Addresses {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		a := ParseAddress(raw)
		if _, ok := seen[a.Key()]; ok {
			continue
		}
		seen[a.Key()] = struct{}{}
		n.Addresses = append(n.Addresses, a)
	}

	n.Phones = normalizeValues(r.Phones, NormalizePhone)
	n.Emails = normalizeValues(r.Emails, NormalizeEmail)

	domains := map[string]struct{}{}
	for _, e := range n.Emails {
		if d := EmailDomain(e); d != "" {
			if _, ok := domains[d]; !ok {
				domains[d] = struct{}{}
				n.EmailDomains = append(n.EmailDomains, d)
			}
		}
	}

	if len(r.DefinitiveIdentifiers) > 0 {
		n.Identifiers = make(map[string]string, len(r.DefinitiveIdentifiers))
		for kind, value := range r.DefinitiveIdentifiers {
			kind = strings.TrimSpace(kind)
			if v := opts.Identifier(kind, value); kind != "" && v != "" {
				n.Identifiers[kind] = v
			}
		}
	}

	officers := map[string]struct{}{}
	for _, raw := range r.Officers {
		o := NormalizeName(raw)
		if !o.Normalized {
			continue
		}
		if _, ok := officers[o.Value]; !ok {
			officers[o.Value] = struct{}{}
			n.Officers = append(n.Officers, o.Value)
		}
	}

	if agent := NormalizeName(r.RegisteredAgent); agent.Normalized {
		n.Agent = agent.Value
	}

	return n
}

func normalizeValues(raw []string, fn func(string) models.NormalizedValue) []models.NormalizedValue {
	seen := map[string]struct{}{}
	var out []models.NormalizedValue
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		v := fn(r)
		if _, ok := seen[v.Value]; ok {
			continue
		}
		seen[v.Value] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SortedIdentifierKinds returns identifier kinds in a stable order
func SortedIdentifierKinds(ids map[string]string) []string {
	kinds := make([]string, 0, len(ids))
	for k := range ids {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
