package models

// EntityType classifies the real-world thing a record describes
type EntityType string

const (
	EntityTypePerson     EntityType = "person"
	EntityTypeCompany    EntityType = "company"
	EntityTypeGovernment EntityType = "government"
	EntityTypeUnknown    EntityType = "unknown"
)

// Identifier kinds with a well-known meaning. Any other kind is accepted and
// scored as a secondary identifier unless configured as deterministic.
const (
	IdentifierDocumentNumber = "documentNumber"
	IdentifierTaxID          = "taxId"
	IdentifierParcelID       = "parcelId"
)

// RecordContext describes where a candidate record was observed
type RecordContext struct {
	Source     string `json:"source,omitempty" validate:"omitempty,max=128"`
	Market     string `json:"market,omitempty" validate:"omitempty,max=128"`
	ExternalID string `json:"external_id,omitempty" validate:"omitempty,max=256"`
}

// CandidateRecord is a bag of observed attributes about one entity. It is
// never mutated after submission.
type CandidateRecord struct {
	EntityTypeHint        EntityType        `json:"entity_type_hint,omitempty" validate:"omitempty,oneof=person company government unknown"`
	RawName               string            `json:"raw_name,omitempty" validate:"max=512"`
	Addresses             []string          `json:"addresses,omitempty" validate:"max=50,dive,max=512"`
	Phones                []string          `json:"phones,omitempty" validate:"max=50,dive,max=64"`
	Emails                []string          `json:"emails,omitempty" validate:"max=50,dive,max=320"`
	DefinitiveIdentifiers map[string]string `json:"definitive_identifiers,omitempty" validate:"max=20,dive,keys,required,max=64,endkeys,required,max=128"`
	Officers              []string          `json:"officers,omitempty" validate:"max=100,dive,max=256"`
	RegisteredAgent       string            `json:"registered_agent,omitempty" validate:"max=512"`
	Context               RecordContext     `json:"context"`
}

// NormalizedAddress is a structurally parsed address. When Normalized is
// false only Raw is meaningful.
type NormalizedAddress struct {
	Raw        string `json:"raw"`
	Number     string `json:"number,omitempty"`
	Street     string `json:"street,omitempty"`
	Unit       string `json:"unit,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	Zip        string `json:"zip,omitempty"`
	Normalized bool   `json:"normalized"`
}

// Key is the comparable form of the address used for indexing and equality
func (a NormalizedAddress) Key() string {
	if !a.Normalized {
		return a.Raw
	}
	key := a.Number + " " + a.Street
	if a.City != "" {
		key += ", " + a.City
	}
	return key
}

// NormalizedValue is a canonicalized scalar with its raw source
type NormalizedValue struct {
	Value      string `json:"value"`
	Raw        string `json:"raw"`
	Normalized bool   `json:"normalized"`
}

// NormalizedRecord is the comparable form of a CandidateRecord. It is the
// snapshot stored as candidate features on decisions and queue entries.
type NormalizedRecord struct {
	EntityType   EntityType          `json:"entity_type"`
	Name         NormalizedValue     `json:"name"`
	NameTokens   []string            `json:"name_tokens,omitempty"`
	Addresses    []NormalizedAddress `json:"addresses,omitempty"`
	Phones       []NormalizedValue   `json:"phones,omitempty"`
	Emails       []NormalizedValue   `json:"emails,omitempty"`
	EmailDomains []string            `json:"email_domains,omitempty"`
	Identifiers  map[string]string   `json:"identifiers,omitempty"`
	Officers     []string            `json:"officers,omitempty"`
	Agent        string              `json:"registered_agent,omitempty"`
	Source       string              `json:"source,omitempty"`
}
