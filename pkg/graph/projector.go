package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Writer runs a batch of statements atomically. *Client implements it.
type Writer interface {
	RunWrite(ctx context.Context, statements []Statement) error
}

// Projector mirrors resolved entities and their shared attributes into the
// graph so analysts can walk officer, agent, address and phone links.
// Escalated decisions carry no entity and are ignored.
type Projector struct {
	writer Writer
	logger ectologger.Logger
}

func NewProjector(writer Writer, logger ectologger.Logger) *Projector {
	return &Projector{writer: writer, logger: logger}
}

// link describes how one fact kind becomes a node and an edge
type link struct {
	label string
	rel   string
}

var factLinks = map[string]link{
	models.FactOfficer:         {label: "Person", rel: "OFFICER_OF"},
	models.FactRegisteredAgent: {label: "Agent", rel: "AGENT_FOR"},
	models.FactAddress:         {label: "Address", rel: "LOCATED_AT"},
	models.FactPhone:           {label: "Phone", rel: "HAS_PHONE"},
	models.FactEmailDomain:     {label: "EmailDomain", rel: "USES_DOMAIN"},
}

func (p *Projector) OnResolved(ctx context.Context, _ *models.ResolutionDecision, entity *models.CanonicalEntity) error {
	if entity == nil {
		return nil
	}
	return p.Project(ctx, entity)
}

func (p *Projector) OnReviewResolved(ctx context.Context, _ *models.ReviewQueueEntry, entity *models.CanonicalEntity) error {
	if entity == nil {
		return nil
	}
	return p.Project(ctx, entity)
}

// Project upserts the entity node and its attribute links
func (p *Projector) Project(ctx context.Context, entity *models.CanonicalEntity) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.Project")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id":   entity.ID,
		"entity_type": entity.EntityType,
	})

	if err := p.writer.RunWrite(ctx, Statements(entity)); err != nil {
		tracing.RecordError(span, err)
		log.WithError(err).Error("Failed to project entity into graph")
		return fmt.Errorf("failed to project entity into graph: %w", err)
	}

	log.Debug("Projected entity into graph")
	return nil
}

// Statements builds the Cypher for one entity. Node MERGEs are keyed by id or
// normalized value so repeated projections are idempotent.
func Statements(entity *models.CanonicalEntity) []Statement {
	props := map[string]any{
		"id":           entity.ID,
		"name":         entity.CanonicalName,
		"entity_type":  string(entity.EntityType),
		"aliases":      append([]string{}, entity.Aliases...),
		"active":       entity.Active,
		"created_at":   entity.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		"last_seen_at": entity.LastSeenAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
	for kind, value := range entity.DefinitiveIdentifiers {
		props["id_"+sanitizeKey(kind)] = value
	}

	statements := []Statement{{
		Cypher: fmt.Sprintf(`
		MERGE (e:Entity {id: $id})
		SET e += $props, e:%s
	`, sanitizeLabel(string(entity.EntityType))),
		Params: map[string]any{"id": entity.ID, "props": props},
	}}

	kinds := make([]string, 0, len(factLinks))
	for kind := range factLinks {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		values := entity.Facts(kind)
		if len(values) == 0 {
			continue
		}
		l := factLinks[kind]
		statements = append(statements, Statement{
			Cypher: fmt.Sprintf(`
		MATCH (e:Entity {id: $id})
		UNWIND $values AS value
		MERGE (n:%s {value: value})
		MERGE (n)-[:%s]->(e)
	`, l.label, l.rel),
			Params: map[string]any{"id": entity.ID, "values": values},
		})
	}
	return statements
}

// sanitizeLabel keeps only characters valid in an unquoted label
func sanitizeLabel(label string) string {
	result := sanitizeKey(label)
	if result == "" {
		return "Unknown"
	}
	// labels read better capitalized: company -> Company
	if c := result[0]; c >= 'a' && c <= 'z' {
		result = string(c-'a'+'A') + result[1:]
	}
	return result
}

func sanitizeKey(s string) string {
	var out []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			out = append(out, c)
		}
	}
	return string(out)
}
