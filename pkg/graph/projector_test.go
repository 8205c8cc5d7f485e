package graph

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

type recordingWriter struct {
	batches [][]Statement
	err     error
}

func (w *recordingWriter) RunWrite(_ context.Context, statements []Statement) error {
	w.batches = append(w.batches, statements)
	return w.err
}

func nopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func testEntity() *models.CanonicalEntity {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.CanonicalEntity{
		ID:                    "e-1",
		EntityType:            models.EntityTypeCompany,
		CanonicalName:         "Acme Holdings LLC",
		Aliases:               []string{"Acme Holdings"},
		DefinitiveIdentifiers: map[string]string{models.IdentifierDocumentNumber: "L123"},
		FactAttributes: []models.FactAttribute{
			{Kind: models.FactOfficer, Value: "jane doe"},
			{Kind: models.FactOfficer, Value: "john roe"},
			{Kind: models.FactRegisteredAgent, Value: "registered agents inc"},
			{Kind: models.FactEmail, Value: "ops@acme.com"},
		},
		Active:     true,
		CreatedAt:  at,
		LastSeenAt: at,
	}
}

func TestStatements(t *testing.T) {
	st := Statements(testEntity())
	require.Len(t, st, 3)

	assert.Contains(t, st[0].Cypher, "e:Company")
	props := st[0].Params["props"].(map[string]any)
	assert.Equal(t, "Acme Holdings LLC", props["name"])
	assert.Equal(t, "L123", props["id_documentNumber"])

	// sorted by fact kind: officer, registeredAgent
	assert.Contains(t, st[1].Cypher, "MERGE (n:Person {value: value})")
	assert.Equal(t, []string{"jane doe", "john roe"}, st[1].Params["values"])
	assert.Contains(t, st[2].Cypher, "AGENT_FOR")
}

func TestProjectorSkipsEscalations(t *testing.T) {
	w := &recordingWriter{}
	p := NewProjector(w, nopLogger())

	require.NoError(t, p.OnResolved(context.Background(), &models.ResolutionDecision{ID: "d"}, nil))
	assert.Empty(t, w.batches)

	require.NoError(t, p.OnResolved(context.Background(), &models.ResolutionDecision{ID: "d"}, testEntity()))
	assert.Len(t, w.batches, 1)
}

func TestProjectorWrapsWriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("bolt: connection refused")}
	p := NewProjector(w, nopLogger())
	err := p.Project(context.Background(), testEntity())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "connection refused"))
}

func TestSanitizeLabel(t *testing.T) {
	tests := map[string]string{
		"company":      "Company",
		"person":       "Person",
		"gov`) DETACH": "GovDETACH",
		"":             "Unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeLabel(in), in)
	}
}

func TestClientRunWrite(t *testing.T) {
	host := os.Getenv("NEO4J_HOST")
	if host == "" {
		t.Skip("NEO4J_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("NEO4J_PORT"))
	if port == 0 {
		port = 7687
	}
	client, err := NewClient(Config{Host: host, Port: port, Username: os.Getenv("NEO4J_USER"), Password: os.Getenv("NEO4J_PASSWORD")}, nopLogger())
	require.NoError(t, err)
	defer client.Close(context.Background())

	require.NoError(t, NewProjector(client, nopLogger()).Project(context.Background(), testEntity()))
}
