package matching

import (
	"context"
	"errors"
	"testing"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/Ramsey-B/clover/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingIndex struct{}

func (failingIndex) FindByIdentifier(context.Context, string, string) (*models.CanonicalEntity, error) {
	return nil, errors.New("connection refused")
}

func (failingIndex) FindByBlockingKey(context.Context, models.AttributeKey, int) ([]string, error) {
	return nil, errors.New("connection refused")
}

func (failingIndex) GetEntities(context.Context, []string) ([]*models.CanonicalEntity, error) {
	return nil, errors.New("connection refused")
}

func TestValidatePrecedence(t *testing.T) {
	assert.NoError(t, ValidatePrecedence([]string{"documentNumber", "taxId", "parcelId"}))
	assert.Error(t, ValidatePrecedence([]string{"documentNumber", "registeredAgent"}))
	assert.Error(t, ValidatePrecedence([]string{"address"}))
	assert.Error(t, ValidatePrecedence([]string{"taxId", "taxId"}))
	assert.Error(t, ValidatePrecedence([]string{" "}))
}

func TestDeterministicMatcher_Precedence(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemoryRegistry()
	require.NoError(t, reg.Create(ctx, &models.CanonicalEntity{
		ID: "by-tax", CanonicalName: "TAX OWNER", Active: true,
		DefinitiveIdentifiers: map[string]string{"taxId": "591234567"},
	}))
	require.NoError(t, reg.Create(ctx, &models.CanonicalEntity{
		ID: "by-doc", CanonicalName: "DOC OWNER", Active: true,
		DefinitiveIdentifiers: map[string]string{"documentNumber": "L123"},
	}))

	m, err := NewDeterministicMatcher(reg, []string{"documentNumber", "taxId", "parcelId"})
	require.NoError(t, err)

	tests := []struct {
		name     string
		ids      map[string]string
		wantID   string
		wantKind string
	}{
		{name: "document number wins over tax id", ids: map[string]string{"taxId": "59-1234567", "documentNumber": "l123"}, wantID: "by-doc", wantKind: "documentNumber"},
		{name: "falls through to tax id", ids: map[string]string{"taxId": "59-1234567", "documentNumber": "L999"}, wantID: "by-tax", wantKind: "taxId"},
		{name: "non deterministic kind is ignored", ids: map[string]string{"licenseNumber": "L123"}},
		{name: "no identifiers", ids: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := normalizers.NormalizeRecord(models.CandidateRecord{RawName: "Anything", DefinitiveIdentifiers: tt.ids})
			e, kind, err := m.Match(ctx, rec)
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, e)
				return
			}
			require.NotNil(t, e)
			assert.Equal(t, tt.wantID, e.ID)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

func TestDeterministicMatcher_PropagatesIndexErrors(t *testing.T) {
	m, err := NewDeterministicMatcher(failingIndex{}, []string{"documentNumber"})
	require.NoError(t, err)

	rec := normalizers.NormalizeRecord(models.CandidateRecord{DefinitiveIdentifiers: map[string]string{"documentNumber": "L1"}})
	_, _, err = m.Match(context.Background(), rec)
	assert.ErrorContains(t, err, "connection refused")
}
