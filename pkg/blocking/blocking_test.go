package blocking

import (
	"testing"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	"github.com/stretchr/testify/assert"
)

func TestKeysForRecord(t *testing.T) {
	n := normalizers.NormalizeRecord(models.CandidateRecord{
		RawName:   "The ABC Development LLC",
		Phones:    []string{"407-555-0100", "555-0100"},
		Addresses: []string{"123 Main Street, Orlando", "PO Box 9"},
	})

	assert.Equal(t, []models.AttributeKey{
		{Kind: models.FactAddress, Value: "123 main st, orlando"},
		{Kind: KindNameToken, Value: "ABC"},
		{Kind: models.FactPhone, Value: "4075550100"},
	}, KeysForRecord(n))
}

func TestKeysForRecord_ShortFirstTokenIsSkipped(t *testing.T) {
	n := normalizers.NormalizeRecord(models.CandidateRecord{RawName: "A Plus Roofing"})
	assert.Empty(t, KeysForRecord(n))
}

func TestIndexKeys(t *testing.T) {
	e := &models.CanonicalEntity{
		EntityType:    models.EntityTypeCompany,
		CanonicalName: "ABC DEVELOPMENT LLC",
		Aliases:       []string{"ABC DEV LLC", "ALPHA BUILDERS INC"},
		FactAttributes: []models.FactAttribute{
			{Kind: models.FactPhone, Value: "4075550100"},
			{Kind: models.FactRegisteredAgent, Value: "CT CORPORATION SYSTEM"},
			{Kind: models.FactEmail, Value: "a@abc.com"},
		},
	}

	assert.Equal(t, []models.AttributeKey{
		{Kind: KindNameToken, Value: "ABC"},
		{Kind: KindNameToken, Value: "ALPHA"},
		{Kind: models.FactPhone, Value: "4075550100"},
		{Kind: models.FactRegisteredAgent, Value: "CT CORPORATION SYSTEM"},
	}, IndexKeys(e))
}
