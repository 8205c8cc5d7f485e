package repositories_test

import (
	"context"
	"errors"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/internal/repositories/canonicalentity"
	"github.com/Ramsey-B/clover/internal/repositories/commonvalue"
	"github.com/Ramsey-B/clover/internal/repositories/resolutiondecision"
	"github.com/Ramsey-B/clover/internal/repositories/reviewqueue"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/registry"
	"github.com/Ramsey-B/clover/pkg/review"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// getTestDB connects to DB_HOST and applies db/pg. Tests skip without it.
func getTestDB(t *testing.T) database.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("DB_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("DB_PORT"))
	if port == 0 {
		port = 5432
	}
	cfg := database.Config{
		Host:     host,
		Port:     port,
		User:     envOr("DB_USER_NAME", "user"),
		Password: envOr("DB_PASSWORD", "password"),
		Name:     envOr("DB_NAME", "clover"),
		SSLMode:  "disable",
	}

	db, err := sqlx.Connect("postgres", cfg.DSN())
	require.NoError(t, err, "Failed to connect to test database")
	t.Cleanup(func() { _ = db.Close() })

	logger := getTestLogger()
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{MigrationFolderPath: "../../db/pg"})
	require.NoError(t, migrations.MigratePostgres(db, cfg.Name))

	return database.NewDatabaseInstance(db, logger)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newEntity(name string, ids map[string]string, facts ...models.FactAttribute) *models.CanonicalEntity {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.CanonicalEntity{
		ID:                    uuid.NewString(),
		EntityType:            models.EntityTypeCompany,
		CanonicalName:         name,
		DefinitiveIdentifiers: ids,
		FactAttributes:        facts,
		Active:                true,
		CreatedAt:             now,
		LastSeenAt:            now,
	}
}

func TestCanonicalEntityRepository(t *testing.T) {
	db := getTestDB(t)
	repo := canonicalentity.NewRepository(db, getTestLogger())
	ctx := context.Background()

	doc := "L" + uuid.NewString()[:8]
	agent := "agent " + uuid.NewString()[:8]
	e := newEntity("Acme Holdings LLC", map[string]string{models.IdentifierDocumentNumber: doc},
		models.FactAttribute{Kind: models.FactRegisteredAgent, Value: agent})
	require.NoError(t, repo.Create(ctx, e))

	found, err := repo.FindByIdentifier(ctx, models.IdentifierDocumentNumber, doc)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, e.ID, found.ID)

	ids, err := repo.FindByBlockingKey(ctx, models.AttributeKey{Kind: models.FactRegisteredAgent, Value: agent}, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{e.ID}, ids)

	// identifier collision reports the owner
	dup := newEntity("Acme Holdings", map[string]string{models.IdentifierDocumentNumber: doc})
	err = repo.Create(ctx, dup)
	var conflict *registry.IdentifierConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, e.ID, conflict.OwnerID)

	other := newEntity("Other Co", nil, models.FactAttribute{Kind: models.FactRegisteredAgent, Value: agent})
	require.NoError(t, repo.Create(ctx, other))

	// merge skips identifiers owned by someone else
	merged, err := repo.Merge(ctx, other.ID, models.EntityPatch{
		Alias:       "Other Company",
		Identifiers: map[string]string{models.IdentifierDocumentNumber: doc, models.IdentifierTaxID: "tx-" + other.ID[:8]},
		SeenAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Other Company"}, merged.Aliases)
	assert.NotContains(t, merged.DefinitiveIdentifiers, models.IdentifierDocumentNumber)
	assert.Contains(t, merged.DefinitiveIdentifiers, models.IdentifierTaxID)

	counts, err := repo.CountDistinctValues(ctx, []string{models.FactRegisteredAgent}, 2)
	require.NoError(t, err)
	var seen bool
	for _, c := range counts {
		if c.NormalizedValue == agent {
			seen = true
			assert.Equal(t, 2, c.DistinctEntityCount)
		}
	}
	assert.True(t, seen)

	_, err = repo.GetEntity(ctx, uuid.NewString())
	assert.ErrorIs(t, err, registry.ErrEntityNotFound)
}

func TestResolutionDecisionRepository(t *testing.T) {
	db := getTestDB(t)
	repo := resolutiondecision.NewRepository(db, getTestLogger())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	d := &models.ResolutionDecision{
		ID:                uuid.NewString(),
		CandidateFeatures: models.NormalizedRecord{EntityType: models.EntityTypeCompany, Name: models.NormalizedValue{Value: "acme", Raw: "Acme"}},
		Confidence:        0.91,
		Signals:           []models.MatchSignal{{Name: models.SignalName, Value: 1, Weight: 0.4, DistinctivenessPenalty: 1}},
		Method:            models.MethodMultiSignal,
		AutoAccepted:      true,
		CreatedAt:         now,
	}
	require.NoError(t, repo.Append(ctx, d))
	assert.ErrorIs(t, repo.Append(ctx, d), ledger.ErrDuplicate)

	got, err := repo.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.CandidateFeatures.Name.Value)
	assert.Len(t, got.Signals, 1)

	validated, err := repo.Validate(ctx, d.ID, models.Validation{ReviewerID: "alice", Correct: true, ValidatedAt: now})
	require.NoError(t, err)
	assert.True(t, validated.HumanValidated)

	_, err = repo.Validate(ctx, d.ID, models.Validation{ReviewerID: "bob", Correct: false, ValidatedAt: now})
	assert.ErrorIs(t, err, ledger.ErrAlreadyValidated)

	list, err := repo.ListBetween(ctx, now, now.Add(time.Microsecond))
	require.NoError(t, err)
	var ids []string
	for _, x := range list {
		ids = append(ids, x.ID)
	}
	assert.Contains(t, ids, d.ID)
}

func TestTransactorRollsBackTogether(t *testing.T) {
	db := getTestDB(t)
	logger := getTestLogger()
	entities := canonicalentity.NewRepository(db, logger)
	decisions := resolutiondecision.NewRepository(db, logger)
	tx := database.Transactor{DB: db}
	ctx := context.Background()

	e := newEntity("ROLLBACK ROOFING", map[string]string{"documentNumber": uuid.NewString()})
	d := &models.ResolutionDecision{
		ID:                uuid.NewString(),
		CandidateFeatures: models.NormalizedRecord{EntityType: models.EntityTypeCompany},
		MatchedEntityID:   &e.ID,
		Method:            models.MethodCreation,
		CreatedAt:         time.Now().UTC(),
	}

	boom := errors.New("queue unavailable")
	err := tx.WithinTx(ctx, func(ctx context.Context) error {
		require.NoError(t, entities.Create(ctx, e))
		require.NoError(t, decisions.Append(ctx, d))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = entities.GetEntity(ctx, e.ID)
	assert.ErrorIs(t, err, registry.ErrEntityNotFound)
	_, err = decisions.Get(ctx, d.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	require.NoError(t, tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := entities.Create(ctx, e); err != nil {
			return err
		}
		return decisions.Append(ctx, d)
	}))
	assert.ErrorIs(t, entities.Create(ctx, e), registry.ErrEntityExists)
}

func TestReviewQueueRepositoryClaimRace(t *testing.T) {
	db := getTestDB(t)
	repo := reviewqueue.NewRepository(db, getTestLogger())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	entry := &models.ReviewQueueEntry{
		ID:           uuid.NewString(),
		DecisionID:   uuid.NewString(),
		Record:       models.CandidateRecord{RawName: "Acme"},
		CandidateIDs: []string{uuid.NewString()},
		Confidence:   0.7,
		Status:       models.ReviewStatusPending,
		Priority:     0.5,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Insert(ctx, entry))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Claim(ctx, entry.ID, "reviewer-"+strconv.Itoa(i), now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, review.ErrAlreadyClaimed):
				conflicts++
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 7, conflicts)

	claimed, err := repo.Get(ctx, entry.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimedBy)

	_, err = repo.Complete(ctx, entry.ID, "someone-else", models.ReviewDecisionAccept, nil, now)
	assert.ErrorIs(t, err, review.ErrNotClaimant)

	done, err := repo.Complete(ctx, entry.ID, *claimed.ClaimedBy, models.ReviewDecisionAccept, nil, now)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusCompleted, done.Status)

	_, err = repo.Skip(ctx, entry.ID, *claimed.ClaimedBy, now)
	assert.ErrorIs(t, err, review.ErrInvalidTransition)
}

func TestCommonValueRepositoryStickyFlags(t *testing.T) {
	db := getTestDB(t)
	repo := commonvalue.NewRepository(db, getTestLogger())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	value := "agent " + uuid.NewString()[:8]
	out, err := repo.Upsert(ctx, []models.CommonValueRecord{
		{AttributeKind: models.FactRegisteredAgent, NormalizedValue: value, DistinctEntityCount: 12, Flagged: true, UpdatedAt: now},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].FlaggedAt)

	out, err = repo.Upsert(ctx, []models.CommonValueRecord{
		{AttributeKind: models.FactRegisteredAgent, NormalizedValue: value, RejectionCount: 2, UpdatedAt: now.Add(time.Minute)},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, out[0].Flagged)
	assert.Equal(t, 12, out[0].DistinctEntityCount)
	assert.Equal(t, 2, out[0].RejectionCount)

	flagged, err := repo.ListFlagged(ctx)
	require.NoError(t, err)
	var found bool
	for _, f := range flagged {
		found = found || f.NormalizedValue == value
	}
	assert.True(t, found)
}
