package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Ramsey-B/clover/pkg/ledger"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/review"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	resolved []*models.ResolutionDecision
	reviews  []*models.ReviewQueueEntry
}

func (l *recordingListener) OnResolved(_ context.Context, d *models.ResolutionDecision, _ *models.CanonicalEntity) error {
	l.resolved = append(l.resolved, d)
	return nil
}

func (l *recordingListener) OnReviewResolved(_ context.Context, e *models.ReviewQueueEntry, _ *models.CanonicalEntity) error {
	l.reviews = append(l.reviews, e)
	return nil
}

// escalated seeds one entity and escalates an ambiguous record against it
func escalated(t *testing.T, h *harness) (seedID string, res *models.ResolutionResult) {
	t.Helper()
	seed := h.resolve(t, acmeSeed)
	res = h.resolve(t, acmeAmbiguous)
	require.NotNil(t, res.QueueEntryID)
	_, err := h.queue.Claim(context.Background(), *res.QueueEntryID, "alice")
	require.NoError(t, err)
	return seed.EntityID, res
}

func TestResolveReview_Accept(t *testing.T) {
	ctx := context.Background()
	listener := &recordingListener{}
	h := newHarness(t, nil, func(d *Dependencies, _ *Config) { d.Listeners = []Listener{listener} })
	seedID, res := escalated(t, h)

	out, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", models.ResolveReviewRequest{Decision: models.ReviewDecisionAccept})
	require.NoError(t, err)
	assert.Equal(t, seedID, out.Entity.ID)
	assert.False(t, out.Created)
	assert.Equal(t, models.ReviewStatusCompleted, out.Entry.Status)
	assert.Contains(t, out.Entity.Aliases, "ACME ROOFING SERVICES")
	assert.Contains(t, out.Entity.Facts(models.FactPhone), "3215550199")

	d, err := h.ledger.Get(ctx, res.DecisionID)
	require.NoError(t, err)
	assert.True(t, d.HumanValidated)
	require.NotNil(t, d.HumanCorrect)
	assert.True(t, *d.HumanCorrect)
	require.NotNil(t, d.HumanResolvedEntityID)
	assert.Equal(t, seedID, *d.HumanResolvedEntityID)
	assert.Equal(t, models.MethodEscalated, d.Method)

	require.Len(t, listener.reviews, 1)
	assert.Len(t, listener.resolved, 2)
}

func TestResolveReview_RejectCreatesAndFeedsTracker(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	seedID, res := escalated(t, h)

	out, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", models.ResolveReviewRequest{Decision: models.ReviewDecisionReject})
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.NotEqual(t, seedID, out.Entity.ID)
	assert.Equal(t, 2, h.memory.Len())

	d, err := h.ledger.Get(ctx, res.DecisionID)
	require.NoError(t, err)
	require.NotNil(t, d.HumanCorrect)
	assert.False(t, *d.HumanCorrect)

	// two more rejections on the same shared address cross the threshold
	for i := 0; i < 2; i++ {
		h.engine.recordRejections(out.Entry)
	}
	_, err = h.tracker.Recompute(ctx)
	require.NoError(t, err)
	addr := out.Entity.Facts(models.FactAddress)
	require.NotEmpty(t, addr)
	assert.True(t, h.tracker.IsFlagged(models.FactAddress, addr[0]))
}

func TestResolveReview_RejectIntoOtherEntity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	other := h.resolve(t, models.CandidateRecord{RawName: "Brightline Contractors Inc", Phones: []string{"305-555-0111"}})
	_, res := escalated(t, h)

	out, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", models.ResolveReviewRequest{
		Decision:         models.ReviewDecisionReject,
		ResolvedEntityID: &other.EntityID,
	})
	require.NoError(t, err)
	assert.Equal(t, other.EntityID, out.Entity.ID)
	assert.False(t, out.Created)
	require.NotNil(t, out.Entry.ResolvedEntityID)
	assert.Equal(t, other.EntityID, *out.Entry.ResolvedEntityID)
}

func TestResolveReview_CreateNew(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	_, res := escalated(t, h)

	out, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", models.ResolveReviewRequest{Decision: models.ReviewDecisionCreateNew})
	require.NoError(t, err)
	assert.True(t, out.Created)
	require.NotNil(t, out.Entry.Decision)
	assert.Equal(t, models.ReviewDecisionCreateNew, *out.Entry.Decision)
}

func TestResolveReview_OnlyClaimantResolves(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	_, res := escalated(t, h)

	_, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "mallory", models.ResolveReviewRequest{Decision: models.ReviewDecisionCreateNew})
	assert.ErrorIs(t, err, review.ErrNotClaimant)
	assert.Equal(t, 1, h.memory.Len())

	_, err = h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", models.ResolveReviewRequest{Decision: models.ReviewDecisionAccept})
	require.NoError(t, err)
	_, err = h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", models.ResolveReviewRequest{Decision: models.ReviewDecisionAccept})
	assert.ErrorIs(t, err, review.ErrInvalidTransition)
}

func TestValidateDecision(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	h.resolve(t, acmeSeed)
	res := h.resolve(t, acmeSeed)
	require.Equal(t, models.MethodMultiSignal, res.Method)

	d, err := h.engine.ValidateDecision(ctx, res.DecisionID, "auditor", false, nil)
	require.NoError(t, err)
	assert.True(t, d.HumanValidated)

	_, err = h.engine.ValidateDecision(ctx, res.DecisionID, "auditor", true, nil)
	assert.ErrorIs(t, err, ledger.ErrAlreadyValidated)
}

// flakyReviewStore fails Complete the given number of times before delegating
type flakyReviewStore struct {
	*review.MemoryStore
	mu       sync.Mutex
	failures int
}

func (s *flakyReviewStore) Complete(ctx context.Context, id, reviewer string, decision models.ReviewDecision, resolvedEntityID *string, at time.Time) (*models.ReviewQueueEntry, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, errors.New("connection reset by peer")
	}
	s.mu.Unlock()
	return s.MemoryStore.Complete(ctx, id, reviewer, decision, resolvedEntityID, at)
}

func withReviewStore(store review.Store) func(*Dependencies, *Config) {
	return func(d *Dependencies, _ *Config) {
		d.Queue = review.NewQueue(store, nopLogger)
	}
}

func TestResolveReview_ConcurrentCreateNewMakesOneEntity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil)
	_, res := escalated(t, h)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		outcomes  []error
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", models.ResolveReviewRequest{Decision: models.ReviewDecisionCreateNew})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			outcomes = append(outcomes, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	for _, err := range outcomes {
		assert.ErrorIs(t, err, review.ErrInvalidTransition)
	}
	assert.Equal(t, 2, h.memory.Len())
}

func TestResolveReview_RetryAfterFailedCompleteReusesEntity(t *testing.T) {
	ctx := context.Background()
	store := &flakyReviewStore{MemoryStore: review.NewMemoryStore(), failures: 1}
	h := newHarness(t, nil, withReviewStore(store))
	h.queue = h.engine.Queue
	_, res := escalated(t, h)
	req := models.ResolveReviewRequest{Decision: models.ReviewDecisionCreateNew}

	_, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", req)
	require.Error(t, err)
	entry, err := h.queue.Get(ctx, *res.QueueEntryID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusInReview, entry.Status)

	out, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", req)
	require.NoError(t, err)
	assert.Equal(t, ReviewEntityID(*res.QueueEntryID), out.Entity.ID)
	require.NotNil(t, out.Entry.ResolvedEntityID)
	assert.Equal(t, out.Entity.ID, *out.Entry.ResolvedEntityID)
	assert.Equal(t, 2, h.memory.Len())

	_, err = h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", req)
	assert.ErrorIs(t, err, review.ErrInvalidTransition)
	assert.Equal(t, 2, h.memory.Len())
}

func TestResolveReview_RetriedRejectCountsOnce(t *testing.T) {
	ctx := context.Background()
	store := &flakyReviewStore{MemoryStore: review.NewMemoryStore(), failures: 1}
	h := newHarness(t, nil, withReviewStore(store))
	h.queue = h.engine.Queue
	_, res := escalated(t, h)
	req := models.ResolveReviewRequest{Decision: models.ReviewDecisionReject}

	_, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", req)
	require.Error(t, err)
	out, err := h.engine.ResolveReview(ctx, *res.QueueEntryID, "alice", req)
	require.NoError(t, err)

	// one counted rejection plus one more stays under the default threshold of three
	h.engine.recordRejections(out.Entry)
	_, err = h.tracker.Recompute(ctx)
	require.NoError(t, err)
	addr := out.Entity.Facts(models.FactAddress)
	require.NotEmpty(t, addr)
	assert.False(t, h.tracker.IsFlagged(models.FactAddress, addr[0]))

	h.engine.recordRejections(out.Entry)
	_, err = h.tracker.Recompute(ctx)
	require.NoError(t, err)
	assert.True(t, h.tracker.IsFlagged(models.FactAddress, addr[0]))
}
