package resolver

import (
	"context"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Resolver is the single-record entry point a Pool fans out over
type Resolver interface {
	Resolve(ctx context.Context, rec models.CandidateRecord) (*models.ResolutionResult, error)
}

// BatchResult pairs each input record with its outcome, in input order
type BatchResult struct {
	Result *models.ResolutionResult
	Err    error
}

// Pool resolves batches with bounded concurrency
type Pool struct {
	resolver Resolver
	workers  int
	logger   ectologger.Logger
}

func NewPool(resolver Resolver, workers int, logger ectologger.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{resolver: resolver, workers: workers, logger: logger}
}

// ResolveBatch resolves every record. Invalid records fail individually; the
// first retryable failure cancels the rest of the batch and is returned.
func (p *Pool) ResolveBatch(ctx context.Context, records []models.CandidateRecord) ([]BatchResult, error) {
	results := make([]BatchResult, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range records {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			res, err := p.resolver.Resolve(gctx, records[i])
			results[i] = BatchResult{Result: res, Err: err}
			if errors.Is(err, ErrRetryable) {
				return err
			}
			if err != nil {
				p.logger.WithContext(ctx).WithError(err).WithField("index", i).Warn("Dropping unresolvable record")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
