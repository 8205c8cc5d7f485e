package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resolver"
)

func nopLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// fakeReader hands out queued messages then blocks until ctx is done
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) Committed() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.committed...)
}

type batchFunc func(ctx context.Context, records []models.CandidateRecord) ([]resolver.BatchResult, error)

func (f batchFunc) ResolveBatch(ctx context.Context, records []models.CandidateRecord) ([]resolver.BatchResult, error) {
	return f(ctx, records)
}

func candidateMessage(t *testing.T, offset int64, name string) kafka.Message {
	t.Helper()
	data, err := json.Marshal(models.CandidateRecord{RawName: name})
	require.NoError(t, err)
	return kafka.Message{
		Topic:   "clover.candidates",
		Offset:  offset,
		Key:     []byte("ext-" + name),
		Value:   data,
		Headers: []kafka.Header{{Key: HeaderSource, Value: []byte("county-recorder")}},
	}
}

func TestCandidateRecordFillsContextFromHeaders(t *testing.T) {
	msg := toIncoming(candidateMessage(t, 1, "Acme LLC"))
	rec, err := msg.CandidateRecord()
	require.NoError(t, err)
	assert.Equal(t, "Acme LLC", rec.RawName)
	assert.Equal(t, "county-recorder", rec.Context.Source)
	assert.Equal(t, "ext-Acme LLC", rec.Context.ExternalID)

	bad := &IncomingMessage{Value: []byte("{not json")}
	_, err = bad.CandidateRecord()
	assert.Error(t, err)
}

func TestConsumerCommitsAfterResolve(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		candidateMessage(t, 1, "Acme LLC"),
		{Topic: "clover.candidates", Offset: 2, Value: []byte("garbage")},
		candidateMessage(t, 3, "Beta Corp"),
	}}

	var mu sync.Mutex
	var seen []string
	res := batchFunc(func(_ context.Context, records []models.CandidateRecord) ([]resolver.BatchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		for _, r := range records {
			seen = append(seen, r.RawName)
		}
		return make([]resolver.BatchResult, len(records)), nil
	})

	c := NewConsumerWithReader(reader, ConsumerConfig{Topic: "clover.candidates", BatchWait: 20 * time.Millisecond}, res, nopLogger())
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.Committed()) == 3 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"Acme LLC", "Beta Corp"}, seen)
}

func TestConsumerRetriesRetryableBatch(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{candidateMessage(t, 7, "Acme LLC")}}

	var mu sync.Mutex
	calls := 0
	res := batchFunc(func(_ context.Context, records []models.CandidateRecord) ([]resolver.BatchResult, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return nil, &resolver.RetryableError{Op: "candidate retrieval", Err: errors.New("connection reset")}
		}
		return make([]resolver.BatchResult, len(records)), nil
	})

	c := NewConsumerWithReader(reader, ConsumerConfig{BatchWait: 10 * time.Millisecond, RetryBackoff: 5 * time.Millisecond}, res, nopLogger())
	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool { return len(reader.Committed()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls)
}

func TestConsumerStopDoesNotCommitFailingBatch(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{candidateMessage(t, 9, "Acme LLC")}}
	called := make(chan struct{}, 1)
	res := batchFunc(func(_ context.Context, _ []models.CandidateRecord) ([]resolver.BatchResult, error) {
		select {
		case called <- struct{}{}:
		default:
		}
		return nil, &resolver.RetryableError{Op: "create", Err: errors.New("db down")}
	})

	c := NewConsumerWithReader(reader, ConsumerConfig{BatchWait: 10 * time.Millisecond, RetryBackoff: time.Hour}, res, nopLogger())
	require.NoError(t, c.Start(context.Background()))
	<-called
	require.NoError(t, c.Stop())

	assert.Empty(t, reader.Committed())
}
