package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/resolver"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Reader is the subset of *kafka.Reader the consumer uses
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// BatchResolver resolves a batch of records. *resolver.Pool implements it.
type BatchResolver interface {
	ResolveBatch(ctx context.Context, records []models.CandidateRecord) ([]resolver.BatchResult, error)
}

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// BatchSize caps how many messages are resolved together
	BatchSize int
	// BatchWait is how long to wait for a batch to fill after its first message
	BatchWait time.Duration
	// RetryBackoff is the pause before a failed batch is retried
	RetryBackoff time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.BatchWait <= 0 {
		c.BatchWait = 200 * time.Millisecond
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	return c
}

// Consumer feeds candidate records from a topic into the resolver pool.
// Offsets are committed only after every record in a batch was resolved or
// rejected as invalid. Retryable failures hold the batch and retry it.
type Consumer struct {
	reader   Reader
	resolver BatchResolver
	logger   ectologger.Logger
	config   ConsumerConfig
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewConsumer creates a group consumer for cfg.Topic
func NewConsumer(cfg ConsumerConfig, resolver BatchResolver, logger ectologger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return NewConsumerWithReader(reader, cfg, resolver, logger)
}

func NewConsumerWithReader(reader Reader, cfg ConsumerConfig, resolver BatchResolver, logger ectologger.Logger) *Consumer {
	return &Consumer{
		reader:   reader,
		resolver: resolver,
		logger:   logger,
		config:   cfg.withDefaults(),
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      c.config.Topic,
		"batch_size": c.config.BatchSize,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		batch, err := c.fetchBatch(ctx)
		if len(batch) > 0 {
			if perr := c.processBatch(ctx, batch); perr != nil {
				// only ctx cancellation gets here; uncommitted messages are redelivered
				return
			}
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
		}
	}
}

// fetchBatch blocks for the first message, then collects more until the batch
// is full or BatchWait elapses
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, c.config.BatchWait)
	defer cancel()
	for len(batch) < c.config.BatchSize {
		msg, err := c.reader.FetchMessage(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return batch, ctx.Err()
			}
			break
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func (c *Consumer) processBatch(ctx context.Context, batch []kafka.Message) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processBatch")
	defer span.End()

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      batch[0].Topic,
		"batch_size": len(batch),
	})

	records := make([]models.CandidateRecord, 0, len(batch))
	for _, msg := range batch {
		incoming := toIncoming(msg)
		rec, err := incoming.CandidateRecord()
		if err != nil {
			// malformed payloads can never succeed; commit past them
			log.WithError(err).WithField("offset", msg.Offset).Warn("Skipping malformed candidate message")
			metrics.IngestMessagesTotal.WithLabelValues("malformed").Inc()
			continue
		}
		records = append(records, rec)
	}

	for attempt := 1; len(records) > 0; attempt++ {
		results, err := c.resolver.ResolveBatch(ctx, records)
		if err == nil {
			c.recordResults(results)
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tracing.RecordError(span, err)
		metrics.IngestMessagesTotal.WithLabelValues("retried").Add(float64(len(records)))
		log.WithError(err).WithField("attempt", attempt).Error("Failed to resolve batch (not committing)")

		timer := time.NewTimer(c.config.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	// Commit the batch (success only)
	if err := c.reader.CommitMessages(ctx, batch...); err != nil {
		log.WithError(err).Error("Failed to commit messages")
	}
	return nil
}

func (c *Consumer) recordResults(results []resolver.BatchResult) {
	for _, r := range results {
		switch {
		case r.Err == nil:
			metrics.IngestMessagesTotal.WithLabelValues("resolved").Inc()
		case errors.Is(r.Err, resolver.ErrInvalidRecord):
			metrics.IngestMessagesTotal.WithLabelValues("invalid").Inc()
		default:
			metrics.IngestMessagesTotal.WithLabelValues("failed").Inc()
		}
	}
}

func toIncoming(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}

// Health reports whether the consume loop is running
func (c *Consumer) Health() bool {
	return c.reader != nil && c.cancel != nil
}
