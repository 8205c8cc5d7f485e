package arbitration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
)

type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// MaxTokens bounds the verdict length
	MaxTokens int64
	// MaxConcurrent limits in-flight calls, 0 means unlimited
	MaxConcurrent    int
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
}

func DefaultAnthropicConfig() AnthropicConfig {
	return AnthropicConfig{
		Model:            "claude-sonnet-4-5",
		MaxTokens:        1024,
		MaxConcurrent:    4,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// AnthropicGateway arbitrates through the Anthropic Messages API
type AnthropicGateway struct {
	client  anthropic.Client
	config  AnthropicConfig
	sem     *semaphore.Weighted
	breaker *CircuitBreaker
	logger  ectologger.Logger
}

func NewAnthropicGateway(config AnthropicConfig, logger ectologger.Logger) (*AnthropicGateway, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey), option.WithMaxRetries(0)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	g := &AnthropicGateway{
		client:  anthropic.NewClient(opts...),
		config:  config,
		breaker: NewCircuitBreaker(config.FailureThreshold, config.SuccessThreshold, config.OpenTimeout),
		logger:  logger,
	}
	if config.MaxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(int64(config.MaxConcurrent))
	}
	return g, nil
}

func (g *AnthropicGateway) Arbitrate(ctx context.Context, req Request) (verdict Verdict, err error) {
	ctx, span := tracing.StartSpan(ctx, "arbitration.AnthropicGateway.Arbitrate")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.ArbitrationDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			tracing.RecordError(span, err)
		}
	}()

	if err := g.breaker.Allow(); err != nil {
		return Verdict{}, err
	}

	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return Verdict{}, fmt.Errorf("waiting for arbitration slot: %w", err)
		}
		defer g.sem.Release(1)
	}

	prompt, err := buildPrompt(req)
	if err != nil {
		return Verdict{}, err
	}

	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.config.Model),
		MaxTokens: g.config.MaxTokens,
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		// the caller's deadline is not the arbiter's fault
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			g.breaker.RecordFailure()
		}
		return Verdict{}, fmt.Errorf("anthropic messages call failed: %w", err)
	}
	g.breaker.RecordSuccess()

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	verdict, err = parseVerdict(text.String())
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).Warn("Discarding unparseable arbitration verdict")
		return Verdict{}, err
	}
	return verdict, nil
}

func (g *AnthropicGateway) State() CircuitState {
	return g.breaker.State()
}

const systemPrompt = `You decide whether a business record refers to one of several known entities.
Registered agents, agent addresses and shared office phone numbers are weak evidence: many unrelated entities share them.
Reply with one JSON object and nothing else:
{"outcome": "match" | "createNew" | "unable", "entity_id": "<id when outcome is match>", "confidence": <0..1>, "rationale": "<one sentence>"}`

type promptCandidate struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Aliases     []string             `json:"aliases,omitempty"`
	Identifiers map[string]string    `json:"identifiers,omitempty"`
	Facts       map[string][]string  `json:"facts,omitempty"`
	Confidence  float64              `json:"score"`
	Signals     []models.MatchSignal `json:"signals"`
}

func buildPrompt(req Request) (string, error) {
	candidates := make([]promptCandidate, 0, len(req.Candidates))
	for _, c := range req.Candidates {
		if c.Entity == nil {
			continue
		}
		facts := make(map[string][]string)
		for _, f := range c.Entity.FactAttributes {
			facts[f.Kind] = append(facts[f.Kind], f.Value)
		}
		candidates = append(candidates, promptCandidate{
			ID:          c.Entity.ID,
			Name:        c.Entity.CanonicalName,
			Aliases:     c.Entity.Aliases,
			Identifiers: c.Entity.DefinitiveIdentifiers,
			Facts:       facts,
			Confidence:  c.Confidence,
			Signals:     c.Signals,
		})
	}

	record, err := json.Marshal(req.Record)
	if err != nil {
		return "", fmt.Errorf("encoding record: %w", err)
	}
	cands, err := json.Marshal(candidates)
	if err != nil {
		return "", fmt.Errorf("encoding candidates: %w", err)
	}
	return fmt.Sprintf("New record:\n%s\n\nCandidate entities:\n%s", record, cands), nil
}

// parseVerdict accepts a bare JSON object or one wrapped in prose or fences
func parseVerdict(text string) (Verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("%w: no JSON object in response", ErrBadVerdict)
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrBadVerdict, err)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Verdict{}, fmt.Errorf("%w: confidence %v out of range", ErrBadVerdict, v.Confidence)
	}
	return v, nil
}
