package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Header keys understood on candidate messages
const (
	HeaderSource     = "source"
	HeaderMarket     = "market"
	HeaderEventType  = "event_type"
	HeaderEntityType = "entity_type"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

// CandidateRecord decodes the message value. Source and market headers fill
// the record context when the payload leaves them empty, and the message key
// is used as the external id.
func (m *IncomingMessage) CandidateRecord() (models.CandidateRecord, error) {
	var rec models.CandidateRecord
	if err := json.Unmarshal(m.Value, &rec); err != nil {
		return rec, fmt.Errorf("decode candidate record at %s/%d/%d: %w", m.Topic, m.Partition, m.Offset, err)
	}
	if rec.Context.Source == "" {
		rec.Context.Source = m.Headers[HeaderSource]
	}
	if rec.Context.Market == "" {
		rec.Context.Market = m.Headers[HeaderMarket]
	}
	if rec.Context.ExternalID == "" {
		rec.Context.ExternalID = m.Key
	}
	return rec, nil
}
