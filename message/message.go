// Package message defines the canonical envelope passed through the
// processing pipeline. The typed Message form is canonical; transports that
// serialize to untyped maps convert at the boundary with FromMap / ToMap
// and nowhere else.
package message

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies an envelope on the wire.
type MessageType string

const (
	TypeEntityProcessing MessageType = "entity_processing"
	TypeControlMessage   MessageType = "control_message"
	TypeErrorMessage     MessageType = "error_message"
	TypeHeartbeat        MessageType = "heartbeat"
	TypeMetrics          MessageType = "metrics"
)

// DefaultMaxRetries is the retry budget applied when a message does not
// carry one.
const DefaultMaxRetries = 3

// EntityReference identifies the entity a message concerns. EntityID is
// empty for source-processor messages that have not been persisted yet.
type EntityReference struct {
	EntityID      string `json:"entity_id,omitempty"`
	ExternalID    string `json:"external_id"`
	CanonicalType string `json:"canonical_type"`
	Source        string `json:"source"`
	TenantID      string `json:"tenant_id"`
	Version       *int   `json:"version,omitempty"`
}

// Message is the in-flight envelope. It is never persisted; repositories
// only ever see the entity it references.
type Message struct {
	MessageID       string                 `json:"message_id"`
	CorrelationID   string                 `json:"correlation_id"`
	MessageType     MessageType            `json:"message_type"`
	EntityReference EntityReference        `json:"entity_reference"`
	Payload         map[string]interface{} `json:"payload"`
	Metadata        map[string]interface{} `json:"metadata"`
	RoutingInfo     map[string]interface{} `json:"routing_info"`
	RetryCount      int                    `json:"retry_count"`
	MaxRetries      int                    `json:"max_retries"`
	CreatedAt       time.Time              `json:"created_at"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
}

// NewMessage creates an ENTITY_PROCESSING envelope with generated IDs and
// the default retry budget.
func NewMessage(ref EntityReference, payload map[string]interface{}) *Message {
	msg := &Message{
		MessageType:     TypeEntityProcessing,
		EntityReference: ref,
		Payload:         payload,
		Metadata:        make(map[string]interface{}),
		RoutingInfo:     make(map[string]interface{}),
		MaxRetries:      DefaultMaxRetries,
		CreatedAt:       time.Now().UTC(),
	}
	msg.EnsureIDs()
	return msg
}

// EnsureIDs generates message and correlation IDs when absent. Existing IDs
// are preserved so they survive queue hops.
func (m *Message) EnsureIDs() {
	if m.MessageID == "" {
		m.MessageID = uuid.NewString()
	}
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}
}

// CanRetry reports whether the retry budget allows another attempt.
func (m *Message) CanRetry() bool {
	return m.RetryCount < m.MaxRetries
}

// WithRetry returns a copy with the retry counter incremented.
func (m *Message) WithRetry() *Message {
	c := m.Clone()
	c.RetryCount++
	return c
}

// MarkProcessed stamps the processed-at timestamp.
func (m *Message) MarkProcessed(at time.Time) {
	t := at.UTC()
	m.ProcessedAt = &t
}

// Clone returns a copy with independent top-level maps. Nested values are
// shared; callers that mutate nested structures own that risk.
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = copyMap(m.Payload)
	c.Metadata = copyMap(m.Metadata)
	c.RoutingInfo = copyMap(m.RoutingInfo)
	if m.EntityReference.Version != nil {
		v := *m.EntityReference.Version
		c.EntityReference.Version = &v
	}
	if m.ProcessedAt != nil {
		t := *m.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}

// Validate checks the envelope for the fields every message must carry.
func (m *Message) Validate() error {
	if m.MessageType == "" {
		return fmt.Errorf("message_type is required")
	}
	if m.EntityReference.TenantID == "" {
		return fmt.Errorf("entity_reference.tenant_id is required")
	}
	return nil
}

// ToMap converts the typed envelope to the untyped wire form. The result
// round-trips through FromMap.
func (m *Message) ToMap() (map[string]interface{}, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to convert message to map: %w", err)
	}
	return out, nil
}

// FromMap converts an untyped transport map into the canonical typed form,
// generating IDs when absent.
func FromMap(data map[string]interface{}) (*Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message map: %w", err)
	}
	return FromJSON(raw)
}

// FromJSON decodes the JSON wire format into a Message, applying defaults.
func FromJSON(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	msg.EnsureIDs()
	if msg.MessageType == "" {
		msg.MessageType = TypeEntityProcessing
	}
	if msg.MaxRetries == 0 {
		msg.MaxRetries = DefaultMaxRetries
	}
	if msg.Payload == nil {
		msg.Payload = make(map[string]interface{})
	}
	if msg.Metadata == nil {
		msg.Metadata = make(map[string]interface{})
	}
	if msg.RoutingInfo == nil {
		msg.RoutingInfo = make(map[string]interface{})
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return &msg, nil
}

func copyMap(src map[string]interface{}) map[string]interface{} {
	dst := make(map[string]interface{}, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
