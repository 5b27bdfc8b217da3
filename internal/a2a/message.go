package a2a

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageType tags the intent of a message. The set is open: any non-empty
// string is accepted, the constants below are the ones agents in this module
// understand.
type MessageType string

const (
	TypeTaskRequest         MessageType = "task_request"
	TypeTaskResponse        MessageType = "task_response"
	TypeStatus              MessageType = "status"
	TypeCapabilityDiscovery MessageType = "capability_discovery"
)

// MetadataInReplyTo is set by Reply to the ID of the message answered.
const MetadataInReplyTo = "in_reply_to"

// Common errors
var (
	ErrEmptyRecipient     = errors.New("recipient_id cannot be empty")
	ErrNilPayload         = errors.New("payload cannot be nil")
	ErrPointerPayload     = errors.New("payload must be a value, not a pointer")
	ErrUnknownPayloadKind = errors.New("unknown payload kind")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
)

// Message is one unit of directed communication between two agents.
// Messages are never mutated once handed to a communicator.
type Message struct {
	ID          string
	SenderID    string
	RecipientID string
	Type        MessageType
	Payload     Payload
	Timestamp   time.Time
	Metadata    map[string]any
}

// Option customizes a Message built by NewMessage.
type Option func(*Message)

// WithMetadata attaches out-of-band key/values.
func WithMetadata(md map[string]any) Option {
	return func(m *Message) { m.Metadata = md }
}

// WithTimestamp overrides the creation time.
func WithTimestamp(ts time.Time) Option {
	return func(m *Message) { m.Timestamp = ts.UTC() }
}

// WithID overrides the generated message ID.
func WithID(id string) Option {
	return func(m *Message) { m.ID = id }
}

// NewMessage builds a validated envelope stamped with the current UTC time and
// a fresh UUID. A pointer payload is stored by value.
func NewMessage(sender, recipient string, msgType MessageType, payload Payload, opts ...Option) (*Message, error) {
	payload, _ = derefPayload(payload)
	m := &Message{
		ID:          uuid.NewString(),
		SenderID:    sender,
		RecipientID: recipient,
		Type:        msgType,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the fields a mailbox needs to route the message.
func (m *Message) Validate() error {
	if m == nil {
		return ErrMalformedEnvelope
	}
	if m.RecipientID == "" {
		return ErrEmptyRecipient
	}
	if _, ok := derefPayload(m.Payload); !ok {
		return ErrNilPayload
	}
	switch m.Payload.(type) {
	case *TaskRequest, *TaskResponse, *CapabilityDiscovery, *Fields:
		return ErrPointerPayload
	}
	return nil
}

// Reply builds a message addressed back to the sender of m.
func (m *Message) Reply(msgType MessageType, payload Payload, opts ...Option) (*Message, error) {
	opts = append([]Option{WithMetadata(map[string]any{MetadataInReplyTo: m.ID})}, opts...)
	return NewMessage(m.RecipientID, m.SenderID, msgType, payload, opts...)
}

// Age reports how long ago m was created.
func (m *Message) Age() time.Duration {
	return time.Since(m.Timestamp)
}
