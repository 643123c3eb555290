package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	"github.com/angelmondragon/chataccess/pkg/outbox"
	"github.com/angelmondragon/chataccess/pkg/outbox/payloads"
)

// EventDescriptor is the publish contract for one event type: where it goes,
// how its payload decodes, and which payload fields are lifted into message
// attributes for subscription filters.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
	Check          func(payload any) error
	Attributes     func(payload any) map[string]string
}

// ResolvedEvent is a decoded and validated outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// Attributes returns the payload-derived attributes for the message.
func (r *ResolvedEvent) Attributes() map[string]string {
	if r == nil || r.Descriptor.Attributes == nil {
		return nil
	}
	return r.Descriptor.Attributes(r.Payload)
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish and belongs in the DLQ.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewNonRetryableError wraps err so the relay dead-letters instead of retrying.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// NewEventRegistry registers mail_requested against the configured mail topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.MailTopic == "" {
		return nil, fmt.Errorf("mail topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	if err := reg.register(EventDescriptor{
		EventType:      enums.EventMailRequested,
		AggregateType:  enums.AggregateAccessRequest,
		Topic:          cfg.MailTopic,
		PayloadFactory: func() any { return &payloads.MailRequestedEvent{} },
		Check:          checkMailRequested,
		Attributes:     mailRequestedAttributes,
	}); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) error {
	if desc.PayloadFactory == nil || desc.Topic == "" {
		return fmt.Errorf("descriptor for %s needs a topic and payload factory", desc.EventType)
	}
	if _, dup := r.entries[desc.EventType]; dup {
		return fmt.Errorf("event type %s registered twice", desc.EventType)
	}
	r.entries[desc.EventType] = desc
	return nil
}

// Topics lists the distinct topics the registry routes to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	topics := make([]string, 0, len(r.entries))
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		topics = append(topics, desc.Topic)
	}
	return topics
}

// Resolve decodes the row envelope and payload. Every failure is
// non-retryable because the stored bytes will not change between attempts.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if envelope.Version < 1 || envelope.Version > outbox.CurrentEnvelopeVersion {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported envelope version %d", envelope.Version))
	}
	if _, err := uuid.Parse(envelope.EventID); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("envelope event id %q: %w", envelope.EventID, err))
	}

	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}
	payload := desc.PayloadFactory()
	if err := json.Unmarshal(data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	if desc.Check != nil {
		if err := desc.Check(payload); err != nil {
			return nil, NewNonRetryableError(fmt.Errorf("invalid %s payload: %w", event.EventType, err))
		}
	}

	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func checkMailRequested(payload any) error {
	mail, ok := payload.(*payloads.MailRequestedEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", payload)
	}
	return checkMail(mail)
}

func checkMail(mail *payloads.MailRequestedEvent) error {
	if err := payloadValidator.Struct(mail); err != nil {
		return err
	}
	if !mail.Kind.IsValid() {
		return fmt.Errorf("unknown mail kind %q", mail.Kind)
	}
	if mail.RequestID == uuid.Nil {
		return fmt.Errorf("request_id is required")
	}
	return nil
}

func mailRequestedAttributes(payload any) map[string]string {
	mail, ok := payload.(*payloads.MailRequestedEvent)
	if !ok || mail.Kind == "" {
		return nil
	}
	return map[string]string{"mail_kind": string(mail.Kind)}
}
