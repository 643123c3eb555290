package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/pkg/enums"
	"github.com/angelmondragon/chataccess/pkg/outbox"
	"github.com/angelmondragon/chataccess/pkg/outbox/payloads"
)

// ErrUnsupportedVersion is returned for envelopes no handler is registered for.
var ErrUnsupportedVersion = errors.New("unsupported envelope version")

// Decoder turns a published envelope into a typed payload on the consumer
// side. Every envelope version still in flight needs a handler that yields
// the current payload shape.
type Decoder[T any] struct {
	eventType enums.OutboxEventType
	handlers  map[int]func(json.RawMessage) (T, error)
	check     func(*T) error
}

// Opened is a decoded message.
type Opened[T any] struct {
	EventID  uuid.UUID
	Envelope outbox.PayloadEnvelope
	Payload  T
}

func NewDecoder[T any](eventType enums.OutboxEventType, check func(*T) error) *Decoder[T] {
	return &Decoder[T]{
		eventType: eventType,
		handlers:  make(map[int]func(json.RawMessage) (T, error)),
		check:     check,
	}
}

// Handle registers fn for envelopes written at version.
func (d *Decoder[T]) Handle(version int, fn func(json.RawMessage) (T, error)) *Decoder[T] {
	d.handlers[version] = fn
	return d
}

// Plain unmarshals data straight into T.
func Plain[T any](data json.RawMessage) (T, error) {
	var out T
	err := json.Unmarshal(data, &out)
	return out, err
}

// Open decodes body. Errors mean the message can never be processed.
func (d *Decoder[T]) Open(body []byte) (Opened[T], error) {
	var opened Opened[T]
	if err := json.Unmarshal(body, &opened.Envelope); err != nil {
		return opened, fmt.Errorf("decode %s envelope: %w", d.eventType, err)
	}
	id, err := uuid.Parse(opened.Envelope.EventID)
	if err != nil {
		return opened, fmt.Errorf("%s event id %q: %w", d.eventType, opened.Envelope.EventID, err)
	}
	opened.EventID = id

	handler, ok := d.handlers[opened.Envelope.Version]
	if !ok {
		return opened, fmt.Errorf("%w: %s@v%d", ErrUnsupportedVersion, d.eventType, opened.Envelope.Version)
	}
	if opened.Payload, err = handler(opened.Envelope.Data); err != nil {
		return opened, fmt.Errorf("decode %s payload: %w", d.eventType, err)
	}
	if d.check != nil {
		if err := d.check(&opened.Payload); err != nil {
			return opened, fmt.Errorf("invalid %s payload: %w", d.eventType, err)
		}
	}
	return opened, nil
}

// MailRequestedDecoder decodes mail jobs with the same rules the relay
// applies before publishing.
func MailRequestedDecoder() *Decoder[payloads.MailRequestedEvent] {
	return NewDecoder(enums.EventMailRequested, checkMail).
		Handle(1, Plain[payloads.MailRequestedEvent])
}
