package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	"github.com/angelmondragon/chataccess/pkg/outbox"
	"github.com/angelmondragon/chataccess/pkg/outbox/payloads"
	"github.com/google/uuid"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	requestID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.MailRequestedEvent{
		Kind:       enums.MailKindDecisionApproved,
		RequestID:  requestID,
		Subject:    "Your chat access request was approved",
		Body:       "welcome",
		Recipients: []string{"ana@example.com"},
	})

	event := models.OutboxEvent{
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   requestID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "mail-topic" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.MailRequestedEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.RequestID != requestID || payload.Kind != enums.MailKindDecisionApproved {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if len(payload.Recipients) != 1 || payload.Recipients[0] != "ana@example.com" {
		t.Fatalf("recipients mismatch %+v", payload.Recipients)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
	if resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope missing occurred_at")
	}
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.OutboxEventType("mail_bounced"),
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"reason":"none"}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %T", err)
	}
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventMailRequested,
		AggregateType: enums.OutboxAggregateType("store"),
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"kind":"admin_notice","recipients":[]}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
}

func TestEventRegistryResolveMissingAggregateID(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   uuid.Nil,
		Payload:       mustEnvelope(t, []byte(`{}`)),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
}

func TestEventRegistryResolveNullPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte("null")),
	}

	_, err := reg.Resolve(event)
	if err == nil {
		t.Fatalf("expected error")
	}
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error")
	}
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{}); err == nil {
		t.Fatalf("expected missing topic error")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	cfg := config.PubSubConfig{
		MailTopic:        "mail-topic",
		MailSubscription: "mail-sub",
	}
	reg, err := NewEventRegistry(cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func validMailPayload(t *testing.T, requestID uuid.UUID) []byte {
	t.Helper()
	return mustMarshal(t, payloads.MailRequestedEvent{
		Kind:       enums.MailKindAdminNotice,
		RequestID:  requestID,
		Subject:    "New chat access request",
		Body:       "Ana asked for access",
		Recipients: []string{"admin@example.com"},
	})
}

func TestEventRegistryResolveRejectsInvalidPayload(t *testing.T) {
	reg := newTestEventRegistry(t)
	requestID := uuid.New()

	cases := map[string]payloads.MailRequestedEvent{
		"bad recipient":  {Kind: enums.MailKindAdminNotice, RequestID: requestID, Subject: "s", Body: "b", Recipients: []string{"not-an-email"}},
		"no recipients":  {Kind: enums.MailKindAdminNotice, RequestID: requestID, Subject: "s", Body: "b"},
		"unknown kind":   {Kind: enums.MailKind("digest"), RequestID: requestID, Subject: "s", Body: "b", Recipients: []string{"a@example.com"}},
		"missing body":   {Kind: enums.MailKindAdminNotice, RequestID: requestID, Subject: "s", Recipients: []string{"a@example.com"}},
		"nil request id": {Kind: enums.MailKindAdminNotice, Subject: "s", Body: "b", Recipients: []string{"a@example.com"}},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(models.OutboxEvent{
				EventType:     enums.EventMailRequested,
				AggregateType: enums.AggregateAccessRequest,
				AggregateID:   requestID,
				Payload:       mustEnvelope(t, mustMarshal(t, payload)),
			})
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestEventRegistryResolveEnvelopeChecks(t *testing.T) {
	reg := newTestEventRegistry(t)
	requestID := uuid.New()
	data := validMailPayload(t, requestID)

	for name, envelope := range map[string]outbox.PayloadEnvelope{
		"future version": {Version: outbox.CurrentEnvelopeVersion + 1, EventID: uuid.NewString(), Data: data},
		"zero version":   {Version: 0, EventID: uuid.NewString(), Data: data},
		"bad event id":   {Version: 1, EventID: "evt-1", Data: data},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(models.OutboxEvent{
				EventType:     enums.EventMailRequested,
				AggregateType: enums.AggregateAccessRequest,
				AggregateID:   requestID,
				Payload:       mustMarshal(t, envelope),
			})
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func TestResolvedEventAttributes(t *testing.T) {
	reg := newTestEventRegistry(t)
	requestID := uuid.New()

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventMailRequested,
		AggregateType: enums.AggregateAccessRequest,
		AggregateID:   requestID,
		Payload:       mustEnvelope(t, validMailPayload(t, requestID)),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	attrs := resolved.Attributes()
	if attrs["mail_kind"] != string(enums.MailKindAdminNotice) {
		t.Fatalf("unexpected attributes %+v", attrs)
	}

	var empty *ResolvedEvent
	if empty.Attributes() != nil {
		t.Fatalf("expected nil attributes for nil event")
	}
}

func TestEventRegistryTopicsAndDuplicates(t *testing.T) {
	reg := newTestEventRegistry(t)
	topics := reg.Topics()
	if len(topics) != 1 || topics[0] != "mail-topic" {
		t.Fatalf("unexpected topics %v", topics)
	}

	err := reg.register(EventDescriptor{
		EventType:      enums.EventMailRequested,
		AggregateType:  enums.AggregateAccessRequest,
		Topic:          "mail-topic",
		PayloadFactory: func() any { return &payloads.MailRequestedEvent{} },
	})
	if err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := reg.register(EventDescriptor{EventType: enums.OutboxEventType("x")}); err == nil {
		t.Fatalf("expected incomplete descriptor error")
	}
}
