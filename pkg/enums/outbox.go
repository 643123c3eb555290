package enums

// OutboxAggregateType maps to aggregate_type_enum. Every outbox row hangs off
// one aggregate.
type OutboxAggregateType string

const AggregateAccessRequest OutboxAggregateType = "access_request"

var aggregateTypes = set[OutboxAggregateType]{AggregateAccessRequest}

func (a OutboxAggregateType) IsValid() bool { return aggregateTypes.has(a) }

// OutboxEventType maps to event_type_enum.
type OutboxEventType string

const EventMailRequested OutboxEventType = "mail_requested"

var eventTypes = set[OutboxEventType]{EventMailRequested}

func (e OutboxEventType) IsValid() bool { return eventTypes.has(e) }
