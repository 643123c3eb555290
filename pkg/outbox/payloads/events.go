package payloads

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/pkg/enums"
)

// MailRequestedEvent is one queued email job. Subject and body are rendered
// when the job is enqueued so the worker only needs a transport.
type MailRequestedEvent struct {
	Kind       enums.MailKind `json:"kind" validate:"required"`
	RequestID  uuid.UUID      `json:"request_id"`
	Subject    string         `json:"subject" validate:"required,max=255"`
	Body       string         `json:"body" validate:"required"`
	Recipients []string       `json:"recipients" validate:"required,min=1,dive,email"`
}
