package notifications

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/chataccess/pkg/config"
	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/mailer"
)

// RejectionReasonPlaceholder is used when a rejection carries no reason.
const RejectionReasonPlaceholder = "not specified"

const signature = "Regards,\nThe Team"

// Templates composes notification emails. It never sends anything.
type Templates struct {
	mail  config.MailConfig
	links config.LinksConfig
}

func NewTemplates(mail config.MailConfig, links config.LinksConfig) Templates {
	return Templates{mail: mail, links: links}
}

// AdminNotice tells the administrator a new request needs a decision.
func (t Templates) AdminNotice(req models.AccessRequest) mailer.Message {
	body := fmt.Sprintf(
		"A new chat access request was received:\n\n"+
			"Name: %s\n"+
			"Email: %s\n"+
			"Reason: %s\n\n"+
			"Approve or reject it here: %s",
		req.Name, req.Email, req.Reason, t.DecisionLink(req),
	)
	return mailer.Message{
		Subject:    "New chat access request",
		Body:       body,
		Recipients: []string{t.mail.AdminRecipient()},
	}
}

// ApplicantConfirmation acknowledges receipt; it carries no decision.
func (t Templates) ApplicantConfirmation(req models.AccessRequest) mailer.Message {
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"We received your chat access request and will review it shortly.\n\n"+
			"You will get another email once it has been approved or rejected.\n\n%s",
		req.Name, signature,
	)
	return mailer.Message{
		Subject:    "We received your chat access request",
		Body:       body,
		Recipients: []string{req.Email},
	}
}

// Approved tells the applicant where to enter the chat.
func (t Templates) Approved(req models.AccessRequest) mailer.Message {
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"Your chat access request has been approved!\n\n"+
			"Join now: %s\n\n%s",
		req.Name, t.links.ChatBaseURL, signature,
	)
	return mailer.Message{
		Subject:    "Your access request was approved",
		Body:       body,
		Recipients: []string{req.Email},
	}
}

// Rejected tells the applicant the request was declined and why.
func (t Templates) Rejected(req models.AccessRequest, reason string) mailer.Message {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = RejectionReasonPlaceholder
	}
	body := fmt.Sprintf(
		"Hello %s,\n\n"+
			"Unfortunately your chat access request was rejected.\n"+
			"Reason: %s\n\n%s",
		req.Name, reason, signature,
	)
	return mailer.Message{
		Subject:    "Your access request was rejected",
		Body:       body,
		Recipients: []string{req.Email},
	}
}

// DecisionLink points the administrator at the record.
func (t Templates) DecisionLink(req models.AccessRequest) string {
	base := strings.TrimRight(t.links.AdminBaseURL, "/")
	return fmt.Sprintf("%s/access-requests/%s", base, req.ID)
}
