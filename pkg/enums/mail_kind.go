package enums

// MailKind identifies which notification a queued mail job carries.
type MailKind string

const (
	MailKindAdminNotice           MailKind = "admin_notice"
	MailKindApplicantConfirmation MailKind = "applicant_confirmation"
	MailKindDecisionApproved      MailKind = "decision_approved"
	MailKindDecisionRejected      MailKind = "decision_rejected"
)

var mailKinds = set[MailKind]{
	MailKindAdminNotice,
	MailKindApplicantConfirmation,
	MailKindDecisionApproved,
	MailKindDecisionRejected,
}

func (k MailKind) String() string { return string(k) }

func (k MailKind) IsValid() bool { return mailKinds.has(k) }

func ParseMailKind(value string) (MailKind, error) {
	return mailKinds.parse(value, "mail kind")
}
