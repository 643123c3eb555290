package accessrequests

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
)

const (
	MsgPendingExists   = "a pending request already exists for this email."
	MsgAlreadyApproved = "this email has already been approved; access already granted."
	MsgAlreadyRejected = "this email has already been rejected; contact support."
)

type latestByEmailFinder interface {
	FindLatestByEmailTx(tx *gorm.DB, email string) (*models.AccessRequest, error)
}

// Validator rejects submissions whose email collides with the outcome of the
// most recent prior request for that email.
type Validator struct {
	repo latestByEmailFinder
}

func NewValidator(repo latestByEmailFinder) *Validator {
	return &Validator{repo: repo}
}

// Check must run inside the submission transaction, before insert.
func (v *Validator) Check(ctx context.Context, tx *gorm.DB, email string) error {
	latest, err := v.repo.FindLatestByEmailTx(tx.WithContext(ctx), email)
	if err != nil {
		return pkgerrors.Dependency(err, "lookup latest request for email")
	}
	if latest == nil {
		return nil
	}
	return pkgerrors.Field("email", conflictMessage(latest.Status))
}

func conflictMessage(status enums.AccessRequestStatus) string {
	switch status {
	case enums.AccessRequestStatusApproved:
		return MsgAlreadyApproved
	case enums.AccessRequestStatusRejected:
		return MsgAlreadyRejected
	default:
		return MsgPendingExists
	}
}
