package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/pkg/enums"
)

// AccessRequest is an applicant's request for chat access.
type AccessRequest struct {
	ID        uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	Name      string                    `gorm:"column:name;not null"`
	Email     string                    `gorm:"column:email;not null"`
	Reason    string                    `gorm:"column:reason;not null"`
	Status    enums.AccessRequestStatus `gorm:"column:status;type:access_request_status;not null"`
	CreatedAt time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (AccessRequest) TableName() string {
	return "access_requests"
}

// String renders the record as "<name> (<status>)".
func (r AccessRequest) String() string {
	return fmt.Sprintf("%s (%s)", r.Name, r.Status)
}
