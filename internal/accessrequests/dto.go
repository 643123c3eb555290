package accessrequests

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/chataccess/pkg/db/models"
	"github.com/angelmondragon/chataccess/pkg/enums"
)

// Item is the API representation of an access request.
type Item struct {
	ID        uuid.UUID                 `json:"id"`
	Name      string                    `json:"name"`
	Email     string                    `json:"email"`
	Reason    string                    `json:"reason"`
	Status    enums.AccessRequestStatus `json:"status"`
	Display   StatusDisplay             `json:"status_display"`
	CreatedAt time.Time                 `json:"created_at"`
}

// ToItem maps a stored row to its API shape.
func ToItem(row models.AccessRequest) Item {
	return Item{
		ID:        row.ID,
		Name:      row.Name,
		Email:     row.Email,
		Reason:    row.Reason,
		Status:    row.Status,
		Display:   DisplayFor(row.Status),
		CreatedAt: row.CreatedAt,
	}
}

func toItems(rows []models.AccessRequest) []Item {
	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		items = append(items, ToItem(row))
	}
	return items
}
