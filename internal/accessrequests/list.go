package accessrequests

import (
	"strings"

	"github.com/angelmondragon/chataccess/pkg/enums"
	pkgerrors "github.com/angelmondragon/chataccess/pkg/errors"
	"github.com/angelmondragon/chataccess/pkg/pagination"
)

// Ordering is a listing sort key; a leading "-" means descending.
type Ordering string

const (
	OrderCreatedAtAsc  Ordering = "created_at"
	OrderCreatedAtDesc Ordering = "-created_at"
	OrderStatusAsc     Ordering = "status"
	OrderStatusDesc    Ordering = "-status"

	DefaultOrdering = OrderCreatedAtDesc
)

var validOrderings = []Ordering{
	OrderCreatedAtAsc,
	OrderCreatedAtDesc,
	OrderStatusAsc,
	OrderStatusDesc,
}

// ParseOrdering validates raw input, defaulting to newest first.
func ParseOrdering(value string) (Ordering, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return DefaultOrdering, nil
	}
	for _, candidate := range validOrderings {
		if string(candidate) == trimmed {
			return candidate, nil
		}
	}
	return "", pkgerrors.Field("ordering", "ordering must be one of created_at, -created_at, status, -status")
}

func (o Ordering) column() string {
	return strings.TrimPrefix(string(o), "-")
}

func (o Ordering) direction() string {
	if strings.HasPrefix(string(o), "-") {
		return "DESC"
	}
	return "ASC"
}

func (o Ordering) clause() string {
	return o.column() + " " + o.direction()
}

// ListParams holds the admin listing filters.
type ListParams struct {
	Status   string
	Search   string
	Ordering string
	Limit    int
	Offset   int
}

// ListResult is one page of requests.
type ListResult struct {
	Items []Item          `json:"items"`
	Page  pagination.Page `json:"page"`
}

type listQuery struct {
	status   enums.AccessRequestStatus
	search   string
	ordering Ordering
	limit    int
	offset   int
}

func buildListQuery(params ListParams) (listQuery, error) {
	q := listQuery{search: strings.TrimSpace(params.Search)}

	if raw := strings.TrimSpace(params.Status); raw != "" {
		status, err := enums.ParseAccessRequestStatus(raw)
		if err != nil {
			return listQuery{}, pkgerrors.Field("status", "status must be one of pending, approved, rejected")
		}
		q.status = status
	}

	ordering, err := ParseOrdering(params.Ordering)
	if err != nil {
		return listQuery{}, err
	}
	q.ordering = ordering

	page := pagination.Params{Limit: params.Limit, Offset: params.Offset}.Normalize()
	q.limit = page.Limit
	q.offset = page.Offset
	return q, nil
}
