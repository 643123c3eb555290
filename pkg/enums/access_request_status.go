package enums

import (
	"slices"
	"strings"
)

// AccessRequestStatus maps to the access_request_status enum in Postgres.
type AccessRequestStatus string

const (
	AccessRequestStatusPending  AccessRequestStatus = "pending"
	AccessRequestStatusApproved AccessRequestStatus = "approved"
	AccessRequestStatusRejected AccessRequestStatus = "rejected"
)

var accessRequestStatuses = set[AccessRequestStatus]{
	AccessRequestStatusPending,
	AccessRequestStatusApproved,
	AccessRequestStatusRejected,
}

// AccessRequestStatuses returns the statuses in display order.
func AccessRequestStatuses() []AccessRequestStatus {
	return slices.Clone(accessRequestStatuses)
}

func (s AccessRequestStatus) String() string { return string(s) }

func (s AccessRequestStatus) IsValid() bool { return accessRequestStatuses.has(s) }

// IsTerminal reports whether the status is an administrator decision.
func (s AccessRequestStatus) IsTerminal() bool {
	return s == AccessRequestStatusApproved || s == AccessRequestStatusRejected
}

// ParseAccessRequestStatus accepts any casing and surrounding whitespace.
func ParseAccessRequestStatus(value string) (AccessRequestStatus, error) {
	return accessRequestStatuses.parse(strings.ToLower(strings.TrimSpace(value)), "access request status")
}
