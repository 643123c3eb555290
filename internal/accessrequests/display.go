package accessrequests

import "github.com/angelmondragon/chataccess/pkg/enums"

// StatusDisplay is the presentation pair shown for a status.
type StatusDisplay struct {
	Status enums.AccessRequestStatus `json:"status"`
	Label  string                    `json:"label"`
	Color  string                    `json:"color"`
}

const unknownColor = "gray"

var displayByStatus = map[enums.AccessRequestStatus]StatusDisplay{
	enums.AccessRequestStatusPending:  {Status: enums.AccessRequestStatusPending, Label: "Pending", Color: "orange"},
	enums.AccessRequestStatusApproved: {Status: enums.AccessRequestStatusApproved, Label: "Approved", Color: "green"},
	enums.AccessRequestStatusRejected: {Status: enums.AccessRequestStatusRejected, Label: "Rejected", Color: "red"},
}

// DisplayFor returns the label/color pair for status; unknown values render gray.
func DisplayFor(status enums.AccessRequestStatus) StatusDisplay {
	if d, ok := displayByStatus[status]; ok {
		return d
	}
	return StatusDisplay{Status: status, Label: string(status), Color: unknownColor}
}

// Displays lists the mapping for every known status.
func Displays() []StatusDisplay {
	statuses := enums.AccessRequestStatuses()
	out := make([]StatusDisplay, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, DisplayFor(s))
	}
	return out
}
