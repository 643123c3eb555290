package accessrequests

import "github.com/angelmondragon/chataccess/pkg/enums"

// Transition decides whether moving from previous to next is a decision that
// must notify the applicant. It returns the decision status and true only when
// the status actually changed into approved or rejected.
func Transition(previous, next enums.AccessRequestStatus) (enums.AccessRequestStatus, bool) {
	if previous == next {
		return "", false
	}
	if !next.IsTerminal() {
		return "", false
	}
	return next, true
}
