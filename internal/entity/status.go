package entity

// Status is the lifecycle state of an order. Values are stored as strings so
// the history ledger stays readable without joins.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusNew        Status = "NEW"
	StatusClaimed    Status = "CLAIMED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusCanceled   Status = "CANCELED"
)

// transitions is the single source of truth for legal status changes. Every
// mutation path (direct update, claim, application approval) consults it, so
// business rules cannot diverge between entry points.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusNew, StatusCanceled},
	StatusNew:        {StatusClaimed, StatusCanceled},
	StatusClaimed:    {StatusInProgress, StatusCanceled},
	StatusInProgress: {StatusDone, StatusCanceled},
	StatusDone:       {},
	StatusCanceled:   {},
}

// Valid reports whether s is one of the known order statuses.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from s to next is allowed by the
// lifecycle table. Terminal states (DONE, CANCELED) allow nothing.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Claimed reports whether s is a state in which the order must carry a
// claimed_by identifier.
func (s Status) Claimed() bool {
	switch s {
	case StatusClaimed, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

func (s Status) String() string { return string(s) }

// ApplicationStatus is the review state of an order application.
// PENDING is the only non-terminal state.
type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "PENDING"
	ApplicationApproved ApplicationStatus = "APPROVED"
	ApplicationRejected ApplicationStatus = "REJECTED"
)

func (s ApplicationStatus) String() string { return string(s) }
