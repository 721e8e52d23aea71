package state

type TaskState string

const (
	StateNeedsAction      TaskState = "needs_action"
	StateInProgress       TaskState = "in_progress"
	StatePendingApproval  TaskState = "pending_approval"
	StateApproved         TaskState = "approved"
	StateRejected         TaskState = "rejected"
	StateDone             TaskState = "done"
	StateRejectedArchived TaskState = "rejected_archived"
	StateFailed           TaskState = "failed"
	StateQuarantine       TaskState = "quarantine"
)

func (s TaskState) String() string {
	return string(s)
}

var AllStates = []TaskState{
	StateNeedsAction,
	StateInProgress,
	StatePendingApproval,
	StateApproved,
	StateRejected,
	StateDone,
	StateRejectedArchived,
	StateFailed,
	StateQuarantine,
}

type Transition struct {
	From TaskState
	To   TaskState
}

var ValidTransitions = []Transition{
	{From: StateNeedsAction, To: StateInProgress},
	{From: StateInProgress, To: StatePendingApproval},
	{From: StateInProgress, To: StateDone},
	{From: StateInProgress, To: StateNeedsAction},
	{From: StatePendingApproval, To: StateApproved},
	{From: StatePendingApproval, To: StateRejected},
	{From: StateApproved, To: StateDone},
	{From: StateRejected, To: StateRejectedArchived},
	{From: StateNeedsAction, To: StateQuarantine},
	{From: StateNeedsAction, To: StateFailed},
	{From: StateInProgress, To: StateQuarantine},
	{From: StateInProgress, To: StateFailed},
	{From: StatePendingApproval, To: StateQuarantine},
	{From: StatePendingApproval, To: StateFailed},
	{From: StateApproved, To: StateQuarantine},
	{From: StateApproved, To: StateFailed},
	{From: StateRejected, To: StateQuarantine},
}

func IsValidTransition(from, to TaskState) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a record in this state is immutable
// (apart from archival metadata).
func IsTerminal(s TaskState) bool {
	switch s {
	case StateDone, StateRejectedArchived, StateFailed, StateQuarantine:
		return true
	}
	return false
}

// LegalSuccessors returns every state reachable from s in one move.
func LegalSuccessors(from TaskState) []TaskState {
	var out []TaskState
	for _, t := range ValidTransitions {
		if t.From == from {
			out = append(out, t.To)
		}
	}
	return out
}
