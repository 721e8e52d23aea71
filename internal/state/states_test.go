package state

import (
	"testing"
)

func TestTaskState_String(t *testing.T) {
	tests := []struct {
		name     string
		state    TaskState
		expected string
	}{
		{
			name:     "Needs action state",
			state:    StateNeedsAction,
			expected: "needs_action",
		},
		{
			name:     "In progress state",
			state:    StateInProgress,
			expected: "in_progress",
		},
		{
			name:     "Pending approval state",
			state:    StatePendingApproval,
			expected: "pending_approval",
		},
		{
			name:     "Done state",
			state:    StateDone,
			expected: "done",
		},
		{
			name:     "Quarantine state",
			state:    StateQuarantine,
			expected: "quarantine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.state.String()
			if result != tt.expected {
				t.Errorf("String() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     TaskState
		to       TaskState
		expected bool
	}{
		{
			name:     "Valid: NeedsAction to InProgress",
			from:     StateNeedsAction,
			to:       StateInProgress,
			expected: true,
		},
		{
			name:     "Valid: InProgress to PendingApproval",
			from:     StateInProgress,
			to:       StatePendingApproval,
			expected: true,
		},
		{
			name:     "Valid: InProgress back to NeedsAction",
			from:     StateInProgress,
			to:       StateNeedsAction,
			expected: true,
		},
		{
			name:     "Valid: PendingApproval to Approved",
			from:     StatePendingApproval,
			to:       StateApproved,
			expected: true,
		},
		{
			name:     "Valid: PendingApproval to Rejected",
			from:     StatePendingApproval,
			to:       StateRejected,
			expected: true,
		},
		{
			name:     "Valid: Approved to Done",
			from:     StateApproved,
			to:       StateDone,
			expected: true,
		},
		{
			name:     "Valid: Rejected to RejectedArchived",
			from:     StateRejected,
			to:       StateRejectedArchived,
			expected: true,
		},
		{
			name:     "Invalid: NeedsAction straight to Done",
			from:     StateNeedsAction,
			to:       StateDone,
			expected: false,
		},
		{
			name:     "Invalid: PendingApproval to Done without decision",
			from:     StatePendingApproval,
			to:       StateDone,
			expected: false,
		},
		{
			name:     "Invalid: Approved back to NeedsAction",
			from:     StateApproved,
			to:       StateNeedsAction,
			expected: false,
		},
		{
			name:     "Invalid: Done to anything",
			from:     StateDone,
			to:       StateInProgress,
			expected: false,
		},
		{
			name:     "Invalid: Quarantine is terminal",
			from:     StateQuarantine,
			to:       StateNeedsAction,
			expected: false,
		},
		{
			name:     "Invalid: RejectedArchived is terminal",
			from:     StateRejectedArchived,
			to:       StateNeedsAction,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := []TaskState{StateDone, StateRejectedArchived, StateFailed, StateQuarantine}
	for _, s := range terminal {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%v) = false, want true", s)
		}
	}

	active := []TaskState{StateNeedsAction, StateInProgress, StatePendingApproval, StateApproved, StateRejected}
	for _, s := range active {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%v) = true, want false", s)
		}
	}
}

func TestTerminalStatesHaveNoSuccessors(t *testing.T) {
	for _, s := range AllStates {
		successors := LegalSuccessors(s)
		if IsTerminal(s) && len(successors) != 0 {
			t.Errorf("terminal state %v has successors %v", s, successors)
		}
		if !IsTerminal(s) && len(successors) == 0 {
			t.Errorf("active state %v has no successors", s)
		}
	}
}
