package types

import "fmt"

// ActionStatus is the outcome recorded on an Action Result
type ActionStatus string

const (
	ActionStatusSuccess ActionStatus = "success"
	ActionStatusQueued  ActionStatus = "queued"
	ActionStatusFailed  ActionStatus = "failed"
)

// AllActionStatuses returns all valid action statuses
func AllActionStatuses() []ActionStatus {
	return []ActionStatus{
		ActionStatusSuccess,
		ActionStatusQueued,
		ActionStatusFailed,
	}
}

// IsValid checks if the action status is valid
func (s ActionStatus) IsValid() bool {
	switch s {
	case ActionStatusSuccess,
		ActionStatusQueued,
		ActionStatusFailed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the action status
func (s ActionStatus) String() string {
	return string(s)
}

// ParseActionStatus parses a string into an ActionStatus
func ParseActionStatus(s string) (ActionStatus, error) {
	status := ActionStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid action status: %s", s)
	}
	return status, nil
}
