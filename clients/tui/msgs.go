package tui

import "github.com/dohr-michael/taskgate/internal/events"

// VisitStartedMsg carries the selected tasks.
type VisitStartedMsg struct {
	Tasks             []events.TaskSummary
	ResourceAvailable bool
}

// TaskEligibleMsg marks the next task as startable.
type TaskEligibleMsg struct {
	TaskID string
}

// TaskStateMsg reports a task lifecycle transition.
type TaskStateMsg struct {
	TaskID    string
	State     string
	Remaining int
}

// TaskTickMsg reports one countdown step.
type TaskTickMsg struct {
	TaskID    string
	Remaining int
	Paused    bool
}

// OpenLinkMsg asks the host to open a task's external link.
type OpenLinkMsg struct {
	URL string
}

// ProgressMsg carries the completed fraction.
type ProgressMsg struct {
	Completed int
	Total     int
	Fraction  float64
}

// UnlockedMsg signals that every task is completed.
type UnlockedMsg struct {
	ResourceAvailable bool
}

// DecodeFailedMsg signals a missing or malformed resource reference.
type DecodeFailedMsg struct {
	Error string
}

// ViolationMsg reports a tamper violation.
type ViolationMsg struct {
	Kind  string
	Count int
}

// LockoutMsg replaces the whole view with the lockout notice.
type LockoutMsg struct {
	Kind    string
	Title   string
	Message string
}

// VisitClosedMsg signals the visit runtime stopped.
type VisitClosedMsg struct {
	Reason string
}

// openErrorMsg carries an error from the link opener.
type openErrorMsg struct {
	err error
}
