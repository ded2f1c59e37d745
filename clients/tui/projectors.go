package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/dohr-michael/taskgate/internal/events"
)

// Project converts a visit event into a typed tea.Msg.
// Returns nil for events that don't map to a TUI message.
func Project(e events.Event) tea.Msg {
	switch e.Type {
	case events.EventVisitStarted:
		p, ok := events.ExtractPayload[events.VisitStartedPayload](e)
		if !ok {
			return nil
		}
		return VisitStartedMsg{Tasks: p.Tasks, ResourceAvailable: p.ResourceAvailable}
	case events.EventTaskEligible:
		p, ok := events.ExtractPayload[events.TaskEligiblePayload](e)
		if !ok {
			return nil
		}
		return TaskEligibleMsg{TaskID: p.TaskID}
	case events.EventTaskState:
		p, ok := events.GetTaskStatePayload(e)
		if !ok {
			return nil
		}
		return TaskStateMsg{TaskID: p.TaskID, State: p.State, Remaining: p.RemainingSeconds}
	case events.EventTaskTick:
		p, ok := events.GetTaskTickPayload(e)
		if !ok {
			return nil
		}
		return TaskTickMsg{TaskID: p.TaskID, Remaining: p.RemainingSeconds, Paused: p.Paused}
	case events.EventTaskOpenLink:
		p, ok := events.ExtractPayload[events.OpenLinkPayload](e)
		if !ok {
			return nil
		}
		return OpenLinkMsg{URL: p.URL}
	case events.EventSessionProgress:
		p, ok := events.GetProgressPayload(e)
		if !ok {
			return nil
		}
		return ProgressMsg{Completed: p.Completed, Total: p.Total, Fraction: p.Fraction}
	case events.EventGateUnlocked:
		p, ok := events.ExtractPayload[events.GateUnlockedPayload](e)
		if !ok {
			return nil
		}
		return UnlockedMsg{ResourceAvailable: p.ResourceAvailable}
	case events.EventResourceDecodeFailed:
		p, ok := events.ExtractPayload[events.ResourceDecodeFailedPayload](e)
		if !ok {
			return nil
		}
		return DecodeFailedMsg{Error: p.Error}
	case events.EventTamperViolation:
		p, ok := events.GetViolationPayload(e)
		if !ok {
			return nil
		}
		return ViolationMsg{Kind: p.Kind, Count: p.Count}
	case events.EventTamperLockout:
		p, ok := events.GetLockoutPayload(e)
		if !ok {
			return nil
		}
		return LockoutMsg{Kind: p.Kind, Title: p.Title, Message: p.Message}
	case events.EventVisitClosed:
		p, _ := events.ExtractPayload[events.VisitClosedPayload](e)
		return VisitClosedMsg{Reason: p.Reason}
	default:
		return nil
	}
}
