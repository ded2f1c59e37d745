package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// VISIT EVENTS
// =============================================================================

// TaskSummary is the presentation view of one selected task.
type TaskSummary struct {
	ID              string `json:"id"`
	Step            int    `json:"step"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	Kind            string `json:"kind"`
	DurationSeconds int    `json:"duration_seconds"`
	ActionLabel     string `json:"action_label"`
	ExternalLink    string `json:"external_link,omitempty"`
}

type VisitStartedPayload struct {
	Tasks             []TaskSummary `json:"tasks"`
	Total             int           `json:"total"`
	ResourceAvailable bool          `json:"resource_available"`
	CatalogDigest     string        `json:"catalog_digest,omitempty"`
}

func (VisitStartedPayload) EventType() EventType { return EventVisitStarted }

type VisitClosedPayload struct {
	Reason string `json:"reason,omitempty"`
}

func (VisitClosedPayload) EventType() EventType { return EventVisitClosed }

// =============================================================================
// TASK EVENTS
// =============================================================================

type TaskEligiblePayload struct {
	TaskID string `json:"task_id"`
	Index  int    `json:"index"`
}

func (TaskEligiblePayload) EventType() EventType { return EventTaskEligible }

type TaskStatePayload struct {
	TaskID           string `json:"task_id"`
	Index            int    `json:"index"`
	State            string `json:"state"`
	RemainingSeconds int    `json:"remaining_seconds"`
}

func (TaskStatePayload) EventType() EventType { return EventTaskState }

type TaskTickPayload struct {
	TaskID           string `json:"task_id"`
	RemainingSeconds int    `json:"remaining_seconds"`
	Paused           bool   `json:"paused,omitempty"`
}

func (TaskTickPayload) EventType() EventType { return EventTaskTick }

type OpenLinkPayload struct {
	TaskID string `json:"task_id"`
	URL    string `json:"url"`
}

func (OpenLinkPayload) EventType() EventType { return EventTaskOpenLink }

type ProgressPayload struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Fraction  float64 `json:"fraction"`
}

func (ProgressPayload) EventType() EventType { return EventSessionProgress }

// =============================================================================
// GATE EVENTS
// =============================================================================

type GateUnlockedPayload struct {
	ResourceAvailable bool `json:"resource_available"`
}

func (GateUnlockedPayload) EventType() EventType { return EventGateUnlocked }

// GateRevealedPayload only records that a reveal happened. The reference
// itself stays off the bus: history and event logs are readable without
// completing a visit.
type GateRevealedPayload struct{}

func (GateRevealedPayload) EventType() EventType { return EventGateRevealed }

type ResourceDecodeFailedPayload struct {
	Error string `json:"error"`
}

func (ResourceDecodeFailedPayload) EventType() EventType { return EventResourceDecodeFailed }

// =============================================================================
// TAMPER EVENTS
// =============================================================================

type ViolationPayload struct {
	Kind   string `json:"kind"`
	Count  int    `json:"count"`
	Detail string `json:"detail,omitempty"`
}

func (ViolationPayload) EventType() EventType { return EventTamperViolation }

type LockoutPayload struct {
	Kind    string `json:"kind"`
	Count   int    `json:"count"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (LockoutPayload) EventType() EventType { return EventTamperLockout }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func NewTypedEventWithSession(source EventSource, payload EventPayload, sessionID string) Event {
	return Event{
		ID:        generateEventID(),
		SessionID: sessionID,
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// =============================================================================
// TYPED PAYLOAD EXTRACTORS
// =============================================================================

func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	if e.Type != result.EventType() {
		return result, false
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}

func GetTaskStatePayload(e Event) (TaskStatePayload, bool) {
	return ExtractPayload[TaskStatePayload](e)
}

func GetTaskTickPayload(e Event) (TaskTickPayload, bool) {
	return ExtractPayload[TaskTickPayload](e)
}

func GetProgressPayload(e Event) (ProgressPayload, bool) {
	return ExtractPayload[ProgressPayload](e)
}

func GetViolationPayload(e Event) (ViolationPayload, bool) {
	return ExtractPayload[ViolationPayload](e)
}

func GetLockoutPayload(e Event) (LockoutPayload, bool) {
	return ExtractPayload[LockoutPayload](e)
}
