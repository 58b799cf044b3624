package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryWindowChange Category = "window-change"
	CategoryIdle         Category = "idle"
	CategoryOther        Category = "other"
	// Add more as needed (kept closed for now; unknown categories are rejected upstream)
)

// Trigger identifies the input source that ended an idle period.
type Trigger string

const (
	TriggerMouse    Trigger = "mouse"
	TriggerKeyboard Trigger = "keyboard"
	TriggerUnknown  Trigger = "unknown"
)

// Event structure persisted to the activity log, one JSON object per line.
type Event struct {
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Category  Category        `json:"category"`
	Payload   json.RawMessage `json:"payload"`
	SessionID string          `json:"session_id"`
}

// WindowChangePayload is the payload for CategoryWindowChange.
type WindowChangePayload struct {
	ApplicationName string `json:"application_name"`
	WindowTitle     string `json:"window_title"`
}

// IdlePayload is the payload for CategoryIdle. WasIdle is true on idle
// entry and false on idle exit; ResumeTrigger is set on exit only.
type IdlePayload struct {
	IdleDuration  int64   `json:"idle_duration"` // seconds
	WasIdle       bool    `json:"was_idle"`
	ResumeTrigger Trigger `json:"resume_trigger,omitempty"`
}

// MarkerPayload is the payload for CategoryOther lifecycle markers.
type MarkerPayload struct {
	Kind string `json:"kind"`
}

const (
	MarkerSessionStart = "session_start"
	MarkerSessionStop  = "session_stop"
)

// Used for communication channels
type FocusInfo struct {
	AppName string
	Title   string
}

func newEvent(cat Category, sessionID string, at time.Time, payload interface{}) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Event{
		ID:        uuid.NewString(),
		Timestamp: at.UnixMilli(),
		Category:  cat,
		Payload:   raw,
		SessionID: sessionID,
	}
}

func NewWindowChange(sessionID string, at time.Time, appName, title string) Event {
	return newEvent(CategoryWindowChange, sessionID, at, WindowChangePayload{
		ApplicationName: appName,
		WindowTitle:     title,
	})
}

func NewIdle(sessionID string, at time.Time, p IdlePayload) Event {
	return newEvent(CategoryIdle, sessionID, at, p)
}

func NewMarker(sessionID string, at time.Time, kind string) Event {
	return newEvent(CategoryOther, sessionID, at, MarkerPayload{Kind: kind})
}

// WindowChange decodes the payload of a CategoryWindowChange event.
func (e Event) WindowChange() (WindowChangePayload, error) {
	var p WindowChangePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}

// Idle decodes the payload of a CategoryIdle event.
func (e Event) Idle() (IdlePayload, error) {
	var p IdlePayload
	err := json.Unmarshal(e.Payload, &p)
	return p, err
}
