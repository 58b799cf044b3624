package ipc

import (
	"refocus/internal/event"
	"refocus/internal/notify"
)

const SocketPath = "/tmp/refocus.sock"

// Command represents a command sent over the socket
type Command struct {
	Name string      `json:"name"`
	Args interface{} `json:"args,omitempty"`
}

// Response represents a response sent back over the socket
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"` // Optional data in response
}

// --- Command Argument Structs ---

type RecentEventsArgs struct {
	Minutes int `json:"minutes"`
}

type RecentRecordsArgs struct {
	Minutes int `json:"minutes"`
}

type InteractionArgs struct {
	RecordID  string `json:"record_id"`
	Clicked   *bool  `json:"clicked,omitempty"`
	Dismissed *bool  `json:"dismissed,omitempty"`
}

type CleanupArgs struct {
	Days int `json:"days"` // 0 means the configured retention
}

type SetProviderArgs struct {
	Type string `json:"type"` // "fallback" or "openai"
}

type ActivityArgs struct {
	Trigger string `json:"trigger"` // "mouse", "keyboard" or empty
}

// --- Command Names (Constants) ---

const (
	CmdPing          = "ping" // Simple health check
	CmdGetStatus     = "get_status"
	CmdGetStats      = "get_stats"
	CmdRecentEvents  = "recent_events"
	CmdRecentRecords = "recent_records"
	CmdInteraction   = "interaction"
	CmdCleanup       = "cleanup"
	CmdFlush         = "flush"
	CmdSetProvider   = "set_provider"
	CmdActivity      = "activity" // Manual activity signal, mostly for testing
)

// --- Status Response Data ---
type StatusData struct {
	SessionID        string `json:"session_id"`
	IdleState        string `json:"idle_state"` // "active" or "idle"
	LastActivityUnix int64  `json:"last_activity_unix"`
	PendingEvents    int    `json:"pending_events"`
	Provider         string `json:"provider"`
	CollectorMode    string `json:"collector_mode"`
	UptimeSecs       int64  `json:"uptime_secs"`
}

type EventsData struct {
	Events []event.Event `json:"events"`
}

type RecordsData struct {
	Records []notify.Record `json:"records"`
}

type CleanupData struct {
	Deleted int64 `json:"deleted"`
}
