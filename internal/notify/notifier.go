package notify

import "log"

// Outgoing is a notification handed to the dispatch layer. RecordID
// lets the shell report interactions back over IPC afterwards.
type Outgoing struct {
	RecordID string `json:"record_id"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Notifier delivers notifications to the user. The daemon ships the
// log notifier; a desktop shell can swap in real rendering.
type Notifier interface {
	Send(n Outgoing) error
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Send(n Outgoing) error {
	log.Printf("NOTIFY [%s] %s (record %s)", n.Category, n.Message, n.RecordID)
	return nil
}
