package idle

import (
	"fmt"
	"log"
	"sync"
	"time"

	"refocus/internal/event"
)

const (
	DefaultThreshold    = 300 * time.Second
	DefaultPollInterval = 30 * time.Second

	sendTimeout = 100 * time.Millisecond
)

type State string

const (
	StateActive State = "active"
	StateIdle   State = "idle"
)

// Transition is published on the updates channel on every state change.
// IdleDuration is the inactivity gap that was crossed (entry) or the
// full idle span that just ended (exit).
type Transition struct {
	To           State
	IdleDuration time.Duration
	Trigger      event.Trigger // set on idle exit
	At           time.Time
}

// Status is the answer to the status query.
type Status struct {
	Running bool `json:"running"`
}

// Detector tracks the Active/Idle state of the session. A poll ticker
// compares now-lastActivity against the threshold; producers report
// input through NotifyActivity; an optional resume channel feeds
// wake-from-suspend signals. Each transition emits one idle-category
// event on the events channel and one Transition on the updates channel.
type Detector struct {
	mu           sync.Mutex
	threshold    time.Duration
	pollInterval time.Duration
	sessionID    string

	state        State
	lastActivity time.Time
	running      bool
	stopped      bool

	events  chan<- event.Event
	updates chan<- Transition
	resume  <-chan struct{}

	stopChan chan struct{}

	now func() time.Time
}

// NewDetector builds a detector in the Active state with lastActivity
// set to construction time. resume may be nil.
func NewDetector(threshold, pollInterval time.Duration, sessionID string, events chan<- event.Event, updates chan<- Transition, resume <-chan struct{}) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	d := &Detector{
		threshold:    threshold,
		pollInterval: pollInterval,
		sessionID:    sessionID,
		state:        StateActive,
		events:       events,
		updates:      updates,
		resume:       resume,
		stopChan:     make(chan struct{}),
		now:          time.Now,
	}
	d.lastActivity = d.now()
	return d
}

// Start launches the poll loop.
func (d *Detector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return fmt.Errorf("idle detector already stopped")
	}
	if d.running {
		return fmt.Errorf("idle detector already running")
	}
	d.running = true
	log.Printf("Starting idle detector (threshold: %s, poll: %s)", d.threshold, d.pollInterval)
	go d.run()
	return nil
}

// Stop cancels the poll loop and detaches the resume source. Safe to
// call more than once and before Start.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.running = false
	close(d.stopChan)
	log.Println("Stopping idle detector")
}

func (d *Detector) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{Running: d.running}
}

// IsIdle reports whether the session is currently Idle.
func (d *Detector) IsIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == StateIdle
}

// LastActivity returns the time of the most recent recorded activity.
func (d *Detector) LastActivity() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastActivity
}

func (d *Detector) run() {
	defer log.Println("Idle detector loop stopped.")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.checkIdle()
		case _, ok := <-d.resume:
			if !ok {
				d.resume = nil
				continue
			}
			d.handleResume()
		}
	}
}

// NotifyActivity records producer input. When Idle it transitions back
// to Active and emits the exit event; when already Active it only
// refreshes lastActivity.
func (d *Detector) NotifyActivity(trigger event.Trigger) {
	if trigger == "" {
		trigger = event.TriggerUnknown
	}

	d.mu.Lock()
	now := d.now()
	wasIdle := d.state == StateIdle
	var gap time.Duration
	if wasIdle {
		gap = now.Sub(d.lastActivity)
		d.state = StateActive
	}
	d.lastActivity = now
	d.mu.Unlock()

	if !wasIdle {
		return
	}

	log.Printf("Active again after %s idle (trigger: %s)", gap.Round(time.Second), trigger)
	d.emit(event.NewIdle(d.sessionID, now, event.IdlePayload{
		IdleDuration:  int64(gap.Seconds()),
		WasIdle:       false,
		ResumeTrigger: trigger,
	}), Transition{To: StateActive, IdleDuration: gap, Trigger: trigger, At: now})
}

// checkIdle runs the Active -> Idle threshold check. Nothing happens
// when already Idle, so repeated ticks cannot emit duplicate events.
func (d *Detector) checkIdle() {
	d.mu.Lock()
	now := d.now()
	if d.state == StateIdle {
		d.mu.Unlock()
		return
	}
	gap := now.Sub(d.lastActivity)
	if gap < d.threshold {
		d.mu.Unlock()
		return
	}
	d.state = StateIdle
	d.mu.Unlock()

	log.Printf("Idle threshold crossed after %s of inactivity", gap.Round(time.Second))
	d.emit(event.NewIdle(d.sessionID, now, event.IdlePayload{
		IdleDuration: int64(gap.Seconds()),
		WasIdle:      true,
	}), Transition{To: StateIdle, IdleDuration: gap, At: now})
}

// handleResume reacts to a wake-from-suspend signal: exit Idle when
// Idle, otherwise check the threshold right away since the sleep gap
// may already exceed it.
func (d *Detector) handleResume() {
	d.mu.Lock()
	idle := d.state == StateIdle
	d.mu.Unlock()

	log.Println("Resume signal received.")
	if idle {
		d.NotifyActivity(event.TriggerUnknown)
		return
	}
	d.checkIdle()
}

func (d *Detector) emit(e event.Event, tr Transition) {
	select {
	case d.events <- e:
	case <-d.stopChan:
		return
	case <-time.After(sendTimeout):
		log.Println("Warning: Timeout emitting idle event")
	}
	select {
	case d.updates <- tr:
	case <-d.stopChan:
	case <-time.After(sendTimeout):
		log.Println("Warning: Timeout emitting idle transition")
	}
}
