package collector

import (
	"context"
	"time"

	"refocus/internal/event"
)

// Collector watches the desktop and feeds the pipeline: window focus
// changes go to output, raw input activity goes to the activity
// callback so the idle detector can refresh its window.
type Collector interface {
	Start(ctx context.Context, interval time.Duration, output chan<- event.Event, activity func(event.Trigger)) error
	Stop() error
	// GetCurrentFocus could be useful for immediate checks if needed
	GetCurrentFocus() (event.FocusInfo, error)
}

// Noop is the collector for headless sessions. It parks until stopped
// and never reports focus or activity.
type Noop struct {
	stopChan chan struct{}
}

func NewNoop() *Noop {
	return &Noop{stopChan: make(chan struct{})}
}

func (n *Noop) Start(ctx context.Context, interval time.Duration, output chan<- event.Event, activity func(event.Trigger)) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopChan:
		return nil
	}
}

func (n *Noop) Stop() error {
	close(n.stopChan)
	return nil
}

func (n *Noop) GetCurrentFocus() (event.FocusInfo, error) {
	return event.FocusInfo{}, nil
}
