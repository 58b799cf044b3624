package idle

import (
	"log"
	"sync"
	"time"
)

// WakeWatcher turns wall-clock jumps into resume signals. A suspended
// machine stops ticking, so the first tick after wake arrives with a
// gap far larger than the interval. Platforms with a native resume
// signal could feed the detector directly; this works everywhere.
type WakeWatcher struct {
	interval time.Duration
	slack    time.Duration
	ch       chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

func NewWakeWatcher(interval time.Duration) *WakeWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &WakeWatcher{
		interval: interval,
		slack:    2 * interval,
		ch:       make(chan struct{}, 1),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// Resumes delivers at most one pending signal per detected wake.
func (w *WakeWatcher) Resumes() <-chan struct{} {
	return w.ch
}

func (w *WakeWatcher) Start() {
	log.Printf("Starting wake watcher (interval: %s)", w.interval)
	go w.run()
}

func (w *WakeWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
}

func (w *WakeWatcher) run() {
	defer log.Println("Wake watcher stopped.")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	last := w.now()
	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			now := w.now()
			if w.jumped(last, now) {
				log.Printf("Clock jump of %s detected, treating as resume from suspend", now.Sub(last).Round(time.Second))
				select {
				case w.ch <- struct{}{}:
				default:
				}
			}
			last = now
		}
	}
}

func (w *WakeWatcher) jumped(last, now time.Time) bool {
	return now.Sub(last) > w.interval+w.slack
}
