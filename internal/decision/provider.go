package decision

import (
	"context"
	"sync"
	"time"

	"refocus/internal/event"
)

// VerdictGetFocusBack is the only verdict type the pipeline produces.
const VerdictGetFocusBack = "GET_FOCUS_BACK"

// Verdict is a provider's judgement of an idle transition.
type Verdict struct {
	Type         string  `json:"type"`
	ShouldNotify bool    `json:"should_notify"`
	Message      string  `json:"message"`
	Confidence   float64 `json:"confidence"`
	Reasoning    string  `json:"reasoning"`
}

// WindowActivity is one recent window-change observation.
type WindowActivity struct {
	ApplicationName string `json:"application_name"`
	WindowTitle     string `json:"window_title"`
	Timestamp       int64  `json:"timestamp"`
}

// Input is the context bundle a provider judges: the idle span that
// triggered the check plus a bounded view of recent session activity.
type Input struct {
	IdleSeconds    int64            `json:"idle_seconds"`
	RecentWindows  []WindowActivity `json:"recent_windows,omitempty"`
	SessionSeconds int64            `json:"session_seconds"`
	WindowChanges  int              `json:"window_changes"`
	TopApplication string           `json:"top_application,omitempty"`
}

// Provider produces a verdict for an idle transition.
type Provider interface {
	Name() string
	Generate(ctx context.Context, in Input) (Verdict, error)
}

const maxRecentWindows = 10

// BuildInput assembles the provider input from the idle span and the
// recent event window. Only window-change events feed the aggregates.
func BuildInput(idleFor time.Duration, events []event.Event, sessionStart, now time.Time) Input {
	in := Input{
		IdleSeconds:    int64(idleFor.Seconds()),
		SessionSeconds: int64(now.Sub(sessionStart).Seconds()),
	}

	counts := make(map[string]int)
	for _, e := range events {
		if e.Category != event.CategoryWindowChange {
			continue
		}
		p, err := e.WindowChange()
		if err != nil {
			continue
		}
		in.WindowChanges++
		counts[p.ApplicationName]++
		in.RecentWindows = append(in.RecentWindows, WindowActivity{
			ApplicationName: p.ApplicationName,
			WindowTitle:     p.WindowTitle,
			Timestamp:       e.Timestamp,
		})
	}

	// Events arrive ascending, so the tail holds the newest entries.
	if len(in.RecentWindows) > maxRecentWindows {
		in.RecentWindows = in.RecentWindows[len(in.RecentWindows)-maxRecentWindows:]
	}

	top := ""
	best := 0
	for app, n := range counts {
		if n > best || (n == best && app < top) {
			top, best = app, n
		}
	}
	in.TopApplication = top
	return in
}

// Selector holds the active provider and swaps it at runtime. Swaps do
// not coordinate with in-flight calls; the daemon's single decision
// loop is the only caller.
type Selector struct {
	mu      sync.RWMutex
	current Provider
}

func NewSelector(p Provider) *Selector {
	return &Selector{current: p}
}

func (s *Selector) SetProvider(p Provider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p
}

func (s *Selector) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Name()
}

func (s *Selector) Generate(ctx context.Context, in Input) (Verdict, error) {
	s.mu.RLock()
	p := s.current
	s.mu.RUnlock()
	return p.Generate(ctx, in)
}
