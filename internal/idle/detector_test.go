package idle

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refocus/internal/event"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestDetector(t *testing.T, threshold time.Duration) (*Detector, *fakeClock, chan event.Event, chan Transition) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
	events := make(chan event.Event, 16)
	updates := make(chan Transition, 16)
	d := NewDetector(threshold, time.Second, "sess", events, updates, nil)
	d.now = clock.Now
	d.lastActivity = clock.Now()
	return d, clock, events, updates
}

func drainEvents(ch chan event.Event) []event.Event {
	var out []event.Event
	for {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
}

func drainTransitions(ch chan Transition) []Transition {
	var out []Transition
	for {
		select {
		case tr := <-ch:
			out = append(out, tr)
		default:
			return out
		}
	}
}

func TestThresholdEntryAndExit(t *testing.T) {
	d, clock, events, updates := newTestDetector(t, 5*time.Minute)

	clock.Advance(4 * time.Minute)
	d.checkIdle()
	assert.Empty(t, drainEvents(events), "below threshold stays Active")
	assert.False(t, d.IsIdle())

	clock.Advance(90 * time.Second)
	d.checkIdle()
	require.True(t, d.IsIdle())

	emitted := drainEvents(events)
	require.Len(t, emitted, 1)
	assert.Equal(t, event.CategoryIdle, emitted[0].Category)
	payload, err := emitted[0].Idle()
	require.NoError(t, err)
	assert.True(t, payload.WasIdle)
	assert.EqualValues(t, 330, payload.IdleDuration)

	trs := drainTransitions(updates)
	require.Len(t, trs, 1)
	assert.Equal(t, StateIdle, trs[0].To)

	// More ticks while Idle must not emit again.
	clock.Advance(time.Minute)
	d.checkIdle()
	assert.Empty(t, drainEvents(events))

	clock.Advance(time.Minute)
	d.NotifyActivity(event.TriggerMouse)
	assert.False(t, d.IsIdle())

	emitted = drainEvents(events)
	require.Len(t, emitted, 1)
	payload, err = emitted[0].Idle()
	require.NoError(t, err)
	assert.False(t, payload.WasIdle)
	assert.Equal(t, event.TriggerMouse, payload.ResumeTrigger)
	assert.EqualValues(t, 450, payload.IdleDuration, "exit reports the full idle span")

	trs = drainTransitions(updates)
	require.Len(t, trs, 1)
	assert.Equal(t, StateActive, trs[0].To)
	assert.Equal(t, event.TriggerMouse, trs[0].Trigger)

	// Activity while already Active stays silent.
	d.NotifyActivity(event.TriggerKeyboard)
	assert.Empty(t, drainEvents(events))
	assert.Empty(t, drainTransitions(updates))
}

func TestActivityRefreshesWindow(t *testing.T) {
	d, clock, events, _ := newTestDetector(t, 5*time.Minute)

	clock.Advance(4 * time.Minute)
	d.NotifyActivity(event.TriggerKeyboard)
	clock.Advance(4 * time.Minute)
	d.checkIdle()

	assert.False(t, d.IsIdle())
	assert.Empty(t, drainEvents(events))
}

func TestResumeWhileIdleExits(t *testing.T) {
	d, clock, events, updates := newTestDetector(t, 5*time.Minute)

	clock.Advance(6 * time.Minute)
	d.checkIdle()
	require.True(t, d.IsIdle())
	drainEvents(events)
	drainTransitions(updates)

	clock.Advance(time.Minute)
	d.handleResume()
	assert.False(t, d.IsIdle())

	emitted := drainEvents(events)
	require.Len(t, emitted, 1)
	payload, err := emitted[0].Idle()
	require.NoError(t, err)
	assert.False(t, payload.WasIdle)
	assert.Equal(t, event.TriggerUnknown, payload.ResumeTrigger)
}

func TestResumeWhileActiveRunsCheck(t *testing.T) {
	d, clock, events, _ := newTestDetector(t, 5*time.Minute)

	// A suspend gap longer than the threshold enters Idle immediately.
	clock.Advance(30 * time.Minute)
	d.handleResume()

	require.True(t, d.IsIdle())
	emitted := drainEvents(events)
	require.Len(t, emitted, 1)
	payload, err := emitted[0].Idle()
	require.NoError(t, err)
	assert.True(t, payload.WasIdle)
	assert.EqualValues(t, 1800, payload.IdleDuration)
}

func TestStopIdempotent(t *testing.T) {
	d, _, _, _ := newTestDetector(t, 5*time.Minute)

	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)

	d.Stop()
	d.Stop()
	assert.False(t, d.Status().Running)

	assert.Error(t, d.Start(), "restart after stop is rejected")
}

func TestStopBeforeStart(t *testing.T) {
	d, _, _, _ := newTestDetector(t, 5*time.Minute)

	d.Stop()
	assert.False(t, d.Status().Running)
	assert.Error(t, d.Start())
}

func TestDoubleStart(t *testing.T) {
	d, _, _, _ := newTestDetector(t, 5*time.Minute)
	defer d.Stop()

	require.NoError(t, d.Start())
	assert.Error(t, d.Start())
}

func TestResumeSignalDelivery(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	resume := make(chan struct{}, 1)
	events := make(chan event.Event, 16)
	updates := make(chan Transition, 16)
	d := NewDetector(5*time.Minute, time.Hour, "sess", events, updates, resume)
	d.now = clock.Now
	d.lastActivity = clock.Now()

	require.NoError(t, d.Start())
	defer d.Stop()

	clock.Advance(10 * time.Minute)
	resume <- struct{}{}

	select {
	case e := <-events:
		payload, err := e.Idle()
		require.NoError(t, err)
		assert.True(t, payload.WasIdle, "suspend gap beyond threshold enters Idle")
	case <-time.After(2 * time.Second):
		t.Fatal("no idle event after resume signal")
	}
}

func TestWakeWatcherJumpDetection(t *testing.T) {
	w := NewWakeWatcher(30 * time.Second)
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.False(t, w.jumped(base, base.Add(30*time.Second)))
	assert.False(t, w.jumped(base, base.Add(60*time.Second)))
	assert.True(t, w.jumped(base, base.Add(5*time.Minute)))
}

func TestWakeWatcherStopIdempotent(t *testing.T) {
	w := NewWakeWatcher(time.Second)
	w.Start()
	w.Stop()
	w.Stop()
}
