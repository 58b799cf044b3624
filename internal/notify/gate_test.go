package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory RecordStore for gate tests.
type memStore struct {
	mu         sync.Mutex
	records    []Record
	failExists bool
}

func (m *memStore) Init(ctx context.Context) error { return nil }

func (m *memStore) Insert(ctx context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	return nil
}

func (m *memStore) SetInteraction(ctx context.Context, id string, clicked, dismissed *bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID != id {
			continue
		}
		if m.records[i].Clicked == nil {
			m.records[i].Clicked = clicked
		}
		if m.records[i].Dismissed == nil {
			m.records[i].Dismissed = dismissed
		}
		return true, nil
	}
	return false, nil
}

func (m *memStore) ExistsSince(ctx context.Context, category string, since int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failExists {
		return false, fmt.Errorf("store offline")
	}
	for _, r := range m.records {
		if r.Category == category && r.Timestamp >= since {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) RecordsSince(ctx context.Context, since int64) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, r := range m.records {
		if r.Timestamp >= since {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kept []Record
	var deleted int64
	for _, r := range m.records {
		if r.Timestamp < cutoff {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.records = kept
	return deleted, nil
}

func (m *memStore) Stats(ctx context.Context) (Stats, error) { return Stats{}, nil }

func (m *memStore) Close() error { return nil }

func newTestGate(t *testing.T) (*Gate, *memStore, func(time.Duration)) {
	t.Helper()
	store := &memStore{}
	gate := NewGate(store)

	current := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	gate.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}
	return gate, store, advance
}

func TestShouldSendCooldown(t *testing.T) {
	gate, _, advance := newTestGate(t)
	ctx := context.Background()
	cooldown := 10 * time.Minute

	assert.True(t, gate.ShouldSend(ctx, "idle_warning", cooldown), "empty history admits")

	_, err := gate.RecordAttempt(ctx, "idle_warning", "get back to it", nil)
	require.NoError(t, err)

	advance(5 * time.Minute)
	assert.False(t, gate.ShouldSend(ctx, "idle_warning", cooldown), "inside the window")
	assert.True(t, gate.ShouldSend(ctx, "good_job", 30*time.Minute), "categories are independent")

	advance(6 * time.Minute)
	assert.True(t, gate.ShouldSend(ctx, "idle_warning", cooldown), "window elapsed")
}

func TestShouldSendFailsClosed(t *testing.T) {
	gate, store, _ := newTestGate(t)
	store.failExists = true

	assert.False(t, gate.ShouldSend(context.Background(), "idle_warning", time.Minute))
}

func TestRecordAttemptAssignsID(t *testing.T) {
	gate, store, _ := newTestGate(t)
	ctx := context.Background()

	id, err := gate.RecordAttempt(ctx, "idle_warning", "hello", map[string]interface{}{"idle_seconds": 400})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	other, err := gate.RecordAttempt(ctx, "idle_warning", "again", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	require.Len(t, store.records, 2)
	assert.Equal(t, id, store.records[0].ID)
	assert.Equal(t, "hello", store.records[0].Message)
	assert.EqualValues(t, 400, store.records[0].Metadata["idle_seconds"])
}

func TestRecordInteractionUnknownIDIsNoOp(t *testing.T) {
	gate, _, _ := newTestGate(t)

	clicked := true
	err := gate.RecordInteraction(context.Background(), "no-such-record", &clicked, nil)
	assert.NoError(t, err)
}

func TestRecentRecordsWindow(t *testing.T) {
	gate, _, advance := newTestGate(t)
	ctx := context.Background()

	_, err := gate.RecordAttempt(ctx, "idle_warning", "old", nil)
	require.NoError(t, err)
	advance(45 * time.Minute)
	_, err = gate.RecordAttempt(ctx, "idle_warning", "new", nil)
	require.NoError(t, err)

	records, err := gate.RecentRecords(ctx, 30)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Message)
}

func TestCleanupDropsAgedRecords(t *testing.T) {
	gate, store, advance := newTestGate(t)
	ctx := context.Background()

	_, err := gate.RecordAttempt(ctx, "idle_warning", "ancient", nil)
	require.NoError(t, err)
	advance(96 * time.Hour)
	_, err = gate.RecordAttempt(ctx, "idle_warning", "fresh", nil)
	require.NoError(t, err)

	deleted, err := gate.Cleanup(ctx, 3)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)
	require.Len(t, store.records, 1)
	assert.Equal(t, "fresh", store.records[0].Message)
}
