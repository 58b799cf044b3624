package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"refocus/internal/event"
)

func setupTestStore(t *testing.T, batchSize int) *Store {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "events"), batchSize)
	require.NoError(t, store.Init(), "Failed to initialize test store")
	return store
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return 0
	}
	return len(strings.Split(trimmed, "\n"))
}

func TestFlushAndQueryRange(t *testing.T) {
	store := setupTestStore(t, 100)
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	first := event.NewWindowChange("sess", base, "firefox", "Docs")
	second := event.NewIdle("sess", base.Add(1*time.Minute), event.IdlePayload{IdleDuration: 320, WasIdle: true})
	third := event.NewWindowChange("sess", base.Add(2*time.Minute), "emacs", "main.go")

	// Append out of timestamp order; queries must still come back sorted.
	store.Append(second)
	store.Append(first)
	store.Append(third)
	require.NoError(t, store.Flush())
	assert.Equal(t, 0, store.Pending())

	got, err := store.QueryRange(first.Timestamp, third.Timestamp)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)
	assert.Equal(t, third.ID, got[2].ID)

	// Both range ends are inclusive.
	got, err = store.QueryRange(second.Timestamp, second.Timestamp)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)

	payload, err := got[0].Idle()
	require.NoError(t, err)
	assert.True(t, payload.WasIdle)
	assert.EqualValues(t, 320, payload.IdleDuration)
}

func TestAutoFlushAtBatchSize(t *testing.T) {
	store := setupTestStore(t, 100)
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return day }

	for i := 0; i < 150; i++ {
		store.Append(event.NewWindowChange("sess", day.Add(time.Duration(i)*time.Second), "app", fmt.Sprintf("window %d", i)))
	}

	path := store.partitionPath(day)
	assert.Equal(t, 100, countLines(t, path), "exactly one flush at the batch boundary")
	assert.Equal(t, 50, store.Pending())

	require.NoError(t, store.Shutdown())
	assert.Equal(t, 150, countLines(t, path))
	assert.Equal(t, 0, store.Pending())

	got, err := store.QueryRange(day.UnixMilli(), day.Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Len(t, got, 150)
}

func TestQueryRangeSkipsCorruptLines(t *testing.T) {
	store := setupTestStore(t, 10)
	day := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	good1 := event.NewWindowChange("sess", day.Add(time.Minute), "firefox", "a")
	good2 := event.NewWindowChange("sess", day.Add(2*time.Minute), "firefox", "b")

	var sb strings.Builder
	b1, err := json.Marshal(good1)
	require.NoError(t, err)
	sb.Write(b1)
	sb.WriteByte('\n')
	sb.WriteString("{this line is not json}\n")
	b2, err := json.Marshal(good2)
	require.NoError(t, err)
	sb.Write(b2)
	sb.WriteByte('\n')
	require.NoError(t, os.WriteFile(store.partitionPath(day), []byte(sb.String()), 0644))

	got, err := store.QueryRange(0, day.Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, good1.ID, got[0].ID)
	assert.Equal(t, good2.ID, got[1].ID)
}

func TestQueryRangeSkipsOversizedLines(t *testing.T) {
	store := setupTestStore(t, 10)
	day := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)

	good1 := event.NewWindowChange("sess", day.Add(time.Minute), "firefox", "a")
	good2 := event.NewWindowChange("sess", day.Add(2*time.Minute), "firefox", "b")

	var sb strings.Builder
	b1, err := json.Marshal(good1)
	require.NoError(t, err)
	sb.Write(b1)
	sb.WriteByte('\n')
	// A line well past the cap must not abort the whole read.
	sb.WriteString(strings.Repeat("x", 2<<20))
	sb.WriteByte('\n')
	b2, err := json.Marshal(good2)
	require.NoError(t, err)
	sb.Write(b2)
	sb.WriteByte('\n')
	// Oversized tail without a trailing newline.
	sb.WriteString(strings.Repeat("y", maxLineBytes+1))
	require.NoError(t, os.WriteFile(store.partitionPath(day), []byte(sb.String()), 0644))

	got, err := store.QueryRange(0, day.Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, good1.ID, got[0].ID)
	assert.Equal(t, good2.ID, got[1].ID)
}

func TestFlushFailureKeepsBuffer(t *testing.T) {
	tempDir := t.TempDir()
	blocked := filepath.Join(tempDir, "events")
	require.NoError(t, os.WriteFile(blocked, []byte("in the way"), 0644))

	store := NewStore(blocked, 2)
	day := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return day }

	store.Append(event.NewWindowChange("sess", day, "app", "one"))
	store.Append(event.NewWindowChange("sess", day.Add(time.Second), "app", "two"))
	assert.Equal(t, 2, store.Pending(), "failed auto-flush keeps events buffered")
	assert.Error(t, store.Flush())

	require.NoError(t, os.Remove(blocked))
	require.NoError(t, store.Init())
	require.NoError(t, store.Flush())
	assert.Equal(t, 0, store.Pending())

	got, err := store.QueryRange(0, day.Add(time.Hour).UnixMilli())
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestPartitionPerDay(t *testing.T) {
	store := setupTestStore(t, 100)
	day1 := time.Date(2025, 3, 10, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2025, 3, 11, 0, 10, 0, 0, time.UTC)

	store.now = func() time.Time { return day1 }
	store.Append(event.NewWindowChange("sess", day1, "firefox", "late"))
	require.NoError(t, store.Flush())

	store.now = func() time.Time { return day2 }
	store.Append(event.NewWindowChange("sess", day2, "firefox", "early"))
	require.NoError(t, store.Flush())

	assert.FileExists(t, store.partitionPath(day1))
	assert.FileExists(t, store.partitionPath(day2))

	got, err := store.QueryRange(day1.UnixMilli(), day2.UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.LessOrEqual(t, got[0].Timestamp, got[1].Timestamp)
}

func TestQueryRecent(t *testing.T) {
	store := setupTestStore(t, 100)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	recent := event.NewWindowChange("sess", now.Add(-5*time.Minute), "firefox", "recent")
	stale := event.NewWindowChange("sess", now.Add(-45*time.Minute), "firefox", "stale")
	store.Append(recent)
	store.Append(stale)
	require.NoError(t, store.Flush())

	got, err := store.QueryRecent(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, recent.ID, got[0].ID)
}

func TestQueryRangeNoPartitions(t *testing.T) {
	store := NewStore(filepath.Join(t.TempDir(), "missing"), 10)

	got, err := store.QueryRange(0, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Empty(t, got)
}
