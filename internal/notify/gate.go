package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Gate applies per-category cooldowns to outgoing notifications and
// tracks what happened to each attempt. ShouldSend and RecordAttempt
// are separate store calls; the daemon's single decision loop is the
// only admission path, so no cross-process guarantee is attempted.
type Gate struct {
	store RecordStore

	now func() time.Time
}

func NewGate(store RecordStore) *Gate {
	return &Gate{store: store, now: time.Now}
}

// ShouldSend is true when the category has no record inside the
// cooldown window. Store errors fail closed (no send) with a warning.
func (g *Gate) ShouldSend(ctx context.Context, category string, cooldown time.Duration) bool {
	since := g.now().Add(-cooldown).UnixMilli()
	found, err := g.store.ExistsSince(ctx, category, since)
	if err != nil {
		log.Printf("Warning: cooldown lookup failed for %s: %v", category, err)
		return false
	}
	return !found
}

// RecordAttempt persists a new attempt and returns its record id.
func (g *Gate) RecordAttempt(ctx context.Context, category, message string, metadata map[string]interface{}) (string, error) {
	r := Record{
		ID:        uuid.NewString(),
		Category:  category,
		Message:   message,
		Timestamp: g.now().UnixMilli(),
		Metadata:  metadata,
	}
	if err := g.store.Insert(ctx, r); err != nil {
		return "", err
	}
	return r.ID, nil
}

// RecordInteraction merges clicked/dismissed flags into a record. Each
// flag sticks after its first write; an unknown id is a silent no-op.
func (g *Gate) RecordInteraction(ctx context.Context, id string, clicked, dismissed *bool) error {
	found, err := g.store.SetInteraction(ctx, id, clicked, dismissed)
	if err != nil {
		return err
	}
	if !found {
		log.Printf("Interaction for unknown record %s ignored.", id)
	}
	return nil
}

// RecentRecords returns attempts from the trailing window.
func (g *Gate) RecentRecords(ctx context.Context, minutes int) ([]Record, error) {
	since := g.now().Add(-time.Duration(minutes) * time.Minute).UnixMilli()
	return g.store.RecordsSince(ctx, since)
}

// Cleanup deletes records older than maxAgeDays, returning the count.
func (g *Gate) Cleanup(ctx context.Context, maxAgeDays int) (int64, error) {
	cutoff := g.now().AddDate(0, 0, -maxAgeDays).UnixMilli()
	return g.store.DeleteOlderThan(ctx, cutoff)
}

// Stats reports per-category counts and overall interaction rates.
func (g *Gate) Stats(ctx context.Context) (Stats, error) {
	return g.store.Stats(ctx)
}

func (g *Gate) Close() error {
	return g.store.Close()
}
