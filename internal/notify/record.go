package notify

import "context"

// Record is one notification attempt. The interaction flags are set
// after the fact, each at most once, when the shell reports back.
type Record struct {
	ID        string                 `json:"id"`
	Category  string                 `json:"category"`
	Message   string                 `json:"message"`
	Timestamp int64                  `json:"timestamp"` // unix milliseconds
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Clicked   *bool                  `json:"clicked,omitempty"`
	Dismissed *bool                  `json:"dismissed,omitempty"`
}

// CategoryStats aggregates outcomes for one category.
type CategoryStats struct {
	Category  string `json:"category"`
	Sent      int64  `json:"sent"`
	Clicked   int64  `json:"clicked"`
	Dismissed int64  `json:"dismissed"`
}

// Stats is the aggregate view over all recorded attempts.
type Stats struct {
	TotalSent   int64           `json:"total_sent"`
	ClickRate   float64         `json:"click_rate"`
	DismissRate float64         `json:"dismiss_rate"`
	ByCategory  []CategoryStats `json:"by_category"`
}

// RecordStore persists notification records.
type RecordStore interface {
	Init(ctx context.Context) error
	Insert(ctx context.Context, r Record) error
	// SetInteraction merges the given flags into an existing record.
	// Flags already set are left untouched. Returns false when no
	// record has that id.
	SetInteraction(ctx context.Context, id string, clicked, dismissed *bool) (bool, error)
	// ExistsSince reports whether the category has a record with
	// timestamp >= since (unix millis).
	ExistsSince(ctx context.Context, category string, since int64) (bool, error)
	RecordsSince(ctx context.Context, since int64) ([]Record, error)
	DeleteOlderThan(ctx context.Context, cutoff int64) (int64, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
