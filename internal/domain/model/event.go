package model

import "time"

// Event is a published occurrence flowing through the queue. Immutable once
// queued; moved to the archive collection after successful execution.
type Event struct {
	ID          string         `json:"id"`
	EventType   string         `json:"event_type"`
	GeneratedAt time.Time      `json:"generated_at"`
	PublishedAt time.Time      `json:"published_at"`
	Details     map[string]any `json:"details"`
}
