package model

import "time"

type Disposition string

const (
	DispositionFastTrack Disposition = "fast_track"
	DispositionReview    Disposition = "review"
	DispositionBacklog   Disposition = "backlog"
)

// Candidate is a stored research artifact: a strategy idea that survived
// deduplication and was scored by the post-processor.
type Candidate struct {
	ID          int64       `json:"id"`
	JobID       int64       `json:"job_id"`
	Mode        Mode        `json:"mode"`
	Category    string      `json:"category"`
	Symbols     []string    `json:"symbols,omitempty"`
	Thesis      string      `json:"thesis"`
	EntryRules  []string    `json:"entry_rules,omitempty"`
	ExitRules   []string    `json:"exit_rules,omitempty"`
	Confidence  float64     `json:"confidence"`
	Disposition Disposition `json:"disposition"`
	CreatedAt   time.Time   `json:"created_at"`
}
