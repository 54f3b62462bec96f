package domain

import "time"

// InteractionType is the canonical category of a normalized record.
type InteractionType string

const (
	TypeMail    InteractionType = "mail"
	TypeMeeting InteractionType = "meeting"
)

// Interaction is the canonical record projected from raw provider events.
// The (user_id, source, source_id) unique index is the deduplication key:
// normalization may run any number of times without creating duplicates.
// Rows are immutable once created; corrections happen outside this engine.
type Interaction struct {
	ID           string          `json:"id" gorm:"primaryKey"`
	UserID       string          `json:"user_id" gorm:"uniqueIndex:idx_interaction_dedup;not null"`
	Type         InteractionType `json:"type" gorm:"not null"`
	Subject      string          `json:"subject"`
	Body         string          `json:"body"`
	BodyPreview  string          `json:"body_preview"`
	Participants string          `json:"participants"`
	OccurredAt   time.Time       `json:"occurred_at" gorm:"index"`
	Source       string          `json:"source" gorm:"uniqueIndex:idx_interaction_dedup;not null"`
	SourceID     string          `json:"source_id" gorm:"uniqueIndex:idx_interaction_dedup;not null"`
	BatchID      string          `json:"batch_id" gorm:"index"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
