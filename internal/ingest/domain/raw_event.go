package domain

import "time"

// RawEvent is one provider item captured verbatim during a sync run. The log
// is append-only: rows are never updated, and duplicates across runs are
// expected. Normalization resolves them downstream.
type RawEvent struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"user_id" gorm:"index:idx_raw_user_batch;not null"`
	Provider   string    `json:"provider" gorm:"index;not null"`
	SourceID   string    `json:"source_id" gorm:"index;not null"`
	Payload    []byte    `json:"payload" gorm:"type:jsonb;not null"`
	OccurredAt time.Time `json:"occurred_at"`
	BatchID    string    `json:"batch_id" gorm:"index:idx_raw_user_batch;not null"`
	CreatedAt  time.Time `json:"created_at"`
}
