package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// JobKind identifies the handler a job is dispatched to. Adding a kind means
// adding a case here and registering a handler; the runner fails loudly on
// anything it does not know.
type JobKind string

const (
	KindMailSync          JobKind = "mail_sync"
	KindCalendarSync      JobKind = "calendar_sync"
	KindNormalizeMail     JobKind = "normalize_mail"
	KindNormalizeCalendar JobKind = "normalize_calendar"
)

// Kinds lists every valid job kind.
func Kinds() []JobKind {
	return []JobKind{KindMailSync, KindCalendarSync, KindNormalizeMail, KindNormalizeCalendar}
}

func (k JobKind) Valid() bool {
	switch k {
	case KindMailSync, KindCalendarSync, KindNormalizeMail, KindNormalizeCalendar:
		return true
	}
	return false
}

// JobStatus is the job state machine: queued -> processing -> done | error.
// error is terminal only after attempt exhaustion or a non-retryable failure;
// retryable failures go back to queued with a run_after delay.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
	StatusError      JobStatus = "error"
)

// ErrInvalidPayload marks a programming/invariant error in a job's payload.
// Jobs failing with it go terminal immediately; retrying cannot fix a
// malformed payload.
var ErrInvalidPayload = errors.New("invalid job payload")

// JobPayload is the structured payload carried by sync and normalize jobs.
type JobPayload struct {
	BatchID   string `json:"batch_id,omitempty"`
	PageToken string `json:"page_token,omitempty"`
	Query     string `json:"query,omitempty"`
}

// Job is one durable unit of work, owned by exactly one user.
type Job struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"index;not null"`
	Kind      JobKind   `json:"kind" gorm:"index;not null"`
	Payload   []byte    `json:"payload,omitempty" gorm:"type:jsonb"`
	Status    JobStatus `json:"status" gorm:"index;default:queued"`
	Attempts  int       `json:"attempts" gorm:"default:0"`
	BatchID   string    `json:"batch_id,omitempty" gorm:"index"`
	RunAfter  time.Time `json:"run_after" gorm:"index"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DecodePayload unmarshals the payload blob. An undecodable payload is an
// invariant error, not a transient one.
func (j *Job) DecodePayload() (JobPayload, error) {
	var p JobPayload
	if len(j.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, errors.Join(ErrInvalidPayload, err)
	}
	return p, nil
}

// EncodePayload marshals a payload for storage.
func EncodePayload(p JobPayload) ([]byte, error) {
	return json.Marshal(p)
}
