package chat

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is a queued stream invocation executed by the worker.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	SessionID string `gorm:"size:26;index;not null" json:"session_id"`

	Prompt string `gorm:"type:text;not null" json:"-"`

	IdempotencyKey *string `gorm:"type:varchar(128);uniqueIndex:uniq_job_idempo" json:"idempotency_key,omitempty"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when succeeded
	ResultMessageID *uint64 `gorm:"index" json:"result_message_id"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *Job) Finished() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}
