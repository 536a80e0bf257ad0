package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus tracks the lifecycle of a queued delivery job.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobDone    JobStatus = "done"
	JobFailed  JobStatus = "failed"
)

func (s JobStatus) IsValid() bool {
	switch s {
	case JobPending, JobDone, JobFailed:
		return true
	}
	return false
}

// MaxAttempts is the number of processing attempts after which a job that
// keeps failing at job level is marked failed.
const MaxAttempts = 3

// QueueJob is one durable unit of delivery work. Payload is stored as written
// by Enqueue and never rewritten.
type QueueJob struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	Status    JobStatus       `json:"status"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// JobPayload is the decoded form of QueueJob.Payload.
type JobPayload struct {
	URL                  string       `json:"url"`
	Username             string       `json:"username"`
	DestinationChannelID string       `json:"destination_channel_id"`
	AudienceTagID        *string      `json:"audience_tag_id,omitempty"`
	Notification         Notification `json:"notification"`
	SourceLabel          string       `json:"source_label,omitempty"`
	IsCrossOrigin        bool         `json:"is_cross_origin"`
}

func (p JobPayload) Validate() error {
	if p.URL == "" {
		return ErrInvalidURL
	}
	if p.Username == "" {
		return ErrInvalidUsername
	}
	if p.DestinationChannelID == "" {
		return ErrInvalidDestination
	}
	return nil
}

// Decode unmarshals and validates the job payload.
func (j *QueueJob) Decode() (JobPayload, error) {
	var p JobPayload
	if err := json.Unmarshal(j.Payload, &p); err != nil {
		return p, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("job %s: %w", j.ID, err)
	}
	return p, nil
}

// JobFilter holds query parameters for listing jobs.
type JobFilter struct {
	Status *JobStatus
	Limit  int
}
