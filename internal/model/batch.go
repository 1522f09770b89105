package model

import "time"

// BatchStatus is the durable state of a batch manifest
type BatchStatus string

const (
	BatchStatusQueued    BatchStatus = "queued"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusCancelled BatchStatus = "cancelled"
	BatchStatusAborted   BatchStatus = "aborted"
)

// Terminal reports whether the batch will make no further progress
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusCancelled || s == BatchStatusAborted
}

// Batch is the manifest of a background send run. AttemptIDs is the
// ordered snapshot taken at enqueue time.
type Batch struct {
	ID         string        `json:"id"`
	AccountID  string        `json:"accountId"`
	Status     BatchStatus   `json:"status"`
	Delay      time.Duration `json:"-"`
	AttemptIDs []string      `json:"attemptIds"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	StartedAt  *time.Time    `json:"startedAt,omitempty"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// QueuedCount is the number of attempts captured by the snapshot
func (b *Batch) QueuedCount() int {
	return len(b.AttemptIDs)
}

// DelaySeconds is the pacing delay in whole seconds
func (b *Batch) DelaySeconds() int {
	return int(b.Delay / time.Second)
}
