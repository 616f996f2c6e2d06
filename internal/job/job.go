package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is one of the known job states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Document is a free-form JSON object used for job payloads and results.
type Document map[string]any

// Merge returns a copy of d with the top-level keys of updates written over it.
// Nested objects are replaced, not merged.
func (d Document) Merge(updates Document) Document {
	merged := make(Document, len(d)+len(updates))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}

func encodeDocument(d Document) (string, error) {
	if d == nil {
		d = Document{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}
	return string(data), nil
}

func decodeDocument(s string) (Document, error) {
	if s == "" {
		return nil, nil
	}
	var d Document
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return d, nil
}

type Job struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Payload   Document  `json:"payload"`
	Result    Document  `json:"result"`
	Error     *string   `json:"error"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a freshly queued job. A nil payload becomes an empty document.
func New(payload Document) *Job {
	if payload == nil {
		payload = Document{}
	}
	now := time.Now().UTC()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Progress:  0,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// StatusUpdate is a partial status change. Nil fields keep their stored value.
type StatusUpdate struct {
	Status   Status
	Progress *int
	Result   Document
	Error    *string
}

// Apply writes u onto j and refreshes UpdatedAt.
//
// Leaving the completed state drops the result, leaving the failed state drops
// the error, and going back to queued without an explicit progress resets it to 0.
func (u StatusUpdate) Apply(j *Job, now time.Time) {
	j.Status = u.Status
	if u.Progress != nil {
		j.Progress = clampProgress(*u.Progress)
	} else if u.Status == StatusQueued {
		j.Progress = 0
	}
	if u.Result != nil {
		j.Result = u.Result
	}
	if u.Error != nil {
		msg := *u.Error
		j.Error = &msg
	}
	if u.Status != StatusCompleted {
		j.Result = nil
	}
	if u.Status != StatusFailed {
		j.Error = nil
	}
	j.UpdatedAt = now
}

func clampProgress(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Int and String are helpers for building a StatusUpdate inline.
func Int(v int) *int { return &v }

func String(v string) *string { return &v }
