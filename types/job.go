package types

import "time"

// JobStatus is the lifecycle state reported by the job API.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsActive reports whether the job can still change (pending or processing).
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// IsTerminal reports whether the job reached completed or failed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

/*
 Job example returned by GET /api/jobs

{
  "_id": "66b1f0c2a4",
  "filename": "customers.csv",
  "status": "processing",
  "totalRows": 100,
  "processedRows": 50,
  "successCount": 48,
  "failedCount": 2,
  "errors": ["row 7: invalid email"],
  "createdAt": "2024-08-06T10:15:30.000Z"
}

*/

// Job is one asynchronous CSV import task as mirrored from the job API.
type Job struct {
	ID            string    `json:"_id"`
	Filename      string    `json:"filename"`
	Status        JobStatus `json:"status"`
	TotalRows     int       `json:"totalRows"`
	ProcessedRows int       `json:"processedRows"`
	SuccessCount  int       `json:"successCount"`
	FailedCount   int       `json:"failedCount"`
	Errors        []string  `json:"errors,omitempty"`
	CreatedAt     string    `json:"createdAt"`
	CompletedAt   string    `json:"completedAt,omitempty"`
}

// UploadResponse is returned by POST /api/jobs/upload.
type UploadResponse struct {
	JobID string `json:"jobId"`
}

// JobProgressMessage is the payload of a "progress" stream event.
type JobProgressMessage struct {
	JobID         string    `json:"jobId"`
	Filename      string    `json:"filename,omitempty"`
	Status        JobStatus `json:"status"`
	TotalRows     int       `json:"totalRows"`
	ProcessedRows int       `json:"processedRows"`
	SuccessCount  int       `json:"successCount"`
	FailedCount   int       `json:"failedCount"`
	ErrorCount    int       `json:"errorCount"`
	CreatedAt     string    `json:"createdAt,omitempty"`
	CompletedAt   string    `json:"completedAt,omitempty"`
}

// JobDoneMessage is the payload of a "done" stream event.
type JobDoneMessage struct {
	JobID  string    `json:"jobId"`
	Status JobStatus `json:"status"`
}

// Stream event names emitted by GET /api/jobs/{id}/stream.
const (
	StreamEventProgress = "progress"
	StreamEventDone     = "done"
)

// TimestampLayout is the ISO-8601 form the job API uses for createdAt/completedAt.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ParseTimestamp parses an API timestamp, accepting any RFC 3339 variant.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatTimestamp renders t in TimestampLayout (UTC, millisecond precision).
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
