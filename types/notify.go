package types

// Notification represents a notification message structure
type Notification struct {
	ID      string         `json:"id,omitempty"`
	Type    string         `json:"type,omitempty"`    // Notification type, e.g. "job_completed", "jobs_updated", etc.
	Title   string         `json:"title,omitempty"`   // Notification title
	Message string         `json:"message,omitempty"` // Notification message/content
	Data    map[string]any `json:"data,omitempty"`    // Additional data fields
}

const (
	NotifyTypeJobsUpdated  = "jobs_updated"
	NotifyTypeJobCompleted = "job_completed"
	NotifyTypeJobFailed    = "job_failed"
	NotifyTypeUploadDone   = "upload_done"
	NotifyTypeInfo         = "info"
)
