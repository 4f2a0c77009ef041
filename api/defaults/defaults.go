package defaults

import (
	"fmt"

	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/notify"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// DefaultOnUploaded is the default callback after the job API accepted an upload.
func DefaultOnUploaded(jobID, filename string) error {
	tool.DefaultLogger.Infof("Uploaded %s, job ID: %s", filename, jobID)
	if err := notify.SendUploadNotification(jobID, filename); err != nil {
		return fmt.Errorf("failed to send upload notification: %v", err)
	}
	return nil
}

// DefaultOnJobDone is the default callback when a job reports done.
func DefaultOnJobDone(job types.Job) {
	if err := notify.SendJobFinishedNotification(job); err != nil {
		tool.DefaultLogger.Debugf("[Notify] Failed to send job notification: %v", err)
	}
}

// DefaultOnJobsChanged mirrors every list change to websocket clients.
func DefaultOnJobsChanged(snap jobsync.Snapshot) {
	notify.Broadcast(JobsUpdatedNotification(snap))
}

// JobsUpdatedNotification carries the whole job list, as sent on change and on connect.
func JobsUpdatedNotification(snap jobsync.Snapshot) *types.Notification {
	active := 0
	for _, job := range snap.Jobs {
		if job.Status.IsActive() {
			active++
		}
	}
	return &types.Notification{
		ID:      tool.GenerateRandomUUID(),
		Type:    types.NotifyTypeJobsUpdated,
		Title:   "Jobs Updated",
		Message: fmt.Sprintf("%d jobs, %d active", len(snap.Jobs), active),
		Data: map[string]any{
			"jobs":      snap.Jobs,
			"loading":   snap.Loading,
			"error":     snap.Error,
			"hasActive": snap.HasActive,
		},
	}
}
