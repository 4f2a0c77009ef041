package controllers

import (
	"context"
	"io"

	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// JobSource is the synchronized job list the dashboard reads from.
type JobSource interface {
	Snapshot() jobsync.Snapshot
	Refresh(ctx context.Context) error
	Mode() jobsync.Mode
	Stats(ctx context.Context) (jobsync.Stats, error)
}

// JobUploader forwards CSV files to the job API.
type JobUploader interface {
	UploadCsv(ctx context.Context, filename string, data io.Reader) (types.UploadResponse, error)
}

// ReportDownloader fetches error reports from the job API.
type ReportDownloader interface {
	DownloadErrorReport(ctx context.Context, jobID string) ([]byte, error)
}

// UploadHook is called after the job API accepted an upload.
type UploadHook interface {
	OnUploaded(jobID, filename string) error
}

func findJob(jobs []types.Job, id string) (types.Job, bool) {
	for _, job := range jobs {
		if job.ID == id {
			return job, true
		}
	}
	return types.Job{}, false
}
