package share

import (
	"context"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
)

const (
	DefaultTTL = 300 * time.Second // set 300 seconds.
)

var (
	ErrorReports = ttlworker.NewCache[string, []byte](DefaultTTL)
)

// ReportFetcher downloads the error report of one job.
type ReportFetcher func(ctx context.Context, jobID string) ([]byte, error)

func SetErrorReport(jobID string, data []byte) {
	ErrorReports.Set(jobID, data)
	tool.DefaultLogger.Debugf("Cached error report for job %s (%d bytes)", jobID, len(data))
}

func GetErrorReport(jobID string) ([]byte, bool) {
	data := ErrorReports.Get(jobID)
	return data, data != nil
}

// FetchErrorReport returns the cached report for job or downloads it with fetch.
// Only reports of finished jobs are cached, a running job's report can still grow.
func FetchErrorReport(ctx context.Context, job types.Job, fetch ReportFetcher) ([]byte, error) {
	if data, ok := GetErrorReport(job.ID); ok {
		tool.DefaultLogger.Debugf("Serving cached error report for job %s", job.ID)
		return data, nil
	}
	data, err := fetch(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		if data == nil {
			data = []byte{}
		}
		SetErrorReport(job.ID, data)
	}
	return data, nil
}
