package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
	"github.com/moyoez/csvjobs-dashboard/view"
	"golang.org/x/time/rate"
)

const (
	RefreshRatePerSecond = 1
	RefreshBurst         = 3
)

// JobRow is a job plus the values the table derives from it.
type JobRow struct {
	types.Job
	Percent           int    `json:"percent"`
	CanDownloadReport bool   `json:"canDownloadReport"`
	ReportFilename    string `json:"reportFilename,omitempty"`
}

// JobsResponse is the dashboard view of a snapshot.
type JobsResponse struct {
	Jobs      []JobRow `json:"jobs"`
	Loading   bool     `json:"loading"`
	Error     string   `json:"error,omitempty"`
	HasActive bool     `json:"hasActive"`
	Mode      string   `json:"mode"`
}

type JobsController struct {
	jobs    JobSource
	limiter *rate.Limiter
}

func NewJobsController(jobs JobSource) *JobsController {
	return &JobsController{
		jobs:    jobs,
		limiter: rate.NewLimiter(rate.Limit(RefreshRatePerSecond), RefreshBurst),
	}
}

// HandleList returns the current snapshot.
// GET /api/self/v1/jobs
func (ctrl *JobsController) HandleList(c *gin.Context) {
	c.JSON(http.StatusOK, tool.FastReturnSuccessWithData(ctrl.response(ctrl.jobs.Snapshot())))
}

// HandleRefresh re-fetches the job list and returns the new snapshot.
// POST /api/self/v1/refresh
func (ctrl *JobsController) HandleRefresh(c *gin.Context) {
	if !ctrl.limiter.Allow() {
		retry := time.Second / RefreshRatePerSecond
		c.JSON(http.StatusTooManyRequests, tool.FastReturnErrorWithData("Too many refresh requests", map[string]any{
			"retryAfterMs": retry.Milliseconds(),
		}))
		return
	}
	if err := ctrl.jobs.Refresh(c.Request.Context()); err != nil {
		tool.DefaultLogger.Warnf("[Refresh] Refresh failed: %v", err)
		c.JSON(http.StatusBadGateway, tool.FastReturnError(err.Error()))
		return
	}
	c.JSON(http.StatusOK, tool.FastReturnSuccessWithData(ctrl.response(ctrl.jobs.Snapshot())))
}

func (ctrl *JobsController) response(snap jobsync.Snapshot) JobsResponse {
	rows := make([]JobRow, 0, len(snap.Jobs))
	for _, job := range snap.Jobs {
		row := JobRow{
			Job:               job,
			Percent:           view.Percent(job),
			CanDownloadReport: view.CanDownloadErrorReport(job),
		}
		if row.CanDownloadReport {
			row.ReportFilename = view.ErrorReportFilename(job)
		}
		rows = append(rows, row)
	}
	return JobsResponse{
		Jobs:      rows,
		Loading:   snap.Loading,
		Error:     snap.Error,
		HasActive: view.HasActive(snap.Jobs),
		Mode:      string(ctrl.jobs.Mode()),
	}
}
