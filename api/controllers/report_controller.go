package controllers

import (
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moyoez/csvjobs-dashboard/share"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/view"
)

type ReportController struct {
	jobs       JobSource
	downloader ReportDownloader
}

func NewReportController(jobs JobSource, downloader ReportDownloader) *ReportController {
	return &ReportController{
		jobs:       jobs,
		downloader: downloader,
	}
}

// HandleErrorReport streams a job's error report as a CSV attachment.
// GET /api/self/v1/jobs/:id/error-report
func (ctrl *ReportController) HandleErrorReport(c *gin.Context) {
	jobID := c.Param("id")
	job, ok := findJob(ctrl.jobs.Snapshot().Jobs, jobID)
	if !ok {
		c.JSON(http.StatusNotFound, tool.FastReturnError("Job not found"))
		return
	}
	if !view.CanDownloadErrorReport(job) {
		c.JSON(http.StatusConflict, tool.FastReturnError("Job has no failed rows"))
		return
	}

	data, err := share.FetchErrorReport(c.Request.Context(), job, ctrl.downloader.DownloadErrorReport)
	if err != nil {
		tool.DefaultLogger.Errorf("[ErrorReport] Job %s: %v", jobID, err)
		c.JSON(http.StatusBadGateway, tool.FastReturnError(err.Error()))
		return
	}

	filename := view.ErrorReportFilename(job)
	c.Header("Content-Disposition", contentDisposition(filename))
	c.Data(http.StatusOK, "text/csv", data)
}

// contentDisposition quotes or RFC 2231 encodes filename as needed.
func contentDisposition(filename string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
		return v
	}
	return "attachment"
}
