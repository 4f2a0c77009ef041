package controllers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/moyoez/csvjobs-dashboard/jobapi"
	"github.com/moyoez/csvjobs-dashboard/tool"
)

type UploadController struct {
	uploader JobUploader
	jobs     JobSource
	hook     UploadHook
}

func NewUploadController(uploader JobUploader, jobs JobSource, hook UploadHook) *UploadController {
	return &UploadController{
		uploader: uploader,
		jobs:     jobs,
		hook:     hook,
	}
}

// HandleUpload proxies a multipart CSV upload to the job API and refreshes the list.
// POST /api/self/v1/upload
func (ctrl *UploadController) HandleUpload(c *gin.Context) {
	file, header, err := c.Request.FormFile(jobapi.UploadFieldName)
	if err != nil {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Missing file field"))
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			tool.DefaultLogger.Errorf("Failed to close uploaded file: %v", err)
		}
	}()

	filename := filepath.Base(header.Filename)
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		c.JSON(http.StatusBadRequest, tool.FastReturnError("Only CSV files are accepted"))
		return
	}

	tool.DefaultLogger.Infof("[Upload] Forwarding %s (%d bytes)", filename, header.Size)
	resp, err := ctrl.uploader.UploadCsv(c.Request.Context(), filename, file)
	if err != nil {
		tool.DefaultLogger.Errorf("[Upload] Upload of %s failed: %v", filename, err)
		status := http.StatusBadGateway
		var netErr *jobapi.NetworkError
		if errors.As(err, &netErr) && netErr.StatusCode >= 400 && netErr.StatusCode < 500 {
			status = netErr.StatusCode
		}
		msg := err.Error()
		if msg == "" {
			msg = "Upload failed"
		}
		c.JSON(status, tool.FastReturnError(msg))
		return
	}

	if ctrl.hook != nil {
		if err := ctrl.hook.OnUploaded(resp.JobID, filename); err != nil {
			tool.DefaultLogger.Debugf("[Upload] Upload hook error: %v", err)
		}
	}
	if err := ctrl.jobs.Refresh(c.Request.Context()); err != nil {
		tool.DefaultLogger.Warnf("[Upload] Refresh after upload failed: %v", err)
	}

	c.JSON(http.StatusOK, tool.FastReturnSuccessWithData(gin.H{
		"jobId":   resp.JobID,
		"message": "Uploaded! Job ID: " + resp.JobID,
	}))
}
