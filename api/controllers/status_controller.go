package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moyoez/csvjobs-dashboard/notify"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/view"
)

type StatusController struct {
	jobs JobSource
}

func NewStatusController(jobs JobSource) *StatusController {
	return &StatusController{jobs: jobs}
}

// HandleStatus returns dashboard status for the web UI.
// GET /api/self/v1/status
func (ctrl *StatusController) HandleStatus(c *gin.Context) {
	snap := ctrl.jobs.Snapshot()
	stats, err := ctrl.jobs.Stats(c.Request.Context())
	if err != nil {
		tool.DefaultLogger.Debugf("[Status] Sync loop stats unavailable: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"running":           err == nil,
		"live":              view.HasActive(snap.Jobs),
		"loading":           snap.Loading,
		"mode":              string(ctrl.jobs.Mode()),
		"openStreams":       stats.OpenStreams,
		"pendingReconnects": stats.PendingReconnects,
		"notifyWsEnabled":   notify.NotifyWSEnabled(),
	})
}
