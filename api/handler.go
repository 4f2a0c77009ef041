package api

import (
	"github.com/moyoez/csvjobs-dashboard/api/controllers"
	"github.com/moyoez/csvjobs-dashboard/api/defaults"
	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// Handler contains callback functions for job events
type Handler struct {
	onUploaded    func(jobID, filename string) error
	onJobDone     func(job types.Job)
	onJobsChanged func(snap jobsync.Snapshot)
}

// Ensure Handler implements controllers.UploadHook
var _ controllers.UploadHook = (*Handler)(nil)

// OnUploaded implements controllers.UploadHook
func (h *Handler) OnUploaded(jobID, filename string) error {
	if h.onUploaded != nil {
		return h.onUploaded(jobID, filename)
	}
	return nil
}

// OnJobDone is meant for jobsync.Options.OnDone.
func (h *Handler) OnJobDone(job types.Job) {
	if h.onJobDone != nil {
		h.onJobDone(job)
	}
}

// OnJobsChanged is meant for jobsync.Options.OnChange.
func (h *Handler) OnJobsChanged(snap jobsync.Snapshot) {
	if h.onJobsChanged != nil {
		h.onJobsChanged(snap)
	}
}

// SetOnUploaded replaces the upload callback.
func (h *Handler) SetOnUploaded(fn func(jobID, filename string) error) {
	h.onUploaded = fn
}

// SetOnJobDone replaces the done callback.
func (h *Handler) SetOnJobDone(fn func(job types.Job)) {
	h.onJobDone = fn
}

// NewDefaultHandler returns a Handler that sends notifications for every event.
func NewDefaultHandler() *Handler {
	return &Handler{
		onUploaded:    defaults.DefaultOnUploaded,
		onJobDone:     defaults.DefaultOnJobDone,
		onJobsChanged: defaults.DefaultOnJobsChanged,
	}
}
