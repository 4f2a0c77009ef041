package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/moyoez/csvjobs-dashboard/jobapi"
	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/share"
	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
	"github.com/moyoez/csvjobs-dashboard/view"
)

// redrawInterval throttles table output while progress events stream in.
const redrawInterval = 500 * time.Millisecond

// app implements view.Actions on top of the job client and the syncer.
type app struct {
	client    *jobapi.Client
	syncer    *jobsync.Syncer // nil in one-shot modes
	reportDir string
	exp       *view.Expansion
	out       io.Writer

	onUploaded func(jobID, filename string) error

	dirty chan struct{}
	outMu sync.Mutex
}

var _ view.Actions = (*app)(nil)

func newApp(client *jobapi.Client, reportDir string, exp *view.Expansion, out io.Writer) *app {
	return &app{
		client:    client,
		reportDir: reportDir,
		exp:       exp,
		out:       out,
		dirty:     make(chan struct{}, 1),
	}
}

func (a *app) Refresh(ctx context.Context) error {
	if a.syncer == nil {
		return jobsync.ErrClosed
	}
	return a.syncer.Refresh(ctx)
}

func (a *app) Upload(ctx context.Context, path string) (string, error) {
	resp, err := a.client.UploadFile(ctx, path)
	if err != nil {
		return "", err
	}
	if a.onUploaded != nil {
		if err := a.onUploaded(resp.JobID, filepath.Base(path)); err != nil {
			tool.DefaultLogger.Debugf("Upload hook error: %v", err)
		}
	}
	return resp.JobID, nil
}

func (a *app) DownloadReport(ctx context.Context, jobID string) (string, error) {
	job, err := a.lookupJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if !view.CanDownloadErrorReport(job) {
		return "", fmt.Errorf("job %s has no failed rows", jobID)
	}
	data, err := share.FetchErrorReport(ctx, job, a.client.DownloadErrorReport)
	if err != nil {
		return "", err
	}
	return tool.WriteFileNoClobber(a.reportDir, view.ErrorReportFilename(job), data)
}

// lookupJob prefers the synchronized list and falls back to the job API.
func (a *app) lookupJob(ctx context.Context, jobID string) (types.Job, error) {
	if a.syncer != nil {
		for _, job := range a.syncer.Snapshot().Jobs {
			if job.ID == jobID {
				return job, nil
			}
		}
	}
	return a.client.GetJob(ctx, jobID)
}

// Redraw asks the render loop for a new frame.
func (a *app) Redraw() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

// renderLoop draws at most one frame per redrawInterval until ctx is done.
func (a *app) renderLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.dirty:
		}
		a.render(a.syncer.Snapshot())
		select {
		case <-ctx.Done():
			return
		case <-time.After(redrawInterval):
		}
	}
}

func (a *app) render(snap jobsync.Snapshot) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	if err := view.Render(a.out, snap, a.exp); err != nil {
		tool.DefaultLogger.Errorf("Failed to render jobs: %v", err)
	}
}

// applyExpandFlag opens the rows named by -expand.
func applyExpandFlag(exp *view.Expansion, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	if strings.EqualFold(value, "all") {
		exp.ExpandAll()
		return
	}
	for _, id := range strings.Split(value, ",") {
		if id = strings.TrimSpace(id); id != "" {
			exp.Set(id, true)
		}
	}
}

// printOnce fetches the list and renders it a single time.
func (a *app) printOnce(ctx context.Context) error {
	snap := jobsync.Snapshot{}
	jobs, err := a.client.ListJobs(ctx)
	if err != nil {
		snap.Error = err.Error()
	} else {
		snap.Jobs = jobsync.SortNewestFirst(jobs)
		snap.HasActive = jobsync.HasActive(snap.Jobs)
	}
	a.render(snap)
	return err
}
