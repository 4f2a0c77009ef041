package view

import (
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// MaxVisibleErrors is how many row errors a details block lists.
const MaxVisibleErrors = 10

// ErrorsTruncatedNotice follows the visible errors when some were cut.
const ErrorsTruncatedNotice = "Showing first 10 errors…"

// Percent returns round(processed/total*100), or 0 when total is 0.
func Percent(job types.Job) int {
	if job.TotalRows == 0 {
		return 0
	}
	return int(math.Round(float64(job.ProcessedRows) / float64(job.TotalRows) * 100))
}

// HasActive is the live indicator: any job still pending or processing.
func HasActive(jobs []types.Job) bool {
	return jobsync.HasActive(jobs)
}

// Tone is the semantic colour of a status chip.
type Tone string

const (
	ToneSuccess Tone = "success"
	ToneError   Tone = "error"
	ToneWarning Tone = "warning"
	ToneDefault Tone = "default"
)

var toneColors = map[Tone]lipgloss.AdaptiveColor{
	ToneSuccess: {Light: "#1B7F3B", Dark: "#4ADE80"},
	ToneError:   {Light: "#B42318", Dark: "#F87171"},
	ToneWarning: {Light: "#B54708", Dark: "#FBBF24"},
	ToneDefault: {Light: "#475467", Dark: "#9CA3AF"},
}

// StatusTone maps a job status to its chip tone.
func StatusTone(status types.JobStatus) Tone {
	switch status {
	case types.JobStatusCompleted:
		return ToneSuccess
	case types.JobStatusFailed:
		return ToneError
	case types.JobStatusProcessing:
		return ToneWarning
	default:
		return ToneDefault
	}
}

// StatusColor returns the terminal colour for status.
func StatusColor(status types.JobStatus) lipgloss.AdaptiveColor {
	return toneColors[StatusTone(status)]
}

// VisibleErrors returns at most MaxVisibleErrors errors and whether the list was cut.
func VisibleErrors(errs []string) ([]string, bool) {
	if len(errs) <= MaxVisibleErrors {
		return errs, false
	}
	return errs[:MaxVisibleErrors], true
}

// CanDownloadErrorReport reports whether the job has failed rows to export.
func CanDownloadErrorReport(job types.Job) bool {
	return job.FailedCount > 0
}

// ErrorReportFilename builds "<base>-errors-<timestamp>.csv" from the job's filename and
// creation time. The timestamp is ISO-8601 UTC with ':' and '.' replaced by '-'.
func ErrorReportFilename(job types.Job) string {
	base := strings.TrimSuffix(job.Filename, filepath.Ext(job.Filename))
	if base == "" {
		base = "job"
	}
	created, ok := types.ParseTimestamp(job.CreatedAt)
	if !ok {
		created = time.Now()
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(types.FormatTimestamp(created))
	return base + "-errors-" + stamp + ".csv"
}

// Expansion holds which rows show their details block. It is never persisted.
type Expansion struct {
	mu   sync.RWMutex
	open map[string]bool
	all  bool
}

func NewExpansion() *Expansion {
	return &Expansion{open: make(map[string]bool)}
}

// Toggle flips the row for jobID and returns the new state.
func (e *Expansion) Toggle(jobID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	next := !e.isOpen(jobID)
	e.open[jobID] = next
	return next
}

// Set opens or closes the row for jobID.
func (e *Expansion) Set(jobID string, open bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open[jobID] = open
}

// ExpandAll opens every row that was not explicitly closed.
func (e *Expansion) ExpandAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = true
}

func (e *Expansion) IsOpen(jobID string) bool {
	if e == nil {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isOpen(jobID)
}

func (e *Expansion) isOpen(jobID string) bool {
	if v, ok := e.open[jobID]; ok {
		return v
	}
	return e.all
}
