package view

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/types"
)

const (
	EmptyText       = "No jobs yet. Upload a CSV to start."
	LiveText        = "Auto-updating…"
	LoadingText     = "Refreshing…"
	progressBarSize = 20
)

var tableHeaders = []string{"Filename", "Status", "Progress", "Success", "Failed", "Details"}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	liveStyle   = lipgloss.NewStyle().Foreground(toneColors[ToneSuccess])
	mutedStyle  = lipgloss.NewStyle().Foreground(toneColors[ToneDefault])
	errorStyle  = lipgloss.NewStyle().Foreground(toneColors[ToneError])
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(toneColors[ToneDefault])
)

// Render writes the jobs table for snap. Rows opened in exp get a details block.
func Render(w io.Writer, snap jobsync.Snapshot, exp *Expansion) error {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Jobs"))
	if HasActive(snap.Jobs) {
		b.WriteString(" " + liveStyle.Render(LiveText))
	}
	b.WriteString("\n")
	if snap.Loading {
		b.WriteString(mutedStyle.Render(LoadingText) + "\n")
	}
	if snap.Error != "" {
		b.WriteString(errorStyle.Render("Error: "+snap.Error) + "\n")
	}

	if len(snap.Jobs) == 0 {
		if !snap.Loading {
			b.WriteString(EmptyText + "\n")
		}
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString(renderTable(snap.Jobs, exp) + "\n")
	for _, job := range snap.Jobs {
		if exp.IsOpen(job.ID) {
			b.WriteString(renderDetails(job))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func renderTable(jobs []types.Job, exp *Expansion) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		details := "Show"
		if exp.IsOpen(job.ID) {
			details = "Hide"
		}
		rows = append(rows, []string{
			job.Filename,
			string(job.Status),
			progressCell(job),
			strconv.Itoa(job.SuccessCount),
			strconv.Itoa(job.FailedCount),
			details,
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(tableHeaders...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(jobs) {
				return cellStyle.Foreground(StatusColor(jobs[row].Status))
			}
			return cellStyle
		})
	return t.String()
}

func progressCell(job types.Job) string {
	pct := Percent(job)
	return fmt.Sprintf("%s %d/%d (%d%%)", ProgressBar(pct, progressBarSize), job.ProcessedRows, job.TotalRows, pct)
}

// ProgressBar draws pct (clamped to 0..100) as a bar of width cells.
func ProgressBar(pct, width int) string {
	pct = max(0, min(pct, 100))
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func renderDetails(job types.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(job.Filename), mutedStyle.Render("("+string(job.Status)+")"))
	fmt.Fprintf(&b, "  Job ID: %s\n", job.ID)
	fmt.Fprintf(&b, "  Created: %s\n", displayTime(job.CreatedAt))
	if job.CompletedAt != "" {
		fmt.Fprintf(&b, "  Completed: %s\n", displayTime(job.CompletedAt))
	}
	if CanDownloadErrorReport(job) {
		fmt.Fprintf(&b, "  Error report: d %s\n", job.ID)
	}
	errs, truncated := VisibleErrors(job.Errors)
	for _, e := range errs {
		b.WriteString("  " + errorStyle.Render("! "+e) + "\n")
	}
	if truncated {
		b.WriteString("  " + mutedStyle.Render(ErrorsTruncatedNotice) + "\n")
	}
	return b.String()
}

// displayTime shows an API timestamp in local time, or verbatim when it does not parse.
func displayTime(s string) string {
	t, ok := types.ParseTimestamp(s)
	if !ok {
		return s
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
