package view

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/types"
)

func TestPercent(t *testing.T) {
	tests := []struct {
		name      string
		processed int
		total     int
		want      int
	}{
		{"zero total", 5, 0, 0},
		{"half", 50, 100, 50},
		{"rounds up", 2, 3, 67},
		{"rounds down", 1, 3, 33},
		{"half rounds up", 1, 8, 13},
		{"complete", 7, 7, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percent(types.Job{ProcessedRows: tt.processed, TotalRows: tt.total})
			if got != tt.want {
				t.Errorf("Percent(%d/%d) = %d, want %d", tt.processed, tt.total, got, tt.want)
			}
		})
	}
}

func TestStatusTone(t *testing.T) {
	cases := map[types.JobStatus]Tone{
		types.JobStatusCompleted:  ToneSuccess,
		types.JobStatusFailed:     ToneError,
		types.JobStatusProcessing: ToneWarning,
		types.JobStatusPending:    ToneDefault,
		"unknown":                 ToneDefault,
	}
	for status, want := range cases {
		if got := StatusTone(status); got != want {
			t.Errorf("StatusTone(%q) = %q, want %q", status, got, want)
		}
		if StatusColor(status) != toneColors[want] {
			t.Errorf("StatusColor(%q) does not match tone %q", status, want)
		}
	}
}

func TestVisibleErrors(t *testing.T) {
	few := []string{"a", "b"}
	got, truncated := VisibleErrors(few)
	if len(got) != 2 || truncated {
		t.Errorf("Expected 2 errors untruncated, got %d truncated=%v", len(got), truncated)
	}

	many := make([]string, 12)
	for i := range many {
		many[i] = fmt.Sprintf("row %d", i+1)
	}
	got, truncated = VisibleErrors(many)
	if len(got) != MaxVisibleErrors || !truncated {
		t.Errorf("Expected %d errors truncated, got %d truncated=%v", MaxVisibleErrors, len(got), truncated)
	}
	if got[9] != "row 10" {
		t.Errorf("Expected the first ten errors, last is %q", got[9])
	}

	exact := many[:10]
	if _, truncated := VisibleErrors(exact); truncated {
		t.Error("Exactly ten errors must not be truncated")
	}
}

func TestCanDownloadErrorReport(t *testing.T) {
	if CanDownloadErrorReport(types.Job{FailedCount: 0}) {
		t.Error("Expected download disabled for zero failed rows")
	}
	if !CanDownloadErrorReport(types.Job{FailedCount: 3}) {
		t.Error("Expected download enabled for failed rows")
	}
}

func TestErrorReportFilename(t *testing.T) {
	job := types.Job{Filename: "customers.2024.csv", CreatedAt: "2024-08-06T10:15:30.123Z"}
	want := "customers.2024-errors-2024-08-06T10-15-30-123Z.csv"
	if got := ErrorReportFilename(job); got != want {
		t.Errorf("ErrorReportFilename = %q, want %q", got, want)
	}

	offset := types.Job{Filename: "orders.csv", CreatedAt: "2024-08-06T12:15:30+02:00"}
	if got := ErrorReportFilename(offset); got != "orders-errors-2024-08-06T10-15-30-000Z.csv" {
		t.Errorf("Expected UTC timestamp, got %q", got)
	}

	pattern := regexp.MustCompile(`^job-errors-\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}-\d{3}Z\.csv$`)
	if got := ErrorReportFilename(types.Job{CreatedAt: "garbage"}); !pattern.MatchString(got) {
		t.Errorf("Unexpected fallback filename %q", got)
	}
}

func TestExpansion(t *testing.T) {
	exp := NewExpansion()
	if exp.IsOpen("a1") {
		t.Error("Rows start collapsed")
	}
	if !exp.Toggle("a1") || !exp.IsOpen("a1") {
		t.Error("Expected a1 open after toggle")
	}
	if exp.Toggle("a1") || exp.IsOpen("a1") {
		t.Error("Expected a1 closed after second toggle")
	}

	exp.ExpandAll()
	if !exp.IsOpen("b2") {
		t.Error("Expected ExpandAll to open untouched rows")
	}
	if exp.IsOpen("a1") {
		t.Error("Explicitly closed rows stay closed after ExpandAll")
	}

	var nilExp *Expansion
	if nilExp.IsOpen("a1") {
		t.Error("Nil expansion has no open rows")
	}
}

func TestRenderEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, jobsync.Snapshot{}, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), EmptyText) {
		t.Errorf("Expected empty text, got %q", buf.String())
	}

	buf.Reset()
	if err := Render(&buf, jobsync.Snapshot{Loading: true}, nil); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if strings.Contains(out, EmptyText) {
		t.Error("Empty text must be hidden while loading")
	}
	if !strings.Contains(out, LoadingText) {
		t.Error("Expected loading line")
	}
}

func TestRenderTableAndDetails(t *testing.T) {
	errs := make([]string, 11)
	for i := range errs {
		errs[i] = fmt.Sprintf("row %d: invalid email", i+1)
	}
	snap := jobsync.Snapshot{
		Jobs: []types.Job{
			{ID: "a1", Filename: "customers.csv", Status: types.JobStatusProcessing, TotalRows: 100, ProcessedRows: 50, SuccessCount: 48, FailedCount: 2, CreatedAt: "2024-08-06T10:15:30.000Z"},
			{ID: "b2", Filename: "orders.csv", Status: types.JobStatusFailed, TotalRows: 20, ProcessedRows: 20, SuccessCount: 9, FailedCount: 11, Errors: errs, CreatedAt: "2024-08-05T10:15:30.000Z", CompletedAt: "2024-08-05T10:16:00.000Z"},
		},
		Error:     "Request failed: 500",
		HasActive: true,
	}
	exp := NewExpansion()
	exp.Set("b2", true)

	var buf bytes.Buffer
	if err := Render(&buf, snap, exp); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()

	for _, want := range append(tableHeaders,
		"customers.csv", "processing", "50/100 (50%)", "48",
		"orders.csv", "20/20 (100%)", "Hide", "Show",
		LiveText, "Error: Request failed: 500",
		"Job ID: b2", "Completed:", "row 10: invalid email", ErrorsTruncatedNotice, "d b2",
	) {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q\n%s", want, out)
		}
	}
	if strings.Contains(out, "row 11: invalid email") {
		t.Error("Expected the eleventh error to be hidden")
	}
	if strings.Contains(out, "Job ID: a1") {
		t.Error("Collapsed rows must not show details")
	}
}

func TestProgressBar(t *testing.T) {
	if got := ProgressBar(50, 10); got != "█████░░░░░" {
		t.Errorf("Unexpected bar %q", got)
	}
	if got := ProgressBar(150, 4); got != "████" {
		t.Errorf("Expected clamp to full, got %q", got)
	}
	if got := ProgressBar(-3, 4); got != "░░░░" {
		t.Errorf("Expected clamp to empty, got %q", got)
	}
}

type fakeActions struct {
	refreshes  int
	redraws    int
	refreshErr error
	uploaded   []string
	uploadID   string
	uploadErr  error
	downloaded []string
	savedPath  string
	downErr    error
}

func (f *fakeActions) Refresh(ctx context.Context) error {
	f.refreshes++
	return f.refreshErr
}

func (f *fakeActions) Upload(ctx context.Context, path string) (string, error) {
	f.uploaded = append(f.uploaded, path)
	return f.uploadID, f.uploadErr
}

func (f *fakeActions) DownloadReport(ctx context.Context, jobID string) (string, error) {
	f.downloaded = append(f.downloaded, jobID)
	return f.savedPath, f.downErr
}

func (f *fakeActions) Redraw() { f.redraws++ }

func TestConsoleRun(t *testing.T) {
	actions := &fakeActions{uploadID: "j-42", savedPath: "/tmp/orders-errors.csv"}
	exp := NewExpansion()
	in := strings.NewReader("r\n\ne a1\nu ./data/my file.csv\nd b2\nbogus\nq\nr\n")
	var out bytes.Buffer

	if err := NewConsole(in, &out, actions, exp).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if actions.refreshes != 2 {
		t.Errorf("Expected 2 refreshes (r and after upload), got %d", actions.refreshes)
	}
	if !exp.IsOpen("a1") {
		t.Error("Expected e a1 to open the row")
	}
	if len(actions.uploaded) != 1 || actions.uploaded[0] != "./data/my file.csv" {
		t.Errorf("Unexpected uploads %v", actions.uploaded)
	}
	if len(actions.downloaded) != 1 || actions.downloaded[0] != "b2" {
		t.Errorf("Unexpected downloads %v", actions.downloaded)
	}
	text := out.String()
	for _, want := range []string{"Uploaded! Job ID: j-42", "Saved error report to /tmp/orders-errors.csv", `Unknown command "bogus"`} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected console output to contain %q, got %q", want, text)
		}
	}
}

func TestConsoleErrors(t *testing.T) {
	actions := &fakeActions{
		refreshErr: errors.New("Request failed: 502"),
		uploadErr:  errors.New("Only CSV files are accepted"),
		downErr:    errors.New("Failed to download error report"),
	}
	var out bytes.Buffer
	c := NewConsole(strings.NewReader(""), &out, actions, nil)
	ctx := context.Background()

	c.Exec(ctx, "r")
	c.Exec(ctx, "u bad.txt")
	c.Exec(ctx, "d a1")
	c.Exec(ctx, "u")

	text := out.String()
	for _, want := range []string{"Request failed: 502", "Only CSV files are accepted", "Failed to download error report", "Usage: u <path>"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in %q", want, text)
		}
	}
	if strings.Contains(text, "Uploaded!") {
		t.Error("Failed upload must not report success")
	}
	if actions.redraws != 0 {
		t.Errorf("Expected no redraw after failures, got %d", actions.redraws)
	}
	if !c.Exec(ctx, "q") {
		t.Error("Expected q to stop the console")
	}
}
