package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/moyoez/csvjobs-dashboard/api/notifyhub"
	"github.com/moyoez/csvjobs-dashboard/jobapi"
	"github.com/moyoez/csvjobs-dashboard/jobsync"
	"github.com/moyoez/csvjobs-dashboard/notify"
	"github.com/moyoez/csvjobs-dashboard/types"
)

type fakeJobs struct {
	mu         sync.Mutex
	snap       jobsync.Snapshot
	refreshErr error
	refreshes  int
	stats      jobsync.Stats
	statsErr   error
}

func (f *fakeJobs) Snapshot() jobsync.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeJobs) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.refreshErr
}

func (f *fakeJobs) Mode() jobsync.Mode { return jobsync.ModePush }

func (f *fakeJobs) Stats(ctx context.Context) (jobsync.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, f.statsErr
}

type fakeJobAPI struct {
	mu          sync.Mutex
	uploadedAs  string
	uploadBody  string
	uploadErr   error
	report      []byte
	reportErr   error
	reportCalls int
}

func (f *fakeJobAPI) UploadCsv(ctx context.Context, filename string, data io.Reader) (types.UploadResponse, error) {
	body, _ := io.ReadAll(data)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadedAs = filename
	f.uploadBody = string(body)
	if f.uploadErr != nil {
		return types.UploadResponse{}, f.uploadErr
	}
	return types.UploadResponse{JobID: "new-job"}, nil
}

func (f *fakeJobAPI) DownloadErrorReport(ctx context.Context, jobID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reportCalls++
	if f.reportErr != nil {
		return nil, f.reportErr
	}
	return f.report, nil
}

type recordingHook struct {
	jobIDs []string
}

func (h *recordingHook) OnUploaded(jobID, filename string) error {
	h.jobIDs = append(h.jobIDs, jobID)
	return nil
}

func setupServer(t *testing.T, jobs *fakeJobs, jobAPI *fakeJobAPI, hub *notifyhub.Hub) (http.Handler, *recordingHook) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hook := &recordingHook{}
	srv := NewServer(0, Deps{Jobs: jobs, Uploader: jobAPI, Reports: jobAPI, Hook: hook, Hub: hub})
	return srv.Handler(), hook
}

func localRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "127.0.0.1:40000"
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := sonic.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
	return out
}

func sampleJobs() []types.Job {
	return []types.Job{
		{ID: "a1", Filename: "customers.csv", Status: types.JobStatusProcessing, TotalRows: 100, ProcessedRows: 50, SuccessCount: 48, FailedCount: 2, CreatedAt: "2024-08-06T10:15:30.000Z"},
		{ID: "b2", Filename: "orders.csv", Status: types.JobStatusCompleted, TotalRows: 10, ProcessedRows: 10, SuccessCount: 10, CreatedAt: "2024-08-05T10:15:30.000Z"},
	}
}

func TestOnlyLocalClientsAllowed(t *testing.T) {
	handler, _ := setupServer(t, &fakeJobs{}, &fakeJobAPI{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/self/v1/jobs", nil)
	req.RemoteAddr = "192.168.1.20:5555"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for remote client, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/jobs", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for local client, got %d", w.Code)
	}
}

func TestForwardedHeadersCannotSpoofLocalClient(t *testing.T) {
	handler, _ := setupServer(t, &fakeJobs{}, &fakeJobAPI{}, nil)

	for _, header := range []string{"X-Forwarded-For", "X-Real-IP"} {
		req := httptest.NewRequest(http.MethodGet, "/api/self/v1/jobs", nil)
		req.RemoteAddr = "203.0.113.9:5555"
		req.Header.Set(header, "127.0.0.1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: expected 403 for a remote client, got %d", header, w.Code)
		}
	}
}

func TestServerListensOnLoopback(t *testing.T) {
	srv := NewServer(8765, Deps{Jobs: &fakeJobs{}})
	if srv.Addr() != "127.0.0.1:8765" {
		t.Errorf("Unexpected listen address %s", srv.Addr())
	}
	if srv.URL() != "http://127.0.0.1:8765/api/self/v1" {
		t.Errorf("Unexpected URL %s", srv.URL())
	}
}

func TestCORSPreflight(t *testing.T) {
	handler, _ := setupServer(t, &fakeJobs{}, &fakeJobAPI{}, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodOptions, "/api/self/v1/refresh", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected wildcard CORS origin")
	}
}

func TestListJobsDerivesRowFields(t *testing.T) {
	jobs := &fakeJobs{snap: jobsync.Snapshot{Jobs: sampleJobs(), HasActive: true}}
	handler, _ := setupServer(t, jobs, &fakeJobAPI{}, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/jobs", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	rows := data["jobs"].([]any)
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	first := rows[0].(map[string]any)
	if first["_id"] != "a1" || first["percent"] != float64(50) || first["canDownloadReport"] != true {
		t.Errorf("Unexpected first row %v", first)
	}
	if first["reportFilename"] != "customers-errors-2024-08-06T10-15-30-000Z.csv" {
		t.Errorf("Unexpected report filename %v", first["reportFilename"])
	}
	second := rows[1].(map[string]any)
	if second["canDownloadReport"] != false {
		t.Errorf("Expected no report for a clean job, got %v", second)
	}
	if data["hasActive"] != true || data["mode"] != "push" {
		t.Errorf("Unexpected envelope %v", data)
	}
}

func TestRefreshIsRateLimited(t *testing.T) {
	jobs := &fakeJobs{}
	handler, _ := setupServer(t, jobs, &fakeJobAPI{}, nil)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, localRequest(http.MethodPost, "/api/self/v1/refresh", nil))
		codes = append(codes, w.Code)
	}
	for i := 0; i < 3; i++ {
		if codes[i] != http.StatusOK {
			t.Errorf("Request %d: expected 200, got %d", i, codes[i])
		}
	}
	if codes[3] != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after the burst, got %d", codes[3])
	}
	if jobs.refreshes != 3 {
		t.Errorf("Expected 3 refreshes, got %d", jobs.refreshes)
	}
}

func TestRefreshFailure(t *testing.T) {
	jobs := &fakeJobs{refreshErr: &jobapi.NetworkError{Op: "list", StatusCode: 500}}
	handler, _ := setupServer(t, jobs, &fakeJobAPI{}, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodPost, "/api/self/v1/refresh", nil))
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
	if msg := decodeBody(t, w)["error"]; msg != "Request failed: 500" {
		t.Errorf("Unexpected error %v", msg)
	}
}

func multipartCSV(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return body, mw.FormDataContentType()
}

func TestUploadProxiesAndRefreshes(t *testing.T) {
	jobs := &fakeJobs{}
	jobAPI := &fakeJobAPI{}
	handler, hook := setupServer(t, jobs, jobAPI, nil)

	body, contentType := multipartCSV(t, "file", "people.csv", "name,email\nada,ada@example.com\n")
	req := localRequest(http.MethodPost, "/api/self/v1/upload", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := decodeBody(t, w)["data"].(map[string]any)
	if data["jobId"] != "new-job" || data["message"] != "Uploaded! Job ID: new-job" {
		t.Errorf("Unexpected response %v", data)
	}
	if jobAPI.uploadedAs != "people.csv" || !strings.HasPrefix(jobAPI.uploadBody, "name,email") {
		t.Errorf("Unexpected forwarded upload %q %q", jobAPI.uploadedAs, jobAPI.uploadBody)
	}
	if jobs.refreshes != 1 {
		t.Errorf("Expected a refresh after upload, got %d", jobs.refreshes)
	}
	if len(hook.jobIDs) != 1 || hook.jobIDs[0] != "new-job" {
		t.Errorf("Expected upload hook call, got %v", hook.jobIDs)
	}
}

func TestUploadRejections(t *testing.T) {
	jobAPI := &fakeJobAPI{uploadErr: &jobapi.NetworkError{Op: "upload", StatusCode: 400, Message: "CSV header missing"}}
	handler, _ := setupServer(t, &fakeJobs{}, jobAPI, nil)

	tests := []struct {
		name     string
		field    string
		filename string
		code     int
		msg      string
	}{
		{"missing field", "document", "a.csv", http.StatusBadRequest, "Missing file field"},
		{"not csv", "file", "a.xlsx", http.StatusBadRequest, "Only CSV files are accepted"},
		{"backend rejects", "file", "a.csv", http.StatusBadRequest, "CSV header missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartCSV(t, tt.field, tt.filename, "x")
			req := localRequest(http.MethodPost, "/api/self/v1/upload", body)
			req.Header.Set("Content-Type", contentType)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Errorf("Expected %d, got %d", tt.code, w.Code)
			}
			if msg := decodeBody(t, w)["error"]; msg != tt.msg {
				t.Errorf("Expected %q, got %v", tt.msg, msg)
			}
		})
	}
}

func TestErrorReportDownload(t *testing.T) {
	jobs := []types.Job{
		{ID: "api-failed", Filename: "orders.csv", Status: types.JobStatusFailed, FailedCount: 3, CreatedAt: "2024-08-06T10:15:30.000Z"},
		{ID: "api-clean", Filename: "clean.csv", Status: types.JobStatusCompleted, CreatedAt: "2024-08-06T10:15:30.000Z"},
	}
	jobAPI := &fakeJobAPI{report: []byte("row,error\n4,bad\n")}
	handler, _ := setupServer(t, &fakeJobs{snap: jobsync.Snapshot{Jobs: jobs}}, jobAPI, nil)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/jobs/api-failed/error-report", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		if w.Body.String() != "row,error\n4,bad\n" {
			t.Errorf("Unexpected body %q", w.Body.String())
		}
		if got := attachmentName(t, w); got != "orders-errors-2024-08-06T10-15-30-000Z.csv" {
			t.Errorf("Unexpected attachment name %q", got)
		}
	}
	if jobAPI.reportCalls != 1 {
		t.Errorf("Expected the second download to be cached, got %d fetches", jobAPI.reportCalls)
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/jobs/api-clean/error-report", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for a job without failures, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/jobs/nope/error-report", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown job, got %d", w.Code)
	}
}

func attachmentName(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	disposition, params, err := mime.ParseMediaType(w.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("Bad Content-Disposition %q: %v", w.Header().Get("Content-Disposition"), err)
	}
	if disposition != "attachment" {
		t.Errorf("Expected attachment, got %s", disposition)
	}
	return params["filename"]
}

func TestErrorReportFilenameWithQuotes(t *testing.T) {
	jobs := []types.Job{
		{ID: "api-quoted", Filename: `q"1; x=y.csv`, Status: types.JobStatusFailed, FailedCount: 1, CreatedAt: "2024-08-06T10:15:30.000Z"},
	}
	handler, _ := setupServer(t, &fakeJobs{snap: jobsync.Snapshot{Jobs: jobs}}, &fakeJobAPI{report: []byte("row,error\n")}, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/jobs/api-quoted/error-report", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got := attachmentName(t, w); got != `q"1; x=y-errors-2024-08-06T10-15-30-000Z.csv` {
		t.Errorf("Unexpected attachment name %q", got)
	}
}

func TestErrorReportDownloadFailure(t *testing.T) {
	jobs := []types.Job{{ID: "api-broken", Filename: "x.csv", Status: types.JobStatusFailed, FailedCount: 1}}
	jobAPI := &fakeJobAPI{reportErr: &jobapi.DownloadError{JobID: "api-broken", StatusCode: 500}}
	handler, _ := setupServer(t, &fakeJobs{snap: jobsync.Snapshot{Jobs: jobs}}, jobAPI, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/jobs/api-broken/error-report", nil))
	if w.Code != http.StatusBadGateway {
		t.Errorf("Expected 502, got %d", w.Code)
	}
	if msg := decodeBody(t, w)["error"]; msg != "Failed to download error report" {
		t.Errorf("Unexpected error %v", msg)
	}
}

func TestStatusAndQRCode(t *testing.T) {
	jobs := &fakeJobs{snap: jobsync.Snapshot{Jobs: sampleJobs()}, stats: jobsync.Stats{OpenStreams: 1}}
	handler, _ := setupServer(t, jobs, &fakeJobAPI{}, nil)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/status", nil))
	status := decodeBody(t, w)
	if status["running"] != true || status["live"] != true {
		t.Errorf("Unexpected status %v", status)
	}
	if status["openStreams"] != float64(1) || status["pendingReconnects"] != float64(0) || status["mode"] != "push" {
		t.Errorf("Expected sync loop stats, got %v", status)
	}

	jobs.mu.Lock()
	jobs.statsErr = jobsync.ErrClosed
	jobs.mu.Unlock()
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/status", nil))
	if status := decodeBody(t, w); status["running"] != false {
		t.Errorf("Expected running=false once the sync loop stopped, got %v", status)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, localRequest(http.MethodGet, "/api/self/v1/create-qr-code?size=128x128", nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("Expected PNG, got %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("Expected PNG signature")
	}
}

func readNotification(t *testing.T, conn *websocket.Conn) types.Notification {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var n types.Notification
	if err := sonic.Unmarshal(msg, &n); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	return n
}

func TestNotifyWebsocketReceivesBroadcasts(t *testing.T) {
	hub := notifyhub.New()
	notify.SetNotifyHub(hub)
	t.Cleanup(func() { notify.SetNotifyHub(nil) })

	jobs := &fakeJobs{snap: jobsync.Snapshot{Jobs: sampleJobs()[1:]}}
	handler, _ := setupServer(t, jobs, &fakeJobAPI{}, hub)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/self/v1/notify-ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	// the current list arrives before any change
	first := readNotification(t, conn)
	if first.Type != types.NotifyTypeJobsUpdated || first.Message != "1 jobs, 0 active" || first.ID == "" {
		t.Errorf("Unexpected first notification %+v", first)
	}
	list, _ := first.Data["jobs"].([]any)
	if len(list) != 1 {
		t.Errorf("Expected the current job in the first notification, got %v", first.Data["jobs"])
	}

	h := NewDefaultHandler()
	h.OnJobsChanged(jobsync.Snapshot{Jobs: sampleJobs(), HasActive: true})

	n := readNotification(t, conn)
	if n.Type != types.NotifyTypeJobsUpdated || n.Message != "2 jobs, 1 active" || n.ID == "" {
		t.Errorf("Unexpected notification %+v", n)
	}
}

func TestHandlerCallbacks(t *testing.T) {
	h := &Handler{}
	if err := h.OnUploaded("x", "y.csv"); err != nil {
		t.Errorf("Empty handler must be a no-op, got %v", err)
	}
	h.OnJobDone(types.Job{})

	var done []string
	h.SetOnJobDone(func(job types.Job) { done = append(done, job.ID) })
	h.SetOnUploaded(func(jobID, filename string) error { return errors.New("socket down") })
	h.OnJobDone(types.Job{ID: "a1"})
	if len(done) != 1 || done[0] != "a1" {
		t.Errorf("Expected done callback, got %v", done)
	}
	if err := h.OnUploaded("a1", "a.csv"); err == nil {
		t.Error("Expected the upload callback error")
	}
}
