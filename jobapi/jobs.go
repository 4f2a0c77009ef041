package jobapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/moyoez/csvjobs-dashboard/tool"
	"github.com/moyoez/csvjobs-dashboard/types"
)

// UploadFieldName is the multipart field the job API reads the CSV from.
const UploadFieldName = "file"

// ListJobs fetches every job known to the API.
// GET /api/jobs
func (c *Client) ListJobs(ctx context.Context) ([]types.Job, error) {
	req, err := tool.NewHTTPReqWithApplication(http.NewRequestWithContext(ctx, http.MethodGet, tool.BuildJobsURL(c.baseURL), nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create list request: %v", err)
	}
	var jobs []types.Job
	if err := c.doJSON(req, "list", &jobs); err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []types.Job{}
	}
	return jobs, nil
}

// GetJob fetches a single job.
// GET /api/jobs/{id}
func (c *Client) GetJob(ctx context.Context, id string) (types.Job, error) {
	if id == "" {
		return types.Job{}, fmt.Errorf("invalid parameters: job id must not be empty")
	}
	req, err := tool.NewHTTPReqWithApplication(http.NewRequestWithContext(ctx, http.MethodGet, tool.BuildJobURL(c.baseURL, id), nil))
	if err != nil {
		return types.Job{}, fmt.Errorf("failed to create get request: %v", err)
	}
	var job types.Job
	if err := c.doJSON(req, "get", &job); err != nil {
		return types.Job{}, err
	}
	return job, nil
}

// UploadCsv streams data as a multipart body under the "file" field.
// POST /api/jobs/upload
func (c *Client) UploadCsv(ctx context.Context, filename string, data io.Reader) (types.UploadResponse, error) {
	if filename == "" {
		return types.UploadResponse{}, fmt.Errorf("invalid parameters: filename must not be empty")
	}
	if data == nil {
		return types.UploadResponse{}, fmt.Errorf("invalid parameters: data must not be nil")
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreatePart(csvPartHeader(filename))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := tool.CopyWithContext(ctx, part, data); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.BuildUploadURL(c.baseURL), pr)
	if err != nil {
		pr.Close()
		return types.UploadResponse{}, fmt.Errorf("failed to create upload request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", tool.GenerateRandomUUID())

	var resp types.UploadResponse
	if err := c.doJSON(req, "upload", &resp); err != nil {
		return types.UploadResponse{}, err
	}
	if resp.JobID == "" {
		return types.UploadResponse{}, &NetworkError{Op: "upload", StatusCode: http.StatusOK, Message: "upload response missing jobId"}
	}
	tool.DefaultLogger.Infof("Uploaded %s as job %s", filename, resp.JobID)
	return resp, nil
}

// UploadFile opens path and uploads it with its base name.
func (c *Client) UploadFile(ctx context.Context, path string) (types.UploadResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.UploadResponse{}, fmt.Errorf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return types.UploadResponse{}, fmt.Errorf("failed to stat %s: %v", path, err)
	}
	if info.IsDir() {
		return types.UploadResponse{}, fmt.Errorf("path is a directory, not a file: %s", path)
	}
	return c.UploadCsv(ctx, filepath.Base(path), f)
}

// DownloadErrorReport fetches the CSV error report of a job.
// GET /api/jobs/{id}/error-report
func (c *Client) DownloadErrorReport(ctx context.Context, jobID string) ([]byte, error) {
	if jobID == "" {
		return nil, fmt.Errorf("invalid parameters: job id must not be empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tool.BuildErrorReportURL(c.baseURL, jobID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create error report request: %v", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &DownloadError{JobID: jobID, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			tool.DefaultLogger.Errorf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		tool.DefaultLogger.Debugf("Error report for %s failed: %s", jobID, resp.Status)
		return nil, &DownloadError{JobID: jobID, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &DownloadError{JobID: jobID, StatusCode: resp.StatusCode, Err: err}
	}
	return body, nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func csvPartHeader(filename string) textproto.MIMEHeader {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, UploadFieldName, quoteEscaper.Replace(filename)))
	h.Set("Content-Type", "text/csv")
	return h
}
