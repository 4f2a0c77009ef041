package tool

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultAPIBaseURL is used when the configured base URL is empty.
const DefaultAPIBaseURL = "http://127.0.0.1:3000"

// NormalizeBaseURL trims trailing slashes and applies the default origin for an empty value.
func NormalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return DefaultAPIBaseURL
	}
	return base
}

// BuildJobsURL builds the GET /api/jobs URL.
func BuildJobsURL(base string) string {
	return base + "/api/jobs"
}

// BuildJobURL builds the GET /api/jobs/{id} URL.
func BuildJobURL(base, jobID string) string {
	return fmt.Sprintf("%s/api/jobs/%s", base, url.PathEscape(jobID))
}

// BuildUploadURL builds the POST /api/jobs/upload URL.
func BuildUploadURL(base string) string {
	return base + "/api/jobs/upload"
}

// BuildErrorReportURL builds the GET /api/jobs/{id}/error-report URL.
func BuildErrorReportURL(base, jobID string) string {
	return BuildJobURL(base, jobID) + "/error-report"
}

// BuildStreamURL builds the GET /api/jobs/{id}/stream URL.
func BuildStreamURL(base, jobID string) string {
	return BuildJobURL(base, jobID) + "/stream"
}

// HostFromBaseURL returns the host name of the API origin, without port.
func HostFromBaseURL(base string) (string, error) {
	u, err := url.Parse(NormalizeBaseURL(base))
	if err != nil {
		return "", fmt.Errorf("failed to parse base URL: %v", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("base URL %q has no host", base)
	}
	return u.Hostname(), nil
}
