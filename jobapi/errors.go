package jobapi

import (
	"fmt"
)

// NetworkError is returned for a non-2xx response or a transport failure on a REST call.
// Error() is the text meant for the user.
type NetworkError struct {
	Op         string // list, get, upload, stream
	StatusCode int    // 0 for transport failures
	Message    string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("Request failed: %d", e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DownloadError is returned when the error report can not be fetched.
type DownloadError struct {
	JobID      string
	StatusCode int
	Err        error
}

const downloadErrorMessage = "Failed to download error report"

func (e *DownloadError) Error() string {
	return downloadErrorMessage
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// ParseError is returned for a malformed stream payload. It is logged, never shown.
type ParseError struct {
	Event string
	Data  string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s payload: %v", e.Event, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
