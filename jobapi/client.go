// Package jobapi talks to the remote CSV import job API: REST calls and per-job event streams.
package jobapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/moyoez/csvjobs-dashboard/tool"
)

// maxErrorBodySize bounds how much of a failed response body is kept as the error message.
const maxErrorBodySize = 4 * 1024

// Client issues calls against one API origin. It never retries; that is the caller's decision.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client for baseURL using the shared tool HTTP clients.
func NewClient(baseURL string) *Client {
	return NewClientWithHTTP(baseURL, tool.GetHttpClient(), tool.GetStreamHttpClient())
}

// NewClientWithHTTP creates a client with explicit HTTP clients, nil falls back to the shared ones.
func NewClientWithHTTP(baseURL string, httpClient, streamClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = tool.GetHttpClient()
	}
	if streamClient == nil {
		streamClient = tool.GetStreamHttpClient()
	}
	return &Client{
		baseURL:      tool.NormalizeBaseURL(baseURL),
		httpClient:   httpClient,
		streamClient: streamClient,
	}
}

// doJSON sends req and decodes a 2xx JSON body into out.
func (c *Client) doJSON(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to send %s request: %w", op, err)}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			tool.DefaultLogger.Errorf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return statusError(op, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read %s response: %w", op, err)}
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return &NetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to parse %s response: %v", op, err),
			Err:        err,
		}
	}
	return nil
}

// statusError turns a non-2xx response into a NetworkError carrying the server's text when there is one.
func statusError(op string, resp *http.Response) *NetworkError {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if readErr != nil {
		tool.DefaultLogger.Warnf("Failed to read %s error body: %v", op, readErr)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("Request failed: %d", resp.StatusCode)
	}
	tool.DefaultLogger.Debugf("%s request failed with %s: %s", op, resp.Status, msg)
	return &NetworkError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}

// IsCanceled reports whether err came from a cancelled or expired context.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
