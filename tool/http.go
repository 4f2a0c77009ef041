package tool

import (
	"net/http"
	"time"
)

var (
	ConnectionHttpClient *http.Client
	StreamHttpClient     *http.Client
)

func init() {
	ConnectionHttpClient = NewHTTPClient()
	StreamHttpClient = NewHTTPClient()
}

// NewHTTPClient creates an HTTP client without a request timeout.
// REST and stream calls are bounded by their context instead, an event stream stays open for the whole job.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}
	return &http.Client{
		Transport: transport,
	}
}

func GetHttpClient() *http.Client {
	return ConnectionHttpClient
}

func GetStreamHttpClient() *http.Client {
	return StreamHttpClient
}

// NewHTTPReqWithApplication sets the JSON accept/content headers on a freshly built request.
func NewHTTPReqWithApplication(req *http.Request, err error) (*http.Request, error) {
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if req.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
