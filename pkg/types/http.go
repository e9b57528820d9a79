package types

import (
	"fmt"
	"net/http"
	"time"
)

// HTTPClientInterface is an abstraction over *http.Client so the scanner gateway and the
// GitHub client can be tested against canned responses.
type HTTPClientInterface interface {
	Do(req *http.Request) (*http.Response, error)
}

// RealHTTPClient is a concrete implementation of HTTPClientInterface that uses a real http.Client to make requests.
type RealHTTPClient struct {
	Client    *http.Client
	UserAgent string
}

// DefaultUserAgent is sent on every outbound request unless overridden.
const DefaultUserAgent = "compass-dashboard/1.0"

// NewRealHTTPClient creates a RealHTTPClient. A zero timeout means no client-side timeout.
func NewRealHTTPClient(timeout time.Duration) *RealHTTPClient {
	return &RealHTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		UserAgent: DefaultUserAgent,
	}
}

// Do sends an HTTP request using the underlying http.Client and returns the response.
func (c *RealHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to do request: %w", err)
	}
	return resp, nil
}
