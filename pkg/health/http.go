package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/wharfd/wharf/pkg/types"
)

// HTTPChecker probes an HTTP endpoint and verifies the response status.
type HTTPChecker struct {
	// URL is the full HTTP URL to check (e.g. "http://localhost:8080/health").
	URL string

	// Method is the HTTP method to use (default: GET).
	Method string

	// ExpectedStatus is the exact status required for Healthy; 0 accepts
	// any 2xx.
	ExpectedStatus int

	// Client is the HTTP client to use.
	Client *http.Client
}

// NewHTTPChecker creates an HTTP health checker for host:port and path.
func NewHTTPChecker(host string, port int, path string) *HTTPChecker {
	if path == "" {
		path = "/"
	}
	return &HTTPChecker{
		URL:    "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + path,
		Method: http.MethodGet,
		Client: &http.Client{Timeout: DefaultTimeout},
	}
}

// Check performs one HTTP probe. A response with the expected status is
// Healthy; any other status or transport failure is Unhealthy, except a
// refused connection which is Unreachable.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return Result{
			Verdict:   Unhealthy,
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		verdict := Unhealthy
		if isRefused(err) {
			verdict = Unreachable
		}
		return Result{
			Verdict:   verdict,
			Message:   fmt.Sprintf("request to %s failed: %v", h.URL, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	healthy := false
	if h.ExpectedStatus != 0 {
		healthy = resp.StatusCode == h.ExpectedStatus
	} else {
		healthy = resp.StatusCode >= 200 && resp.StatusCode <= 299
	}

	message := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	verdict := Healthy
	if !healthy {
		verdict = Unhealthy
		if h.ExpectedStatus != 0 {
			message = fmt.Sprintf("%s (expected %d)", message, h.ExpectedStatus)
		} else {
			message = fmt.Sprintf("%s (expected 2xx)", message)
		}
	}

	return Result{
		Verdict:   verdict,
		Message:   message,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// Kind returns the probe protocol.
func (h *HTTPChecker) Kind() types.CheckKind {
	return types.CheckKindHTTP
}

// WithMethod sets the HTTP method.
func (h *HTTPChecker) WithMethod(method string) *HTTPChecker {
	h.Method = method
	return h
}

// WithExpectedStatus requires an exact response status.
func (h *HTTPChecker) WithExpectedStatus(status int) *HTTPChecker {
	h.ExpectedStatus = status
	return h
}

// WithTimeout sets the HTTP client timeout.
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
