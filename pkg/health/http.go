package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"
)

// maxBody caps how much of a health response is read
const maxBody = 64 << 10

// HTTPChecker probes an HTTP health endpoint such as InfluxDB's /health.
// When AcceptedStatus is set, the JSON body's "status" field must also be
// one of those values.
type HTTPChecker struct {
	URL            string
	Headers        map[string]string
	StatusMin      int
	StatusMax      int
	AcceptedStatus []string
	Client         *http.Client
}

// NewHTTPChecker creates a checker that accepts any 2xx or 3xx response
func NewHTTPChecker(url string) *HTTPChecker {
	return &HTTPChecker{
		URL:       url,
		Headers:   make(map[string]string),
		StatusMin: http.StatusOK,
		StatusMax: 399,
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	result := func(healthy bool, format string, args ...any) Result {
		return Result{
			Healthy:   healthy,
			Message:   fmt.Sprintf(format, args...),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return result(false, "failed to create request: %v", err)
	}
	for k, v := range h.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return result(false, "request failed: %v", err)
	}
	defer resp.Body.Close()

	code := fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if resp.StatusCode < h.StatusMin || resp.StatusCode > h.StatusMax {
		return result(false, "%s (expected %d-%d)", code, h.StatusMin, h.StatusMax)
	}
	if len(h.AcceptedStatus) == 0 {
		return result(true, "%s", code)
	}

	var body struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&body); err != nil {
		return result(false, "%s: undecodable body: %v", code, err)
	}
	if !slices.Contains(h.AcceptedStatus, body.Status) {
		return result(false, "status %q: %s", body.Status, body.Message)
	}
	return result(true, "status %q", body.Status)
}

func (h *HTTPChecker) Kind() Kind {
	return KindHTTP
}

// WithHeader adds a request header
func (h *HTTPChecker) WithHeader(key, value string) *HTTPChecker {
	h.Headers[key] = value
	return h
}

// WithStatusRange sets the accepted HTTP status code range
func (h *HTTPChecker) WithStatusRange(min, max int) *HTTPChecker {
	h.StatusMin = min
	h.StatusMax = max
	return h
}

// WithJSONStatus requires the body's "status" field to be one of accepted
func (h *HTTPChecker) WithJSONStatus(accepted ...string) *HTTPChecker {
	h.AcceptedStatus = accepted
	return h
}

// WithTimeout sets the HTTP client timeout
func (h *HTTPChecker) WithTimeout(timeout time.Duration) *HTTPChecker {
	h.Client.Timeout = timeout
	return h
}
