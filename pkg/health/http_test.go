package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHTTPChecker(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		min     int
		max     int
		healthy bool
	}{
		{name: "ok", status: http.StatusOK, healthy: true},
		{name: "server error", status: http.StatusInternalServerError, healthy: false},
		{name: "service unavailable", status: http.StatusServiceUnavailable, healthy: false},
		{name: "custom range accepts", status: http.StatusCreated, min: 201, max: 201, healthy: true},
		{name: "custom range rejects", status: http.StatusOK, min: 201, max: 201, healthy: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			checker := NewHTTPChecker(server.URL)
			if tt.min != 0 {
				checker.WithStatusRange(tt.min, tt.max)
			}

			result := checker.Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy, result.Message)
			assert.False(t, result.CheckedAt.IsZero())
		})
	}
}

func TestHTTPCheckerSendsHeaders(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithHeader("Authorization", "Token abc").Check(context.Background())
	assert.True(t, result.Healthy)
	assert.Equal(t, "Token abc", got)
}

func TestHTTPCheckerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	result := NewHTTPChecker(server.URL).WithTimeout(20 * time.Millisecond).Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Contains(t, result.Message, "request failed")
}

func TestHTTPCheckerUnreachable(t *testing.T) {
	result := NewHTTPChecker("http://127.0.0.1:1/health").Check(context.Background())
	assert.False(t, result.Healthy)
	assert.Equal(t, KindHTTP, NewHTTPChecker("").Kind())
}

func TestHTTPCheckerJSONStatus(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		healthy bool
		message string
	}{
		{name: "pass", body: `{"name":"influxdb","status":"pass","message":"ready for queries and writes"}`, healthy: true, message: `status "pass"`},
		{name: "fail", body: `{"status":"fail","message":"storage unavailable"}`, healthy: false, message: "storage unavailable"},
		{name: "not json", body: `ok`, healthy: false, message: "undecodable body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			result := NewHTTPChecker(server.URL).WithJSONStatus("pass").Check(context.Background())
			assert.Equal(t, tt.healthy, result.Healthy)
			assert.Contains(t, result.Message, tt.message)
		})
	}
}
