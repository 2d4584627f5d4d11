package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moonpup/dmcrypt-go/internal/apierrors"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New("test-token",
		WithBaseURL(server.URL),
		WithRetries(2),
	)
	if err != nil {
		t.Fatal(err)
	}
	// Keep retry tests fast.
	client.retry.BaseDelay = time.Millisecond
	client.retry.MaxDelay = 5 * time.Millisecond
	return client
}

func TestNew_RequiresSessionToken(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty session token")
	}
}

func TestNew_Defaults(t *testing.T) {
	client, err := New("test-token")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.baseURL != "https://api.moonpup.app" {
		t.Errorf("baseURL = %q", client.baseURL)
	}
	if client.httpClient.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", client.httpClient.Timeout)
	}
	if client.retry.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", client.retry.MaxRetries)
	}
}

func TestDo_SetsAuthAndContentHeaders(t *testing.T) {
	var gotAuth, gotContentType, gotAccept string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{}`))
	}))

	if err := client.Do(context.Background(), "GET", "/x", nil, nil); err != nil {
		t.Fatal(err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestDo_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))

	var result struct {
		OK bool `json:"ok"`
	}
	if err := client.Do(context.Background(), "GET", "/x", nil, &result); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if !result.OK {
		t.Error("result not decoded")
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestDo_ResendsBodyOnRetry(t *testing.T) {
	var calls atomic.Int32
	var lastBody atomic.Value
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastBody.Store(body["value"])
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))

	body := map[string]string{"value": "payload"}
	if err := client.Do(context.Background(), "POST", "/x", body, nil); err != nil {
		t.Fatal(err)
	}
	if got, _ := lastBody.Load().(string); got != "payload" {
		t.Errorf("retried request body = %q, want %q", got, "payload")
	}
}

func TestDo_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad input"}`))
	}))

	err := client.Do(context.Background(), "GET", "/x", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("server calls = %d, want 1", got)
	}
}

func TestDo_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := client.Do(context.Background(), "GET", "/x", nil, nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var apiErr *apierrors.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("unexpected error: %v", err)
	}
	// MaxRetries=2 means 3 total attempts.
	if got := calls.Load(); got != 3 {
		t.Errorf("server calls = %d, want 3", got)
	}
}

func TestDo_NetworkErrorAfterRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // nothing listening

	client, err := New("test-token", WithBaseURL(server.URL), WithRetries(1))
	if err != nil {
		t.Fatal(err)
	}
	client.retry.BaseDelay = time.Millisecond

	err = client.Do(context.Background(), "GET", "/x", nil, nil)
	var netErr *apierrors.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if netErr.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", netErr.Attempt)
	}
}

func TestDo_ParsesErrorResponse(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantReqID   string
	}{
		{"error field", 400, `{"error": "invalid recipient"}`, "invalid recipient", ""},
		{"message field", 403, `{"message": "forbidden"}`, "forbidden", ""},
		{"with request id", 400, `{"error": "nope", "request_id": "req-1"}`, "nope", "req-1"},
		{"non-json body", 418, `teapot`, "teapot", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))

			err := client.Do(context.Background(), "GET", "/x", nil, nil)
			var apiErr *apierrors.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", apiErr.StatusCode, tt.status)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
			if apiErr.RequestID != tt.wantReqID {
				t.Errorf("RequestID = %q, want %q", apiErr.RequestID, tt.wantReqID)
			}
		})
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	client.retry.BaseDelay = time.Minute // force the wait path

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- client.Do(ctx, "GET", "/x", nil, nil)
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do() did not return after cancellation")
	}
}
