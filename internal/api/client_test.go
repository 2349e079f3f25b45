package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token", "device-1",
		WithHTTPClient(srv.Client()))
}

func TestClassify_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/classify" {
			t.Errorf("path = %s, want /v1/classify", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization = %q", got)
		}
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req["text"] != "buy milk" {
			t.Errorf("text = %v, want buy milk", req["text"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "success",
			"data": map[string]interface{}{
				"classified_type": "task",
				"confidence":      "high",
				"ai_title":        "Buy milk",
				"tags":            []string{"errands"},
			},
		})
	})

	result, err := client.Classify(context.Background(), "buy milk", "text")
	if err != nil {
		t.Fatalf("Classify() failed: %v", err)
	}
	if result.ClassifiedType != "task" {
		t.Errorf("classified_type = %q, want task", result.ClassifiedType)
	}
	if result.AITitle != "Buy milk" {
		t.Errorf("ai_title = %q, want Buy milk", result.AITitle)
	}
}

func TestClassify_ErrorEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "error",
			"error":  "text too long",
		})
	})

	_, err := client.Classify(context.Background(), "x", "text")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if apiErr.Kind != KindInvalid {
		t.Errorf("kind = %q, want invalid", apiErr.Kind)
	}
	if apiErr.Retryable() {
		t.Error("envelope error reported retryable")
	}
}

func TestPush_EmptyChangeset(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DeviceID string   `json:"device_id"`
			Changes  []Change `json:"changes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad push body: %v", err)
		}
		if req.Changes == nil {
			t.Error("changes omitted, want empty array")
		}
		json.NewEncoder(w).Encode(PushResponse{ServerTimestamp: now, Acknowledged: 0})
	})

	resp, err := client.Push(context.Background(), nil)
	if err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	if !resp.ServerTimestamp.Equal(now) {
		t.Errorf("server_timestamp = %v, want %v", resp.ServerTimestamp, now)
	}
}

func TestPull_Cursor(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Cursor string `json:"cursor"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Cursor != "cur-1" {
			t.Errorf("cursor = %q, want cur-1", req.Cursor)
		}
		json.NewEncoder(w).Encode(PullResponse{NextCursor: "cur-2"})
	})

	resp, err := client.Pull(context.Background(), "cur-1")
	if err != nil {
		t.Fatalf("Pull() failed: %v", err)
	}
	if resp.NextCursor != "cur-2" {
		t.Errorf("next_cursor = %q, want cur-2", resp.NextCursor)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  ErrorKind
		retryable bool
	}{
		{http.StatusUnauthorized, KindAuth, false},
		{http.StatusForbidden, KindAuth, false},
		{http.StatusPaymentRequired, KindSubscription, false},
		{http.StatusTooManyRequests, KindRateLimited, true},
		{http.StatusBadRequest, KindInvalid, false},
		{http.StatusInternalServerError, KindServer, true},
		{http.StatusServiceUnavailable, KindUnavailable, true},
	}

	for _, tt := range tests {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		})
		_, err := client.Me(context.Background())
		var apiErr *Error
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: error = %v, want *Error", tt.status, err)
		}
		if apiErr.Kind != tt.wantKind {
			t.Errorf("status %d: kind = %q, want %q", tt.status, apiErr.Kind, tt.wantKind)
		}
		if apiErr.Retryable() != tt.retryable {
			t.Errorf("status %d: retryable = %v, want %v",
				tt.status, apiErr.Retryable(), tt.retryable)
		}
	}
}

func TestNetworkError_Retryable(t *testing.T) {
	// Point at a closed server so the dial fails.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(url, "", "device-1")
	_, err := client.Me(context.Background())
	if !Retryable(err) {
		t.Errorf("connection failure not retryable: %v", err)
	}
}

func TestIsAuth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := client.Me(context.Background())
	if !IsAuth(err) {
		t.Errorf("IsAuth() = false for 401: %v", err)
	}
}
