package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got != "123" {
			t.Errorf("since = %q, want %q", got, "123")
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		w.Write([]byte(`{"items":[{"id":"1"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Options{RatePerSecond: 100})
	result, err := c.GetJSON(context.Background(), srv.URL, map[string]string{"since": "123"})
	if err != nil {
		t.Fatalf("GetJSON failed: %v", err)
	}

	m, ok := result.(map[string]any)
	if !ok {
		t.Fatalf("result = %T, want map", result)
	}
	if _, ok := m["items"]; !ok {
		t.Error("missing items key in decoded response")
	}
}

func TestGetJSON_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Options{RatePerSecond: 100})
	if _, err := c.GetJSON(context.Background(), srv.URL, nil); err == nil {
		t.Error("expected error for 403 response")
	}
}

func TestGetJSON_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := NewClient(Options{RatePerSecond: 100})
	if _, err := c.GetJSON(context.Background(), srv.URL, nil); err == nil {
		t.Error("expected decode error")
	}
}

func TestGetJSON_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// 1 req/s with burst 1: the second request must wait.
	c := NewClient(Options{RatePerSecond: 1, Burst: 1})

	ctx := context.Background()
	if _, err := c.GetJSON(ctx, srv.URL, nil); err != nil {
		t.Fatalf("first request failed: %v", err)
	}

	start := time.Now()
	if _, err := c.GetJSON(ctx, srv.URL, nil); err != nil {
		t.Fatalf("second request failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 500*time.Millisecond {
		t.Errorf("second request not rate limited: took %s", elapsed)
	}
}

func TestGetJSON_ContextCancel(t *testing.T) {
	c := NewClient(Options{RatePerSecond: 0.001, Burst: 1})

	ctx := context.Background()
	// Drain the burst token.
	c.limiter.Allow()

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := c.GetJSON(cancelCtx, "http://example.invalid", nil); err == nil {
		t.Error("expected context error while waiting on limiter")
	}
}
