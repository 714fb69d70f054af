package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestGetJSONReturnsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tr := New()
	body, err := tr.GetJSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %q", body)
	}
}

func TestGetJSONSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("{}"))
	}))
	defer srv.Close()

	tr := New()
	if _, err := tr.GetJSON(context.Background(), srv.URL); err != nil {
		t.Fatal(err)
	}
	if gotUA != tr.UserAgent {
		t.Errorf("User-Agent = %q, want %q", gotUA, tr.UserAgent)
	}
}

// TestGetJSONRetriesTransientFailures confirms a 503 followed by a 200 is
// transparently retried, per the package's jittered-backoff retry policy.
func TestGetJSONRetriesTransientFailures(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("eventually ok"))
	}))
	defer srv.Close()

	tr := New()
	body, err := tr.GetJSON(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if string(body) != "eventually ok" {
		t.Errorf("body = %q", body)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestGetJSONDoesNotRetryPermanentFailure(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := New()
	if _, err := tr.GetJSON(context.Background(), srv.URL); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want exactly 1 for a non-retryable status", got)
	}
}

func TestOpenHonorsRange(t *testing.T) {
	const full = "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Write([]byte(full))
			return
		}
		w.Header().Set("Content-Range", "bytes 5-9/10")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(full[5:]))
	}))
	defer srv.Close()

	tr := New()
	res, err := tr.Open(context.Background(), srv.URL, 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer res.Body.Close()
	if !res.Resumed {
		t.Error("Resumed = false, want true for a 206 response")
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != full[5:] {
		t.Errorf("body = %q, want %q", body, full[5:])
	}
}

// TestOpenFallsBackWhenRangeIgnored covers the resume-restart path: a server
// that doesn't support Range returns 200 with the full body, and the caller
// must see Resumed=false so it knows to truncate and restart from scratch.
func TestOpenFallsBackWhenRangeIgnored(t *testing.T) {
	const full = "full-body-from-scratch"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(full))
	}))
	defer srv.Close()

	tr := New()
	res, err := tr.Open(context.Background(), srv.URL, 5)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer res.Body.Close()
	if res.Resumed {
		t.Error("Resumed = true, want false when the server ignores Range and returns 200")
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != full {
		t.Errorf("body = %q, want the full body %q", body, full)
	}
}
