package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func newTestFetcher(t *testing.T, limit int) *Fetcher {
	t.Helper()
	f, err := New(Config{Limit: limit, MaxAttempts: 3, BackoffBase: time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return f
}

func TestFetchAllPreservesOrder(t *testing.T) {
	t.Parallel()

	const n = 6
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx, _ := strconv.Atoi(r.URL.Query().Get("i"))
		// later requests finish first
		time.Sleep(time.Duration(n-idx) * 10 * time.Millisecond)
		fmt.Fprintf(w, "body-%d", idx)
	}))
	defer server.Close()

	requests := make([]Request, n)
	for i := range requests {
		requests[i] = Request{URL: fmt.Sprintf("%s/?i=%d", server.URL, i)}
	}

	f := newTestFetcher(t, n)
	results := f.FetchAll(context.Background(), requests)

	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, result := range results {
		if result.Err != nil {
			t.Fatalf("result %d returned error: %v", i, result.Err)
		}
		if want := fmt.Sprintf("body-%d", i); result.Body != want {
			t.Fatalf("result %d: expected %q, got %q", i, want, result.Body)
		}
	}
}

func TestFetchAllRespectsConcurrencyCap(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	requests := make([]Request, 8)
	for i := range requests {
		requests[i] = Request{URL: server.URL}
	}

	f := newTestFetcher(t, 2)
	f.FetchAll(context.Background(), requests)

	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 requests in flight, observed %d", got)
	}
}

func TestFetchAllRetriesDroppedConnections(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Errorf("hijack failed: %v", err)
				return
			}
			conn.Close()
			return
		}
		fmt.Fprint(w, "finally")
	}))
	defer server.Close()

	f := newTestFetcher(t, 1)
	results := f.FetchAll(context.Background(), []Request{{URL: server.URL}})

	if results[0].Err != nil {
		t.Fatalf("expected success after retries, got %v", results[0].Err)
	}
	if results[0].Body != "finally" {
		t.Fatalf("unexpected body %q", results[0].Body)
	}
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestFetchAllReportsUnavailableInPlace(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "alive")
	}))
	defer server.Close()

	// a freshly closed listener gives a connection-refused address
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	deadURL := "http://" + listener.Addr().String()
	listener.Close()

	f := newTestFetcher(t, 2)
	results := f.FetchAll(context.Background(), []Request{
		{URL: server.URL},
		{URL: deadURL},
		{URL: server.URL},
	})

	if results[0].Err != nil || results[0].Body != "alive" {
		t.Fatalf("result 0 should succeed, got body=%q err=%v", results[0].Body, results[0].Err)
	}
	if !results[1].Unavailable() {
		t.Fatalf("result 1 should be unavailable")
	}
	if results[2].Err != nil || results[2].Body != "alive" {
		t.Fatalf("result 2 should succeed, got body=%q err=%v", results[2].Body, results[2].Err)
	}
}

func TestFetchAllDoesNotRetryHTTPErrors(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, "slow down")
	}))
	defer server.Close()

	f := newTestFetcher(t, 1)
	results := f.FetchAll(context.Background(), []Request{{URL: server.URL}})

	if results[0].Err != nil {
		t.Fatalf("http error status must not become a fetch error, got %v", results[0].Err)
	}
	if results[0].Body != "slow down" {
		t.Fatalf("expected error body to pass through, got %q", results[0].Body)
	}
	if got := attempts.Load(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestFetchAllAppliesHeaders(t *testing.T) {
	t.Parallel()

	var agent, accept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	f, err := New(Config{
		Limit:         1,
		DefaultHeader: map[string]string{"User-Agent": "paperfeed/1.0"},
	}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	f.FetchAll(context.Background(), []Request{{
		URL:    server.URL,
		Header: map[string]string{"Accept": "application/json"},
	}})

	if agent != "paperfeed/1.0" {
		t.Fatalf("default header not applied, got agent %q", agent)
	}
	if accept != "application/json" {
		t.Fatalf("request header not applied, got accept %q", accept)
	}
}

func TestProbeReportsStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := newTestFetcher(t, 1)
	status, err := f.Probe(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
}

func TestNewRejectsInvalidProxy(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Limit: 1, Proxy: "http://%zz"}, nil); err == nil {
		t.Fatal("expected error for invalid proxy url")
	}
}
