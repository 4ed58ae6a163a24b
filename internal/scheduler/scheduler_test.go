package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rekku-dl/rekku/internal/utils"
)

func testConfig(dir string) utils.Config {
	cfg := utils.DefaultConfig()
	cfg.Dir = dir
	cfg.Retries = 0
	return cfg
}

// countingServer tracks how many requests are in flight at once.
func countingServer(t *testing.T, delay time.Duration) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(delay)
		body := []byte("payload for " + r.URL.Path)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server, &peak
}

func makeItems(baseURL string, n int) []utils.Item {
	items := make([]utils.Item, n)
	for i := range n {
		items[i] = utils.Item{URL: fmt.Sprintf("%s/file-%02d.bin", baseURL, i)}
	}
	return items
}

func TestConcurrencyNeverExceedsLimit(t *testing.T) {
	server, peak := countingServer(t, 30*time.Millisecond)

	cfg := testConfig(t.TempDir())
	cfg.Concurrency = 3
	outcomes, err := Run(context.Background(), makeItems(server.URL, 12), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := peak.Load(); got > 3 {
		t.Errorf("observed %d concurrent requests, limit is 3", got)
	}
	for i, out := range outcomes {
		if out.Status != utils.StatusSuccess {
			t.Errorf("item %d: expected success, got %s (%s)", i, out.Status, out.Err)
		}
	}
}

func TestZeroConcurrencyCoercedToOne(t *testing.T) {
	server, peak := countingServer(t, 10*time.Millisecond)

	cfg := testConfig(t.TempDir())
	cfg.Concurrency = 0
	outcomes, err := Run(context.Background(), makeItems(server.URL, 4), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := peak.Load(); got != 1 {
		t.Errorf("concurrency 0 should run serially, observed %d in flight", got)
	}
	if len(outcomes) != 4 {
		t.Errorf("expected 4 outcomes, got %d", len(outcomes))
	}
}

func TestOutcomesPreserveInputOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// later items finish first
		if r.URL.Path == "/file-00.bin" {
			time.Sleep(50 * time.Millisecond)
		}
		body := []byte(r.URL.Path)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer server.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Concurrency = 4
	items := makeItems(server.URL, 4)
	outcomes, err := Run(context.Background(), items, cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, out := range outcomes {
		want := filepath.Join(dir, fmt.Sprintf("file-%02d.bin", i))
		if out.Path != want {
			t.Errorf("outcome %d: expected path %q, got %q", i, want, out.Path)
		}
	}
}

func TestEmptyInputEmptyOutcomes(t *testing.T) {
	outcomes, err := Run(context.Background(), nil, testConfig(t.TempDir()), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(outcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(outcomes))
	}
}

func TestInvalidConfigRejectedBeforeAnyRequest(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	cfg := testConfig(t.TempDir())
	cfg.Retries = -1
	_, err := Run(context.Background(), makeItems(server.URL, 2), cfg, nil)
	var cfgErr *utils.ConfigError
	if err == nil {
		t.Fatal("expected config error")
	}
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %T: %v", err, err)
	}
	if hits.Load() != 0 {
		t.Errorf("config error must abort before any request, server saw %d", hits.Load())
	}
}

func TestFailureIsolation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/file-01.bin" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body := []byte("ok")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer server.Close()

	cfg := testConfig(t.TempDir())
	cfg.Concurrency = 2
	outcomes, err := Run(context.Background(), makeItems(server.URL, 3), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []utils.Status{utils.StatusSuccess, utils.StatusFail, utils.StatusSuccess}
	for i, out := range outcomes {
		if out.Status != want[i] {
			t.Errorf("item %d: expected %s, got %s (%s)", i, want[i], out.Status, out.Err)
		}
	}

	s := Summarize(outcomes)
	if s.Success != 2 || s.Fail != 1 {
		t.Errorf("expected summary 2 success / 1 fail, got %+v", s)
	}
}

func TestRetriedBatchRun(t *testing.T) {
	// 3 items, 2 workers, 1 retry: the middle item fails once with a 503
	// then succeeds; the batch still completes with all successes.
	var flaky atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/file-01.bin" && flaky.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body := []byte("content of " + r.URL.Path)
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer server.Close()

	cfg := testConfig(t.TempDir())
	cfg.Concurrency = 2
	cfg.Retries = 1
	outcomes, err := Run(context.Background(), makeItems(server.URL, 3), cfg, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, out := range outcomes {
		if out.Status != utils.StatusSuccess {
			t.Errorf("item %d: expected success, got %s (%s)", i, out.Status, out.Err)
		}
	}
	if outcomes[1].Attempts != 2 {
		t.Errorf("flaky item should report 2 attempts, got %d", outcomes[1].Attempts)
	}
	if outcomes[0].Attempts != 1 || outcomes[2].Attempts != 1 {
		t.Errorf("healthy items should report 1 attempt, got %d and %d",
			outcomes[0].Attempts, outcomes[2].Attempts)
	}
}

func TestRerunReportsAlreadyComplete(t *testing.T) {
	data := []byte("stable content")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var start int64
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-", &start)
		if start >= int64(len(data)) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)-int(start)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(data[start:])
	}))
	defer server.Close()

	dir := t.TempDir()
	cfg := testConfig(dir)
	items := makeItems(server.URL, 2)

	first, err := Run(context.Background(), items, cfg, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	for i, out := range first {
		if out.Status != utils.StatusSuccess {
			t.Fatalf("first run item %d: %s (%s)", i, out.Status, out.Err)
		}
	}

	second, err := Run(context.Background(), items, cfg, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for i, out := range second {
		if out.Status != utils.StatusAlreadyComplete {
			t.Errorf("second run item %d: expected already-complete, got %s", i, out.Status)
		}
		got, readErr := os.ReadFile(out.Path)
		if readErr != nil {
			t.Fatal(readErr)
		}
		if string(got) != string(data) {
			t.Errorf("item %d content changed across runs", i)
		}
	}
}

func TestCancellationStopsDispatch(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cfg := testConfig(t.TempDir())
	cfg.Concurrency = 1

	done := make(chan []utils.Outcome, 1)
	go func() {
		outcomes, err := Run(ctx, makeItems(server.URL, 5), cfg, nil)
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		done <- outcomes
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	var outcomes []utils.Outcome
	select {
	case outcomes = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	var cancelled int
	for i, out := range outcomes {
		if !out.Status.Terminal() {
			t.Errorf("item %d: non-terminal status %s in outcomes", i, out.Status)
		}
		if out.Status == utils.StatusCancelled {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Error("expected queued items to finish as cancelled")
	}
}
