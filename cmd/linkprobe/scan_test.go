package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazz-dev/linkprobe/internal/config"
	"github.com/hazz-dev/linkprobe/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// makeScanConfig returns a config whose input and output files live in a
// fresh temp dir.
func makeScanConfig(t *testing.T, urls ...string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Probe.Timeout = config.Duration{Duration: 2 * time.Second}
	cfg.Input = filepath.Join(dir, "urls.txt")
	cfg.Output.Active = filepath.Join(dir, "active.txt")
	cfg.Output.Inactive = filepath.Join(dir, "inactive.txt")
	if err := os.WriteFile(cfg.Input, []byte(strings.Join(urls, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	s := strings.TrimSuffix(string(data), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func statusServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/forbidden", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) })
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func closedServerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func TestExecuteScan_WritesLists(t *testing.T) {
	srv := statusServer(t)
	dead := closedServerURL(t)
	cfg := makeScanConfig(t, srv.URL+"/ok", srv.URL+"/forbidden", srv.URL+"/missing", dead)

	var buf bytes.Buffer
	if err := executeScan(context.Background(), &buf, cfg, scanOptions{}, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	active := readLines(t, cfg.Output.Active)
	if len(active) != 2 || active[0] != srv.URL+"/ok" || active[1] != srv.URL+"/forbidden" {
		t.Errorf("unexpected active list %v", active)
	}
	inactive := readLines(t, cfg.Output.Inactive)
	if len(inactive) != 2 || inactive[0] != srv.URL+"/missing" || inactive[1] != dead {
		t.Errorf("unexpected inactive list %v", inactive)
	}

	output := buf.String()
	for _, want := range []string{
		"Total URLs: 4",
		"[Success] " + srv.URL + "/ok",
		"[403]",
		"[Connection Error] " + dead,
		"Active URLs: 2",
		"Inactive URLs: 2",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, output)
		}
	}
}

func TestExecuteScan_NormalizesAndDeduplicates(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	bare := strings.TrimPrefix(srv.URL, "http://")
	cfg := makeScanConfig(t, "  "+bare+"  ", "", srv.URL)

	if err := executeScan(context.Background(), io.Discard, cfg, scanOptions{}, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected 1 request after normalization, got %d", got)
	}
	if active := readLines(t, cfg.Output.Active); len(active) != 1 || active[0] != srv.URL {
		t.Errorf("unexpected active list %v", active)
	}
}

func TestExecuteScan_EmptyListWritesNothing(t *testing.T) {
	cfg := makeScanConfig(t, "", "   ", "")

	var buf bytes.Buffer
	if err := executeScan(context.Background(), &buf, cfg, scanOptions{}, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(buf.String(), "nothing to do") {
		t.Errorf("expected 'nothing to do' notice, got:\n%s", buf.String())
	}
	for _, path := range []string{cfg.Output.Active, cfg.Output.Inactive} {
		if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("expected %s not to be written, stat err: %v", path, err)
		}
	}
}

func TestExecuteScan_MissingInput(t *testing.T) {
	cfg := makeScanConfig(t)
	cfg.Input = filepath.Join(t.TempDir(), "nope.txt")

	err := executeScan(context.Background(), io.Discard, cfg, scanOptions{}, discardLogger())
	if err == nil {
		t.Fatal("expected error for missing url list")
	}
	if _, statErr := os.Stat(cfg.Output.Active); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("expected no active list to be written")
	}
}

func TestExecuteScan_InputFlagOverridesConfig(t *testing.T) {
	srv := statusServer(t)
	cfg := makeScanConfig(t, srv.URL+"/missing")

	other := filepath.Join(t.TempDir(), "other.txt")
	if err := os.WriteFile(other, []byte(srv.URL+"/ok\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := executeScan(context.Background(), io.Discard, cfg, scanOptions{input: other}, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if active := readLines(t, cfg.Output.Active); len(active) != 1 {
		t.Errorf("expected the flag's list to be scanned, got active %v", active)
	}
}

func TestExecuteScan_UnwritableOutput(t *testing.T) {
	srv := statusServer(t)
	cfg := makeScanConfig(t, srv.URL+"/ok")
	cfg.Output.Active = filepath.Join(t.TempDir(), "missing-dir", "active.txt")

	err := executeScan(context.Background(), io.Discard, cfg, scanOptions{}, discardLogger())
	if err == nil || !strings.Contains(err.Error(), "saving results") {
		t.Errorf("expected saving error, got %v", err)
	}
}

func TestExecuteScan_CancelledRunReportsInterruption(t *testing.T) {
	srv := statusServer(t)
	cfg := makeScanConfig(t, srv.URL+"/ok", srv.URL+"/missing")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := executeScan(ctx, io.Discard, cfg, scanOptions{}, discardLogger())
	if !errors.Is(err, errInterrupted) {
		t.Fatalf("expected errInterrupted, got %v", err)
	}
	if active := readLines(t, cfg.Output.Active); len(active) != 0 {
		t.Errorf("expected empty active list, got %v", active)
	}
}

func TestExecuteScan_WritesReports(t *testing.T) {
	srv := statusServer(t)
	cfg := makeScanConfig(t, srv.URL+"/ok", srv.URL+"/missing")
	dir := t.TempDir()
	cfg.Output.JSON = filepath.Join(dir, "report.json")
	cfg.Output.Markdown = filepath.Join(dir, "report.md")

	if err := executeScan(context.Background(), io.Discard, cfg, scanOptions{}, discardLogger()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, path := range []string{cfg.Output.JSON, cfg.Output.Markdown} {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading %s: %v", path, err)
		}
		if !strings.Contains(string(data), srv.URL+"/missing") {
			t.Errorf("expected %s to list the inactive url", path)
		}
	}
}

func TestExecuteScan_RecordsHistoryAndAlertsOnChange(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if up.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer target.Close()

	var webhooks int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&webhooks, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := makeScanConfig(t, target.URL)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "linkprobe.db")
	cfg.Alerts.Webhook.URL = hook.URL

	if err := executeScan(context.Background(), io.Discard, cfg, scanOptions{}, discardLogger()); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	up.Store(false)
	if err := executeScan(context.Background(), io.Discard, cfg, scanOptions{}, discardLogger()); err != nil {
		t.Fatalf("second scan: %v", err)
	}

	if got := atomic.LoadInt32(&webhooks); got != 1 {
		t.Errorf("expected 1 webhook for the state change, got %d", got)
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	runs, err := db.Runs(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].Inactive != 1 || runs[1].Active != 1 {
		t.Errorf("unexpected runs %+v", runs)
	}
	latest, err := db.LatestOutcome(context.Background(), target.URL)
	if err != nil || latest == nil {
		t.Fatalf("LatestOutcome: %v, %v", latest, err)
	}
	if latest.Active || latest.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected latest outcome to be inactive 503, got %+v", latest)
	}
}

func TestExecuteScan_AlertCooldownHoldsAcrossRuns(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if up.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer target.Close()

	var webhooks int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&webhooks, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	cfg := makeScanConfig(t, target.URL)
	cfg.Storage.Path = filepath.Join(t.TempDir(), "linkprobe.db")
	cfg.Alerts.Webhook.URL = hook.URL
	cfg.Alerts.Webhook.Cooldown = config.Duration{Duration: time.Hour}

	// up, down, up, down: three state changes, one alert inside the cooldown.
	for i := 0; i < 4; i++ {
		up.Store(i%2 == 0)
		if err := executeScan(context.Background(), io.Discard, cfg, scanOptions{}, discardLogger()); err != nil {
			t.Fatalf("scan %d: %v", i+1, err)
		}
	}

	if got := atomic.LoadInt32(&webhooks); got != 1 {
		t.Errorf("expected 1 webhook within the cooldown, got %d", got)
	}

	db, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, ok, err := db.LastAlert(context.Background(), target.URL); err != nil || !ok {
		t.Errorf("expected a stored alert time, got ok=%v err=%v", ok, err)
	}
}
