package integration_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hazz-dev/linkprobe/internal/config"
	"github.com/hazz-dev/linkprobe/internal/dispatcher"
	"github.com/hazz-dev/linkprobe/internal/metrics"
	"github.com/hazz-dev/linkprobe/internal/prober"
	"github.com/hazz-dev/linkprobe/internal/server"
	"github.com/hazz-dev/linkprobe/internal/storage"
	"github.com/hazz-dev/linkprobe/internal/urllist"
)

// TestIntegration_FullFlow verifies the complete pipeline:
// url list → dispatcher → prober → storage → API
func TestIntegration_FullFlow(t *testing.T) {
	// 1. Start fake targets: one healthy, one redirecting, one broken
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/ok", http.StatusMovedPermanently) })
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) })
	target := httptest.NewServer(mux)
	defer target.Close()

	// 2. Open in-memory SQLite
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening storage: %v", err)
	}
	defer db.Close()

	// 3. Build probe config
	cfg := config.DefaultProbe()
	cfg.Timeout = config.Duration{Duration: 5 * time.Second}
	cfg.ConcurrentScan = 3
	cfg.RetryCount = 1

	// 4. Run the batch, recording every outcome
	ctx := context.Background()
	runID, err := db.CreateRun(ctx, time.Now(), 3)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	m := metrics.New()
	d := dispatcher.New(prober.New(cfg, prober.WithMetrics(m)), cfg.ConcurrentScan, nil)
	d.SetMetrics(m)
	d.SetOnOutcome(func(o prober.Outcome) {
		if err := db.InsertOutcome(ctx, runID, o); err != nil {
			t.Errorf("InsertOutcome: %v", err)
		}
	})

	urls := urllist.Prepare([]string{
		target.URL + "/ok",
		target.URL + "/old",
		target.URL + "/broken",
		target.URL + "/ok",
	})
	rep := d.Run(ctx, urls)

	if rep.Total != 3 || len(rep.Active) != 2 || len(rep.Inactive) != 1 {
		t.Fatalf("unexpected report: total %d, active %d, inactive %d", rep.Total, len(rep.Active), len(rep.Inactive))
	}
	if err := db.FinishRun(ctx, runID, rep.FinishedAt, storage.RunCounts{
		Active:   len(rep.Active),
		Inactive: len(rep.Inactive),
	}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	// 5. Build API server
	apiServer := server.New(db, nil, server.WithMetrics(m))

	get := func(t *testing.T, path string, v interface{}) {
		t.Helper()
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		apiServer.Router().ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d; body: %s", path, w.Code, w.Body.String())
		}
		if v != nil {
			if err := json.NewDecoder(w.Body).Decode(v); err != nil {
				t.Fatalf("decoding %s: %v", path, err)
			}
		}
	}

	// 6. GET /api/urls: every url with its latest state
	t.Run("list urls", func(t *testing.T) {
		var resp struct {
			Data []struct {
				URL      string `json:"url"`
				FinalURL string `json:"final_url"`
				Status   string `json:"status"`
			} `json:"data"`
		}
		get(t, "/api/urls", &resp)

		if len(resp.Data) != 3 {
			t.Fatalf("expected 3 urls, got %d", len(resp.Data))
		}
		byURL := make(map[string]string)
		for _, d := range resp.Data {
			byURL[d.URL] = d.Status
			if d.URL == target.URL+"/old" && d.FinalURL != target.URL+"/ok" {
				t.Errorf("expected redirect to be recorded, got final_url %q", d.FinalURL)
			}
		}
		if byURL[target.URL+"/ok"] != "active" || byURL[target.URL+"/old"] != "active" {
			t.Errorf("expected ok and old to be active, got %v", byURL)
		}
		if byURL[target.URL+"/broken"] != "inactive" {
			t.Errorf("expected broken to be inactive, got %v", byURL)
		}
	})

	// 7. GET /api/urls/history: a 500 is recorded once, never retried
	t.Run("url history", func(t *testing.T) {
		var resp struct {
			Data struct {
				Total    int `json:"total"`
				Outcomes []struct {
					StatusCode int `json:"status_code"`
					Attempts   int `json:"attempts"`
				} `json:"outcomes"`
			} `json:"data"`
		}
		get(t, "/api/urls/history?url="+url.QueryEscape(target.URL+"/broken"), &resp)

		if resp.Data.Total != 1 || len(resp.Data.Outcomes) != 1 {
			t.Fatalf("expected 1 outcome, got %d", resp.Data.Total)
		}
		if resp.Data.Outcomes[0].StatusCode != 500 || resp.Data.Outcomes[0].Attempts != 1 {
			t.Errorf("unexpected outcome %+v", resp.Data.Outcomes[0])
		}
	})

	// 8. GET /api/runs
	t.Run("runs", func(t *testing.T) {
		var resp struct {
			Data []struct {
				ID     int64 `json:"id"`
				Active int   `json:"active"`
			} `json:"data"`
		}
		get(t, "/api/runs", &resp)
		if len(resp.Data) != 1 || resp.Data[0].ID != runID || resp.Data[0].Active != 2 {
			t.Errorf("unexpected runs %+v", resp.Data)
		}
	})

	// 9. /metrics reflects the batch
	t.Run("metrics", func(t *testing.T) {
		get(t, "/metrics", nil)
	})
}
