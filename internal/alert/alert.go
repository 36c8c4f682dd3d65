package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hazz-dev/linkprobe/internal/prober"
)

// History persists the last alert time per URL so the cooldown holds
// across runs. *storage.DB satisfies it.
type History interface {
	LastAlert(ctx context.Context, url string) (time.Time, bool, error)
	RecordAlert(ctx context.Context, url string, at time.Time) error
}

// Alerter sends webhook notifications when a URL flips between active and inactive.
type Alerter struct {
	webhookURL string
	cooldown   time.Duration
	client     *http.Client
	history    History
	now        func() time.Time
	lastAlert  map[string]time.Time
	mu         sync.Mutex
	wg         sync.WaitGroup
	logger     *slog.Logger
}

// Option configures an Alerter.
type Option func(*Alerter)

// WithHistory makes the cooldown read from and write to h.
func WithHistory(h History) Option {
	return func(a *Alerter) { a.history = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Alerter) { a.now = now }
}

// New creates a new Alerter. Pass nil logger to use the default logger.
func New(webhookURL string, cooldown time.Duration, logger *slog.Logger, opts ...Option) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Alerter{
		webhookURL: webhookURL,
		cooldown:   cooldown,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
		lastAlert:  make(map[string]time.Time),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type webhookPayload struct {
	URL            string `json:"url"`
	Active         bool   `json:"active"`
	PreviousActive bool   `json:"previous_active"`
	StatusCode     int    `json:"status_code"`
	Error          string `json:"error"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	CheckedAt      string `json:"checked_at"`
	Source         string `json:"source"`
}

// Notify sends a webhook if the URL changed state since the previous run
// and the cooldown has elapsed. prevActive is nil when the URL has no history.
func (a *Alerter) Notify(o prober.Outcome, prevActive *bool) {
	if prevActive == nil {
		return
	}
	if o.Active == *prevActive {
		return
	}

	a.mu.Lock()
	now := a.now()
	last, exists := a.last(o.URL)
	if exists && now.Sub(last) < a.cooldown {
		a.mu.Unlock()
		a.logger.Info("alert suppressed by cooldown", "url", o.URL)
		return
	}
	a.lastAlert[o.URL] = now
	if a.history != nil {
		if err := a.history.RecordAlert(context.Background(), o.URL, now); err != nil {
			a.logger.Error("recording alert time", "url", o.URL, "error", err)
		}
	}
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.send(o, *prevActive)
	}()
}

// last returns the most recent alert time for url. Must be called with mu held.
func (a *Alerter) last(url string) (time.Time, bool) {
	if t, ok := a.lastAlert[url]; ok {
		return t, true
	}
	if a.history == nil {
		return time.Time{}, false
	}
	t, ok, err := a.history.LastAlert(context.Background(), url)
	if err != nil {
		a.logger.Error("reading last alert time", "url", url, "error", err)
		return time.Time{}, false
	}
	return t, ok
}

// Wait blocks until every webhook started by Notify has finished.
func (a *Alerter) Wait() {
	a.wg.Wait()
}

func (a *Alerter) send(o prober.Outcome, prevActive bool) {
	payload := webhookPayload{
		URL:            o.URL,
		Active:         o.Active,
		PreviousActive: prevActive,
		StatusCode:     o.StatusCode,
		Error:          o.Error,
		ResponseTimeMs: o.ResponseTime.Milliseconds(),
		CheckedAt:      o.CheckedAt.UTC().Format(time.RFC3339),
		Source:         "linkprobe",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		a.logger.Error("marshaling webhook payload", "url", o.URL, "error", err)
		return
	}

	resp, err := a.client.Post(a.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		a.logger.Error("sending webhook", "url", o.URL, "webhook", a.webhookURL, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		a.logger.Warn("webhook returned non-2xx status",
			"url", o.URL,
			"status", resp.StatusCode,
		)
	}
}
