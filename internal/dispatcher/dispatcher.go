// Package dispatcher runs probes for a batch of URLs on a fixed-size worker
// pool and collects every outcome.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hazz-dev/linkprobe/internal/metrics"
	"github.com/hazz-dev/linkprobe/internal/prober"
	"github.com/hazz-dev/linkprobe/internal/result"
)

// Prober produces the outcome for one URL.
type Prober interface {
	Probe(ctx context.Context, url string) (prober.Outcome, error)
}

// Progress is emitted exactly once per submitted URL.
type Progress struct {
	URL       string
	Done      int
	Total     int
	Active    int
	Inactive  int
	Failed    int
	Cancelled int
}

// Report is the result of one Run. Active+Inactive+Failed+Cancelled always
// equals Total.
type Report struct {
	Active     []prober.Outcome
	Inactive   []prober.Outcome
	Failed     int
	Cancelled  int
	Total      int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Dispatcher fans probes out to at most limit concurrent workers.
type Dispatcher struct {
	prober     Prober
	limit      int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	onProgress func(Progress)
	onOutcome  func(prober.Outcome)
}

// New creates a Dispatcher. A limit below 1 is treated as 1. Pass nil logger
// to use the default logger.
func New(p Prober, limit int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if limit < 1 {
		limit = 1
	}
	return &Dispatcher{
		prober: p,
		limit:  limit,
		logger: logger,
	}
}

// SetOnProgress sets the callback invoked after each task, including tasks
// that failed unexpectedly or were cancelled.
func (d *Dispatcher) SetOnProgress(fn func(Progress)) {
	d.onProgress = fn
}

// SetOnOutcome sets the callback invoked for each completed outcome. It runs
// on the collecting goroutine, one call at a time.
func (d *Dispatcher) SetOnOutcome(fn func(prober.Outcome)) {
	d.onOutcome = fn
}

// SetMetrics enables counting of outcomes and failed tasks.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

type taskResult struct {
	url       string
	outcome   prober.Outcome
	failed    bool
	cancelled bool
}

// Run probes every URL and blocks until all tasks finished. URLs are expected
// to be normalized and free of duplicates. After ctx ends, queued URLs are
// counted as cancelled without being probed.
func (d *Dispatcher) Run(ctx context.Context, urls []string) Report {
	rep := Report{Total: len(urls), StartedAt: time.Now()}
	if len(urls) == 0 {
		rep.FinishedAt = time.Now()
		return rep
	}

	workers := min(d.limit, len(urls))
	jobs := make(chan string)
	done := make(chan taskResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go d.worker(ctx, jobs, done, &wg)
	}
	go func() {
		defer close(jobs)
		for _, u := range urls {
			jobs <- u
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	// Only this goroutine touches the aggregator and the counters.
	var agg result.Aggregator
	n := 0
	for tr := range done {
		n++
		switch {
		case tr.failed:
			rep.Failed++
		case tr.cancelled:
			rep.Cancelled++
		default:
			agg.Add(tr.outcome)
			if d.metrics != nil {
				d.metrics.ObserveOutcome(tr.outcome.Active)
			}
			if d.onOutcome != nil {
				d.onOutcome(tr.outcome)
			}
		}
		if d.onProgress != nil {
			active, inactive := agg.Counts()
			d.onProgress(Progress{
				URL:       tr.url,
				Done:      n,
				Total:     rep.Total,
				Active:    active,
				Inactive:  inactive,
				Failed:    rep.Failed,
				Cancelled: rep.Cancelled,
			})
		}
	}

	rep.Active = agg.Active()
	rep.Inactive = agg.Inactive()
	rep.FinishedAt = time.Now()
	d.logger.Info("batch finished",
		"total", rep.Total,
		"active", len(rep.Active),
		"inactive", len(rep.Inactive),
		"failed", rep.Failed,
		"cancelled", rep.Cancelled,
		"duration", rep.FinishedAt.Sub(rep.StartedAt),
	)
	return rep
}

func (d *Dispatcher) worker(ctx context.Context, jobs <-chan string, done chan<- taskResult, wg *sync.WaitGroup) {
	defer wg.Done()
	for u := range jobs {
		done <- d.runTask(ctx, u)
	}
}

func (d *Dispatcher) runTask(ctx context.Context, u string) (tr taskResult) {
	tr.url = u
	if ctx.Err() != nil {
		tr.cancelled = true
		return tr
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("probe task failed unexpectedly",
				"url", u,
				"error", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
			if d.metrics != nil {
				d.metrics.TasksPanicked.Inc()
			}
			tr = taskResult{url: u, failed: true}
		}
	}()

	out, err := d.prober.Probe(ctx, u)
	if err != nil {
		if ctx.Err() != nil {
			tr.cancelled = true
			return tr
		}
		d.logger.Error("probe task failed unexpectedly", "url", u, "error", err)
		tr.failed = true
		return tr
	}

	d.logger.Debug("probe result",
		"url", u,
		"active", out.Active,
		"status", out.StatusCode,
		"response_time", out.ResponseTime,
		"error", out.Error,
	)
	tr.outcome = out
	return tr
}
