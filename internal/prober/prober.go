// Package prober checks a single URL: it sends the request, classifies the
// response and retries attempts that got no response at all.
package prober

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/hazz-dev/linkprobe/internal/config"
	"github.com/hazz-dev/linkprobe/internal/metrics"
	"github.com/hazz-dev/linkprobe/internal/notify"
)

// Prober probes URLs with one shared configuration. It is safe for
// concurrent use.
type Prober struct {
	cfg      config.Probe
	client   Doer
	observer notify.Observer
	limiter  *rate.Limiter
	metrics  *metrics.Metrics
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// Option customises a Prober.
type Option func(*Prober)

// WithClient replaces the HTTP client (for testing).
func WithClient(d Doer) Option {
	return func(p *Prober) { p.client = d }
}

// WithObserver sets the receiver of per-attempt messages.
func WithObserver(o notify.Observer) Option {
	return func(p *Prober) { p.observer = o }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Prober) { p.metrics = m }
}

// WithSleep replaces the retry wait (for testing). fn must return ctx.Err()
// when the context ends first.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Prober) { p.sleep = fn }
}

// New creates a Prober for cfg.
func New(cfg config.Probe, opts ...Option) *Prober {
	p := &Prober{
		cfg:      cfg,
		observer: notify.Nop,
		sleep:    sleepContext,
		now:      time.Now,
	}
	if cfg.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = NewClient(cfg)
	}
	if p.observer == nil {
		p.observer = notify.Nop
	}
	return p
}

// Probe runs the retry machine for target until it reaches a terminal
// outcome. It returns ctx.Err() and no outcome when ctx ends first.
func (p *Prober) Probe(ctx context.Context, target string) (Outcome, error) {
	maxAttempts := p.cfg.RetryCount + 1
	if maxAttempts < 1 {
		p.observer.Error(fmt.Sprintf("[Error] %s - %s", target, MaxRetriesExceeded))
		return Outcome{URL: target, FinalURL: target, Error: MaxRetriesExceeded, CheckedAt: p.now()}, nil
	}

	state := StateAttempting
	attempt := 0
	for {
		switch state {
		case StateWaiting:
			if err := ctx.Err(); err != nil {
				return Outcome{}, err
			}
			p.observer.Warning(fmt.Sprintf("[Retry %d/%d] %s", attempt, p.cfg.RetryCount, target))
			if p.metrics != nil {
				p.metrics.RetriesTotal.Inc()
			}
			if err := p.sleep(ctx, p.cfg.RetryDelay.Duration); err != nil {
				return Outcome{}, err
			}
			state = StateAttempting

		case StateAttempting:
			if attempt == 0 {
				p.observer.Info("[Check] " + target)
			}
			res := p.send(ctx, target)
			attempt++
			if res.Err != nil {
				if err := ctx.Err(); err != nil {
					return Outcome{}, err
				}
				p.reportFailure(target, res.Err)
			}

			var out Outcome
			state, out = Decide(target, attempt, maxAttempts, res)
			if state == StateTerminal {
				if res.Err == nil {
					p.reportResponse(out)
				}
				out.CheckedAt = p.now()
				return out, nil
			}

		default:
			return Outcome{}, fmt.Errorf("probe %s: unexpected state %v", target, state)
		}
	}
}

func (p *Prober) reportFailure(target string, err error) {
	kind := ClassifyError(err)
	if p.metrics != nil {
		p.metrics.FailuresTotal.WithLabelValues(kind.String()).Inc()
	}
	switch kind {
	case FailureTimeout:
		p.observer.Error(fmt.Sprintf("[Timeout] %s - no response within %v", target, p.cfg.Timeout.Duration))
	case FailureConnection:
		p.observer.Error(fmt.Sprintf("[Connection Error] %s - could not connect", target))
	default:
		p.observer.Error(fmt.Sprintf("[Error] %s - %v", target, err))
	}
}

func (p *Prober) reportResponse(out Outcome) {
	if Classify(out.StatusCode) == VerdictForbidden {
		p.observer.Warning(fmt.Sprintf("[403] Access denied, site probably reachable: %s", out.URL))
		return
	}
	if out.Active && out.Redirected() {
		p.observer.Info(fmt.Sprintf("[Redirect] %s -> %s", out.URL, out.FinalURL))
	}
	if out.Active {
		p.observer.Success(fmt.Sprintf("[Success] %s (status %d)", out.URL, out.StatusCode))
	} else {
		p.observer.Error(fmt.Sprintf("[Failed] %s (status %d)", out.URL, out.StatusCode))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
