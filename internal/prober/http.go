package prober

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/hazz-dev/linkprobe/internal/config"
)

// Doer sends one HTTP request and follows redirects. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewClient builds the default Doer for cfg. Every request gets its own
// cookie jar so that cookies set along a redirect chain are sent on the next
// hop without leaking between URLs.
func NewClient(cfg config.Probe) Doer {
	conns := cfg.ConcurrentScan
	if conns < 1 {
		conns = 1
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          conns * 2,
		MaxIdleConnsPerHost:   conns,
		IdleConnTimeout:       90 * time.Second,
	}
	return &jarClient{client: &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout.Duration,
	}}
}

type jarClient struct {
	client *http.Client
}

func (c *jarClient) Do(req *http.Request) (*http.Response, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	client := *c.client
	client.Jar = jar
	return client.Do(req)
}

// send performs one attempt. A failure while reading the body counts as no
// response, the same as a failed send.
func (p *Prober) send(ctx context.Context, target string) AttemptResult {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return AttemptResult{Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, p.cfg.Method, target, nil)
	if err != nil {
		return AttemptResult{Err: fmt.Errorf("creating request: %w", err)}
	}
	for k, v := range p.cfg.Headers {
		// net/http sends req.Host, never a Host header.
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}

	if p.metrics != nil {
		p.metrics.AttemptsTotal.Inc()
		p.metrics.InFlight.Inc()
		defer p.metrics.InFlight.Dec()
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return AttemptResult{Err: err}
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return AttemptResult{Err: fmt.Errorf("reading body: %w", err)}
	}

	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	if p.metrics != nil {
		p.metrics.ResponseDuration.Observe(elapsed.Seconds())
	}
	return AttemptResult{
		StatusCode:    resp.StatusCode,
		FinalURL:      final,
		Elapsed:       elapsed,
		ContentLength: n,
	}
}
