// Package probertest provides scripted transports for testing code built on
// the prober package.
package probertest

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Doer answers requests with Handle and counts calls per URL. call is 1 for
// the first request to a URL.
type Doer struct {
	Handle func(req *http.Request, call int) (*http.Response, error)

	mu    sync.Mutex
	calls map[string]int
}

func (d *Doer) Do(req *http.Request) (*http.Response, error) {
	u := req.URL.String()
	d.mu.Lock()
	if d.calls == nil {
		d.calls = make(map[string]int)
	}
	d.calls[u]++
	n := d.calls[u]
	d.mu.Unlock()
	return d.Handle(req, n)
}

// Calls returns how many requests were sent to rawURL.
func (d *Doer) Calls(rawURL string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[rawURL]
}

// Total returns the number of requests sent to any URL.
func (d *Doer) Total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		n += c
	}
	return n
}

// Response builds a response to req with the given status and body.
func Response(req *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

// ConnRefused returns the error a client reports for a refused connection.
func ConnRefused(req *http.Request) error {
	return &url.Error{
		Op:  req.Method,
		URL: req.URL.String(),
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
	}
}

// Timeout returns the error a client reports when its deadline passes.
func Timeout(req *http.Request) error {
	return &url.Error{Op: req.Method, URL: req.URL.String(), Err: context.DeadlineExceeded}
}

// Sleeper records requested retry delays instead of waiting.
type Sleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Delays returns a copy of the recorded delays.
func (s *Sleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
