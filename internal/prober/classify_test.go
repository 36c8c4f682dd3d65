package prober_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"syscall"
	"testing"
	"time"

	"github.com/hazz-dev/linkprobe/internal/prober"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   prober.Verdict
	}{
		{200, prober.VerdictActive},
		{204, prober.VerdictActive},
		{301, prober.VerdictActive},
		{399, prober.VerdictActive},
		{403, prober.VerdictForbidden},
		{199, prober.VerdictInactive},
		{400, prober.VerdictInactive},
		{401, prober.VerdictInactive},
		{404, prober.VerdictInactive},
		{500, prober.VerdictInactive},
		{503, prober.VerdictInactive},
	}
	for _, tc := range cases {
		got := prober.Classify(tc.status)
		if got != tc.want {
			t.Errorf("Classify(%d) = %v, want %v", tc.status, got, tc.want)
		}
		wantActive := tc.status == 403 || (tc.status >= 200 && tc.status < 400)
		if got.Active() != wantActive {
			t.Errorf("Classify(%d).Active() = %v, want %v", tc.status, got.Active(), wantActive)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want prober.FailureKind
	}{
		{"deadline", &url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}, prober.FailureTimeout},
		{"net timeout", &url.Error{Op: "Get", URL: "http://x", Err: timeoutErr{}}, prober.FailureTimeout},
		{"refused", &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}, prober.FailureConnection},
		{"dns", &url.Error{Op: "Get", URL: "http://x", Err: &net.DNSError{Err: "no such host", Name: "x"}}, prober.FailureConnection},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), prober.FailureConnection},
		{"eof", &url.Error{Op: "Get", URL: "http://x", Err: io.EOF}, prober.FailureConnection},
		{"unverified certificate", &url.Error{Op: "Get", URL: "https://x", Err: &tls.CertificateVerificationError{Err: x509.UnknownAuthorityError{}}}, prober.FailureConnection},
		{"unknown authority", &url.Error{Op: "Get", URL: "https://x", Err: x509.UnknownAuthorityError{}}, prober.FailureConnection},
		{"hostname mismatch", &url.Error{Op: "Get", URL: "https://x", Err: x509.HostnameError{Host: "x"}}, prober.FailureConnection},
		{"expired certificate", &url.Error{Op: "Get", URL: "https://x", Err: x509.CertificateInvalidError{Reason: x509.Expired}}, prober.FailureConnection},
		{"plain http on tls port", &url.Error{Op: "Get", URL: "https://x", Err: tls.RecordHeaderError{Msg: "first record does not look like a TLS handshake"}}, prober.FailureConnection},
		{"handshake alert", &url.Error{Op: "Get", URL: "https://x", Err: tls.AlertError(40)}, prober.FailureConnection},
		{"other", &url.Error{Op: "Get", URL: "http://x", Err: errors.New("stopped after 10 redirects")}, prober.FailureOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := prober.ClassifyError(tc.err); got != tc.want {
				t.Errorf("ClassifyError = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFailureMessage(t *testing.T) {
	if got := prober.FailureMessage(context.DeadlineExceeded); got != "Timeout" {
		t.Errorf("expected Timeout, got %q", got)
	}
	if got := prober.FailureMessage(syscall.ECONNREFUSED); got != "Connection Error" {
		t.Errorf("expected Connection Error, got %q", got)
	}
	other := errors.New("unsupported protocol scheme")
	if got := prober.FailureMessage(other); got != other.Error() {
		t.Errorf("expected the underlying text, got %q", got)
	}
}

func TestDecide(t *testing.T) {
	const target = "http://example.com"
	failure := prober.AttemptResult{Err: syscall.ECONNREFUSED}

	t.Run("response is terminal on first attempt", func(t *testing.T) {
		st, out := prober.Decide(target, 1, 3, prober.AttemptResult{StatusCode: 500, Elapsed: time.Second})
		if st != prober.StateTerminal {
			t.Fatalf("expected terminal, got %v", st)
		}
		if out.Active || out.StatusCode != 500 || out.Error != "" {
			t.Errorf("unexpected outcome %+v", out)
		}
		if out.FinalURL != target {
			t.Errorf("expected final URL to default to target, got %q", out.FinalURL)
		}
	})

	t.Run("forbidden keeps the requested URL", func(t *testing.T) {
		r := prober.AttemptResult{StatusCode: 403, FinalURL: "http://example.com/login"}
		st, out := prober.Decide(target, 1, 3, r)
		if st != prober.StateTerminal {
			t.Fatalf("expected terminal, got %v", st)
		}
		if !out.Active || out.FinalURL != target {
			t.Errorf("expected active outcome on %q, got %+v", target, out)
		}
	})

	t.Run("redirected success records the final URL", func(t *testing.T) {
		r := prober.AttemptResult{StatusCode: 200, FinalURL: "http://example.com/home"}
		_, out := prober.Decide(target, 1, 3, r)
		if out.FinalURL != "http://example.com/home" {
			t.Errorf("expected redirected final URL, got %q", out.FinalURL)
		}
	})

	t.Run("failure with attempts left waits", func(t *testing.T) {
		st, _ := prober.Decide(target, 2, 3, failure)
		if st != prober.StateWaiting {
			t.Errorf("expected waiting, got %v", st)
		}
	})

	t.Run("failure on last attempt is terminal", func(t *testing.T) {
		st, out := prober.Decide(target, 3, 3, failure)
		if st != prober.StateTerminal {
			t.Fatalf("expected terminal, got %v", st)
		}
		if out.Active || out.StatusCode != 0 || out.Error != "Connection Error" {
			t.Errorf("unexpected outcome %+v", out)
		}
		if out.ResponseTime != 0 || out.ContentLength != 0 {
			t.Errorf("expected zero timing and length, got %+v", out)
		}
		if out.Attempts != 3 {
			t.Errorf("expected 3 attempts, got %d", out.Attempts)
		}
	})
}
