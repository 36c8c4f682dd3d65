package prober

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"
)

// MaxRetriesExceeded is the error recorded when the retry loop never ran.
const MaxRetriesExceeded = "Max retries exceeded"

// Verdict is the classification of a received HTTP status.
type Verdict int

const (
	VerdictInactive Verdict = iota
	VerdictActive
	// VerdictForbidden is a 403. Many servers refuse automated clients while
	// being otherwise live, so it counts as active.
	VerdictForbidden
)

// Active reports whether the verdict counts the URL as reachable.
func (v Verdict) Active() bool {
	return v == VerdictActive || v == VerdictForbidden
}

// Classify maps a status code to a verdict.
func Classify(status int) Verdict {
	switch {
	case status == http.StatusForbidden:
		return VerdictForbidden
	case status >= 200 && status < 400:
		return VerdictActive
	default:
		return VerdictInactive
	}
}

// FailureKind describes why an attempt got no HTTP response.
type FailureKind int

const (
	FailureTimeout FailureKind = iota + 1
	FailureConnection
	FailureOther
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureConnection:
		return "connection"
	default:
		return "other"
	}
}

// ClassifyError sorts a transport error into a failure kind.
func ClassifyError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return FailureTimeout
	}
	var dnsErr *net.DNSError
	var opErr *net.OpError
	switch {
	case errors.As(err, &dnsErr), errors.As(err, &opErr):
		return FailureConnection
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET):
		return FailureConnection
	case isTLSError(err):
		return FailureConnection
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		// The server closed the connection before answering.
		return FailureConnection
	}
	return FailureOther
}

// isTLSError reports whether err came from the TLS handshake or certificate
// verification.
func isTLSError(err error) bool {
	var (
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostErr      x509.HostnameError
		invalidErr   x509.CertificateInvalidError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr)
}

// FailureMessage is the Outcome.Error text recorded for err.
func FailureMessage(err error) string {
	switch ClassifyError(err) {
	case FailureTimeout:
		return "Timeout"
	case FailureConnection:
		return "Connection Error"
	default:
		return err.Error()
	}
}

// State is a step of the per-URL retry machine.
type State int

const (
	StateAttempting State = iota
	StateWaiting
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateWaiting:
		return "waiting"
	default:
		return "terminal"
	}
}

// AttemptResult is what a single send produced.
type AttemptResult struct {
	StatusCode    int
	FinalURL      string
	Elapsed       time.Duration
	ContentLength int64
	// Err is set when no HTTP response was obtained.
	Err error
}

// Decide returns the next state after attempt number attempt (1-based) of at
// most maxAttempts. The Outcome is only meaningful for StateTerminal.
// Any HTTP response ends the loop; only no-response failures are retried.
func Decide(target string, attempt, maxAttempts int, r AttemptResult) (State, Outcome) {
	if r.Err == nil {
		verdict := Classify(r.StatusCode)
		final := r.FinalURL
		if final == "" || verdict == VerdictForbidden {
			final = target
		}
		return StateTerminal, Outcome{
			URL:           target,
			FinalURL:      final,
			Active:        verdict.Active(),
			StatusCode:    r.StatusCode,
			ResponseTime:  r.Elapsed,
			ContentLength: r.ContentLength,
			Attempts:      attempt,
		}
	}
	if attempt < maxAttempts {
		return StateWaiting, Outcome{}
	}
	return StateTerminal, Outcome{
		URL:      target,
		FinalURL: target,
		Error:    FailureMessage(r.Err),
		Attempts: attempt,
	}
}
