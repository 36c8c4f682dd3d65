package prober

import "time"

// Outcome is the terminal result of probing one URL. It is created once when
// the retry loop ends and never modified afterwards.
type Outcome struct {
	URL      string
	FinalURL string
	Active   bool
	// StatusCode is 0 when no HTTP response was obtained.
	StatusCode int
	// Error is set only when StatusCode is 0.
	Error         string
	ResponseTime  time.Duration
	ContentLength int64
	Attempts      int
	CheckedAt     time.Time
}

// Redirected reports whether the request ended on a different URL.
func (o Outcome) Redirected() bool {
	return o.FinalURL != "" && o.FinalURL != o.URL
}
