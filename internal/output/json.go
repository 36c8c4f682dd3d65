package output

import (
	"bufio"
	"encoding/json"
	"time"

	"github.com/hazz-dev/linkprobe/internal/dispatcher"
	"github.com/hazz-dev/linkprobe/internal/prober"
)

type jsonOutcome struct {
	URL           string  `json:"url"`
	FinalURL      string  `json:"final_url"`
	Active        bool    `json:"active"`
	StatusCode    int     `json:"status_code"`
	Error         string  `json:"error,omitempty"`
	ResponseTime  float64 `json:"response_time"`
	ContentLength int64   `json:"content_length"`
	Attempts      int     `json:"attempts"`
	CheckedAt     string  `json:"checked_at"`
}

type jsonReport struct {
	StartedAt  string        `json:"started_at"`
	FinishedAt string        `json:"finished_at"`
	Total      int           `json:"total"`
	Failed     int           `json:"failed"`
	Cancelled  int           `json:"cancelled"`
	Active     []jsonOutcome `json:"active"`
	Inactive   []jsonOutcome `json:"inactive"`
}

func toJSON(outcomes []prober.Outcome) []jsonOutcome {
	out := make([]jsonOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, jsonOutcome{
			URL:           o.URL,
			FinalURL:      o.FinalURL,
			Active:        o.Active,
			StatusCode:    o.StatusCode,
			Error:         o.Error,
			ResponseTime:  o.ResponseTime.Seconds(),
			ContentLength: o.ContentLength,
			Attempts:      o.Attempts,
			CheckedAt:     o.CheckedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

// WriteJSON writes every outcome of rep to path. Response times are in
// seconds.
func WriteJSON(path string, rep dispatcher.Report) error {
	doc := jsonReport{
		StartedAt:  rep.StartedAt.UTC().Format(time.RFC3339),
		FinishedAt: rep.FinishedAt.UTC().Format(time.RFC3339),
		Total:      rep.Total,
		Failed:     rep.Failed,
		Cancelled:  rep.Cancelled,
		Active:     toJSON(rep.Active),
		Inactive:   toJSON(rep.Inactive),
	}
	return writeAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	})
}
