package output

import (
	"bufio"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/hazz-dev/linkprobe/internal/dispatcher"
)

// WriteMarkdown writes a GitHub-flavored summary of rep to path, followed by
// a table of the inactive URLs.
func WriteMarkdown(path string, rep dispatcher.Report) error {
	var b strings.Builder
	b.WriteString("## linkprobe report\n\n")
	b.WriteString(fmt.Sprintf("- **Started**: %s\n", rep.StartedAt.Format("2006-01-02 15:04:05 MST")))
	b.WriteString(fmt.Sprintf("- **Finished**: %s\n", rep.FinishedAt.Format("2006-01-02 15:04:05 MST")))
	b.WriteString(fmt.Sprintf("- **Duration**: %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond)))
	b.WriteString(fmt.Sprintf("- **Total**: %d  •  **Active**: %d  •  **Inactive**: %d\n",
		rep.Total, len(rep.Active), len(rep.Inactive)))
	if rep.Failed > 0 || rep.Cancelled > 0 {
		b.WriteString(fmt.Sprintf("- **Failed**: %d  •  **Cancelled**: %d\n", rep.Failed, rep.Cancelled))
	}
	b.WriteString("\n")

	b.WriteString("### Inactive URLs\n\n")
	if len(rep.Inactive) == 0 {
		b.WriteString("None.\n")
	} else {
		inactive := append(rep.Inactive[:0:0], rep.Inactive...)
		sort.Slice(inactive, func(i, j int) bool { return inactive[i].URL < inactive[j].URL })

		b.WriteString("| URL | Status | Error | Attempts |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, o := range inactive {
			status := "-"
			if o.StatusCode > 0 {
				status = fmt.Sprintf("%d", o.StatusCode)
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %d |\n",
				escapeMD(o.URL), status, escapeMD(o.Error), o.Attempts))
		}
	}

	return writeAtomic(path, func(w *bufio.Writer) error {
		_, err := w.WriteString(b.String())
		return err
	})
}

func escapeMD(s string) string {
	return strings.ReplaceAll(html.EscapeString(s), "|", "&#124;")
}
