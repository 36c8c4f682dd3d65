// Package result partitions probe outcomes into active and inactive sets.
package result

import (
	"sync"

	"github.com/hazz-dev/linkprobe/internal/prober"
)

// Aggregator keeps two append-only sequences of outcomes. It is safe for
// concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	active   []prober.Outcome
	inactive []prober.Outcome
}

// Add appends o to the set matching o.Active.
func (a *Aggregator) Add(o prober.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if o.Active {
		a.active = append(a.active, o)
		return
	}
	a.inactive = append(a.inactive, o)
}

// Active returns a copy of the active outcomes in arrival order.
func (a *Aggregator) Active() []prober.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]prober.Outcome(nil), a.active...)
}

// Inactive returns a copy of the inactive outcomes in arrival order.
func (a *Aggregator) Inactive() []prober.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]prober.Outcome(nil), a.inactive...)
}

// Counts returns the sizes of both sets.
func (a *Aggregator) Counts() (active, inactive int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.active), len(a.inactive)
}

// URLs returns the requested URL of each outcome.
func URLs(outcomes []prober.Outcome) []string {
	urls := make([]string, len(outcomes))
	for i, o := range outcomes {
		urls[i] = o.URL
	}
	return urls
}
