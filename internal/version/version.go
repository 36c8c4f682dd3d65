// Package version holds build information printed by `linkprobe version`.
package version

// Set at build time, e.g.
//
//	go build -ldflags "-X github.com/hazz-dev/linkprobe/internal/version.Version=v1.2.0"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
