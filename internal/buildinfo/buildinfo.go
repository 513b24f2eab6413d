// Package buildinfo exposes the version metadata stamped into the
// binary at link time.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Overridden via -ldflags "-X ..." by the release build; the zero
// values identify a from-source development build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// String returns the one-line banner logged at startup.
func String() string {
	return fmt.Sprintf("reeve %s (%s) built %s", Version, GitCommit, BuildTime)
}

// UserAgent identifies outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("reeve/%s", Version)
}

// Uptime is the time elapsed since process start, truncated to whole
// seconds.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// Info returns build and runtime metadata as a flat map, for the
// version command and the MQTT device attributes.
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}
