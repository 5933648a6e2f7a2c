// Package buildinfo holds version and build metadata stamped at compile time via ldflags.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// These variables are set at build time via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

// startTime records when the process started.
var startTime = time.Now()

// Info returns all build and runtime info as a map.
func Info() map[string]string {
	info := RuntimeInfo()
	info["version"] = Version
	info["git_commit"] = GitCommit
	info["git_branch"] = GitBranch
	info["build_time"] = BuildTime
	info["uptime"] = Uptime().String()
	return info
}

// RuntimeInfo returns Go runtime details only.
func RuntimeInfo() map[string]string {
	return map[string]string{
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent returns the User-Agent string for outbound HTTP requests.
func UserAgent() string {
	return fmt.Sprintf("Tollgate/%s (+https://github.com/nugget/tollgate)", Version)
}

// String returns a one-line summary for logging.
func String() string {
	return fmt.Sprintf("Tollgate %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
