// Package buildinfo carries version identifiers stamped at build time.
package buildinfo

import "fmt"

var (
	// GitCommit is set by govvv at build time.
	GitCommit = "n/a"
	// GitBranch  is set by govvv at build time.
	GitBranch = "n/a"
	// GitState  is set by govvv at build time.
	GitState = "n/a"
	// GitSummary is set by govvv at build time.
	GitSummary = "n/a"
	// BuildDate  is set by govvv at build time.
	BuildDate = "n/a"
	// Version  is set by govvv at build time.
	Version = "n/a"
)

// Summary returns a one-line description of the build.
func Summary() string {
	return fmt.Sprintf("%s (commit %s, branch %s, built %s)", Version, GitCommit, GitBranch, BuildDate)
}
