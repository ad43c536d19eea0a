package buildinfo

import "runtime"

var (
	// GitCommit is set at build time with -ldflags.
	GitCommit = "n/a"
	// GitBranch is set at build time with -ldflags.
	GitBranch = "n/a"
	// BuildDate is set at build time with -ldflags.
	BuildDate = "n/a"
	// Version is set at build time with -ldflags.
	Version = "n/a"
)

// Summary provides a summary of the build information of the binary.
type Summary struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// GetSummary returns the build information.
func GetSummary() Summary {
	return Summary{
		Version:   Version,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
	}
}
