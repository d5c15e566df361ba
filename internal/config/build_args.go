package config

import "fmt"

// Set via ldflags, e.g. -X github/chapool/go-custody/internal/config.Commit=$(git rev-parse HEAD)
var (
	ModuleName = "go-custody"
	Commit     = "< 40 chars git commit hash via ldflags >"
	BuildDate  = "1970-01-01T00:00:00+00:00"
)

// GetFormattedBuildArgs renders the build metadata for --version.
func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%v @ %v (%v)", ModuleName, Commit, BuildDate)
}
